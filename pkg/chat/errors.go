package chat

import "github.com/pkg/errors"

var (
	// ErrUnauthorized is returned when the server rejects the bearer token.
	// Callers must treat it as a hard logout trigger, never as retryable.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound is returned when a session no longer exists on the server.
	ErrNotFound = errors.New("not found")

	// ErrNotLoggedIn is returned for authenticated operations while no
	// credentials are held.
	ErrNotLoggedIn = errors.New("not logged in")

	// ErrEmptyName rejects session creation before any network call.
	ErrEmptyName = errors.New("session name is empty")

	// ErrEmptyPrompt rejects prompt submission before any network call.
	ErrEmptyPrompt = errors.New("prompt is empty")

	// ErrExchangeActive is returned when a prompt is submitted while a
	// streaming exchange is still open.
	ErrExchangeActive = errors.New("an exchange is already in flight")
)
