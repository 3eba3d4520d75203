package client

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/parley/pkg/auth"
	"github.com/go-go-golems/parley/pkg/chat"
)

// TokenSource yields the bearer token to attach to authenticated requests. The
// token is read at the moment of sending, so a mid-flight logout affects only
// future requests.
type TokenSource interface {
	Token() string
}

// Client talks to the session REST API. It performs no retries; every failure
// surfaces to the caller as a single error.
type Client struct {
	rc  *resty.Client
	tok TokenSource
	log zerolog.Logger
}

var _ chat.API = (*Client)(nil)

func New(baseURL string, tok TokenSource) *Client {
	rc := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(30 * time.Second).
		SetHeader("Content-Type", "application/json")
	return &Client{
		rc:  rc,
		tok: tok,
		log: log.With().Str("component", "api_client").Logger(),
	}
}

func (c *Client) authed(ctx context.Context) *resty.Request {
	r := c.rc.R().SetContext(ctx)
	if c.tok != nil {
		if t := c.tok.Token(); t != "" {
			r.SetHeader("Authorization", "Bearer "+t)
		}
	}
	return r
}

// statusErr maps the distinguished HTTP statuses onto the domain sentinels.
func statusErr(res *resty.Response) error {
	switch res.StatusCode() {
	case http.StatusUnauthorized:
		return chat.ErrUnauthorized
	case http.StatusNotFound:
		return chat.ErrNotFound
	default:
		return errors.Errorf("server returned %d: %s", res.StatusCode(), strings.TrimSpace(res.String()))
	}
}

// ListSessions fetches the authoritative session list in server order.
func (c *Client) ListSessions(ctx context.Context) ([]chat.Session, error) {
	var sessions []chat.Session
	res, err := c.authed(ctx).
		SetResult(&sessions).
		Get("/api/sessions")
	if err != nil {
		return nil, errors.Wrap(err, "list sessions")
	}
	if !res.IsSuccess() {
		c.log.Debug().Int("status", res.StatusCode()).Msg("list sessions failed")
		return nil, statusErr(res)
	}
	return sessions, nil
}

// FetchHistory fetches the full ordered message log of a session.
func (c *Client) FetchHistory(ctx context.Context, sessionID int64) ([]chat.Message, error) {
	var messages []chat.Message
	res, err := c.authed(ctx).
		SetResult(&messages).
		SetPathParam("id", strconv.FormatInt(sessionID, 10)).
		Get("/api/sessions/{id}/messages")
	if err != nil {
		return nil, errors.Wrapf(err, "fetch history for session %d", sessionID)
	}
	if !res.IsSuccess() {
		c.log.Debug().Int("status", res.StatusCode()).Int64("session_id", sessionID).Msg("fetch history failed")
		return nil, statusErr(res)
	}
	return messages, nil
}

// CreateSession creates a named session. An empty name is a local validation
// failure and is never sent to the network.
func (c *Client) CreateSession(ctx context.Context, name string) (chat.Session, error) {
	if strings.TrimSpace(name) == "" {
		return chat.Session{}, chat.ErrEmptyName
	}
	var session chat.Session
	res, err := c.authed(ctx).
		SetBody(map[string]string{"name": name}).
		SetResult(&session).
		Post("/api/sessions")
	if err != nil {
		return chat.Session{}, errors.Wrapf(err, "create session %q", name)
	}
	if !res.IsSuccess() {
		return chat.Session{}, statusErr(res)
	}
	return session, nil
}

// authResponse is the wire shape of login and registration replies.
type authResponse struct {
	AccessToken string    `json:"access_token"`
	User        auth.User `json:"user"`
}

func (r authResponse) session() (*auth.AuthSession, error) {
	if r.AccessToken == "" {
		return nil, errors.New("server reply is missing access_token")
	}
	return &auth.AuthSession{Token: r.AccessToken, User: r.User}, nil
}

// Login exchanges credentials for an AuthSession. Unauthenticated.
func (c *Client) Login(ctx context.Context, username, password string) (*auth.AuthSession, error) {
	var out authResponse
	res, err := c.rc.R().SetContext(ctx).
		SetBody(map[string]string{"username": username, "password": password}).
		SetResult(&out).
		Post("/api/login")
	if err != nil {
		return nil, errors.Wrap(err, "login")
	}
	if !res.IsSuccess() {
		return nil, statusErr(res)
	}
	return out.session()
}

// Register creates an account and returns its AuthSession. Unauthenticated;
// email may be empty.
func (c *Client) Register(ctx context.Context, username, password, email string) (*auth.AuthSession, error) {
	body := map[string]string{"username": username, "password": password}
	if email != "" {
		body["email"] = email
	}
	var out authResponse
	res, err := c.rc.R().SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post("/api/register")
	if err != nil {
		return nil, errors.Wrap(err, "register")
	}
	if !res.IsSuccess() {
		return nil, statusErr(res)
	}
	return out.session()
}
