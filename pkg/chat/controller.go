package chat

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/parley/pkg/auth"
)

// Phase tracks where the controller is in the prompt lifecycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSending
	PhaseStreaming
	PhaseReconciling
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSending:
		return "sending"
	case PhaseStreaming:
		return "streaming"
	case PhaseReconciling:
		return "reconciling"
	default:
		return "unknown"
	}
}

// API is the slice of the REST surface the controller drives.
type API interface {
	ListSessions(ctx context.Context) ([]Session, error)
	FetchHistory(ctx context.Context, sessionID int64) ([]Message, error)
	CreateSession(ctx context.Context, name string) (Session, error)
	Login(ctx context.Context, username, password string) (*auth.AuthSession, error)
	Register(ctx context.Context, username, password, email string) (*auth.AuthSession, error)
}

// CredentialStore persists the AuthSession across runs.
type CredentialStore interface {
	Save(*auth.AuthSession) error
	Clear() error
}

// State is a point-in-time copy of the controller's view, safe for rendering.
type State struct {
	LoggedIn bool
	User     auth.User
	Sessions []Session
	Selected *Session
	Messages []Message
	Phase    Phase
}

// Controller owns the in-memory session list, the current selection, and the
// ordered message log, and drives merges between REST responses and streaming
// fragments. All state lives behind one mutex; callers are the UI event loop,
// CLI commands, and the per-exchange event pump.
//
// The log is replaced wholesale at reconciliation points, never incrementally
// patched against server state.
type Controller struct {
	api    API
	opener Opener
	creds  CredentialStore
	log    zerolog.Logger

	notifyMu sync.Mutex
	notify   func()

	mu       sync.Mutex
	authSess *auth.AuthSession
	sessions []Session
	selected *Session
	messages []Message
	phase    Phase
	exchange *Exchange
}

type Option func(*Controller)

// WithAuthSession seeds the controller with credentials loaded at startup.
func WithAuthSession(as *auth.AuthSession) Option {
	return func(c *Controller) { c.authSess = as }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

func New(api API, opener Opener, creds CredentialStore, opts ...Option) *Controller {
	c := &Controller{
		api:    api,
		opener: opener,
		creds:  creds,
		log:    log.With().Str("component", "controller").Logger(),
		phase:  PhaseIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetNotify registers a callback invoked after every state change. It is
// called without the state lock held, so the callback may read Snapshot.
func (c *Controller) SetNotify(f func()) {
	c.notifyMu.Lock()
	c.notify = f
	c.notifyMu.Unlock()
}

func (c *Controller) changed() {
	c.notifyMu.Lock()
	f := c.notify
	c.notifyMu.Unlock()
	if f != nil {
		f()
	}
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := State{
		Sessions: append([]Session(nil), c.sessions...),
		Messages: append([]Message(nil), c.messages...),
		Phase:    c.phase,
	}
	if c.authSess != nil {
		st.LoggedIn = true
		st.User = c.authSess.User
	}
	if c.selected != nil {
		sel := *c.selected
		st.Selected = &sel
	}
	return st
}

func (c *Controller) token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.authSess == nil {
		return ""
	}
	return c.authSess.Token
}

// Token implements client.TokenSource so the controller's cached credentials
// authorize every outbound request at the moment of sending.
func (c *Controller) Token() string { return c.token() }

// Login exchanges credentials for an AuthSession, persists it, and loads the
// session list, auto-selecting the first entry when present.
func (c *Controller) Login(ctx context.Context, username, password string) error {
	as, err := c.api.Login(ctx, username, password)
	if err != nil {
		return errors.Wrap(err, "login")
	}
	c.adoptAuthSession(as)
	if err := c.loadSessions(ctx, true); err != nil {
		// The user is logged in; a failed initial list load keeps an empty
		// sidebar until the next refresh.
		c.log.Warn().Err(err).Msg("initial session list load failed")
	}
	return nil
}

// Register creates an account and then behaves exactly like Login.
func (c *Controller) Register(ctx context.Context, username, password, email string) error {
	as, err := c.api.Register(ctx, username, password, email)
	if err != nil {
		return errors.Wrap(err, "register")
	}
	c.adoptAuthSession(as)
	if err := c.loadSessions(ctx, true); err != nil {
		c.log.Warn().Err(err).Msg("initial session list load failed")
	}
	return nil
}

func (c *Controller) adoptAuthSession(as *auth.AuthSession) {
	c.mu.Lock()
	c.authSess = as
	c.mu.Unlock()
	if c.creds != nil {
		if err := c.creds.Save(as); err != nil {
			c.log.Warn().Err(err).Msg("could not persist credentials")
		}
	}
	c.changed()
}

// Logout clears the AuthSession, the session list, and the message log, and
// abandons any open exchange.
func (c *Controller) Logout() {
	c.mu.Lock()
	ex := c.exchange
	c.exchange = nil
	c.clearAuthStateLocked()
	c.mu.Unlock()

	if ex != nil {
		ex.Close()
	}
	if c.creds != nil {
		if err := c.creds.Clear(); err != nil {
			c.log.Warn().Err(err).Msg("could not clear persisted credentials")
		}
	}
	c.changed()
}

// forceLogout handles an Unauthorized response from any authenticated call:
// it unconditionally clears AuthSession, session list, and message log. An
// already-open exchange is left alone; an invalidated token only affects
// future REST calls.
func (c *Controller) forceLogout() {
	c.log.Info().Msg("token rejected by server, clearing credentials")
	c.mu.Lock()
	c.clearAuthStateLocked()
	c.mu.Unlock()

	if c.creds != nil {
		if err := c.creds.Clear(); err != nil {
			c.log.Warn().Err(err).Msg("could not clear persisted credentials")
		}
	}
	c.changed()
}

func (c *Controller) clearAuthStateLocked() {
	c.authSess = nil
	c.sessions = nil
	c.selected = nil
	c.messages = nil
	c.phase = PhaseIdle
}

// RefreshSessions refetches the authoritative session list. Network failures
// preserve the previous snapshot; Unauthorized forces a logout.
func (c *Controller) RefreshSessions(ctx context.Context) error {
	return c.loadSessions(ctx, false)
}

func (c *Controller) loadSessions(ctx context.Context, autoSelect bool) error {
	sessions, err := c.api.ListSessions(ctx)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			c.forceLogout()
			return ErrUnauthorized
		}
		c.log.Warn().Err(err).Msg("session list refresh failed, keeping previous list")
		return err
	}
	c.applySessionList(sessions)

	if autoSelect {
		c.mu.Lock()
		noneSelected := c.selected == nil
		var firstID int64
		if len(c.sessions) > 0 {
			firstID = c.sessions[0].ID
		}
		c.mu.Unlock()
		if noneSelected && firstID != 0 {
			return c.SelectSession(ctx, firstID)
		}
	}
	return nil
}

// applySessionList replaces the session list with the server's ordering and
// re-points the selection at the refreshed entry. A selection that vanished
// from the list is left stale rather than cleared.
func (c *Controller) applySessionList(sessions []Session) {
	c.mu.Lock()
	c.sessions = sessions
	if c.selected != nil {
		for _, s := range sessions {
			if s.ID == c.selected.ID {
				sel := s
				c.selected = &sel
				break
			}
		}
	}
	c.mu.Unlock()
	c.changed()
}

// SelectSession makes a session current and replaces the message log with its
// full history. A session that no longer exists on the server shows as empty
// history rather than an error.
func (c *Controller) SelectSession(ctx context.Context, sessionID int64) error {
	c.mu.Lock()
	var target *Session
	for _, s := range c.sessions {
		if s.ID == sessionID {
			sel := s
			target = &sel
			break
		}
	}
	if target == nil {
		c.mu.Unlock()
		return errors.Errorf("unknown session %d", sessionID)
	}
	c.selected = target
	c.mu.Unlock()
	c.changed()

	return c.reloadHistory(ctx, sessionID)
}

// reloadHistory fetches a session's history and replaces the log wholesale,
// as long as that session is still the selected one by the time the response
// arrives.
func (c *Controller) reloadHistory(ctx context.Context, sessionID int64) error {
	history, err := c.api.FetchHistory(ctx, sessionID)
	switch {
	case errors.Is(err, ErrUnauthorized):
		c.forceLogout()
		return ErrUnauthorized
	case errors.Is(err, ErrNotFound):
		history = nil
	case err != nil:
		c.log.Warn().Err(err).Int64("session_id", sessionID).Msg("history fetch failed, keeping previous log")
		return nil
	}

	c.mu.Lock()
	if c.authSess != nil && c.selected != nil && c.selected.ID == sessionID {
		c.messages = history
	}
	c.mu.Unlock()
	c.changed()
	return nil
}

// CreateSession creates a named session and selects it. An empty name is
// rejected locally with no side effect.
func (c *Controller) CreateSession(ctx context.Context, name string) (Session, error) {
	if trimmed(name) == "" {
		return Session{}, ErrEmptyName
	}
	s, err := c.api.CreateSession(ctx, name)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			c.forceLogout()
			return Session{}, ErrUnauthorized
		}
		return Session{}, errors.Wrapf(err, "create session %q", name)
	}
	if err := c.loadSessions(ctx, false); err != nil && !errors.Is(err, ErrUnauthorized) {
		c.log.Warn().Err(err).Msg("session list refresh after create failed")
	}
	c.ensureListed(s)
	if err := c.SelectSession(ctx, s.ID); err != nil {
		return s, err
	}
	return s, nil
}

// ensureListed guarantees a just-created session appears in the local list
// even when the follow-up list refresh failed.
func (c *Controller) ensureListed(s Session) {
	c.mu.Lock()
	found := false
	for _, existing := range c.sessions {
		if existing.ID == s.ID {
			found = true
			break
		}
	}
	if !found {
		c.sessions = append(c.sessions, s)
	}
	c.mu.Unlock()
}

// SubmitPrompt runs the Sending phase: it ensures a concrete target session
// (creating a default-named one when nothing is selected), optimistically
// appends the user message plus an empty assistant placeholder, and opens the
// streaming channel. The caller must consume the returned exchange's events,
// normally via Pump.
//
// Only one exchange may be open at a time; a second submission fails with
// ErrExchangeActive and leaves all state untouched.
func (c *Controller) SubmitPrompt(ctx context.Context, prompt string) (*Exchange, error) {
	if trimmed(prompt) == "" {
		return nil, ErrEmptyPrompt
	}

	c.mu.Lock()
	if c.authSess == nil {
		c.mu.Unlock()
		return nil, ErrNotLoggedIn
	}
	if c.exchange != nil || c.phase != PhaseIdle {
		c.mu.Unlock()
		return nil, ErrExchangeActive
	}
	c.phase = PhaseSending
	token := c.authSess.Token
	var target *Session
	if c.selected != nil {
		sel := *c.selected
		target = &sel
	}
	c.mu.Unlock()
	c.changed()

	if target == nil {
		created, err := c.ensureDefaultSession(ctx)
		if err != nil {
			c.setPhase(PhaseIdle)
			return nil, err
		}
		target = created
	}

	c.mu.Lock()
	c.messages = append(c.messages,
		Message{Role: RoleUser, Content: prompt},
		Message{Role: RoleAssistant, Content: ""},
	)
	c.mu.Unlock()
	c.changed()

	ex, err := c.opener.Open(ctx, OpenRequest{
		Prompt:      prompt,
		SessionID:   target.ID,
		SessionName: target.Name,
		Token:       token,
	})
	if err != nil {
		// The optimistic placeholder stays visible; the design favors
		// showing progress over hiding it.
		c.log.Warn().Err(err).Int64("session_id", target.ID).Msg("could not open streaming channel")
		c.setPhase(PhaseIdle)
		return nil, errors.Wrap(err, "open streaming channel")
	}

	c.mu.Lock()
	c.exchange = ex
	c.phase = PhaseStreaming
	c.mu.Unlock()
	c.changed()

	c.log.Debug().
		Str("exchange_id", ex.ID).
		Int64("session_id", target.ID).
		Msg("exchange opened")
	return ex, nil
}

// ensureDefaultSession creates and selects a default-named session so the
// very first message of a conversation has a concrete session target before
// the channel opens.
func (c *Controller) ensureDefaultSession(ctx context.Context) (*Session, error) {
	s, err := c.api.CreateSession(ctx, "default")
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			c.forceLogout()
			return nil, ErrUnauthorized
		}
		return nil, errors.Wrap(err, "create default session")
	}
	if err := c.loadSessions(ctx, false); err != nil && !errors.Is(err, ErrUnauthorized) {
		c.log.Warn().Err(err).Msg("session list refresh after implicit create failed")
	}
	c.ensureListed(s)

	c.mu.Lock()
	if c.authSess == nil {
		c.mu.Unlock()
		return nil, ErrUnauthorized
	}
	sel := s
	c.selected = &sel
	c.mu.Unlock()
	c.changed()

	target := s
	return &target, nil
}

func (c *Controller) setPhase(p Phase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
	c.changed()
}

// Pump consumes an exchange's event stream until the channel closes. It is
// the single handler loop for that exchange; running it on one goroutine
// keeps chunk application in arrival order.
func (c *Controller) Pump(ctx context.Context, ex *Exchange) {
	for ev := range ex.Events() {
		c.HandleEvent(ctx, ev)
	}
}

// HandleEvent applies one streaming event to the conversation state.
func (c *Controller) HandleEvent(ctx context.Context, ev Event) {
	switch e := ev.(type) {
	case ChunkEvent:
		c.applyChunk(e)
	case DoneEvent:
		c.reconcile(ctx, e)
	case ClosedEvent:
		c.finishExchange(e)
	default:
		c.log.Debug().Str("type", string(ev.Type())).Msg("ignoring unexpected event")
	}
}

// applyChunk appends a fragment to the in-progress assistant placeholder,
// which is always the last log element while an exchange is streaming.
// Fragments whose exchange no longer targets the selected session are
// discarded; switching sessions mid-stream must not graft the reply onto a
// foreign log.
func (c *Controller) applyChunk(e ChunkEvent) {
	c.mu.Lock()
	if c.exchange == nil || c.exchange.ID != e.ExchangeID {
		c.mu.Unlock()
		c.log.Debug().Str("exchange_id", e.ExchangeID).Msg("dropping chunk from stale exchange")
		return
	}
	if c.phase != PhaseStreaming {
		phase := c.phase
		c.mu.Unlock()
		c.log.Debug().Stringer("phase", phase).Msg("dropping chunk outside streaming phase")
		return
	}
	if c.selected == nil || c.selected.ID != c.exchange.SessionID {
		target := c.exchange.SessionID
		c.mu.Unlock()
		c.log.Debug().
			Int64("exchange_session", target).
			Msg("dropping chunk, selection moved away from exchange target")
		return
	}
	if len(c.messages) == 0 || c.messages[len(c.messages)-1].Role != RoleAssistant {
		c.mu.Unlock()
		c.log.Error().Msg("dropping chunk, log does not end in an assistant placeholder")
		return
	}
	c.messages[len(c.messages)-1].Content += e.Text
	c.mu.Unlock()
	c.changed()
}

// reconcile handles the terminal done signal: the session list is refetched
// to pick up implicit creation and server-side ordering, and the message log
// is replaced wholesale with the server's history for the signaled session.
// This is the sole point where optimistic local state is discarded in favor
// of authoritative state.
func (c *Controller) reconcile(ctx context.Context, e DoneEvent) {
	c.mu.Lock()
	if c.exchange == nil || c.exchange.ID != e.ExchangeID {
		c.mu.Unlock()
		c.log.Debug().Str("exchange_id", e.ExchangeID).Msg("dropping done from stale exchange")
		return
	}
	if c.authSess == nil || c.phase != PhaseStreaming {
		c.phase = PhaseIdle
		c.mu.Unlock()
		return
	}
	targetMatches := c.selected != nil && c.selected.ID == c.exchange.SessionID
	c.phase = PhaseReconciling
	c.mu.Unlock()
	c.changed()

	sessions, err := c.api.ListSessions(ctx)
	switch {
	case errors.Is(err, ErrUnauthorized):
		c.forceLogout()
		return
	case err != nil:
		c.log.Warn().Err(err).Msg("session list refresh after done failed")
	default:
		c.applySessionList(sessions)
	}

	if !targetMatches {
		// The user switched sessions mid-stream; the foreign history must
		// not replace the visible log.
		c.log.Debug().Int64("session_id", e.SessionID).Msg("skipping history reconciliation, selection moved away")
		c.setPhase(PhaseIdle)
		return
	}

	c.repointSelection(e.SessionID)

	history, err := c.api.FetchHistory(ctx, e.SessionID)
	switch {
	case errors.Is(err, ErrUnauthorized):
		c.forceLogout()
		return
	case errors.Is(err, ErrNotFound):
		history = nil
	case err != nil:
		c.log.Warn().Err(err).Int64("session_id", e.SessionID).Msg("reconciliation fetch failed, keeping optimistic log")
		c.setPhase(PhaseIdle)
		return
	}

	c.mu.Lock()
	if c.authSess != nil {
		c.messages = history
	}
	c.phase = PhaseIdle
	c.mu.Unlock()
	c.changed()
}

// repointSelection moves the selection to the signaled session when the
// refreshed list contains it. A signaled id missing from the list leaves the
// selection unchanged rather than failing.
func (c *Controller) repointSelection(sessionID int64) {
	c.mu.Lock()
	for _, s := range c.sessions {
		if s.ID == sessionID {
			sel := s
			c.selected = &sel
			break
		}
	}
	c.mu.Unlock()
	c.changed()
}

// finishExchange handles channel shutdown. A close without a preceding done
// keeps the partially-built reply as final content; no reconciliation fetch
// happens and nothing is surfaced beyond a diagnostic.
func (c *Controller) finishExchange(e ClosedEvent) {
	c.mu.Lock()
	if c.exchange == nil || c.exchange.ID != e.ExchangeID {
		c.mu.Unlock()
		c.log.Debug().Str("exchange_id", e.ExchangeID).Msg("ignoring close from stale exchange")
		return
	}
	if c.phase == PhaseStreaming {
		c.log.Debug().Err(e.Err).Msg("channel closed without done, keeping partial reply")
		c.phase = PhaseIdle
	}
	c.exchange = nil
	c.mu.Unlock()
	c.changed()
}

func trimmed(s string) string { return strings.TrimSpace(s) }
