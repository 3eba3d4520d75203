package chat_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/parley/pkg/auth"
	"github.com/go-go-golems/parley/pkg/chat"
)

type fakeAPI struct {
	mu        sync.Mutex
	sessions  []chat.Session
	histories map[int64][]chat.Message
	nextID    int64

	listErr    error
	historyErr error
	createErr  error
	loginErr   error

	listCalls    int
	historyCalls int
	createCalls  int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{histories: map[int64][]chat.Message{}, nextID: 100}
}

func (f *fakeAPI) ListSessions(_ context.Context) ([]chat.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]chat.Session(nil), f.sessions...), nil
}

func (f *fakeAPI) FetchHistory(_ context.Context, sessionID int64) ([]chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.historyCalls++
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	history, ok := f.histories[sessionID]
	if !ok {
		return nil, chat.ErrNotFound
	}
	return append([]chat.Message(nil), history...), nil
}

func (f *fakeAPI) CreateSession(_ context.Context, name string) (chat.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return chat.Session{}, f.createErr
	}
	f.nextID++
	s := chat.Session{ID: f.nextID, Name: name}
	f.sessions = append(f.sessions, s)
	f.histories[s.ID] = nil
	return s, nil
}

func (f *fakeAPI) Login(_ context.Context, username, _ string) (*auth.AuthSession, error) {
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return &auth.AuthSession{Token: "tok-" + username, User: auth.User{ID: 1, Username: username}}, nil
}

func (f *fakeAPI) Register(ctx context.Context, username, password, _ string) (*auth.AuthSession, error) {
	return f.Login(ctx, username, password)
}

type fakeCreds struct {
	mu         sync.Mutex
	saved      *auth.AuthSession
	saveCalls  int
	clearCalls int
}

func (f *fakeCreds) Save(as *auth.AuthSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = as
	f.saveCalls++
	return nil
}

func (f *fakeCreds) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = nil
	f.clearCalls++
	return nil
}

func (f *fakeCreds) current() *auth.AuthSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saved
}

// streamServer is a scripted websocket endpoint: it records the control frame
// and then runs the per-connection script.
type streamServer struct {
	*httptest.Server
	controls chan map[string]any
}

func newStreamServer(t *testing.T, script func(conn *websocket.Conn)) *streamServer {
	t.Helper()
	upgrader := websocket.Upgrader{}
	s := &streamServer{controls: make(chan map[string]any, 4)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/ws/chat", r.URL.Path)
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer func() { _ = conn.Close() }()

		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var control map[string]any
		require.NoError(t, json.Unmarshal(data, &control))
		s.controls <- control

		if script != nil {
			script(conn)
		}
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	t.Cleanup(s.Close)
	return s
}

func sendFrame(conn *websocket.Conn, v any) {
	_ = conn.WriteJSON(v)
}

func newTestController(t *testing.T, api *fakeAPI, serverURL string) (*chat.Controller, *fakeCreds) {
	t.Helper()
	creds := &fakeCreds{}
	ctrl := chat.New(api, chat.NewDialer(serverURL), creds)
	return ctrl, creds
}

func login(t *testing.T, ctrl *chat.Controller) {
	t.Helper()
	require.NoError(t, ctrl.Login(context.Background(), "alice", "pw"))
}

func TestLoginLoadsSessionsAndAutoSelectsFirst(t *testing.T) {
	api := newFakeAPI()
	api.sessions = []chat.Session{{ID: 1, Name: "A"}, {ID: 2, Name: "B"}}
	api.histories[1] = []chat.Message{{Role: chat.RoleUser, Content: "earlier"}}
	ctrl, creds := newTestController(t, api, "http://unused")

	login(t, ctrl)

	st := ctrl.Snapshot()
	assert.True(t, st.LoggedIn)
	assert.Equal(t, "alice", st.User.Username)
	assert.Equal(t, api.sessions, st.Sessions)
	require.NotNil(t, st.Selected)
	assert.Equal(t, int64(1), st.Selected.ID)
	assert.Equal(t, api.histories[1], st.Messages)
	require.NotNil(t, creds.current())
	assert.Equal(t, "tok-alice", creds.current().Token)
}

func TestSubmitPromptStreamsChunksInOrderAndKeepsPartialOnDrop(t *testing.T) {
	api := newFakeAPI()
	api.sessions = []chat.Session{{ID: 1, Name: "A"}}
	api.histories[1] = nil
	srv := newStreamServer(t, func(conn *websocket.Conn) {
		sendFrame(conn, map[string]any{"type": "chunk", "text": "He"})
		sendFrame(conn, map[string]any{"type": "chunk", "text": "llo"})
		// no done frame: the channel just closes
	})
	ctrl, _ := newTestController(t, api, srv.URL)
	login(t, ctrl)
	historyCallsBefore := api.historyCalls

	ex, err := ctrl.SubmitPrompt(context.Background(), "hi")
	require.NoError(t, err)
	ctrl.Pump(context.Background(), ex)

	st := ctrl.Snapshot()
	require.Len(t, st.Messages, 2)
	assert.Equal(t, chat.Message{Role: chat.RoleUser, Content: "hi"}, st.Messages[0])
	assert.Equal(t, chat.Message{Role: chat.RoleAssistant, Content: "Hello"}, st.Messages[1])
	assert.Equal(t, chat.PhaseIdle, st.Phase)
	// close without done means no reconciliation fetch
	assert.Equal(t, historyCallsBefore, api.historyCalls)
}

func TestSubmitPromptCreatesDefaultSessionFirst(t *testing.T) {
	api := newFakeAPI()
	srv := newStreamServer(t, nil)
	ctrl, _ := newTestController(t, api, srv.URL)
	login(t, ctrl)

	st := ctrl.Snapshot()
	require.Nil(t, st.Selected)

	ex, err := ctrl.SubmitPrompt(context.Background(), "hi")
	require.NoError(t, err)
	ctrl.Pump(context.Background(), ex)

	require.Equal(t, 1, api.createCalls)
	st = ctrl.Snapshot()
	require.NotNil(t, st.Selected)
	assert.Equal(t, "default", st.Selected.Name)

	control := <-srv.controls
	assert.Equal(t, "hi", control["prompt"])
	assert.Equal(t, float64(st.Selected.ID), control["session_id"])
	assert.Equal(t, "default", control["session_name"])
	assert.Equal(t, "tok-alice", control["token"])
}

func TestUnauthorizedClearsEverything(t *testing.T) {
	api := newFakeAPI()
	api.sessions = []chat.Session{{ID: 1, Name: "A"}}
	api.histories[1] = []chat.Message{{Role: chat.RoleUser, Content: "x"}}
	ctrl, creds := newTestController(t, api, "http://unused")
	login(t, ctrl)
	require.True(t, ctrl.Snapshot().LoggedIn)

	api.mu.Lock()
	api.listErr = chat.ErrUnauthorized
	api.mu.Unlock()

	err := ctrl.RefreshSessions(context.Background())
	require.ErrorIs(t, err, chat.ErrUnauthorized)

	st := ctrl.Snapshot()
	assert.False(t, st.LoggedIn)
	assert.Empty(t, st.Sessions)
	assert.Nil(t, st.Selected)
	assert.Empty(t, st.Messages)
	assert.Nil(t, creds.current())
	assert.GreaterOrEqual(t, creds.clearCalls, 1)
}

func TestDoneReplacesLogWithServerHistory(t *testing.T) {
	api := newFakeAPI()
	api.sessions = []chat.Session{{ID: 1, Name: "A"}}
	api.histories[1] = nil
	srv := newStreamServer(t, func(conn *websocket.Conn) {
		sendFrame(conn, map[string]any{"type": "chunk", "text": "He"})
		sendFrame(conn, map[string]any{"type": "chunk", "text": "llo"})
		sendFrame(conn, map[string]any{"type": "done", "session_id": 1})
	})
	ctrl, _ := newTestController(t, api, srv.URL)
	login(t, ctrl)

	// the server trims the optimistic content however it likes; the fetched
	// history wins wholesale
	api.mu.Lock()
	api.histories[1] = []chat.Message{
		{Role: chat.RoleUser, Content: "hi"},
		{Role: chat.RoleAssistant, Content: "Hello"},
	}
	api.mu.Unlock()
	listCallsBefore := api.listCalls

	ex, err := ctrl.SubmitPrompt(context.Background(), "hi")
	require.NoError(t, err)
	ctrl.Pump(context.Background(), ex)

	st := ctrl.Snapshot()
	assert.Equal(t, []chat.Message{
		{Role: chat.RoleUser, Content: "hi"},
		{Role: chat.RoleAssistant, Content: "Hello"},
	}, st.Messages)
	assert.Equal(t, chat.PhaseIdle, st.Phase)
	assert.Greater(t, api.listCalls, listCallsBefore)
}

func TestCreateSessionEmptyNameRejected(t *testing.T) {
	api := newFakeAPI()
	api.sessions = []chat.Session{{ID: 1, Name: "A"}}
	api.histories[1] = nil
	ctrl, _ := newTestController(t, api, "http://unused")
	login(t, ctrl)
	before := ctrl.Snapshot().Sessions

	for _, name := range []string{"", "   ", "\t\n"} {
		_, err := ctrl.CreateSession(context.Background(), name)
		require.ErrorIs(t, err, chat.ErrEmptyName)
	}

	assert.Equal(t, 0, api.createCalls)
	assert.Equal(t, before, ctrl.Snapshot().Sessions)
}

func TestSubmitPromptEmptyRejected(t *testing.T) {
	api := newFakeAPI()
	ctrl, _ := newTestController(t, api, "http://unused")
	login(t, ctrl)

	_, err := ctrl.SubmitPrompt(context.Background(), "   ")
	require.ErrorIs(t, err, chat.ErrEmptyPrompt)
	assert.Empty(t, ctrl.Snapshot().Messages)
	assert.Equal(t, 0, api.createCalls)
}

func TestSecondSubmitWhileStreamingRejected(t *testing.T) {
	api := newFakeAPI()
	api.sessions = []chat.Session{{ID: 1, Name: "A"}}
	api.histories[1] = nil
	release := make(chan struct{})
	srv := newStreamServer(t, func(conn *websocket.Conn) {
		<-release
	})
	ctrl, _ := newTestController(t, api, srv.URL)
	login(t, ctrl)

	ex, err := ctrl.SubmitPrompt(context.Background(), "first")
	require.NoError(t, err)

	_, err = ctrl.SubmitPrompt(context.Background(), "second")
	require.ErrorIs(t, err, chat.ErrExchangeActive)

	// the rejected submission must not have touched the log
	st := ctrl.Snapshot()
	require.Len(t, st.Messages, 2)
	assert.Equal(t, "first", st.Messages[0].Content)

	close(release)
	ctrl.Pump(context.Background(), ex)
	assert.Equal(t, chat.PhaseIdle, ctrl.Snapshot().Phase)
}

func TestSessionSwitchMidStreamDropsForeignChunks(t *testing.T) {
	api := newFakeAPI()
	api.sessions = []chat.Session{{ID: 1, Name: "A"}, {ID: 2, Name: "B"}}
	api.histories[1] = nil
	api.histories[2] = []chat.Message{{Role: chat.RoleUser, Content: "other thread"}}
	release := make(chan struct{})
	srv := newStreamServer(t, func(conn *websocket.Conn) {
		<-release
	})
	ctrl, _ := newTestController(t, api, srv.URL)
	login(t, ctrl)

	ctx := context.Background()
	ex, err := ctrl.SubmitPrompt(ctx, "hi")
	require.NoError(t, err)

	ctrl.HandleEvent(ctx, chat.ChunkEvent{ExchangeID: ex.ID, Text: "He"})

	// switch away while the exchange is still streaming
	require.NoError(t, ctrl.SelectSession(ctx, 2))
	assert.Equal(t, api.histories[2], ctrl.Snapshot().Messages)

	// chunks targeting session 1 no longer apply
	ctrl.HandleEvent(ctx, chat.ChunkEvent{ExchangeID: ex.ID, Text: "llo"})
	assert.Equal(t, api.histories[2], ctrl.Snapshot().Messages)

	// done still refreshes the list but does not load session 1's history
	// over the visible log
	api.mu.Lock()
	api.histories[1] = []chat.Message{
		{Role: chat.RoleUser, Content: "hi"},
		{Role: chat.RoleAssistant, Content: "Hello"},
	}
	api.mu.Unlock()
	historyCallsBefore := api.historyCalls
	listCallsBefore := api.listCalls
	ctrl.HandleEvent(ctx, chat.DoneEvent{ExchangeID: ex.ID, SessionID: 1})

	st := ctrl.Snapshot()
	assert.Equal(t, api.histories[2], st.Messages)
	require.NotNil(t, st.Selected)
	assert.Equal(t, int64(2), st.Selected.ID)
	assert.Equal(t, historyCallsBefore, api.historyCalls)
	assert.Greater(t, api.listCalls, listCallsBefore)
	assert.Equal(t, chat.PhaseIdle, st.Phase)

	close(release)
	ctrl.Pump(ctx, ex)
}

func TestSelectSessionGoneOnServerShowsEmptyHistory(t *testing.T) {
	api := newFakeAPI()
	api.sessions = []chat.Session{{ID: 1, Name: "A"}, {ID: 9, Name: "stale"}}
	api.histories[1] = []chat.Message{{Role: chat.RoleUser, Content: "x"}}
	// no history entry for 9: the fake answers ErrNotFound
	ctrl, _ := newTestController(t, api, "http://unused")
	login(t, ctrl)
	require.NotEmpty(t, ctrl.Snapshot().Messages)

	require.NoError(t, ctrl.SelectSession(context.Background(), 9))

	st := ctrl.Snapshot()
	require.NotNil(t, st.Selected)
	assert.Equal(t, int64(9), st.Selected.ID)
	assert.Empty(t, st.Messages)
}

func TestChannelOpenFailureKeepsOptimisticLog(t *testing.T) {
	api := newFakeAPI()
	api.sessions = []chat.Session{{ID: 1, Name: "A"}}
	api.histories[1] = nil
	srv := newStreamServer(t, nil)
	srv.Close()
	ctrl, _ := newTestController(t, api, srv.URL)
	login(t, ctrl)

	_, err := ctrl.SubmitPrompt(context.Background(), "hi")
	require.Error(t, err)

	st := ctrl.Snapshot()
	assert.Equal(t, chat.PhaseIdle, st.Phase)
	require.Len(t, st.Messages, 2)
	assert.Equal(t, chat.Message{Role: chat.RoleUser, Content: "hi"}, st.Messages[0])
	assert.Equal(t, chat.Message{Role: chat.RoleAssistant, Content: ""}, st.Messages[1])
}

func TestSubmitWhileLoggedOutRejected(t *testing.T) {
	api := newFakeAPI()
	ctrl, _ := newTestController(t, api, "http://unused")

	_, err := ctrl.SubmitPrompt(context.Background(), "hi")
	require.ErrorIs(t, err, chat.ErrNotLoggedIn)
}

func TestLogoutClearsStateAndCredentials(t *testing.T) {
	api := newFakeAPI()
	api.sessions = []chat.Session{{ID: 1, Name: "A"}}
	api.histories[1] = []chat.Message{{Role: chat.RoleUser, Content: "x"}}
	ctrl, creds := newTestController(t, api, "http://unused")
	login(t, ctrl)

	ctrl.Logout()

	st := ctrl.Snapshot()
	assert.False(t, st.LoggedIn)
	assert.Empty(t, st.Sessions)
	assert.Nil(t, st.Selected)
	assert.Empty(t, st.Messages)
	assert.Nil(t, creds.current())
}

func TestStaleExchangeEventsIgnoredAfterLogout(t *testing.T) {
	api := newFakeAPI()
	api.sessions = []chat.Session{{ID: 1, Name: "A"}}
	api.histories[1] = nil
	release := make(chan struct{})
	srv := newStreamServer(t, func(conn *websocket.Conn) {
		<-release
	})
	ctrl, _ := newTestController(t, api, srv.URL)
	login(t, ctrl)

	ctx := context.Background()
	ex, err := ctrl.SubmitPrompt(ctx, "hi")
	require.NoError(t, err)

	ctrl.Logout()

	// stragglers from the abandoned exchange must not corrupt the
	// logged-out state
	ctrl.HandleEvent(ctx, chat.ChunkEvent{ExchangeID: ex.ID, Text: "He"})
	ctrl.HandleEvent(ctx, chat.DoneEvent{ExchangeID: ex.ID, SessionID: 1})

	st := ctrl.Snapshot()
	assert.False(t, st.LoggedIn)
	assert.Empty(t, st.Messages)
	assert.Equal(t, chat.PhaseIdle, st.Phase)

	close(release)
}
