package chat_test

import (
	"context"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/parley/pkg/chat"
)

func TestExchangeDeliversTypedEventsInOrder(t *testing.T) {
	srv := newStreamServer(t, func(conn *websocket.Conn) {
		sendFrame(conn, map[string]any{"type": "chunk", "text": "Hel"})
		sendFrame(conn, map[string]any{"type": "status", "text": "ignored"})
		sendFrame(conn, map[string]any{"type": "chunk", "text": "lo"})
		sendFrame(conn, map[string]any{"type": "done", "session_id": 5})
	})

	ex, err := chat.NewDialer(srv.URL).Open(context.Background(), chat.OpenRequest{
		Prompt:      "hi",
		SessionID:   5,
		SessionName: "A",
		Token:       "tok",
	})
	require.NoError(t, err)

	var events []chat.Event
	for ev := range ex.Events() {
		assert.Equal(t, ex.ID, ev.Exchange())
		events = append(events, ev)
	}

	require.Len(t, events, 4)
	assert.Equal(t, chat.ChunkEvent{ExchangeID: ex.ID, Text: "Hel"}, events[0])
	assert.Equal(t, chat.ChunkEvent{ExchangeID: ex.ID, Text: "lo"}, events[1])
	assert.Equal(t, chat.DoneEvent{ExchangeID: ex.ID, SessionID: 5}, events[2])

	closed, ok := events[3].(chat.ClosedEvent)
	require.True(t, ok)
	assert.NoError(t, closed.Err)
}

func TestExchangeControlFrame(t *testing.T) {
	srv := newStreamServer(t, nil)

	ex, err := chat.NewDialer(srv.URL).Open(context.Background(), chat.OpenRequest{
		Prompt:      "tell me something",
		SessionID:   42,
		SessionName: "ideas",
		Token:       "tok-1",
	})
	require.NoError(t, err)
	defer ex.Close()

	control := <-srv.controls
	assert.Equal(t, "tell me something", control["prompt"])
	assert.Equal(t, float64(42), control["session_id"])
	assert.Equal(t, "ideas", control["session_name"])
	assert.Equal(t, "tok-1", control["token"])
}

func TestExchangeControlFrameNullSessionID(t *testing.T) {
	srv := newStreamServer(t, nil)

	ex, err := chat.NewDialer(srv.URL).Open(context.Background(), chat.OpenRequest{
		Prompt:      "hi",
		SessionName: "default",
		Token:       "tok-1",
	})
	require.NoError(t, err)
	defer ex.Close()

	control := <-srv.controls
	id, present := control["session_id"]
	assert.True(t, present)
	assert.Nil(t, id)
}

func TestExchangeAbruptCloseReportsError(t *testing.T) {
	srv := newStreamServer(t, func(conn *websocket.Conn) {
		sendFrame(conn, map[string]any{"type": "chunk", "text": "partial"})
		// drop the connection without a close handshake
		_ = conn.UnderlyingConn().Close()
	})

	ex, err := chat.NewDialer(srv.URL).Open(context.Background(), chat.OpenRequest{
		Prompt: "hi", SessionID: 1, SessionName: "A", Token: "tok",
	})
	require.NoError(t, err)

	var events []chat.Event
	for ev := range ex.Events() {
		events = append(events, ev)
	}
	require.NotEmpty(t, events)
	closed, ok := events[len(events)-1].(chat.ClosedEvent)
	require.True(t, ok)
	assert.Error(t, closed.Err)
}
