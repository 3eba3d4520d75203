package chat

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// controlFrame is the single outbound message sent when the channel opens.
// After it, the channel only carries inbound traffic until close.
type controlFrame struct {
	Prompt      string `json:"prompt"`
	SessionID   *int64 `json:"session_id"`
	SessionName string `json:"session_name"`
	Token       string `json:"token"`
}

// wireFrame is the inbound protocol envelope.
type wireFrame struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	SessionID int64  `json:"session_id,omitempty"`
}

// OpenRequest describes one prompt submission.
type OpenRequest struct {
	Prompt      string
	SessionID   int64
	SessionName string
	Token       string
}

// Opener opens streaming exchanges. Implemented by *Dialer.
type Opener interface {
	Open(ctx context.Context, req OpenRequest) (*Exchange, error)
}

// Dialer opens exchanges against the chat endpoint derived from a base URL.
type Dialer struct {
	baseURL string
	dialer  *websocket.Dialer
}

var _ Opener = (*Dialer)(nil)

func NewDialer(baseURL string) *Dialer {
	return &Dialer{
		baseURL: baseURL,
		dialer:  websocket.DefaultDialer,
	}
}

// endpoint derives the streaming URL by swapping the HTTP scheme for its
// websocket equivalent.
func (d *Dialer) endpoint() (string, error) {
	u, err := url.Parse(d.baseURL)
	if err != nil {
		return "", errors.Wrapf(err, "parse base URL %q", d.baseURL)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", errors.Errorf("unsupported scheme %q in base URL", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/chat"
	return u.String(), nil
}

// Open dials the chat endpoint, sends the control frame, and starts the read
// loop. The returned exchange's event channel closes once the connection does.
func (d *Dialer) Open(ctx context.Context, req OpenRequest) (*Exchange, error) {
	endpoint, err := d.endpoint()
	if err != nil {
		return nil, err
	}
	conn, resp, err := d.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "dial %s (status %d)", endpoint, resp.StatusCode)
		}
		return nil, errors.Wrapf(err, "dial %s", endpoint)
	}

	frame := controlFrame{
		Prompt:      req.Prompt,
		SessionName: req.SessionName,
		Token:       req.Token,
	}
	if req.SessionID > 0 {
		id := req.SessionID
		frame.SessionID = &id
	}
	if err := conn.WriteJSON(frame); err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "send control frame")
	}

	x := newExchange(req.SessionID, conn)
	go x.readLoop()
	return x, nil
}

// Exchange is one prompt-submission-to-completion cycle over the streaming
// channel. It is strictly half-duplex: the control frame has already been
// written by the time an Exchange exists, and only inbound traffic follows.
type Exchange struct {
	// ID identifies the exchange in logs and events.
	ID string
	// SessionID is the session the exchange was opened against.
	SessionID int64

	conn      *websocket.Conn
	events    chan Event
	closeOnce sync.Once
	log       zerolog.Logger
}

func newExchange(sessionID int64, conn *websocket.Conn) *Exchange {
	id := uuid.NewString()
	return &Exchange{
		ID:        id,
		SessionID: sessionID,
		conn:      conn,
		events:    make(chan Event, 32),
		log: log.With().
			Str("component", "exchange").
			Str("exchange_id", id).
			Int64("session_id", sessionID).
			Logger(),
	}
}

// Events returns the exchange's event stream. It is consumed by a single
// handler loop; the channel closes after the ClosedEvent is delivered.
func (x *Exchange) Events() <-chan Event { return x.events }

// Close abandons the exchange. No cancel message is sent to the server, so it
// may keep producing a reply that is simply discarded.
func (x *Exchange) Close() {
	x.closeOnce.Do(func() {
		_ = x.conn.Close()
	})
}

func (x *Exchange) readLoop() {
	defer close(x.events)
	for {
		_, data, err := x.conn.ReadMessage()
		if err != nil {
			var closeErr error
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				closeErr = err
			}
			x.log.Debug().Err(err).Msg("channel closed")
			x.Close()
			x.events <- ClosedEvent{ExchangeID: x.ID, Err: closeErr}
			return
		}

		var frame wireFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			x.log.Warn().Err(err).Msg("discarding malformed frame")
			continue
		}
		switch frame.Type {
		case "chunk":
			x.events <- ChunkEvent{ExchangeID: x.ID, Text: frame.Text}
		case "done":
			x.events <- DoneEvent{ExchangeID: x.ID, SessionID: frame.SessionID}
		default:
			x.log.Debug().Str("type", frame.Type).Msg("ignoring unknown frame type")
		}
	}
}
