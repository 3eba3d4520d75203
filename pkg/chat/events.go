package chat

// EventType discriminates the events an exchange can produce.
type EventType string

const (
	EventTypeChunk  EventType = "chunk"
	EventTypeDone   EventType = "done"
	EventTypeClosed EventType = "closed"
)

// Event is one occurrence on an exchange's stream. Events carry the id of the
// exchange that produced them so a handler can discard stragglers from an
// abandoned exchange.
type Event interface {
	Type() EventType
	Exchange() string
}

// ChunkEvent carries one incremental text fragment. Fragments are appended
// verbatim in arrival order, never reordered or coalesced.
type ChunkEvent struct {
	ExchangeID string
	Text       string
}

func (e ChunkEvent) Type() EventType  { return EventTypeChunk }
func (e ChunkEvent) Exchange() string { return e.ExchangeID }

// DoneEvent is the terminal completion signal. SessionID is the server's
// authoritative session id for the exchange, which matters when the session
// was created implicitly.
type DoneEvent struct {
	ExchangeID string
	SessionID  int64
}

func (e DoneEvent) Type() EventType  { return EventTypeDone }
func (e DoneEvent) Exchange() string { return e.ExchangeID }

// ClosedEvent reports that the channel shut down. Err is nil on a clean close.
// A close without a preceding DoneEvent is a valid outcome; the partially
// built reply stays visible.
type ClosedEvent struct {
	ExchangeID string
	Err        error
}

func (e ClosedEvent) Type() EventType  { return EventTypeClosed }
func (e ClosedEvent) Exchange() string { return e.ExchangeID }
