package chat

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Session is a named, server-persisted conversation thread. The list order is
// always whatever the last list fetch returned; the client never sorts or
// dedupes locally.
type Session struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Message is one entry in a session's conversation log, oldest first.
// Locally-created messages (the optimistic user message and the in-progress
// assistant reply) carry no server id and are ephemeral until a full history
// fetch overwrites them.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
