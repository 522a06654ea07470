package chat

import "time"

// Message roles as stored in chunk payloads.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one element of a chunk payload. It is never persisted as a
// standalone row; the chunk is the durability unit.
type Message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// NewMessage builds a message stamped with the current UTC time.
func NewMessage(role, content string) Message {
	now := time.Now().UTC()
	return Message{Role: role, Content: content, Timestamp: &now}
}
