package convstore

import (
	"time"

	"github.com/google/uuid"
)

// Role of a message author
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageMetadata holds optional details about how a message was produced
type MessageMetadata struct {
	Model      string `json:"model,omitempty"`
	TokenCount int    `json:"tokenCount,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Message is a single immutable chat message
type Message struct {
	ID        string           `json:"id"`
	Role      Role             `json:"role"`
	Content   string           `json:"content"`
	CreatedAt time.Time        `json:"createdAt"`
	Metadata  *MessageMetadata `json:"metadata,omitempty"`
}

// Conversation is an ordered list of messages
type Conversation struct {
	ID        string    `json:"id"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Settings are user preferences stored alongside the history
type Settings struct {
	Language string `json:"language,omitempty"`
	Provider string `json:"provider,omitempty"`
}

// Data is the persisted document. An empty CurrentConversationID means no current conversation.
type Data struct {
	Conversations         []Conversation `json:"conversations"`
	CurrentConversationID string         `json:"currentConversationId"`
	Settings              Settings       `json:"settings"`
}

// NewID returns a time-ordered identifier
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// Timestamp normalizes t to UTC with millisecond precision so it survives a JSON round trip unchanged
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// NewMessage builds a message stamped with the current time
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        NewID(),
		Role:      role,
		Content:   content,
		CreatedAt: Timestamp(time.Now()),
	}
}

func (c Conversation) clone() Conversation {
	out := c
	out.Messages = make([]Message, len(c.Messages))
	for i, m := range c.Messages {
		out.Messages[i] = m
		if m.Metadata != nil {
			md := *m.Metadata
			out.Messages[i].Metadata = &md
		}
	}
	return out
}

func (d Data) clone() Data {
	out := d
	out.Conversations = make([]Conversation, len(d.Conversations))
	for i, c := range d.Conversations {
		out.Conversations[i] = c.clone()
	}
	return out
}

func (d *Data) indexOf(id string) int {
	for i := range d.Conversations {
		if d.Conversations[i].ID == id {
			return i
		}
	}
	return -1
}
