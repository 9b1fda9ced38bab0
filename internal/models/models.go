package models

import "strings"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// DefaultTitle is the title of a conversation without a user message.
const DefaultTitle = "New Chat"

// Message is a single turn of a conversation
type Message struct {
	ID        string   `json:"id"`
	Role      Role     `json:"role"`
	Content   string   `json:"content"`
	Images    []string `json:"images,omitempty"`
	Timestamp int64    `json:"timestamp"`
}

// Conversation is a titled sequence of messages bound to one provider/model pair
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	Provider  Provider  `json:"provider"`
	Model     string    `json:"model"`
	CreatedAt int64     `json:"createdAt"`
	UpdatedAt int64     `json:"updatedAt"`
	Pinned    bool      `json:"pinned,omitempty"`
}

// Clone returns a deep copy so callers can't mutate shared message slices.
func (c Conversation) Clone() Conversation {
	c.Messages = CloneMessages(c.Messages)
	return c
}

// CloneMessages copies a message list including image slices.
func CloneMessages(messages []Message) []Message {
	if messages == nil {
		return []Message{}
	}
	out := make([]Message, len(messages))
	for i, m := range messages {
		if m.Images != nil {
			m.Images = append([]string(nil), m.Images...)
		}
		out[i] = m
	}
	return out
}

// IndexOf returns the position of the message with the given id, or -1.
func IndexOf(messages []Message, id string) int {
	for i, m := range messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}

// FirstUserMessage returns the first user-authored message.
func FirstUserMessage(messages []Message) (Message, bool) {
	for _, m := range messages {
		if m.Role == RoleUser {
			return m, true
		}
	}
	return Message{}, false
}

// ParseRole accepts a role name in any case.
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleUser:
		return RoleUser, true
	case RoleAssistant:
		return RoleAssistant, true
	case RoleSystem:
		return RoleSystem, true
	}
	return "", false
}
