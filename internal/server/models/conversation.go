package models

import "time"

// Role is the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one persisted chat message. StorageKey is set when the content
// was offloaded to object storage; Content then holds a preview.
type Message struct {
	ID             string
	ConversationID string
	Role           Role
	Content        string
	StorageKey     string
	Partial        bool
	Tokens         int
	CreatedAt      time.Time
}

// Tag labels conversations. Tags are unique by ID.
type Tag struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// ModelSummary is the denormalized model info shown next to a conversation.
type ModelSummary struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Provider string `json:"provider"`
}

// Conversation is the persisted conversation row.
type Conversation struct {
	ID             string
	UserID         string
	Title          string
	Model          ModelSummary
	Active         bool
	CreatedAt      time.Time
	LastActivityAt time.Time
}

// SidebarConversation is the list projection of a conversation.
type SidebarConversation struct {
	ID             string       `json:"id"`
	Title          string       `json:"title"`
	Snippet        string       `json:"snippet,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	LastActivityAt time.Time    `json:"last_activity_at"`
	Tags           []Tag        `json:"tags"`
	Active         bool         `json:"active"`
	Model          ModelSummary `json:"model"`
}

// Sidebar returns the list projection of c.
func (c Conversation) Sidebar(tags []Tag) SidebarConversation {
	return SidebarConversation{
		ID:             c.ID,
		Title:          c.Title,
		CreatedAt:      c.CreatedAt,
		LastActivityAt: c.LastActivityAt,
		Tags:           tags,
		Active:         c.Active,
		Model:          c.Model,
	}
}
