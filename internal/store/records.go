package store

import (
	"time"

	"vaultchat/internal/stream"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Chat is a conversation record owned by its creator.
type Chat struct {
	ID           string    `json:"_id"`
	CreatorID    string    `json:"creator_id"`
	Title        Title     `json:"title"`
	PersonaID    string    `json:"persona_id,omitempty"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Message is a single chat message. Messages are created once and never
// mutated or deleted individually; only whole-chat deletion removes them.
// Order is 1-based within a chat: odd orders are user messages, even orders
// are assistant messages.
type Message struct {
	ID          string          `json:"_id"`
	ChatID      string          `json:"chat_id"`
	CreatorID   string          `json:"creator_id"`
	Role        string          `json:"role"`
	Content     string          `json:"content"`
	Sealed      bool            `json:"sealed,omitempty"`
	Order       int             `json:"ord"`
	Model       string          `json:"model,omitempty"`
	Attachments []string        `json:"attachments,omitempty"`
	Sources     []stream.Source `json:"sources,omitempty"`
	WebSearch   bool            `json:"web_search,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// WebSearchUsage is the per-user daily web-search counter. The counter is
// only meaningful for the day named by Date; a stale Date means the counter
// must be reset before use.
type WebSearchUsage struct {
	Date    string `json:"date"`
	Counter int    `json:"counter"`
}

// User is an account record. For non-primary auth providers the id is derived
// deterministically from the external subject; the primary provider assigns
// ids directly. CreatedAt is rounded down to a 5-minute boundary so account
// creation times cannot be correlated with external events.
type User struct {
	ID             string            `json:"_id"`
	Username       string            `json:"username,omitempty"`
	AuthProvider   string            `json:"auth_provider"`
	PasswordHash   string            `json:"password_hash,omitempty"`
	Campaign       map[string]string `json:"campaign,omitempty"`
	WebSearchUsage *WebSearchUsage   `json:"web_search_usage,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}
