package domain

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the persisted roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// User is an authenticated account, established by the external OAuth
// login flow.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Session is a cookie-backed login session.
type Session struct {
	Token     string    `json:"-"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the session has passed its expiry.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Chat is a conversation owned by one user. Messages are append-only and
// deleted only by deleting the parent chat.
type Chat struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	OwnerID   string    `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Message is a single turn in a chat. ToolResults carries the raw results
// of any tool invocations the assistant made while producing the content.
type Message struct {
	ID          string    `json:"id"`
	ChatID      string    `json:"chatId"`
	Role        Role      `json:"role"`
	Content     string    `json:"content"`
	ToolResults string    `json:"toolResults,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}
