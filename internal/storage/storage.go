// Package storage defines the persistence interface consumed by the API
// layer. Implementations live in subpackages.
package storage

import (
	"context"

	"github.com/quietriver/assistant/internal/domain"
)

// Store persists users, sessions, chats, and messages.
//
// Ownership is enforced at this layer: chat reads and deletes are scoped
// to the owner, and a chat that exists but belongs to someone else is
// indistinguishable from one that does not exist.
type Store interface {
	UpsertUser(ctx context.Context, user *domain.User) error
	GetUser(ctx context.Context, id string) (*domain.User, error)

	CreateSession(ctx context.Context, session *domain.Session) error
	GetSession(ctx context.Context, token string) (*domain.Session, error)
	DeleteSession(ctx context.Context, token string) error

	CreateChat(ctx context.Context, chat *domain.Chat) error
	ListChats(ctx context.Context, ownerID string) ([]domain.Chat, error)
	GetChat(ctx context.Context, id, ownerID string) (*domain.Chat, error)
	// DeleteChat removes the chat and, by cascade, its messages.
	DeleteChat(ctx context.Context, id, ownerID string) error
	TouchChat(ctx context.Context, id string) error

	// CreateMessage appends a message; messages are never mutated.
	CreateMessage(ctx context.Context, msg *domain.Message) error
	ListMessages(ctx context.Context, chatID string) ([]domain.Message, error)

	// Ping verifies connectivity; MissingTables probes the schema.
	Ping(ctx context.Context) error
	MissingTables(ctx context.Context) ([]string, error)

	Close() error
}
