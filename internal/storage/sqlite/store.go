// Package sqlite is the SQLite implementation of storage.Store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/quietriver/assistant/internal/domain"
	"github.com/quietriver/assistant/internal/storage"
)

// Store persists assistant data in a single SQLite database.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// requiredTables is the schema surface probed by MissingTables.
var requiredTables = []string{"users", "sessions", "chats", "messages"}

// New opens (or creates) the database at dbPath and ensures the schema.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL; PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			token TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			expires_at TIMESTAMP NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS chats (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			FOREIGN KEY (owner_id) REFERENCES users(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			chat_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			tool_results TEXT,
			created_at TIMESTAMP NOT NULL,
			FOREIGN KEY (chat_id) REFERENCES chats(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_chats_owner ON chats(owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing %q: %w", stmt[:30], err)
		}
	}
	return nil
}

// UpsertUser creates or refreshes a user record by id.
func (s *Store) UpsertUser(ctx context.Context, user *domain.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET email = excluded.email, name = excluded.name`,
		user.ID, user.Email, user.Name, user.CreatedAt)
	if err != nil {
		return domain.ErrDatabase("failed to upsert user", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, name, created_at FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound("user not found")
	}
	if err != nil {
		return nil, domain.ErrDatabase("failed to load user", err)
	}
	return &u, nil
}

func (s *Store) CreateSession(ctx context.Context, session *domain.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (token, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		session.Token, session.UserID, session.CreatedAt, session.ExpiresAt)
	if err != nil {
		return domain.ErrDatabase("failed to create session", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, token string) (*domain.Session, error) {
	var sess domain.Session
	err := s.db.QueryRowContext(ctx, `
		SELECT token, user_id, created_at, expires_at FROM sessions WHERE token = ?`, token).
		Scan(&sess.Token, &sess.UserID, &sess.CreatedAt, &sess.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound("session not found")
	}
	if err != nil {
		return nil, domain.ErrDatabase("failed to load session", err)
	}
	return &sess, nil
}

func (s *Store) DeleteSession(ctx context.Context, token string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token); err != nil {
		return domain.ErrDatabase("failed to delete session", err)
	}
	return nil
}

func (s *Store) CreateChat(ctx context.Context, chat *domain.Chat) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chats (id, title, owner_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		chat.ID, chat.Title, chat.OwnerID, chat.CreatedAt, chat.UpdatedAt)
	if err != nil {
		return domain.ErrDatabase("failed to create chat", err)
	}
	return nil
}

func (s *Store) ListChats(ctx context.Context, ownerID string) ([]domain.Chat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, owner_id, created_at, updated_at
		FROM chats WHERE owner_id = ? ORDER BY updated_at DESC`, ownerID)
	if err != nil {
		return nil, domain.ErrDatabase("failed to list chats", err)
	}
	defer rows.Close()

	chats := make([]domain.Chat, 0)
	for rows.Next() {
		var c domain.Chat
		if err := rows.Scan(&c.ID, &c.Title, &c.OwnerID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, domain.ErrDatabase("failed to scan chat", err)
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrDatabase("failed to iterate chats", err)
	}
	return chats, nil
}

func (s *Store) GetChat(ctx context.Context, id, ownerID string) (*domain.Chat, error) {
	var c domain.Chat
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, owner_id, created_at, updated_at
		FROM chats WHERE id = ? AND owner_id = ?`, id, ownerID).
		Scan(&c.ID, &c.Title, &c.OwnerID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound("chat not found")
	}
	if err != nil {
		return nil, domain.ErrDatabase("failed to load chat", err)
	}
	return &c, nil
}

func (s *Store) DeleteChat(ctx context.Context, id, ownerID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM chats WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return domain.ErrDatabase("failed to delete chat", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.ErrDatabase("failed to delete chat", err)
	}
	if affected == 0 {
		return domain.ErrNotFound("chat not found")
	}
	return nil
}

// TouchChat bumps updated_at so recently active chats sort first.
func (s *Store) TouchChat(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE chats SET updated_at = ? WHERE id = ?`, time.Now().UTC(), id); err != nil {
		return domain.ErrDatabase("failed to touch chat", err)
	}
	return nil
}

func (s *Store) CreateMessage(ctx context.Context, msg *domain.Message) error {
	var toolResults sql.NullString
	if msg.ToolResults != "" {
		toolResults = sql.NullString{String: msg.ToolResults, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, chat_id, role, content, tool_results, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ChatID, string(msg.Role), msg.Content, toolResults, msg.CreatedAt)
	if err != nil {
		return domain.ErrDatabase("failed to create message", err)
	}
	return nil
}

func (s *Store) ListMessages(ctx context.Context, chatID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, role, content, tool_results, created_at
		FROM messages WHERE chat_id = ? ORDER BY created_at ASC, id ASC`, chatID)
	if err != nil {
		return nil, domain.ErrDatabase("failed to list messages", err)
	}
	defer rows.Close()

	msgs := make([]domain.Message, 0)
	for rows.Next() {
		var m domain.Message
		var role string
		var toolResults sql.NullString
		if err := rows.Scan(&m.ID, &m.ChatID, &role, &m.Content, &toolResults, &m.CreatedAt); err != nil {
			return nil, domain.ErrDatabase("failed to scan message", err)
		}
		m.Role = domain.Role(role)
		m.ToolResults = toolResults.String
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrDatabase("failed to iterate messages", err)
	}
	return msgs, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return domain.ErrDatabase("database unreachable", err)
	}
	return nil
}

// MissingTables returns required tables absent from the live schema.
func (s *Store) MissingTables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table'`)
	if err != nil {
		return nil, domain.ErrDatabase("failed to probe schema", err)
	}
	defer rows.Close()

	present := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, domain.ErrDatabase("failed to probe schema", err)
		}
		present[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrDatabase("failed to probe schema", err)
	}

	var missing []string
	for _, table := range requiredTables {
		if !present[table] {
			missing = append(missing, table)
		}
	}
	return missing, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
