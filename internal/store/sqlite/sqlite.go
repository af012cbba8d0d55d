package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vovakirdan/pollchat/internal/store"
)

// Schema is the emulator database layout. Every statement is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	username      TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	display_name  TEXT NOT NULL DEFAULT '',
	mood          TEXT NOT NULL DEFAULT '',
	presence      TEXT NOT NULL DEFAULT 'Offline',
	failed_logins INTEGER NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS revoked_tokens (
	token_id   TEXT PRIMARY KEY,
	expires_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS chats (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	topic      TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS chat_members (
	chat_id   TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
	user_id   INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	joined_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (chat_id, user_id)
);

CREATE TABLE IF NOT EXISTS messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	chat_id    TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
	user_id    INTEGER NOT NULL REFERENCES users(id),
	client_id  TEXT NOT NULL DEFAULT '',
	body       TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	edited_at  DATETIME
);

CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, id);

CREATE TABLE IF NOT EXISTS events (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id    INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	type       TEXT NOT NULL,
	payload    BLOB NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_user_seq ON events(user_id, seq);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ store.Store = (*SQLiteStore)(nil)

// Migrate applies Schema to db.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// New opens the SQLite database at dbPath and applies the schema.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, Migrate)
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Tests pass ":memory:" with Migrate or a narrower schema.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// A single connection keeps ":memory:" databases alive and serialises writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== UserStore implementation ====

const userColumns = `id, username, password_hash, display_name, mood, presence, failed_logins, created_at`

func scanUser(row interface{ Scan(...any) error }) (*store.User, error) {
	var user store.User
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.DisplayName,
		&user.Mood,
		&user.Presence,
		&user.FailedLogins,
		&user.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateUser creates a new user with hashed password.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, passwordHash, displayName string) (*store.User, error) {
	if displayName == "" {
		displayName = username
	}
	query := `
		INSERT INTO users (username, password_hash, display_name, created_at)
		VALUES (?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, username, passwordHash, displayName, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*store.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`
	user, err := scanUser(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %d: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = ?`
	user, err := scanUser(s.db.QueryRowContext(ctx, query, username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %q: %w", username, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return user, nil
}

// UpdateProfile overwrites the presence, display name and mood of a user.
func (s *SQLiteStore) UpdateProfile(ctx context.Context, userID int64, presence, displayName, mood string) error {
	query := `
		UPDATE users
		SET presence = ?, display_name = ?, mood = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query, presence, displayName, mood, userID)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return requireAffected(result, "user")
}

// RecordLoginFailure increments the failed login counter.
func (s *SQLiteStore) RecordLoginFailure(ctx context.Context, userID int64) (int, error) {
	query := `
		UPDATE users
		SET failed_logins = failed_logins + 1
		WHERE id = ?
		RETURNING failed_logins
	`
	var failures int
	if err := s.db.QueryRowContext(ctx, query, userID).Scan(&failures); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("user %d: %w", userID, store.ErrNotFound)
		}
		return 0, fmt.Errorf("record login failure: %w", err)
	}
	return failures, nil
}

// ResetLoginFailures clears the failed login counter.
func (s *SQLiteStore) ResetLoginFailures(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET failed_logins = 0 WHERE id = ?`, userID)
	if err != nil {
		return fmt.Errorf("reset login failures: %w", err)
	}
	return nil
}

// RevokeToken records a token ID as revoked and prunes entries that have expired anyway.
func (s *SQLiteStore) RevokeToken(ctx context.Context, tokenID string, expiresAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // Rollback after Commit is a no-op
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM revoked_tokens WHERE expires_at < ?`, time.Now().UTC()); err != nil {
		return fmt.Errorf("prune revoked tokens: %w", err)
	}
	query := `
		INSERT OR IGNORE INTO revoked_tokens (token_id, expires_at)
		VALUES (?, ?)
	`
	if _, err := tx.ExecContext(ctx, query, tokenID, expiresAt.UTC()); err != nil {
		return fmt.Errorf("insert revoked token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// IsTokenRevoked checks whether a token ID was revoked.
func (s *SQLiteStore) IsTokenRevoked(ctx context.Context, tokenID string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM revoked_tokens WHERE token_id = ?`, tokenID).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("query revoked token: %w", err)
	}
	return true, nil
}

// ==== ChatStore implementation ====

// CreateChat inserts a chat and its initial members in one transaction.
func (s *SQLiteStore) CreateChat(ctx context.Context, id string, kind store.ChatKind, topic string, memberIDs []int64) (*store.Chat, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // Rollback after Commit is a no-op
	}()

	now := time.Now().UTC()
	query := `
		INSERT INTO chats (id, kind, topic, created_at)
		VALUES (?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, query, id, string(kind), topic, now); err != nil {
		return nil, fmt.Errorf("insert chat: %w", err)
	}

	memberQuery := `
		INSERT OR IGNORE INTO chat_members (chat_id, user_id, joined_at)
		VALUES (?, ?, ?)
	`
	for _, userID := range memberIDs {
		if _, err := tx.ExecContext(ctx, memberQuery, id, userID, now); err != nil {
			return nil, fmt.Errorf("add member %d: %w", userID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return &store.Chat{ID: id, Kind: kind, Topic: topic, CreatedAt: now}, nil
}

// GetChat retrieves a chat by ID.
func (s *SQLiteStore) GetChat(ctx context.Context, id string) (*store.Chat, error) {
	query := `
		SELECT id, kind, topic, created_at
		FROM chats
		WHERE id = ?
	`
	var chat store.Chat
	var kind string
	err := s.db.QueryRowContext(ctx, query, id).Scan(&chat.ID, &kind, &chat.Topic, &chat.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("chat %q: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query chat: %w", err)
	}
	chat.Kind = store.ChatKind(kind)
	return &chat, nil
}

// SetTopic changes the topic of a chat.
func (s *SQLiteStore) SetTopic(ctx context.Context, chatID, topic string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE chats SET topic = ? WHERE id = ?`, topic, chatID)
	if err != nil {
		return fmt.Errorf("update topic: %w", err)
	}
	return requireAffected(result, "chat")
}

// AddMember adds a user to a chat.
func (s *SQLiteStore) AddMember(ctx context.Context, chatID string, userID int64) (bool, error) {
	query := `
		INSERT OR IGNORE INTO chat_members (chat_id, user_id, joined_at)
		VALUES (?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, chatID, userID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("insert chat member: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// RemoveMember removes a user from a chat.
func (s *SQLiteStore) RemoveMember(ctx context.Context, chatID string, userID int64) (bool, error) {
	query := `
		DELETE FROM chat_members
		WHERE chat_id = ? AND user_id = ?
	`
	result, err := s.db.ExecContext(ctx, query, chatID, userID)
	if err != nil {
		return false, fmt.Errorf("delete chat member: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// IsMember checks if user is a member of the chat.
func (s *SQLiteStore) IsMember(ctx context.Context, chatID string, userID int64) (bool, error) {
	query := `
		SELECT 1 FROM chat_members
		WHERE chat_id = ? AND user_id = ?
	`
	var exists int
	err := s.db.QueryRowContext(ctx, query, chatID, userID).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("query membership: %w", err)
	}
	return true, nil
}

// ListMembers lists the members of a chat in join order.
func (s *SQLiteStore) ListMembers(ctx context.Context, chatID string) ([]*store.User, error) {
	query := `
		SELECT u.id, u.username, u.password_hash, u.display_name, u.mood, u.presence, u.failed_logins, u.created_at
		FROM chat_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.chat_id = ?
		ORDER BY m.joined_at ASC, u.id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	var members []*store.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, user)
	}

	return members, rows.Err()
}

// ListPeers lists users that share at least one chat with userID.
func (s *SQLiteStore) ListPeers(ctx context.Context, userID int64) ([]int64, error) {
	query := `
		SELECT DISTINCT peer.user_id
		FROM chat_members self
		JOIN chat_members peer ON peer.chat_id = self.chat_id
		WHERE self.user_id = ? AND peer.user_id != ?
		ORDER BY peer.user_id
	`
	rows, err := s.db.QueryContext(ctx, query, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("query peers: %w", err)
	}
	defer rows.Close()

	var peers []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan peer: %w", err)
		}
		peers = append(peers, id)
	}

	return peers, rows.Err()
}

// ==== MessageStore implementation ====

const messageColumns = `m.id, m.chat_id, m.user_id, u.username, m.client_id, m.body, m.created_at, m.edited_at`

func scanMessage(row interface{ Scan(...any) error }) (*store.Message, error) {
	var msg store.Message
	var editedAt sql.NullTime
	err := row.Scan(
		&msg.ID,
		&msg.ChatID,
		&msg.UserID,
		&msg.Sender,
		&msg.ClientID,
		&msg.Body,
		&msg.CreatedAt,
		&editedAt,
	)
	if err != nil {
		return nil, err
	}
	if editedAt.Valid {
		t := editedAt.Time
		msg.EditedAt = &t
	}
	return &msg, nil
}

// SaveMessage persists a message and fills in its ID.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *store.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO messages (chat_id, user_id, client_id, body, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, msg.ChatID, msg.UserID, msg.ClientID, msg.Body, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}

	msg.ID = id
	return nil
}

// GetMessage retrieves one message of a chat.
func (s *SQLiteStore) GetMessage(ctx context.Context, chatID string, id int64) (*store.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages m
		JOIN users u ON u.id = m.user_id
		WHERE m.chat_id = ? AND m.id = ?
	`
	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, chatID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message %d: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query message: %w", err)
	}
	return msg, nil
}

// EditMessage replaces the body of a message.
func (s *SQLiteStore) EditMessage(ctx context.Context, chatID string, id int64, body string, editedAt time.Time) error {
	query := `
		UPDATE messages
		SET body = ?, edited_at = ?
		WHERE chat_id = ? AND id = ?
	`
	result, err := s.db.ExecContext(ctx, query, body, editedAt.UTC(), chatID, id)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	return requireAffected(result, "message")
}

// ListMessages returns the latest limit messages of a chat in chronological order.
func (s *SQLiteStore) ListMessages(ctx context.Context, chatID string, limit int) ([]*store.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages m
		JOIN users u ON u.id = m.user_id
		WHERE m.chat_id = ?
		ORDER BY m.id DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	// Reverse to get chronological order
	for i := range len(messages) / 2 {
		messages[i], messages[len(messages)-1-i] = messages[len(messages)-1-i], messages[i]
	}

	return messages, rows.Err()
}

// ==== EventStore implementation ====

// AppendEvents writes events in one transaction and assigns their sequence numbers.
func (s *SQLiteStore) AppendEvents(ctx context.Context, events []*store.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // Rollback after Commit is a no-op
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (user_id, type, payload, created_at)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert event: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, ev := range events {
		if ev.CreatedAt.IsZero() {
			ev.CreatedAt = now
		}
		result, err := stmt.ExecContext(ctx, ev.UserID, ev.Type, ev.Payload, ev.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		seq, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("get last insert id: %w", err)
		}
		ev.Seq = seq
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ListEvents returns up to limit events of a user with Seq greater than afterSeq.
func (s *SQLiteStore) ListEvents(ctx context.Context, userID, afterSeq int64, limit int) ([]*store.Event, error) {
	query := `
		SELECT seq, user_id, type, payload, created_at
		FROM events
		WHERE user_id = ? AND seq > ?
		ORDER BY seq ASC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, userID, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []*store.Event
	for rows.Next() {
		var ev store.Event
		if err := rows.Scan(&ev.Seq, &ev.UserID, &ev.Type, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, &ev)
	}

	return events, rows.Err()
}

// HeadSeq returns the highest sequence number in a user's log, or 0.
func (s *SQLiteStore) HeadSeq(ctx context.Context, userID int64) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events WHERE user_id = ?`, userID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("query head seq: %w", err)
	}
	return seq, nil
}

func requireAffected(result sql.Result, what string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	return nil
}
