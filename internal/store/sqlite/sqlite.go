package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/roomcast/roomcast-server/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS identities (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	username       TEXT NOT NULL UNIQUE,
	display_name   TEXT NOT NULL,
	avatar_url     TEXT NOT NULL DEFAULT '',
	password_hash  TEXT NOT NULL,
	is_guest       BOOLEAN NOT NULL DEFAULT 0,
	session_id     TEXT,
	status         TEXT NOT NULL DEFAULT 'offline',
	status_message TEXT NOT NULL DEFAULT '',
	last_seen      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS conversations (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	kind          TEXT NOT NULL,
	name          TEXT NOT NULL,
	display_name  TEXT NOT NULL,
	direct_key    TEXT,
	last_activity DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_public_name
	ON conversations(name) WHERE kind = 'public';
CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_direct_key
	ON conversations(direct_key) WHERE direct_key IS NOT NULL;

CREATE TABLE IF NOT EXISTS conversation_members (
	identity_id     INTEGER NOT NULL,
	conversation_id INTEGER NOT NULL,
	joined_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (identity_id, conversation_id)
);

CREATE TABLE IF NOT EXISTS messages (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id INTEGER NOT NULL,
	sender_id       INTEGER NOT NULL,
	body            TEXT NOT NULL,
	created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation
	ON messages(conversation_id, id);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database at dbPath and applies the schema.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// mapError converts driver errors into store sentinel errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var serr sqlite3.Error
	if errors.As(err, &serr) && serr.Code == sqlite3.ErrConstraint {
		return store.ErrConflict
	}
	return err
}

// ==== IdentityStore implementation ====

// CreateIdentity creates a new identity with a hashed password.
func (s *SQLiteStore) CreateIdentity(ctx context.Context, username, passwordHash string) (*store.Identity, error) {
	query := `
		INSERT INTO identities (username, display_name, password_hash, is_guest)
		VALUES (?, ?, ?, 0)
	`
	result, err := s.db.ExecContext(ctx, query, username, username, passwordHash)
	if err != nil {
		if mapped := mapError(err); errors.Is(mapped, store.ErrConflict) {
			return nil, fmt.Errorf("insert identity: %w", store.ErrConflict)
		}
		return nil, fmt.Errorf("insert identity: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetIdentityByID(ctx, id)
}

// CreateGuestIdentity creates a temporary guest identity bound to a session ID.
func (s *SQLiteStore) CreateGuestIdentity(ctx context.Context, sessionID string) (*store.Identity, error) {
	suffix := sessionID
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	guestName := "guest_" + suffix

	query := `
		INSERT INTO identities (username, display_name, password_hash, is_guest, session_id)
		VALUES (?, ?, '', 1, ?)
	`
	result, err := s.db.ExecContext(ctx, query, guestName, guestName, sessionID)
	if err != nil {
		return nil, fmt.Errorf("insert guest identity: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetIdentityByID(ctx, id)
}

const identityColumns = `
	id, username, display_name, avatar_url, password_hash, is_guest,
	COALESCE(session_id, ''), status, status_message, last_seen, created_at
`

func (s *SQLiteStore) scanIdentity(row *sql.Row) (*store.Identity, error) {
	var ident store.Identity
	var status string
	err := row.Scan(
		&ident.ID,
		&ident.Username,
		&ident.DisplayName,
		&ident.AvatarURL,
		&ident.PasswordHash,
		&ident.IsGuest,
		&ident.SessionID,
		&status,
		&ident.StatusMessage,
		&ident.LastSeen,
		&ident.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("identity not found: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query identity: %w", err)
	}
	ident.Status = store.Status(status)
	return &ident, nil
}

// GetIdentityByID retrieves an identity by ID.
func (s *SQLiteStore) GetIdentityByID(ctx context.Context, id int64) (*store.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE id = ?`
	return s.scanIdentity(s.db.QueryRowContext(ctx, query, id))
}

// GetIdentityByUsername retrieves a registered identity by username.
func (s *SQLiteStore) GetIdentityByUsername(ctx context.Context, username string) (*store.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE username = ? AND is_guest = 0`
	return s.scanIdentity(s.db.QueryRowContext(ctx, query, username))
}

// GetIdentityBySessionID retrieves a guest identity by session ID.
func (s *SQLiteStore) GetIdentityBySessionID(ctx context.Context, sessionID string) (*store.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE session_id = ? AND is_guest = 1`
	return s.scanIdentity(s.db.QueryRowContext(ctx, query, sessionID))
}

// UpdateIdentityStatus persists a status change with message and last-seen.
func (s *SQLiteStore) UpdateIdentityStatus(ctx context.Context, id int64, status store.Status, statusMessage string, lastSeen time.Time) error {
	query := `
		UPDATE identities
		SET status = ?, status_message = ?, last_seen = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query, string(status), statusMessage, lastSeen, id)
	if err != nil {
		return fmt.Errorf("update identity status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("identity not found: %w", store.ErrNotFound)
	}
	return nil
}

// ==== ConversationStore implementation ====

const conversationColumns = `id, kind, name, display_name, direct_key, last_activity, created_at`

func (s *SQLiteStore) scanConversation(row *sql.Row) (*store.Conversation, error) {
	var conv store.Conversation
	var kind string
	var directKey sql.NullString
	err := row.Scan(
		&conv.ID,
		&kind,
		&conv.Name,
		&conv.DisplayName,
		&directKey,
		&conv.LastActivity,
		&conv.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("conversation not found: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	conv.Kind = store.Kind(kind)
	if directKey.Valid {
		conv.DirectKey = &directKey.String
	}
	return &conv, nil
}

// CreateConversation creates a public or private conversation.
func (s *SQLiteStore) CreateConversation(ctx context.Context, name, displayName string, kind store.Kind) (*store.Conversation, error) {
	query := `
		INSERT INTO conversations (kind, name, display_name)
		VALUES (?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, string(kind), name, displayName)
	if err != nil {
		if mapped := mapError(err); errors.Is(mapped, store.ErrConflict) {
			return nil, fmt.Errorf("insert conversation: %w", store.ErrConflict)
		}
		return nil, fmt.Errorf("insert conversation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetConversationByID(ctx, id)
}

// CreateDirectConversation creates the direct conversation for a pair and
// registers both identities as participants in one transaction.
func (s *SQLiteStore) CreateDirectConversation(ctx context.Context, directKey string, idA, idB int64) (*store.Conversation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	name := fmt.Sprintf("dm-%d-%d", idA, idB)

	query := `
		INSERT INTO conversations (kind, name, display_name, direct_key)
		VALUES ('direct', ?, ?, ?)
	`
	result, err := tx.ExecContext(ctx, query, name, name, directKey)
	if err != nil {
		if mapped := mapError(err); errors.Is(mapped, store.ErrConflict) {
			return nil, fmt.Errorf("insert direct conversation: %w", store.ErrConflict)
		}
		return nil, fmt.Errorf("insert direct conversation: %w", err)
	}

	convID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	memberQuery := `
		INSERT INTO conversation_members (identity_id, conversation_id)
		VALUES (?, ?)
	`
	if _, err := tx.ExecContext(ctx, memberQuery, idA, convID); err != nil {
		return nil, fmt.Errorf("add first participant: %w", err)
	}
	if _, err := tx.ExecContext(ctx, memberQuery, idB, convID); err != nil {
		return nil, fmt.Errorf("add second participant: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return s.GetConversationByID(ctx, convID)
}

// GetConversationByID retrieves a conversation by ID.
func (s *SQLiteStore) GetConversationByID(ctx context.Context, id int64) (*store.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = ?`
	return s.scanConversation(s.db.QueryRowContext(ctx, query, id))
}

// GetConversationByName retrieves a public conversation by name.
func (s *SQLiteStore) GetConversationByName(ctx context.Context, name string) (*store.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE name = ? AND kind = 'public'`
	return s.scanConversation(s.db.QueryRowContext(ctx, query, name))
}

// GetConversationByDirectKey retrieves a direct conversation by its key.
func (s *SQLiteStore) GetConversationByDirectKey(ctx context.Context, directKey string) (*store.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE direct_key = ?`
	return s.scanConversation(s.db.QueryRowContext(ctx, query, directKey))
}

// ConversationParticipants lists participant identity IDs of a conversation.
func (s *SQLiteStore) ConversationParticipants(ctx context.Context, conversationID int64) ([]int64, error) {
	query := `
		SELECT identity_id FROM conversation_members
		WHERE conversation_id = ?
		ORDER BY joined_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()

	var participants []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		participants = append(participants, id)
	}

	return participants, rows.Err()
}

// TouchActivity advances a conversation's last-activity timestamp.
func (s *SQLiteStore) TouchActivity(ctx context.Context, conversationID int64, ts time.Time) error {
	query := `UPDATE conversations SET last_activity = ? WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, query, ts, conversationID); err != nil {
		return fmt.Errorf("touch conversation activity: %w", err)
	}
	return nil
}

// ==== MessageStore implementation ====

// SaveMessage persists a message and fills in its assigned ID.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *store.Message) error {
	query := `
		INSERT INTO messages (conversation_id, sender_id, body, created_at)
		VALUES (?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, msg.ConversationID, msg.SenderID, msg.Body, msg.CreatedAt)
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

// RecentMessages returns up to limit most recent messages in chronological order.
func (s *SQLiteStore) RecentMessages(ctx context.Context, conversationID int64, limit int) ([]*store.Message, error) {
	query := `
		SELECT m.id, m.conversation_id, m.sender_id, COALESCE(i.display_name, ''), m.body, m.created_at
		FROM messages m
		LEFT JOIN identities i ON i.id = m.sender_id
		WHERE m.conversation_id = ?
		ORDER BY m.id DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		var msg store.Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.SenderName, &msg.Body, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, &msg)
	}

	// Newest were loaded first; reverse for chronological display.
	for i := range len(messages) / 2 {
		messages[i], messages[len(messages)-1-i] = messages[len(messages)-1-i], messages[i]
	}

	return messages, rows.Err()
}
