package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ndemidenko/relaychat-server/internal/store"
	"github.com/ndemidenko/relaychat-server/internal/utils"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	online        BOOLEAN NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS channels (
	id           TEXT PRIMARY KEY,
	title        TEXT NOT NULL,
	last_message TEXT NOT NULL DEFAULT '',
	owner_id     TEXT,
	created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY (owner_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS channel_members (
	channel_id TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	PRIMARY KEY (channel_id, user_id),
	FOREIGN KEY (channel_id) REFERENCES channels(id),
	FOREIGN KEY (user_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	channel_id TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	body       TEXT NOT NULL,
	-- millisecond precision keeps history ordering stable
	created_at DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f', 'now')),
	FOREIGN KEY (channel_id) REFERENCES channels(id),
	FOREIGN KEY (user_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS tokens (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	expires_at DATETIME NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY (user_id) REFERENCES users(id)
);

CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(channel_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_channel_members_user ON channel_members(user_id);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, func(db *sql.DB) error {
		_, err := db.Exec(schema)
		return err
	})
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply a custom schema or seed rows.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
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

// CreateUser creates a new user with hashed password.
func (s *SQLiteStore) CreateUser(ctx context.Context, name, email, passwordHash string) (*store.User, error) {
	id := utils.NewID()
	query := `
		INSERT INTO users (id, name, email, password_hash, online)
		VALUES (?, ?, ?, ?, 0)
	`
	if _, err := s.db.ExecContext(ctx, query, id, name, email, passwordHash); err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	return s.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*store.User, error) {
	query := `
		SELECT id, name, email, password_hash, online, created_at
		FROM users
		WHERE id = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

// GetUserByEmail retrieves a user by email.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*store.User, error) {
	query := `
		SELECT id, name, email, password_hash, online, created_at
		FROM users
		WHERE email = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, email))
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*store.User, error) {
	var user store.User
	err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.PasswordHash,
		&user.Online,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}

	return &user, nil
}

// FindUsersByIDs resolves display projections for a set of user ids.
func (s *SQLiteStore) FindUsersByIDs(ctx context.Context, ids []string) ([]*store.UserRef, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT id, name, created_at FROM users WHERE id IN (?` // expanded below
	args := make([]any, 0, len(ids))
	args = append(args, ids[0])
	for _, id := range ids[1:] {
		query += ",?"
		args = append(args, id)
	}
	query += ")"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	return scanUserRefs(rows)
}

// SearchUsers searches users by name or email substring.
func (s *SQLiteStore) SearchUsers(ctx context.Context, search string) ([]*store.UserRef, error) {
	query := `
		SELECT id, name, created_at
		FROM users
		WHERE name LIKE ? OR email LIKE ?
		ORDER BY name
	`
	pattern := "%" + search + "%"
	rows, err := s.db.QueryContext(ctx, query, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()

	return scanUserRefs(rows)
}

func scanUserRefs(rows *sql.Rows) ([]*store.UserRef, error) {
	var refs []*store.UserRef
	for rows.Next() {
		var ref store.UserRef
		if err := rows.Scan(&ref.ID, &ref.Name, &ref.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		refs = append(refs, &ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return refs, nil
}

// UpdateOnlineStatus persists the user's online flag.
func (s *SQLiteStore) UpdateOnlineStatus(ctx context.Context, userID string, online bool) error {
	result, err := s.db.ExecContext(ctx, `UPDATE users SET online = ? WHERE id = ?`, online, userID)
	if err != nil {
		return fmt.Errorf("update online status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("user: %w", store.ErrNotFound)
	}

	return nil
}

// ==== ChannelStore implementation ====

// CreateChannel persists a channel draft and its member set.
func (s *SQLiteStore) CreateChannel(ctx context.Context, draft *store.Channel) (*store.Channel, error) {
	id := draft.ID
	if id == "" {
		id = utils.NewID()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var ownerID sql.NullString
	if draft.OwnerID != "" {
		ownerID = sql.NullString{String: draft.OwnerID, Valid: true}
	}

	insert := `
		INSERT INTO channels (id, title, last_message, owner_id)
		VALUES (?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, insert, id, draft.Title, draft.LastMessage, ownerID); err != nil {
		return nil, fmt.Errorf("insert channel: %w", err)
	}

	seen := make(map[string]struct{}, len(draft.Members))
	for _, member := range draft.Members {
		if member == "" {
			continue
		}
		if _, dup := seen[member]; dup {
			continue
		}
		seen[member] = struct{}{}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO channel_members (channel_id, user_id) VALUES (?, ?)`,
			id, member,
		); err != nil {
			return nil, fmt.Errorf("insert channel member: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit channel: %w", err)
	}

	return s.GetChannelByID(ctx, id)
}

// GetChannelByID retrieves a channel with its members.
func (s *SQLiteStore) GetChannelByID(ctx context.Context, id string) (*store.Channel, error) {
	query := `
		SELECT id, title, last_message, owner_id, created_at
		FROM channels
		WHERE id = ?
	`
	var channel store.Channel
	var ownerID sql.NullString
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&channel.ID,
		&channel.Title,
		&channel.LastMessage,
		&ownerID,
		&channel.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("channel: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query channel: %w", err)
	}
	if ownerID.Valid {
		channel.OwnerID = ownerID.String
	}

	members, err := s.channelMembers(ctx, id)
	if err != nil {
		return nil, err
	}
	channel.Members = members

	return &channel, nil
}

func (s *SQLiteStore) channelMembers(ctx context.Context, channelID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM channel_members WHERE channel_id = ? ORDER BY user_id`,
		channelID,
	)
	if err != nil {
		return nil, fmt.Errorf("query channel members: %w", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan channel member: %w", err)
		}
		members = append(members, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channel members: %w", err)
	}
	return members, nil
}

// ListChannelsForUser lists channels the user is a member of, newest first.
func (s *SQLiteStore) ListChannelsForUser(ctx context.Context, userID string) ([]*store.Channel, error) {
	query := `
		SELECT c.id
		FROM channels c
		JOIN channel_members cm ON cm.channel_id = c.id
		WHERE cm.user_id = ?
		ORDER BY c.created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan channel id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channels: %w", err)
	}

	channels := make([]*store.Channel, 0, len(ids))
	for _, id := range ids {
		channel, err := s.GetChannelByID(ctx, id)
		if err != nil {
			return nil, err
		}
		channels = append(channels, channel)
	}
	return channels, nil
}

// OnlinePeerIDs resolves the distinct online members of every channel
// containing userID. Presence is read from storage, not the registry.
func (s *SQLiteStore) OnlinePeerIDs(ctx context.Context, userID string) ([]string, error) {
	query := `
		SELECT DISTINCT u.id
		FROM channel_members own
		JOIN channel_members peer ON peer.channel_id = own.channel_id
		JOIN users u ON u.id = peer.user_id
		WHERE own.user_id = ? AND u.online = 1
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query online peers: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan peer id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate peers: %w", err)
	}
	return ids, nil
}

// ==== MessageStore implementation ====

// CreateMessage persists a message draft and refreshes the channel summary.
func (s *SQLiteStore) CreateMessage(ctx context.Context, draft *store.Message) (*store.Message, error) {
	id := draft.ID
	if id == "" {
		id = utils.NewID()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	insert := `
		INSERT INTO messages (id, channel_id, user_id, body)
		VALUES (?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, insert, id, draft.ChannelID, draft.UserID, draft.Body); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	update := `UPDATE channels SET last_message = ? WHERE id = ?`
	if _, err := tx.ExecContext(ctx, update, draft.Body, draft.ChannelID); err != nil {
		return nil, fmt.Errorf("update channel summary: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit message: %w", err)
	}

	query := `
		SELECT id, channel_id, user_id, body, created_at
		FROM messages
		WHERE id = ?
	`
	var msg store.Message
	err = s.db.QueryRowContext(ctx, query, id).Scan(
		&msg.ID,
		&msg.ChannelID,
		&msg.UserID,
		&msg.Body,
		&msg.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("query message: %w", err)
	}

	return &msg, nil
}

// ListMessages retrieves messages from a channel, oldest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, channelID string, limit int, before *time.Time) ([]*store.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, channel_id, user_id, body, created_at
		FROM messages
		WHERE channel_id = ?
	`
	args := []any{channelID}
	if before != nil {
		// Bind in the same text format rows are stored in so the
		// comparison stays lexicographic-safe.
		query += ` AND created_at < ?`
		args = append(args, before.UTC().Format("2006-01-02 15:04:05.000"))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		var msg store.Message
		if err := rows.Scan(&msg.ID, &msg.ChannelID, &msg.UserID, &msg.Body, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	// Reverse into chronological order for display.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// ==== TokenStore implementation ====

// CreateToken issues a token row for the user.
func (s *SQLiteStore) CreateToken(ctx context.Context, userID string, expiresAt time.Time) (*store.Token, error) {
	id := utils.NewID()
	insert := `
		INSERT INTO tokens (id, user_id, expires_at)
		VALUES (?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, insert, id, userID, expiresAt.UTC()); err != nil {
		return nil, fmt.Errorf("insert token: %w", err)
	}

	return s.GetToken(ctx, id)
}

// GetToken retrieves a token row by ID.
func (s *SQLiteStore) GetToken(ctx context.Context, id string) (*store.Token, error) {
	query := `
		SELECT id, user_id, expires_at, created_at
		FROM tokens
		WHERE id = ?
	`
	var token store.Token
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&token.ID,
		&token.UserID,
		&token.ExpiresAt,
		&token.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("token: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query token: %w", err)
	}

	return &token, nil
}

// DeleteToken revokes a token row.
func (s *SQLiteStore) DeleteToken(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tokens WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}
