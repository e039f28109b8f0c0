package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a referenced entity does not exist.
var ErrNotFound = errors.New("not found")

// User represents a registered account.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Online       bool
	CreatedAt    time.Time
}

// UserRef is the projection of a user safe to send to clients.
type UserRef struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created"`
}

// Channel represents a named group of users exchanging messages.
// Members is the fixed set of member user ids, owner included.
type Channel struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	LastMessage string    `json:"lastMessage"`
	OwnerID     string    `json:"userId"`
	Members     []string  `json:"members"`
	CreatedAt   time.Time `json:"created"`
}

// Message represents a persisted chat message.
type Message struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channelId"`
	UserID    string    `json:"userId"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created"`
}

// Token is an issued credential row resolved during the socket auth handshake.
type Token struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new user with hashed password.
	CreateUser(ctx context.Context, name, email, passwordHash string) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id string) (*User, error)

	// GetUserByEmail retrieves a user by email.
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// FindUsersByIDs resolves display projections for a set of user ids.
	FindUsersByIDs(ctx context.Context, ids []string) ([]*UserRef, error)

	// SearchUsers searches users by name or email substring.
	SearchUsers(ctx context.Context, query string) ([]*UserRef, error)

	// UpdateOnlineStatus persists the user's online flag.
	UpdateOnlineStatus(ctx context.Context, userID string, online bool) error
}

// ChannelStore handles channel persistence.
type ChannelStore interface {
	// CreateChannel persists a channel draft and its member set.
	CreateChannel(ctx context.Context, draft *Channel) (*Channel, error)

	// GetChannelByID retrieves a channel with its members.
	GetChannelByID(ctx context.Context, id string) (*Channel, error)

	// ListChannelsForUser lists channels the user is a member of, newest first.
	ListChannelsForUser(ctx context.Context, userID string) ([]*Channel, error)

	// OnlinePeerIDs resolves the distinct online members of every channel
	// containing userID. Presence is authoritative in storage, so this is a
	// store-side join over channel membership and the users.online flag.
	OnlinePeerIDs(ctx context.Context, userID string) ([]string, error)
}

// MessageStore handles message persistence.
type MessageStore interface {
	// CreateMessage persists a message draft.
	CreateMessage(ctx context.Context, draft *Message) (*Message, error)

	// ListMessages retrieves messages from a channel, oldest first.
	// If before is set, only messages created strictly earlier are returned.
	ListMessages(ctx context.Context, channelID string, limit int, before *time.Time) ([]*Message, error)
}

// TokenStore handles issued credential persistence.
type TokenStore interface {
	// CreateToken issues a token row for the user.
	CreateToken(ctx context.Context, userID string, expiresAt time.Time) (*Token, error)

	// GetToken retrieves a token row by ID.
	GetToken(ctx context.Context, id string) (*Token, error)

	// DeleteToken revokes a token row.
	DeleteToken(ctx context.Context, id string) error
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	ChannelStore
	MessageStore
	TokenStore

	// Close closes the underlying database connection.
	Close() error
}
