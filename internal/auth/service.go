package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ndemidenko/relaychat-server/internal/store"
)

var (
	// ErrInvalidCredentials is returned when email/password don't match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrEmailTaken is returned when registering with an email already in use.
	ErrEmailTaken = errors.New("email already taken")
	// ErrInvalidName is returned when the display name is empty.
	ErrInvalidName = errors.New("name is required")
	// ErrInvalidEmail is returned when the email address is malformed.
	ErrInvalidEmail = errors.New("invalid email")
	// ErrInvalidPassword is returned when the password is too short.
	ErrInvalidPassword = errors.New("password must be longer than 3 characters")
	// ErrTokenInvalid is returned when a presented credential cannot be resolved.
	ErrTokenInvalid = errors.New("invalid token")
)

var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Service provides account and credential operations.
type Service struct {
	users     store.UserStore
	tokens    store.TokenStore
	jwtConfig *JWTConfig
}

// NewService creates a new authentication service.
func NewService(users store.UserStore, tokens store.TokenStore, jwtConfig *JWTConfig) *Service {
	return &Service{
		users:     users,
		tokens:    tokens,
		jwtConfig: jwtConfig,
	}
}

// Register creates a new user and returns a signed credential.
func (s *Service) Register(ctx context.Context, name, email, password string) (string, *store.User, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))

	if name == "" {
		return "", nil, ErrInvalidName
	}
	if !emailRe.MatchString(email) {
		return "", nil, ErrInvalidEmail
	}
	if len(password) < 4 {
		return "", nil, ErrInvalidPassword
	}

	if existing, err := s.users.GetUserByEmail(ctx, email); err == nil && existing != nil {
		return "", nil, ErrEmailTaken
	}

	hashed, err := HashPassword(password)
	if err != nil {
		return "", nil, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.users.CreateUser(ctx, name, email, hashed)
	if err != nil {
		return "", nil, fmt.Errorf("create user: %w", err)
	}

	token, err := s.issueToken(ctx, user.ID)
	if err != nil {
		return "", nil, err
	}

	return token, user, nil
}

// Login validates credentials and returns a signed credential.
func (s *Service) Login(ctx context.Context, email, password string) (string, *store.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return "", nil, ErrInvalidCredentials
	}

	if errPwd := ComparePassword(user.PasswordHash, password); errPwd != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := s.issueToken(ctx, user.ID)
	if err != nil {
		return "", nil, err
	}

	return token, user, nil
}

// LoadTokenAndUser resolves a presented credential to the user id it was
// issued for. A bad signature, unknown row, mismatched user, or expired
// row all surface as ErrTokenInvalid.
func (s *Service) LoadTokenAndUser(ctx context.Context, tokenString string) (string, error) {
	claims, err := ValidateToken(s.jwtConfig, tokenString)
	if err != nil {
		return "", ErrTokenInvalid
	}

	row, err := s.tokens.GetToken(ctx, claims.TokenID)
	if err != nil {
		return "", ErrTokenInvalid
	}

	if row.UserID != claims.UserID {
		return "", ErrTokenInvalid
	}

	if time.Now().After(row.ExpiresAt) {
		// Expired rows are garbage; drop them on sight.
		_ = s.tokens.DeleteToken(ctx, row.ID)
		return "", ErrTokenInvalid
	}

	return row.UserID, nil
}

// ValidateToken validates a JWT credential and returns its claims.
// Used by the HTTP auth middleware, which does not need the token row.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	return ValidateToken(s.jwtConfig, tokenString)
}

// issueToken persists a token row and wraps it in a signed JWT.
func (s *Service) issueToken(ctx context.Context, userID string) (string, error) {
	row, err := s.tokens.CreateToken(ctx, userID, time.Now().Add(s.jwtConfig.TTL))
	if err != nil {
		return "", fmt.Errorf("create token: %w", err)
	}

	token, err := GenerateToken(s.jwtConfig, userID, row.ID)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	return token, nil
}
