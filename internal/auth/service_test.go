package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ndemidenko/relaychat-server/internal/store/sqlite"
)

func newTestAuthService(t *testing.T) (*Service, *sqlite.SQLiteStore) {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	jwtConfig := &JWTConfig{
		Secret:   []byte("test-secret-change-me"),
		Issuer:   "test",
		Audience: "test",
		TTL:      time.Hour,
	}

	return NewService(st, st, jwtConfig), st
}

func TestRegister_RejectsInvalidInput(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	if _, _, err := svc.Register(ctx, "", "a@b.co", "password"); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
	if _, _, err := svc.Register(ctx, "Alice", "not-an-email", "password"); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("expected ErrInvalidEmail, got %v", err)
	}
	if _, _, err := svc.Register(ctx, "Alice", "a@b.co", "abc"); !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("expected ErrInvalidPassword, got %v", err)
	}
}

func TestRegister_NormalizesEmailAndRejectsDuplicates(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	token, user, err := svc.Register(ctx, " Alice ", " ALICE@Example.com ", "password")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if token == "" {
		t.Fatalf("expected non-empty token")
	}
	if user.Email != "alice@example.com" {
		t.Fatalf("email should be lowercased and trimmed, got %q", user.Email)
	}
	if user.Name != "Alice" {
		t.Fatalf("name should be trimmed, got %q", user.Name)
	}

	if _, _, err := svc.Register(ctx, "Other", "alice@example.com", "password"); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestLogin(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	if _, _, err := svc.Register(ctx, "Alice", "alice@example.com", "password"); err != nil {
		t.Fatalf("register: %v", err)
	}

	token, user, err := svc.Login(ctx, "alice@example.com", "password")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if token == "" || user == nil {
		t.Fatalf("expected token and user")
	}

	if _, _, err := svc.Login(ctx, "alice@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong password, got %v", err)
	}
	if _, _, err := svc.Login(ctx, "nobody@example.com", "password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}

func TestLoadTokenAndUser(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	token, user, err := svc.Register(ctx, "Alice", "alice@example.com", "password")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	userID, err := svc.LoadTokenAndUser(ctx, token)
	if err != nil {
		t.Fatalf("load token: %v", err)
	}
	if userID != user.ID {
		t.Fatalf("expected user %s, got %s", user.ID, userID)
	}
}

func TestLoadTokenAndUser_RejectsGarbage(t *testing.T) {
	svc, _ := newTestAuthService(t)

	if _, err := svc.LoadTokenAndUser(context.Background(), "garbage"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestLoadTokenAndUser_RejectsRevokedRow(t *testing.T) {
	svc, st := newTestAuthService(t)
	ctx := context.Background()

	token, _, err := svc.Register(ctx, "Alice", "alice@example.com", "password")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := st.DeleteToken(ctx, claims.TokenID); err != nil {
		t.Fatalf("delete token row: %v", err)
	}

	if _, err := svc.LoadTokenAndUser(ctx, token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid after revocation, got %v", err)
	}
}

func TestLoadTokenAndUser_RejectsForeignSignature(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	if _, _, err := svc.Register(ctx, "Alice", "alice@example.com", "password"); err != nil {
		t.Fatalf("register: %v", err)
	}

	foreign := &JWTConfig{
		Secret:   []byte("other-secret"),
		Issuer:   "test",
		Audience: "test",
		TTL:      time.Hour,
	}
	forged, err := GenerateToken(foreign, "someone", "some-row")
	if err != nil {
		t.Fatalf("generate forged token: %v", err)
	}

	if _, err := svc.LoadTokenAndUser(ctx, forged); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for forged token, got %v", err)
	}
}
