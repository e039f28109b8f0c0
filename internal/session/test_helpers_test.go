package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ndemidenko/relaychat-server/internal/auth"
	"github.com/ndemidenko/relaychat-server/internal/log"
	"github.com/ndemidenko/relaychat-server/internal/proto"
	"github.com/ndemidenko/relaychat-server/internal/store"
	"github.com/ndemidenko/relaychat-server/internal/store/sqlite"
)

type testFixture struct {
	hub   *Hub
	store store.Store
	auth  *auth.Service
}

func newTestFixture(t *testing.T) *testFixture {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte("test-secret-change-me"),
		Issuer:   "test",
		Audience: "test",
		TTL:      time.Hour,
	}
	authService := auth.NewService(st, st, jwtConfig)

	logger := log.New("error")
	hub := NewHub(NewRegistry(), st, authService, logger)

	return &testFixture{hub: hub, store: st, auth: authService}
}

// registerUser creates an account and returns the user and an issued token.
func (f *testFixture) registerUser(t *testing.T, name, email string) (*store.User, string) {
	t.Helper()

	token, user, err := f.auth.Register(context.Background(), name, email, "password")
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return user, token
}

// createChannel persists a channel with the given member user ids.
func (f *testFixture) createChannel(t *testing.T, title, ownerID string, members ...string) *store.Channel {
	t.Helper()

	channel, err := f.store.CreateChannel(context.Background(), &store.Channel{
		Title:   title,
		OwnerID: ownerID,
		Members: members,
	})
	if err != nil {
		t.Fatalf("create channel %s: %v", title, err)
	}
	return channel
}

// sendAction encodes and dispatches one inbound frame for the connection.
func (f *testFixture) sendAction(t *testing.T, conn *Conn, action string, payload any) {
	t.Helper()

	raw, err := proto.Encode(action, payload)
	if err != nil {
		t.Fatalf("encode %s: %v", action, err)
	}
	f.hub.HandleFrame(context.Background(), conn.ID(), raw)
}

// mustFrame drains the connection's outbound queue until a frame with the
// given action arrives.
func mustFrame(t *testing.T, conn *Conn, action string) *proto.Frame {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case raw := <-conn.Outbound():
			frame, err := proto.Decode(raw)
			if err != nil {
				t.Fatalf("decode outbound frame: %v", err)
			}
			if frame.Action == action {
				return frame
			}
		case <-deadline:
			t.Fatalf("expected frame %q not received", action)
		}
	}
}

// expectNoFrame asserts that nothing is queued for the connection.
func expectNoFrame(t *testing.T, conn *Conn) {
	t.Helper()

	select {
	case raw := <-conn.Outbound():
		t.Fatalf("unexpected outbound frame: %s", raw)
	case <-time.After(100 * time.Millisecond):
	}
}

func payloadString(t *testing.T, frame *proto.Frame) string {
	t.Helper()

	var s string
	if err := json.Unmarshal(frame.Payload, &s); err != nil {
		t.Fatalf("unmarshal string payload: %v", err)
	}
	return s
}
