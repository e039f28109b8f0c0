package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/ndemidenko/relaychat-server/internal/auth"
	"github.com/ndemidenko/relaychat-server/internal/config"
	"github.com/ndemidenko/relaychat-server/internal/log"
	"github.com/ndemidenko/relaychat-server/internal/proto"
	"github.com/ndemidenko/relaychat-server/internal/session"
	"github.com/ndemidenko/relaychat-server/internal/store/sqlite"
)

func startTestServer(t *testing.T) *httptest.Server {
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
	hub := session.NewHub(session.NewRegistry(), st, authService, logger)

	server := NewServer(hub, authService, st, config.Config{
		Addr:              ":0",
		ReadHeaderTimeout: time.Second,
		ShutdownTimeout:   time.Second,
	}, logger)

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return ts
}

// registerViaAPI creates an account through the REST surface and returns the
// parsed auth response.
func registerViaAPI(t *testing.T, ts *httptest.Server, name, email string) AuthResponse {
	t.Helper()

	body, _ := json.Marshal(RegisterRequest{Name: name, Email: email, Password: "password"})
	resp, err := ts.Client().Post(ts.URL+"/api/register", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("register request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 201 {
		t.Fatalf("register %s: unexpected status %d", email, resp.StatusCode)
	}

	var parsed AuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		t.Fatalf("decode register response: %v", err)
	}
	return parsed
}

func dialWS(t *testing.T, ctx context.Context, ts *httptest.Server) *websocket.Conn {
	t.Helper()

	wsURL := strings.Replace(ts.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func sendFrame(t *testing.T, ctx context.Context, conn *websocket.Conn, action string, payload any) {
	t.Helper()

	raw, err := proto.Encode(action, payload)
	if err != nil {
		t.Fatalf("encode %s: %v", action, err)
	}
	if err := conn.Write(ctx, websocket.MessageText, raw); err != nil {
		t.Fatalf("write %s: %v", action, err)
	}
}

func writeRaw(ctx context.Context, conn *websocket.Conn, raw []byte) error {
	return conn.Write(ctx, websocket.MessageText, raw)
}

// awaitFrame reads frames until one with the given action arrives.
func awaitFrame(t *testing.T, ctx context.Context, conn *websocket.Conn, action string) *proto.Frame {
	t.Helper()

	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read while waiting for %q: %v", action, err)
		}
		frame, err := proto.Decode(raw)
		if err != nil {
			t.Fatalf("decode outbound frame: %v", err)
		}
		if frame.Action == action {
			return frame
		}
	}
}
