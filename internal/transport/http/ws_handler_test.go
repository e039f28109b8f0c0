package http

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ndemidenko/relaychat-server/internal/proto"
	"github.com/ndemidenko/relaychat-server/internal/store"
)

func TestHealthEndpoint(t *testing.T) {
	ts := startTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestWebSocketAuthAndMessageFlow(t *testing.T) {
	ts := startTestServer(t)

	alice := registerViaAPI(t, ts, "Alice", "alice@example.com")
	bob := registerViaAPI(t, ts, "Bob", "bob@example.com")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connA := dialWS(t, ctx, ts)
	connB := dialWS(t, ctx, ts)

	sendFrame(t, ctx, connA, proto.ActionAuth, alice.Token)
	awaitFrame(t, ctx, connA, proto.ActionAuthSuccess)

	sendFrame(t, ctx, connB, proto.ActionAuth, bob.Token)
	awaitFrame(t, ctx, connB, proto.ActionAuthSuccess)

	// Create a channel over the socket; both members get channel_added.
	sendFrame(t, ctx, connA, proto.ActionCreateChannel, proto.ChannelDraft{
		Title:   "general",
		Members: []string{alice.User.ID, bob.User.ID},
	})

	addedFrame := awaitFrame(t, ctx, connB, proto.ActionChannelAdded)
	var added proto.ChannelAdded
	if err := json.Unmarshal(addedFrame.Payload, &added); err != nil {
		t.Fatalf("unmarshal channel_added: %v", err)
	}
	if added.Title != "general" {
		t.Fatalf("unexpected channel payload: %+v", added)
	}
	awaitFrame(t, ctx, connA, proto.ActionChannelAdded)

	sendFrame(t, ctx, connA, proto.ActionCreateMessage, proto.MessageDraft{
		ChannelID: added.ID,
		Body:      "hi there",
	})

	msgFrame := awaitFrame(t, ctx, connB, proto.ActionMessageAdded)
	var msg store.Message
	if err := json.Unmarshal(msgFrame.Payload, &msg); err != nil {
		t.Fatalf("unmarshal message_added: %v", err)
	}
	if msg.Body != "hi there" || msg.UserID != alice.User.ID {
		t.Fatalf("unexpected message payload: %+v", msg)
	}
}

func TestWebSocketAuthFailure(t *testing.T) {
	ts := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWS(t, ctx, ts)
	sendFrame(t, ctx, conn, proto.ActionAuth, "bogus-token")

	frame := awaitFrame(t, ctx, conn, proto.ActionAuthError)

	var msg string
	if err := json.Unmarshal(frame.Payload, &msg); err != nil {
		t.Fatalf("unmarshal auth_error payload: %v", err)
	}
	if msg == "" {
		t.Fatalf("expected diagnostic auth_error payload")
	}

	// The connection survives a failed handshake.
	sendFrame(t, ctx, conn, proto.ActionAuth, "still-bogus")
	awaitFrame(t, ctx, conn, proto.ActionAuthError)
}

func TestWebSocketMalformedFrameKeepsConnectionOpen(t *testing.T) {
	ts := startTestServer(t)

	alice := registerViaAPI(t, ts, "Alice", "alice@example.com")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWS(t, ctx, ts)

	if err := writeRaw(ctx, conn, []byte(`{"action":"auth","payl`)); err != nil {
		t.Fatalf("write malformed frame: %v", err)
	}

	// A valid handshake still works afterwards.
	sendFrame(t, ctx, conn, proto.ActionAuth, alice.Token)
	awaitFrame(t, ctx, conn, proto.ActionAuthSuccess)
}
