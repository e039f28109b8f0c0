package proto

import (
	"encoding/json"
	"fmt"

	"github.com/ndemidenko/relaychat-server/internal/store"
)

// Frame is the wire envelope for both directions: a tagged action and an
// action-specific payload.
type Frame struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

// Inbound actions.
const (
	ActionAuth          = "auth"
	ActionCreateChannel = "create_channel"
	ActionCreateMessage = "create_message"
)

// Outbound actions.
const (
	ActionAuthSuccess        = "auth_success"
	ActionAuthError          = "auth_error"
	ActionChannelAdded       = "channel_added"
	ActionMessageAdded       = "message_added"
	ActionCreateMessageError = "create_message_error"
	ActionUserOnline         = "user_online"
	ActionUserOffline        = "user_offline"
)

// ChannelDraft is the create_channel payload sent by a client.
type ChannelDraft struct {
	Title       string   `json:"title"`
	LastMessage string   `json:"lastMessage"`
	Members     []string `json:"members"`
}

// MessageDraft is the create_message payload sent by a client.
// UserID is stamped server-side from the connection identity.
type MessageDraft struct {
	ChannelID string `json:"channelId"`
	Body      string `json:"body"`
}

// ChannelAdded is the channel_added payload: the stored channel plus the
// resolved member projections for display.
type ChannelAdded struct {
	store.Channel
	Users []*store.UserRef `json:"users"`
}

// Decode parses a raw frame. A malformed frame or missing action tag is a
// decode error; the caller logs it and drops the frame.
func Decode(raw []byte) (*Frame, error) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if frame.Action == "" {
		return nil, fmt.Errorf("decode frame: missing action")
	}
	return &frame, nil
}

// Encode builds a raw frame for the given action and payload. It fails only
// for payloads that cannot be marshalled, which callers treat as a bug.
func Encode(action string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	raw, err := json.Marshal(Frame{Action: action, Payload: data})
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return raw, nil
}
