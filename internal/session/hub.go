package session

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/ndemidenko/relaychat-server/internal/proto"
	"github.com/ndemidenko/relaychat-server/internal/store"
)

// TokenResolver resolves a presented credential to a user id.
type TokenResolver interface {
	LoadTokenAndUser(ctx context.Context, token string) (string, error)
}

// Hub dispatches decoded actions against connection state and tracks
// presence transitions. It is stateless per call; the only shared state is
// the registry, and every continuation after a store call re-fetches the
// record by id, treating a missing record as the user having disconnected
// mid-operation.
type Hub struct {
	registry *Registry
	fanout   *Fanout
	users    store.UserStore
	channels store.ChannelStore
	messages store.MessageStore
	tokens   TokenResolver
	log      *zerolog.Logger
}

// NewHub constructs the session hub over the given collaborators.
func NewHub(registry *Registry, st store.Store, tokens TokenResolver, logger *zerolog.Logger) *Hub {
	return &Hub{
		registry: registry,
		fanout:   NewFanout(registry, st, logger),
		users:    st,
		channels: st,
		messages: st,
		tokens:   tokens,
		log:      logger,
	}
}

// Registry exposes the connection table to the transport layer.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// HandleFrame decodes one inbound frame from the connection and dispatches
// it. No failure here is fatal: malformed frames are logged and dropped, and
// unknown actions are ignored for forward compatibility.
func (h *Hub) HandleFrame(ctx context.Context, connID string, raw []byte) {
	frame, err := proto.Decode(raw)
	if err != nil {
		h.log.Warn().Err(err).Str("conn_id", connID).Msg("drop malformed frame")
		return
	}

	switch frame.Action {
	case proto.ActionAuth:
		h.handleAuth(ctx, connID, frame.Payload)
	case proto.ActionCreateChannel:
		h.handleCreateChannel(ctx, connID, frame.Payload)
	case proto.ActionCreateMessage:
		h.handleCreateMessage(ctx, connID, frame.Payload)
	default:
		h.log.Debug().Str("conn_id", connID).Str("action", frame.Action).Msg("ignore unknown action")
	}
}

// HandleDisconnect removes the connection record and derives the user's
// offline transition: when the last connection of a user goes away, channel
// peers are notified and the offline status is persisted.
func (h *Hub) HandleDisconnect(ctx context.Context, connID string) {
	rec, err := h.registry.Close(connID)
	if err != nil {
		// Socket teardown can race a double close; nothing to do.
		h.log.Debug().Str("conn_id", connID).Msg("close of unknown connection")
		return
	}

	userID, ok := rec.Identity.UserID()
	if !ok {
		return
	}

	if h.registry.CountForUser(userID) > 0 {
		// Another device is still connected; no transition.
		return
	}

	frame, err := proto.Encode(proto.ActionUserOffline, userID)
	if err != nil {
		h.log.Error().Err(err).Msg("encode user_offline")
	} else {
		h.fanout.ToChannelPeers(ctx, userID, frame)
	}

	if err := h.users.UpdateOnlineStatus(ctx, userID, false); err != nil {
		h.log.Warn().Err(err).Str("user_id", userID).Msg("persist offline status")
	}
}

func (h *Hub) handleAuth(ctx context.Context, connID string, payload json.RawMessage) {
	var token string
	if err := json.Unmarshal(payload, &token); err != nil {
		h.log.Warn().Err(err).Str("conn_id", connID).Msg("drop malformed auth payload")
		return
	}

	userID, authErr := h.tokens.LoadTokenAndUser(ctx, token)

	// The token lookup may have outlived the connection.
	rec, ok := h.registry.Get(connID)
	if !ok {
		return
	}

	if authErr != nil {
		h.log.Debug().Err(authErr).Str("conn_id", connID).Msg("auth failed")
		h.reply(rec, proto.ActionAuthError, "Authentication failed in your account: "+token)
		return
	}

	if !h.registry.Update(connID, Authenticated(userID)) {
		return
	}

	h.log.Info().Str("conn_id", connID).Str("user_id", userID).Msg("connection authenticated")
	h.reply(rec, proto.ActionAuthSuccess, "You are verified")

	frame, err := proto.Encode(proto.ActionUserOnline, userID)
	if err != nil {
		h.log.Error().Err(err).Msg("encode user_online")
	} else {
		h.fanout.ToChannelPeers(ctx, userID, frame)
	}

	if err := h.users.UpdateOnlineStatus(ctx, userID, true); err != nil {
		h.log.Warn().Err(err).Str("user_id", userID).Msg("persist online status")
	}
}

func (h *Hub) handleCreateChannel(ctx context.Context, connID string, payload json.RawMessage) {
	var draft proto.ChannelDraft
	if err := json.Unmarshal(payload, &draft); err != nil {
		h.log.Warn().Err(err).Str("conn_id", connID).Msg("drop malformed channel draft")
		return
	}

	rec, ok := h.registry.Get(connID)
	if !ok {
		return
	}

	// No authentication gate here, matching the observed protocol: an
	// anonymous connection creates a channel with no owner. See DESIGN.md.
	ownerID, _ := rec.Identity.UserID()

	channel, err := h.channels.CreateChannel(ctx, &store.Channel{
		Title:       draft.Title,
		LastMessage: draft.LastMessage,
		OwnerID:     ownerID,
		Members:     draft.Members,
	})
	if err != nil {
		h.log.Warn().Err(err).Str("conn_id", connID).Msg("create channel")
		return
	}

	users, err := h.users.FindUsersByIDs(ctx, channel.Members)
	if err != nil {
		h.log.Warn().Err(err).Str("channel_id", channel.ID).Msg("resolve channel members")
	}

	frame, err := proto.Encode(proto.ActionChannelAdded, proto.ChannelAdded{
		Channel: *channel,
		Users:   users,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("encode channel_added")
		return
	}

	h.fanout.ToUsers(channel.Members, frame)
}

func (h *Hub) handleCreateMessage(ctx context.Context, connID string, payload json.RawMessage) {
	rec, ok := h.registry.Get(connID)
	if !ok {
		return
	}

	userID, ok := rec.Identity.UserID()
	if !ok {
		// Unauthenticated senders are silently ignored: no store write,
		// no reply.
		h.log.Debug().Str("conn_id", connID).Msg("ignore create_message from anonymous connection")
		return
	}

	var draft proto.MessageDraft
	if err := json.Unmarshal(payload, &draft); err != nil {
		h.log.Warn().Err(err).Str("conn_id", connID).Msg("drop malformed message draft")
		return
	}

	msg, err := h.messages.CreateMessage(ctx, &store.Message{
		ChannelID: draft.ChannelID,
		UserID:    userID,
		Body:      draft.Body,
	})
	if err != nil {
		h.log.Warn().Err(err).Str("conn_id", connID).Str("channel_id", draft.ChannelID).Msg("create message")
		h.replyRaw(connID, proto.ActionCreateMessageError, payload)
		return
	}

	channel, err := h.channels.GetChannelByID(ctx, msg.ChannelID)
	if err != nil {
		h.log.Warn().Err(err).Str("channel_id", msg.ChannelID).Msg("load channel for fan-out")
		h.replyRaw(connID, proto.ActionCreateMessageError, payload)
		return
	}

	frame, err := proto.Encode(proto.ActionMessageAdded, msg)
	if err != nil {
		h.log.Error().Err(err).Msg("encode message_added")
		return
	}

	h.fanout.ToUsers(channel.Members, frame)
}

// reply delivers a direct response to the triggering connection.
func (h *Hub) reply(rec Record, action string, payload any) {
	frame, err := proto.Encode(action, payload)
	if err != nil {
		h.log.Error().Err(err).Str("action", action).Msg("encode reply")
		return
	}
	rec.Deliver(frame)
}

// replyRaw echoes an already-encoded payload back under a new action,
// re-fetching the record first: the sender may have disconnected while the
// store call was in flight.
func (h *Hub) replyRaw(connID, action string, payload json.RawMessage) {
	rec, ok := h.registry.Get(connID)
	if !ok {
		return
	}
	h.reply(rec, action, payload)
}
