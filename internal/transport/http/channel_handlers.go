package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/ndemidenko/relaychat-server/internal/store"
)

// ChannelHandlers provides HTTP handlers for channel listing and history.
// Channel creation happens over the socket, not here.
type ChannelHandlers struct {
	channels store.ChannelStore
	messages store.MessageStore
	log      *zerolog.Logger
}

// NewChannelHandlers creates a new channel handlers instance.
func NewChannelHandlers(st store.Store, logger *zerolog.Logger) *ChannelHandlers {
	return &ChannelHandlers{
		channels: st,
		messages: st,
		log:      logger,
	}
}

// ListChannels lists the channels the authenticated user is a member of.
// GET /api/channels
func (h *ChannelHandlers) ListChannels(c *gin.Context) {
	userID := c.GetString(ContextKeyUserID)

	channels, err := h.channels.ListChannelsForUser(c.Request.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("failed to list channels")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	if channels == nil {
		channels = []*store.Channel{}
	}
	c.JSON(http.StatusOK, channels)
}

// ListMessages returns channel history, oldest first.
// GET /api/channels/:id/messages?limit=&before=
func (h *ChannelHandlers) ListMessages(c *gin.Context) {
	userID := c.GetString(ContextKeyUserID)
	channelID := c.Param("id")

	channel, err := h.channels.GetChannelByID(c.Request.Context(), channelID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "channel not found"})
			return
		}
		h.log.Error().Err(err).Str("channel_id", channelID).Msg("failed to load channel")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	if !isMember(channel, userID) {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "not a channel member"})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
			return
		}
		limit = parsed
	}

	var before *time.Time
	if raw := c.Query("before"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid before timestamp"})
			return
		}
		before = &parsed
	}

	messages, err := h.messages.ListMessages(c.Request.Context(), channelID, limit, before)
	if err != nil {
		h.log.Error().Err(err).Str("channel_id", channelID).Msg("failed to list messages")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	if messages == nil {
		messages = []*store.Message{}
	}
	c.JSON(http.StatusOK, messages)
}

func isMember(channel *store.Channel, userID string) bool {
	for _, member := range channel.Members {
		if member == userID {
			return true
		}
	}
	return false
}
