package http

import (
	"context"
	"errors"
	"io"
	stdhttp "net/http"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/ndemidenko/relaychat-server/internal/session"
)

// WSHandler upgrades HTTP connections and bridges them to the session hub:
// the read loop feeds inbound frames to the hub, the write loop drains the
// registry record's outbound queue into the socket.
type WSHandler struct {
	hub       *session.Hub
	rateLimit int
	log       *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *session.Hub, rateLimit int, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{hub: hub, rateLimit: rateLimit, log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	record := h.hub.Registry().Open()
	h.log.Debug().Str("conn_id", record.ID()).Msg("connection opened")

	// The request context dies with the socket; presence bookkeeping still
	// has to reach the store afterwards.
	defer h.hub.HandleDisconnect(context.WithoutCancel(r.Context()), record.ID())

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, record)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, record)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != 0 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("conn_id", record.ID()).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, record *session.Conn) error {
	limiter := newRateLimiter(h.rateLimit)
	defer limiter.stop()

	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		if !limiter.allow() {
			h.log.Warn().Str("conn_id", record.ID()).Msg("rate limit exceeded, dropping frame")
			continue
		}

		// Decode failures are handled inside the hub: logged, dropped, and
		// the connection stays open.
		h.hub.HandleFrame(ctx, record.ID(), raw)
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, record *session.Conn) error {
	for {
		select {
		case frame := <-record.Outbound():
			if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
				h.log.Error().Err(err).Str("conn_id", record.ID()).Msg("write ws frame")
				return err
			}
		case <-record.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
