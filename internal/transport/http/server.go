package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/ndemidenko/relaychat-server/internal/auth"
	"github.com/ndemidenko/relaychat-server/internal/config"
	"github.com/ndemidenko/relaychat-server/internal/session"
	"github.com/ndemidenko/relaychat-server/internal/store"
)

// NewServer builds the HTTP server: REST API, health check, and the
// WebSocket session endpoint.
func NewServer(hub *session.Hub, authService *auth.Service, st store.Store, cfg config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/health", healthHandler)
	router.GET("/ws", gin.WrapH(NewWSHandler(hub, cfg.WSRateLimit, logger)))

	apiHandlers := NewAPIHandlers(authService, st, logger)
	channelHandlers := NewChannelHandlers(st, logger)

	api := router.Group("/api")
	api.POST("/register", apiHandlers.Register)
	api.POST("/login", apiHandlers.Login)

	authed := api.Group("", AuthMiddleware(authService, logger))
	authed.GET("/users/search", apiHandlers.SearchUsers)
	authed.GET("/channels", channelHandlers.ListChannels)
	authed.GET("/channels/:id/messages", channelHandlers.ListMessages)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
