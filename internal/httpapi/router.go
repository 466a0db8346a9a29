// Package httpapi wires the HTTP surface: middleware chain, route
// registration, and the request handlers.
package httpapi

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/rustygpt/rustygpt/internal/assistant"
	"github.com/rustygpt/rustygpt/internal/auth"
	"github.com/rustygpt/rustygpt/internal/config"
	"github.com/rustygpt/rustygpt/internal/conversation"
	"github.com/rustygpt/rustygpt/internal/middleware"
	"github.com/rustygpt/rustygpt/internal/sse"
	"github.com/rustygpt/rustygpt/internal/supervisor"
)

type Dependencies struct {
	Config       *config.Config
	Log          *slog.Logger
	AuthService  *auth.Service
	Cookies      *auth.CookieWriter
	Conversation *conversation.Service
	Pipeline     *assistant.Pipeline
	Distributed  *supervisor.DistributedCancel
	SSE          *sse.Handler
}

// NewRouter assembles the middleware chain and the full route table.
// Middleware order: request id, rate limit, security headers, auth, CSRF.
// CSRF sits after auth so it can verify against the session-stored token.
func NewRouter(deps Dependencies) http.Handler {
	gin.SetMode(deps.Config.GinMode)
	r := gin.New()
	r.Use(gin.Recovery())

	limiter := middleware.NewRateLimiter(
		deps.Config.RateLimitReadRPS, deps.Config.RateLimitReadBurst,
		deps.Config.RateLimitWriteRPS, deps.Config.RateLimitWriteBurst,
	)

	r.Use(middleware.RequestID())
	r.Use(limiter.Handler())
	r.Use(middleware.SecurityHeaders(deps.Config))

	authMW := auth.NewMiddleware(deps.AuthService, deps.Cookies, deps.Log)
	csrf := middleware.CSRF(deps.Config.CSRFHeaderName)

	h := &handlers{deps: deps}

	r.GET("/health", h.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// The whole /api surface is session-backed, so auth_v1 gates it as a unit.
	// Stateless /v1/chat/completions below stays available either way.
	if deps.Config.FeatureAuthV1 {
		api := r.Group("/api")
		// Login establishes the session, so it sits outside the auth chain.
		api.POST("/auth/login", csrf, h.login)

		authed := api.Group("", authMW.RequireSession(), csrf)
		{
			authed.POST("/auth/refresh", h.refresh)
			authed.POST("/auth/logout", h.logout)
			authed.GET("/auth/me", h.me)

			authed.POST("/conversations", h.createConversation)
			authed.GET("/conversations/:id/threads", h.listThreads)
			authed.GET("/conversations/:id/unread", h.unreadSummary)
			authed.POST("/conversations/:id/participants", h.addParticipant)
			authed.DELETE("/conversations/:id/participants/:user", h.removeParticipant)
			authed.POST("/conversations/:id/invites", h.createInvite)

			authed.POST("/invites/accept", h.acceptInvite)
			authed.DELETE("/invites/:id", h.revokeInvite)

			authed.POST("/threads/:id/root", h.postRoot)
			authed.GET("/threads/:id", h.threadSummary)
			authed.GET("/threads/:id/tree", h.threadTree)
			authed.POST("/threads/:id/read", h.markRead)

			authed.POST("/messages/:id/reply", h.reply)
			authed.POST("/messages/:id/edit", h.editMessage)
			authed.POST("/messages/:id/delete", h.deleteMessage)
			authed.POST("/messages/:id/restore", h.restoreMessage)
			authed.GET("/messages/:id/chunks", h.messageChunks)
			authed.POST("/messages/:id/cancel", h.cancelGeneration)

			authed.POST("/typing", h.typing)
			authed.POST("/presence/heartbeat", h.heartbeat)

			if deps.Config.FeatureSSEV1 {
				authed.GET("/stream/conversations/:id", deps.SSE.Stream)
			}
		}
	}

	// Stateless completions need no identity; stateful requests (bound to a
	// conversation) are rejected inside the handler when unauthenticated.
	r.POST("/v1/chat/completions", authMW.OptionalSession(), csrf, h.chatCompletions)

	c := cors.New(cors.Options{
		AllowedOrigins:   strings.Split(deps.Config.CORSAllowedOrigins, ","),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", deps.Config.CSRFHeaderName, "Last-Event-ID", middleware.RequestIDHeader},
		ExposedHeaders:   []string{auth.RotatedHeader, middleware.RequestIDHeader},
		AllowCredentials: true,
	})
	return c.Handler(r)
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
