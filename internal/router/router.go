package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/smiletrip-api/internal/config"
	"github.com/noah-isme/smiletrip-api/internal/handler"
	"github.com/noah-isme/smiletrip-api/internal/middleware"
	"github.com/noah-isme/smiletrip-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	MessagingHandler    *handler.MessagingHandler
	AttachmentHandler   *handler.AttachmentHandler
	NotificationHandler *handler.NotificationHandler
	RealtimeHandler     *handler.RealtimeHandler
	HealthChecks        map[string]handler.HealthChecker
	JWTMiddleware       fiber.Handler
	Logger              zerolog.Logger
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.HealthChecks))
	api.Get("/metrics", observability.MetricsHandler(deps.Logger))

	next := func(c *fiber.Ctx) error { return c.Next() }
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = next
	}
	participants := middleware.RequireRole(middleware.MessagingRoles...)
	authenticated := middleware.WithAuth(next, middleware.AuthOptions{RequireUser: true})
	writeLimit := middleware.RateLimit("messaging", cfg.MessageRateLimitPerMinute, time.Minute)

	if deps.MessagingHandler != nil {
		conversations := api.Group("/conversations", jwtMiddleware, participants)
		deps.MessagingHandler.RegisterConversations(conversations)

		messages := api.Group("/messages", jwtMiddleware, participants)
		deps.MessagingHandler.RegisterMessages(messages, writeLimit)
	}

	if deps.AttachmentHandler != nil {
		attachments := api.Group("/attachments", jwtMiddleware, participants)
		deps.AttachmentHandler.Register(attachments, writeLimit)
	}

	if deps.NotificationHandler != nil {
		notifications := api.Group("/notifications", jwtMiddleware, authenticated)
		deps.NotificationHandler.Register(notifications)
	}

	if deps.RealtimeHandler != nil {
		realtime := api.Group("/realtime", jwtMiddleware, middleware.WithAuth(next, middleware.AuthOptions{Role: middleware.AuthRoleParticipant}))
		deps.RealtimeHandler.Register(realtime)
	}
}
