package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/smiletrip-api/internal/service"
)

// RealtimeHandler upgrades authenticated requests into live push channels.
type RealtimeHandler struct {
	broadcaster *service.Broadcaster
	logger      zerolog.Logger
}

// NewRealtimeHandler creates a realtime handler instance.
func NewRealtimeHandler(broadcaster *service.Broadcaster, logger zerolog.Logger) *RealtimeHandler {
	return &RealtimeHandler{
		broadcaster: broadcaster,
		logger:      logger.With().Str("component", "realtime_handler").Logger(),
	}
}

// Register binds the websocket route under the provided router group.
func (h *RealtimeHandler) Register(router fiber.Router) {
	router.Use("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		if userIDFromContext(c) == 0 {
			return fiber.ErrUnauthorized
		}
		return c.Next()
	})

	router.Get("/ws", websocket.New(h.handleConnection))
}

func (h *RealtimeHandler) handleConnection(conn *websocket.Conn) {
	userID, _ := conn.Locals("user_id").(uint)
	if userID == 0 {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "user id missing"))
		_ = conn.Close()
		return
	}

	h.logger.Debug().Uint("user_id", userID).Msg("realtime channel opened")
	h.broadcaster.ServeConnection(conn, userID)
	h.logger.Debug().Uint("user_id", userID).Msg("realtime channel closed")
}
