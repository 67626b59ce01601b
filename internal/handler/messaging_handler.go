package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/smiletrip-api/internal/dto"
	"github.com/noah-isme/smiletrip-api/internal/service"
	"github.com/noah-isme/smiletrip-api/internal/utils"
)

// MessagingHandler exposes booking conversations and their messages.
type MessagingHandler struct {
	conversations service.ConversationService
	messages      service.MessageService
	logger        zerolog.Logger
}

// NewMessagingHandler constructs a messaging handler.
func NewMessagingHandler(conversations service.ConversationService, messages service.MessageService, logger zerolog.Logger) *MessagingHandler {
	return &MessagingHandler{
		conversations: conversations,
		messages:      messages,
		logger:        logger.With().Str("component", "messaging_handler").Logger(),
	}
}

// RegisterConversations binds the conversation routes.
func (h *MessagingHandler) RegisterConversations(router fiber.Router) {
	router.Get("/", h.listConversations)
	router.Get("/:contextId/messages", h.openConversation)
	router.Put("/:contextId/read", h.markConversationRead)
}

// RegisterMessages binds the message routes. Extra handlers run before creation, e.g. a rate limiter.
func (h *MessagingHandler) RegisterMessages(router fiber.Router, createGuards ...fiber.Handler) {
	handlers := append(createGuards, h.createMessage)
	router.Post("/", handlers...)
	router.Put("/:id/read", h.markMessageRead)
}

func (h *MessagingHandler) listConversations(c *fiber.Ctx) error {
	actor, ok := actorFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}
	offset, err := parseQueryInt(c, "offset")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid offset")
	}

	summaries, err := h.conversations.List(requestContext(c), actor, limit, offset)
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to load conversations")
	}

	return utils.OK(c, summaries, "conversations", fiber.Map{"limit": limit, "offset": offset, "count": len(summaries)})
}

func (h *MessagingHandler) openConversation(c *fiber.Ctx) error {
	actor, ok := actorFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	contextID, ok := parseUintParam(c, "contextId")
	if !ok {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid context id")
	}

	messages, err := h.messages.Open(requestContext(c), actor, contextID)
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to load messages")
	}

	return utils.SendSuccess(c, "messages", messages)
}

func (h *MessagingHandler) markConversationRead(c *fiber.Ctx) error {
	actor, ok := actorFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	contextID, ok := parseUintParam(c, "contextId")
	if !ok {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid context id")
	}

	updated, err := h.messages.MarkRead(requestContext(c), actor, contextID)
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to mark messages read")
	}

	return utils.SendSuccess(c, "messages marked read", dto.MarkReadResponse{Updated: updated})
}

func (h *MessagingHandler) createMessage(c *fiber.Ctx) error {
	actor, ok := actorFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	var req dto.MessageCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	message, err := h.messages.Create(requestContext(c), actor, req)
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to send message")
	}

	h.logger.Info().Ctx(c.UserContext()).
		Uint("message_id", message.ID).
		Uint("context_id", message.ContextID).
		Uint("sender_id", actor.UserID).
		Msg("message sent")

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "message sent", message)
}

func (h *MessagingHandler) markMessageRead(c *fiber.Ctx) error {
	actor, ok := actorFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	messageID, ok := parseUintParam(c, "id")
	if !ok {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid message id")
	}

	message, err := h.messages.MarkMessageRead(requestContext(c), actor, messageID)
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to mark message read")
	}

	return utils.SendSuccess(c, "message marked read", message)
}
