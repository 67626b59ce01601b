package handler

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/smiletrip-api/internal/service"
	"github.com/noah-isme/smiletrip-api/internal/utils"
)

// AttachmentHandler accepts conversation file uploads.
type AttachmentHandler struct {
	service service.AttachmentService
	logger  zerolog.Logger
}

// NewAttachmentHandler constructs an attachment handler.
func NewAttachmentHandler(service service.AttachmentService, logger zerolog.Logger) *AttachmentHandler {
	return &AttachmentHandler{
		service: service,
		logger:  logger.With().Str("component", "attachment_handler").Logger(),
	}
}

// Register wires attachment routes. Extra handlers run before uploads.
func (h *AttachmentHandler) Register(router fiber.Router, uploadGuards ...fiber.Handler) {
	handlers := append(uploadGuards, h.upload)
	router.Post("/", handlers...)
	router.Get("/:id", h.get)
}

func (h *AttachmentHandler) upload(c *fiber.Ctx) error {
	actor, ok := actorFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	contextID, err := strconv.ParseUint(strings.TrimSpace(c.FormValue("contextId")), 10, 64)
	if err != nil || contextID == 0 {
		return utils.Fail(c, fiber.StatusBadRequest, "contextId: is required", fiber.Map{"field": "contextId", "reason": "is required"})
	}

	file, err := c.FormFile("file")
	if err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, "file: is required", fiber.Map{"field": "file", "reason": "is required"})
	}

	result, err := h.service.Upload(requestContext(c), actor, uint(contextID), file)
	if err != nil {
		return sendServiceError(c, h.logger, err, "upload failed")
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "upload successful", result)
}

func (h *AttachmentHandler) get(c *fiber.Ctx) error {
	actor, ok := actorFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	id, ok := parseUintParam(c, "id")
	if !ok {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid attachment id")
	}

	result, err := h.service.Get(requestContext(c), actor, id)
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to load attachment")
	}

	return utils.SendSuccess(c, "attachment", result)
}
