package handler

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/smiletrip-api/internal/models"
	"github.com/noah-isme/smiletrip-api/internal/service"
	"github.com/noah-isme/smiletrip-api/internal/utils"
)

func parseQueryInt(c *fiber.Ctx, key string) (int, error) {
	value := strings.TrimSpace(c.Query(key))
	if value == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	return parsed, nil
}

func parseUintParam(c *fiber.Ctx, key string) (uint, bool) {
	parsed, err := strconv.ParseUint(strings.TrimSpace(c.Params(key)), 10, 64)
	if err != nil || parsed == 0 {
		return 0, false
	}
	return uint(parsed), true
}

func userIDFromContext(c *fiber.Ctx) uint {
	if v := c.Locals("user_id"); v != nil {
		if id, ok := v.(uint); ok {
			return id
		}
		if id, ok := v.(int); ok {
			if id < 0 {
				return 0
			}
			return uint(id)
		}
	}
	return 0
}

func userRoleFromContext(c *fiber.Ctx) string {
	if v := c.Locals("user_role"); v != nil {
		if role, ok := v.(string); ok {
			return role
		}
	}
	return ""
}

// actorFromContext returns the authenticated caller. ok is false when no user id was set.
func actorFromContext(c *fiber.Ctx) (service.Actor, bool) {
	userID := userIDFromContext(c)
	if userID == 0 {
		return service.Actor{}, false
	}
	return service.Actor{UserID: userID, Role: models.ParseRole(userRoleFromContext(c))}, true
}

func requestContext(c *fiber.Ctx) context.Context {
	return c.UserContext()
}

// sendServiceError maps messaging sentinel errors onto HTTP statuses.
func sendServiceError(c *fiber.Ctx, logger zerolog.Logger, err error, fallback string) error {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		return utils.Fail(c, fiber.StatusBadRequest, verr.Error(), fiber.Map{"field": verr.Field, "reason": verr.Reason})
	case errors.Is(err, service.ErrValidationFailed):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrForbidden):
		return utils.SendError(c, fiber.StatusForbidden, service.ErrForbidden.Error())
	case errors.Is(err, service.ErrContextNotFound),
		errors.Is(err, service.ErrMessageNotFound),
		errors.Is(err, service.ErrAttachmentNotFound),
		errors.Is(err, service.ErrNotificationNotFound):
		return utils.SendError(c, fiber.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrDuplicateMessage):
		return utils.SendError(c, fiber.StatusConflict, err.Error())
	case errors.Is(err, service.ErrStorageUnavailable):
		logger.Error().Ctx(c.UserContext()).Err(err).Msg("attachment storage unavailable")
		return utils.SendError(c, fiber.StatusServiceUnavailable, service.ErrStorageUnavailable.Error())
	default:
		logger.Error().Ctx(c.UserContext()).Err(err).Msg(fallback)
		return utils.SendError(c, fiber.StatusInternalServerError, fallback)
	}
}
