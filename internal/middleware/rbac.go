package middleware

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/smiletrip-api/internal/models"
	"github.com/noah-isme/smiletrip-api/internal/utils"
)

// MessagingRoles are the portals allowed into booking conversations.
var MessagingRoles = []models.Role{models.RolePatient, models.RoleClinicStaff, models.RoleAdmin}

// RequireRole rejects callers whose role claim is not one of roles.
func RequireRole(roles ...models.Role) fiber.Handler {
	allowed := make(map[models.Role]struct{}, len(roles))
	for _, role := range roles {
		if normalized := models.ParseRole(string(role)); normalized != "" {
			allowed[normalized] = struct{}{}
		}
	}

	return func(c *fiber.Ctx) error {
		role := models.ParseRole(normalizeRoleValue(c.Locals("user_role")))
		if _, ok := allowed[role]; !ok {
			return utils.Fail(c, fiber.StatusForbidden, "insufficient permissions", fiber.Map{"role": string(role)})
		}
		return c.Next()
	}
}

func normalizeRoleValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.ToLower(strings.TrimSpace(v))
	case models.Role:
		return string(models.ParseRole(string(v)))
	case fmt.Stringer:
		return strings.ToLower(strings.TrimSpace(v.String()))
	default:
		return strings.ToLower(strings.TrimSpace(fmt.Sprintf("%v", value)))
	}
}
