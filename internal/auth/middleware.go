package auth

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/fathima-sithara/jobboard-chat/internal/domain"
)

// PrincipalKey is the fiber Locals key holding the domain.Principal.
const PrincipalKey = "principal"

// TokenFrom reads a bearer token from the Authorization header, or from the
// token query parameter since browsers cannot set headers on websocket upgrades.
func TokenFrom(c *fiber.Ctx) string {
	if h := c.Get(fiber.HeaderAuthorization); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return c.Query("token")
}

// Required rejects requests without a valid token.
func Required(v *Verifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := v.Verify(TokenFrom(c))
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid or missing token"})
		}
		c.Locals(PrincipalKey, p)
		return c.Next()
	}
}

// Optional stores the principal when the token verifies and an anonymous one
// otherwise. The websocket session closes anonymous callers itself.
func Optional(v *Verifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := v.Verify(TokenFrom(c))
		if err != nil {
			p = domain.Principal{}
		}
		c.Locals(PrincipalKey, p)
		return c.Next()
	}
}

func PrincipalFrom(c *fiber.Ctx) domain.Principal {
	p, _ := c.Locals(PrincipalKey).(domain.Principal)
	return p
}

// ServiceToken guards internal routes called by other backend services.
func ServiceToken(token string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		got := c.Get("X-Service-Token")
		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid service token"})
		}
		return c.Next()
	}
}
