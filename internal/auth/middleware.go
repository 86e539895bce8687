package auth

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"portal-gateway/internal/engine"
	"portal-gateway/internal/identity"
	"portal-gateway/internal/instrument"
	"portal-gateway/internal/metadata"
)

// AuthMiddleware returns a Fiber middleware that resolves the session token
// into a full profile and sets it on the request. The token is verified
// against secret on every request, so a cached profile never outlives the
// token it was fetched with.
func AuthMiddleware(cookieName, secret string, profiles identity.Authority, logger *zap.Logger) fiber.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *fiber.Ctx) error {
		token, err := SessionToken(c, cookieName)
		if err != nil {
			return err
		}
		if _, err := ParseAccessToken(token, secret); err != nil {
			logger.Debug("session token rejected", zap.Error(err))
			return engine.UnauthorizedError("Invalid or expired session")
		}

		user, err := profiles.Profile(c.UserContext(), token)
		if err != nil {
			if errors.Is(err, identity.ErrUnauthorized) {
				return engine.UnauthorizedError("Invalid or expired session")
			}
			logger.Warn("profile lookup failed", zap.Error(err))
			return engine.UpstreamError("identity service", err)
		}

		c.Locals("user", user)
		c.Locals("token", token)
		c.SetUserContext(instrument.WithUserID(c.UserContext(), user.ID))
		return c.Next()
	}
}

// SessionToken reads the token from the Authorization header, falling back to
// the session cookie.
func SessionToken(c *fiber.Ctx, cookieName string) (string, error) {
	if header := c.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			return "", engine.UnauthorizedError("Invalid auth header format")
		}
		return parts[1], nil
	}
	if token := c.Cookies(cookieName); token != "" {
		return token, nil
	}
	return "", engine.UnauthorizedError("Missing session token")
}

// RequireRole allows the request only when the current role is one of roles.
func RequireRole(roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := GetUser(c)
		if user == nil {
			return engine.UnauthorizedError("Missing session token")
		}
		for _, r := range roles {
			if user.HasRole(r) {
				return c.Next()
			}
		}
		return engine.ForbiddenError("Role not allowed", "")
	}
}

// GetUser extracts the profile from a Fiber context.
func GetUser(c *fiber.Ctx) *metadata.User {
	user, _ := c.Locals("user").(*metadata.User)
	return user
}
