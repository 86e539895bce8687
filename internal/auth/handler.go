package auth

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"portal-gateway/internal/engine"
	"portal-gateway/internal/identity"
	"portal-gateway/internal/metadata"
	"portal-gateway/internal/session"
	"portal-gateway/internal/validation"
)

// CookieConfig controls the session cookie.
type CookieConfig struct {
	Name     string
	Secure   bool
	MaxAge   time.Duration
	Fallback string // redirect target when the callback is missing or unsafe
	// SnapshotMaxAge is the oldest client snapshot RestoreSession accepts.
	// Zero disables the age check.
	SnapshotMaxAge time.Duration
}

// invalidator is implemented by authorities that cache profiles per token.
type invalidator interface {
	Invalidate(token string)
}

// AuthHandler handles the session endpoints.
type AuthHandler struct {
	authority identity.Authority
	cookie    CookieConfig
	logger    *zap.Logger
	now       func() time.Time
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(authority identity.Authority, cookie CookieConfig, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cookie.Fallback == "" {
		cookie.Fallback = "/dashboard"
	}
	return &AuthHandler{authority: authority, cookie: cookie, logger: logger.Named("auth"), now: time.Now}
}

type loginRequest struct {
	CPF         string `json:"cpf" validate:"required,cpf"`
	Password    string `json:"password" validate:"required"`
	CallbackURL string `json:"callbackUrl"`
}

type selectRoleRequest struct {
	ModuleID int `json:"module_id" validate:"gt=0"`
	RoleID   int `json:"role_id" validate:"gt=0"`
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var body loginRequest
	if err := c.BodyParser(&body); err != nil {
		return engine.InvalidPayloadError("Invalid request body")
	}
	if err := validation.Struct(body); err != nil {
		return engine.ValidationErrorFrom(err)
	}

	token, err := h.authority.Login(c.UserContext(), body.CPF, body.Password)
	if err != nil {
		if errors.Is(err, identity.ErrUnauthorized) {
			return engine.UnauthorizedError("Invalid CPF or password")
		}
		h.logger.Warn("login failed", zap.Error(err))
		return engine.UpstreamError("identity service", err)
	}

	h.setSessionCookie(c, token)
	return c.JSON(fiber.Map{"data": fiber.Map{
		"token":    token,
		"redirect": SafeRedirect(body.CallbackURL, h.cookie.Fallback),
	}})
}

// SelectRole handles POST /api/auth/select-role. The cookie is replaced and the
// old profile dropped before the response goes out, so the next request
// already sees the new role.
func (h *AuthHandler) SelectRole(c *fiber.Ctx) error {
	var body selectRoleRequest
	if err := c.BodyParser(&body); err != nil {
		return engine.InvalidPayloadError("Invalid request body")
	}
	if err := validation.Struct(body); err != nil {
		return engine.ValidationErrorFrom(err)
	}

	oldToken, _ := c.Locals("token").(string)
	ctx := c.UserContext()
	newToken, err := h.authority.SelectRole(ctx, oldToken, body.ModuleID, body.RoleID)
	switch {
	case errors.Is(err, identity.ErrRoleNotAvailable):
		return engine.NewAppError("ROLE_NOT_AVAILABLE", fiber.StatusUnprocessableEntity, "Role is not available in this module")
	case errors.Is(err, identity.ErrUnauthorized):
		return engine.UnauthorizedError("Invalid or expired session")
	case err != nil:
		h.logger.Warn("select role failed", zap.Error(err))
		return engine.UpstreamError("identity service", err)
	}

	h.invalidate(oldToken)
	h.setSessionCookie(c, newToken)

	user, err := h.authority.Profile(ctx, newToken)
	if err != nil {
		return engine.UpstreamError("identity service", err)
	}
	h.logger.Info("role selected",
		zap.String("user_id", user.ID),
		zap.Int("module_id", body.ModuleID),
		zap.Int("role_id", body.RoleID),
	)
	return c.JSON(fiber.Map{"data": h.profileResponse(user, newToken)})
}

// Logout handles POST /api/auth/logout. It succeeds without a session.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	if token, err := SessionToken(c, h.cookie.Name); err == nil {
		h.invalidate(token)
	}
	c.Cookie(&fiber.Cookie{
		Name:     h.cookie.Name,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HTTPOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	return c.JSON(fiber.Map{"message": "Logged out"})
}

// Me handles GET /api/me.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	user := GetUser(c)
	if user == nil {
		return engine.UnauthorizedError("Missing session token")
	}
	token, _ := c.Locals("token").(string)
	return c.JSON(fiber.Map{"data": h.profileResponse(user, token)})
}

// RestoreSession handles POST /api/auth/session/restore. The body is the
// snapshot the client persisted earlier. It is decoded, validated and compared
// with the current profile; when it is stale the client is told to discard it
// and use the fresh snapshot returned alongside.
func (h *AuthHandler) RestoreSession(c *fiber.Ctx) error {
	user := GetUser(c)
	if user == nil {
		return engine.UnauthorizedError("Missing session token")
	}

	now := h.now()
	valid := true
	reason := ""
	saved, err := session.Decode(c.Body(), now, h.cookie.SnapshotMaxAge)
	switch {
	case err != nil:
		valid, reason = false, err.Error()
	case !saved.Matches(user):
		valid, reason = false, "session changed since the snapshot was saved"
	}

	fresh, err := session.FromUser(user, now).Encode()
	if err != nil {
		return err
	}
	if !valid {
		h.logger.Debug("client snapshot discarded", zap.String("user_id", user.ID), zap.String("reason", reason))
	}
	return c.JSON(fiber.Map{"data": fiber.Map{
		"valid":    valid,
		"discard":  !valid,
		"reason":   reason,
		"snapshot": json.RawMessage(fresh),
	}})
}

func (h *AuthHandler) profileResponse(user *metadata.User, token string) fiber.Map {
	return fiber.Map{
		"user":            user,
		"available_roles": user.AvailableRoles(0),
		"snapshot":        session.FromUser(user, h.now()),
		"token":           token,
	}
}

// RegisterAuthRoutes registers auth routes on the given Fiber app.
func RegisterAuthRoutes(app *fiber.App, h *AuthHandler, authMW fiber.Handler) {
	api := app.Group("/api")
	api.Post("/auth/login", h.Login)
	api.Post("/auth/logout", h.Logout)
	api.Post("/auth/select-role", authMW, h.SelectRole)
	api.Post("/auth/session/restore", authMW, h.RestoreSession)
	api.Get("/me", authMW, h.Me)
}

// SafeRedirect returns target when it is a local absolute path and fallback
// otherwise.
func SafeRedirect(target, fallback string) string {
	if target == "" || !strings.HasPrefix(target, "/") ||
		strings.HasPrefix(target, "//") || strings.Contains(target, `\`) {
		return fallback
	}
	return target
}

func (h *AuthHandler) setSessionCookie(c *fiber.Ctx, token string) {
	ck := &fiber.Cookie{
		Name:     h.cookie.Name,
		Value:    token,
		Path:     "/",
		HTTPOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: fiber.CookieSameSiteLaxMode,
	}
	if h.cookie.MaxAge > 0 {
		ck.MaxAge = int(h.cookie.MaxAge.Seconds())
	}
	c.Cookie(ck)
}

func (h *AuthHandler) invalidate(token string) {
	if inv, ok := h.authority.(invalidator); ok && token != "" {
		inv.Invalidate(token)
	}
}
