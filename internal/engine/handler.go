package engine

import (
	"github.com/gofiber/fiber/v2"

	"portal-gateway/internal/instrument"
	"portal-gateway/internal/metadata"
)

// Handler serves the access API consumed by the portal shell.
type Handler struct {
	evaluator        *Evaluator
	modules          *metadata.ModuleDirectory
	unauthorizedPath string
}

func NewHandler(ev *Evaluator, modules *metadata.ModuleDirectory, unauthorizedPath string) *Handler {
	return &Handler{
		evaluator:        ev,
		modules:          modules,
		unauthorizedPath: unauthorizedPath,
	}
}

// RouteAccess is a route node annotated with the caller's access.
type RouteAccess struct {
	Path     string        `json:"path"`
	Title    string        `json:"title"`
	Icon     string        `json:"icon,omitempty"`
	Allowed  bool          `json:"allowed"`
	Children []RouteAccess `json:"children,omitempty"`
}

// Check handles GET /api/access/check?path=
func (h *Handler) Check(c *fiber.Ctx) error {
	path := c.Query("path")
	if path == "" {
		return ValidationError([]ErrorDetail{{Field: "path", Rule: "required", Message: "path is required"}})
	}

	ctx, span := instrument.GetInstrumenter(c.UserContext()).StartSpan(c.UserContext(), "engine", "access", "access.check")
	defer span.End()
	span.SetRoute(path)

	user := getUser(c)
	route := metadata.FindRoute(path)
	if route == nil {
		route = h.modules.FindRoute(path)
	}
	allowed := h.evaluator.VerifyRoute(user, route)
	if !allowed {
		span.SetStatus("denied")
		meta := map[string]any{}
		if user != nil && user.CurrentRole != nil {
			meta["role"] = user.CurrentRole.Name
		}
		instrument.GetInstrumenter(ctx).EmitAccessEvent(ctx, "access.denied", path, meta)
		return ForbiddenError("Access denied to "+path, h.unauthorizedPath)
	}
	span.SetStatus("ok")

	return c.JSON(fiber.Map{"data": fiber.Map{
		"path":    path,
		"allowed": true,
		"public":  route == nil || route.IsOpen(),
	}})
}

// Routes handles GET /api/access/routes. The route tree is returned with every
// node evaluated on its own requirements.
func (h *Handler) Routes(c *fiber.Ctx) error {
	user := getUser(c)
	return c.JSON(fiber.Map{"data": h.annotate(user, metadata.AllRoutes())})
}

func (h *Handler) annotate(user *metadata.User, table []metadata.RouteConfig) []RouteAccess {
	out := make([]RouteAccess, 0, len(table))
	for i := range table {
		r := &table[i]
		out = append(out, RouteAccess{
			Path:     r.Path,
			Title:    r.Title,
			Icon:     r.Icon,
			Allowed:  h.evaluator.VerifyRoute(user, r),
			Children: h.annotate(user, r.Children),
		})
	}
	return out
}

// Flags handles GET /api/flags
func (h *Handler) Flags(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": h.evaluator.EvaluateFlags(getUser(c))})
}

// Modules handles GET /api/modules[?path=]
func (h *Handler) Modules(c *fiber.Ctx) error {
	user := getUser(c)
	resp := fiber.Map{
		"available": h.modules.ForUser(user),
		"default":   h.modules.Default(),
	}
	if p := c.Query("path"); p != "" {
		resp["current"] = h.modules.ForPath(p)
	}
	return c.JSON(fiber.Map{"data": resp})
}

func getUser(c *fiber.Ctx) *metadata.User {
	user, _ := c.Locals("user").(*metadata.User)
	return user
}
