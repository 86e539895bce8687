// Package admin serves registry introspection and dry-run evaluation to
// portal administrators.
package admin

import (
	"github.com/gofiber/fiber/v2"

	"portal-gateway/internal/engine"
	"portal-gateway/internal/identity"
	"portal-gateway/internal/metadata"
	"portal-gateway/internal/validation"
)

// CacheStats is implemented by the profile cache.
type CacheStats interface {
	Len() int
}

type Handler struct {
	modules *metadata.ModuleDirectory
	cache   CacheStats
}

func NewHandler(modules *metadata.ModuleDirectory, cache CacheStats) *Handler {
	return &Handler{modules: modules, cache: cache}
}

// RegisterAdminRoutes mounts the admin API behind the given middleware.
func RegisterAdminRoutes(app *fiber.App, h *Handler, mw ...fiber.Handler) {
	admin := app.Group("/api/_admin", mw...)

	admin.Get("/routes", h.ListRoutes)
	admin.Get("/routes/lookup", h.LookupRoute)
	admin.Get("/flags", h.ListFlags)
	admin.Get("/flags/:key", h.GetFlag)
	admin.Get("/modules", h.ListModules)
	admin.Get("/modules/:id<int>", h.GetModule)
	admin.Post("/evaluate", h.Evaluate)
	admin.Get("/cache", h.CacheStatus)
}

// --- Registry endpoints ---

// FlatRoute is a registry entry without its children, tagged with its parent
// path and the table it came from.
type FlatRoute struct {
	Path        string               `json:"path"`
	Title       string               `json:"title"`
	Parent      string               `json:"parent,omitempty"`
	Source      string               `json:"source"`
	Requirement metadata.Requirement `json:"requirement"`
}

func (h *Handler) ListRoutes(c *fiber.Ctx) error {
	out := flatten(metadata.AllRoutes(), "", "registry")
	for _, m := range h.modules.All() {
		out = append(out, flatten(m.Routes, "", "module:"+m.Key)...)
	}
	return c.JSON(fiber.Map{"data": out})
}

func flatten(table []metadata.RouteConfig, parent, source string) []FlatRoute {
	var out []FlatRoute
	for _, r := range table {
		out = append(out, FlatRoute{
			Path:        r.Path,
			Title:       r.Title,
			Parent:      parent,
			Source:      source,
			Requirement: r.Requirement,
		})
		out = append(out, flatten(r.Children, r.Path, source)...)
	}
	return out
}

// LookupRoute handles GET /api/_admin/routes/lookup?path= and shows which
// entry, if any, a path resolves to.
func (h *Handler) LookupRoute(c *fiber.Ctx) error {
	path := c.Query("path")
	if path == "" {
		return engine.ValidationError([]engine.ErrorDetail{{Field: "path", Rule: "required", Message: "path is required"}})
	}
	if r := metadata.FindRoute(path); r != nil {
		return c.JSON(fiber.Map{"data": fiber.Map{"path": path, "source": "registry", "route": r}})
	}
	if r := h.modules.FindRoute(path); r != nil {
		return c.JSON(fiber.Map{"data": fiber.Map{"path": path, "source": "module", "route": r}})
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"path": path, "source": nil, "public": true}})
}

func (h *Handler) ListFlags(c *fiber.Ctx) error {
	keys := metadata.FeatureFlagKeys()
	out := make([]metadata.FeatureFlag, 0, len(keys))
	for _, k := range keys {
		f, _ := metadata.GetFeatureFlag(k)
		out = append(out, f)
	}
	return c.JSON(fiber.Map{"data": out})
}

func (h *Handler) GetFlag(c *fiber.Ctx) error {
	key := c.Params("key")
	f, ok := metadata.GetFeatureFlag(key)
	if !ok {
		return engine.NewAppError("NOT_FOUND", fiber.StatusNotFound, "Flag not found: "+key)
	}
	return c.JSON(fiber.Map{"data": f})
}

func (h *Handler) ListModules(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": h.modules.All()})
}

func (h *Handler) GetModule(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return engine.InvalidPayloadError("Invalid module id")
	}
	m := h.modules.ByID(id)
	if m == nil {
		return engine.NewAppError("NOT_FOUND", fiber.StatusNotFound, "Module not found")
	}
	return c.JSON(fiber.Map{"data": m})
}

// --- Dry run ---

type evaluateRequest struct {
	User      *metadata.User  `json:"user" validate:"required"`
	Path      string          `json:"path" validate:"required,startswith=/"`
	Policy    string          `json:"policy" validate:"omitempty,oneof=literal any"`
	Overrides map[string]bool `json:"overrides"`
}

// Evaluate handles POST /api/_admin/evaluate. It runs the permission and flag
// evaluators for an arbitrary profile without touching any session.
func (h *Handler) Evaluate(c *fiber.Ctx) error {
	var body evaluateRequest
	if err := c.BodyParser(&body); err != nil {
		return engine.InvalidPayloadError("Invalid JSON body")
	}
	if err := validation.Struct(body); err != nil {
		return engine.ValidationErrorFrom(err)
	}
	if err := identity.ValidateProfile(body.User); err != nil {
		return engine.ValidationError([]engine.ErrorDetail{{Field: "user", Rule: "profile", Message: err.Error()}})
	}

	policy, _ := engine.ParseLenientPolicy(body.Policy)
	ev := engine.NewEvaluator(nil, policy, body.Overrides)

	route := metadata.FindRoute(body.Path)
	if route == nil {
		route = h.modules.FindRoute(body.Path)
	}
	return c.JSON(fiber.Map{"data": fiber.Map{
		"path":       body.Path,
		"registered": route != nil,
		"allowed":    ev.VerifyRoute(body.User, route),
		"flags":      ev.EvaluateFlags(body.User),
		"modules":    h.modules.ForUser(body.User),
	}})
}

func (h *Handler) CacheStatus(c *fiber.Ctx) error {
	size := 0
	if h.cache != nil {
		size = h.cache.Len()
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"profiles": size}})
}
