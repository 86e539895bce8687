package engine

import "github.com/gofiber/fiber/v2"

func RegisterAccessRoutes(app *fiber.App, h *Handler, authMW fiber.Handler) {
	api := app.Group("/api")

	api.Get("/access/check", authMW, h.Check)
	api.Get("/access/routes", authMW, h.Routes)
	api.Get("/flags", authMW, h.Flags)
	api.Get("/modules", authMW, h.Modules)
}
