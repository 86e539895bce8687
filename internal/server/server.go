// Package server assembles the gateway's Fiber application.
package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"portal-gateway/internal/admin"
	"portal-gateway/internal/auth"
	"portal-gateway/internal/config"
	"portal-gateway/internal/engine"
	"portal-gateway/internal/identity"
	"portal-gateway/internal/instrument"
	"portal-gateway/internal/metadata"
)

// Deps are the collaborators the application is built from. Events and
// EventReader may be nil.
type Deps struct {
	Config      *config.Config
	Authority   identity.Authority
	Events      *instrument.EventBuffer
	EventReader instrument.EventReader
	Logger      *zap.Logger
}

// New builds the application. The session gate runs before static content so
// that no protected page is served before it has decided.
func New(d Deps) (*fiber.App, error) {
	cfg := d.Config
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}

	policy, ok := engine.ParseLenientPolicy(cfg.Access.LenientPolicy)
	if !ok {
		return nil, errors.New("unknown lenient policy " + cfg.Access.LenientPolicy)
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          ErrorHandler(log),
		DisableStartupMessage: true,
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))
	app.Use(instrument.Middleware(instrument.MiddlewareConfig{
		Enabled:      cfg.Instrumentation.Enabled,
		SamplingRate: cfg.Instrumentation.SamplingRate,
	}, d.Events))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	authMW := auth.AuthMiddleware(cfg.Session.CookieName, cfg.Session.JWTSecret, d.Authority, log)

	authHandler := auth.NewAuthHandler(d.Authority, auth.CookieConfig{
		Name:           cfg.Session.CookieName,
		Secure:         cfg.Session.SecureCookie,
		MaxAge:         cfg.Session.TokenTTL,
		Fallback:       cfg.Access.DefaultPath,
		SnapshotMaxAge: cfg.Session.SnapshotMaxAge,
	}, log)
	auth.RegisterAuthRoutes(app, authHandler, authMW)

	modules := metadata.DefaultModuleDirectory()
	evaluator := engine.NewEvaluator(engine.NewFlagEvaluator(nil), policy, cfg.FeatureFlags.Overrides)
	accessHandler := engine.NewHandler(evaluator, modules, cfg.Access.UnauthorizedPath)
	engine.RegisterAccessRoutes(app, accessHandler, authMW)

	adminMW := auth.RequireRole("admin")
	cacheStats, _ := d.Authority.(admin.CacheStats)
	admin.RegisterAdminRoutes(app, admin.NewHandler(modules, cacheStats), authMW, adminMW)
	if d.EventReader != nil {
		instrument.RegisterEventRoutes(app, instrument.NewEventHandler(d.EventReader), authMW, adminMW)
	}

	gate := auth.NewGate(auth.GateConfig{
		CookieName:       cfg.Session.CookieName,
		Secret:           cfg.Session.JWTSecret,
		LoginPath:        cfg.Access.LoginPath,
		UnauthorizedPath: cfg.Access.UnauthorizedPath,
		SelectModulePath: cfg.Access.SelectModulePath,
	}, log)
	app.Use(gate.Middleware())

	if cfg.Server.StaticDir != "" {
		app.Static("/", cfg.Server.StaticDir, fiber.Static{Index: "index.html"})
	}

	return app, nil
}

// ErrorHandler renders AppErrors as {"error": {...}} and hides everything else
// behind a generic 500.
func ErrorHandler(log *zap.Logger) fiber.ErrorHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *fiber.Ctx, err error) error {
		var appErr *engine.AppError
		if errors.As(err, &appErr) {
			return c.Status(appErr.Status).JSON(engine.ErrorResponse{Error: appErr})
		}

		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return c.Status(fiberErr.Code).JSON(engine.ErrorResponse{
				Error: &engine.AppError{Code: "HTTP_ERROR", Message: fiberErr.Message},
			})
		}

		log.Error("unhandled error", zap.String("path", c.Path()), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(engine.ErrorResponse{
			Error: &engine.AppError{
				Code:    "INTERNAL_ERROR",
				Message: "Internal server error",
			},
		})
	}
}
