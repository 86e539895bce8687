package auth

import (
	"net/url"
	"slices"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"portal-gateway/internal/instrument"
	"portal-gateway/internal/metadata"
)

var gateDecisionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "portal_gate_decisions_total",
		Help: "Session gate decisions by outcome.",
	},
	[]string{"outcome"},
)

// Outcome is the result of a coarse session gate check.
type Outcome string

const (
	OutcomePass         Outcome = "pass"
	OutcomeLogin        Outcome = "login"
	OutcomeUnauthorized Outcome = "unauthorized"
	OutcomeSelectModule Outcome = "select_module"
)

// Decision is an outcome plus the redirect target, empty for OutcomePass.
type Decision struct {
	Outcome  Outcome
	Location string
}

// GateConfig configures the session gate.
type GateConfig struct {
	CookieName       string
	Secret           string
	LoginPath        string
	UnauthorizedPath string
	SelectModulePath string
}

// Gate is the edge pre-check run on every navigation. It only sees the signed
// token; fine-grained checks happen once the profile is loaded.
type Gate struct {
	cfg    GateConfig
	lookup func(path string) *metadata.RouteConfig
	logger *zap.Logger
}

// NewGate creates a gate over the compiled-in route registry.
func NewGate(cfg GateConfig, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{cfg: cfg, lookup: metadata.FindRoute, logger: logger.Named("gate")}
}

// Decide evaluates a navigation to path carrying token (empty if absent).
// Unregistered paths and entries without any requirement are public. Missing
// and invalid tokens are indistinguishable to the caller.
func (g *Gate) Decide(path, token string) Decision {
	route := g.lookup(path)
	if route == nil || route.IsOpen() {
		return Decision{Outcome: OutcomePass}
	}

	if token == "" {
		return g.toLogin(path)
	}
	claims, err := ParseAccessToken(token, g.cfg.Secret)
	if err != nil {
		g.logger.Debug("session token rejected", zap.String("path", path), zap.Error(err))
		return g.toLogin(path)
	}

	if len(route.RequiredRoles) > 0 && claims.Role != "" && !slices.Contains(route.RequiredRoles, claims.Role) {
		return Decision{Outcome: OutcomeUnauthorized, Location: g.cfg.UnauthorizedPath}
	}
	if len(route.RequiredModules) > 0 && claims.ModuleID != 0 && !slices.Contains(route.RequiredModules, claims.ModuleID) {
		return Decision{Outcome: OutcomeSelectModule, Location: g.cfg.SelectModulePath}
	}

	return Decision{Outcome: OutcomePass}
}

func (g *Gate) toLogin(path string) Decision {
	q := url.Values{}
	q.Set("callbackUrl", path)
	return Decision{Outcome: OutcomeLogin, Location: g.cfg.LoginPath + "?" + q.Encode()}
}

// Middleware blocks navigation until the gate has decided. API calls are
// authenticated separately by AuthMiddleware.
func (g *Gate) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		path := c.Path()
		if path == "/api" || strings.HasPrefix(path, "/api/") {
			return c.Next()
		}

		_, span := instrument.GetInstrumenter(c.UserContext()).StartSpan(c.UserContext(), "gate", "session", "gate.decide")
		span.SetRoute(path)
		d := g.Decide(path, c.Cookies(g.cfg.CookieName))
		span.SetStatus(string(d.Outcome))
		span.End()

		gateDecisionsTotal.WithLabelValues(string(d.Outcome)).Inc()
		if d.Outcome == OutcomePass {
			return c.Next()
		}
		g.logger.Debug("navigation redirected",
			zap.String("path", path),
			zap.String("outcome", string(d.Outcome)),
			zap.String("location", d.Location),
		)
		return c.Redirect(d.Location, fiber.StatusTemporaryRedirect)
	}
}
