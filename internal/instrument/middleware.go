package instrument

import (
	"math/rand/v2"

	"github.com/gofiber/fiber/v2"
)

// MiddlewareConfig controls request tracing.
type MiddlewareConfig struct {
	Enabled      bool
	SamplingRate float64
}

// Middleware opens a root span per request. It propagates or generates the
// X-Trace-ID header and injects the instrumenter into the request context.
func Middleware(cfg MiddlewareConfig, buffer *EventBuffer) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !cfg.Enabled || buffer == nil {
			return c.Next()
		}
		if cfg.SamplingRate < 1.0 && rand.Float64() > cfg.SamplingRate {
			return c.Next()
		}

		traceID := c.Get("X-Trace-ID")
		if traceID == "" {
			traceID = newID()
		}

		inst := NewInstrumenter(buffer)
		ctx := WithInstrumenter(WithTraceID(c.UserContext(), traceID), inst)
		ctx, span := inst.StartSpan(ctx, "http", "handler", "request")
		span.SetRoute(c.Path())
		span.SetMetadata("method", c.Method())
		c.SetUserContext(ctx)
		c.Set("X-Trace-ID", traceID)

		err := c.Next()

		if uid := getUserID(c.UserContext()); uid != nil {
			span.SetMetadata("user_id", *uid)
		}
		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else if s, ok := err.(interface{ HTTPStatus() int }); ok {
				status = s.HTTPStatus()
			}
		}
		span.SetMetadata("status_code", status)
		if status >= 400 {
			span.SetStatus("error")
		} else {
			span.SetStatus("ok")
		}
		span.End()

		return err
	}
}
