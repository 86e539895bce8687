package instrument

import (
	"net/http"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusErr struct{ code int }

func (e statusErr) Error() string   { return "status" }
func (e statusErr) HTTPStatus() int { return e.code }

func TestMiddleware_RecordsRootSpan(t *testing.T) {
	sink := &memSink{}
	eb := NewEventBuffer(sink, 100, time.Hour, nil)

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.SendStatus(err.(statusErr).code)
		},
	})
	app.Use(Middleware(MiddlewareConfig{Enabled: true, SamplingRate: 1}, eb))
	app.Get("/ok", func(c *fiber.Ctx) error {
		ctx, span := GetInstrumenter(c.UserContext()).StartSpan(c.UserContext(), "engine", "access", "access.check")
		GetInstrumenter(ctx).EmitAccessEvent(ctx, "access.granted", "/ok", nil)
		span.End()
		return c.SendString("ok")
	})
	app.Get("/denied", func(c *fiber.Ctx) error {
		return statusErr{code: 403}
	})

	req, _ := http.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set("X-Trace-ID", "given-trace")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, "given-trace", resp.Header.Get("X-Trace-ID"))

	req, _ = http.NewRequest(http.MethodGet, "/denied", nil)
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, 403, resp.StatusCode)
	generated := resp.Header.Get("X-Trace-ID")
	assert.NotEmpty(t, generated)

	eb.Stop()
	events := sink.events()
	require.Len(t, events, 4)

	var roots []Event
	for _, e := range events {
		if e.Action == "request" {
			roots = append(roots, e)
		}
	}
	require.Len(t, roots, 2)
	assert.Equal(t, "given-trace", roots[0].TraceID)
	assert.Equal(t, "ok", *roots[0].Status)
	assert.Equal(t, "/ok", *roots[0].Route)
	assert.Equal(t, generated, roots[1].TraceID)
	assert.Equal(t, "error", *roots[1].Status)
	assert.Equal(t, 403, roots[1].Metadata["status_code"])
}

func TestMiddleware_Disabled(t *testing.T) {
	sink := &memSink{}
	eb := NewEventBuffer(sink, 100, time.Hour, nil)

	app := fiber.New()
	app.Use(Middleware(MiddlewareConfig{Enabled: false, SamplingRate: 1}, eb))
	app.Get("/", func(c *fiber.Ctx) error {
		assert.IsType(t, NoopInstrumenter{}, GetInstrumenter(c.UserContext()))
		return nil
	})
	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Empty(t, resp.Header.Get("X-Trace-ID"))

	eb.Stop()
	assert.Empty(t, sink.events())
}
