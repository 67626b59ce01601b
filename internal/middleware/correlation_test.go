package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestCorrelationIDPropagatesToLogs(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Hook(CorrelationHook{})

	app := fiber.New()
	app.Use(CorrelationID())
	app.Get("/conversations", func(c *fiber.Ctx) error {
		logger.Info().Ctx(c.UserContext()).Msg("listing conversations")
		return c.SendString(CorrelationIDFromContext(c.UserContext()))
	})

	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	req.Header.Set(HeaderCorrelationID, "corr-123")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "corr-123", resp.Header.Get(HeaderCorrelationID))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "corr-123", string(body))
	require.Contains(t, buf.String(), `"correlation_id":"corr-123"`)
}

func TestCorrelationIDFallsBackToRequestIDOrGenerates(t *testing.T) {
	app := fiber.New()
	app.Use(CorrelationID())
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString(GetCorrelationID(c))
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(fiber.HeaderXRequestID, "req-9")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, "req-9", resp.Header.Get(HeaderCorrelationID))

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	require.Len(t, resp.Header.Get(HeaderCorrelationID), 36)
}

func TestCorrelationHookIgnoresEventsWithoutContext(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Hook(CorrelationHook{})

	logger.Info().Msg("startup")
	require.NotContains(t, buf.String(), "correlation_id")
}

func TestRegisterRecoversPanicsWithCorrelatedLog(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Hook(CorrelationHook{})

	app := fiber.New()
	Register(app, Config{Logger: &logger, AllowOrigins: "https://portal.smiletrip.test"})
	app.Get("/api/v1/boom", func(c *fiber.Ctx) error {
		panic("storage exploded")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/boom", nil)
	req.Header.Set(HeaderCorrelationID, "corr-panic")
	req.Header.Set(fiber.HeaderOrigin, "https://portal.smiletrip.test")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	require.Equal(t, "https://portal.smiletrip.test", resp.Header.Get(fiber.HeaderAccessControlAllowOrigin))
	require.Contains(t, resp.Header.Get(fiber.HeaderAccessControlExposeHeaders), HeaderCorrelationID)

	logs := buf.String()
	require.Contains(t, logs, "recovered from panic")
	require.Contains(t, logs, `"correlation_id":"corr-panic"`)
}
