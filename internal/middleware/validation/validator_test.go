package validation

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newApp() *fiber.App {
	app := fiber.New()
	app.Use(Middleware(Config{Logger: zap.NewNop()}))
	app.Post("/api/v1/chat", func(c *fiber.Ctx) error { return c.SendString("ok") })
	app.Post("/api/v1/benchmarks", func(c *fiber.Ctx) error { return c.SendString("ok") })
	app.Get("/api/v1/sessions/abc", func(c *fiber.Ctx) error { return c.SendString("ok") })
	return app
}

func post(t *testing.T, app *fiber.App, path, body string) (int, string) {
	t.Helper()
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(data)
}

func TestChatAcceptsWellFormedQuery(t *testing.T) {
	status, _ := post(t, newApp(), "/api/v1/chat", `{"query":"show open rate last month"}`)
	assert.Equal(t, fiber.StatusOK, status)
}

func TestChatRejectsMissingQuery(t *testing.T) {
	status, body := post(t, newApp(), "/api/v1/chat", `{"session_id":"abc"}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Contains(t, body, "query is required")
}

func TestChatRejectsOverlongQuery(t *testing.T) {
	long := strings.Repeat("a", 2001)
	status, _ := post(t, newApp(), "/api/v1/chat", `{"query":"`+long+`"}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestChatRejectsMarkupInjection(t *testing.T) {
	status, body := post(t, newApp(), "/api/v1/chat", `{"query":"<script>alert(1)</script>"}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Contains(t, body, "Invalid query content")
}

func TestRejectsNonJSONContentType(t *testing.T) {
	app := newApp()
	req := httptest.NewRequest("POST", "/api/v1/chat", strings.NewReader("query=x"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestGetRequestsPassThrough(t *testing.T) {
	app := newApp()
	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/sessions/abc", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestBenchmarksRequireHTTPURL(t *testing.T) {
	status, body := post(t, newApp(), "/api/v1/benchmarks",
		`{"url":"ftp://example.com/report","html":"<p>x</p>"}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Contains(t, body, "http(s)")
}

func TestBenchmarksRejectOversizedArticles(t *testing.T) {
	app := fiber.New(fiber.Config{BodyLimit: 10 * 1024 * 1024})
	app.Use(Middleware(Config{Logger: zap.NewNop(), MaxArticleSize: 1024}))
	app.Post("/api/v1/benchmarks", func(c *fiber.Ctx) error { return c.SendString("ok") })

	big := strings.Repeat("x", 2048)
	status, _ := post(t, app, "/api/v1/benchmarks", `{"url":"https://example.com/r","html":"`+big+`"}`)
	assert.Equal(t, fiber.StatusRequestEntityTooLarge, status)
}

func TestBenchmarksAcceptValidSubmission(t *testing.T) {
	status, _ := post(t, newApp(), "/api/v1/benchmarks",
		`{"url":"https://example.com/report","html":"<p>Open rates: 21%</p>","metric":"open_rate"}`)
	assert.Equal(t, fiber.StatusOK, status)
}
