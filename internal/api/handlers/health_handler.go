package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
)

// Pinger is any dependency that can report liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	deps map[string]Pinger
}

func NewHealthHandler(deps map[string]Pinger) *HealthHandler {
	return &HealthHandler{deps: deps}
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Ready pings every wired dependency; any failure makes the service not
// ready but still reports the per-dependency detail.
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	status := fiber.StatusOK
	detail := fiber.Map{}
	for name, dep := range h.deps {
		if err := dep.Ping(c.Context()); err != nil {
			detail[name] = err.Error()
			status = fiber.StatusServiceUnavailable
		} else {
			detail[name] = "ok"
		}
	}
	return c.Status(status).JSON(fiber.Map{
		"ready":        status == fiber.StatusOK,
		"dependencies": detail,
	})
}
