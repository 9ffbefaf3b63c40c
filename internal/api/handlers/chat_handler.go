package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/campaigniq/backend/internal/metrics"
	"github.com/campaigniq/backend/internal/orchestrator"
	"github.com/campaigniq/backend/pkg/logger"
)

type ChatHandler struct {
	orch *orchestrator.Orchestrator
}

func NewChatHandler(orch *orchestrator.Orchestrator) *ChatHandler {
	return &ChatHandler{orch: orch}
}

func (h *ChatHandler) HandleChat(c *fiber.Ctx) error {
	var req struct {
		Query     string `json:"query"`
		SessionID string `json:"session_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse chat request", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.Query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "query is required",
		})
	}

	start := time.Now()
	resp, err := h.orch.Process(c.Context(), orchestrator.Request{
		SessionID: req.SessionID,
		Query:     req.Query,
	})
	if err != nil {
		logger.Error("Chat processing failed", zap.Error(err))
		metrics.RequestTotal.WithLabelValues("failure").Inc()
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process request",
		})
	}

	metrics.RequestTotal.WithLabelValues(resp.Kind).Inc()
	metrics.RequestDuration.WithLabelValues(resp.Intent).Observe(time.Since(start).Seconds())
	if resp.Degraded {
		metrics.DegradedResponses.Inc()
	}
	if resp.NewSession {
		metrics.SessionsCreated.Inc()
	}

	return c.JSON(resp)
}
