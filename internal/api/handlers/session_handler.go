package handlers

import (
	"context"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/campaigniq/backend/internal/session"
	"github.com/campaigniq/backend/internal/storage/models"
	"github.com/campaigniq/backend/pkg/logger"
)

// RequestHistorySource reads the audit log for a session.
type RequestHistorySource interface {
	GetRequestHistory(ctx context.Context, sessionID string, limit int) ([]models.RequestRecord, error)
}

type SessionHandler struct {
	store   session.Store
	history RequestHistorySource
}

func NewSessionHandler(store session.Store, history RequestHistorySource) *SessionHandler {
	return &SessionHandler{store: store, history: history}
}

// GetSession returns the full turn log for a session. Expired or unknown
// sessions are a 404; the client starts fresh.
func (h *SessionHandler) GetSession(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "session id is required",
		})
	}

	sess, err := h.store.Load(c.Context(), id)
	if errors.Is(err, session.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "session not found or expired",
		})
	}
	if err != nil {
		logger.Error("Failed to load session", zap.String("session_id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load session",
		})
	}

	return c.JSON(fiber.Map{
		"session_id":   sess.ID,
		"created_at":   sess.CreatedAt,
		"last_updated": sess.LastUpdated,
		"turns":        sess.Turns,
	})
}

// GetHistory returns the audit records for a session: one entry per
// processed request with its intent, evaluation outcome and latency.
// History outlives the session's Redis TTL, so no existence check here.
func (h *SessionHandler) GetHistory(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "session id is required",
		})
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 200 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "limit must be between 1 and 200",
			})
		}
		limit = n
	}

	records, err := h.history.GetRequestHistory(c.Context(), id, limit)
	if err != nil {
		logger.Error("Failed to load request history", zap.String("session_id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load request history",
		})
	}

	return c.JSON(fiber.Map{
		"session_id": id,
		"requests":   records,
	})
}
