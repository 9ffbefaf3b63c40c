package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/campaigniq/backend/internal/orchestrator"
	"github.com/campaigniq/backend/pkg/logger"
)

type WebSocketHandler struct {
	orch *orchestrator.Orchestrator
}

func NewWebSocketHandler(orch *orchestrator.Orchestrator) *WebSocketHandler {
	return &WebSocketHandler{orch: orch}
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")
	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg struct {
			Type      string `json:"type"`
			Content   string `json:"content"`
			SessionID string `json:"session_id"`
		}
		if err := c.ReadJSON(&msg); err != nil {
			logger.Debug("WebSocket read ended", zap.Error(err))
			break
		}
		if msg.Type != "query" || strings.TrimSpace(msg.Content) == "" {
			continue
		}

		if err := h.streamResponse(c, msg.Content, msg.SessionID); err != nil {
			logger.Error("Failed to stream response", zap.Error(err))
			h.send(c, map[string]interface{}{"type": "error", "error": "Failed to process query"})
		}
	}
}

// streamResponse runs the full pipeline, then streams the narrative word
// by word before the structured completion frame.
func (h *WebSocketHandler) streamResponse(c *websocket.Conn, query, sessionID string) error {
	h.send(c, map[string]interface{}{"type": "status", "content": "Working on it..."})

	resp, err := h.orch.Process(context.Background(), orchestrator.Request{
		SessionID: sessionID,
		Query:     query,
	})
	if err != nil {
		return err
	}

	for _, word := range strings.Fields(resp.Text) {
		if err := h.send(c, map[string]interface{}{"type": "chunk", "content": word + " "}); err != nil {
			return err
		}
	}

	return h.send(c, map[string]interface{}{
		"type":       "complete",
		"session_id": resp.SessionID,
		"request_id": resp.RequestID,
		"kind":       resp.Kind,
		"options":    resp.Options,
		"eval_tag":   resp.EvalTag,
		"degraded":   resp.Degraded,
	})
}

func (h *WebSocketHandler) send(c *websocket.Conn, msg map[string]interface{}) error {
	return c.WriteJSON(msg)
}
