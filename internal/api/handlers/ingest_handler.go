package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/campaigniq/backend/internal/ingestion"
	"github.com/campaigniq/backend/internal/metrics"
	"github.com/campaigniq/backend/pkg/logger"
)

type IngestHandler struct {
	processor *ingestion.Processor
}

func NewIngestHandler(processor *ingestion.Processor) *IngestHandler {
	return &IngestHandler{processor: processor}
}

// IngestBenchmark accepts one industry-benchmark article and feeds it into
// the knowledge collection.
func (h *IngestHandler) IngestBenchmark(c *fiber.Ctx) error {
	var req struct {
		URL      string `json:"url"`
		HTML     string `json:"html"`
		Metric   string `json:"metric"`
		Channel  string `json:"channel"`
		Industry string `json:"industry"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.URL == "" || req.HTML == "" || req.Metric == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "url, html and metric are required",
		})
	}
	if req.Channel == "" {
		req.Channel = "email"
	}

	docID, err := h.processor.ProcessArticle(c.Context(), ingestion.Article{
		URL:      req.URL,
		HTML:     req.HTML,
		Metric:   req.Metric,
		Channel:  req.Channel,
		Industry: req.Industry,
	})
	if err != nil {
		logger.Error("Benchmark ingestion failed", zap.String("url", req.URL), zap.Error(err))
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": "Failed to ingest article",
		})
	}

	metrics.ArticlesIngested.Inc()
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"doc_id": docID,
	})
}
