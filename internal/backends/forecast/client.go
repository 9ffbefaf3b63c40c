// Package forecast is the client for the time-series collaborator, which
// serves two capabilities from one service: forecasting with confidence
// intervals and anomaly detection over historical data.
package forecast

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/campaigniq/backend/internal/router"
	"github.com/campaigniq/backend/pkg/logger"
	"github.com/campaigniq/backend/pkg/retry"
)

var ErrBadRequest = errors.New("forecast backend rejected request")

type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// ForecastBackend exposes the forecasting capability to the router.
type ForecastBackend struct {
	client *Client
}

func NewForecastBackend(c *Client) *ForecastBackend { return &ForecastBackend{client: c} }

func (b *ForecastBackend) Name() string { return "forecast" }

func (b *ForecastBackend) Call(ctx context.Context, req router.Request) (*router.Result, error) {
	horizon := req.Horizon
	if horizon <= 0 {
		horizon = 30
	}
	points, err := b.client.post(ctx, "/api/v1/forecast", map[string]interface{}{
		"series":          seriesRef(req),
		"timestamp_field": "event_date",
		"metric_field":    req.Metric,
		"horizon_days":    horizon,
	})
	if err != nil {
		return nil, err
	}
	return &router.Result{Backend: b.Name(), Points: points}, nil
}

// AnomalyBackend exposes anomaly detection to the router.
type AnomalyBackend struct {
	client *Client
}

func NewAnomalyBackend(c *Client) *AnomalyBackend { return &AnomalyBackend{client: c} }

func (b *AnomalyBackend) Name() string { return "anomaly" }

func (b *AnomalyBackend) Call(ctx context.Context, req router.Request) (*router.Result, error) {
	points, err := b.client.post(ctx, "/api/v1/anomalies", map[string]interface{}{
		"series":          seriesRef(req),
		"timestamp_field": "event_date",
		"metric_field":    req.Metric,
		"range_start":     req.TimeRangeStart,
		"range_end":       req.TimeRangeEnd,
	})
	if err != nil {
		return nil, err
	}
	return &router.Result{Backend: b.Name(), Points: points}, nil
}

func seriesRef(req router.Request) map[string]interface{} {
	return map[string]interface{}{
		"entity_filters": req.FilterEntities,
	}
}

func (c *Client) post(ctx context.Context, path string, payload map[string]interface{}) ([]router.Point, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", retry.ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", retry.ErrTransient, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: status %d", ErrBadRequest, resp.StatusCode)
	}

	var apiResp struct {
		Points []router.Point `json:"points"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("%w: decode error: %v", ErrBadRequest, err)
	}

	logger.Debug("Time-series call complete",
		zap.String("path", path),
		zap.Int("points", len(apiResp.Points)),
	)
	return apiResp.Points, nil
}
