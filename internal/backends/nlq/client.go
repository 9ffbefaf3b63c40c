// Package nlq is the client for the natural-language-to-structured-query
// collaborator. The service is a black box: question text and a schema
// reference in, a generated query plus result rows out.
package nlq

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

var ErrBadRequest = errors.New("structured-query backend rejected request")

const capability = "structured_query"

type Client struct {
	baseURL   string
	schemaRef string
	client    *http.Client
}

func NewClient(baseURL, schemaRef string, timeout time.Duration) *Client {
	return &Client{
		baseURL:   baseURL,
		schemaRef: schemaRef,
		client:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) Name() string {
	return capability
}

func (c *Client) Call(ctx context.Context, req router.Request) (*router.Result, error) {
	payload := map[string]interface{}{
		"question": req.Query,
		"schema":   c.schemaRef,
	}
	if len(req.FilterEntities) > 0 {
		payload["entity_filters"] = req.FilterEntities
	}
	if req.Metric != "" {
		payload["metric"] = req.Metric
	}
	if req.TimeRangeStart != "" {
		payload["range_start"] = req.TimeRangeStart
		payload["range_end"] = req.TimeRangeEnd
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/generate-query", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		// Connection and timeout failures are transient.
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
		GeneratedQuery string                   `json:"generated_query"`
		Rows           []map[string]interface{} `json:"rows"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("%w: decode error: %v", ErrBadRequest, err)
	}

	logger.Debug("Structured query executed",
		zap.Int("rows", len(apiResp.Rows)),
		zap.String("generated_query", apiResp.GeneratedQuery),
	)

	return &router.Result{
		Backend:        capability,
		GeneratedQuery: apiResp.GeneratedQuery,
		Rows:           apiResp.Rows,
	}, nil
}
