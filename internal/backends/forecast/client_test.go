package forecast

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campaigniq/backend/internal/router"
	"github.com/campaigniq/backend/pkg/retry"
)

func TestForecastBackendDefaultsHorizonAndParsesPoints(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/forecast", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		json.NewEncoder(w).Encode(map[string]interface{}{
			"points": []map[string]interface{}{
				{"timestamp": "2026-09-01T00:00:00Z", "value": 23.1, "lower": 21.0, "upper": 25.2},
				{"timestamp": "2026-09-02T00:00:00Z", "value": 23.4, "lower": 21.2, "upper": 25.6},
			},
		})
	}))
	defer srv.Close()

	b := NewForecastBackend(NewClient(srv.URL, 5*time.Second))
	res, err := b.Call(context.Background(), router.Request{Metric: "open_rate"})
	require.NoError(t, err)

	assert.EqualValues(t, 30, got["horizon_days"])
	assert.Equal(t, "open_rate", got["metric_field"])

	require.Len(t, res.Points, 2)
	assert.Equal(t, 23.1, res.Points[0].Value)
	assert.Equal(t, 25.2, res.Points[0].Upper)
	assert.Equal(t, time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), res.Points[0].Timestamp)
}

func TestForecastBackendHonorsExplicitHorizon(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(map[string]interface{}{"points": []map[string]interface{}{}})
	}))
	defer srv.Close()

	b := NewForecastBackend(NewClient(srv.URL, 5*time.Second))
	_, err := b.Call(context.Background(), router.Request{Metric: "open_rate", Horizon: 90})
	require.NoError(t, err)
	assert.EqualValues(t, 90, got["horizon_days"])
}

func TestAnomalyBackendSendsRangeAndParsesFlags(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/anomalies", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		json.NewEncoder(w).Encode(map[string]interface{}{
			"points": []map[string]interface{}{
				{"timestamp": "2026-08-03T00:00:00Z", "value": 4.1, "expected": 22.0, "score": 0.97, "is_anomaly": true},
			},
		})
	}))
	defer srv.Close()

	b := NewAnomalyBackend(NewClient(srv.URL, 5*time.Second))
	res, err := b.Call(context.Background(), router.Request{
		Metric:         "open_rate",
		FilterEntities: []string{"EX30-Launch-DE"},
		TimeRangeStart: "2026-08-01",
		TimeRangeEnd:   "2026-08-23",
	})
	require.NoError(t, err)

	assert.Equal(t, "2026-08-01", got["range_start"])
	series, ok := got["series"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, []interface{}{"EX30-Launch-DE"}, series["entity_filters"])

	require.Len(t, res.Points, 1)
	assert.True(t, res.Points[0].IsAnomaly)
	assert.Equal(t, 0.97, res.Points[0].Score)
}

func TestPostServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	b := NewForecastBackend(NewClient(srv.URL, 5*time.Second))
	_, err := b.Call(context.Background(), router.Request{Metric: "open_rate"})
	assert.ErrorIs(t, err, retry.ErrTransient)
}

func TestPostClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	b := NewAnomalyBackend(NewClient(srv.URL, 5*time.Second))
	_, err := b.Call(context.Background(), router.Request{Metric: "open_rate"})
	assert.ErrorIs(t, err, ErrBadRequest)
	assert.NotErrorIs(t, err, retry.ErrTransient)
}
