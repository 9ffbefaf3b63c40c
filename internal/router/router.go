// Package router dispatches a classified request to its analytical
// backends: concurrent fan-out, per-call timeouts inside the overall
// request budget, transient-only retries, and partial-failure aggregation
// into a degraded-but-useful result set.
package router

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/campaigniq/backend/internal/metrics"
	"github.com/campaigniq/backend/pkg/circuitbreaker"
	"github.com/campaigniq/backend/pkg/logger"
	"github.com/campaigniq/backend/pkg/retry"
)

// ErrAllBackendsFailed means no relevant backend produced data; the caller
// must answer service-unavailable, never fabricate numbers.
var ErrAllBackendsFailed = errors.New("all relevant backends unavailable")

// Request is the resolved, backend-ready form of a user question. Entity
// filters carry canonical filter names only.
type Request struct {
	Query          string
	Intent         string
	FilterEntities []string
	Metric         string
	TimeRangeStart string
	TimeRangeEnd   string
	Horizon        int
}

// Point is one forecast or anomaly observation.
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Lower     float64   `json:"lower,omitempty"`
	Upper     float64   `json:"upper,omitempty"`
	Expected  float64   `json:"expected,omitempty"`
	Score     float64   `json:"score,omitempty"`
	IsAnomaly bool      `json:"is_anomaly,omitempty"`
}

// Result is one backend's contribution.
type Result struct {
	Backend        string
	Rows           []map[string]interface{}
	GeneratedQuery string
	Points         []Point
	Text           string
	Attempts       int
	Latency        time.Duration
}

// ResultSet aggregates whatever finished inside the budget. Missing lists
// the capabilities that produced nothing, in dispatch order.
type ResultSet struct {
	Results  map[string]*Result
	Missing  []string
	Degraded bool
}

func (rs *ResultSet) Get(capability string) (*Result, bool) {
	r, ok := rs.Results[capability]
	return r, ok
}

// Backend is one analytical collaborator, addressed by capability name.
type Backend interface {
	Name() string
	Call(ctx context.Context, req Request) (*Result, error)
}

type Config struct {
	CallTimeout time.Duration
	MaxRetries  int
}

type Router struct {
	backends    map[string]Backend
	breakers    map[string]*circuitbreaker.Breaker
	callTimeout time.Duration
	policy      retry.Policy
}

func New(cfg Config, backends ...Backend) *Router {
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = 90 * time.Second
	}

	policy := retry.DefaultPolicy()
	policy.MaxRetries = cfg.MaxRetries
	policy.Logger = logger.GetLogger()

	r := &Router{
		backends:    make(map[string]Backend, len(backends)),
		breakers:    make(map[string]*circuitbreaker.Breaker, len(backends)),
		callTimeout: cfg.CallTimeout,
		policy:      policy,
	}
	for _, b := range backends {
		r.backends[b.Name()] = b
		r.breakers[b.Name()] = circuitbreaker.New(b.Name(), circuitbreaker.Config{
			Logger: logger.GetLogger(),
		})
	}
	return r
}

type dispatchOutcome struct {
	capability string
	result     *Result
	err        error
}

// Dispatch fans out to every requested capability concurrently and joins
// with a bounded wait: the overall ceiling is the deadline already on ctx.
// Whatever has not finished when the ceiling hits is reported as missing
// and the set marked degraded. Caller cancellation propagates into every
// in-flight call through ctx.
func (r *Router) Dispatch(ctx context.Context, capabilities []string, req Request) (*ResultSet, error) {
	rs := &ResultSet{Results: make(map[string]*Result)}

	pending := make([]string, 0, len(capabilities))
	for _, name := range capabilities {
		if _, ok := r.backends[name]; !ok {
			logger.Warn("No backend registered for capability", zap.String("capability", name))
			rs.Missing = append(rs.Missing, name)
			rs.Degraded = true
			continue
		}
		pending = append(pending, name)
	}
	if len(pending) == 0 {
		return rs, ErrAllBackendsFailed
	}

	outcomes := make(chan dispatchOutcome, len(pending))
	var wg sync.WaitGroup
	for _, name := range pending {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			result, err := r.callOne(ctx, name, req)
			outcomes <- dispatchOutcome{capability: name, result: result, err: err}
		}(name)
	}
	go func() {
		wg.Wait()
		close(outcomes)
	}()

	received := make(map[string]bool, len(pending))
	failed := make(map[string]error, len(pending))
collect:
	for len(received)+len(failed) < len(pending) {
		select {
		case out, ok := <-outcomes:
			if !ok {
				break collect
			}
			if out.err != nil {
				logger.Warn("Backend call failed",
					zap.String("capability", out.capability),
					zap.Error(out.err),
				)
				failed[out.capability] = out.err
				continue
			}
			rs.Results[out.capability] = out.result
			received[out.capability] = true
		case <-ctx.Done():
			// Budget exhausted or caller gone: proceed with what we have.
			break collect
		}
	}

	for _, name := range pending {
		if !received[name] {
			rs.Missing = append(rs.Missing, name)
		}
	}
	if len(rs.Missing) > 0 {
		rs.Degraded = true
	}
	if len(rs.Results) == 0 {
		return rs, ErrAllBackendsFailed
	}

	logger.Info("Dispatch complete",
		zap.Int("requested", len(capabilities)),
		zap.Int("succeeded", len(rs.Results)),
		zap.Strings("missing", rs.Missing),
	)
	return rs, nil
}

func (r *Router) callOne(ctx context.Context, capability string, req Request) (*Result, error) {
	backend := r.backends[capability]
	breaker := r.breakers[capability]

	start := time.Now()
	attempts := 0
	var result *Result

	err := breaker.Execute(ctx, func() error {
		return retry.Do(ctx, r.policy, func() error {
			attempts++
			callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
			defer cancel()

			res, err := backend.Call(callCtx, req)
			if err != nil {
				if callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
					// A per-call timeout is transient; the overall budget
					// may still allow another attempt.
					return retry.ErrTransient
				}
				return err
			}
			result = res
			return nil
		})
	})
	if attempts > 1 {
		metrics.BackendRetries.WithLabelValues(capability).Add(float64(attempts - 1))
	}
	if err != nil {
		metrics.BackendCalls.WithLabelValues(capability, "failure").Inc()
		return nil, err
	}
	metrics.BackendCalls.WithLabelValues(capability, "success").Inc()

	result.Backend = capability
	result.Attempts = attempts
	result.Latency = time.Since(start)
	return result, nil
}
