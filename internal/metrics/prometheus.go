package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "campaigniq_request_duration_seconds",
			Help:    "End-to-end request processing duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 90, 300},
		},
		[]string{"intent"},
	)

	RequestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaigniq_request_total",
			Help: "Total requests processed by response kind",
		},
		[]string{"kind"},
	)

	BackendCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaigniq_backend_calls_total",
			Help: "Backend call outcomes",
		},
		[]string{"backend", "status"},
	)

	BackendRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaigniq_backend_retries_total",
			Help: "Backend call retry attempts",
		},
		[]string{"backend"},
	)

	DegradedResponses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "campaigniq_degraded_responses_total",
			Help: "Responses produced with one or more backends missing",
		},
	)

	ClarificationRounds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaigniq_clarification_rounds_total",
			Help: "Clarification prompts issued by kind",
		},
		[]string{"kind"},
	)

	EvalTier = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaigniq_eval_tier_total",
			Help: "Evaluation outcomes by tier and tag",
		},
		[]string{"tier", "tag"},
	)

	LowSampleComparisons = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "campaigniq_low_sample_comparisons_total",
			Help: "Benchmark comparisons flagged for low sample size",
		},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaigniq_llm_tokens_used_total",
			Help: "LLM tokens consumed",
		},
		[]string{"model", "type"},
	)

	SessionsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "campaigniq_sessions_created_total",
			Help: "New conversation sessions started",
		},
	)

	ArticlesIngested = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "campaigniq_benchmark_articles_ingested_total",
			Help: "Benchmark articles ingested into the knowledge collection",
		},
	)
)

func Init() {
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(RequestTotal)
	prometheus.MustRegister(BackendCalls)
	prometheus.MustRegister(BackendRetries)
	prometheus.MustRegister(DegradedResponses)
	prometheus.MustRegister(ClarificationRounds)
	prometheus.MustRegister(EvalTier)
	prometheus.MustRegister(LowSampleComparisons)
	prometheus.MustRegister(LLMTokensUsed)
	prometheus.MustRegister(SessionsCreated)
	prometheus.MustRegister(ArticlesIngested)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
