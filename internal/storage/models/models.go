package models

import "time"

// EntityRecord is one row of the canonical entity catalog. DisplayName is
// the short form shown to users; FilterName is the full form passed to
// backends as a filter. The two are never interchangeable.
type EntityRecord struct {
	ID           string
	Kind         string // "campaign" or "tracked_link"
	DisplayName  string
	FilterName   string
	Market       string
	Category     string
	NetVolume    int64
	LastActivity time.Time
	CreatedAt    time.Time
}

const (
	EntityKindCampaign    = "campaign"
	EntityKindTrackedLink = "tracked_link"
)

// RequestRecord is the per-request audit entry written after a turn is
// fully processed.
type RequestRecord struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	QueryText  string    `json:"query_text"`
	Intent     string    `json:"intent"`
	Degraded   bool      `json:"degraded"`
	EvalTier   int       `json:"eval_tier"`
	EvalPassed bool      `json:"eval_passed"`
	EvalTag    string    `json:"eval_tag"`
	LatencyMS  int       `json:"latency_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// BackendCall records one dispatched backend call for a request.
type BackendCall struct {
	ID        int
	RequestID string
	Backend   string
	Status    string // "ok", "timeout", "error", "skipped"
	Attempts  int
	LatencyMS int
}

// BenchmarkDoc registers an ingested industry-benchmark article whose
// chunks live in the vector collection.
type BenchmarkDoc struct {
	ID         string
	URL        string
	Title      string
	Metric     string
	Industry   string
	Summary    string
	ChunkCount int
	CreatedAt  time.Time
}
