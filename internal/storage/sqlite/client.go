package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/campaigniq/backend/internal/storage/models"
	"github.com/campaigniq/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err = db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err = db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entities (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		display_name TEXT NOT NULL,
		filter_name TEXT NOT NULL,
		market TEXT,
		category TEXT,
		net_volume INTEGER DEFAULT 0,
		last_activity INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_entities_kind ON entities(kind);
	CREATE INDEX IF NOT EXISTS idx_entities_filter ON entities(filter_name);
	CREATE INDEX IF NOT EXISTS idx_entities_activity ON entities(last_activity);

	CREATE TABLE IF NOT EXISTS request_log (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		query_text TEXT NOT NULL,
		intent TEXT,
		degraded INTEGER DEFAULT 0,
		eval_tier INTEGER,
		eval_passed INTEGER,
		eval_tag TEXT,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_request_session ON request_log(session_id);
	CREATE INDEX IF NOT EXISTS idx_request_created ON request_log(created_at);

	CREATE TABLE IF NOT EXISTS backend_calls (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id TEXT NOT NULL,
		backend TEXT NOT NULL,
		status TEXT NOT NULL,
		attempts INTEGER DEFAULT 1,
		latency_ms INTEGER,
		FOREIGN KEY (request_id) REFERENCES request_log(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_calls_request ON backend_calls(request_id);

	CREATE TABLE IF NOT EXISTS benchmark_docs (
		id TEXT PRIMARY KEY,
		url TEXT UNIQUE NOT NULL,
		title TEXT NOT NULL,
		metric TEXT,
		industry TEXT,
		summary TEXT,
		chunk_count INTEGER DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_benchmark_metric ON benchmark_docs(metric);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("Database schema initialized")
	return nil
}

// SearchEntities matches the catalog against an OR of case-insensitive
// substring patterns. Patterns come from the resolver's separator-variant
// expansion, already bounded there.
func (c *Client) SearchEntities(ctx context.Context, kind string, patterns []string) ([]models.EntityRecord, error) {
	if len(patterns) == 0 {
		return nil, nil
	}

	clauses := make([]string, 0, len(patterns))
	args := make([]interface{}, 0, len(patterns)+1)
	args = append(args, kind)
	for _, p := range patterns {
		clauses = append(clauses, "LOWER(filter_name) LIKE ?")
		args = append(args, "%"+strings.ToLower(p)+"%")
	}

	query := fmt.Sprintf(
		`SELECT id, kind, display_name, filter_name, market, category, net_volume, last_activity, created_at
		 FROM entities WHERE kind = ? AND (%s) ORDER BY last_activity DESC`,
		strings.Join(clauses, " OR "),
	)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search entities: %w", err)
	}
	defer rows.Close()

	return scanEntities(rows)
}

// ListRecentEntities backs the "recent period" suggestion on a failed
// entity lookup.
func (c *Client) ListRecentEntities(ctx context.Context, kind string, limit int) ([]models.EntityRecord, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, kind, display_name, filter_name, market, category, net_volume, last_activity, created_at
		 FROM entities WHERE kind = ? ORDER BY last_activity DESC LIMIT ?`,
		kind, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent entities: %w", err)
	}
	defer rows.Close()

	return scanEntities(rows)
}

// ListTopEntities backs the "top performers" suggestion, ordered by net
// delivered volume.
func (c *Client) ListTopEntities(ctx context.Context, kind string, limit int) ([]models.EntityRecord, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, kind, display_name, filter_name, market, category, net_volume, last_activity, created_at
		 FROM entities WHERE kind = ? ORDER BY net_volume DESC LIMIT ?`,
		kind, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list top entities: %w", err)
	}
	defer rows.Close()

	return scanEntities(rows)
}

func (c *Client) InsertEntity(ctx context.Context, e *models.EntityRecord) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO entities
		 (id, kind, display_name, filter_name, market, category, net_volume, last_activity, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Kind, e.DisplayName, e.FilterName, e.Market, e.Category,
		e.NetVolume, e.LastActivity.Unix(), e.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert entity: %w", err)
	}
	return nil
}

func (c *Client) InsertRequestRecord(ctx context.Context, r *models.RequestRecord) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO request_log
		 (id, session_id, query_text, intent, degraded, eval_tier, eval_passed, eval_tag, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SessionID, r.QueryText, r.Intent, boolToInt(r.Degraded),
		r.EvalTier, boolToInt(r.EvalPassed), r.EvalTag, r.LatencyMS, r.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert request record: %w", err)
	}
	return nil
}

func (c *Client) InsertBackendCall(ctx context.Context, call *models.BackendCall) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO backend_calls (request_id, backend, status, attempts, latency_ms)
		 VALUES (?, ?, ?, ?, ?)`,
		call.RequestID, call.Backend, call.Status, call.Attempts, call.LatencyMS,
	)
	if err != nil {
		return fmt.Errorf("failed to insert backend call: %w", err)
	}
	return nil
}

func (c *Client) InsertBenchmarkDoc(ctx context.Context, doc *models.BenchmarkDoc) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO benchmark_docs
		 (id, url, title, metric, industry, summary, chunk_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.URL, doc.Title, doc.Metric, doc.Industry, doc.Summary,
		doc.ChunkCount, doc.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert benchmark doc: %w", err)
	}
	return nil
}

func (c *Client) GetRequestHistory(ctx context.Context, sessionID string, limit int) ([]models.RequestRecord, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, session_id, query_text, intent, degraded, eval_tier, eval_passed, eval_tag, latency_ms, created_at
		 FROM request_log WHERE session_id = ? ORDER BY created_at DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get request history: %w", err)
	}
	defer rows.Close()

	records := make([]models.RequestRecord, 0)
	for rows.Next() {
		var r models.RequestRecord
		var degraded, passed int
		var createdAt int64
		if err := rows.Scan(&r.ID, &r.SessionID, &r.QueryText, &r.Intent, &degraded,
			&r.EvalTier, &passed, &r.EvalTag, &r.LatencyMS, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan request record: %w", err)
		}
		r.Degraded = degraded == 1
		r.EvalPassed = passed == 1
		r.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, r)
	}
	return records, rows.Err()
}

func scanEntities(rows *sql.Rows) ([]models.EntityRecord, error) {
	entities := make([]models.EntityRecord, 0)
	for rows.Next() {
		var e models.EntityRecord
		var market, category sql.NullString
		var lastActivity sql.NullInt64
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.Kind, &e.DisplayName, &e.FilterName,
			&market, &category, &e.NetVolume, &lastActivity, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		e.Market = market.String
		e.Category = category.String
		if lastActivity.Valid {
			e.LastActivity = time.Unix(lastActivity.Int64, 0)
		}
		e.CreatedAt = time.Unix(createdAt, 0)
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
