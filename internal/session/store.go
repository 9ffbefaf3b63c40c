package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/campaigniq/backend/pkg/logger"
)

var ErrNotFound = errors.New("session not found")

// Store is the externally persisted session log. Turns are an insert-only
// list per session; the context map is the only rewritable state.
type Store interface {
	Create(ctx context.Context) (*Session, error)
	Load(ctx context.Context, sessionID string) (*Session, error)
	AppendTurn(ctx context.Context, sessionID string, turn Turn) (int64, error)
	SetContext(ctx context.Context, sessionID string, kv map[string]string) error
	ClearContext(ctx context.Context, sessionID string, keys ...string) error
}

// RedisStore keeps each session as three keys sharing one TTL:
//
//	session:{id}:meta   hash  (created_at, last_updated)
//	session:{id}:turns  list  (JSON turns, RPUSH only)
//	session:{id}:ctx    hash  (context map)
//
// Sessions expire via TTL after the configured inactivity window; every
// write refreshes it.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(host string, port int, password string, db int, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	if _, err := client.Ping(context.Background()).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Session store initialized",
		zap.String("addr", fmt.Sprintf("%s:%d", host, port)),
		zap.Duration("ttl", ttl),
	)

	return &RedisStore{client: client, ttl: ttl}, nil
}

// NewRedisStoreWithClient wires an existing client; used by tests with
// miniredis.
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Create(ctx context.Context) (*Session, error) {
	now := time.Now().UTC()
	sess := &Session{
		ID:          uuid.New().String(),
		Context:     map[string]string{CtxState: StateActive},
		CreatedAt:   now,
		LastUpdated: now,
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, metaKey(sess.ID),
		"created_at", now.Format(time.RFC3339Nano),
		"last_updated", now.Format(time.RFC3339Nano),
	)
	pipe.HSet(ctx, ctxKey(sess.ID), CtxState, StateActive)
	pipe.Expire(ctx, metaKey(sess.ID), s.ttl)
	pipe.Expire(ctx, ctxKey(sess.ID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	logger.Debug("Session created", zap.String("session_id", sess.ID))
	return sess, nil
}

func (s *RedisStore) Load(ctx context.Context, sessionID string) (*Session, error) {
	meta, err := s.client.HGetAll(ctx, metaKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load session meta: %w", err)
	}
	if len(meta) == 0 {
		return nil, ErrNotFound
	}

	raw, err := s.client.LRange(ctx, turnsKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load session turns: %w", err)
	}

	ctxMap, err := s.client.HGetAll(ctx, ctxKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load session context: %w", err)
	}

	sess := &Session{
		ID:      sessionID,
		Turns:   make([]Turn, 0, len(raw)),
		Context: ctxMap,
	}
	sess.CreatedAt, _ = time.Parse(time.RFC3339Nano, meta["created_at"])
	sess.LastUpdated, _ = time.Parse(time.RFC3339Nano, meta["last_updated"])

	for i, item := range raw {
		var turn Turn
		if err := json.Unmarshal([]byte(item), &turn); err != nil {
			return nil, fmt.Errorf("failed to decode turn %d: %w", i, err)
		}
		// The log position is authoritative for ordering.
		turn.Seq = int64(i)
		sess.Turns = append(sess.Turns, turn)
	}

	return sess, nil
}

func (s *RedisStore) AppendTurn(ctx context.Context, sessionID string, turn Turn) (int64, error) {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(turn)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal turn: %w", err)
	}

	length, err := s.client.RPush(ctx, turnsKey(sessionID), data).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to append turn: %w", err)
	}
	seq := length - 1

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, metaKey(sessionID), "last_updated", turn.Timestamp.Format(time.RFC3339Nano))
	pipe.Expire(ctx, metaKey(sessionID), s.ttl)
	pipe.Expire(ctx, turnsKey(sessionID), s.ttl)
	pipe.Expire(ctx, ctxKey(sessionID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return seq, fmt.Errorf("failed to touch session: %w", err)
	}

	logger.Debug("Turn appended",
		zap.String("session_id", sessionID),
		zap.Int64("seq", seq),
		zap.String("role", turn.Role),
	)

	return seq, nil
}

func (s *RedisStore) SetContext(ctx context.Context, sessionID string, kv map[string]string) error {
	if len(kv) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(kv)*2)
	for k, v := range kv {
		args = append(args, k, v)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, ctxKey(sessionID), args...)
	pipe.Expire(ctx, ctxKey(sessionID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set session context: %w", err)
	}
	return nil
}

func (s *RedisStore) ClearContext(ctx context.Context, sessionID string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.HDel(ctx, ctxKey(sessionID), keys...).Err(); err != nil {
		return fmt.Errorf("failed to clear session context: %w", err)
	}
	return nil
}

func metaKey(id string) string  { return "session:" + id + ":meta" }
func turnsKey(id string) string { return "session:" + id + ":turns" }
func ctxKey(id string) string   { return "session:" + id + ":ctx" }
