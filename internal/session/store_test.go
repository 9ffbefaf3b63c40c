package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisStoreWithClient(client, 30*time.Minute), mr
}

func TestCreateAndLoadSession(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)
	assert.Equal(t, StateActive, sess.Context[CtxState])

	loaded, err := store.Load(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, loaded.ID)
	assert.Empty(t, loaded.Turns)
}

func TestLoadUnknownSessionReturnsNotFound(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Load(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAppendTurnAssignsMonotonicSequence(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx)
	require.NoError(t, err)

	seq0, err := store.AppendTurn(ctx, sess.ID, Turn{Role: RoleUser, Content: "first"})
	require.NoError(t, err)
	seq1, err := store.AppendTurn(ctx, sess.ID, Turn{Role: RoleAssistant, Content: "second"})
	require.NoError(t, err)

	assert.Equal(t, int64(0), seq0)
	assert.Equal(t, int64(1), seq1)

	loaded, err := store.Load(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Turns, 2)
	assert.Equal(t, "first", loaded.Turns[0].Content)
	assert.Equal(t, "second", loaded.Turns[1].Content)
	assert.Equal(t, int64(0), loaded.Turns[0].Seq)
	assert.Equal(t, int64(1), loaded.Turns[1].Seq)
}

func TestConcurrentAppendsGetDistinctSequences(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx)
	require.NoError(t, err)

	const writers = 20
	seqs := make(chan int64, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seq, err := store.AppendTurn(ctx, sess.ID, Turn{Role: RoleUser, Content: "turn"})
			assert.NoError(t, err)
			seqs <- seq
		}()
	}
	wg.Wait()
	close(seqs)

	seen := make(map[int64]bool)
	for seq := range seqs {
		assert.False(t, seen[seq], "sequence %d assigned twice", seq)
		seen[seq] = true
	}
	assert.Len(t, seen, writers)
}

func TestWritesRefreshTTL(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx)
	require.NoError(t, err)

	// Age the session almost to expiry, then write.
	mr.FastForward(29 * time.Minute)
	_, err = store.AppendTurn(ctx, sess.ID, Turn{Role: RoleUser, Content: "still here"})
	require.NoError(t, err)

	mr.FastForward(29 * time.Minute)
	_, err = store.Load(ctx, sess.ID)
	assert.NoError(t, err, "write should have reset the inactivity window")
}

func TestSessionExpiresAfterInactivity(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx)
	require.NoError(t, err)

	mr.FastForward(31 * time.Minute)
	_, err = store.Load(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetAndClearContext(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx)
	require.NoError(t, err)

	require.NoError(t, store.SetContext(ctx, sess.ID, map[string]string{
		CtxSubjectEntity: "EX30-Launch-DE",
		CtxSubjectMetric: "open_rate",
	}))

	loaded, err := store.Load(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "EX30-Launch-DE", loaded.Context[CtxSubjectEntity])

	require.NoError(t, store.ClearContext(ctx, sess.ID, CtxSubjectEntity))
	loaded, err = store.Load(ctx, sess.ID)
	require.NoError(t, err)
	_, ok := loaded.Context[CtxSubjectEntity]
	assert.False(t, ok)
	assert.Equal(t, "open_rate", loaded.Context[CtxSubjectMetric])
}

func TestTurnMetaRoundTrips(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx)
	require.NoError(t, err)

	_, err = store.AppendTurn(ctx, sess.ID, Turn{
		Role:    RoleUser,
		Content: "how did EX30 do",
		Meta: TurnMeta{
			Intent:          "descriptive",
			FilterEntities:  []string{"EX30-Launch-DE-2026"},
			DisplayEntities: []string{"EX30 Launch"},
			Metric:          "open_rate",
		},
	})
	require.NoError(t, err)

	loaded, err := store.Load(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Turns, 1)
	assert.Equal(t, []string{"EX30-Launch-DE-2026"}, loaded.Turns[0].Meta.FilterEntities)
	assert.Equal(t, "open_rate", loaded.Turns[0].Meta.Metric)
}
