package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campaigniq/backend/internal/session"
)

func newManager(t *testing.T) (*Manager, session.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := session.NewRedisStoreWithClient(client, 30*time.Minute)
	return NewManager(store, 5), store
}

func seedSubjectTurn(t *testing.T, store session.Store, sessID string) {
	t.Helper()
	_, err := store.AppendTurn(context.Background(), sessID, session.Turn{
		Role:    session.RoleUser,
		Content: "how is the EX30 launch campaign doing",
		Meta: session.TurnMeta{
			FilterEntities:  []string{"EX30-Launch-DE-2026"},
			DisplayEntities: []string{"EX30 Launch"},
			Metric:          "open_rate",
		},
	})
	require.NoError(t, err)
}

func TestLoadOrCreateStartsFreshOnEmptyID(t *testing.T) {
	m, _ := newManager(t)

	sess, isNew, err := m.LoadOrCreate(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.NotEmpty(t, sess.ID)
}

func TestLoadOrCreateStartsFreshOnExpiredSession(t *testing.T) {
	m, _ := newManager(t)

	sess, isNew, err := m.LoadOrCreate(context.Background(), "expired-session-id")
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.NotEqual(t, "expired-session-id", sess.ID)
}

func TestIsFollowUpDetectsPronoun(t *testing.T) {
	m, store := newManager(t)
	ctx := context.Background()

	sess, _, err := m.LoadOrCreate(ctx, "")
	require.NoError(t, err)
	seedSubjectTurn(t, store, sess.ID)

	sess, err = store.Load(ctx, sess.ID)
	require.NoError(t, err)

	assert.True(t, m.IsFollowUp(sess, "what about its click rate"))
	assert.True(t, m.IsFollowUp(sess, "and how did that compare to June"))
	assert.False(t, m.IsFollowUp(sess, "show me the Summer Sale campaign"))
}

func TestIsFollowUpNeedsARecentSubject(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	sess, _, err := m.LoadOrCreate(ctx, "")
	require.NoError(t, err)

	// Brand-new session: nothing to refer back to.
	assert.False(t, m.IsFollowUp(sess, "what about its click rate"))
}

func TestImplicitContextReturnsPriorSubject(t *testing.T) {
	m, store := newManager(t)
	ctx := context.Background()

	sess, _, err := m.LoadOrCreate(ctx, "")
	require.NoError(t, err)
	seedSubjectTurn(t, store, sess.ID)

	sess, err = store.Load(ctx, sess.ID)
	require.NoError(t, err)

	entities, metric, _ := m.ImplicitContext(sess)
	assert.Equal(t, []string{"EX30-Launch-DE-2026"}, entities)
	assert.Equal(t, "open_rate", metric)
}

func TestClarificationAcceptsValidReply(t *testing.T) {
	m, store := newManager(t)
	ctx := context.Background()

	sess, _, err := m.LoadOrCreate(ctx, "")
	require.NoError(t, err)

	c := Clarification{
		Kind:    ClarifyTerm,
		Prompt:  "Open rate or click rate?",
		Options: []string{"open rate", "click rate"},
	}
	require.NoError(t, m.Begin(ctx, sess, c))

	sess, err = store.Load(ctx, sess.ID)
	require.NoError(t, err)
	pending, ok := m.Pending(sess)
	require.True(t, ok)

	choice, err := m.HandleReply(ctx, sess, pending, "click rate")
	require.NoError(t, err)
	assert.Equal(t, "click rate", choice)

	sess, err = store.Load(ctx, sess.ID)
	require.NoError(t, err)
	_, ok = m.Pending(sess)
	assert.False(t, ok, "clarification state must be cleared after a valid reply")
}

func TestClarificationAcceptsNumericSelection(t *testing.T) {
	m, store := newManager(t)
	ctx := context.Background()

	sess, _, err := m.LoadOrCreate(ctx, "")
	require.NoError(t, err)

	c := Clarification{Kind: ClarifyEntity, Options: []string{"EX30 Launch DE", "EX30 Launch FR"}}
	require.NoError(t, m.Begin(ctx, sess, c))
	sess, err = store.Load(ctx, sess.ID)
	require.NoError(t, err)
	pending, _ := m.Pending(sess)

	choice, err := m.HandleReply(ctx, sess, pending, "2")
	require.NoError(t, err)
	assert.Equal(t, "EX30 Launch FR", choice)
}

func TestClarificationRepromptsOnceThenGivesUp(t *testing.T) {
	m, store := newManager(t)
	ctx := context.Background()

	sess, _, err := m.LoadOrCreate(ctx, "")
	require.NoError(t, err)

	c := Clarification{Kind: ClarifyDate, Prompt: "Which period?", Options: []string{"last week", "last month"}}
	require.NoError(t, m.Begin(ctx, sess, c))
	sess, err = store.Load(ctx, sess.ID)
	require.NoError(t, err)
	pending, _ := m.Pending(sess)

	// First unparseable reply: re-prompt.
	_, err = m.HandleReply(ctx, sess, pending, "whenever")
	var reprompt *RepromptError
	require.ErrorAs(t, err, &reprompt)
	assert.Equal(t, "Which period?", reprompt.Prompt)

	// Second unparseable reply: explicit failure, state cleared.
	sess, err = store.Load(ctx, sess.ID)
	require.NoError(t, err)
	pending, ok := m.Pending(sess)
	require.True(t, ok)
	_, err = m.HandleReply(ctx, sess, pending, "dunno")
	assert.ErrorIs(t, err, ErrGaveUp)

	sess, err = store.Load(ctx, sess.ID)
	require.NoError(t, err)
	_, ok = m.Pending(sess)
	assert.False(t, ok)
}

func TestRememberSubjectRoundTrip(t *testing.T) {
	m, store := newManager(t)
	ctx := context.Background()

	sess, _, err := m.LoadOrCreate(ctx, "")
	require.NoError(t, err)

	require.NoError(t, m.RememberSubject(ctx, sess, "EX30-Launch-DE-2026", "EX30 Launch", "open_rate", "2026-07-01…2026-07-31"))

	loaded, err := store.Load(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "EX30-Launch-DE-2026", loaded.Context[session.CtxSubjectEntity])
	assert.Equal(t, "EX30 Launch", loaded.Context[session.CtxSubjectEntityShown])
	assert.Equal(t, "open_rate", loaded.Context[session.CtxSubjectMetric])
}
