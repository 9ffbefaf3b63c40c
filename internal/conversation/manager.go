// Package conversation tracks per-session dialog state: follow-up
// detection, the Active/AwaitingClarification state machine, and the short
// clarification sub-dialogs with their bounded re-prompt budget.
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"github.com/campaigniq/backend/internal/session"
	"github.com/campaigniq/backend/pkg/logger"
)

type ClarificationKind string

const (
	ClarifyTerm          ClarificationKind = "ambiguous_term"
	ClarifyDate          ClarificationKind = "ambiguous_date"
	ClarifyBenchmark     ClarificationKind = "benchmark_mode"
	ClarifyBenchmarkKind ClarificationKind = "benchmark_internal_kind"
	ClarifyEntity        ClarificationKind = "entity_selection"
)

// ErrGaveUp means the user failed both the original prompt and the single
// re-prompt; the caller must produce an explicit failure message, never a
// guess.
var ErrGaveUp = errors.New("clarification abandoned after re-prompt")

// RepromptError carries the prompt to repeat after one unparseable reply.
type RepromptError struct {
	Prompt string
}

func (e *RepromptError) Error() string {
	return "unparseable clarification reply"
}

// Clarification is one pending sub-dialog. Options is the constrained
// reply vocabulary; Payload round-trips dialog-specific state (entity
// candidates, original query) through the session store so any instance
// can pick the dialog up.
type Clarification struct {
	Kind    ClarificationKind `json:"kind"`
	Prompt  string            `json:"prompt"`
	Options []string          `json:"options"`
	Payload map[string]string `json:"payload,omitempty"`
}

type Manager struct {
	store          session.Store
	followUpWindow int
}

func NewManager(store session.Store, followUpWindow int) *Manager {
	if followUpWindow <= 0 {
		followUpWindow = 5
	}
	return &Manager{store: store, followUpWindow: followUpWindow}
}

// LoadOrCreate returns the identified session, or a fresh one when the id
// is empty or expired. The second return reports whether a new session was
// started.
func (m *Manager) LoadOrCreate(ctx context.Context, sessionID string) (*session.Session, bool, error) {
	if sessionID == "" {
		sess, err := m.store.Create(ctx)
		return sess, true, err
	}

	sess, err := m.store.Load(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		logger.Info("Session expired or unknown, starting fresh", zap.String("session_id", sessionID))
		sess, err := m.store.Create(ctx)
		return sess, true, err
	}
	if err != nil {
		return nil, false, err
	}
	return sess, false, nil
}

// IsFollowUp reports whether the query leans on an anaphoric reference to
// something said within the recency window. A brand-new session can never
// be a follow-up.
func (m *Manager) IsFollowUp(sess *session.Session, query string) bool {
	if sess == nil || len(sess.Turns) == 0 {
		return false
	}

	recent := sess.LastTurns(m.followUpWindow)
	hasSubject := false
	for _, t := range recent {
		if len(t.Meta.FilterEntities) > 0 || t.Meta.Metric != "" || t.Meta.TimeRange != "" {
			hasSubject = true
			break
		}
	}
	if !hasSubject {
		return false
	}

	return hasAnaphor(query)
}

// ImplicitContext returns the prior turn's resolved subject for prepending
// to a follow-up before re-classification.
func (m *Manager) ImplicitContext(sess *session.Session) (entities []string, metric, timeRange string) {
	t := sess.LastUserTurnWithSubject()
	if t == nil {
		return nil, "", ""
	}
	return t.Meta.FilterEntities, t.Meta.Metric, t.Meta.TimeRange
}

// Begin stores a pending clarification and moves the session to
// AwaitingClarification.
func (m *Manager) Begin(ctx context.Context, sess *session.Session, c Clarification) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode clarification: %w", err)
	}

	return m.store.SetContext(ctx, sess.ID, map[string]string{
		session.CtxState:             session.StateAwaitingClarification,
		session.CtxClarificationKind: string(c.Kind),
		session.CtxClarificationData: string(data),
		session.CtxReprompts:         "0",
	})
}

// Pending returns the stored clarification when the session is awaiting
// one.
func (m *Manager) Pending(sess *session.Session) (*Clarification, bool) {
	if sess.Context[session.CtxState] != session.StateAwaitingClarification {
		return nil, false
	}
	var c Clarification
	if err := json.Unmarshal([]byte(sess.Context[session.CtxClarificationData]), &c); err != nil {
		logger.Warn("Corrupt clarification state, dropping",
			zap.String("session_id", sess.ID),
			zap.Error(err),
		)
		return nil, false
	}
	return &c, true
}

// HandleReply matches the user's reply against the clarification's
// constrained vocabulary. One unparseable reply earns a re-prompt; the
// second abandons the dialog with ErrGaveUp.
func (m *Manager) HandleReply(ctx context.Context, sess *session.Session, c *Clarification, reply string) (string, error) {
	if choice, ok := matchOption(c.Options, reply); ok {
		if err := m.End(ctx, sess); err != nil {
			return "", err
		}
		return choice, nil
	}

	reprompts, _ := strconv.Atoi(sess.Context[session.CtxReprompts])
	if reprompts >= 1 {
		if err := m.End(ctx, sess); err != nil {
			return "", err
		}
		logger.Info("Clarification abandoned",
			zap.String("session_id", sess.ID),
			zap.String("kind", string(c.Kind)),
		)
		return "", ErrGaveUp
	}

	if err := m.store.SetContext(ctx, sess.ID, map[string]string{
		session.CtxReprompts: strconv.Itoa(reprompts + 1),
	}); err != nil {
		return "", err
	}
	return "", &RepromptError{Prompt: c.Prompt}
}

// End clears clarification state and returns the session to Active.
func (m *Manager) End(ctx context.Context, sess *session.Session) error {
	if err := m.store.SetContext(ctx, sess.ID, map[string]string{
		session.CtxState: session.StateActive,
	}); err != nil {
		return err
	}
	return m.store.ClearContext(ctx, sess.ID,
		session.CtxClarificationKind,
		session.CtxClarificationData,
		session.CtxReprompts,
	)
}

// RememberSubject persists the resolved subject of the current turn for
// follow-up expansion on later turns.
func (m *Manager) RememberSubject(ctx context.Context, sess *session.Session, filterEntity, shownEntity, metric, timeRange string) error {
	kv := map[string]string{}
	if filterEntity != "" {
		kv[session.CtxSubjectEntity] = filterEntity
		kv[session.CtxSubjectEntityShown] = shownEntity
	}
	if metric != "" {
		kv[session.CtxSubjectMetric] = metric
	}
	if timeRange != "" {
		kv[session.CtxSubjectRange] = timeRange
	}
	if len(kv) == 0 {
		return nil
	}
	return m.store.SetContext(ctx, sess.ID, kv)
}

func matchOption(options []string, reply string) (string, bool) {
	r := strings.ToLower(strings.TrimSpace(reply))
	if r == "" {
		return "", false
	}
	for _, opt := range options {
		if strings.ToLower(opt) == r {
			return opt, true
		}
	}
	// Numeric replies select from the list by position.
	if idx, err := strconv.Atoi(r); err == nil && idx >= 1 && idx <= len(options) {
		return options[idx-1], true
	}
	return "", false
}

var demonstratives = map[string]struct{}{
	"this": {}, "that": {}, "these": {}, "those": {},
}

// hasAnaphor uses POS tags to find pronouns and demonstratives. The
// tagger occasionally misses short chat inputs, so a small closed list of
// pronouns backs it up.
func hasAnaphor(query string) bool {
	doc, err := prose.NewDocument(query, prose.WithExtraction(false), prose.WithSegmentation(false))
	if err == nil {
		for _, tok := range doc.Tokens() {
			switch tok.Tag {
			case "PRP", "PRP$":
				return true
			case "DT":
				if _, ok := demonstratives[strings.ToLower(tok.Text)]; ok {
					return true
				}
			}
		}
	}

	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.Trim(w, ".,!?;:")
		switch w {
		case "it", "they", "them", "its", "their", "theirs":
			return true
		}
		if _, ok := demonstratives[w]; ok {
			return true
		}
	}
	return false
}
