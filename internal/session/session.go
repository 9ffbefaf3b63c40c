package session

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Conversation states tracked in the session context.
const (
	StateActive                = "active"
	StateAwaitingClarification = "awaiting_clarification"
)

// Context keys. The context map is the only piece of session state that is
// rewritten between turns; turns themselves are append-only.
const (
	CtxState              = "state"
	CtxClarificationKind  = "clarification_kind"
	CtxClarificationData  = "clarification_data"
	CtxReprompts          = "reprompts"
	CtxSubjectEntity      = "subject_entity"
	CtxSubjectEntityShown = "subject_entity_shown"
	CtxSubjectMetric      = "subject_metric"
	CtxSubjectRange       = "subject_range"
)

// TurnMeta carries the per-turn analysis artifacts referenced by the spec:
// classified intent, resolved entities, and the evaluation tag.
type TurnMeta struct {
	Intent          string   `json:"intent,omitempty"`
	FilterEntities  []string `json:"filter_entities,omitempty"`
	DisplayEntities []string `json:"display_entities,omitempty"`
	Metric          string   `json:"metric,omitempty"`
	TimeRange       string   `json:"time_range,omitempty"`
	EvalTag         string   `json:"eval_tag,omitempty"`
	IsFollowUp      bool     `json:"is_follow_up,omitempty"`
	Degraded        bool     `json:"degraded,omitempty"`
	// Clarification marks prompt and reply turns of a clarification
	// sub-dialog with its kind, so a transcript shows the full exchange.
	Clarification string `json:"clarification,omitempty"`
}

// Turn is immutable once appended. Seq is assigned by the store from the
// insert-only log position, which resolves concurrent duplicate writes
// without any full-session lock.
type Turn struct {
	Seq       int64     `json:"seq"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Meta      TurnMeta  `json:"meta"`
}

type Session struct {
	ID          string
	Turns       []Turn
	Context     map[string]string
	CreatedAt   time.Time
	LastUpdated time.Time
}

// LastTurns returns up to n most recent turns, oldest first.
func (s *Session) LastTurns(n int) []Turn {
	if n <= 0 || len(s.Turns) == 0 {
		return nil
	}
	if len(s.Turns) <= n {
		return s.Turns
	}
	return s.Turns[len(s.Turns)-n:]
}

// LastUserTurnWithSubject walks backwards looking for a turn whose metadata
// carries a resolved subject usable as implicit follow-up context.
func (s *Session) LastUserTurnWithSubject() *Turn {
	for i := len(s.Turns) - 1; i >= 0; i-- {
		t := s.Turns[i]
		if len(t.Meta.FilterEntities) > 0 || t.Meta.Metric != "" || t.Meta.TimeRange != "" {
			return &s.Turns[i]
		}
	}
	return nil
}
