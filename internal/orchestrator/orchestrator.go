// Package orchestrator is the single entry point for a conversational turn.
// It owns the pipeline: session handling, pending clarifications, follow-up
// expansion, classification, entity resolution, date echo, dispatch,
// benchmark comparison, enhancement, evaluation, and the audit trail.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campaigniq/backend/internal/benchmark"
	"github.com/campaigniq/backend/internal/conversation"
	"github.com/campaigniq/backend/internal/enhancer"
	"github.com/campaigniq/backend/internal/eval"
	"github.com/campaigniq/backend/internal/intent"
	"github.com/campaigniq/backend/internal/metrics"
	"github.com/campaigniq/backend/internal/resolver"
	"github.com/campaigniq/backend/internal/router"
	"github.com/campaigniq/backend/internal/session"
	"github.com/campaigniq/backend/internal/storage/models"
	"github.com/campaigniq/backend/internal/timeparse"
	"github.com/campaigniq/backend/pkg/logger"
)

// Response kinds returned to the transport layer.
const (
	KindAnswer        = "answer"
	KindClarification = "clarification"
	KindOutOfScope    = "out_of_scope"
	KindError         = "error"
)

type Request struct {
	SessionID string
	Query     string
}

type Response struct {
	SessionID  string                   `json:"session_id"`
	RequestID  string                   `json:"request_id"`
	Kind       string                   `json:"kind"`
	Text       string                   `json:"text"`
	Options    []string                 `json:"options,omitempty"`
	Rows       []map[string]interface{} `json:"rows,omitempty"`
	Insights   string                   `json:"insights,omitempty"`
	VizHint    string                   `json:"viz_hint,omitempty"`
	Intent     string                   `json:"intent,omitempty"`
	Confidence float64                  `json:"confidence,omitempty"`
	EvalTag    string                   `json:"eval_tag,omitempty"`
	Degraded   bool                     `json:"degraded,omitempty"`
	Missing    []string                 `json:"missing_capabilities,omitempty"`
	NewSession bool                     `json:"new_session,omitempty"`

	// Audit carry-through; never serialized.
	evalTier       int
	evalPassed     bool
	backendResults *router.ResultSet
}

// Dispatcher, EntityResolver and Auditor are the narrow views of their
// concrete implementations the façade needs; tests substitute stubs.
type Dispatcher interface {
	Dispatch(ctx context.Context, capabilities []string, req router.Request) (*router.ResultSet, error)
}

type EntityResolver interface {
	Resolve(ctx context.Context, kind, keyword string) (*resolver.Resolved, error)
}

type Auditor interface {
	InsertRequestRecord(ctx context.Context, r *models.RequestRecord) error
	InsertBackendCall(ctx context.Context, call *models.BackendCall) error
}

type Config struct {
	RequestBudget time.Duration
	KnownMarkets  []string
	// DefaultBenchmarkMode answers a bare "benchmark" question without the
	// mode clarification; empty keeps the always-clarify behavior.
	DefaultBenchmarkMode benchmark.Mode
}

type Orchestrator struct {
	cfg        Config
	store      session.Store
	convo      *conversation.Manager
	classifier *intent.Classifier
	resolver   EntityResolver
	dispatcher Dispatcher
	comparator *benchmark.Comparator
	enhancer   *enhancer.Enhancer
	evaluator  *eval.Evaluator
	auditor    Auditor
	now        func() time.Time
}

func New(
	cfg Config,
	store session.Store,
	convo *conversation.Manager,
	classifier *intent.Classifier,
	entityResolver EntityResolver,
	dispatcher Dispatcher,
	comparator *benchmark.Comparator,
	enh *enhancer.Enhancer,
	evaluator *eval.Evaluator,
	auditor Auditor,
) *Orchestrator {
	if cfg.RequestBudget == 0 {
		cfg.RequestBudget = 300 * time.Second
	}
	return &Orchestrator{
		cfg:        cfg,
		store:      store,
		convo:      convo,
		classifier: classifier,
		resolver:   entityResolver,
		dispatcher: dispatcher,
		comparator: comparator,
		enhancer:   enh,
		evaluator:  evaluator,
		auditor:    auditor,
		now:        time.Now,
	}
}

// Process runs one conversational turn end to end.
func (o *Orchestrator) Process(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.RequestBudget)
	defer cancel()

	start := o.now()
	requestID := uuid.New().String()

	sess, isNew, err := o.convo.LoadOrCreate(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("session unavailable: %w", err)
	}

	resp := o.processTurn(ctx, requestID, sess, req.Query)
	resp.SessionID = sess.ID
	resp.RequestID = requestID
	resp.NewSession = isNew

	o.audit(requestID, sess.ID, req.Query, resp, o.now().Sub(start))
	return resp, nil
}

func (o *Orchestrator) processTurn(ctx context.Context, requestID string, sess *session.Session, query string) *Response {
	// A pending clarification owns the turn: the reply is matched against
	// its vocabulary before anything else sees the text.
	if pending, ok := o.convo.Pending(sess); ok {
		return o.resumeClarification(ctx, requestID, sess, pending, query)
	}
	return o.answer(ctx, requestID, sess, query, turnOverrides{})
}

// turnOverrides carries decisions already extracted from earlier
// clarification rounds so re-processing does not re-ask. resumed marks a
// re-entry after a clarification reply: the original question is already in
// the turn log, so only the assistant's side gets appended.
type turnOverrides struct {
	Metric        string
	DatePhrase    string
	BenchmarkMode benchmark.Mode
	Entities      *resolver.Resolved
	resumed       bool
}

func (o *Orchestrator) answer(ctx context.Context, requestID string, sess *session.Session, query string, ov turnOverrides) *Response {
	userMeta := session.TurnMeta{}

	// turnQuery is what gets logged as the user turn; empty on resume
	// because the question was logged when the clarification began.
	turnQuery := query
	if ov.resumed {
		turnQuery = ""
	}

	// Follow-up expansion happens before classification so the implicit
	// subject participates in intent and entity decisions.
	effectiveQuery := query
	if o.convo.IsFollowUp(sess, query) {
		entities, metric, timeRange := o.convo.ImplicitContext(sess)
		effectiveQuery = expandFollowUp(query, entities, metric, timeRange)
		userMeta.IsFollowUp = true
		logger.Debug("Follow-up expanded",
			zap.String("session_id", sess.ID),
			zap.String("expanded", effectiveQuery),
		)
	}

	cls := o.classifier.Classify(effectiveQuery)
	userMeta.Intent = string(cls.Intent)

	switch cls.Intent {
	case intent.OutOfScope:
		o.appendTurns(ctx, sess, turnQuery, userMeta, outOfScopeMessage, session.TurnMeta{})
		return &Response{
			Kind:       KindOutOfScope,
			Text:       outOfScopeMessage,
			Intent:     string(cls.Intent),
			Confidence: cls.Confidence,
		}
	case intent.Ambiguous:
		if ov.Metric == "" {
			return o.beginClarification(ctx, sess, termClarification(cls, query), turnQuery, userMeta)
		}
		// The user already picked an interpretation; reclassify with it.
		cls = o.classifier.Classify(effectiveQuery + " " + ov.Metric)
		userMeta.Intent = string(cls.Intent)
	}

	// Entity resolution round-trip.
	resolved := ov.Entities
	if resolved == nil {
		if keyword := extractEntityKeyword(effectiveQuery); keyword != "" {
			var err error
			resolved, err = o.resolver.Resolve(ctx, models.EntityKindCampaign, keyword)
			var noMatch *resolver.NoMatchError
			if errors.As(err, &noMatch) {
				text := noMatchMessage(noMatch)
				o.appendTurns(ctx, sess, turnQuery, userMeta, text, session.TurnMeta{})
				return &Response{Kind: KindAnswer, Text: text, Intent: string(cls.Intent)}
			}
			if err != nil {
				return o.failure(ctx, sess, turnQuery, userMeta, "The campaign catalog is unavailable right now; please retry shortly.")
			}
			if !resolved.Confirmed {
				return o.beginClarification(ctx, sess, entityClarification(resolved, query), turnQuery, userMeta)
			}
		}
	}
	if resolved != nil {
		userMeta.FilterEntities = resolved.FilterNames()
		userMeta.DisplayEntities = resolved.DisplayNames()
	}

	// Date-range resolution with explicit echo.
	var timeRange timeparse.Range
	haveRange := false
	datePhrase := ov.DatePhrase
	if datePhrase == "" {
		datePhrase = effectiveQuery
	}
	switch r, err := timeparse.Resolve(datePhrase, o.now()); {
	case err == nil:
		timeRange = r
		haveRange = true
		userMeta.TimeRange = r.String()
	case errors.Is(err, timeparse.ErrAmbiguous):
		return o.beginClarification(ctx, sess, dateClarification(o.now(), query), turnQuery, userMeta)
	}

	userMeta.Metric = chooseMetric(effectiveQuery, ov.Metric)

	// Benchmark mode decision, before dispatch so a clarification costs no
	// backend calls.
	benchMode := ov.BenchmarkMode
	wantsBenchmark := benchMode != "" || mentionsBenchmark(effectiveQuery)
	if wantsBenchmark && benchMode == "" {
		decision := benchmark.DecideMode(effectiveQuery, o.cfg.KnownMarkets)
		switch {
		case !decision.NeedsClarification:
			benchMode = decision.Mode
		case o.cfg.DefaultBenchmarkMode != "":
			benchMode = o.cfg.DefaultBenchmarkMode
		default:
			return o.beginClarification(ctx, sess, benchmarkClarification(decision, query), turnQuery, userMeta)
		}
	}

	// Dispatch to data backends. Generation is not dispatched; the enhancer
	// invokes it after the numbers exist.
	caps := dataCapabilities(cls.Backends)
	dispatchReq := router.Request{
		Query:          effectiveQuery,
		Intent:         string(cls.Intent),
		FilterEntities: userMeta.FilterEntities,
		Metric:         userMeta.Metric,
	}
	if haveRange {
		dispatchReq.TimeRangeStart = timeRange.Start.Format("2006-01-02")
		dispatchReq.TimeRangeEnd = timeRange.End.Format("2006-01-02")
	}

	results, err := o.dispatcher.Dispatch(ctx, caps, dispatchReq)
	if errors.Is(err, router.ErrAllBackendsFailed) {
		return o.failure(ctx, sess, turnQuery, userMeta,
			"The analytics backends are unavailable right now, so I can't answer this without making numbers up. Please try again shortly.")
	}
	if err != nil {
		return o.failure(ctx, sess, turnQuery, userMeta, "Something went wrong processing this request; please retry.")
	}

	// Benchmark comparison over the retrieved numbers.
	var comparison *benchmark.Comparison
	var benchCaveat string
	if benchMode != "" {
		comparison, benchCaveat = o.compare(ctx, benchMode, userMeta.Metric, results)
	}

	enhanced := o.enhancer.Enhance(ctx, enhancer.Input{
		Query:           query,
		Intent:          cls.Intent,
		Results:         results,
		Comparison:      comparison,
		DisplayEntities: userMeta.DisplayEntities,
		TimeRangeLabel:  userMeta.TimeRange,
	})

	text := enhanced.Text
	if benchCaveat != "" {
		text = joinSections(text, benchCaveat)
	}
	if results.Degraded {
		text = joinSections(text, degradedNote(results.Missing))
	}
	if enhanced.GenerationFailed {
		text = joinSections(text, "Narrative commentary is unavailable right now; the numbers above are complete.")
	}

	evalRes := o.evaluator.Evaluate(ctx, eval.Input{
		RequestID:      requestID,
		Query:          query,
		Intent:         cls.Intent,
		Answer:         enhanced,
		Results:        results,
		TimeRangeLabel: userMeta.TimeRange,
	})
	metrics.EvalTier.WithLabelValues(strconv.Itoa(evalRes.Tier), evalRes.Tag).Inc()

	userMeta.Degraded = results.Degraded
	assistantMeta := session.TurnMeta{
		Intent:          string(cls.Intent),
		FilterEntities:  userMeta.FilterEntities,
		DisplayEntities: userMeta.DisplayEntities,
		Metric:          userMeta.Metric,
		TimeRange:       userMeta.TimeRange,
		EvalTag:         evalRes.Tag,
		Degraded:        results.Degraded,
	}
	o.appendTurns(ctx, sess, turnQuery, userMeta, text, assistantMeta)

	filterEntity, shownEntity := "", ""
	if len(userMeta.FilterEntities) > 0 {
		filterEntity = userMeta.FilterEntities[0]
		shownEntity = userMeta.DisplayEntities[0]
	}
	if err := o.convo.RememberSubject(ctx, sess, filterEntity, shownEntity, userMeta.Metric, userMeta.TimeRange); err != nil {
		logger.Warn("Failed to persist turn subject", zap.Error(err))
	}

	return &Response{
		Kind:       KindAnswer,
		Text:       text,
		Rows:       enhanced.Rows,
		Insights:   enhanced.Insights,
		VizHint:    enhanced.VizHint,
		Intent:     string(cls.Intent),
		Confidence: cls.Confidence,
		EvalTag:    evalRes.Tag,
		Degraded:   results.Degraded,
		Missing:    results.Missing,

		evalTier:       evalRes.Tier,
		evalPassed:     evalRes.Passed,
		backendResults: results,
	}
}

// resumeClarification routes a reply through the pending sub-dialog and,
// when the reply parses, re-runs the original question with the decision
// folded in.
func (o *Orchestrator) resumeClarification(ctx context.Context, requestID string, sess *session.Session, c *conversation.Clarification, reply string) *Response {
	clarifyMeta := session.TurnMeta{Clarification: string(c.Kind)}
	o.appendUserTurn(ctx, sess, reply, clarifyMeta)

	choice, err := o.convo.HandleReply(ctx, sess, c, reply)

	var reprompt *conversation.RepromptError
	switch {
	case errors.As(err, &reprompt):
		text := "I didn't catch that. " + reprompt.Prompt
		o.appendAssistantTurn(ctx, sess, text, clarifyMeta)
		return &Response{
			Kind:    KindClarification,
			Text:    text,
			Options: c.Options,
		}
	case errors.Is(err, conversation.ErrGaveUp):
		text := "I couldn't pin that down, so I've dropped the question rather than guess. Feel free to rephrase it from the top."
		o.appendAssistantTurn(ctx, sess, text, clarifyMeta)
		return &Response{Kind: KindError, Text: text}
	case err != nil:
		text := "Something went wrong handling that reply; please rephrase your question."
		o.appendAssistantTurn(ctx, sess, text, clarifyMeta)
		return &Response{Kind: KindError, Text: text}
	}

	original := c.Payload["query"]

	switch c.Kind {
	case conversation.ClarifyTerm:
		return o.answer(ctx, requestID, sess, original, turnOverrides{Metric: metricForInterpretation(choice), resumed: true})

	case conversation.ClarifyDate:
		return o.answer(ctx, requestID, sess, original, turnOverrides{DatePhrase: choice, resumed: true})

	case conversation.ClarifyBenchmark:
		if strings.EqualFold(choice, "industry") {
			return o.answer(ctx, requestID, sess, original, turnOverrides{BenchmarkMode: benchmark.ModeIndustry, resumed: true})
		}
		// Internal needs the second level: which internal comparison.
		next := conversation.Clarification{
			Kind:    conversation.ClarifyBenchmarkKind,
			Prompt:  "Which internal comparison: year over year, month over month, regional average, or market to market?",
			Options: benchmark.InternalVariantOptions(),
			Payload: map[string]string{"query": original},
		}
		return o.beginClarification(ctx, sess, next, "", session.TurnMeta{})

	case conversation.ClarifyBenchmarkKind:
		mode, ok := benchmark.DecideInternalVariant(choice)
		if !ok {
			text := "That isn't a comparison I support; please rephrase your question."
			o.appendAssistantTurn(ctx, sess, text, clarifyMeta)
			return &Response{Kind: KindError, Text: text}
		}
		return o.answer(ctx, requestID, sess, original, turnOverrides{BenchmarkMode: mode, resumed: true})

	case conversation.ClarifyEntity:
		var candidates resolver.Resolved
		if err := json.Unmarshal([]byte(c.Payload["candidates"]), &candidates); err != nil {
			text := "I lost track of the options; please rephrase your question."
			o.appendAssistantTurn(ctx, sess, text, clarifyMeta)
			return &Response{Kind: KindError, Text: text}
		}
		selection := choice
		if !strings.EqualFold(choice, "all") {
			// Map the display-name choice back to its 1-based position.
			for i, name := range candidates.DisplayNames() {
				if strings.EqualFold(name, choice) {
					selection = fmt.Sprintf("%d", i+1)
					break
				}
			}
		}
		selected, err := resolver.Select(&candidates, selection)
		if err != nil {
			text := "That selection didn't match the options; please rephrase your question."
			o.appendAssistantTurn(ctx, sess, text, clarifyMeta)
			return &Response{Kind: KindError, Text: text}
		}
		return o.answer(ctx, requestID, sess, original, turnOverrides{Entities: selected, resumed: true})
	}

	return &Response{Kind: KindError, Text: "Please rephrase your question."}
}

// beginClarification persists the sub-dialog and logs the exchange: the
// question that triggered it (unless already logged on a resumed turn) and
// the prompt the user will see.
func (o *Orchestrator) beginClarification(ctx context.Context, sess *session.Session, c conversation.Clarification, userTurn string, userMeta session.TurnMeta) *Response {
	if err := o.convo.Begin(ctx, sess, c); err != nil {
		logger.Error("Failed to persist clarification", zap.Error(err))
		return &Response{Kind: KindError, Text: "Something went wrong; please retry."}
	}
	metrics.ClarificationRounds.WithLabelValues(string(c.Kind)).Inc()
	o.appendTurns(ctx, sess, userTurn, userMeta, c.Prompt, session.TurnMeta{Clarification: string(c.Kind)})
	return &Response{Kind: KindClarification, Text: c.Prompt, Options: c.Options}
}

// compare extracts subject (and for internal modes, reference) values from
// the structured-query rows and runs the comparator. A missing prerequisite
// degrades to a caveat rather than blocking the answer.
func (o *Orchestrator) compare(ctx context.Context, mode benchmark.Mode, metric string, results *router.ResultSet) (*benchmark.Comparison, string) {
	res, ok := results.Get(intent.BackendNLQ)
	if !ok || len(res.Rows) == 0 {
		return nil, "Benchmark comparison skipped: no data rows to compare."
	}

	subject, ok := sideFromRow(res.Rows[0], metric)
	if !ok {
		return nil, "Benchmark comparison skipped: the result has no comparable metric value."
	}

	if mode == benchmark.ModeIndustry {
		cmp, err := o.comparator.CompareIndustry(ctx, metric, "email", subject)
		if err != nil {
			logger.Warn("Industry comparison unavailable", zap.Error(err))
			return nil, "No published industry reference is available for this metric, so I'm showing your numbers without one."
		}
		if cmp.LowSample {
			metrics.LowSampleComparisons.Inc()
		}
		return cmp, ""
	}

	if len(res.Rows) < 2 {
		return nil, "Benchmark comparison skipped: the reference period returned no data."
	}
	reference, ok := sideFromRow(res.Rows[1], metric)
	if !ok {
		return nil, "Benchmark comparison skipped: the reference has no comparable metric value."
	}

	cmp, err := o.comparator.CompareInternal(mode, metric, subject, reference)
	if err != nil {
		logger.Warn("Internal comparison unavailable", zap.Error(err))
		return nil, "Benchmark comparison skipped: the reference value is zero."
	}
	if cmp.LowSample {
		metrics.LowSampleComparisons.Inc()
	}
	return cmp, ""
}

func sideFromRow(row map[string]interface{}, metric string) (benchmark.Side, bool) {
	side := benchmark.Side{}

	value, ok := row[metric]
	if !ok {
		// Fall back to the first rate-like column.
		for k, v := range row {
			if strings.Contains(k, "rate") {
				value, ok = v, true
				break
			}
		}
	}
	if !ok {
		return side, false
	}
	f, ok := asFloat(value)
	if !ok {
		return side, false
	}
	side.Value = f

	if vol, ok := row["net_volume"]; ok {
		if n, ok := asFloat(vol); ok {
			side.Volume = int64(n)
		}
	}
	if m, ok := row["market"].(string); ok {
		side.Scope.Market = m
	}
	if c, ok := row["category"].(string); ok {
		side.Scope.Category = c
	}
	if p, ok := row["period"].(string); ok {
		side.Scope.Period = p
	}
	return side, true
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func (o *Orchestrator) failure(ctx context.Context, sess *session.Session, query string, userMeta session.TurnMeta, text string) *Response {
	o.appendTurns(ctx, sess, query, userMeta, text, session.TurnMeta{})
	return &Response{Kind: KindError, Text: text, Intent: userMeta.Intent}
}

// appendTurns logs one exchange. An empty query means the user side is
// already in the log (resumed clarification); only the assistant side is
// appended then.
func (o *Orchestrator) appendTurns(ctx context.Context, sess *session.Session, query string, userMeta session.TurnMeta, answer string, assistantMeta session.TurnMeta) {
	if query != "" {
		o.appendUserTurn(ctx, sess, query, userMeta)
	}
	o.appendAssistantTurn(ctx, sess, answer, assistantMeta)
}

func (o *Orchestrator) appendUserTurn(ctx context.Context, sess *session.Session, content string, meta session.TurnMeta) {
	if _, err := o.store.AppendTurn(ctx, sess.ID, session.Turn{
		Role: session.RoleUser, Content: content, Meta: meta,
	}); err != nil {
		logger.Warn("Failed to append user turn", zap.Error(err))
	}
}

func (o *Orchestrator) appendAssistantTurn(ctx context.Context, sess *session.Session, content string, meta session.TurnMeta) {
	if _, err := o.store.AppendTurn(ctx, sess.ID, session.Turn{
		Role: session.RoleAssistant, Content: content, Meta: meta,
	}); err != nil {
		logger.Warn("Failed to append assistant turn", zap.Error(err))
	}
}

func (o *Orchestrator) audit(requestID, sessionID, query string, resp *Response, latency time.Duration) {
	if o.auditor == nil {
		return
	}
	// Auditing must not ride the request budget.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec := &models.RequestRecord{
		ID:         requestID,
		SessionID:  sessionID,
		QueryText:  query,
		Intent:     resp.Intent,
		Degraded:   resp.Degraded,
		EvalTier:   resp.evalTier,
		EvalPassed: resp.evalPassed,
		EvalTag:    resp.EvalTag,
		LatencyMS:  int(latency.Milliseconds()),
		CreatedAt:  o.now().UTC(),
	}
	if err := o.auditor.InsertRequestRecord(ctx, rec); err != nil {
		logger.Warn("Failed to write audit record", zap.Error(err))
		return
	}

	// Per-backend rows hang off the request record; skipped when that
	// insert failed.
	if resp.backendResults == nil {
		return
	}
	names := make([]string, 0, len(resp.backendResults.Results))
	for name := range resp.backendResults.Results {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		res := resp.backendResults.Results[name]
		if err := o.auditor.InsertBackendCall(ctx, &models.BackendCall{
			RequestID: requestID,
			Backend:   name,
			Status:    "ok",
			Attempts:  res.Attempts,
			LatencyMS: int(res.Latency.Milliseconds()),
		}); err != nil {
			logger.Warn("Failed to write backend call record", zap.Error(err))
		}
	}
	for _, name := range resp.backendResults.Missing {
		if err := o.auditor.InsertBackendCall(ctx, &models.BackendCall{
			RequestID: requestID,
			Backend:   name,
			Status:    "error",
		}); err != nil {
			logger.Warn("Failed to write backend call record", zap.Error(err))
		}
	}
}
