// Package resolver maps free-text keywords to canonical catalog entities.
// Users refer to campaigns with whatever separator habits they have
// ("EX30-Launch", "ex30_launch", "EX30 Launch", "EX30Launch"); all variants
// must land on the same canonical record.
package resolver

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/campaigniq/backend/internal/storage/models"
	"github.com/campaigniq/backend/pkg/logger"
)

// Candidate pairs the short display form with the full filter form. The
// display name is what users see in lists and confirmations; the filter
// name is what backends receive. They never cross.
type Candidate struct {
	Keyword     string
	DisplayName string
	FilterName  string
	Market      string
	Category    string
	Similarity  float64
}

type Resolved struct {
	Candidates []Candidate
	Confirmed  bool
}

// FilterNames returns the backend filter forms of confirmed candidates.
func (r *Resolved) FilterNames() []string {
	names := make([]string, 0, len(r.Candidates))
	for _, c := range r.Candidates {
		names = append(names, c.FilterName)
	}
	return names
}

func (r *Resolved) DisplayNames() []string {
	names := make([]string, 0, len(r.Candidates))
	for _, c := range r.Candidates {
		names = append(names, c.DisplayName)
	}
	return names
}

// NoMatchError reports a failed lookup together with the variants tried and
// two alternative listings the user can pivot to.
type NoMatchError struct {
	Keyword       string
	VariantsTried []string
	RecentNames   []string
	TopNames      []string
}

func (e *NoMatchError) Error() string {
	return fmt.Sprintf("no entity matched %q (tried %d variants)", e.Keyword, len(e.VariantsTried))
}

type CandidateSource interface {
	SearchEntities(ctx context.Context, kind string, patterns []string) ([]models.EntityRecord, error)
	ListRecentEntities(ctx context.Context, kind string, limit int) ([]models.EntityRecord, error)
	ListTopEntities(ctx context.Context, kind string, limit int) ([]models.EntityRecord, error)
}

type Resolver struct {
	source               CandidateSource
	maxVariants          int
	autoConfirmThreshold float64
}

func New(source CandidateSource, maxVariants int, autoConfirmThreshold float64) *Resolver {
	if maxVariants <= 0 {
		maxVariants = 16
	}
	return &Resolver{
		source:               source,
		maxVariants:          maxVariants,
		autoConfirmThreshold: autoConfirmThreshold,
	}
}

// Resolve looks a keyword up in the catalog. Zero matches returns a
// *NoMatchError. One high-similarity match auto-confirms. Anything else
// comes back unconfirmed and needs an explicit user selection via Select.
func (r *Resolver) Resolve(ctx context.Context, kind, keyword string) (*Resolved, error) {
	variants := Variants(keyword, r.maxVariants)

	records, err := r.source.SearchEntities(ctx, kind, variants)
	if err != nil {
		return nil, fmt.Errorf("catalog lookup failed: %w", err)
	}

	logger.Debug("Entity lookup",
		zap.String("keyword", keyword),
		zap.Int("variants", len(variants)),
		zap.Int("matches", len(records)),
	)

	if len(records) == 0 {
		return nil, r.noMatch(ctx, kind, keyword, variants)
	}

	candidates := make([]Candidate, 0, len(records))
	for _, rec := range records {
		candidates = append(candidates, Candidate{
			Keyword:     keyword,
			DisplayName: rec.DisplayName,
			FilterName:  rec.FilterName,
			Market:      rec.Market,
			Category:    rec.Category,
			Similarity:  similarity(keyword, rec.FilterName),
		})
	}

	resolved := &Resolved{Candidates: candidates}
	if len(candidates) == 1 && candidates[0].Similarity >= r.autoConfirmThreshold {
		resolved.Confirmed = true
	}
	return resolved, nil
}

// Select applies the user's clarification reply to a multi-candidate
// resolution: a 1-based index or "all". Anything else is unparseable and
// reported to the caller for the re-prompt flow.
func Select(resolved *Resolved, reply string) (*Resolved, error) {
	reply = strings.TrimSpace(strings.ToLower(reply))
	if reply == "all" {
		return &Resolved{Candidates: resolved.Candidates, Confirmed: true}, nil
	}

	var idx int
	if _, err := fmt.Sscanf(reply, "%d", &idx); err != nil {
		return nil, fmt.Errorf("unparseable selection %q", reply)
	}
	if idx < 1 || idx > len(resolved.Candidates) {
		return nil, fmt.Errorf("selection %d out of range 1..%d", idx, len(resolved.Candidates))
	}
	return &Resolved{
		Candidates: []Candidate{resolved.Candidates[idx-1]},
		Confirmed:  true,
	}, nil
}

func (r *Resolver) noMatch(ctx context.Context, kind, keyword string, variants []string) error {
	nm := &NoMatchError{Keyword: keyword, VariantsTried: variants}

	if recent, err := r.source.ListRecentEntities(ctx, kind, 5); err == nil {
		for _, rec := range recent {
			nm.RecentNames = append(nm.RecentNames, rec.DisplayName)
		}
	}
	if top, err := r.source.ListTopEntities(ctx, kind, 5); err == nil {
		for _, rec := range top {
			nm.TopNames = append(nm.TopNames, rec.DisplayName)
		}
	}
	return nm
}

// Variants generates the separator-variant search patterns for a keyword:
// every combination of space, hyphen, underscore and no separator between
// tokens, capped to keep pathological multi-word inputs bounded.
func Variants(keyword string, cap int) []string {
	tokens := tokenize(keyword)
	if len(tokens) == 0 {
		return nil
	}
	if len(tokens) == 1 {
		return []string{tokens[0]}
	}

	separators := []string{" ", "-", "_", ""}

	// The four uniform forms are guaranteed regardless of the cap; mixed
	// combinations fill whatever budget remains.
	seen := make(map[string]struct{})
	out := make([]string, 0, cap)
	add := func(v string) {
		if _, ok := seen[v]; ok {
			return
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	for _, sep := range separators {
		add(strings.Join(tokens, sep))
	}

	mixed := []string{tokens[0]}
	for _, tok := range tokens[1:] {
		next := make([]string, 0, len(mixed)*len(separators))
		for _, v := range mixed {
			for _, sep := range separators {
				next = append(next, v+sep+tok)
			}
			if len(next) >= cap {
				break
			}
		}
		mixed = next
	}
	for _, v := range mixed {
		if len(out) >= cap {
			break
		}
		add(v)
	}
	return out
}

// tokenize splits on explicit separators and on digit/letter case
// boundaries, so "EX30Launch" yields the same tokens as "EX30 Launch".
func tokenize(keyword string) []string {
	fields := strings.FieldsFunc(keyword, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_'
	})

	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		tokens = append(tokens, splitBoundaries(f)...)
	}
	return tokens
}

func splitBoundaries(s string) []string {
	runes := []rune(s)
	if len(runes) == 0 {
		return nil
	}

	parts := make([]string, 0, 2)
	start := 0
	for i := 1; i < len(runes); i++ {
		prev, cur := runes[i-1], runes[i]
		boundary := (unicode.IsDigit(prev) && unicode.IsLetter(cur)) ||
			(unicode.IsLower(prev) && unicode.IsUpper(cur))
		if boundary {
			parts = append(parts, string(runes[start:i]))
			start = i
		}
	}
	parts = append(parts, string(runes[start:]))
	return parts
}

// similarity compares separator-collapsed lowercase forms: 1.0 for an exact
// collapsed match, otherwise the keyword's share of the candidate name.
func similarity(keyword, name string) float64 {
	k := collapse(keyword)
	n := collapse(name)
	if k == "" || n == "" {
		return 0
	}
	if k == n {
		return 1.0
	}
	if strings.Contains(n, k) {
		return float64(len(k)) / float64(len(n))
	}
	return 0
}

func collapse(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r == ' ' || r == '-' || r == '_' {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
