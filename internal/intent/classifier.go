// Package intent categorizes a business question into an analytical intent
// and maps it to the backends able to answer it.
package intent

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/campaigniq/backend/pkg/logger"
)

type Intent string

const (
	Descriptive  Intent = "descriptive"
	Diagnostic   Intent = "diagnostic"
	Predictive   Intent = "predictive"
	Prescriptive Intent = "prescriptive"
	OutOfScope   Intent = "out_of_scope"
	Ambiguous    Intent = "ambiguous"
)

// Interpretation is one competing reading of an ambiguous term.
type Interpretation struct {
	Term    string
	Options []string
}

type Classification struct {
	Intent     Intent
	Confidence float64
	// Backends is the ordered capability set for the router; empty for
	// out_of_scope and ambiguous.
	Backends        []string
	Interpretations []Interpretation
	RuleVersion     int
}

type Classifier struct{}

func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify runs the scope guard first: out-of-scope questions are rejected
// with confidence 1.0 before any other processing, and no backend is ever
// suggested for them. Ambiguous metric terms likewise stop classification
// and surface their competing interpretations.
func (c *Classifier) Classify(query string) Classification {
	q := strings.ToLower(query)

	if offTopic(q) || !inDomain(q) {
		logger.Debug("Scope guard rejected query", zap.String("query", query))
		return Classification{
			Intent:      OutOfScope,
			Confidence:  1.0,
			RuleVersion: RuleTableVersion,
		}
	}

	if interp := findAmbiguous(q); len(interp) > 0 {
		return Classification{
			Intent:          Ambiguous,
			Confidence:      1.0,
			Interpretations: interp,
			RuleVersion:     RuleTableVersion,
		}
	}

	for _, rule := range ruleTable {
		for _, p := range rule.Patterns {
			if strings.Contains(q, p) {
				cls := Classification{
					Intent:      rule.Intent,
					Confidence:  confidenceFor(q, p),
					Backends:    append([]string(nil), rule.Backends...),
					RuleVersion: RuleTableVersion,
				}
				logger.Debug("Query classified",
					zap.String("intent", string(cls.Intent)),
					zap.Float64("confidence", cls.Confidence),
					zap.String("pattern", p),
				)
				return cls
			}
		}
	}

	// Domain vocabulary present but no question pattern: treat as a
	// descriptive lookup at reduced confidence.
	return Classification{
		Intent:      Descriptive,
		Confidence:  0.6,
		Backends:    []string{BackendNLQ},
		RuleVersion: RuleTableVersion,
	}
}

func offTopic(q string) bool {
	for _, t := range offTopicTerms {
		if strings.Contains(q, t) {
			return true
		}
	}
	return false
}

func inDomain(q string) bool {
	for _, t := range domainTerms {
		if strings.Contains(q, t) {
			return true
		}
	}
	return false
}

func findAmbiguous(q string) []Interpretation {
	// Stable term order: map iteration would shuffle the interpretation
	// list between runs when a question trips more than one term.
	terms := make([]string, 0, len(ambiguousTerms))
	for term := range ambiguousTerms {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	var out []Interpretation
	for _, term := range terms {
		options := ambiguousTerms[term]
		if containsWord(q, term) {
			// A term qualified by one of its readings is not ambiguous:
			// "click engagement" already says which rate is meant.
			qualified := false
			for _, opt := range options {
				head := strings.Fields(opt)[0]
				if strings.Contains(q, head) {
					qualified = true
					break
				}
			}
			if !qualified {
				out = append(out, Interpretation{Term: term, Options: options})
			}
		}
	}
	return out
}

func containsWord(q, word string) bool {
	idx := strings.Index(q, word)
	for idx >= 0 {
		before := idx == 0 || !isAlnum(q[idx-1])
		afterIdx := idx + len(word)
		after := afterIdx >= len(q) || !isAlnum(q[afterIdx])
		if before && after {
			return true
		}
		next := strings.Index(q[idx+1:], word)
		if next < 0 {
			return false
		}
		idx = idx + 1 + next
	}
	return false
}

func isAlnum(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// confidenceFor scores a match higher when the pattern anchors the start
// of the question.
func confidenceFor(q, pattern string) float64 {
	if strings.HasPrefix(q, pattern) {
		return 0.95
	}
	return 0.8
}
