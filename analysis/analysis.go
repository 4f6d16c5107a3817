// Package analysis is the boundary to the text-classification model.
//
// The model's answers are untrusted: every result is decoded into a typed
// struct and normalised here, so callers never see out-of-range scores or
// missing fields. Callers treat an error as "no classification" and fall
// back to Neutral or empty Patterns.
package analysis

import (
	"context"
	"math"
	"strings"
)

// Sentiment labels.
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
)

// Pattern categories.
const (
	CategoryTopics      = "topics"
	CategoryActiveHours = "active_hours"
	CategoryStyle       = "style"
	CategoryInterests   = "interests"
)

// Categories lists the pattern categories in a stable order.
var Categories = []string{CategoryTopics, CategoryActiveHours, CategoryStyle, CategoryInterests}

// Analysis is the classification of one message.
type Analysis struct {
	Importance float64  `json:"importance"`
	Summary    string   `json:"summary"`
	Sentiment  string   `json:"sentiment"`
	Topics     []string `json:"topics"`
	Entities   []string `json:"entities"`
}

// Neutral is the result used when classification is unavailable.
func Neutral() Analysis {
	a := Analysis{}
	a.Normalize()
	return a
}

// Normalize clamps Importance to [0, 1], defaults Sentiment to neutral and
// replaces nil lists with empty ones. Labels are trimmed, lowercased (topics
// only) and deduplicated.
func (a *Analysis) Normalize() {
	a.Importance = clamp01(a.Importance)
	a.Summary = strings.TrimSpace(a.Summary)

	switch s := strings.ToLower(strings.TrimSpace(a.Sentiment)); s {
	case SentimentPositive, SentimentNegative:
		a.Sentiment = s
	default:
		a.Sentiment = SentimentNeutral
	}

	a.Topics = cleanLabels(a.Topics, true)
	a.Entities = cleanLabels(a.Entities, false)
}

// Patterns maps category -> label -> weight.
type Patterns map[string]map[string]float64

// Normalize returns a cleaned copy: unknown categories and empty labels are
// dropped, labels are lowercased and weights clamped to [0, 1].
func (p Patterns) Normalize() Patterns {
	out := make(Patterns)
	for _, category := range Categories {
		labels, ok := p[category]
		if !ok {
			continue
		}
		cleaned := make(map[string]float64)
		for label, w := range labels {
			label = strings.ToLower(strings.TrimSpace(label))
			if label == "" || math.IsNaN(w) {
				continue
			}
			cleaned[label] = clamp01(w)
		}
		if len(cleaned) > 0 {
			out[category] = cleaned
		}
	}
	return out
}

// Empty reports whether no category carries a label.
func (p Patterns) Empty() bool {
	for _, labels := range p {
		if len(labels) > 0 {
			return false
		}
	}
	return true
}

// Analyzer classifies text.
type Analyzer interface {
	// Analyze scores a single message for memory importance.
	Analyze(ctx context.Context, text string) (Analysis, error)

	// ExtractPatterns finds behavioural patterns in a message history,
	// oldest message first.
	ExtractPatterns(ctx context.Context, messages []string) (Patterns, error)
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func cleanLabels(labels []string, lower bool) []string {
	out := make([]string, 0, len(labels))
	seen := make(map[string]bool, len(labels))
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if lower {
			l = strings.ToLower(l)
		}
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}
