// Package preference learns a slowly adapting per-user profile from the
// user's message history.
package preference

import (
	"sort"

	"github.com/becomeliminal/nim-recall/analysis"
)

const (
	// DefaultRate is the weight of a new observation in Merge.
	DefaultRate = 0.2

	// DefaultMaxLabels caps the labels kept per category.
	DefaultMaxLabels = 50
)

// Profile maps category -> label -> weight in [0, 1].
type Profile map[string]map[string]float64

// FromPatterns converts analyzer output into a profile.
func FromPatterns(p analysis.Patterns) Profile {
	out := make(Profile, len(p))
	for category, labels := range p {
		out[category] = make(map[string]float64, len(labels))
		for l, w := range labels {
			out[category][l] = w
		}
	}
	return out
}

// Clone returns a deep copy.
func (p Profile) Clone() Profile {
	out := make(Profile, len(p))
	for category, labels := range p {
		c := make(map[string]float64, len(labels))
		for l, w := range labels {
			c[l] = w
		}
		out[category] = c
	}
	return out
}

// Merge folds incoming into existing with an exponential moving average:
// a label present in both becomes old*(1-rate) + new*rate, a new label is
// taken as observed, and labels missing from incoming keep their weight.
// Each category is then capped at maxLabels by evicting the lowest weights.
// Neither input is modified.
func Merge(existing, incoming Profile, rate float64, maxLabels int) Profile {
	if maxLabels <= 0 {
		maxLabels = DefaultMaxLabels
	}

	out := existing.Clone()
	for category, labels := range incoming {
		current, ok := out[category]
		if !ok {
			current = make(map[string]float64, len(labels))
			out[category] = current
		}
		for label, w := range labels {
			if old, ok := current[label]; ok {
				current[label] = old*(1-rate) + w*rate
			} else {
				current[label] = w
			}
		}
	}

	for category, labels := range out {
		if len(labels) > maxLabels {
			out[category] = keepTop(labels, maxLabels)
		}
	}
	return out
}

// keepTop returns the n heaviest labels. Equal weights keep the
// alphabetically first label.
func keepTop(labels map[string]float64, n int) map[string]float64 {
	keys := make([]string, 0, len(labels))
	for l := range labels {
		keys = append(keys, l)
	}
	sort.Slice(keys, func(i, j int) bool {
		if labels[keys[i]] != labels[keys[j]] {
			return labels[keys[i]] > labels[keys[j]]
		}
		return keys[i] < keys[j]
	})

	out := make(map[string]float64, n)
	for _, k := range keys[:n] {
		out[k] = labels[k]
	}
	return out
}
