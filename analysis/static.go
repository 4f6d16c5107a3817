package analysis

import (
	"context"
	"regexp"
	"strings"
	"unicode"
)

// DefaultTopicKeywords maps topic labels to the words that signal them.
var DefaultTopicKeywords = map[string][]string{
	"orders":    {"order", "delivery", "shipping", "tracking", "package", "parcel"},
	"payments":  {"pay", "payment", "refund", "invoice", "card", "price"},
	"tech":      {"phone", "laptop", "computer", "software", "app", "gadget", "headphones"},
	"fashion":   {"dress", "shoes", "shirt", "jacket", "size", "clothes"},
	"food":      {"food", "coffee", "tea", "snack", "vegan", "allergic", "gluten"},
	"support":   {"problem", "broken", "help", "issue", "complaint", "wrong"},
	"discounts": {"discount", "coupon", "sale", "promo", "cheaper"},
}

var (
	urgentWords   = []string{"urgent", "asap", "immediately", "emergency", "right now"}
	rememberWords = []string{"remember", "always", "never", "my name", "i am", "i'm", "i prefer", "i like", "i don't like", "allergic"}
	problemWords  = []string{"problem", "broken", "wrong", "complaint", "refund", "missing", "damaged"}
	smallTalk     = []string{"hi", "hello", "hey", "thanks", "thank you", "ok", "okay", "bye", "good morning"}

	positiveWords = []string{"great", "love", "thanks", "thank you", "perfect", "excellent", "happy", "good"}
	negativeWords = []string{"bad", "terrible", "hate", "angry", "disappointed", "broken", "wrong", "awful"}

	orderRef = regexp.MustCompile(`#\d+`)
)

// Static is a keyword heuristic analyzer for offline and development use.
// It never fails.
type Static struct {
	topics map[string][]string
}

// NewStatic creates a Static analyzer. A nil map selects DefaultTopicKeywords.
func NewStatic(topics map[string][]string) *Static {
	if topics == nil {
		topics = DefaultTopicKeywords
	}
	return &Static{topics: topics}
}

// Analyze implements Analyzer.
func (s *Static) Analyze(ctx context.Context, text string) (Analysis, error) {
	if err := ctx.Err(); err != nil {
		return Analysis{}, err
	}

	lower := strings.ToLower(strings.TrimSpace(text))
	a := Analysis{
		Importance: s.importance(lower),
		Summary:    firstSentence(text, 200),
		Sentiment:  sentiment(lower),
		Topics:     s.matchTopics(lower),
		Entities:   entities(text),
	}
	a.Normalize()
	return a, nil
}

// ExtractPatterns implements Analyzer. Topic weights are the share of
// messages mentioning the topic; style is derived from message shape.
func (s *Static) ExtractPatterns(ctx context.Context, messages []string) (Patterns, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return Patterns{}, nil
	}

	n := float64(len(messages))
	topics := make(map[string]float64)
	interests := make(map[string]float64)
	var questions, short, words float64

	for _, m := range messages {
		lower := strings.ToLower(m)
		for _, t := range s.matchTopics(lower) {
			topics[t] += 1 / n
		}
		for _, e := range entities(m) {
			interests[strings.ToLower(e)] += 1 / n
		}
		w := float64(len(strings.Fields(m)))
		words += w
		if w <= 6 {
			short++
		}
		if strings.HasSuffix(strings.TrimSpace(m), "?") {
			questions++
		}
	}

	style := map[string]float64{
		"brief":       short / n,
		"inquisitive": questions / n,
	}
	if avg := words / n; avg > 25 {
		style["detailed"] = 1
	}

	return Patterns{
		CategoryTopics:    topics,
		CategoryStyle:     style,
		CategoryInterests: interests,
	}.Normalize(), nil
}

func (s *Static) importance(lower string) float64 {
	if lower == "" {
		return 0
	}
	for _, w := range smallTalk {
		if lower == w || lower == w+"!" || lower == w+"." {
			return 0.1
		}
	}

	importance := 0.2
	if containsAny(lower, rememberWords) {
		importance += 0.3
	}
	if containsAny(lower, problemWords) {
		importance += 0.3
	}
	if containsAny(lower, urgentWords) {
		importance += 0.3
	}
	if orderRef.MatchString(lower) {
		importance += 0.1
	}
	if len(lower) > 80 {
		importance += 0.1
	}
	return importance
}

func (s *Static) matchTopics(lower string) []string {
	words := tokenize(lower)
	var out []string
	for topic, keywords := range s.topics {
		for _, k := range keywords {
			if strings.Contains(k, " ") && strings.Contains(lower, k) || words[k] {
				out = append(out, topic)
				break
			}
		}
	}
	return out
}

func sentiment(lower string) string {
	words := tokenize(lower)
	score := 0
	for _, w := range positiveWords {
		if words[w] || strings.Contains(w, " ") && strings.Contains(lower, w) {
			score++
		}
	}
	for _, w := range negativeWords {
		if words[w] {
			score--
		}
	}
	switch {
	case score > 0:
		return SentimentPositive
	case score < 0:
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}

// entities picks order references and capitalised words that do not start
// a sentence.
func entities(text string) []string {
	out := orderRef.FindAllString(text, -1)
	fields := strings.Fields(text)
	for i, f := range fields {
		word := strings.TrimFunc(f, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		if word == "" || i == 0 {
			continue
		}
		prev := fields[i-1]
		if strings.HasSuffix(prev, ".") || strings.HasSuffix(prev, "!") || strings.HasSuffix(prev, "?") {
			continue
		}
		if r := []rune(word)[0]; unicode.IsUpper(r) && word != "I" {
			out = append(out, word)
		}
	}
	return out
}

func firstSentence(text string, max int) string {
	text = strings.TrimSpace(text)
	if i := strings.IndexAny(text, ".!?\n"); i > 0 {
		text = text[:i+1]
	}
	runes := []rune(text)
	if len(runes) > max {
		return string(runes[:max-3]) + "..."
	}
	return text
}

func tokenize(lower string) map[string]bool {
	words := make(map[string]bool)
	for _, f := range strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	}) {
		words[f] = true
	}
	return words
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
