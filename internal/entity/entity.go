// Package entity detects comparison queries ("X vs Y"), extracts the
// candidate entity names being compared, and broadens retrieval breadth
// for them.
package entity

import (
	"regexp"
	"strings"

	"github.com/gravitycar/dnd1strag/internal/chunk"
)

// DefaultExpandFactor and DefaultExpandCap are the default comparison-
// query breadth widening: a comparison query's initial result count is
// multiplied by DefaultExpandFactor, capped at DefaultExpandCap.
const (
	DefaultExpandFactor = 3
	DefaultExpandCap    = 45
)

var (
	comparisonPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bvs\.?\b`),
		regexp.MustCompile(`(?i)\bversus\b`),
		regexp.MustCompile(`(?i)\bcompare\b`),
		regexp.MustCompile(`(?i)\bdifference[s]?\s+between\b`),
	}

	// andPattern matches "X and Y" where X and Y are capitalized
	// multi-word noun phrases, e.g. "Red Dragon and White Dragon".
	andPattern = regexp.MustCompile(`\b((?:[A-Z][\w'-]*\s*){1,4})\band\b\s*((?:[A-Z][\w'-]*\s*){1,4})`)

	wsPattern = regexp.MustCompile(`\s+`)

	wordPattern = regexp.MustCompile(`[a-z0-9]+`)

	stopwords = map[string]bool{
		"a": true, "an": true, "the": true, "and": true, "of": true,
		"vs": true, "versus": true, "between": true, "compare": true,
		"difference": true, "differences": true,
	}
)

// IsComparison reports whether query's syntactic shape indicates two or
// more entities should be contrasted.
func IsComparison(query string) bool {
	for _, re := range comparisonPatterns {
		if re.MatchString(query) {
			return true
		}
	}
	return andPattern.MatchString(query)
}

// ExtractEntities returns the normalized (lowercased, whitespace
// collapsed) list of candidate entity names mentioned in a comparison
// query. It does not validate that the entities exist in the corpus.
func ExtractEntities(query string) []string {
	var raw []string

	if m := andPattern.FindStringSubmatch(query); m != nil {
		raw = append(raw, m[1], m[2])
	}

	for _, re := range []*regexp.Regexp{
		regexp.MustCompile(`(?i)(.+?)\s*\bvs\.?\b\s*(.+)`),
		regexp.MustCompile(`(?i)(.+?)\s*\bversus\b\s*(.+)`),
		regexp.MustCompile(`(?i)\bdifference[s]?\s+between\s+(.+?)\s+and\s+(.+)`),
	} {
		if m := re.FindStringSubmatch(query); m != nil {
			raw = append(raw, m[1], m[2])
			break
		}
	}

	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		n := normalize(r)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

func normalize(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, ".,!?;:\"'")
	s = wsPattern.ReplaceAllString(s, " ")
	return strings.ToLower(s)
}

// Expander controls how aggressively comparison queries widen the
// initial retrieval breadth.
type Expander struct {
	factor int
	cap    int
}

// ExpanderOption configures an Expander.
type ExpanderOption func(*Expander)

// WithExpandFactor overrides DefaultExpandFactor.
func WithExpandFactor(n int) ExpanderOption {
	return func(e *Expander) { e.factor = n }
}

// WithExpandCap overrides DefaultExpandCap.
func WithExpandCap(n int) ExpanderOption {
	return func(e *Expander) { e.cap = n }
}

// NewExpander constructs an Expander with the default factor and cap.
func NewExpander(opts ...ExpanderOption) *Expander {
	e := &Expander{factor: DefaultExpandFactor, cap: DefaultExpandCap}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Expand returns the initial result-breadth for a query: widened for
// comparison queries so both sides of the comparison have room to
// surface, capped to bound cost.
func (e *Expander) Expand(k int, isComparison bool) int {
	if !isComparison {
		return k
	}
	expanded := k * e.factor
	if expanded > e.cap {
		return e.cap
	}
	return expanded
}

var defaultExpander = NewExpander()

// ExpandK calls Expand on a package-level Expander using the default
// factor and cap, for callers that don't need to customize expansion.
func ExpandK(k int, isComparison bool) int {
	return defaultExpander.Expand(k, isComparison)
}

// Reorder performs a stable partition: results whose title (case
// insensitive) contains any of entities are moved to the front,
// preserving their original distance-order; the remainder follow in
// their original (distance) order. The result is truncated to k. A
// chunk matching multiple entities is counted once.
func Reorder(results []chunk.RetrievalResult, entities []string, k int) []chunk.RetrievalResult {
	if len(entities) == 0 {
		return truncate(results, k)
	}

	matched := make([]chunk.RetrievalResult, 0, len(results))
	rest := make([]chunk.RetrievalResult, 0, len(results))
	for _, r := range results {
		if TitleMatchesAny(r.Metadata.Title(), entities) {
			matched = append(matched, r)
		} else {
			rest = append(rest, r)
		}
	}

	out := append(matched, rest...)
	return truncate(out, k)
}

// TitleMatchesAny reports whether title (case-insensitive) matches any
// of entities. A match requires every non-stopword token of the entity
// phrase to appear somewhere in title — titles in this corpus are
// often "Category: Name" (e.g. "Dragon: Red"), so a phrase like
// "red dragon" must match regardless of word order or punctuation
// between the words.
func TitleMatchesAny(title string, entities []string) bool {
	titleWords := wordSet(title)
	for _, e := range entities {
		if e == "" {
			continue
		}
		words := significantWords(e)
		if len(words) == 0 {
			if strings.Contains(strings.ToLower(title), e) {
				return true
			}
			continue
		}
		allPresent := true
		for _, w := range words {
			if !titleWords[w] {
				allPresent = false
				break
			}
		}
		if allPresent {
			return true
		}
	}
	return false
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range wordPattern.FindAllString(strings.ToLower(s), -1) {
		set[w] = true
	}
	return set
}

func significantWords(s string) []string {
	var out []string
	for _, w := range wordPattern.FindAllString(strings.ToLower(s), -1) {
		if !stopwords[w] {
			out = append(out, w)
		}
	}
	return out
}

func truncate(results []chunk.RetrievalResult, k int) []chunk.RetrievalResult {
	if k >= 0 && len(results) > k {
		return results[:k]
	}
	return results
}
