// Package querymust implements the chunk-local query_must predicate:
// a pure, I/O-free function deciding whether a query's text satisfies a
// chunk's declared filter requirements.
package querymust

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Range is the contain_range operator's bound.
type Range struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Predicate is the declarative filter attached to a chunk. All operators
// present must hold (AND-composed); an absent operator is trivially
// satisfied.
type Predicate struct {
	Contain       string     `json:"contain,omitempty"`
	ContainOneOf  [][]string `json:"contain_one_of,omitempty"`
	ContainAllOf  []string   `json:"contain_all_of,omitempty"`
	ContainRange  *Range     `json:"contain_range,omitempty"`
}

// Parse decodes a query_must JSON string into a Predicate. Callers
// should treat a parse error as fail-open: include the chunk and emit
// a diagnostic rather than excluding it.
func Parse(raw string) (*Predicate, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var p Predicate
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("malformed query_must: %w", err)
	}
	return &p, nil
}

var intPattern = regexp.MustCompile(`\b\d+\b`)

// ExtractInts returns every standalone integer literal appearing in s.
func ExtractInts(s string) []int {
	matches := intPattern.FindAllString(s, -1)
	out := make([]int, 0, len(matches))
	for _, m := range matches {
		n, err := strconv.Atoi(m)
		if err == nil {
			out = append(out, n)
		}
	}
	return out
}

// wordBoundaryPattern builds a case-insensitive, word-boundary-aware
// regex for term, accepting an optional trailing "s" for plurals.
func wordBoundaryPattern(term string) (*regexp.Regexp, error) {
	return regexp.Compile(`(?i)\b` + regexp.QuoteMeta(term) + `s?\b`)
}

// Satisfies evaluates all four sub-checks against query. A nil
// predicate trivially satisfies (the chunk has no filter attached).
func Satisfies(query string, p *Predicate) bool {
	if p == nil {
		return true
	}
	return containOK(query, p.Contain) &&
		containOneOfOK(query, p.ContainOneOf) &&
		containAllOfOK(query, p.ContainAllOf) &&
		containRangeOK(query, p.ContainRange)
}

func containOK(query, term string) bool {
	if term == "" {
		return true
	}
	re, err := wordBoundaryPattern(term)
	if err != nil {
		// Not a well-formed operator value; fail-open at the sub-check level.
		return true
	}
	return re.MatchString(query)
}

func containOneOfOK(query string, groups [][]string) bool {
	if len(groups) == 0 {
		return true
	}
	lower := strings.ToLower(query)
	for _, group := range groups {
		matched := false
		for _, term := range group {
			if strings.Contains(lower, strings.ToLower(term)) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func containAllOfOK(query string, terms []string) bool {
	if len(terms) == 0 {
		return true
	}
	lower := strings.ToLower(query)
	for _, term := range terms {
		if !strings.Contains(lower, strings.ToLower(term)) {
			return false
		}
	}
	return true
}

func containRangeOK(query string, r *Range) bool {
	if r == nil {
		return true
	}
	for _, n := range ExtractInts(query) {
		if n >= r.Min && n <= r.Max {
			return true
		}
	}
	return false
}
