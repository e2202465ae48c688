package service

import (
	"strings"
	"unicode"

	"github.com/noah-isme/libsync-api/internal/models"
)

type filterTerm struct {
	value  string
	negate bool
}

// BooleanFilter is an AND of OR-groups of possibly negated terms, matched case-insensitively.
// Each query parameter becomes one group; "a || b" inside a parameter is an OR and "-a" is NOT a.
type BooleanFilter [][]filterTerm

// ParseBooleanFilter parses repeated filter parameters. A literal leading dash is written "\-".
func ParseBooleanFilter(params []string) BooleanFilter {
	var filter BooleanFilter
	for _, param := range params {
		var group []filterTerm
		for _, raw := range strings.Split(param, "||") {
			term := strings.TrimSpace(raw)
			if term == "" {
				continue
			}
			negate := false
			switch {
			case strings.HasPrefix(term, `\-`):
				term = term[1:]
			case strings.HasPrefix(term, "-"):
				negate = true
				term = strings.TrimSpace(term[1:])
			}
			group = append(group, filterTerm{value: strings.ToLower(term), negate: negate})
		}
		if len(group) > 0 {
			filter = append(filter, group)
		}
	}
	return filter
}

// Empty reports whether the filter accepts everything.
func (f BooleanFilter) Empty() bool { return len(f) == 0 }

// Match evaluates the filter against a set of lowercased values.
func (f BooleanFilter) Match(values map[string]struct{}) bool {
	for _, group := range f {
		matched := false
		for _, term := range group {
			_, has := values[term.value]
			if has != term.negate {
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

// Terms returns the positive terms, used to look up tags by name.
func (f BooleanFilter) Terms() []string {
	var out []string
	for _, group := range f {
		for _, term := range group {
			if !term.negate {
				out = append(out, term.value)
			}
		}
	}
	return out
}

// MatchTags applies the filter to an item's tags.
func (f BooleanFilter) MatchTags(tags []models.Tag) bool {
	if f.Empty() {
		return true
	}
	values := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		values[strings.ToLower(t.Tag)] = struct{}{}
	}
	return f.Match(values)
}

// MatchValue applies the filter to a single value such as an item type.
func (f BooleanFilter) MatchValue(value string) bool {
	if f.Empty() {
		return true
	}
	return f.Match(map[string]struct{}{strings.ToLower(value): {}})
}

// QuickSearch matches free text either as independent words or as a quoted phrase.
type QuickSearch struct {
	words  []string
	phrase string
}

// ParseQuickSearch interprets q. A value wrapped in double quotes is a literal phrase.
func ParseQuickSearch(q string) QuickSearch {
	q = strings.TrimSpace(q)
	if len(q) >= 2 && strings.HasPrefix(q, `"`) && strings.HasSuffix(q, `"`) {
		return QuickSearch{phrase: strings.ToLower(strings.TrimSpace(q[1 : len(q)-1]))}
	}
	var words []string
	for _, w := range strings.FieldsFunc(q, unicode.IsSpace) {
		words = append(words, strings.ToLower(w))
	}
	return QuickSearch{words: words}
}

// Empty reports whether the search accepts everything.
func (q QuickSearch) Empty() bool { return q.phrase == "" && len(q.words) == 0 }

// Match reports whether every word (or the phrase) appears in one of the haystacks.
func (q QuickSearch) Match(haystacks ...string) bool {
	if q.Empty() {
		return true
	}
	lowered := make([]string, len(haystacks))
	for i, h := range haystacks {
		lowered[i] = strings.ToLower(h)
	}
	if q.phrase != "" {
		return anyContains(lowered, q.phrase)
	}
	for _, w := range q.words {
		if !anyContains(lowered, w) {
			return false
		}
	}
	return true
}

// Words returns the search words, or the phrase as a single word.
func (q QuickSearch) Words() []string {
	if q.phrase != "" {
		return []string{q.phrase}
	}
	return q.words
}

func anyContains(haystacks []string, needle string) bool {
	for _, h := range haystacks {
		if strings.Contains(h, needle) {
			return true
		}
	}
	return false
}
