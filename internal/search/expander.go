package search

import (
	"sort"
	"strings"
)

// QueryExpander appends document vocabulary to keyword queries. Vector
// search uses the original question; the embedding already covers phrasing.
type QueryExpander struct {
	synonyms      map[string][]string
	keys          []string
	maxExpansions int
}

// QueryExpanderOption configures a QueryExpander.
type QueryExpanderOption func(*QueryExpander)

// WithMaxExpansions limits the synonyms added per matched term (default 3).
func WithMaxExpansions(n int) QueryExpanderOption {
	return func(e *QueryExpander) {
		if n >= 0 {
			e.maxExpansions = n
		}
	}
}

// WithCustomSynonyms adds entries to the dictionary.
func WithCustomSynonyms(synonyms map[string][]string) QueryExpanderOption {
	return func(e *QueryExpander) {
		for k, v := range synonyms {
			k = strings.ToLower(k)
			e.synonyms[k] = append(e.synonyms[k], v...)
		}
	}
}

// NewQueryExpander creates an expander over FundSynonyms.
func NewQueryExpander(opts ...QueryExpanderOption) *QueryExpander {
	e := &QueryExpander{
		synonyms:      make(map[string][]string, len(FundSynonyms)),
		maxExpansions: 3,
	}
	for k, v := range FundSynonyms {
		e.synonyms[k] = v
	}
	for _, opt := range opts {
		opt(e)
	}

	e.keys = make([]string, 0, len(e.synonyms))
	for k := range e.synonyms {
		e.keys = append(e.keys, k)
	}
	// Longest first, then lexical, so expansion order is deterministic.
	sort.Slice(e.keys, func(i, j int) bool {
		if len(e.keys[i]) != len(e.keys[j]) {
			return len(e.keys[i]) > len(e.keys[j])
		}
		return e.keys[i] < e.keys[j]
	})
	return e
}

// Expand returns query followed by the synonyms of every dictionary term it
// contains, space separated. A query with no known term is returned as is.
func (e *QueryExpander) Expand(query string) string {
	lower := strings.ToLower(query)
	var added []string
	seen := make(map[string]bool)
	for _, key := range e.keys {
		if !strings.Contains(lower, key) {
			continue
		}
		n := 0
		for _, syn := range e.synonyms[key] {
			if n >= e.maxExpansions {
				break
			}
			ls := strings.ToLower(syn)
			if seen[ls] || strings.Contains(lower, ls) {
				continue
			}
			seen[ls] = true
			added = append(added, syn)
			n++
		}
	}
	if len(added) == 0 {
		return query
	}
	return query + " " + strings.Join(added, " ")
}
