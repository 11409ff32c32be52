// Package intent turns a raw query string into a structured interpretation:
// literal keywords plus canonical property filters (priority, status, due
// date, folder, tags) and a vagueness classification.
//
// Analysis is deterministic and total. A query that matches nothing yields
// an intent with empty keywords and no property filters; it never fails.
package intent

import (
	"strings"
)

// Intent is the structured interpretation of one query. Immutable once
// constructed; WithExpanded returns a copy.
type Intent struct {
	Raw              string     `json:"raw"`
	CoreKeywords     []string   `json:"core_keywords"`
	ExpandedKeywords []string   `json:"expanded_keywords,omitempty"`
	Priorities       []int      `json:"priorities,omitempty"`
	Due              *DueFilter `json:"due,omitempty"`
	Statuses         []string   `json:"statuses,omitempty"`
	Folder           string     `json:"folder,omitempty"`
	Tags             []string   `json:"tags,omitempty"`
	IsVague          bool       `json:"is_vague"`
	ExcludeCompleted bool       `json:"exclude_completed,omitempty"`
}

// Keywords returns the expanded keyword set when expansion ran, otherwise
// the core keywords.
func (in Intent) Keywords() []string {
	if len(in.ExpandedKeywords) > 0 {
		return in.ExpandedKeywords
	}
	return in.CoreKeywords
}

// HasPropertyFilter reports whether the query named an explicit property
// filter. Due-date time expressions deliberately do not count: a vague
// "what's up today" still classifies as vague even though it carries a
// resolvable time term.
func (in Intent) HasPropertyFilter() bool {
	return len(in.Statuses) > 0 || len(in.Priorities) > 0 || in.Folder != "" || len(in.Tags) > 0
}

// FiltersOnDue reports whether a due-date constraint is present.
func (in Intent) FiltersOnDue() bool {
	return in.Due != nil
}

// WithExpanded returns a copy of the intent carrying the expanded keyword
// set.
func (in Intent) WithExpanded(expanded []string) Intent {
	out := in
	out.ExpandedKeywords = append([]string(nil), expanded...)
	return out
}

// HasStatus reports whether the given canonical status key is filtered on.
func (in Intent) HasStatus(key string) bool {
	for _, s := range in.Statuses {
		if s == key {
			return true
		}
	}
	return false
}

// HasPriority reports whether the given canonical level is filtered on.
func (in Intent) HasPriority(level int) bool {
	for _, p := range in.Priorities {
		if p == level {
			return true
		}
	}
	return false
}

func dedupeFold(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		k := strings.ToLower(it)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, it)
	}
	return out
}
