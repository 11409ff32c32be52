// Package rank filters scored tasks through an adaptive quality threshold
// and orders the survivors by a configurable criteria chain.
package rank

import (
	"fmt"
	"strings"
)

// Criterion names one tie-break dimension in the sort chain.
type Criterion string

const (
	ByRelevance    Criterion = "relevance"
	ByDue          Criterion = "due"
	ByPriority     Criterion = "priority"
	ByStatus       Criterion = "status"
	ByCreated      Criterion = "created"
	ByAlphabetical Criterion = "alphabetical"
	// ByAuto lets the analysis presentation order stand; it compares
	// nothing and is only meaningful in assisted-analysis mode.
	ByAuto Criterion = "auto"
)

// DefaultCriteria is the tie-break chain used when none is configured.
// Relevance is pinned first by convention.
func DefaultCriteria() []Criterion {
	return []Criterion{ByRelevance, ByDue, ByPriority, ByCreated}
}

// ParseCriterion validates a configured criterion name.
func ParseCriterion(s string) (Criterion, error) {
	c := Criterion(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case ByRelevance, ByDue, ByPriority, ByStatus, ByCreated, ByAlphabetical, ByAuto:
		return c, nil
	}
	return "", fmt.Errorf("unknown sort criterion %q", s)
}

// ParseCriteria validates a configured chain. An empty chain falls back to
// the default rather than erroring; a chain with any unknown name errors.
func ParseCriteria(names []string) ([]Criterion, error) {
	if len(names) == 0 {
		return DefaultCriteria(), nil
	}
	out := make([]Criterion, 0, len(names))
	for _, n := range names {
		c, err := ParseCriterion(n)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Contains reports whether the chain includes the given criterion.
func Contains(chain []Criterion, c Criterion) bool {
	for _, x := range chain {
		if x == c {
			return true
		}
	}
	return false
}
