// Package vocab provides the property vocabulary for query interpretation.
//
// It maps human terms in any supported language to canonical property
// values: status categories, priority levels, and relative due-date terms.
// Status categories are user-extensible; everything that compares or scores
// a status must go through this package, never a hardcoded list.
package vocab

import (
	"sort"
	"strings"
)

// RelTerm is a canonical relative due-date token recognized in queries.
type RelTerm string

const (
	RelToday     RelTerm = "today"
	RelTomorrow  RelTerm = "tomorrow"
	RelYesterday RelTerm = "yesterday"
	RelOverdue   RelTerm = "overdue"
	RelThisWeek  RelTerm = "this-week"
	RelNextWeek  RelTerm = "next-week"
	RelThisMonth RelTerm = "this-month"
	RelSoon      RelTerm = "soon"
)

// Canonical status keys shipped with the built-in vocabulary. User
// configuration may add arbitrary keys beyond these.
const (
	StatusOpen       = "open"
	StatusInProgress = "in-progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

// StatusEntry describes one status category.
type StatusEntry struct {
	Key         string   `yaml:"key"`
	DisplayName string   `yaml:"display_name"`
	Aliases     []string `yaml:"aliases"`
	Symbols     []string `yaml:"symbols"` // checkbox symbols, e.g. " ", "x", "/"
	Order       int      `yaml:"order"`   // sort position, lower sorts first
}

// Vocabulary holds all term-to-canonical-value mappings for one
// configuration snapshot. Immutable after construction; build a new one on
// configuration change rather than mutating in place.
type Vocabulary struct {
	statuses       map[string]StatusEntry
	aliasToStatus  map[string]string
	symbolToStatus map[string]string
	priorityAlias  map[string]int
	maxPriority    int
	dueTerms       map[string]RelTerm
	stopWords      map[string]struct{}
	genericWords   map[string]struct{}
}

// New builds a vocabulary from explicit entries. Most callers want
// Default() followed by Merge.
func New(statuses []StatusEntry, priorityAliases map[string]int, dueTerms map[string]RelTerm, stopWords, genericWords []string) *Vocabulary {
	v := &Vocabulary{
		statuses:       make(map[string]StatusEntry, len(statuses)),
		aliasToStatus:  make(map[string]string),
		symbolToStatus: make(map[string]string),
		priorityAlias:  make(map[string]int, len(priorityAliases)),
		dueTerms:       make(map[string]RelTerm, len(dueTerms)),
		stopWords:      make(map[string]struct{}, len(stopWords)),
		genericWords:   make(map[string]struct{}, len(genericWords)),
	}
	for _, e := range statuses {
		v.addStatus(e)
	}
	for alias, level := range priorityAliases {
		v.priorityAlias[fold(alias)] = level
		if level > v.maxPriority {
			v.maxPriority = level
		}
	}
	for term, rel := range dueTerms {
		v.dueTerms[fold(term)] = rel
	}
	for _, w := range stopWords {
		v.stopWords[fold(w)] = struct{}{}
	}
	for _, w := range genericWords {
		v.genericWords[fold(w)] = struct{}{}
	}
	return v
}

func (v *Vocabulary) addStatus(e StatusEntry) {
	e.Key = fold(e.Key)
	if e.Key == "" {
		return
	}
	if e.DisplayName == "" {
		e.DisplayName = e.Key
	}
	v.statuses[e.Key] = e
	// The key itself is always a valid alias.
	v.aliasToStatus[e.Key] = e.Key
	for _, a := range e.Aliases {
		if a = fold(a); a != "" {
			v.aliasToStatus[a] = e.Key
		}
	}
	for _, s := range e.Symbols {
		if s != "" {
			v.symbolToStatus[s] = e.Key
		}
	}
}

// Merge returns a new vocabulary with the given status entries layered over
// this one. Entries with a known key replace the built-in entry; unknown
// keys become new custom categories.
func (v *Vocabulary) Merge(overrides []StatusEntry) *Vocabulary {
	if len(overrides) == 0 {
		return v
	}
	merged := make([]StatusEntry, 0, len(v.statuses)+len(overrides))
	replaced := make(map[string]bool, len(overrides))
	for _, o := range overrides {
		replaced[fold(o.Key)] = true
	}
	for _, e := range v.statuses {
		if !replaced[e.Key] {
			merged = append(merged, e)
		}
	}
	merged = append(merged, overrides...)

	prio := make(map[string]int, len(v.priorityAlias))
	for k, lvl := range v.priorityAlias {
		prio[k] = lvl
	}
	due := make(map[string]RelTerm, len(v.dueTerms))
	for k, rel := range v.dueTerms {
		due[k] = rel
	}
	nv := New(merged, prio, due, nil, nil)
	nv.stopWords = v.stopWords
	nv.genericWords = v.genericWords
	return nv
}

// StatusForAlias resolves a free-text alias to a status key.
func (v *Vocabulary) StatusForAlias(alias string) (string, bool) {
	key, ok := v.aliasToStatus[fold(alias)]
	return key, ok
}

// StatusForSymbol resolves a checkbox symbol to a status key.
func (v *Vocabulary) StatusForSymbol(symbol string) (string, bool) {
	key, ok := v.symbolToStatus[symbol]
	return key, ok
}

// Status returns the entry for a status key.
func (v *Vocabulary) Status(key string) (StatusEntry, bool) {
	e, ok := v.statuses[fold(key)]
	return e, ok
}

// StatusOrder returns the configured sort order for a status key. Unknown
// keys sort after every configured category.
func (v *Vocabulary) StatusOrder(key string) int {
	if e, ok := v.statuses[fold(key)]; ok {
		return e.Order
	}
	return v.MaxStatusOrder() + 1
}

// MaxStatusOrder returns the highest configured status order.
func (v *Vocabulary) MaxStatusOrder() int {
	max := 0
	for _, e := range v.statuses {
		if e.Order > max {
			max = e.Order
		}
	}
	return max
}

// Statuses returns all entries sorted by order, then key for equal orders.
func (v *Vocabulary) Statuses() []StatusEntry {
	out := make([]StatusEntry, 0, len(v.statuses))
	for _, e := range v.statuses {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// PriorityForAlias resolves a free-text priority alias to a canonical level
// (1 = highest).
func (v *Vocabulary) PriorityForAlias(alias string) (int, bool) {
	lvl, ok := v.priorityAlias[fold(alias)]
	return lvl, ok
}

// MaxPriority returns the lowest-urgency level (highest number).
func (v *Vocabulary) MaxPriority() int {
	if v.maxPriority == 0 {
		return 5
	}
	return v.maxPriority
}

// DueTermFor resolves a relative due-date phrase to its canonical token.
func (v *Vocabulary) DueTermFor(phrase string) (RelTerm, bool) {
	rel, ok := v.dueTerms[fold(phrase)]
	return rel, ok
}

// DuePhrases returns every configured due-date phrase (folded), in no
// particular order.
func (v *Vocabulary) DuePhrases() []string {
	out := make([]string, 0, len(v.dueTerms))
	for phrase := range v.dueTerms {
		out = append(out, phrase)
	}
	return out
}

// IsStopWord reports whether w is in the broad stop-word list used to clean
// keyword candidates. Distinct from IsGenericWord.
func (v *Vocabulary) IsStopWord(w string) bool {
	_, ok := v.stopWords[fold(w)]
	return ok
}

// IsGenericWord reports whether w is in the narrow generic-query-word list
// used only to classify a query as vague. Distinct from IsStopWord.
func (v *Vocabulary) IsGenericWord(w string) bool {
	_, ok := v.genericWords[fold(w)]
	return ok
}

func fold(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
