package vocab

import (
	"fmt"
	"sort"
)

// Diagnostic is a non-fatal configuration finding surfaced at load time.
type Diagnostic struct {
	Key     string `json:"key"`
	Message string `json:"message"`
}

// Validate checks the status configuration for problems a user should fix.
// Duplicate sort orders are tolerated at query time (ties broken by key)
// but reported here so the configuration layer can warn and offer to
// renumber.
func (v *Vocabulary) Validate() []Diagnostic {
	var diags []Diagnostic

	byOrder := make(map[int][]string)
	for key, e := range v.statuses {
		byOrder[e.Order] = append(byOrder[e.Order], key)
	}
	orders := make([]int, 0, len(byOrder))
	for o := range byOrder {
		orders = append(orders, o)
	}
	sort.Ints(orders)
	for _, o := range orders {
		keys := byOrder[o]
		if len(keys) < 2 {
			continue
		}
		sort.Strings(keys)
		for _, key := range keys {
			diags = append(diags, Diagnostic{
				Key:     key,
				Message: fmt.Sprintf("status order %d is shared by %d categories; renumber to keep ordering deterministic", o, len(keys)),
			})
		}
	}

	for key, e := range v.statuses {
		if len(e.Symbols) == 0 {
			diags = append(diags, Diagnostic{
				Key:     key,
				Message: "status has no checkbox symbols; tasks can only match it via aliases",
			})
		}
	}

	return diags
}

// RenumberWithGaps returns the status entries renumbered in their current
// order using gaps of 10, so new categories can be inserted without
// renumbering again. Ties in the current order are broken by key.
func (v *Vocabulary) RenumberWithGaps() []StatusEntry {
	entries := v.Statuses()
	out := make([]StatusEntry, len(entries))
	for i, e := range entries {
		e.Order = (i + 1) * 10
		out[i] = e
	}
	return out
}
