package rank

import (
	"sort"
	"strings"
	"time"

	"github.com/fernwick/taskrank/internal/task"
	"github.com/fernwick/taskrank/internal/vocab"
)

// Sort orders scored tasks by final score descending, breaking ties with
// the criteria chain in order. The sort is stable: tasks equal under every
// criterion keep their input order. A task missing an attribute used by a
// criterion sorts last for that criterion, never errors.
func Sort(scored []task.ScoredTask, chain []Criterion, voc *vocab.Vocabulary) {
	if len(chain) == 0 {
		chain = DefaultCriteria()
	}
	if voc == nil {
		voc = vocab.Default()
	}
	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if c := cmpFloatDesc(a.Scores.Final, b.Scores.Final); c != 0 {
			return c < 0
		}
		for _, crit := range chain {
			if c := compare(a, b, crit, voc); c != 0 {
				return c < 0
			}
		}
		return false
	})
}

// compare returns <0 when a sorts before b under the criterion, 0 on tie.
func compare(a, b task.ScoredTask, crit Criterion, voc *vocab.Vocabulary) int {
	switch crit {
	case ByRelevance:
		return cmpFloatDesc(a.Scores.Relevance, b.Scores.Relevance)
	case ByDue:
		return cmpTimeAsc(a.Task.Due, b.Task.Due)
	case ByPriority:
		return cmpPriority(a.Task.Priority, b.Task.Priority)
	case ByStatus:
		return cmpInt(voc.StatusOrder(a.Task.Status), voc.StatusOrder(b.Task.Status))
	case ByCreated:
		return cmpTimeAsc(a.Task.Created, b.Task.Created)
	case ByAlphabetical:
		return strings.Compare(
			strings.ToLower(a.Task.Text),
			strings.ToLower(b.Task.Text),
		)
	case ByAuto:
		return 0
	}
	return 0
}

func cmpFloatDesc(a, b float64) int {
	switch {
	case a > b:
		return -1
	case a < b:
		return 1
	}
	return 0
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// cmpTimeAsc sorts earlier timestamps first; missing timestamps last.
func cmpTimeAsc(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	case a.Before(*b):
		return -1
	case b.Before(*a):
		return 1
	}
	return 0
}

// cmpPriority sorts higher urgency (lower level number) first; unset (0)
// last.
func cmpPriority(a, b int) int {
	switch {
	case a == b:
		return 0
	case a == 0:
		return 1
	case b == 0:
		return -1
	}
	return cmpInt(a, b)
}
