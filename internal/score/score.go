// Package score computes per-task component scores and the weighted final
// score used by the quality filter and sorter.
//
// Score is a pure function of (task, intent, weights, activation, now).
// Components are each bounded to [0, 1]; the final score is normalized to
// [0, 100] over the active weights so thresholds stay meaningful under any
// coefficient configuration. Scoring runs once per task per query; results
// land in a ScoreSet side table and are reused by every downstream
// consumer.
package score

import (
	"context"
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/fernwick/taskrank/internal/intent"
	"github.com/fernwick/taskrank/internal/rank"
	"github.com/fernwick/taskrank/internal/task"
	"github.com/fernwick/taskrank/internal/vocab"
)

// Weights are the per-component coefficients, configurable per mode.
type Weights struct {
	Relevance float64 `yaml:"relevance" json:"relevance"`
	DueDate   float64 `yaml:"due_date" json:"due_date"`
	Priority  float64 `yaml:"priority" json:"priority"`
	Status    float64 `yaml:"status" json:"status"`
}

// DefaultWeights favors keyword relevance, then time pressure.
func DefaultWeights() Weights {
	return Weights{
		Relevance: 1.0,
		DueDate:   0.8,
		Priority:  0.7,
		Status:    0.5,
	}
}

// Activation marks which score dimensions participate in the final score
// for the current query. Inactive dimensions contribute nothing: a
// property the query never mentioned must not inject ranking noise.
type Activation struct {
	Relevance bool
	DueDate   bool
	Priority  bool
	Status    bool
}

// ActivationFor derives the activation flags from the query intent and the
// active sort-criteria chain. A dimension is active when the query filters
// on it or the user opted it into ranking via the sort configuration.
func ActivationFor(in intent.Intent, chain []rank.Criterion) Activation {
	return Activation{
		Relevance: len(in.Keywords()) > 0 || rank.Contains(chain, rank.ByRelevance),
		DueDate:   in.FiltersOnDue() || rank.Contains(chain, rank.ByDue),
		Priority:  len(in.Priorities) > 0 || rank.Contains(chain, rank.ByPriority),
		Status:    len(in.Statuses) > 0 || rank.Contains(chain, rank.ByStatus),
	}
}

// Score computes all component scores and the weighted final score for one
// task. Pure, no side effects.
func Score(t task.Task, in intent.Intent, w Weights, act Activation, voc *vocab.Vocabulary, now time.Time) task.Scores {
	if voc == nil {
		voc = vocab.Default()
	}
	s := task.Scores{
		Relevance: relevanceScore(t.Text, in.Keywords()),
		DueDate:   dueScore(t.Due, now),
		Priority:  priorityScore(t.Priority, voc.MaxPriority()),
		Status:    statusScore(t.Status, voc),
	}

	var sum, denom float64
	if act.Relevance {
		sum += s.Relevance * w.Relevance
		denom += w.Relevance
	}
	if act.DueDate {
		sum += s.DueDate * w.DueDate
		denom += w.DueDate
	}
	if act.Priority {
		sum += s.Priority * w.Priority
		denom += w.Priority
	}
	if act.Status {
		sum += s.Status * w.Status
		denom += w.Status
	}
	if denom > 0 {
		s.Final = 100 * sum / denom
	}
	return s
}

// scoreChunk bounds how many tasks are scored between cancellation checks.
const scoreChunk = 256

// ScoreAll scores every task, reusing entries already present in the side
// table. The context is checked between chunks so an abandoned query stops
// promptly on large corpora.
func ScoreAll(ctx context.Context, tasks []task.Task, in intent.Intent, w Weights, act Activation, voc *vocab.Vocabulary, now time.Time, set *task.ScoreSet) ([]task.ScoredTask, error) {
	out := make([]task.ScoredTask, 0, len(tasks))
	for i, t := range tasks {
		if i%scoreChunk == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		sc, ok := set.Get(t.ID)
		if !ok {
			sc = Score(t, in, w, act, voc, now)
			set.Put(t.ID, sc)
		}
		out = append(out, task.ScoredTask{Task: t, Scores: sc})
	}
	return out, nil
}

// relevanceScore blends keyword coverage with a saturating match count,
// case-folded. Zero when the query has no keywords: relevance is never
// fabricated from property matches. Expanded keyword sets are mostly
// synonyms of each other, so a task matching one variant of a broad set
// must not score near zero; the saturating term keeps single-variant
// matches meaningful while full coverage still scores 1.0.
func relevanceScore(text string, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	folded := strings.ToLower(text)
	matched := 0
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && keywordMatches(folded, kw) {
			matched++
		}
	}
	if matched == 0 {
		return 0
	}
	coverage := float64(matched) / float64(len(keywords))
	saturated := 1 - math.Pow(0.5, float64(matched))
	return math.Max(coverage, saturated)
}

// keywordMatches reports whether one keyword appears in the folded text.
// Han keywords that miss as a whole substring fall back to bigram coverage:
// the query and the note may segment the same phrase differently, and that
// must not zero out an otherwise plain match.
func keywordMatches(folded, kw string) bool {
	if strings.Contains(folded, kw) {
		return true
	}
	if !isHanRun(kw) {
		return false
	}
	bgs := intent.Bigrams(kw)
	if len(bgs) < 2 {
		return false
	}
	hit := 0
	for _, bg := range bgs {
		if strings.Contains(folded, bg) {
			hit++
		}
	}
	return hit*2 > len(bgs)
}

func isHanRun(s string) bool {
	for _, r := range s {
		if !unicode.Is(unicode.Han, r) {
			return false
		}
	}
	return s != ""
}

// Due-date curve constants. The qualitative shape is the contract: peak at
// today, monotonic decay in both directions, overdue decaying slower than
// future, undated tasks at a low nonzero baseline.
const (
	undatedBaseline = 0.1
	overdueFloor    = 0.3
	overdueHalfLife = 21.0 // days
	futureFloor     = 0.2
	futureHalfLife  = 7.0 // days
)

func dueScore(due *time.Time, now time.Time) float64 {
	if due == nil {
		return undatedBaseline
	}
	days := daysBetween(now, *due)
	switch {
	case days == 0:
		return 1.0
	case days < 0:
		// Overdue. Stays urgent for weeks, settling toward the floor.
		return overdueFloor + (1-overdueFloor)*math.Exp(float64(days)/overdueHalfLife)
	default:
		// Future. Due-soon scores high, far-future approaches the floor.
		return futureFloor + (1-futureFloor)*math.Exp(-float64(days)/futureHalfLife)
	}
}

// daysBetween returns the signed whole-day distance from now's date to t's
// date, both in UTC.
func daysBetween(now, t time.Time) int {
	a := now.UTC().Truncate(24 * time.Hour)
	b := t.UTC().Truncate(24 * time.Hour)
	return int(b.Sub(a).Hours() / 24)
}

// priorityScore maps canonical priority levels monotonically into (0, 1]:
// level 1 (highest urgency) scores 1.0, the lowest configured level scores
// the floor, unset priority gets a low baseline rather than zero.
func priorityScore(level, maxLevel int) float64 {
	const (
		unsetBaseline = 0.15
		lowestScore   = 0.3
	)
	if level <= 0 {
		return unsetBaseline
	}
	if maxLevel <= 1 || level == 1 {
		return 1.0
	}
	if level > maxLevel {
		level = maxLevel
	}
	span := float64(maxLevel - 1)
	return 1.0 - float64(level-1)*(1.0-lowestScore)/span
}

// statusScore ranks status categories by their live vocabulary order.
// Categories are scored by rank position, not raw order numbers, so gapped
// order values behave the same as dense ones. Unknown categories get a
// small nonzero score.
func statusScore(status string, voc *vocab.Vocabulary) float64 {
	const unknownScore = 0.05
	entries := voc.Statuses()
	if len(entries) == 0 {
		return unknownScore
	}
	for i, e := range entries {
		if e.Key == status {
			return 1.0 - float64(i)/float64(len(entries))*(1.0-unknownScore)
		}
	}
	return unknownScore
}
