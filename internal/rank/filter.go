package rank

import (
	"github.com/fernwick/taskrank/internal/task"
)

const (
	// AdaptiveThreshold is the sentinel meaning "derive the threshold from
	// the keyword-set size".
	AdaptiveThreshold = 0.0

	// adaptiveBase is the base quality threshold (on the 0-100 final-score
	// scale) that the adaptive bands adjust.
	adaptiveBase = 30.0
)

// EffectiveThreshold resolves the configured threshold against the keyword
// set size. A nonzero configured value is used as-is. The adaptive sentinel
// derives a value that tightens as the keyword set broadens: semantic
// expansion introduces noise, so broad keyword sets need stricter
// filtering, never looser.
func EffectiveThreshold(configured float64, keywordCount int) float64 {
	if configured != AdaptiveThreshold {
		return configured
	}
	switch {
	case keywordCount >= 6:
		return adaptiveBase + 20
	case keywordCount >= 4:
		return adaptiveBase + 10
	case keywordCount >= 2:
		return adaptiveBase
	case keywordCount == 1:
		return adaptiveBase + 5
	default:
		// Pure property query, no keywords: relevance is inactive, so the
		// base applies unmodified.
		return adaptiveBase
	}
}

// Filter keeps tasks whose final score meets the threshold. Order is
// preserved and no task is ever added.
func Filter(scored []task.ScoredTask, threshold float64) []task.ScoredTask {
	out := make([]task.ScoredTask, 0, len(scored))
	for _, st := range scored {
		if st.Scores.Final >= threshold {
			out = append(out, st)
		}
	}
	return out
}

// ShortCircuit reports whether the filtered set should be presented
// directly, skipping analysis: the survivor set is small and the filter
// removed a large fraction of candidates, so deterministic filtering
// already produced a tight result.
func ShortCircuit(before, after, directCap int) bool {
	if before == 0 || after == 0 || after > directCap {
		return false
	}
	return after*2 <= before
}
