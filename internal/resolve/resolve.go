// Package resolve orchestrates the query pipeline: intent analysis,
// optional keyword expansion, retrieval, scoring, filtering, sorting, and
// optional prose analysis of the shortlist.
//
// Every failure path still yields the best available task list plus a
// structured stage error. The engine never returns a bare empty result
// with no explanation for anything other than a genuine no-match.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fernwick/taskrank/internal/expand"
	"github.com/fernwick/taskrank/internal/intent"
	"github.com/fernwick/taskrank/internal/llm"
	"github.com/fernwick/taskrank/internal/rank"
	"github.com/fernwick/taskrank/internal/score"
	"github.com/fernwick/taskrank/internal/store"
	"github.com/fernwick/taskrank/internal/task"
	"github.com/fernwick/taskrank/internal/vocab"
)

// Mode selects the pipeline tier.
type Mode string

const (
	// PlainMatch is fully deterministic: no model calls at all.
	PlainMatch Mode = "plain"
	// AssistedMatch adds keyword expansion before matching.
	AssistedMatch Mode = "assisted-match"
	// AssistedAnalysis additionally hands the shortlist to the model for
	// prose analysis.
	AssistedAnalysis Mode = "assisted-analysis"
)

// ParseMode validates a mode flag.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case PlainMatch:
		return PlainMatch, nil
	case AssistedMatch:
		return AssistedMatch, nil
	case AssistedAnalysis:
		return AssistedAnalysis, nil
	case "":
		return PlainMatch, nil
	}
	return "", fmt.Errorf("unknown mode %q (want plain, assisted-match, or assisted-analysis)", s)
}

// Stage names a pipeline stage for structured errors.
type Stage string

const (
	StageRetrieve Stage = "retrieve"
	StageExpand   Stage = "expand"
	StageAnalyze  Stage = "analyze"
)

// StageError describes one degraded stage: which stage, which collaborator,
// a machine-readable reason, a user-facing hint, and the tokens the failed
// call still cost.
type StageError struct {
	Stage    Stage     `json:"stage"`
	Provider string    `json:"provider,omitempty"`
	Reason   string    `json:"reason"`
	Hint     string    `json:"hint,omitempty"`
	Usage    llm.Usage `json:"usage,omitempty"`
}

func (e StageError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s stage degraded (%s): %s", e.Stage, e.Provider, e.Reason)
	}
	return fmt.Sprintf("%s stage degraded: %s", e.Stage, e.Reason)
}

// Result is the full outcome of one resolved query.
type Result struct {
	QueryID   string            `json:"query_id"`
	Mode      Mode              `json:"mode"`
	Intent    intent.Intent     `json:"intent"`
	Tasks     []task.ScoredTask `json:"tasks"`
	Analysis  string            `json:"analysis,omitempty"`
	Citations []int             `json:"citations,omitempty"`
	// Direct means the filtered set was tight enough to present without
	// analysis even in assisted-analysis mode.
	Direct     bool         `json:"direct,omitempty"`
	Degraded   bool         `json:"degraded,omitempty"`
	Errors     []StageError `json:"errors,omitempty"`
	Usage      llm.Usage    `json:"usage"`
	Threshold  float64      `json:"threshold"`
	Candidates int          `json:"candidates"`
	Elapsed    time.Duration `json:"elapsed"`
}

// Options configures one resolve call. Zero values fall back to defaults.
type Options struct {
	Mode                      Mode
	Limit                     int
	Weights                   score.Weights
	BaseThreshold             float64 // 0 selects the adaptive bands
	DirectCap                 int
	Criteria                  []rank.Criterion
	Languages                 []string
	MaxPerLanguage            int
	VaguenessThreshold        float64
	ExcludeCompletedWhenVague bool
	AnalysisTimeout           time.Duration
	Now                       func() time.Time
}

func (o Options) normalized() Options {
	if o.Mode == "" {
		o.Mode = PlainMatch
	}
	if o.Limit <= 0 {
		o.Limit = 20
	}
	if o.Weights == (score.Weights{}) {
		o.Weights = score.DefaultWeights()
	}
	if o.DirectCap <= 0 {
		o.DirectCap = 10
	}
	if len(o.Criteria) == 0 {
		o.Criteria = rank.DefaultCriteria()
	}
	if o.AnalysisTimeout <= 0 {
		o.AnalysisTimeout = 25 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Engine resolves queries against the task store, optionally assisted by a
// model provider. A nil provider pins every mode to its deterministic
// subset with an explicit degradation note.
type Engine struct {
	store    store.Store
	provider llm.Provider
	voc      *vocab.Vocabulary

	mu        sync.Mutex
	scoreSets map[string]*task.ScoreSet
}

// NewEngine creates a resolver.
func NewEngine(s store.Store, provider llm.Provider, voc *vocab.Vocabulary) *Engine {
	if voc == nil {
		voc = vocab.Default()
	}
	return &Engine{
		store:     s,
		provider:  provider,
		voc:       voc,
		scoreSets: make(map[string]*task.ScoreSet),
	}
}

const (
	readyRetries = 5
	readyWait    = 200 * time.Millisecond
)

// Resolve runs the full pipeline for one query.
func (e *Engine) Resolve(ctx context.Context, query string, opts Options) (*Result, error) {
	opts = opts.normalized()
	start := time.Now()
	result := &Result{
		QueryID: uuid.NewString(),
		Mode:    opts.Mode,
	}
	defer func() { result.Elapsed = time.Since(start) }()

	// Source readiness is not the same as an empty corpus: during a bulk
	// rebuild the index is briefly unqueryable, so wait briefly and then
	// say so instead of returning a misleading zero-match result.
	if !e.waitReady(ctx) {
		result.Degraded = true
		result.Errors = append(result.Errors, StageError{
			Stage:  StageRetrieve,
			Reason: "source_not_ready",
			Hint:   "the task index is being rebuilt; retry shortly",
		})
		return result, nil
	}

	in := intent.Analyze(query, e.voc, intent.Config{
		VaguenessThreshold:        opts.VaguenessThreshold,
		ExcludeCompletedWhenVague: opts.ExcludeCompletedWhenVague,
		Now:                       opts.Now(),
	})

	if opts.Mode != PlainMatch && len(in.CoreKeywords) > 0 {
		in = e.expandKeywords(ctx, in, opts, result)
	}
	result.Intent = in

	tasks, err := e.retrieve(ctx, in)
	if err != nil {
		result.Degraded = true
		result.Errors = append(result.Errors, StageError{
			Stage:  StageRetrieve,
			Reason: "store_error",
			Hint:   err.Error(),
		})
		return result, nil
	}
	result.Candidates = len(tasks)

	corpusVersion, err := e.store.CorpusVersion(ctx)
	if err != nil {
		corpusVersion = 0
	}
	activation := score.ActivationFor(in, opts.Criteria)
	set := e.scoreSetFor(scoreSetKey(in, activation, opts.Weights, opts.Now()), corpusVersion)
	scored, err := score.ScoreAll(ctx, tasks, in, opts.Weights, activation, e.voc, opts.Now(), set)
	if err != nil {
		return nil, err
	}

	result.Threshold = rank.EffectiveThreshold(opts.BaseThreshold, len(in.Keywords()))
	filtered := rank.Filter(scored, result.Threshold)
	direct := rank.ShortCircuit(len(scored), len(filtered), opts.DirectCap)

	rank.Sort(filtered, opts.Criteria, e.voc)
	if len(filtered) > opts.Limit {
		filtered = filtered[:opts.Limit]
	}
	result.Tasks = filtered

	if opts.Mode != AssistedAnalysis {
		return result, nil
	}
	if direct {
		result.Direct = true
		return result, nil
	}
	if len(filtered) == 0 {
		return result, nil
	}

	e.analyze(ctx, query, opts, result)
	return result, nil
}

// expandKeywords runs assisted expansion and folds any failure into the
// result as a recoverable stage error.
func (e *Engine) expandKeywords(ctx context.Context, in intent.Intent, opts Options, result *Result) intent.Intent {
	res, err := expand.Expand(ctx, e.provider, in.CoreKeywords, expand.Options{
		Languages:      opts.Languages,
		MaxPerLanguage: opts.MaxPerLanguage,
		Vocabulary:     e.voc,
	})
	result.Usage = result.Usage.Add(res.Usage)
	if err != nil {
		var fe *expand.FailedError
		reason := "expansion_failed"
		if errors.As(err, &fe) {
			reason = fe.Reason
		}
		result.Degraded = true
		result.Errors = append(result.Errors, StageError{
			Stage:    StageExpand,
			Provider: providerName(e.provider),
			Reason:   reason,
			Hint:     "matching continued with the original keywords only",
			Usage:    res.Usage,
		})
		log.Warn().Err(err).Str("query_id", result.QueryID).Msg("keyword expansion degraded")
		return in
	}
	return in.WithExpanded(res.Expanded)
}

// retrieve pulls structurally matching candidates from the store. Keyword
// relevance is scored later in Go; FTS only narrows the candidate set, and
// only for keyword sets it can tokenize.
func (e *Engine) retrieve(ctx context.Context, in intent.Intent) ([]task.Task, error) {
	listOpts := store.ListOpts{
		Folder:     in.Folder,
		Tags:       in.Tags,
		Statuses:   in.Statuses,
		Priorities: in.Priorities,
	}
	if in.ExcludeCompleted {
		listOpts.ExcludeStatuses = []string{vocab.StatusCompleted, vocab.StatusCancelled}
	}
	if kws := in.Keywords(); len(kws) > 0 && allLatin(kws) {
		listOpts.MatchAny = kws
	}

	tasks, err := e.store.ListTasks(ctx, listOpts)
	if err != nil {
		return nil, err
	}

	if in.Due == nil {
		return tasks, nil
	}
	filtered := tasks[:0]
	for _, t := range tasks {
		if in.Due.Matches(t.Due) {
			filtered = append(filtered, t)
		}
	}
	return filtered, nil
}

// maxScoreSets bounds the per-engine score cache. Cheap to rebuild, so a
// full reset on overflow beats bookkeeping an eviction order.
const maxScoreSets = 64

// scoreSetFor returns the cached side table for one scoring configuration,
// replacing it when the corpus has moved since it was computed.
func (e *Engine) scoreSetFor(key string, corpusVersion int64) *task.ScoreSet {
	e.mu.Lock()
	defer e.mu.Unlock()
	if set, ok := e.scoreSets[key]; ok && set.ValidFor(corpusVersion) {
		return set
	}
	if len(e.scoreSets) >= maxScoreSets {
		e.scoreSets = make(map[string]*task.ScoreSet, maxScoreSets)
	}
	set := task.NewScoreSet(corpusVersion)
	e.scoreSets[key] = set
	return set
}

// scoreSetKey identifies one scoring configuration. Component scores depend
// on the keyword set, the active dimensions and weights, and the scoring
// day; two queries agreeing on all of those share a side table.
func scoreSetKey(in intent.Intent, act score.Activation, w score.Weights, now time.Time) string {
	return fmt.Sprintf("%s|%+v|%+v|%s",
		strings.Join(in.Keywords(), "\x1f"), act, w, now.UTC().Format("2006-01-02"))
}

// waitReady polls store readiness for a short bounded window.
func (e *Engine) waitReady(ctx context.Context) bool {
	for i := 0; i < readyRetries; i++ {
		if e.store.Ready() {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(readyWait):
		}
	}
	return e.store.Ready()
}

// allLatin reports whether every keyword is plain ASCII. The FTS tokenizer
// does not segment CJK text, so CJK keyword sets skip the FTS prefilter
// and match in Go instead.
func allLatin(keywords []string) bool {
	for _, kw := range keywords {
		for _, r := range kw {
			if r > 127 {
				return false
			}
		}
	}
	return true
}

func providerName(p llm.Provider) string {
	if p == nil {
		return ""
	}
	return p.Name()
}
