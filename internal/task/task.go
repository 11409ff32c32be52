// Package task defines the task data model shared across the engine.
//
// A Task is one checkbox line lifted from the note corpus. The ranking
// pipeline treats it as read-only input; derived scores live in a side
// table (ScoreSet) keyed by task identity and corpus version, never on the
// task itself.
package task

import (
	"fmt"
	"sync"
	"time"
)

// Task is one checkbox line with its parsed metadata.
type Task struct {
	ID         int64      `json:"id"`
	SourceFile string     `json:"source_file"`
	SourceLine int        `json:"source_line"`
	Text       string     `json:"text"`
	Symbol     string     `json:"symbol"`             // raw checkbox symbol, e.g. " ", "x", "/"
	Status     string     `json:"status"`             // canonical status key from the vocabulary
	Priority   int        `json:"priority,omitempty"` // 1 = highest; 0 = unset
	Due        *time.Time `json:"due,omitempty"`
	Created    *time.Time `json:"created,omitempty"`
	Completed  *time.Time `json:"completed,omitempty"`
	Tags       []string   `json:"tags,omitempty"`
	Folder     string     `json:"folder"`
	ParentID   int64      `json:"parent_id,omitempty"` // source line of the enclosing parent task, 0 when top-level
}

// Location is the task's stable identity within the corpus.
func (t Task) Location() string {
	return fmt.Sprintf("%s:%d", t.SourceFile, t.SourceLine)
}

// HasTag reports whether the task carries the given tag (case-insensitive
// comparison is the caller's job; tags are stored lowercased by ingest).
func (t Task) HasTag(tag string) bool {
	for _, g := range t.Tags {
		if g == tag {
			return true
		}
	}
	return false
}

// Scores holds the per-component and final scores for one task. Components
// lie in [0, 1]; Final is normalized to [0, 100] over the active weights.
type Scores struct {
	Relevance float64 `json:"relevance"`
	DueDate   float64 `json:"due_date"`
	Priority  float64 `json:"priority"`
	Status    float64 `json:"status"`
	Final     float64 `json:"final"`
}

// ScoredTask pairs a task with its scores for one query.
type ScoredTask struct {
	Task   Task   `json:"task"`
	Scores Scores `json:"scores"`
}

// ScoreSet is a score side table, shared by queries that agree on their
// scoring configuration. A set computed under one corpus version must not
// be reused under another; callers check ValidFor before trusting entries.
// Safe for concurrent use.
type ScoreSet struct {
	CorpusVersion int64

	mu   sync.RWMutex
	byID map[int64]Scores
}

// NewScoreSet creates an empty side table bound to a corpus version.
func NewScoreSet(corpusVersion int64) *ScoreSet {
	return &ScoreSet{
		CorpusVersion: corpusVersion,
		byID:          make(map[int64]Scores),
	}
}

// Put records scores for a task. Later writes for the same task replace the
// earlier entry.
func (s *ScoreSet) Put(taskID int64, sc Scores) {
	s.mu.Lock()
	s.byID[taskID] = sc
	s.mu.Unlock()
}

// Get returns the recorded scores for a task.
func (s *ScoreSet) Get(taskID int64) (Scores, bool) {
	s.mu.RLock()
	sc, ok := s.byID[taskID]
	s.mu.RUnlock()
	return sc, ok
}

// ValidFor reports whether the set was computed under the given corpus
// version. Stale sets must be recomputed, not trusted.
func (s *ScoreSet) ValidFor(corpusVersion int64) bool {
	return s.CorpusVersion == corpusVersion
}

// Len returns the number of scored tasks.
func (s *ScoreSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
