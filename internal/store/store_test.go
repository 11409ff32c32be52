package store

import (
	"context"
	"testing"
	"time"

	"github.com/fernwick/taskrank/internal/task"
	"github.com/fernwick/taskrank/internal/vocab"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	s, err := NewStore(Config{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedTasks(t *testing.T, s Store, sourceFile string, tasks []*task.Task) []int64 {
	t.Helper()
	for _, tk := range tasks {
		tk.SourceFile = sourceFile
	}
	ids, err := s.ReplaceSource(context.Background(), sourceFile, tasks)
	if err != nil {
		t.Fatalf("seeding %s: %v", sourceFile, err)
	}
	return ids
}

func TestReplaceSourceRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	due := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	ids := seedTasks(t, s, "work/todo.md", []*task.Task{
		{SourceLine: 3, Text: "deploy server to production", Symbol: " ", Status: vocab.StatusOpen, Priority: 2, Due: &due, Tags: []string{"work", "infra"}, Folder: "work"},
		{SourceLine: 7, Text: "write postmortem", Symbol: "x", Status: vocab.StatusCompleted, Folder: "work"},
	})
	if len(ids) != 2 {
		t.Fatalf("got %d ids, want 2", len(ids))
	}

	got, err := s.GetTask(ctx, ids[0])
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Text != "deploy server to production" || got.Priority != 2 {
		t.Errorf("task round-trip mismatch: %+v", got)
	}
	if got.Due == nil || !got.Due.Equal(due) {
		t.Errorf("due round-trip: got %v, want %v", got.Due, due)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "work" || got.Tags[1] != "infra" {
		t.Errorf("tags round-trip: %v", got.Tags)
	}
}

func TestReplaceSourceSwapsAtomically(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedTasks(t, s, "a.md", []*task.Task{
		{SourceLine: 1, Text: "old one", Symbol: " ", Status: vocab.StatusOpen},
		{SourceLine: 2, Text: "old two", Symbol: " ", Status: vocab.StatusOpen},
	})
	seedTasks(t, s, "a.md", []*task.Task{
		{SourceLine: 1, Text: "new one", Symbol: " ", Status: vocab.StatusOpen},
	})

	tasks, err := s.ListTasks(ctx, ListOpts{})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Text != "new one" {
		t.Errorf("stale tasks survived re-import: %+v", tasks)
	}
}

func TestDeleteSource(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedTasks(t, s, "a.md", []*task.Task{{SourceLine: 1, Text: "keep me not", Symbol: " ", Status: vocab.StatusOpen}})
	seedTasks(t, s, "b.md", []*task.Task{{SourceLine: 1, Text: "keep me", Symbol: " ", Status: vocab.StatusOpen}})

	n, err := s.DeleteSource(ctx, "a.md")
	if err != nil {
		t.Fatalf("DeleteSource: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d, want 1", n)
	}

	tasks, err := s.ListTasks(ctx, ListOpts{})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].SourceFile != "b.md" {
		t.Errorf("wrong survivors: %+v", tasks)
	}
}

func TestListTasksFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedTasks(t, s, "work/infra.md", []*task.Task{
		{SourceLine: 1, Text: "deploy server", Symbol: " ", Status: vocab.StatusOpen, Priority: 1, Tags: []string{"infra"}, Folder: "work/infra"},
		{SourceLine: 2, Text: "rotate certs", Symbol: "/", Status: vocab.StatusInProgress, Priority: 4, Tags: []string{"infra", "security"}, Folder: "work/infra"},
	})
	seedTasks(t, s, "home/todo.md", []*task.Task{
		{SourceLine: 1, Text: "water plants", Symbol: "x", Status: vocab.StatusCompleted, Folder: "home"},
	})

	tests := []struct {
		name string
		opts ListOpts
		want int
	}{
		{"no filters", ListOpts{}, 3},
		{"folder exact", ListOpts{Folder: "home"}, 1},
		{"folder prefix", ListOpts{Folder: "work"}, 2},
		{"tag", ListOpts{Tags: []string{"security"}}, 1},
		{"status any-of", ListOpts{Statuses: []string{vocab.StatusOpen, vocab.StatusInProgress}}, 2},
		{"exclude completed", ListOpts{ExcludeStatuses: []string{vocab.StatusCompleted}}, 2},
		{"priority any-of", ListOpts{Priorities: []int{1, 2}}, 1},
		{"priority excludes unset", ListOpts{Priorities: []int{4}}, 1},
		{"fts candidate", ListOpts{MatchAny: []string{"deploy", "water"}}, 2},
		{"fts no match", ListOpts{MatchAny: []string{"zeppelin"}}, 0},
		{"limit", ListOpts{Limit: 2}, 2},
		{"conjunction", ListOpts{Folder: "work", Tags: []string{"infra"}, ExcludeStatuses: []string{vocab.StatusInProgress}}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListTasks(ctx, tt.opts)
			if err != nil {
				t.Fatalf("ListTasks: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("got %d tasks, want %d: %+v", len(got), tt.want, got)
			}
		})
	}
}

func TestListTasksDeterministicOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedTasks(t, s, "b.md", []*task.Task{
		{SourceLine: 5, Text: "five", Symbol: " ", Status: vocab.StatusOpen},
		{SourceLine: 2, Text: "two", Symbol: " ", Status: vocab.StatusOpen},
	})
	seedTasks(t, s, "a.md", []*task.Task{
		{SourceLine: 9, Text: "nine", Symbol: " ", Status: vocab.StatusOpen},
	})

	first, err := s.ListTasks(ctx, ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.ListTasks(ctx, ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 3 {
		t.Fatalf("got %d tasks", len(first))
	}
	wantTexts := []string{"nine", "two", "five"}
	for i := range first {
		if first[i].Text != wantTexts[i] || second[i].Text != wantTexts[i] {
			t.Fatalf("order unstable: %v", first)
		}
	}
}

func TestCorpusVersionBumpsOnWrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v0, err := s.CorpusVersion(ctx)
	if err != nil {
		t.Fatal(err)
	}

	seedTasks(t, s, "a.md", []*task.Task{{SourceLine: 1, Text: "x", Symbol: " ", Status: vocab.StatusOpen}})
	v1, err := s.CorpusVersion(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if v1 <= v0 {
		t.Errorf("version did not advance on import: %d -> %d", v0, v1)
	}

	if _, err := s.DeleteSource(ctx, "a.md"); err != nil {
		t.Fatal(err)
	}
	v2, err := s.CorpusVersion(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if v2 <= v1 {
		t.Errorf("version did not advance on delete: %d -> %d", v1, v2)
	}

	// Deleting a source with no rows is a no-op and must not advance.
	if _, err := s.DeleteSource(ctx, "missing.md"); err != nil {
		t.Fatal(err)
	}
	v3, err := s.CorpusVersion(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if v3 != v2 {
		t.Errorf("no-op delete advanced version: %d -> %d", v2, v3)
	}
}

func TestReadyFlag(t *testing.T) {
	s := newTestStore(t)
	if !s.Ready() {
		t.Error("fresh store must be ready")
	}
	s.SetIndexing(true)
	if s.Ready() {
		t.Error("store must report not-ready during a rebuild")
	}
	s.SetIndexing(false)
	if !s.Ready() {
		t.Error("store must recover readiness")
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedTasks(t, s, "a.md", []*task.Task{
		{SourceLine: 1, Text: "one", Symbol: " ", Status: vocab.StatusOpen},
		{SourceLine: 2, Text: "two", Symbol: " ", Status: vocab.StatusOpen},
	})
	seedTasks(t, s, "b.md", []*task.Task{{SourceLine: 1, Text: "three", Symbol: " ", Status: vocab.StatusOpen}})

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.TaskCount != 3 || st.SourceCount != 2 {
		t.Errorf("stats = %+v", st)
	}
	if st.CorpusVersion == 0 {
		t.Error("corpus version missing from stats")
	}
}

func TestCJKTextRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ids := seedTasks(t, s, "notes/中文.md", []*task.Task{
		{SourceLine: 1, Text: "部署新服务器", Symbol: " ", Status: vocab.StatusOpen},
	})
	got, err := s.GetTask(ctx, ids[0])
	if err != nil {
		t.Fatal(err)
	}
	if got.Text != "部署新服务器" {
		t.Errorf("CJK text mangled: %q", got.Text)
	}
}
