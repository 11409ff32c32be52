package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fernwick/taskrank/internal/rank"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestResolveLayering(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
db_path: /tmp/from-file.db
corpus_root: ~/notes
llm:
  model: openrouter/some-model
  api_key: file-key
query:
  mode: assisted-match
  limit: 15
`)
	t.Setenv("TASKRANK_DB", "/tmp/from-env.db")
	t.Setenv("TASKRANK_LLM", "")
	t.Setenv("TASKRANK_MODE", "")
	t.Setenv("TASKRANK_ROOT", "")

	snap, err := Resolve(ResolveOptions{ConfigPath: path, CLIMode: "plain"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if snap.DBPath.Value != "/tmp/from-env.db" || snap.DBPath.Source != SourceEnv {
		t.Errorf("db_path = %+v, want env layer to win", snap.DBPath)
	}
	if snap.QueryMode.Value != "plain" || snap.QueryMode.Source != SourceCLI {
		t.Errorf("mode = %+v, want cli layer to win", snap.QueryMode)
	}
	if snap.LLMModel.Value != "openrouter/some-model" || snap.LLMModel.Source != SourceConfig {
		t.Errorf("llm model = %+v", snap.LLMModel)
	}
	if snap.Query.Limit != 15 {
		t.Errorf("limit = %d, want 15", snap.Query.Limit)
	}
	if home, _ := os.UserHomeDir(); snap.CorpusRoot.Value != filepath.Join(home, "notes") {
		t.Errorf("corpus_root not expanded: %q", snap.CorpusRoot.Value)
	}
	key := snap.APIKeyForProvider("openrouter/some-model")
	if key.Value != "file-key" || key.Source != SourceConfig {
		t.Errorf("api key = %+v", key)
	}
}

func TestResolveMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("TASKRANK_DB", "")
	t.Setenv("TASKRANK_LLM", "")
	t.Setenv("TASKRANK_MODE", "")
	t.Setenv("TASKRANK_ROOT", "")

	snap, err := Resolve(ResolveOptions{ConfigPath: filepath.Join(t.TempDir(), "nope.yaml")})
	if err != nil {
		t.Fatalf("missing file must not fail: %v", err)
	}
	if snap.DBPath.Value != "" {
		t.Errorf("db_path = %+v, want unset", snap.DBPath)
	}
	if snap.Vocabulary == nil {
		t.Fatal("vocabulary missing")
	}
	if _, ok := snap.Vocabulary.StatusForSymbol("x"); !ok {
		t.Error("built-in statuses missing from default vocabulary")
	}
	if got := snap.Weights(); got.Relevance <= 0 {
		t.Errorf("default weights = %+v", got)
	}
	if got := snap.SortCriteria(); len(got) == 0 || got[0] != rank.ByRelevance {
		t.Errorf("default criteria = %v", got)
	}
}

func TestResolveStatusOverrides(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
statuses:
  - key: someday
    display_name: Someday
    aliases: [someday, later]
    symbols: ["?"]
    order: 5
  - key: blocked
    display_name: Blocked
    aliases: [blocked]
    order: 4
`)
	snap, err := Resolve(ResolveOptions{ConfigPath: path})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got, ok := snap.Vocabulary.StatusForSymbol("?"); !ok || got != "someday" {
		t.Errorf("custom symbol: %q %v", got, ok)
	}
	if got, ok := snap.Vocabulary.StatusForAlias("later"); !ok || got != "someday" {
		t.Errorf("custom alias: %q %v", got, ok)
	}
	// "blocked" has no symbols, which is legal but worth a diagnostic.
	found := false
	for _, d := range snap.Diagnostics {
		if d.Key == "blocked" {
			found = true
		}
	}
	if !found {
		t.Errorf("diagnostics = %+v, want symbol warning for blocked", snap.Diagnostics)
	}
}

func TestResolveRejectsBadSettings(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad mode", "query:\n  mode: turbo\n"},
		{"threshold out of range", "query:\n  base_threshold: 250\n"},
		{"unknown criterion", "query:\n  sort_criteria: [relevance, vibes]\n"},
		{"all-zero weights", "query:\n  weights:\n    relevance: 0\n    due_date: 0\n    priority: 0\n    status: 0\n"},
		{"negative weight", "query:\n  weights:\n    relevance: -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), tt.body)
			if _, err := Resolve(ResolveOptions{ConfigPath: path}); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestManagerReload(t *testing.T) {
	t.Setenv("TASKRANK_DB", "")
	dir := t.TempDir()
	path := writeConfig(t, dir, "query:\n  limit: 5\n")

	m, err := NewManager(ResolveOptions{ConfigPath: path})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	reloaded := make(chan *Snapshot, 4)
	m.OnReload = func(s *Snapshot) { reloaded <- s }

	if err := m.Watch(context.Background()); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer m.Close()

	if got := m.Current().Query.Limit; got != 5 {
		t.Fatalf("initial limit = %d", got)
	}

	writeConfig(t, dir, "query:\n  limit: 9\n")
	select {
	case snap := <-reloaded:
		if snap.Query.Limit != 9 {
			t.Errorf("reloaded limit = %d, want 9", snap.Query.Limit)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reload did not fire")
	}
	if got := m.Current().Query.Limit; got != 9 {
		t.Errorf("Current limit = %d after reload", got)
	}
}

func TestManagerKeepsSnapshotOnInvalidReload(t *testing.T) {
	t.Setenv("TASKRANK_DB", "")
	dir := t.TempDir()
	path := writeConfig(t, dir, "query:\n  limit: 5\n")

	m, err := NewManager(ResolveOptions{ConfigPath: path})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Watch(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	writeConfig(t, dir, "query:\n  mode: turbo\n")
	// The rejected reload leaves the old snapshot live. Give the debounce
	// window time to pass before checking.
	time.Sleep(2 * reloadDebounce)
	if got := m.Current().Query.Limit; got != 5 {
		t.Errorf("limit = %d, invalid reload must not replace the snapshot", got)
	}
}
