package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fernwick/taskrank/internal/store"
	"github.com/fernwick/taskrank/internal/vocab"
)

// ImportResult summarizes one corpus import run.
type ImportResult struct {
	Files   int
	Tasks   int
	Elapsed time.Duration
	Errors  []string
}

// isMarkdown reports whether the path is a note file worth scanning.
func isMarkdown(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".md" || ext == ".markdown"
}

// sourceName returns the store identity for a file: its path relative to
// the corpus root, slash-separated.
func sourceName(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// folderOf derives the folder property from a source name.
func folderOf(source string) string {
	dir := filepath.ToSlash(filepath.Dir(source))
	if dir == "." {
		return ""
	}
	return dir
}

// ImportFile parses one note file and swaps its tasks into the store.
// Returns the number of tasks indexed.
func ImportFile(ctx context.Context, s store.Store, root, path string, voc *vocab.Vocabulary) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", path, err)
	}

	source := sourceName(root, path)
	tasks := ParseTasks(string(data), source, folderOf(source), voc)
	if len(tasks) == 0 {
		// A file that used to have tasks and now has none still needs its
		// stale rows cleared.
		if _, err := s.DeleteSource(ctx, source); err != nil {
			return 0, fmt.Errorf("clearing %s: %w", source, err)
		}
		return 0, nil
	}

	if _, err := s.ReplaceSource(ctx, source, tasks); err != nil {
		return 0, fmt.Errorf("indexing %s: %w", source, err)
	}
	return len(tasks), nil
}

// ImportDir walks a corpus root and indexes every note file. The store is
// flagged as indexing for the duration so concurrent queries see a
// Source-Not-Ready signal instead of a partial corpus. Per-file errors are
// collected, not fatal.
func ImportDir(ctx context.Context, s store.Store, root string, voc *vocab.Vocabulary) (*ImportResult, error) {
	start := time.Now()
	result := &ImportResult{}

	s.SetIndexing(true)
	defer s.SetIndexing(false)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			return nil
		}
		if d.IsDir() {
			// Hidden directories (.git, .obsidian) are not corpus content.
			if name := d.Name(); name != "." && strings.HasPrefix(name, ".") && path != root {
				return fs.SkipDir
			}
			return nil
		}
		if !isMarkdown(path) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := ImportFile(ctx, s, root, path, voc)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			return nil
		}
		result.Files++
		result.Tasks += n
		return nil
	})
	result.Elapsed = time.Since(start)
	if err != nil {
		return result, fmt.Errorf("walking %s: %w", root, err)
	}

	log.Info().
		Int("files", result.Files).
		Int("tasks", result.Tasks).
		Int("errors", len(result.Errors)).
		Dur("elapsed", result.Elapsed).
		Str("root", root).
		Msg("corpus import complete")
	return result, nil
}
