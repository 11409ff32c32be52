package ingest

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/fernwick/taskrank/internal/store"
	"github.com/fernwick/taskrank/internal/vocab"
)

const defaultDebounce = 2 * time.Second

// Watcher monitors a corpus root and keeps the task index in sync.
// Events are debounced per batch: editors fire several writes per save,
// so changed paths accumulate until the corpus goes quiet, then every
// pending file is re-imported (or deleted) in one pass.
type Watcher struct {
	store  store.Store
	root   string
	voc    *vocab.Vocabulary
	fsw    *fsnotify.Watcher
	cancel context.CancelFunc
	wg     sync.WaitGroup

	debounce time.Duration

	mu      sync.Mutex
	pending map[string]bool // path -> removed
}

// WatcherOption configures the watcher.
type WatcherOption func(*Watcher)

// WithDebounce overrides the quiet period before pending changes are
// applied.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// NewWatcher creates a file watcher over the corpus root.
func NewWatcher(s store.Store, root string, voc *vocab.Vocabulary, opts ...WatcherOption) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		store:    s,
		root:     root,
		voc:      voc,
		fsw:      fsw,
		debounce: defaultDebounce,
		pending:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(w)
	}

	if err := addRecursive(fsw, root); err != nil {
		fsw.Close()
		return nil, err
	}

	return w, nil
}

// Start begins watching in a background goroutine. The returned context
// controls the watcher lifecycle.
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.loop(ctx)
	}()
}

// Stop cancels the watcher and waits for the loop to finish.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.fsw.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	var timer *time.Timer

	resetTimer := func() {
		if timer == nil {
			timer = time.NewTimer(w.debounce)
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(w.debounce)
	}

	timerC := func() <-chan time.Time {
		if timer == nil {
			return nil
		}
		return timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = addRecursive(w.fsw, ev.Name)
					continue
				}
			}
			if !isRelevantEvent(ev) {
				continue
			}
			w.mu.Lock()
			w.pending[ev.Name] = ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)
			w.mu.Unlock()
			resetTimer()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("corpus watcher error")

		case <-timerC():
			timer = nil
			w.apply(ctx)
		}
	}
}

// apply drains the pending set and syncs each path into the store.
func (w *Watcher) apply(ctx context.Context) {
	w.mu.Lock()
	batch := w.pending
	w.pending = make(map[string]bool)
	w.mu.Unlock()

	for path, removed := range batch {
		source := sourceName(w.root, path)
		if removed {
			n, err := w.store.DeleteSource(ctx, source)
			if err != nil {
				log.Warn().Err(err).Str("source", source).Msg("watcher delete failed")
				continue
			}
			if n > 0 {
				log.Info().Str("source", source).Int64("tasks", n).Msg("watcher removed source")
			}
			continue
		}

		n, err := ImportFile(ctx, w.store, w.root, path, w.voc)
		if err != nil {
			log.Warn().Err(err).Str("source", source).Msg("watcher reimport failed")
			continue
		}
		log.Debug().Str("source", source).Int("tasks", n).Msg("watcher reindexed source")
	}
}

func isRelevantEvent(ev fsnotify.Event) bool {
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return false
	}
	return isMarkdown(ev.Name)
}

func addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if err := fsw.Add(path); err != nil {
				return nil
			}
		}
		return nil
	})
}
