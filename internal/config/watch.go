package config

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const reloadDebounce = 500 * time.Millisecond

// Manager holds the current snapshot and hot-reloads it when the config
// file changes. Readers call Current and never block; a reload that fails
// validation keeps the previous snapshot in place.
type Manager struct {
	opts    ResolveOptions
	current atomic.Pointer[Snapshot]

	mu     sync.Mutex
	fsw    *fsnotify.Watcher
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// OnReload, when set before Watch, runs after each successful swap.
	OnReload func(*Snapshot)
}

// NewManager resolves the initial snapshot. The CLI and environment layers
// are captured once; only the file layer participates in reloads.
func NewManager(opts ResolveOptions) (*Manager, error) {
	snap, err := Resolve(opts)
	if err != nil {
		return nil, err
	}
	m := &Manager{opts: opts}
	m.current.Store(snap)
	return m, nil
}

// Current returns the live snapshot.
func (m *Manager) Current() *Snapshot {
	return m.current.Load()
}

// Watch starts following the config file. Editors replace the file rather
// than write in place, so the watch is on the parent directory and events
// are filtered by name.
func (m *Manager) Watch(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fsw != nil {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	snap := m.Current()
	if err := fsw.Add(filepath.Dir(snap.ConfigPath)); err != nil {
		fsw.Close()
		return err
	}
	m.fsw = fsw

	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go m.loop(ctx, snap.ConfigPath)
	return nil
}

// Close stops the watch. Safe to call without Watch.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fsw == nil {
		return
	}
	m.cancel()
	m.fsw.Close()
	m.wg.Wait()
	m.fsw = nil
}

func (m *Manager) loop(ctx context.Context, path string) {
	defer m.wg.Done()

	var timer *time.Timer
	var timerC <-chan time.Time
	pending := false

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-m.fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != filepath.Base(path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			pending = true
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(reloadDebounce)
			}
		case err, ok := <-m.fsw.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("config watch error")
		case <-timerC:
			if pending {
				pending = false
				m.reload()
			}
		}
	}
}

func (m *Manager) reload() {
	snap, err := Resolve(m.opts)
	if err != nil {
		log.Warn().Err(err).Msg("config reload rejected, keeping previous settings")
		return
	}
	m.current.Store(snap)
	for _, d := range snap.Diagnostics {
		log.Warn().Str("status", d.Key).Msg(d.Message)
	}
	log.Info().Str("path", snap.ConfigPath).Msg("config reloaded")
	if m.OnReload != nil {
		m.OnReload(snap)
	}
}

