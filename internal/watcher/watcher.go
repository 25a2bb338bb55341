// Package watcher turns filesystem notifications on local archive files into
// cache invalidations and change events.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"jardav/internal/source"
	"jardav/pkg/types"
)

// Invalidator is told when a tracked archive changes.
type Invalidator interface {
	Invalidate(location string, change types.ChangeType)
}

type pendingChange struct {
	change types.ChangeType
	at     time.Time
}

// Watcher watches the directories holding tracked archives. Directories are
// watched rather than files so that editors replacing a file by rename are
// still seen.
type Watcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	sink        Invalidator
	logger      *zap.Logger
	tracked     map[string]map[string]struct{} // file path -> locations
	dirs        map[string]int
	pending     map[string]pendingChange
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
	closed      bool
}

func New(sink Invalidator, debounce time.Duration, logger *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		watcher:     fw,
		sink:        sink,
		logger:      logger,
		tracked:     make(map[string]map[string]struct{}),
		dirs:        make(map[string]int),
		pending:     make(map[string]pendingChange),
		debounceDur: debounce,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Track starts watching the archive at location. Remote locations are
// ignored.
func (w *Watcher) Track(location string) error {
	p, ok := source.LocalPath(location)
	if !ok {
		return nil
	}
	p, err := filepath.Abs(p)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", location, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("watcher is stopped")
	}

	locs, ok := w.tracked[p]
	if !ok {
		dir := filepath.Dir(p)
		if w.dirs[dir] == 0 {
			if err := w.watcher.Add(dir); err != nil {
				return fmt.Errorf("watch %s: %w", dir, err)
			}
			w.logger.Debug("Watching directory", zap.String("dir", dir))
		}
		w.dirs[dir]++
		locs = make(map[string]struct{})
		w.tracked[p] = locs
	}
	locs[location] = struct{}{}
	return nil
}

// Untrack stops reporting changes for location.
func (w *Watcher) Untrack(location string) {
	p, ok := source.LocalPath(location)
	if !ok {
		return
	}
	p, err := filepath.Abs(p)
	if err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	locs, ok := w.tracked[p]
	if !ok {
		return
	}
	delete(locs, location)
	if len(locs) > 0 {
		return
	}
	delete(w.tracked, p)

	dir := filepath.Dir(p)
	w.dirs[dir]--
	if w.dirs[dir] <= 0 {
		delete(w.dirs, dir)
		if !w.closed {
			_ = w.watcher.Remove(dir)
		}
	}
}

// Tracked returns the number of tracked archive files.
func (w *Watcher) Tracked() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.tracked)
}

// Start runs the event loop in a goroutine until ctx ends or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running || w.closed {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	go w.run(ctx)
}

// Stop ends the event loop and releases the underlying watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	running := w.running
	w.mu.Unlock()

	close(w.stopCh)
	if running {
		<-w.doneCh
	}
	if err := w.watcher.Close(); err != nil {
		w.logger.Error("Error closing watcher", zap.Error(err))
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	tick := w.debounceDur / 4
	if tick <= 0 {
		tick = 10 * time.Millisecond
	}
	debounceTicker := time.NewTicker(tick)
	defer debounceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Watcher error", zap.Error(err))
		case <-debounceTicker.C:
			w.flush(false)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	var change types.ChangeType
	switch {
	case event.Op&fsnotify.Create != 0, event.Op&fsnotify.Write != 0:
		change = types.Changed
	case event.Op&fsnotify.Remove != 0, event.Op&fsnotify.Rename != 0:
		change = types.Deleted
	default:
		return // chmod
	}

	name := filepath.Clean(event.Name)

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.tracked[name]; !ok {
		return
	}
	w.pending[name] = pendingChange{change: change, at: time.Now()}
}

// flush reports pending changes older than the debounce window, or all of
// them when force is set.
func (w *Watcher) flush(force bool) {
	type report struct {
		location string
		change   types.ChangeType
	}
	var reports []report

	w.mu.Lock()
	now := time.Now()
	for name, p := range w.pending {
		if !force && now.Sub(p.at) < w.debounceDur {
			continue
		}
		delete(w.pending, name)
		for loc := range w.tracked[name] {
			reports = append(reports, report{location: loc, change: p.change})
		}
	}
	w.mu.Unlock()

	for _, r := range reports {
		w.logger.Info("Archive changed on disk", zap.String("location", r.location), zap.Stringer("change", r.change))
		w.sink.Invalidate(r.location, r.change)
	}
}
