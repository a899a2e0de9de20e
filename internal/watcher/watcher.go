// Package watcher reloads unit definitions when their document changes.
//
// The watcher observes the directory holding the document rather than the
// file itself, so editors that save by writing a temporary file and renaming
// it over the existing one are still seen. Bursts of events are debounced into a
// single reload.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dshills/thunder/internal/logging"
	"github.com/dshills/thunder/internal/units/loader"
)

// Errors returned by watcher operations.
var (
	// ErrWatcherClosed indicates the watcher has been closed.
	ErrWatcherClosed = errors.New("watcher is closed")

	// ErrAlreadyStarted indicates Start was called twice.
	ErrAlreadyStarted = errors.New("watcher already started")
)

// Reloader re-reads the definitions document.
type Reloader interface {
	Reload(ctx context.Context) (*loader.Info, error)
}

// ReloadFunc is called after every reload attempt.
type ReloadFunc func(info *loader.Info, err error)

// Stats reports watcher activity.
type Stats struct {
	// Events counts file system events for the watched document.
	Events int64

	// Reloads counts successful reloads.
	Reloads int64

	// Failures counts reloads that returned an error.
	Failures int64

	// LastError is the most recent reload or watch error.
	LastError error
}

// Watcher triggers reloads when the watched document changes.
type Watcher struct {
	mu sync.Mutex

	path     string
	reloader Reloader
	debounce time.Duration
	logger   *logging.Logger
	onReload ReloadFunc

	fsw     *fsnotify.Watcher
	closeCh chan struct{}
	wg      sync.WaitGroup

	started bool
	closed  bool

	events    atomic.Int64
	reloads   atomic.Int64
	failures  atomic.Int64
	lastError error
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets how long the document must stay quiet before a reload.
// Zero reloads on every event.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d >= 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithOnReload registers a callback run after every reload attempt.
func WithOnReload(fn ReloadFunc) Option {
	return func(w *Watcher) {
		w.onReload = fn
	}
}

// New creates a watcher for the document at path.
func New(path string, r Reloader, opts ...Option) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:     absPath,
		reloader: r,
		debounce: 100 * time.Millisecond,
		logger:   logging.Nop(),
		closeCh:  make(chan struct{}),
	}

	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.WithComponent("watcher")

	return w, nil
}

// Path returns the absolute path of the watched document.
func (w *Watcher) Path() string {
	return w.path
}

// Start begins watching. The watcher stops when ctx is done or Close is
// called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}
	if w.started {
		return ErrAlreadyStarted
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	w.fsw = fsw
	w.started = true

	w.wg.Add(1)
	go w.loop(ctx)

	w.logger.Info("watching %s", w.path)
	return nil
}

// Close stops the watcher and waits for a running reload to finish.
// It is safe to call Close multiple times.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	fsw := w.fsw
	w.mu.Unlock()

	w.wg.Wait()

	if fsw != nil {
		return fsw.Close()
	}
	return nil
}

// Stats returns activity counters.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	return Stats{
		Events:    w.events.Load(),
		Reloads:   w.reloads.Load(),
		Failures:  w.failures.Load(),
		LastError: w.lastError,
	}
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case <-w.closeCh:
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.relevant(ev) {
				continue
			}
			w.events.Add(1)
			w.logger.Debug("%s: %s", ev.Op, ev.Name)

			if w.debounce == 0 {
				w.reload(ctx)
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.reload(ctx)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("watch error: %v", err)
			w.setLastError(err)
		}
	}
}

// relevant reports whether ev may have changed the document's content.
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if filepath.Clean(ev.Name) != w.path {
		return false
	}
	return ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create)
}

func (w *Watcher) reload(ctx context.Context) {
	info, err := w.reloader.Reload(ctx)
	if err != nil {
		w.failures.Add(1)
		w.setLastError(err)
		w.logger.Error("reload %s failed: %v", w.path, err)
	} else {
		w.reloads.Add(1)
		w.logger.Info("reloaded %s (%d units)", w.path, info.Units)
	}

	if w.onReload != nil {
		w.onReload(info, err)
	}
}

func (w *Watcher) setLastError(err error) {
	w.mu.Lock()
	w.lastError = err
	w.mu.Unlock()
}
