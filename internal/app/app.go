// Package app wires the conversion engine together and manages its
// lifecycle: configuration, logging, event delivery, the converter and the
// optional definitions watcher.
package app

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/thunder/internal/config"
	"github.com/dshills/thunder/internal/logging"
	"github.com/dshills/thunder/internal/notify"
	"github.com/dshills/thunder/internal/units/convert"
	"github.com/dshills/thunder/internal/units/datastring"
	"github.com/dshills/thunder/internal/units/loader"
	"github.com/dshills/thunder/internal/watcher"
)

// ErrShutdown indicates the application has been shut down.
var ErrShutdown = errors.New("application shut down")

// Application is the central coordinator for the engine's components.
type Application struct {
	mu sync.Mutex

	cfg      config.Config
	logger   *logging.Logger
	logFile  *os.File
	notifier *notify.Notifier
	conv     *convert.Converter
	watcher  *watcher.Watcher
	metrics  *Metrics

	subs []*notify.Subscription

	cancel  context.CancelFunc
	running atomic.Bool
	closed  bool

	opts Options
}

// Options configures the application.
type Options struct {
	// Config holds the runtime settings. Use config.Load to read them from
	// the environment.
	Config config.Config

	// FileSystem is where the definitions are read from. Defaults to the
	// OS file system.
	FileSystem loader.FileSystem

	// LogOutput receives log lines. It takes precedence over
	// Config.LogFile; with neither set logs go to os.Stderr.
	LogOutput io.Writer
}

// New creates an Application. Definitions are not read until Start.
func New(opts Options) (*Application, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, &InitError{Component: "config", Err: err}
	}

	app := &Application{
		cfg:     opts.Config,
		metrics: NewMetrics(),
		opts:    opts,
	}

	if err := newBootstrapper(app).bootstrap(); err != nil {
		return nil, err
	}

	return app, nil
}

// Start loads the definitions document and, if configured, starts watching
// it for changes.
func (app *Application) Start(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	if app.closed {
		return ErrShutdown
	}
	if app.running.Load() {
		return ErrAlreadyRunning
	}

	reloader := &timedReloader{app: app}
	if _, err := reloader.load(ctx, app.cfg.UnitsFile); err != nil {
		return NewComponentError("converter", "load "+app.cfg.UnitsFile, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())

	if app.cfg.Watch {
		w, err := watcher.New(app.cfg.UnitsFile, reloader,
			watcher.WithDebounce(app.cfg.WatchDebounce),
			watcher.WithLogger(app.logger),
		)
		if err == nil {
			err = w.Start(runCtx)
		}
		if err != nil {
			cancel()
			return NewComponentError("watcher", "start", err)
		}
		app.watcher = w
	}

	app.cancel = cancel
	app.running.Store(true)
	app.logger.Info("started with %s", app.cfg.UnitsFile)
	return nil
}

// Shutdown stops the watcher and releases every component. It may be called
// whether or not Start succeeded; later calls are no-ops. The logger is
// silenced and its log file closed.
func (app *Application) Shutdown() error {
	app.mu.Lock()
	defer app.mu.Unlock()

	if app.closed {
		return nil
	}
	app.closed = true
	app.running.Store(false)

	var errs []error

	if app.cancel != nil {
		app.cancel()
	}
	if app.watcher != nil {
		if err := app.watcher.Close(); err != nil {
			errs = append(errs, NewComponentError("watcher", "close", err))
		}
	}

	for _, sub := range app.subs {
		sub.Unsubscribe()
	}
	app.subs = nil

	app.notifier.Close()
	app.logger.Info("shut down")
	app.logger.Disable()

	if app.logFile != nil {
		if err := app.logFile.Close(); err != nil {
			errs = append(errs, NewComponentError("logger", "close", err))
		}
		app.logFile = nil
	}

	return errors.Join(errs...)
}

// IsRunning returns true if the application is running.
func (app *Application) IsRunning() bool {
	return app.running.Load()
}

// Config returns the runtime settings.
func (app *Application) Config() config.Config {
	return app.cfg
}

// Logger returns the application logger.
func (app *Application) Logger() *logging.Logger {
	return app.logger
}

// Notifier returns the event notifier.
func (app *Application) Notifier() *notify.Notifier {
	return app.notifier
}

// Converter returns the unit converter.
func (app *Application) Converter() *convert.Converter {
	return app.conv
}

// Watcher returns the definitions watcher, or nil when watching is off.
func (app *Application) Watcher() *watcher.Watcher {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.watcher
}

// Metrics returns the load and event counters.
func (app *Application) Metrics() *Metrics {
	return app.metrics
}

// NewValue creates a bounded value in the given unit.
func (app *Application) NewValue(unit string) *datastring.DataString {
	return datastring.New(app.conv, unit)
}

// Reload re-reads the definitions document.
func (app *Application) Reload(ctx context.Context) (*loader.Info, error) {
	if !app.running.Load() {
		return nil, ErrNotRunning
	}
	return (&timedReloader{app: app}).Reload(ctx)
}

// timedReloader reloads the converter and records the outcome in the
// application metrics.
type timedReloader struct {
	app *Application
}

func (r *timedReloader) Reload(ctx context.Context) (*loader.Info, error) {
	start := time.Now()
	info, err := r.app.conv.Reload(ctx)
	r.app.metrics.RecordLoad(time.Since(start), err)
	return info, err
}

func (r *timedReloader) load(ctx context.Context, path string) (*loader.Info, error) {
	start := time.Now()
	info, err := r.app.conv.Load(ctx, path)
	r.app.metrics.RecordLoad(time.Since(start), err)
	return info, err
}
