package app

import (
	"fmt"
	"os"

	"github.com/dshills/thunder/internal/logging"
	"github.com/dshills/thunder/internal/notify"
	"github.com/dshills/thunder/internal/units/convert"
)

// bootstrapper handles component initialization with proper cleanup on failure.
type bootstrapper struct {
	app       *Application
	initOrder []string
}

// newBootstrapper creates a new bootstrapper for the application.
func newBootstrapper(app *Application) *bootstrapper {
	return &bootstrapper{
		app:       app,
		initOrder: make([]string, 0, 4),
	}
}

// bootstrap initializes all components in dependency order.
// On failure, it cleans up already-initialized components.
func (b *bootstrapper) bootstrap() error {
	steps := []struct {
		name string
		init func() error
	}{
		{"notifier", b.initNotifier},
		{"logger", b.initLogger},
		{"converter", b.initConverter},
		{"subscriptions", b.initSubscriptions},
	}

	for _, step := range steps {
		if err := step.init(); err != nil {
			b.cleanup()
			return &InitError{Component: step.name, Err: err}
		}
		b.initOrder = append(b.initOrder, step.name)
	}

	return nil
}

// initLogger writes to Options.LogOutput when given, then to the configured
// log file, then to stderr.
func (b *bootstrapper) initLogger() error {
	cfg := logging.DefaultConfig()
	cfg.Level = b.app.cfg.Level()

	switch {
	case b.app.opts.LogOutput != nil:
		cfg.Output = b.app.opts.LogOutput
	case b.app.cfg.LogFile != "":
		f, err := os.OpenFile(b.app.cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		b.app.logFile = f
		cfg.Output = f
	}

	b.app.logger = logging.New(cfg).WithComponent("app")
	return nil
}

func (b *bootstrapper) initNotifier() error {
	b.app.notifier = notify.New(notify.WithAsync(b.app.cfg.NotifyBuffer))
	return nil
}

func (b *bootstrapper) initConverter() error {
	opts := []convert.Option{
		convert.WithLogger(b.app.logger),
		convert.WithNotifier(b.app.notifier),
	}
	if b.app.opts.FileSystem != nil {
		opts = append(opts, convert.WithFileSystem(b.app.opts.FileSystem))
	}
	b.app.conv = convert.New(opts...)
	return nil
}

// initSubscriptions feeds engine events into the metrics and the log.
func (b *bootstrapper) initSubscriptions() error {
	app := b.app
	m := app.metrics

	app.subs = append(app.subs,
		app.notifier.SubscribeKind(notify.KindDiagnostic, func(notify.Event) {
			m.RecordDiagnostic()
		}),
		app.notifier.SubscribeKind(notify.KindValueChanged, func(notify.Event) {
			m.RecordChange()
		}),
		app.notifier.SubscribeKind(notify.KindUnitChanged, func(notify.Event) {
			m.RecordChange()
		}),
		app.notifier.SubscribeKind(notify.KindReload, func(e notify.Event) {
			app.logger.Debug("definitions loaded from %s (load %s)", e.Source, e.LoadID)
		}),
	)
	return nil
}

// cleanup performs cleanup in reverse initialization order.
// Called when bootstrap fails partway through.
func (b *bootstrapper) cleanup() {
	for i := len(b.initOrder) - 1; i >= 0; i-- {
		b.cleanupComponent(b.initOrder[i])
	}
}

// cleanupComponent cleans up a single component.
func (b *bootstrapper) cleanupComponent(component string) {
	switch component {
	case "subscriptions":
		for _, sub := range b.app.subs {
			sub.Unsubscribe()
		}
		b.app.subs = nil
	case "converter":
		b.app.conv = nil
	case "notifier":
		if b.app.notifier != nil {
			b.app.notifier.Close()
			b.app.notifier = nil
		}
	case "logger":
		if b.app.logFile != nil {
			_ = b.app.logFile.Close()
			b.app.logFile = nil
		}
		b.app.logger = nil
	}
}
