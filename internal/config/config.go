// Package config loads the engine's runtime settings from the environment.
//
// Every setting is read from a THUNDER_-prefixed environment variable and
// falls back to a default when unset:
//
//	THUNDER_UNITS_FILE       definitions document (default "units.xml")
//	THUNDER_WATCH            reload when the document changes (default false)
//	THUNDER_WATCH_DEBOUNCE   quiet period before a reload (default 100ms)
//	THUNDER_LOG_LEVEL        debug, info, warn or error (default info)
//	THUNDER_LOG_FILE         append log lines to this file (default stderr)
//	THUNDER_NOTIFY_BUFFER    async event buffer, 0 is synchronous (default 0)
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/dshills/thunder/internal/logging"
)

// Errors returned by configuration operations.
var (
	// ErrValidationFailed indicates a setting holds an unusable value.
	ErrValidationFailed = errors.New("validation failed")
)

// Config holds the runtime settings.
type Config struct {
	// UnitsFile is the path of the definitions document.
	UnitsFile string `env:"THUNDER_UNITS_FILE" envDefault:"units.xml"`

	// Watch enables live reload of UnitsFile.
	Watch bool `env:"THUNDER_WATCH" envDefault:"false"`

	// WatchDebounce is how long the file must stay quiet before a reload.
	WatchDebounce time.Duration `env:"THUNDER_WATCH_DEBOUNCE" envDefault:"100ms"`

	// LogLevel is the minimum level that is logged.
	LogLevel string `env:"THUNDER_LOG_LEVEL" envDefault:"info"`

	// LogFile receives log lines when set; otherwise they go to stderr.
	LogFile string `env:"THUNDER_LOG_FILE"`

	// NotifyBuffer is the async event buffer size; 0 delivers synchronously.
	NotifyBuffer int `env:"THUNDER_NOTIFY_BUFFER" envDefault:"0"`
}

// Default returns the configuration used when no variable is set.
func Default() Config {
	return Config{
		UnitsFile:     "units.xml",
		WatchDebounce: 100 * time.Millisecond,
		LogLevel:      "info",
	}
}

// Load reads the configuration from the environment and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every setting.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.UnitsFile) == "" {
		errs = append(errs, fmt.Errorf("%w: THUNDER_UNITS_FILE is empty", ErrValidationFailed))
	}
	if c.WatchDebounce < 0 {
		errs = append(errs, fmt.Errorf("%w: THUNDER_WATCH_DEBOUNCE must not be negative (got %s)", ErrValidationFailed, c.WatchDebounce))
	}
	if c.NotifyBuffer < 0 {
		errs = append(errs, fmt.Errorf("%w: THUNDER_NOTIFY_BUFFER must not be negative (got %d)", ErrValidationFailed, c.NotifyBuffer))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("%w: unknown THUNDER_LOG_LEVEL %q", ErrValidationFailed, c.LogLevel))
	}

	return errors.Join(errs...)
}

// Level returns the parsed log level.
func (c Config) Level() logging.Level {
	return logging.ParseLevel(c.LogLevel)
}
