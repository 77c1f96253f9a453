package logging

import (
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Valid values for Config.Output.
const (
	CONSOLE = "console"
	JOURNAL = "journal"
)

// Logger is a wrapper around a zap.SugaredLogger that keeps track of the level of
// its own and of named child loggers so that the level of each can be adjusted independently,
// and that supports periodic flushing of buffered log entries.
type Logger struct {
	*zap.SugaredLogger

	name     string
	level    zapcore.Level
	options  Options
	interval time.Duration

	mu       sync.Mutex
	children map[string]*Logger
}

// NewLogger creates a new Logger from the given zap.SugaredLogger.
// Interval specifies how often the logger flushes buffered log entries, if the underlying core buffers at all.
func NewLogger(log *zap.SugaredLogger, interval time.Duration) *Logger {
	logger := &Logger{
		SugaredLogger: log,
		interval:      interval,
		children:      make(map[string]*Logger),
	}

	if interval > 0 {
		go logger.periodicFlush()
	}

	return logger
}

// NewLoggerFromOptions creates a new Logger that applies per-name level Options to itself and its children.
func NewLoggerFromOptions(log *zap.SugaredLogger, interval time.Duration, options Options) *Logger {
	logger := NewLogger(log, interval)
	logger.options = options

	return logger
}

// NewLoggerFromConfig builds the zapcore.Core matching c.Output (console or journald) at c.Level and
// returns a Logger identified by identifier, applying c.Options as per-name level overrides for its
// children.
func NewLoggerFromConfig(c *Config, identifier string) (*Logger, error) {
	enabler := zap.NewAtomicLevelAt(c.Level)

	var core zapcore.Core
	switch c.Output {
	case JOURNAL:
		core = NewJournaldCore(identifier, enabler)
	case CONSOLE, "":
		encoderCfg := zap.NewProductionEncoderConfig()
		encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		core = zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.Lock(os.Stderr), enabler)
	default:
		return nil, errors.Errorf("%s is not a valid logger output", c.Output)
	}

	return NewLoggerFromOptions(zap.New(core).Sugar(), c.Interval, c.Options), nil
}

// Interval returns the interval the Logger was created with, which callers also use to pace periodic
// progress logging.
func (l *Logger) Interval() time.Duration {
	return l.interval
}

func (l *Logger) periodicFlush() {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for range ticker.C {
		_ = l.Sync()
	}
}

// GetChildLogger returns a named child Logger, creating it on first use.
// The child shares the parent's interval and inherits a level override from Options, if any is set for its name.
func (l *Logger) GetChildLogger(name string) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()

	if child, ok := l.children[name]; ok {
		return child
	}

	named := l.SugaredLogger.Named(name)
	if lvl, ok := l.options[name]; ok {
		named = named.Desugar().WithOptions(zap.IncreaseLevel(lvl)).Sugar()
	}

	child := &Logger{
		SugaredLogger: named,
		name:          name,
		options:       l.options,
		interval:      l.interval,
		children:      make(map[string]*Logger),
	}
	l.children[name] = child

	return child
}
