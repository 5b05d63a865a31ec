// Package log provides the process logger: a logrus backed Logger with a
// pattern formatter, fanned out to stdout, rotating files and Loki, behind a
// non-blocking diode buffer so hot loops never wait on log I/O.
package log

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

type Logger interface {
	Print(args ...interface{})
	Printf(format string, args ...interface{})

	Trace(args ...interface{})
	Tracef(format string, args ...interface{})

	Debug(args ...interface{})
	Debugf(format string, args ...interface{})

	Info(args ...interface{})
	Infof(format string, args ...interface{})

	Warn(args ...interface{})
	Warnf(format string, args ...interface{})

	Error(args ...interface{})
	Errorf(format string, args ...interface{})

	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})

	Panic(args ...interface{})
	Panicf(format string, args ...interface{})

	WithField(field string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger

	IsTraceEnabled() bool
	IsDebugEnabled() bool
	IsInfoEnabled() bool
}

var (
	mu     sync.RWMutex
	logger Logger = newDefaultLogger()
	output io.Closer
)

// GetLogger returns the process logger. Before Init it is a stderr logger
// at info level.
func GetLogger() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Init replaces the process logger according to cfg. A previously
// initialized output is flushed and closed.
func Init(cfg Config) error {
	cfg.applyDefaults()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	mw := NewMultiWriter().Add(os.Stdout)
	for i, ac := range cfg.Appenders {
		if err := mw.AddAppender(ac); err != nil {
			_ = mw.Close()
			return fmt.Errorf("appender %d (%s): %w", i, ac.Type, err)
		}
	}

	var out io.WriteCloser = mw
	if cfg.Async.Enabled {
		out = newAsyncWriter(mw, cfg.Async)
	}

	l := logrus.New()
	l.SetFormatter(&formatter{pattern: cfg.Pattern, time: cfg.Time})
	l.SetLevel(level)
	l.SetOutput(out)

	mu.Lock()
	prev := output
	logger = &logrusAdapter{entry: logrus.NewEntry(l)}
	output = out
	mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}
	return nil
}

// Close flushes buffered log lines and closes file and network outputs.
// The logger reverts to the stderr default.
func Close() error {
	mu.Lock()
	prev := output
	logger = newDefaultLogger()
	output = nil
	mu.Unlock()

	if prev == nil {
		return nil
	}
	return prev.Close()
}

func newDefaultLogger() Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&formatter{pattern: DefaultPattern, time: DefaultTimeLayout})
	l.SetLevel(logrus.InfoLevel)
	return &logrusAdapter{entry: logrus.NewEntry(l)}
}
