// internal/logger/logger.go
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus logger with service context
type Logger struct {
	entry *logrus.Entry
}

// Options controls level and output format
type Options struct {
	Level  string // debug, info, warn, error
	Format string // text or json
	Output io.Writer
}

// New creates a new logger instance for a service
func New(service string) *Logger {
	return NewWithOptions(service, Options{
		Level:  os.Getenv("LOG_LEVEL"),
		Format: os.Getenv("LOG_FORMAT"),
	})
}

// NewWithWriter creates a logger that writes text output to w
func NewWithWriter(service string, w io.Writer) *Logger {
	return NewWithOptions(service, Options{Output: w})
}

// Discard returns a logger that drops everything
func Discard() *Logger {
	return NewWithWriter("discard", io.Discard)
}

// NewWithOptions creates a logger from explicit options
func NewWithOptions(service string, opts Options) *Logger {
	base := logrus.New()

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	base.SetOutput(out)

	if strings.EqualFold(opts.Format, "json") {
		base.SetFormatter(&logrus.JSONFormatter{})
	} else {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})
	}

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	return &Logger{entry: base.WithField("service", service)}
}

// With returns a child logger carrying extra key/value fields
func (l *Logger) With(keyvals ...interface{}) *Logger {
	return &Logger{entry: l.entry.WithFields(toFields(keyvals...))}
}

// Info logs an info message
func (l *Logger) Info(message string, keyvals ...interface{}) {
	l.entry.WithFields(toFields(keyvals...)).Info(message)
}

// Error logs an error message
func (l *Logger) Error(message string, keyvals ...interface{}) {
	l.entry.WithFields(toFields(keyvals...)).Error(message)
}

// Warn logs a warning message
func (l *Logger) Warn(message string, keyvals ...interface{}) {
	l.entry.WithFields(toFields(keyvals...)).Warn(message)
}

// Debug logs a debug message
func (l *Logger) Debug(message string, keyvals ...interface{}) {
	l.entry.WithFields(toFields(keyvals...)).Debug(message)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(message string, keyvals ...interface{}) {
	l.entry.WithFields(toFields(keyvals...)).Fatal(message)
}

// Printf satisfies the printf-style logger interfaces of third-party libraries
func (l *Logger) Printf(format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}

// toFields turns alternating key/value pairs into logrus fields. A dangling key is
// kept with a placeholder value rather than dropped.
func toFields(keyvals ...interface{}) logrus.Fields {
	fields := make(logrus.Fields, len(keyvals)/2)
	for i := 0; i < len(keyvals); i += 2 {
		key := fmt.Sprint(keyvals[i])
		if i+1 >= len(keyvals) {
			fields[key] = "(MISSING)"
			break
		}
		value := keyvals[i+1]
		if err, ok := value.(error); ok {
			value = err.Error()
		}
		fields[key] = value
	}
	return fields
}
