// Package logging defines the structured logging seam shared by every
// bucketd package. The root package re-exports these types.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the logging interface used throughout bucketd.
type Logger interface {
	// Info logs an informational message with optional fields
	Info(msg string, fields ...Field)

	// Warn logs a warning message with optional fields
	Warn(msg string, fields ...Field)

	// Error logs an error message with optional fields
	Error(msg string, fields ...Field)

	// Fatal logs a message for an unrecoverable invariant violation and
	// aborts the process.
	Fatal(msg string, fields ...Field)
}

// Field represents a structured logging field.
type Field struct {
	Key   string
	Value interface{}
}

// F is shorthand for constructing a Field.
func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// defaultLogger is the default logger implementation backed by logrus.
type defaultLogger struct {
	log *logrus.Logger
}

// NewDefault creates a logger that writes structured entries to stderr.
func NewDefault() Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	return &defaultLogger{log: log}
}

func (l *defaultLogger) entry(fields []Field) *logrus.Entry {
	f := make(logrus.Fields, len(fields))
	for _, field := range fields {
		f[field.Key] = field.Value
	}
	return l.log.WithFields(f)
}

func (l *defaultLogger) Info(msg string, fields ...Field)  { l.entry(fields).Info(msg) }
func (l *defaultLogger) Warn(msg string, fields ...Field)  { l.entry(fields).Warn(msg) }
func (l *defaultLogger) Error(msg string, fields ...Field) { l.entry(fields).Error(msg) }
func (l *defaultLogger) Fatal(msg string, fields ...Field) { l.entry(fields).Fatal(msg) }

// noopLogger is a logger that does nothing. Useful for testing.
type noopLogger struct{}

// NewNoop creates a logger that discards all log messages.
// Fatal still aborts the process.
func NewNoop() Logger {
	return &noopLogger{}
}

func (l *noopLogger) Info(msg string, fields ...Field)  {}
func (l *noopLogger) Warn(msg string, fields ...Field)  {}
func (l *noopLogger) Error(msg string, fields ...Field) {}
func (l *noopLogger) Fatal(msg string, fields ...Field) { os.Exit(1) }
