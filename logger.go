package bucketd

import "github.com/aigotowork/bucketd/internal/logging"

// Logger is the logging interface used throughout bucketd.
// Users can provide custom logger implementations.
type Logger = logging.Logger

// Field represents a structured logging field.
type Field = logging.Field

// F is shorthand for constructing a Field.
func F(key string, value interface{}) Field {
	return logging.F(key, value)
}

// NewDefaultLogger creates a logger that writes structured entries to
// stderr.
func NewDefaultLogger() Logger {
	return logging.NewDefault()
}

// NewNoopLogger creates a logger that discards all log messages.
// Fatal still aborts the process.
func NewNoopLogger() Logger {
	return logging.NewNoop()
}
