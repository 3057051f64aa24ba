package ports

import "time"

// Logger defines a minimal, printf-style logging contract.
//
// It intentionally matches internal/logging.Logger so runtime code can depend
// on this package without importing the logging implementation.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
