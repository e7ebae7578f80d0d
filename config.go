package stowdb

import (
	"log/slog"
	"time"

	"github.com/sirupsen/logrus"
)

// Config configures an opened DB. Grounded on the teacher's root Config
// (Paths/MinimumFreeGB/Logger), extended with the backend file size and GC
// cadence this engine's writer needs.
type Config struct {
	// Path is the directory the backend and the process-exclusive
	// lockfile live in. Only a single path is supported -- unlike the
	// teacher's Paths slice (reserved there for future sharding), this
	// engine has no sharding story (spec.md Non-goals: single-process
	// writer only).
	Path string

	// MaxBytes sets the size of each of the backend's value-log files.
	// Zero uses the backend's own default. It does not cap the total
	// on-disk size of the database.
	MaxBytes int64

	// GCInterval is how often Open's background goroutine nudges the
	// writer into an incremental GC pass, mirroring the teacher's
	// ticker-driven createGarbageCollection. Zero disables the background
	// ticker -- GC still runs opportunistically on every commit, and can
	// always be forced synchronously with DB.GC.
	GCInterval time.Duration

	// Logger receives the lifecycle log line Open emits. Close logs
	// nothing, and the writer's fatal exits go to InternalLogger. If nil,
	// slog.Default is used, matching the teacher's defaultLogger.
	Logger *slog.Logger

	// InternalLogger receives the backend and writer's per-operation
	// logs. If nil, logrus's default logger is used, matching the
	// teacher's keyValStore package-level logger.
	InternalLogger *logrus.Logger
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return defaultLogger()
}

func (c Config) internalLogger() *logrus.Logger {
	if c.InternalLogger != nil {
		return c.InternalLogger
	}
	return logrus.StandardLogger()
}

func defaultLogger() *slog.Logger {
	return slog.Default()
}
