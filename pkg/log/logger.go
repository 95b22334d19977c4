// Package log wraps slog with the fields the miner attaches to its records:
// service identity, component, job and solution.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Logger is an slog.Logger with miner-specific helpers.
type Logger struct {
	*slog.Logger
}

// New creates a logger writing to stdout. format is "json" or "text".
func New(service, version, level, format string) *Logger {
	return NewWithWriter(os.Stdout, service, version, level, format)
}

// NewWithWriter creates a logger writing to w.
func NewWithWriter(w io.Writer, service, version, level, format string) *Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{Level: lvl, AddSource: lvl == slog.LevelDebug}

	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if strings.EqualFold(format, "text") {
		h = slog.NewTextHandler(w, opts)
	}
	return &Logger{slog.New(h).With("service", service, "version", version)}
}

// Discard returns a logger that drops every record.
func Discard() *Logger {
	return &Logger{slog.New(slog.DiscardHandler)}
}

// ParseLevel maps a level name to slog, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// WithFields returns a child logger carrying the given key/value pairs.
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{l.With(fields...)}
}

func (l *Logger) WithComponent(component string) *Logger {
	return l.WithFields("component", component)
}

// WithJob tags records with the identity of a mining job.
func (l *Logger) WithJob(prevHash string, bits, version uint32) *Logger {
	return l.WithFields("prev_hash", prevHash, "bits", bits, "job_version", version)
}

func (l *Logger) WithSolution(hash string, nonce uint32, path string) *Logger {
	return l.WithFields("hash", hash, "nonce", nonce, "path", path)
}

// WithError attaches err under "error". Errors implementing slog.LogValuer
// keep their structure.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	if v, ok := err.(slog.LogValuer); ok {
		return l.WithFields(slog.Any("error", v))
	}
	return l.WithFields("error", err.Error())
}

// LogDuration records how long an operation took.
func (l *Logger) LogDuration(operation string, d time.Duration) {
	l.Info("operation completed",
		"operation", operation,
		"duration_ms", float64(d.Nanoseconds())/1e6,
	)
}

// LogHashrate records the throughput of a solver over d.
func (l *Logger) LogHashrate(solver string, hashes uint64, d time.Duration) {
	var rate float64
	if d > 0 {
		rate = float64(hashes) / d.Seconds()
	}
	l.Info("hashrate",
		"solver", solver,
		"hashes", hashes,
		"duration_ms", d.Milliseconds(),
		"hashes_per_sec", rate,
	)
}

// LogSolutionRouted records a solution handed to a client. path runs from
// the client down to the solver.
func (l *Logger) LogSolutionRouted(path string, nonce uint32, midstate int) {
	l.Debug("solution routed", "path", path, "nonce", nonce, "midstate", midstate)
}

// LogBlockFound records a block accepted for submission.
func (l *Logger) LogBlockFound(blockHash string, blockHeight int64, path string) {
	l.Info("block found",
		"block_hash", blockHash,
		"block_height", blockHeight,
		"path", path,
	)
}
