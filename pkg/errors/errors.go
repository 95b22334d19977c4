// Package errors provides the structured error type shared by the miner's
// clients, exporters and backends. Every error carries a category, the
// operation that failed and optional key/value context for the logs.
package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"
)

// ErrorType is the category of a ServiceError.
type ErrorType string

const (
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeDatabase   ErrorType = "database"
	// ErrorTypeBitcoin covers bitcoind RPC failures and rejected blocks.
	ErrorTypeBitcoin ErrorType = "bitcoin"
	ErrorTypeKafka   ErrorType = "kafka"
	// ErrorTypeBackend is a mining backend that could not be built or initialized.
	ErrorTypeBackend ErrorType = "backend"
	// ErrorTypeHardware is a result that cannot belong to the work it claims to solve.
	ErrorTypeHardware ErrorType = "hardware"
	ErrorTypeTimeout  ErrorType = "timeout"
	ErrorTypeInternal ErrorType = "internal"
)

// retryableTypes are the categories worth another attempt by default.
var retryableTypes = map[ErrorType]bool{
	ErrorTypeNetwork:  true,
	ErrorTypeTimeout:  true,
	ErrorTypeKafka:    true,
	ErrorTypeDatabase: true,
}

// transientMessages mark plain errors from drivers and sockets as retryable.
var transientMessages = []string{
	"connection refused",
	"connection reset",
	"network unreachable",
	"timeout",
	"temporary failure",
	"too many connections",
	"broken pipe",
}

// ServiceError is a categorized error with the failing operation and context.
type ServiceError struct {
	Type      ErrorType
	Operation string
	Message   string
	Cause     error
	Context   map[string]any
	Timestamp time.Time
	Retryable bool
}

// Error formats as "type: operation: message", followed by the cause if any.
func (e *ServiceError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Type))
	b.WriteString(": ")
	b.WriteString(e.Operation)
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *ServiceError) Unwrap() error { return e.Cause }

// IsRetryable reports whether the operation may succeed when repeated.
func (e *ServiceError) IsRetryable() bool { return e.Retryable }

// WithContext attaches a key/value pair and returns e for chaining.
func (e *ServiceError) WithContext(key string, value any) *ServiceError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// LogValue implements slog.LogValuer so logged errors keep their structure.
func (e *ServiceError) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("type", string(e.Type)),
		slog.String("operation", e.Operation),
		slog.String("message", e.Message),
	}
	if e.Cause != nil {
		attrs = append(attrs, slog.String("cause", e.Cause.Error()))
	}
	for _, key := range slices.Sorted(maps.Keys(e.Context)) {
		attrs = append(attrs, slog.Any(key, e.Context[key]))
	}
	return slog.GroupValue(attrs...)
}

// New creates an error whose retryability follows its type.
func New(errorType ErrorType, operation, message string) *ServiceError {
	return &ServiceError{
		Type:      errorType,
		Operation: operation,
		Message:   message,
		Timestamp: time.Now(),
		Retryable: retryableTypes[errorType],
	}
}

// Newf is New with a formatted message.
func Newf(errorType ErrorType, operation, format string, args ...any) *ServiceError {
	return New(errorType, operation, fmt.Sprintf(format, args...))
}

// Wrap puts err behind a new category and operation. A wrapped ServiceError
// passes its retryability on; plain errors are judged by their message.
// Wrapping nil returns nil.
func Wrap(err error, errorType ErrorType, operation, message string) *ServiceError {
	if err == nil {
		return nil
	}

	wrapped := New(errorType, operation, message)
	wrapped.Cause = err
	wrapped.Retryable = IsRetryable(err)
	return wrapped
}

// IsType reports whether any ServiceError in the chain has type errorType.
func IsType(err error, errorType ErrorType) bool {
	var se *ServiceError
	for errors.As(err, &se) {
		if se.Type == errorType {
			return true
		}
		err = se.Cause
	}
	return false
}

// IsRetryable reports whether err is worth another attempt. Cancellation
// never is.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var se *ServiceError
	if errors.As(err, &se) {
		return se.Retryable
	}

	msg := strings.ToLower(err.Error())
	return slices.ContainsFunc(transientMessages, func(s string) bool {
		return strings.Contains(msg, s)
	})
}

// GetContext returns the context of the outermost ServiceError in the chain.
func GetContext(err error) map[string]any {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Context
	}
	return nil
}
