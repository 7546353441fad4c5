package testutil

import (
	"context"
	"testing"
	"time"
)

// Default timeouts for test operations.
const (
	// DefaultMeasurementTimeout bounds a full measurement against a local
	// analyzer, including connect, streaming and the final result.
	DefaultMeasurementTimeout = 30 * time.Second

	// DefaultShortTimeout is for quick operations like a connect or a single
	// round trip.
	DefaultShortTimeout = 5 * time.Second

	// DefaultTestBuffer is the buffer time subtracted from test deadline
	// to allow for cleanup operations before the test times out.
	DefaultTestBuffer = 2 * time.Second
)

// ContextWithTestDeadline creates a context that respects the test's deadline.
// It subtracts a buffer from the test deadline to allow time for cleanup.
// If the test has no deadline, it falls back to the provided fallback duration.
//
// Usage:
//
//	func TestSomething(t *testing.T) {
//	    ctx, cancel := testutil.ContextWithTestDeadline(t, 10*time.Second)
//	    defer cancel()
//	    // ... test code using ctx
//	}
func ContextWithTestDeadline(t *testing.T, fallback time.Duration) (context.Context, context.CancelFunc) {
	t.Helper()
	return ContextWithTestDeadlineBuffer(t, fallback, DefaultTestBuffer)
}

// ContextWithTestDeadlineBuffer creates a context that respects the test's deadline
// with a custom buffer. The earlier of the adjusted test deadline and the
// fallback wins. If the adjusted deadline is already past, the fallback is used.
func ContextWithTestDeadlineBuffer(t *testing.T, fallback, buffer time.Duration) (context.Context, context.CancelFunc) {
	t.Helper()

	if deadline, ok := t.Deadline(); ok {
		adjusted := deadline.Add(-buffer)
		if remaining := time.Until(adjusted); remaining > 0 && remaining < fallback {
			t.Logf("Using test deadline: %v (buffer: %v)", remaining.Round(time.Millisecond), buffer)
			return context.WithDeadline(context.Background(), adjusted)
		}
	}

	return context.WithTimeout(context.Background(), fallback)
}

// ContextWithTimeout creates a context with the specified timeout.
// This is a convenience wrapper that logs the timeout for debugging.
func ContextWithTimeout(t *testing.T, timeout time.Duration) (context.Context, context.CancelFunc) {
	t.Helper()
	t.Logf("Context timeout: %v", timeout)
	return context.WithTimeout(context.Background(), timeout)
}

// MeasurementContext creates a context for a complete measurement run. It
// respects the test deadline if one is set, otherwise uses
// DefaultMeasurementTimeout.
func MeasurementContext(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return ContextWithTestDeadline(t, DefaultMeasurementTimeout)
}

// ShortOperationContext creates a context with DefaultShortTimeout.
// It respects the test deadline if one is set.
func ShortOperationContext(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return ContextWithTestDeadline(t, DefaultShortTimeout)
}
