// Package lifecycle ties process signals to contexts.
package lifecycle

import (
	"context"
	"os/signal"
	"time"
)

// DefaultShutdownTimeout bounds how long Close calls get once the process is
// asked to stop.
const DefaultShutdownTimeout = 5 * time.Second

// WithTermination returns a context cancelled by the platform's termination
// signals.
func WithTermination(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, TerminationSignals()...)
}

// ShutdownContext returns a fresh context for cleanup that outlives the
// cancelled run context.
func ShutdownContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	return context.WithTimeout(context.Background(), timeout)
}
