package lifecycle

import (
	"context"
	"testing"
	"time"
)

func TestWithTerminationFollowsParent(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	ctx, stop := WithTermination(parent)
	defer stop()

	cancel()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("expected context to be cancelled with its parent")
	}
}

func TestShutdownContextDefaultsTimeout(t *testing.T) {
	ctx, cancel := ShutdownContext(0)
	defer cancel()

	deadline, ok := ctx.Deadline()
	if !ok {
		t.Fatal("expected a deadline")
	}
	if remaining := time.Until(deadline); remaining <= 0 || remaining > DefaultShutdownTimeout {
		t.Fatalf("unexpected remaining time %s", remaining)
	}
	if len(TerminationSignals()) == 0 {
		t.Fatal("expected at least one termination signal")
	}
}
