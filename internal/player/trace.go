package player

import (
	"context"
	"time"
)

// Trace holds optional hooks invoked around playback sessions. It is
// attached to a context so callers can observe one turn's sessions without
// the player knowing about turns.
type Trace struct {
	// SessionStarted runs after synthesis, just before audio is written.
	SessionStarted func(text string, expected time.Duration)
	// SessionEnded runs after the output device has been released.
	SessionEnded func(text string, interrupted bool)
}

type traceKey struct{}

// WithTrace returns a context carrying t.
func WithTrace(ctx context.Context, t *Trace) context.Context {
	return context.WithValue(ctx, traceKey{}, t)
}

func traceFrom(ctx context.Context) *Trace {
	t, _ := ctx.Value(traceKey{}).(*Trace)
	return t
}
