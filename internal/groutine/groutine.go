// Package groutine starts named goroutines. The name is attached as a pprof
// label, so session and link goroutines are identifiable in profiles and
// goroutine dumps, and is available from the context for log fields.
package groutine

import (
	"context"
	"runtime/pprof"
)

type ctxKey struct{}

// LabelKey is the pprof label carrying the goroutine name.
const LabelKey = "goroutine_name"

// Go runs fn on a new goroutine labelled name. A nil parent uses context.Background().
//
//	groutine.Go(ctx, "session-telemetry", func(ctx context.Context) {
//	    <-ctx.Done()
//	})
func Go(parent context.Context, name string, fn func(ctx context.Context)) {
	if parent == nil {
		parent = context.Background()
	}
	go pprof.Do(parent, pprof.Labels(LabelKey, name), func(ctx context.Context) {
		fn(context.WithValue(ctx, ctxKey{}, name))
	})
}

// Name returns the name given to Go, or "" outside a named goroutine.
func Name(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	name, _ := ctx.Value(ctxKey{}).(string)
	return name
}
