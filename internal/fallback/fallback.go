// Package fallback implements the Fallback Executor of spec §4.2: an
// ordered list of named attempts with first-success-wins semantics and
// structured logging on each failure. Directly ported from
// original_source/services/fallback.py's FallbackExecutor.
package fallback

import (
	"context"
	"log/slog"
)

// Attempt is one named provider call. Do should return the zero value and
// an error (or a value the caller considers "empty") on failure; Execute
// treats both uniformly as failure-to-next.
type Attempt[T any] struct {
	Name string
	Do   func(ctx context.Context) (T, error)
}

// Empty reports whether v should be treated as an empty result even though
// Do returned no error — e.g. a zero-length bar slice or quote map. When
// nil, Execute only treats a non-nil error as failure.
type Empty[T any] func(v T) bool

// Execute runs attempts in order and returns the first result for which Do
// succeeds and (if isEmpty is given) isEmpty reports false. It logs each
// failed attempt by name and returns the zero value with ok=false if every
// attempt fails; it never panics or propagates an attempt's error.
func Execute[T any](ctx context.Context, log *slog.Logger, context_ string, attempts []Attempt[T], isEmpty Empty[T]) (T, bool) {
	var zero T
	for _, a := range attempts {
		v, err := a.Do(ctx)
		if err != nil {
			log.Warn("provider attempt failed", "context", context_, "provider", a.Name, "error", err)
			continue
		}
		if isEmpty != nil && isEmpty(v) {
			log.Warn("provider attempt returned empty result", "context", context_, "provider", a.Name)
			continue
		}
		return v, true
	}
	log.Error("all data sources failed", "context", context_)
	return zero, false
}
