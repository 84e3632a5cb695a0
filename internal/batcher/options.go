package batcher

import (
	"context"
	"log/slog"
	"time"
)

// Hooks receives batch lifecycle events. Any field may be nil.
// Hooks are invoked outside the batcher lock.
type Hooks struct {
	// OnDispatch is called after a window's fetch settled successfully.
	OnDispatch func(ctx context.Context, keys int, elapsed time.Duration)
	// OnCacheHit is called when Load returns an existing thunk.
	OnCacheHit func(ctx context.Context)
	// OnCacheMiss is called when Load registers a new key.
	OnCacheMiss func(ctx context.Context)
	// OnFailure is called when a window failed as a whole.
	OnFailure func(ctx context.Context, keys int, err error)
}

type options struct {
	name     string
	cache    bool
	wait     time.Duration
	maxBatch int
	logger   *slog.Logger
	hooks    Hooks
}

func defaultOptions() options {
	return options{
		name:  "batch",
		cache: true,
	}
}

// Option configures a Batcher.
type Option func(*options)

// WithName labels the batcher in logs and errors.
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}

// WithCache toggles memoization of outcomes per key. Enabled by default.
func WithCache(enabled bool) Option {
	return func(o *options) {
		o.cache = enabled
	}
}

// WithWait closes a window after d even if nobody awaited it yet.
// Zero disables the timer; the window then closes on the first Get,
// on MaxBatch, or on Dispatch.
func WithWait(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.wait = d
		}
	}
}

// WithMaxBatch closes a window as soon as it holds n keys. Zero means unbounded.
func WithMaxBatch(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxBatch = n
		}
	}
}

// WithLogger sets the logger used for dispatch and failure events.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithHooks registers lifecycle callbacks, typically metrics.
func WithHooks(h Hooks) Option {
	return func(o *options) {
		o.hooks = h
	}
}
