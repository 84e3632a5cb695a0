// Package batcher coalesces independent key lookups into one fetch per window
// and memoizes the outcome per key for the lifetime of a Batcher.
//
// A window opens on the first Load after the previous window closed. It closes
// when any of its thunks is awaited, when the optional wait timer fires, when it
// reaches the optional maximum size, or when Dispatch is called. Each closed
// window results in exactly one call to the fetch function with the window's
// de-duplicated keys in registration order.
package batcher

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// FetchFunc loads values for keys. It must return exactly one value per key,
// in key order. A non-nil error fails every key of the batch.
type FetchFunc[K comparable, V any] func(ctx context.Context, keys []K) ([]V, error)

// Batcher is a memoizing key loader. The zero value is not usable; use New.
type Batcher[K comparable, V any] struct {
	fetch FetchFunc[K, V]
	opts  options

	mu    sync.Mutex
	cache map[K]*Thunk[V]
	open  *window[K, V]
}

type window[K comparable, V any] struct {
	ctx    context.Context
	keys   []K
	thunks []*Thunk[V]
	index  map[K]int
	timer  *time.Timer
	sealed bool
}

// New creates a Batcher around fetch.
func New[K comparable, V any](fetch FetchFunc[K, V], opts ...Option) *Batcher[K, V] {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return &Batcher[K, V]{
		fetch: fetch,
		opts:  o,
		cache: make(map[K]*Thunk[V]),
	}
}

// Name returns the label given with WithName.
func (b *Batcher[K, V]) Name() string {
	return b.opts.name
}

// Load returns the deferred outcome for key. Repeated loads of a key return the
// same *Thunk while it is cached or pending in the open window.
//
// Load never fetches by itself. The key is fetched once its window closes:
// when a thunk of the window is awaited with Get, when the WithWait timer
// fires, when the window reaches WithMaxBatch keys, or on Dispatch. Without
// WithWait, a window nobody awaits or dispatches is never fetched.
func (b *Batcher[K, V]) Load(ctx context.Context, key K) *Thunk[V] {
	if ctx == nil {
		ctx = context.Background()
	}

	b.mu.Lock()
	if b.opts.cache {
		if t, ok := b.cache[key]; ok {
			b.mu.Unlock()
			b.hit(ctx)
			return t
		}
	}

	w := b.open
	if w == nil {
		w = b.openWindow(ctx)
	}
	if i, ok := w.index[key]; ok {
		t := w.thunks[i]
		b.mu.Unlock()
		b.hit(ctx)
		return t
	}

	t := newThunk[V](func() { b.dispatchWindow(w) })
	w.index[key] = len(w.keys)
	w.keys = append(w.keys, key)
	w.thunks = append(w.thunks, t)
	if b.opts.cache {
		b.cache[key] = t
	}

	full := b.opts.maxBatch > 0 && len(w.keys) >= b.opts.maxBatch
	if full {
		b.seal(w)
	}
	b.mu.Unlock()

	if h := b.opts.hooks.OnCacheMiss; h != nil {
		h(ctx)
	}
	if full {
		go b.run(w)
	}
	return t
}

// LoadMany loads every key and returns the thunks index-aligned with keys.
func (b *Batcher[K, V]) LoadMany(ctx context.Context, keys []K) []*Thunk[V] {
	thunks := make([]*Thunk[V], len(keys))
	for i, key := range keys {
		thunks[i] = b.Load(ctx, key)
	}
	return thunks
}

// Dispatch closes the open window, if any, and starts its fetch.
func (b *Batcher[K, V]) Dispatch() {
	b.mu.Lock()
	w := b.open
	b.mu.Unlock()
	if w != nil {
		b.dispatchWindow(w)
	}
}

// Prime stores value for key unless key already has an outcome or is pending.
// It reports whether the value was stored. Priming is a no-op without cache.
func (b *Batcher[K, V]) Prime(key K, value V) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.opts.cache {
		return false
	}
	if _, ok := b.cache[key]; ok {
		return false
	}
	b.cache[key] = Resolved(value)
	return true
}

// Clear forgets the outcome for key. A pending fetch for key still settles the
// thunks already handed out.
func (b *Batcher[K, V]) Clear(key K) {
	b.mu.Lock()
	delete(b.cache, key)
	b.mu.Unlock()
}

// ClearAll forgets every cached outcome.
func (b *Batcher[K, V]) ClearAll() {
	b.mu.Lock()
	b.cache = make(map[K]*Thunk[V])
	b.mu.Unlock()
}

// openWindow must be called with b.mu held.
func (b *Batcher[K, V]) openWindow(ctx context.Context) *window[K, V] {
	w := &window[K, V]{
		ctx:   context.WithoutCancel(ctx),
		index: make(map[K]int),
	}
	if b.opts.wait > 0 {
		w.timer = time.AfterFunc(b.opts.wait, func() { b.dispatchWindow(w) })
	}
	b.open = w
	return w
}

// seal must be called with b.mu held.
func (b *Batcher[K, V]) seal(w *window[K, V]) {
	w.sealed = true
	if b.open == w {
		b.open = nil
	}
	if w.timer != nil {
		w.timer.Stop()
	}
}

func (b *Batcher[K, V]) dispatchWindow(w *window[K, V]) {
	b.mu.Lock()
	if w.sealed {
		b.mu.Unlock()
		return
	}
	b.seal(w)
	b.mu.Unlock()

	go b.run(w)
}

func (b *Batcher[K, V]) run(w *window[K, V]) {
	if len(w.keys) == 0 {
		return
	}

	start := time.Now()
	values, err := b.callFetch(w.ctx, w.keys)
	if err == nil && len(values) != len(w.keys) {
		err = &ContractViolationError{Name: b.opts.name, Keys: len(w.keys), Results: len(values)}
	}
	// Hooks run before settling so observers see the batch before any waiter resumes.
	if err != nil {
		b.opts.logger.WarnContext(w.ctx, "batch fetch failed",
			slog.String("batcher", b.opts.name),
			slog.Int("keys", len(w.keys)),
			slog.String("error", err.Error()),
		)
		if h := b.opts.hooks.OnFailure; h != nil {
			h(w.ctx, len(w.keys), err)
		}
		var zero V
		for _, t := range w.thunks {
			t.settle(zero, err)
		}
		return
	}

	elapsed := time.Since(start)
	b.opts.logger.DebugContext(w.ctx, "batch dispatched",
		slog.String("batcher", b.opts.name),
		slog.Int("keys", len(w.keys)),
		slog.Duration("elapsed", elapsed),
	)
	if h := b.opts.hooks.OnDispatch; h != nil {
		h(w.ctx, len(w.keys), elapsed)
	}
	for i, t := range w.thunks {
		t.settle(values[i], nil)
	}
}

func (b *Batcher[K, V]) callFetch(ctx context.Context, keys []K) (values []V, err error) {
	defer func() {
		if r := recover(); r != nil {
			values = nil
			err = &PanicError{Name: b.opts.name, Value: r, Stack: debug.Stack()}
		}
	}()
	if b.fetch == nil {
		return nil, fmt.Errorf("batcher: %s has no fetch function", b.opts.name)
	}
	return b.fetch(ctx, keys)
}

func (b *Batcher[K, V]) hit(ctx context.Context) {
	if h := b.opts.hooks.OnCacheHit; h != nil {
		h(ctx)
	}
}
