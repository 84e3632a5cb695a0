package batcher

import "context"

// Thunk is a deferred outcome of a Load. It settles exactly once.
type Thunk[V any] struct {
	done    chan struct{}
	value   V
	err     error
	trigger func()
}

func newThunk[V any](trigger func()) *Thunk[V] {
	return &Thunk[V]{
		done:    make(chan struct{}),
		trigger: trigger,
	}
}

// Resolved returns a thunk already settled with value.
func Resolved[V any](value V) *Thunk[V] {
	t := newThunk[V](nil)
	t.settle(value, nil)
	return t
}

// Failed returns a thunk already settled with err.
func Failed[V any](err error) *Thunk[V] {
	t := newThunk[V](nil)
	var zero V
	t.settle(zero, err)
	return t
}

func (t *Thunk[V]) settle(value V, err error) {
	t.value = value
	t.err = err
	close(t.done)
}

// Done is closed once the thunk settled.
func (t *Thunk[V]) Done() <-chan struct{} {
	return t.done
}

// Get closes the thunk's window if it is still open and waits for the outcome.
// Cancelling ctx stops the wait only; the fetch still runs and settles the
// thunk for other callers.
func (t *Thunk[V]) Get(ctx context.Context) (V, error) {
	select {
	case <-t.done:
		return t.value, t.err
	default:
	}

	if t.trigger != nil {
		t.trigger()
	}

	if ctx == nil {
		<-t.done
		return t.value, t.err
	}
	select {
	case <-t.done:
		return t.value, t.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// GetAll waits for every thunk and returns values and errors index-aligned.
func GetAll[V any](ctx context.Context, thunks []*Thunk[V]) ([]V, []error) {
	values := make([]V, len(thunks))
	errs := make([]error, len(thunks))
	for _, t := range thunks {
		// Close every window before blocking on the first one.
		if t.trigger != nil {
			select {
			case <-t.done:
			default:
				t.trigger()
			}
		}
	}
	for i, t := range thunks {
		values[i], errs[i] = t.Get(ctx)
	}
	return values, errs
}
