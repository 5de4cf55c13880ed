package client

import "context"

// Pending is the handle of a call running in its own goroutine.
type Pending[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Go runs fn in a new goroutine and returns its handle. Cancelling ctx is
// up to fn to observe; the handle itself never abandons fn.
func Go[T any](ctx context.Context, fn func(context.Context) (T, error)) *Pending[T] {
	p := &Pending[T]{done: make(chan struct{})}
	go func() {
		defer close(p.done)
		p.val, p.err = fn(ctx)
	}()
	return p
}

// Done is closed once the call has returned.
func (p *Pending[T]) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the call returns or ctx is done, whichever is first.
func (p *Pending[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-p.done:
		return p.val, p.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
