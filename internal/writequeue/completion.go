package writequeue

import "context"

// Completion is the handle a caller holds for one queued operation. It is
// resolved exactly once, when the operation (or the write that superseded
// it) has reached disk or failed.
type Completion[T any] struct {
	done chan struct{}
	val  T
	err  error
}

func newCompletion[T any]() *Completion[T] {
	return &Completion[T]{done: make(chan struct{})}
}

// Resolved returns a Completion that is already done.
func Resolved[T any](val T, err error) *Completion[T] {
	c := newCompletion[T]()
	c.resolve(val, err)
	return c
}

func (c *Completion[T]) resolve(val T, err error) {
	c.val = val
	c.err = err
	close(c.done)
}

// Done is closed once the result is available.
func (c *Completion[T]) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the operation resolves or ctx is done. Giving up on
// ctx does not cancel the queued operation.
func (c *Completion[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-c.done:
		return c.val, c.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Then returns a Completion that resolves once c does, with fn applied to
// the value of c. A failure of c passes through with the zero value.
func Then[T, U any](c *Completion[T], fn func(T) U) *Completion[U] {
	out := newCompletion[U]()
	finish := func() {
		var val U
		if c.err == nil {
			val = fn(c.val)
		}
		out.resolve(val, c.err)
	}

	select {
	case <-c.done:
		finish()
	default:
		go func() {
			<-c.done
			finish()
		}()
	}
	return out
}
