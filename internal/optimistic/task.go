package optimistic

import "context"

// Task is the handle of an issued operation. It settles once the remote call
// and the reconciling refresh have both finished.
type Task[T any] struct {
	done  chan struct{}
	value T
	err   error
}

func newTask[T any]() *Task[T] {
	return &Task[T]{done: make(chan struct{})}
}

func failedTask[T any](err error) *Task[T] {
	t := newTask[T]()
	t.settle(*new(T), err)
	return t
}

func (t *Task[T]) settle(v T, err error) {
	t.value = v
	t.err = err
	close(t.done)
}

// Done is closed when the task settles.
func (t *Task[T]) Done() <-chan struct{} { return t.done }

// Wait blocks until the task settles or ctx ends. A ctx error does not
// abort the underlying operation.
func (t *Task[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-t.done:
		return t.value, t.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Err returns the settled error, or nil while the task is still running.
func (t *Task[T]) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}
