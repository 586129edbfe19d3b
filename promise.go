package dispatcher

import (
	"context"
	"sync/atomic"
)

// Future read side of a unit completion sink
type Future interface {
	// Wait blocks until the sink is signaled or ctx is done
	Wait(ctx context.Context) error
	// Done closed once the sink is signaled
	Done() <-chan struct{}
	// Err the signaled outcome, nil while pending
	Err() error
}

// Promise one-shot completion sink
type Promise interface {
	Future
	// Notify signal the outcome, only the first call takes effect
	Notify(err error) bool
}

type _Promise struct {
	notified uint32        // notified flag
	done     chan struct{} // closed on notify
	err      error         // outcome
}

// NewPromise .
func NewPromise() Promise {
	return &_Promise{
		done: make(chan struct{}),
	}
}

func (promise *_Promise) Notify(err error) bool {
	if !atomic.CompareAndSwapUint32(&promise.notified, 0, 1) {
		return false
	}

	promise.err = err

	close(promise.done)

	return true
}

func (promise *_Promise) Wait(ctx context.Context) error {
	select {
	case <-promise.done:
		return promise.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (promise *_Promise) Done() <-chan struct{} {
	return promise.done
}

func (promise *_Promise) Err() error {
	select {
	case <-promise.done:
		return promise.err
	default:
		return nil
	}
}
