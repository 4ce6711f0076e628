package ldap

import (
	"context"
	"sync"
)

// latch settles once. The first resolve or reject wins; later calls are ignored.
type latch[T any] struct {
	once sync.Once
	done chan struct{}
	val  T
	err  error
}

func newLatch[T any]() *latch[T] {
	return &latch[T]{done: make(chan struct{})}
}

// resolve settles with a value and reports whether this call was the one that settled.
func (l *latch[T]) resolve(v T) bool {
	settled := false
	l.once.Do(func() {
		l.val = v
		close(l.done)
		settled = true
	})
	return settled
}

// reject settles with an error and reports whether this call was the one that settled.
func (l *latch[T]) reject(err error) bool {
	settled := false
	l.once.Do(func() {
		l.err = err
		close(l.done)
		settled = true
	})
	return settled
}

// wait blocks until the latch settles or ctx ends. A ctx ending first settles the
// latch with the context error so a late producer cannot change the outcome.
func (l *latch[T]) wait(ctx context.Context) (T, error) {
	select {
	case <-l.done:
	case <-ctx.Done():
		l.reject(ctx.Err())
		<-l.done
	}
	return l.val, l.err
}
