package chat

import (
	"context"
	"sync"
)

// turnLock is a mutex that hands ownership to waiters in the order they
// queued. Waiting honours context cancellation.
type turnLock struct {
	mu      sync.Mutex
	held    bool
	waiters []chan struct{}
}

func (l *turnLock) acquire(ctx context.Context) error {
	l.mu.Lock()
	if !l.held {
		l.held = true
		l.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	l.waiters = append(l.waiters, ch)
	l.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		for i, w := range l.waiters {
			if w == ch {
				l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
				l.mu.Unlock()
				return ctx.Err()
			}
		}
		l.mu.Unlock()
		// ownership was handed over concurrently with the cancellation
		l.release()
		return ctx.Err()
	}
}

func (l *turnLock) release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.waiters) == 0 {
		l.held = false
		return
	}
	next := l.waiters[0]
	l.waiters = l.waiters[1:]
	close(next)
}
