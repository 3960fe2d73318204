package dispatch

import (
	"context"
	"sync"
)

// aggregateLimiter bounds in-flight deliveries per aggregate type. It is a
// soft cap, not a lock: deliveries for different aggregates proceed freely,
// and within one type at most maxConcurrent run at once.
type aggregateLimiter struct {
	mu            sync.Mutex
	maxConcurrent int
	slots         map[string]chan struct{}
}

func newAggregateLimiter(maxConcurrent int) *aggregateLimiter {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &aggregateLimiter{
		maxConcurrent: maxConcurrent,
		slots:         make(map[string]chan struct{}),
	}
}

// acquire blocks until a slot for the aggregate type is free. Returns the
// release function, or nil if ctx was cancelled while waiting.
func (l *aggregateLimiter) acquire(ctx context.Context, aggregateType string) func() {
	l.mu.Lock()
	sem, ok := l.slots[aggregateType]
	if !ok {
		sem = make(chan struct{}, l.maxConcurrent)
		l.slots[aggregateType] = sem
	}
	l.mu.Unlock()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }
	case <-ctx.Done():
		return nil
	}
}
