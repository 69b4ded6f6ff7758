// Package lock provides keyed mutual exclusion with bounded waits.
package lock

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"
)

// ErrNotAcquired is returned when a key could not be locked before the wait
// budget ran out.
var ErrNotAcquired = errors.New("lock not acquired")

type Release func()

type Locker interface {
	// Acquire locks every key, in sorted order, or none of them.
	Acquire(ctx context.Context, keys []string, wait time.Duration) (Release, error)
}

// Nop never blocks. It is the service-level default when no distributed lock
// backend is configured; stores still do their own locking.
type Nop struct{}

func (Nop) Acquire(_ context.Context, _ []string, _ time.Duration) (Release, error) {
	return func() {}, nil
}

// Local is an in-process keyed lock. Each key is a one-slot channel so a
// waiter can give up on timeout, which sync.Mutex does not allow.
type Local struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewLocal() *Local {
	return &Local{slots: make(map[string]chan struct{})}
}

func (l *Local) Acquire(ctx context.Context, keys []string, wait time.Duration) (Release, error) {
	keys = normalizeKeys(keys)
	if wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wait)
		defer cancel()
	}

	held := make([]chan struct{}, 0, len(keys))
	releaseHeld := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i]
		}
	}

	for _, key := range keys {
		slot := l.slot(key)
		select {
		case slot <- struct{}{}:
			held = append(held, slot)
		case <-ctx.Done():
			releaseHeld()
			return nil, ErrNotAcquired
		}
	}

	var once sync.Once
	return func() { once.Do(releaseHeld) }, nil
}

func (l *Local) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot, ok := l.slots[key]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[key] = slot
	}
	return slot
}

// normalizeKeys sorts and dedupes so every caller locks in the same order.
func normalizeKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		if key != "" {
			out = append(out, key)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
