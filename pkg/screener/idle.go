package screener

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// idleTracker counts in-flight requests and waits for a quiet window.
type idleTracker struct {
	mu       sync.Mutex
	inflight map[string]struct{}
	changed  chan struct{}
}

func newIdleTracker() *idleTracker {
	return &idleTracker{
		inflight: make(map[string]struct{}),
		changed:  make(chan struct{}, 1),
	}
}

// started records a request. Redirects reuse the id and are counted once.
func (t *idleTracker) started(id string) {
	t.mu.Lock()
	t.inflight[id] = struct{}{}
	t.mu.Unlock()
	t.notify()
}

func (t *idleTracker) finished(id string) {
	t.mu.Lock()
	_, ok := t.inflight[id]
	delete(t.inflight, id)
	t.mu.Unlock()
	if ok {
		t.notify()
	}
}

func (t *idleTracker) pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight)
}

func (t *idleTracker) notify() {
	select {
	case t.changed <- struct{}{}:
	default:
	}
}

// wait returns nil once nothing has been in flight for idle, or ctx's error.
func (t *idleTracker) wait(ctx context.Context, idle time.Duration) error {
	for {
		if t.pending() > 0 {
			select {
			case <-t.changed:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		timer := time.NewTimer(idle)
		select {
		case <-timer.C:
			if t.pending() == 0 {
				return nil
			}
		case <-t.changed:
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// waitIdle bounds wait by timeout. It returns ctx's error when the caller gave
// up and ErrIdleTimeout when the page never went quiet.
func (t *idleTracker) waitIdle(ctx context.Context, idle, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := t.wait(waitCtx, idle)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("%w (%d requests still in flight)", ErrIdleTimeout, t.pending())
}
