package daemon

import (
	"sync"
	"time"
)

// cancellableTimer wraps time.Timer the way wireguard-go's own Timer type
// does: Stop/Reset are mutex-guarded so a cancellation racing the
// timer's own fire is safe, and Stop drains the channel so a stale fire
// from before cancellation never resurfaces.
type cancellableTimer struct {
	mu    sync.Mutex
	timer *time.Timer
}

func newCancellableTimer() *cancellableTimer {
	t := time.NewTimer(time.Hour)
	t.Stop()
	return &cancellableTimer{timer: t}
}

// Reset (re)arms the timer to fire after d, draining any pending fire
// first so at most one signal is ever pending.
func (t *cancellableTimer) Reset(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.timer.Stop() {
		select {
		case <-t.timer.C:
		default:
		}
	}
	t.timer.Reset(d)
}

// Stop disarms the timer and drains any pending fire, the same as Reset,
// so a call to C() after Stop never observes a stale signal from before
// cancellation.
func (t *cancellableTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.timer.Stop() {
		select {
		case <-t.timer.C:
		default:
		}
	}
}

func (t *cancellableTimer) C() <-chan time.Time {
	return t.timer.C
}
