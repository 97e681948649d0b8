package notify

import (
	"context"
	"sync"
	"time"
)

// Waiter turns callback signals into a channel a consumer loop can select
// on. Each Notify closes the current channel and installs a fresh one, so
// every goroutine that fetched C before the notification wakes up.
type Waiter struct {
	mu    sync.Mutex
	ch    chan struct{}
	armed bool
}

// NewWaiter creates a waiter.
func NewWaiter() *Waiter {
	return &Waiter{ch: make(chan struct{})}
}

// C returns the channel closed by the next Notify. Fetch it before checking
// for work to avoid missing a wake-up.
func (w *Waiter) C() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.armed = true
	return w.ch
}

// Notify wakes all current waiters. It never blocks and is safe to register
// as a notify.Callback. Without a fetched channel it does nothing.
func (w *Waiter) Notify() {
	w.mu.Lock()
	if w.armed {
		close(w.ch)
		w.ch = make(chan struct{})
		w.armed = false
	}
	w.mu.Unlock()
}

// Wait blocks until the next Notify, the timeout, or ctx is done. It returns
// true when woken by Notify.
func (w *Waiter) Wait(ctx context.Context, timeout time.Duration) bool {
	ch := w.C()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
