package notify

import (
	"context"
	"testing"
	"time"

	"github.com/jittakal/logdispatch/pkg/notify"
)

func TestRegistry_SignalAll(t *testing.T) {
	r := NewRegistry()

	var available, consumed int
	unregister := r.Register(notify.DataAvailable, func() { available++ })
	r.Register(notify.DataConsumed, func() { consumed++ })

	r.SignalAll(notify.DataAvailable)
	r.SignalAll(notify.DataAvailable)
	r.SignalAll(notify.DataConsumed)

	if available != 2 {
		t.Errorf("available callbacks = %d, want 2", available)
	}
	if consumed != 1 {
		t.Errorf("consumed callbacks = %d, want 1", consumed)
	}

	unregister()
	unregister()
	r.SignalAll(notify.DataAvailable)
	if available != 2 {
		t.Errorf("available callbacks after unregister = %d, want 2", available)
	}
	if got := r.Count(notify.DataAvailable); got != 0 {
		t.Errorf("Count(DataAvailable) = %d, want 0", got)
	}
	if got := r.Count(notify.DataConsumed); got != 1 {
		t.Errorf("Count(DataConsumed) = %d, want 1", got)
	}
}

func TestRegistry_UnknownSignal(t *testing.T) {
	r := NewRegistry()

	unregister := r.Register(notify.Signal(99), func() { t.Error("unknown signal must not fire") })
	r.SignalAll(notify.Signal(99))
	unregister()
}

func TestWaiter_NotifyWakes(t *testing.T) {
	w := NewWaiter()

	woke := make(chan bool, 1)
	ch := w.C()
	go func() {
		<-ch
		woke <- true
	}()

	w.Notify()

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken")
	}
}

func TestWaiter_WaitTimeout(t *testing.T) {
	w := NewWaiter()

	if w.Wait(context.Background(), 10*time.Millisecond) {
		t.Error("Wait() = true without a notification, want false")
	}
}

func TestWaiter_WaitContextDone(t *testing.T) {
	w := NewWaiter()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if w.Wait(ctx, time.Second) {
		t.Error("Wait() = true with cancelled context, want false")
	}
}
