// Package scheduler implements the cooperative task scheduling service.
package scheduler

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/jittakal/logdispatch/pkg/scheduler"
)

// Ensure implementations satisfy interface at compile time.
var (
	_ scheduler.Scheduler = (*Actor)(nil)
	_ scheduler.Scheduler = (*Manual)(nil)
)

// Actor runs every task on one goroutine, in submission order. Periodic
// tasks are enqueued by their own tickers and coalesce: a periodic task that
// is still queued is not queued again.
type Actor struct {
	name   string
	logger *zap.Logger

	mu     sync.Mutex
	queue  []scheduler.Task
	closed bool

	wake    chan struct{}
	done    chan struct{}
	loopWG  sync.WaitGroup
	tickWG  sync.WaitGroup
	stopped atomic.Bool
}

// NewActor starts an actor goroutine.
func NewActor(name string, logger *zap.Logger) *Actor {
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &Actor{
		name:   name,
		logger: logger.With(zap.String("actor", name)),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	a.loopWG.Add(1)
	go a.loop()
	return a
}

// Run enqueues task. Tasks submitted after Close are dropped.
func (a *Actor) Run(task scheduler.Task) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.queue = append(a.queue, task)
	a.mu.Unlock()

	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// SubmitPeriodic runs task every interval until cancel is called or the
// actor is closed.
func (a *Actor) SubmitPeriodic(name string, interval time.Duration, task scheduler.Task) func() {
	stop := make(chan struct{})
	var pending atomic.Bool

	run := func() {
		pending.Store(false)
		task()
	}

	a.tickWG.Add(1)
	go func() {
		defer a.tickWG.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if pending.CompareAndSwap(false, true) {
					a.Run(run)
				}
			case <-stop:
				return
			case <-a.done:
				return
			}
		}
	}()

	a.logger.Debug("periodic task submitted",
		zap.String("task", name),
		zap.Duration("interval", interval),
	)

	var once sync.Once
	return func() {
		once.Do(func() { close(stop) })
	}
}

func (a *Actor) loop() {
	defer a.loopWG.Done()

	for {
		select {
		case <-a.wake:
			a.drain()
		case <-a.done:
			a.drain()
			return
		}
	}
}

func (a *Actor) drain() {
	for {
		a.mu.Lock()
		if len(a.queue) == 0 {
			a.mu.Unlock()
			return
		}
		tasks := a.queue
		a.queue = nil
		a.mu.Unlock()

		for _, task := range tasks {
			a.execute(task)
		}
	}
}

func (a *Actor) execute(task scheduler.Task) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("task panicked", zap.Any("panic", r))
		}
	}()
	task()
}

// Close stops the tickers, runs the tasks already queued, and stops the
// actor goroutine.
func (a *Actor) Close() error {
	if !a.stopped.CompareAndSwap(false, true) {
		return nil
	}

	close(a.done)
	a.tickWG.Wait()

	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	a.loopWG.Wait()
	a.logger.Debug("actor closed")
	return nil
}
