package scheduler

import (
	"sync"
	"time"

	"github.com/jittakal/logdispatch/pkg/scheduler"
)

type manualPeriodic struct {
	name     string
	interval time.Duration
	task     scheduler.Task
}

// Manual is a scheduler driven by the caller. Nothing runs until RunPending
// or Tick is called, which makes upkeep deterministic in tests and tools.
type Manual struct {
	mu       sync.Mutex
	queue    []scheduler.Task
	periodic []*manualPeriodic
}

// NewManual creates a manual scheduler.
func NewManual() *Manual {
	return &Manual{}
}

// Run queues task.
func (m *Manual) Run(task scheduler.Task) {
	m.mu.Lock()
	m.queue = append(m.queue, task)
	m.mu.Unlock()
}

// SubmitPeriodic registers task; it runs on every Tick.
func (m *Manual) SubmitPeriodic(name string, interval time.Duration, task scheduler.Task) func() {
	p := &manualPeriodic{name: name, interval: interval, task: task}

	m.mu.Lock()
	m.periodic = append(m.periodic, p)
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, existing := range m.periodic {
			if existing == p {
				m.periodic = append(m.periodic[:i], m.periodic[i+1:]...)
				return
			}
		}
	}
}

// RunPending runs queued tasks, including tasks they queue, until the queue
// is empty. It returns the number of tasks run.
func (m *Manual) RunPending() int {
	ran := 0
	for {
		m.mu.Lock()
		tasks := m.queue
		m.queue = nil
		m.mu.Unlock()

		if len(tasks) == 0 {
			return ran
		}
		for _, task := range tasks {
			task()
			ran++
		}
	}
}

// Tick runs every periodic task once, then the pending queue.
func (m *Manual) Tick() int {
	m.mu.Lock()
	periodic := make([]*manualPeriodic, len(m.periodic))
	copy(periodic, m.periodic)
	m.mu.Unlock()

	for _, p := range periodic {
		p.task()
	}
	return len(periodic) + m.RunPending()
}

// Pending returns the number of queued tasks.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// PeriodicCount returns the number of registered periodic tasks.
func (m *Manual) PeriodicCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.periodic)
}
