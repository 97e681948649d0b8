// Package scheduler defines the cooperative task scheduling service the
// dispatcher runs its upkeep on.
package scheduler

import "time"

// Task is a unit of work. Tasks submitted to one Scheduler never run
// concurrently with each other.
type Task func()

// Scheduler runs tasks serially.
type Scheduler interface {
	// SubmitPeriodic runs task every interval until cancel is called.
	SubmitPeriodic(name string, interval time.Duration, task Task) (cancel func())

	// Run schedules task to run once as soon as possible. It never blocks.
	Run(task Task)
}
