// Package cursor implements the monotonic 64-bit position counter shared by
// the publisher and every subscription.
package cursor

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// Invalid is the value a cursor holds after Reset.
const Invalid int64 = -1

// Cursor is a padded atomic int64 that only moves forward through
// ProposeMaxOrdered. Set and Reset are for initialisation and teardown.
type Cursor struct {
	_     cpu.CacheLinePad
	value atomic.Int64
	_     cpu.CacheLinePad
}

// New creates a cursor holding initial.
func New(initial int64) *Cursor {
	c := &Cursor{}
	c.value.Store(initial)
	return c
}

// Get returns the current value.
func (c *Cursor) Get() int64 {
	return c.value.Load()
}

// Set stores v unconditionally.
func (c *Cursor) Set(v int64) {
	c.value.Store(v)
}

// Reset stores Invalid.
func (c *Cursor) Reset() {
	c.value.Store(Invalid)
}

// ProposeMaxOrdered raises the cursor to v if v is greater than the current
// value. It reports whether the cursor was updated.
func (c *Cursor) ProposeMaxOrdered(v int64) bool {
	for {
		current := c.value.Load()
		if v <= current {
			return false
		}
		if c.value.CompareAndSwap(current, v) {
			return true
		}
	}
}
