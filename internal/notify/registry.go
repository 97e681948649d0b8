// Package notify implements the signal/callback registry and a channel based
// waiter for consumer loops.
package notify

import (
	"sync"
	"sync/atomic"

	"github.com/jittakal/logdispatch/pkg/notify"
)

// Ensure implementation satisfies interface at compile time.
var _ notify.Registry = (*Registry)(nil)

const signalCount = int(notify.DataConsumed) + 1

type entry struct {
	id uint64
	cb notify.Callback
}

// Registry keeps an immutable callback list per signal so SignalAll neither
// locks nor allocates. Register and unregister replace the list.
type Registry struct {
	mu     sync.Mutex
	nextID uint64
	lists  [signalCount]atomic.Pointer[[]entry]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) list(sig notify.Signal) *atomic.Pointer[[]entry] {
	if sig < 0 || int(sig) >= signalCount {
		return nil
	}
	return &r.lists[sig]
}

// Register adds cb for sig and returns a function removing it. Registering
// an unknown signal is a no-op.
func (r *Registry) Register(sig notify.Signal, cb notify.Callback) func() {
	list := r.list(sig)
	if list == nil || cb == nil {
		return func() {}
	}

	r.mu.Lock()
	r.nextID++
	id := r.nextID
	var current []entry
	if p := list.Load(); p != nil {
		current = *p
	}
	updated := make([]entry, len(current), len(current)+1)
	copy(updated, current)
	updated = append(updated, entry{id: id, cb: cb})
	list.Store(&updated)
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(list, id) })
	}
}

func (r *Registry) remove(list *atomic.Pointer[[]entry], id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := list.Load()
	if p == nil {
		return
	}
	updated := make([]entry, 0, len(*p))
	for _, e := range *p {
		if e.id != id {
			updated = append(updated, e)
		}
	}
	list.Store(&updated)
}

// SignalAll invokes every callback registered for sig on the calling goroutine.
func (r *Registry) SignalAll(sig notify.Signal) {
	list := r.list(sig)
	if list == nil {
		return
	}
	if p := list.Load(); p != nil {
		for _, e := range *p {
			e.cb()
		}
	}
}

// Count returns the number of callbacks registered for sig.
func (r *Registry) Count(sig notify.Signal) int {
	list := r.list(sig)
	if list == nil {
		return 0
	}
	if p := list.Load(); p != nil {
		return len(*p)
	}
	return 0
}
