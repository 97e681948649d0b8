// Package notify defines the condition/callback registry used to wake
// consumers when data is published and the dispatcher when data is consumed.
package notify

// Signal identifies a condition.
type Signal int

const (
	// DataAvailable fires after a fragment is claimed or committed.
	DataAvailable Signal = iota
	// DataConsumed fires after a subscription moved its position.
	DataConsumed
)

// String returns the signal name.
func (s Signal) String() string {
	switch s {
	case DataAvailable:
		return "data_available"
	case DataConsumed:
		return "data_consumed"
	default:
		return "unknown"
	}
}

// Callback is invoked on the signalling goroutine and must not block.
type Callback func()

// Registry registers callbacks and signals them.
type Registry interface {
	// Register adds cb for sig. The returned function removes it.
	Register(sig Signal, cb Callback) (unregister func())

	// SignalAll invokes every callback registered for sig.
	SignalAll(sig Signal)
}
