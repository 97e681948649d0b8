// Package fragment defines the consumer-side contract for reading fragments
// from a dispatcher subscription.
package fragment

// Result tells the scan loop what to do with a fragment.
type Result int

const (
	// Consume advances past the fragment.
	Consume Result = iota
	// Failed advances past the fragment and sets its sticky failed flag.
	Failed
	// Postpone stops a handler-controlled scan before the fragment.
	// Plain polls treat it as Consume.
	Postpone
)

// String returns the lower-case result name used in logs and metric labels.
func (r Result) String() string {
	switch r {
	case Consume:
		return "consume"
	case Failed:
		return "failed"
	case Postpone:
		return "postpone"
	default:
		return "unknown"
	}
}

// Fragment is a view of one committed frame. Payload aliases the shared
// buffer and is only valid for the duration of the handler call.
type Fragment struct {
	Payload  []byte
	StreamID int32
	// Position is the position just past the fragment.
	Position int64
	// Failed reports whether a reader marked the fragment as failed before.
	Failed bool
}

// Handler receives fragments from a subscription.
type Handler interface {
	OnFragment(f Fragment) Result
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(f Fragment) Result

// OnFragment calls fn(f).
func (fn HandlerFunc) OnFragment(f Fragment) Result {
	return fn(f)
}
