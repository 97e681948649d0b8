// Package errors defines application-specific error types and sentinel errors.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for programmer errors and terminal states.
var (
	ErrFragmentTooLarge      = errors.New("fragment length exceeds max fragment length")
	ErrDuplicateSubscription = errors.New("subscription name already registered")
	ErrSubscriptionNotFound  = errors.New("subscription not found")
	ErrDispatcherClosed      = errors.New("dispatcher is closed")
	ErrSubscriptionClosed    = errors.New("subscription is closed")
	ErrSchedulerRequired     = errors.New("scheduler is required")
	ErrInvalidConfig         = errors.New("invalid configuration")
	ErrPartitionFull         = errors.New("partition is full")
	ErrBatchExhausted        = errors.New("fragment batch is exhausted")
	ErrClaimNotOpen          = errors.New("claim is not open")
	ErrClaimInUse            = errors.New("claim handle is already open")
	ErrBufferFull            = errors.New("buffer is full")
	ErrWriterClosed          = errors.New("storage writer is closed")
	ErrConnectionLost        = errors.New("connection lost")
	ErrClientClosed          = errors.New("kafka client is closed")
)

// ClaimError represents a rejected claim on a dispatcher.
type ClaimError struct {
	Dispatcher string
	Length     int
	Err        error
}

func (e *ClaimError) Error() string {
	return fmt.Sprintf("claim error: dispatcher=%s length=%d: %v",
		e.Dispatcher, e.Length, e.Err)
}

func (e *ClaimError) Unwrap() error {
	return e.Err
}

// SubscriptionError represents a failed subscription registry operation.
type SubscriptionError struct {
	Dispatcher string
	Name       string
	Err        error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscription error: dispatcher=%s name=%s: %v",
		e.Dispatcher, e.Name, e.Err)
}

func (e *SubscriptionError) Unwrap() error {
	return e.Err
}

// ValidationError represents a payload that is not a valid CloudEvent.
type ValidationError struct {
	EventID string
	Field   string
	Reason  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: event_id=%s field=%s: %s",
		e.EventID, e.Field, e.Reason)
}

// StorageError represents a storage operation failure.
type StorageError struct {
	Operation string
	Path      string
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: operation=%s path=%s: %v",
		e.Operation, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// PublishError represents a failed hand-off of a fragment to Kafka.
type PublishError struct {
	Topic    string
	Position int64
	Err      error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish error: topic=%s position=%d: %v",
		e.Topic, e.Position, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// Retryable defines an interface for errors that can indicate if they are retryable.
type Retryable interface {
	error
	IsRetryable() bool
}

// IsRetryable checks if an error is retryable.
// It first checks if the error implements the Retryable interface,
// then falls back to checking specific error types and sentinel errors.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var retryable Retryable
	if errors.As(err, &retryable) {
		return retryable.IsRetryable()
	}

	if errors.Is(err, ErrConnectionLost) || errors.Is(err, ErrBufferFull) {
		return true
	}

	return false
}

// IsRetryable determines if a StorageError is retryable based on the operation type.
func (e *StorageError) IsRetryable() bool {
	return e.Operation == "write" || e.Operation == "upload" || e.Operation == "create"
}

// IsRetryable reports whether the broker rejection may clear up on its own.
func (e *PublishError) IsRetryable() bool {
	return !errors.Is(e.Err, ErrFragmentTooLarge)
}

// IsRetryable is false: claim errors are programmer errors or terminal states.
func (e *ClaimError) IsRetryable() bool {
	return false
}
