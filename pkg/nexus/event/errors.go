package event

import (
	"errors"
	"fmt"
)

// Sentinel errors for publishing and subscribing.
var (
	// ErrInvalidName indicates an event name that cannot be published.
	ErrInvalidName = errors.New("invalid event name")

	// ErrInvalidPattern indicates a subscription pattern that cannot match any name.
	ErrInvalidPattern = errors.New("invalid event pattern")
)

// LogWriteError indicates the event could not be appended to the durable log.
// It is returned to the Publish caller and the event is not dispatched.
type LogWriteError struct {
	// EventID is the id generated for the event that was lost.
	EventID string
	// Name is the event name.
	Name string
	// Err is the underlying append error.
	Err error
}

// Error implements the error interface.
func (e *LogWriteError) Error() string {
	return fmt.Sprintf("append event %s (%s) to log: %v", e.Name, e.EventID, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *LogWriteError) Unwrap() error {
	return e.Err
}

// SubscriberError describes a subscriber that failed during dispatch.
type SubscriberError struct {
	// Pattern is the pattern the subscriber was registered with.
	Pattern string
	// Event is the event being dispatched.
	Event Event
	// Err is the error the handler returned, or nil after a panic.
	Err error
	// Panic is the recovered panic value, if the handler panicked.
	Panic any
}

// Error implements the error interface.
func (e *SubscriberError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("subscriber %q panicked on %s: %v", e.Pattern, e.Event, e.Panic)
	}
	return fmt.Sprintf("subscriber %q failed on %s: %v", e.Pattern, e.Event, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *SubscriberError) Unwrap() error {
	return e.Err
}
