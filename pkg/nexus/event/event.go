package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event is an immutable record of something that happened.
// The JSON form is the line format of the durable event log.
type Event struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// newEvent stamps a new event with a UUID and the current UTC time.
func newEvent(name string, payload any, now time.Time) Event {
	return Event{
		ID:        uuid.New().String(),
		Name:      name,
		Payload:   payload,
		Timestamp: now.UTC(),
	}
}

// DecodePayload converts the payload into v.
//
// The payload may be the value originally published (in-process delivery)
// or generic JSON (map[string]any, []any, ...) when the event was read back
// from a log, so both are normalized through JSON.
func (e Event) DecodePayload(v any) error {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload of %s: %w", e.Name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode payload of %s: %w", e.Name, err)
	}
	return nil
}

// String returns a short human readable form.
func (e Event) String() string {
	return fmt.Sprintf("%s[%s]", e.Name, e.ID)
}

// ValidateName reports whether name can be published.
// Names are non-empty dot-delimited segments; "*" is reserved for patterns.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidName)
	}
	for _, seg := range strings.Split(name, Delimiter) {
		if seg == "" {
			return fmt.Errorf("%w: empty segment in %q", ErrInvalidName, name)
		}
		if seg == Wildcard {
			return fmt.Errorf("%w: wildcard in %q", ErrInvalidName, name)
		}
	}
	return nil
}
