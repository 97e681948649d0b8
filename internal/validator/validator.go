// Package validator checks that payloads are structured CloudEvents.
package validator

import (
	"encoding/json"
	"fmt"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/jittakal/logdispatch/internal/errors"
	"github.com/jittakal/logdispatch/pkg/event"
)

// attributes holds the required context attributes of a JSON CloudEvent.
type attributes struct {
	ID          string `json:"id"`
	Source      string `json:"source"`
	SpecVersion string `json:"specversion"`
	Type        string `json:"type"`
}

// CloudEventsValidator checks the required CloudEvents 1.0 attributes.
type CloudEventsValidator struct{}

// NewCloudEventsValidator creates a new CloudEvents validator.
func NewCloudEventsValidator() *CloudEventsValidator {
	return &CloudEventsValidator{}
}

// Validate decodes payload as a structured-mode JSON CloudEvent. Failures
// are *errors.ValidationError naming the offending attribute.
func (v *CloudEventsValidator) Validate(payload []byte) (*cloudevents.Event, error) {
	var attrs attributes
	if err := json.Unmarshal(payload, &attrs); err != nil {
		return nil, &errors.ValidationError{
			Field:  "payload",
			Reason: fmt.Sprintf("not a JSON object: %v", err),
		}
	}

	required := []struct {
		field string
		value string
	}{
		{"id", attrs.ID},
		{"source", attrs.Source},
		{"specversion", attrs.SpecVersion},
		{"type", attrs.Type},
	}
	for _, r := range required {
		if r.value == "" {
			return nil, &errors.ValidationError{
				EventID: attrs.ID,
				Field:   r.field,
				Reason:  "required field is missing",
			}
		}
	}

	if attrs.SpecVersion != cloudevents.VersionV1 && attrs.SpecVersion != cloudevents.VersionV03 {
		return nil, &errors.ValidationError{
			EventID: attrs.ID,
			Field:   "specversion",
			Reason:  fmt.Sprintf("unsupported version: %s (supported: 0.3, 1.0)", attrs.SpecVersion),
		}
	}

	ce, err := event.DecodeCloudEvent(payload)
	if err != nil {
		return nil, &errors.ValidationError{
			EventID: attrs.ID,
			Field:   "payload",
			Reason:  err.Error(),
		}
	}
	return ce, nil
}
