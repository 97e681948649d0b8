package validator

import (
	"errors"
	"testing"

	apperrors "github.com/jittakal/logdispatch/internal/errors"
)

func TestCloudEventsValidator_ValidateSuccess(t *testing.T) {
	validator := NewCloudEventsValidator()

	tests := []struct {
		name    string
		payload string
	}{
		{
			name:    "valid 1.0 event",
			payload: `{"specversion":"1.0","id":"test-id","source":"test-source","type":"test.event"}`,
		},
		{
			name:    "valid event with data",
			payload: `{"specversion":"1.0","id":"test-id","source":"test-source","type":"test.event","datacontenttype":"application/json","data":{"test":"data"}}`,
		},
		{
			name:    "valid 0.3 event",
			payload: `{"specversion":"0.3","id":"test-id","source":"test-source","type":"test.event"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce, err := validator.Validate([]byte(tt.payload))
			if err != nil {
				t.Fatalf("Validate() error = %v, want nil", err)
			}
			if ce.ID() != "test-id" {
				t.Errorf("ID() = %q, want test-id", ce.ID())
			}
		})
	}
}

func TestCloudEventsValidator_ValidateFailure(t *testing.T) {
	validator := NewCloudEventsValidator()

	tests := []struct {
		name      string
		payload   string
		wantField string
	}{
		{"not json", `plain text`, "payload"},
		{"missing id", `{"specversion":"1.0","source":"s","type":"t"}`, "id"},
		{"missing source", `{"specversion":"1.0","id":"i","type":"t"}`, "source"},
		{"missing specversion", `{"id":"i","source":"s","type":"t"}`, "specversion"},
		{"missing type", `{"specversion":"1.0","id":"i","source":"s"}`, "type"},
		{"unsupported version", `{"specversion":"2.0","id":"i","source":"s","type":"t"}`, "specversion"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := validator.Validate([]byte(tt.payload))
			var validationErr *apperrors.ValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("Validate() error = %v, want *ValidationError", err)
			}
			if validationErr.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", validationErr.Field, tt.wantField)
			}
		})
	}
}
