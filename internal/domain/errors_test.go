package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestEngineError(t *testing.T) {
	tests := []struct {
		name     string
		err      *EngineError
		code     string
		sentinel error
	}{
		{
			name:     "Invalid cohort schema",
			err:      NewInvalidCohortSchema("missing BEN_RNG_GEM column"),
			code:     ErrCodeInvalidCohortSchema,
			sentinel: ErrInvalidCohortSchema,
		},
		{
			name:     "Invalid code set",
			err:      NewInvalidCodeSet("code set is empty"),
			code:     ErrCodeInvalidCodeSet,
			sentinel: ErrInvalidCodeSet,
		},
		{
			name:     "Invalid date range",
			err:      NewInvalidDateRange("end before start"),
			code:     ErrCodeInvalidDateRange,
			sentinel: ErrInvalidDateRange,
		},
		{
			name:     "Record store failure",
			err:      NewRecordStoreFailure("PROCEDURE query", fmt.Errorf("connection reset")),
			code:     ErrCodeRecordStoreFailure,
			sentinel: ErrRecordStoreFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Expected code %s, got %s", tt.code, tt.err.Code)
			}

			// Check that timestamp is recent (within last minute)
			if time.Since(tt.err.Timestamp) > time.Minute {
				t.Errorf("Timestamp should be recent, got %v", tt.err.Timestamp)
			}

			wrapped := fmt.Errorf("classifying setting: %w", tt.err)
			if !errors.Is(wrapped, tt.sentinel) {
				t.Errorf("Expected wrapped error to match sentinel %s", tt.code)
			}

			for _, other := range []error{ErrInvalidCohortSchema, ErrInvalidCodeSet, ErrInvalidDateRange, ErrRecordStoreFailure} {
				if other != tt.sentinel && errors.Is(tt.err, other) {
					t.Errorf("Error %s should not match %v", tt.code, other)
				}
			}
		})
	}
}

func TestEngineErrorUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewRecordStoreFailure("DIAGNOSIS query", cause)

	if !errors.Is(err, cause) {
		t.Error("Expected record store failure to unwrap to its cause")
	}

	expected := "RECORD_STORE_FAILURE: record store failure: DIAGNOSIS query"
	if err.Error() != expected {
		t.Errorf("Expected error string %q, got %q", expected, err.Error())
	}
}

func TestValidationError(t *testing.T) {
	tests := []struct {
		name    string
		field   string
		message string
		value   interface{}
	}{
		{
			name:    "String validation error",
			field:   "from",
			message: "unparseable date",
			value:   "2020-13-45",
		},
		{
			name:    "Integer validation error",
			field:   "ben_rng_gem",
			message: "must be a positive integer",
			value:   -1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewValidationError(tt.field, tt.message, tt.value)

			if err.Field != tt.field {
				t.Errorf("Expected field %s, got %s", tt.field, err.Field)
			}

			expectedError := "validation error for field '" + tt.field + "': " + tt.message
			if err.Error() != expectedError {
				t.Errorf("Expected error string %s, got %s", expectedError, err.Error())
			}
		})
	}
}
