package domain

import (
	"errors"
	"fmt"
	"time"
)

// EngineError represents a coded engine failure
type EngineError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
	Err       error     `json:"-"`
}

// Error implements the error interface
func (e *EngineError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel carrying the same code
func (e *EngineError) Is(target error) bool {
	var t *EngineError
	if errors.As(target, &t) {
		return t.Code == e.Code && t.Message == "" && t.Details == ""
	}
	return false
}

// Error codes for different failure scenarios
const (
	ErrCodeInvalidCohortSchema = "INVALID_COHORT_SCHEMA"
	ErrCodeInvalidCodeSet      = "INVALID_CODE_SET"
	ErrCodeInvalidDateRange    = "INVALID_DATE_RANGE"
	ErrCodeRecordStoreFailure  = "RECORD_STORE_FAILURE"
	ErrCodeInvalidInput        = "INVALID_INPUT"
	ErrCodeDatabaseError       = "DATABASE_ERROR"
	ErrCodeInternal            = "INTERNAL_SERVER_ERROR"
)

// Sentinels for errors.Is checks
var (
	ErrInvalidCohortSchema = &EngineError{Code: ErrCodeInvalidCohortSchema}
	ErrInvalidCodeSet      = &EngineError{Code: ErrCodeInvalidCodeSet}
	ErrInvalidDateRange    = &EngineError{Code: ErrCodeInvalidDateRange}
	ErrRecordStoreFailure  = &EngineError{Code: ErrCodeRecordStoreFailure}
)

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewEngineError creates a new EngineError with timestamp
func NewEngineError(code, message, details string, cause error) *EngineError {
	return &EngineError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		Err:       cause,
	}
}

// NewInvalidCohortSchema reports a cohort lacking the required identity columns.
func NewInvalidCohortSchema(details string) *EngineError {
	return NewEngineError(ErrCodeInvalidCohortSchema, "invalid cohort schema", details, nil)
}

// NewInvalidCodeSet reports a code set that is empty or not type-keyed.
func NewInvalidCodeSet(details string) *EngineError {
	return NewEngineError(ErrCodeInvalidCodeSet, "invalid code set", details, nil)
}

// NewInvalidDateRange reports a missing or malformed date range.
func NewInvalidDateRange(details string) *EngineError {
	return NewEngineError(ErrCodeInvalidDateRange, "invalid date range", details, nil)
}

// NewRecordStoreFailure wraps an adapter error.
func NewRecordStoreFailure(details string, cause error) *EngineError {
	return NewEngineError(ErrCodeRecordStoreFailure, "record store failure", details, cause)
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}
