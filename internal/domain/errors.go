package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for case setup and runtime input validation.
var (
	ErrDrugNotConfigured = errors.New("drug has no clinical parameter entry")
	ErrMissingSection    = errors.New("required configuration section is missing")
	ErrImplausibleVitals = errors.New("reading outside physiological range")
	ErrCaseNotFound      = errors.New("case not found")
	ErrVitalsUnavailable = errors.New("vitals reading unavailable")
)

// ParameterError describes an invalid or incomplete clinical parameter
// entry. These are fatal at case setup: the loop must never start with a
// partial table and discover the gap at tick time.
type ParameterError struct {
	Section string `json:"section"`
	Drug    string `json:"drug,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ParameterError) Error() string {
	if e.Drug != "" {
		return fmt.Sprintf("clinical parameters: %s[%s].%s: %s", e.Section, e.Drug, e.Field, e.Message)
	}
	if e.Field != "" {
		return fmt.Sprintf("clinical parameters: %s.%s: %s", e.Section, e.Field, e.Message)
	}
	return fmt.Sprintf("clinical parameters: %s: %s", e.Section, e.Message)
}

// NewParameterError creates a ParameterError for a per-drug field.
func NewParameterError(section, drug, field, message string) *ParameterError {
	return &ParameterError{Section: section, Drug: drug, Field: field, Message: message}
}
