package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// ValidationError represents a structured validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors collects multiple field errors.
type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (ve *ValidationErrors) Add(field, message string) {
	ve.Errors = append(ve.Errors, ValidationError{Field: field, Message: message})
}

func (ve *ValidationErrors) HasErrors() bool {
	return len(ve.Errors) > 0
}

func (ve *ValidationErrors) Error() string {
	msgs := make([]string, len(ve.Errors))
	for i, e := range ve.Errors {
		msgs[i] = e.Field + ": " + e.Message
	}
	return strings.Join(msgs, "; ")
}

// Has reports whether field has at least one error.
func (ve *ValidationErrors) Has(field string) bool {
	for _, e := range ve.Errors {
		if e.Field == field {
			return true
		}
	}
	return false
}

// RequireField checks a required string field is non-empty.
func RequireField(ve *ValidationErrors, field, value string) {
	if strings.TrimSpace(value) == "" {
		ve.Add(field, "is required")
	}
}

// ValidateEnum checks a field is one of allowed values.
func ValidateEnum(ve *ValidationErrors, field, value string, allowed []string) {
	if value == "" {
		return
	}
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	ve.Add(field, fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")))
}

// ValidateMinInt checks a field is at least min.
func ValidateMinInt(ve *ValidationErrors, field string, value, min int) {
	if value < min {
		ve.Add(field, fmt.Sprintf("must be at least %d", min))
	}
}

// ValidateIntRange checks a field is within a specified range.
func ValidateIntRange(ve *ValidationErrors, field string, value, min, max int) {
	if value < min || value > max {
		ve.Add(field, fmt.Sprintf("must be between %d and %d", min, max))
	}
}

// ValidateMaxLength checks string doesn't exceed max length.
func ValidateMaxLength(ve *ValidationErrors, field, value string, max int) {
	if len(value) > max {
		ve.Add(field, fmt.Sprintf("must be at most %d characters", max))
	}
}

const (
	MaxNotesLength    = 2000
	MaxUsernameLength = 128
)

// IDPattern matches part and box ids: letters and digits only.
var IDPattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// ValidateID checks a required id field against IDPattern.
func ValidateID(ve *ValidationErrors, field, value string) {
	if value == "" {
		ve.Add(field, "is required")
		return
	}
	if !IDPattern.MatchString(value) {
		ve.Add(field, "must be alphanumeric")
	}
}
