package entities

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrRecordNotFound is returned when an id no longer resolves to a live record.
	ErrRecordNotFound = errors.New("record not found")

	// ErrUnsupportedRelationType is returned for relation types outside the closed set.
	ErrUnsupportedRelationType = errors.New("unsupported relation type")

	// ErrUnsupportedOperation is returned when a relation cannot perform a mutation,
	// e.g. adding through a hasManyThrough relation.
	ErrUnsupportedOperation = errors.New("unsupported relation operation")

	// ErrInvalidManageMode is returned when a posted manage mode is not list, form or pivot.
	ErrInvalidManageMode = errors.New("invalid manage mode")

	// ErrRelationNotDefined is returned when a model has no relation with the requested name.
	ErrRelationNotDefined = errors.New("relation not defined")
)

// ValidationError carries field-level messages for a rejected form submission.
type ValidationError struct {
	Fields map[string][]string
}

// NewValidationError creates an empty ValidationError.
func NewValidationError() *ValidationError {
	return &ValidationError{Fields: make(map[string][]string)}
}

// Add appends a message for a field.
func (e *ValidationError) Add(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], message)
}

// HasErrors reports whether any field message was recorded.
func (e *ValidationError) HasErrors() bool {
	return e != nil && len(e.Fields) > 0
}

// FirstMessage returns the message of the alphabetically first field.
func (e *ValidationError) FirstMessage() string {
	if !e.HasErrors() {
		return ""
	}
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	if msgs := e.Fields[names[0]]; len(msgs) > 0 {
		return msgs[0]
	}
	return ""
}

func (e *ValidationError) Error() string {
	if !e.HasErrors() {
		return "validation failed"
	}
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", name, strings.Join(e.Fields[name], ", ")))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}
