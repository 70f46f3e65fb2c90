package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ConfigurationError reports an unrecognised or inconsistent parameter.
type ConfigurationError struct {
	Parameter string
	Value     string
	Valid     []string
	Reason    string
}

func (e ConfigurationError) Error() string {
	var b strings.Builder
	b.WriteString("invalid ")
	b.WriteString(e.Parameter)
	if e.Value != "" {
		fmt.Fprintf(&b, " %q", e.Value)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if len(e.Valid) > 0 {
		b.WriteString("; valid values: ")
		b.WriteString(strings.Join(e.Valid, ", "))
	}
	return b.String()
}

// NotFoundError reports a missing column or an unmatched identifier.
type NotFoundError struct {
	Kind string // "column" or "row"
	Name string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.Name)
}

// ValidationError reports a value that does not fit its target column.
type ValidationError struct {
	Column string
	Value  string
	Type   string
	Valid  []string
}

func (e ValidationError) Error() string {
	msg := fmt.Sprintf("value %q is not valid for %s column %s", e.Value, e.Type, e.Column)
	if len(e.Valid) > 0 {
		msg += "; valid levels: " + strings.Join(e.Valid, ", ")
	}
	return msg
}

// IsConfigurationError reports whether err wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var target ConfigurationError
	return errors.As(err, &target)
}

// IsNotFound reports whether err wraps a NotFoundError.
func IsNotFound(err error) bool {
	var target NotFoundError
	return errors.As(err, &target)
}

// IsValidationError reports whether err wraps a ValidationError.
func IsValidationError(err error) bool {
	var target ValidationError
	return errors.As(err, &target)
}
