// Package layout loads declarative layout descriptions and evaluates them
// against page buffers, producing a tree of DAOs.
package layout

import (
	"fmt"
	"io"
)

// ErrorType classifies a ConfigError.
type ErrorType string

// The closed set of configuration-error kinds a layout can raise. All of
// these are fatal to the scan that triggered them: a bad layout description
// is a configuration mistake, not a recoverable parse condition.
const (
	ErrorTypeUnknownLambda            ErrorType = "unknown_lambda"
	ErrorTypeUnknownParent            ErrorType = "unknown_parent"
	ErrorTypeUnknownAlternative       ErrorType = "unknown_alternative_of"
	ErrorTypeDuplicateName            ErrorType = "duplicate_context_name"
	ErrorTypeParentCycle              ErrorType = "parent_cycle"
	ErrorTypeMergeDestinationNotFound ErrorType = "merge_destination_not_found"
	ErrorTypePathologicalPattern      ErrorType = "pathological_pattern"
	ErrorTypeInvalidRegex             ErrorType = "invalid_regex"
	ErrorTypeInternal                 ErrorType = "internal"
)

// Position locates a ConfigError within a layout description or a document.
type Position struct {
	Layout  string // layout name, if known
	Context string // context name, if known
	Field   string // field name, if known
	Row     int    // page-relative row index, -1 if not applicable
}

func (p Position) String() string {
	loc := p.Layout
	if p.Context != "" {
		loc += "/" + p.Context
	}
	if p.Field != "" {
		loc += "." + p.Field
	}
	if p.Row >= 0 {
		loc += fmt.Sprintf(":row %d", p.Row)
	}
	return loc
}

// ConfigError is a structured, fatal error raised while loading a layout
// description or while evaluating it against a document.
type ConfigError struct {
	Type    ErrorType
	Message string
	Pos     Position
	Context string // additional hint text
	Cause   error
}

// NewConfigError builds a ConfigError from its components. A Position
// built as a struct literal leaves Row at its zero value, which is
// indistinguishable from an intentional "row 0"; since no row-aware
// construction site exists yet, treat an unset Row as "not applicable"
// here so Error() never prints a spurious ":row 0" on every message.
func NewConfigError(typ ErrorType, message string, pos Position, cause error) *ConfigError {
	if pos.Row == 0 {
		pos.Row = -1
	}
	return &ConfigError{Type: typ, Message: message, Pos: pos, Cause: cause}
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	loc := e.Pos.String()
	msg := e.Message
	if loc != "" {
		msg = loc + ": " + msg
	}
	if e.Context != "" {
		msg += " (hint: " + e.Context + ")"
	}
	return msg
}

// Unwrap supports errors.Is/As over the underlying cause.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// WithHint attaches additional context text and returns e for chaining.
func (e *ConfigError) WithHint(hint string) *ConfigError {
	e.Context = hint
	return e
}

// WriteErrors writes a list of errors, one per line, to w.
func WriteErrors(w io.Writer, errs []error) error {
	for _, err := range errs {
		if _, werr := fmt.Fprintln(w, err.Error()); werr != nil {
			return werr
		}
	}
	return nil
}
