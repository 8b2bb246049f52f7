package normalize

import (
	"fmt"
	"strings"

	"codeberg.org/mutker/modemstat/internal/errors"
)

// Violation names one field that broke an invariant.
type Violation struct {
	Field      string
	Value      string
	Constraint string
}

func (v Violation) String() string {
	if v.Value == "" {
		return fmt.Sprintf("%s: %s", v.Field, v.Constraint)
	}

	return fmt.Sprintf("%s = %s: %s", v.Field, v.Value, v.Constraint)
}

// ValidationError lists every violation found in one record.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}

	return fmt.Sprintf("validation failed with %d violation(s): %s", len(e.Violations), strings.Join(parts, "; "))
}

func (*ValidationError) Code() errors.ErrorCode {
	return errors.ErrValidation
}

// Fields returns the violated field paths in order.
func (e *ValidationError) Fields() []string {
	fields := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		fields[i] = v.Field
	}

	return fields
}
