package deck

import (
	"errors"
	"fmt"
)

// ErrNotFound is wrapped by operations that refer to a record that does not exist.
var ErrNotFound = errors.New("not found")

// ValidationError reports caller input that was rejected before any state changed.
type ValidationError string

func (e ValidationError) Error() string { return string(e) }

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...any) error {
	return ValidationError(fmt.Sprintf(format, args...))
}

// Guard kinds.
const (
	GuardSynthetic = "synthetic"
	GuardEmpty     = "empty"
)

// GuardError is returned when a fetched payload is refused before ingestion.
type GuardError struct {
	Kind    string
	Message string
}

func (e *GuardError) Error() string { return e.Message }

// Truncate shortens s to at most limit characters, marking the cut with "...".
func Truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	if limit <= 3 {
		return string(r[:limit])
	}
	return string(r[:limit-3]) + "..."
}
