// Package validate provides field-level input validators. Each validator
// returns nil on success or a ValidationError-family typed error naming
// the offending field and constraint. Validators run before any handler
// logic touches the input.
package validate

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/quietriver/assistant/internal/domain"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// Required rejects empty or whitespace-only values.
func Required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return domain.ErrMissingField(field)
	}
	return nil
}

// String checks length bounds on a value, counted in characters rather
// than bytes. A max of 0 means unbounded.
func String(field, value string, min, max int) error {
	n := utf8.RuneCountInString(value)
	if n < min {
		if min == 1 {
			return domain.ErrMissingField(field)
		}
		return domain.ErrValidation(field, fmt.Sprintf("must be at least %d characters", min))
	}
	if max > 0 && n > max {
		return domain.ErrValidation(field, fmt.Sprintf("must be at most %d characters", max))
	}
	return nil
}

// Email checks the value against a pragmatic address pattern.
func Email(field, value string) error {
	if !emailPattern.MatchString(value) {
		return domain.ErrValidation(field, "must be a valid email address")
	}
	return nil
}

// UUID checks for a well-formed RFC 4122 identifier, versions 1 through 5.
func UUID(field, value string) error {
	id, err := uuid.Parse(value)
	if err != nil {
		return domain.ErrValidation(field, "must be a valid UUID")
	}
	if v := id.Version(); v < 1 || v > 5 {
		return domain.ErrValidation(field, "must be a valid UUID")
	}
	return nil
}
