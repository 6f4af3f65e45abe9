package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// DuplicateError reports a username or email collision, including which
// record class already holds the claim.
type DuplicateError struct {
	Field string
	Class string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s already taken in %s", e.Field, e.Class)
}

// IsDuplicate reports whether err is a uniqueness violation and, if so,
// returns it.
func IsDuplicate(err error) (*DuplicateError, bool) {
	var dup *DuplicateError
	if errors.As(err, &dup) {
		return dup, true
	}
	return nil, false
}
