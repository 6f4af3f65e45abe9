package services

import (
	"errors"
	"fmt"

	"github.com/egolife/directory/validation"
)

// ValidationError carries field-level constraint violations so callers can
// present them field by field.
type ValidationError struct {
	Fields validation.Violations
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %d field(s)", len(e.Fields))
}

// AsValidation reports whether err is a ValidationError and, if so, returns it.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// PartialWriteWarning signals that the store write succeeded but the search
// index write did not. The record is durable, just not yet searchable; a
// later reindex repairs the gap. It is attached to an otherwise successful
// result, never returned as the operation's error.
type PartialWriteWarning struct {
	Op  string
	Err error
}

func (w *PartialWriteWarning) Error() string {
	return fmt.Sprintf("%s stored but not indexed: %v", w.Op, w.Err)
}

func (w *PartialWriteWarning) Unwrap() error { return w.Err }

// ErrNotifierDisabled is returned by password-reset flows when no broker is
// configured.
var ErrNotifierDisabled = errors.New("notifier not configured")

// ErrAvatarsDisabled is returned by avatar operations when no object storage
// backend is configured.
var ErrAvatarsDisabled = errors.New("avatar storage not configured")

// ErrBadResetToken is returned when a password reset token fails to verify.
var ErrBadResetToken = errors.New("invalid or expired reset token")
