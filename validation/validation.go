package validation

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"
)

// Violations maps a field name to the first constraint it violated.
type Violations map[string]string

func (v Violations) Empty() bool { return len(v) == 0 }

// Basic validators

func Required(field, value string, v Violations) {
	if _, seen := v[field]; seen {
		return
	}
	if strings.TrimSpace(value) == "" {
		v[field] = "required"
	}
}

func MaxLen(field, value string, limit int, v Violations) {
	if _, seen := v[field]; seen {
		return
	}
	if utf8.RuneCountInString(value) > limit {
		v[field] = fmt.Sprintf("must_be_at_most_%d_characters", limit)
	}
}

func MinLen(field, value string, limit int, v Violations) {
	if _, seen := v[field]; seen {
		return
	}
	if utf8.RuneCountInString(value) < limit {
		v[field] = fmt.Sprintf("must_be_at_least_%d_characters", limit)
	}
}

func Email(field, value string, v Violations) {
	if _, seen := v[field]; seen {
		return
	}
	addr, err := mail.ParseAddress(value)
	if err != nil || addr.Address != value {
		v[field] = "must_be_a_valid_email"
	}
}

func Confirmed(field, value, confirmation string, v Violations) {
	if _, seen := v[field]; seen {
		return
	}
	if value != confirmation {
		v[field] = "confirmation_does_not_match"
	}
}
