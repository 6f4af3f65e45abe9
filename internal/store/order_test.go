package store

import "testing"

func TestOrderClause(t *testing.T) {
	cases := []struct {
		orderBy, direction string
		want               string
	}{
		{"first_name", "asc", "first_name ASC, id ASC"},
		{"first_name", "desc", "first_name DESC, id ASC"},
		{"last_name", "DESC", "last_name DESC, id ASC"},
		{"email", "", "email ASC, id ASC"},
		{"id", "desc", "id DESC"},
		{"", "", "first_name ASC, id ASC"},
		// unknown columns and junk must never reach the clause verbatim
		{"password_hash", "asc", "first_name ASC, id ASC"},
		{"id; DROP TABLE users", "asc", "first_name ASC, id ASC"},
		{"first_name", "sideways", "first_name ASC, id ASC"},
	}
	for _, tc := range cases {
		if got := orderClause(tc.orderBy, tc.direction); got != tc.want {
			t.Errorf("orderClause(%q, %q) = %q, want %q", tc.orderBy, tc.direction, got, tc.want)
		}
	}
}
