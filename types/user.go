package types

import (
	"encoding/json"
	"strings"
	"time"
)

// Role is the authorization level assigned to a user.
//
// Historically the role lived as free text inside the meta blob; it is now an
// explicit enum. ParseRole maps the legacy strings onto it and anything
// unrecognized lands on RoleUnknown rather than failing.
type Role string

const (
	RoleSuperAdministrator Role = "super_administrator"
	RoleUser               Role = "user"
	RoleUnknown            Role = "unknown"
)

// ParseRole maps a free-text role string to a Role, case-insensitively.
func ParseRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "super administrator", "super_administrator":
		return RoleSuperAdministrator
	case "user":
		return RoleUser
	default:
		return RoleUnknown
	}
}

// User represents an account in the directory.
type User struct {
	// ID is the unique identifier of the user.
	ID int64 `json:"id" db:"id"`

	// FirstName is the user's given name.
	FirstName string `json:"first_name" db:"first_name"`

	// LastName is the user's family name.
	LastName string `json:"last_name" db:"last_name"`

	// Username is the unique login name chosen by the user. Uniqueness spans
	// both the users and members record classes.
	Username string `json:"username" db:"username"`

	// Email is the user's email address, unique across the same two classes.
	Email string `json:"email" db:"email"`

	// PasswordHash stores the hashed representation of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// Active reports whether the account is enabled.
	Active bool `json:"active" db:"active"`

	// Meta is an opaque JSON blob set by administrative tooling. A legacy
	// "role" key inside it is honored via ParseRole.
	Meta json.RawMessage `json:"meta,omitempty" db:"meta"`

	// Role is the parsed authorization level.
	Role Role `json:"role" db:"role"`

	// DisplayName, IsSuperAdmin and IsUser are derived on read and never
	// stored. Derive fills them.
	DisplayName  string `json:"display_name"`
	IsSuperAdmin bool   `json:"is_super_admin"`
	IsUser       bool   `json:"is_user"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Derive fills the computed fields from the stored ones.
func (u *User) Derive() {
	u.DisplayName = u.FirstName + " " + strings.ToUpper(u.LastName)
	u.IsSuperAdmin = u.Role == RoleSuperAdministrator
	u.IsUser = u.Role == RoleUser
}

// MetaRole extracts the legacy role string from the meta blob. It returns
// false when meta is absent or carries no role key.
func (u *User) MetaRole() (string, bool) {
	if len(u.Meta) == 0 {
		return "", false
	}
	var meta map[string]json.RawMessage
	if err := json.Unmarshal(u.Meta, &meta); err != nil {
		return "", false
	}
	raw, ok := meta["role"]
	if !ok {
		return "", false
	}
	var role string
	if err := json.Unmarshal(raw, &role); err != nil {
		return "", false
	}
	return role, true
}

// SearchText returns the text the search index holds for the user.
func (u *User) SearchText() string {
	return strings.Join([]string{u.FirstName, u.LastName, u.Username, u.Email}, " ")
}
