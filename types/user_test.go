package types

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseRole(t *testing.T) {
	cases := []struct {
		in   string
		want Role
	}{
		{"Super Administrator", RoleSuperAdministrator},
		{"super administrator", RoleSuperAdministrator},
		{"SUPER ADMINISTRATOR", RoleSuperAdministrator},
		{"super_administrator", RoleSuperAdministrator},
		{"User", RoleUser},
		{"user", RoleUser},
		{"  user  ", RoleUser},
		{"admin", RoleUnknown},
		{"superadmin", RoleUnknown},
		{"", RoleUnknown},
	}
	for _, tc := range cases {
		if got := ParseRole(tc.in); got != tc.want {
			t.Errorf("ParseRole(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestDeriveDisplayName(t *testing.T) {
	u := User{FirstName: "Alice", LastName: "Martin"}
	u.Derive()
	if u.DisplayName != "Alice MARTIN" {
		t.Fatalf("display name = %q, want %q", u.DisplayName, "Alice MARTIN")
	}
}

func TestDeriveRoleFlags(t *testing.T) {
	cases := []struct {
		role              Role
		superAdmin, plain bool
	}{
		{RoleSuperAdministrator, true, false},
		{RoleUser, false, true},
		{RoleUnknown, false, false},
		{"", false, false},
	}
	for _, tc := range cases {
		u := User{Role: tc.role}
		u.Derive()
		if u.IsSuperAdmin != tc.superAdmin || u.IsUser != tc.plain {
			t.Errorf("role %q: is_super_admin=%v is_user=%v, want %v %v",
				tc.role, u.IsSuperAdmin, u.IsUser, tc.superAdmin, tc.plain)
		}
	}
}

func TestMetaRole(t *testing.T) {
	cases := []struct {
		name string
		meta string
		want string
		ok   bool
	}{
		{"with role", `{"role": "Super Administrator"}`, "Super Administrator", true},
		{"no role key", `{"theme": "dark"}`, "", false},
		{"empty meta", ``, "", false},
		{"malformed json", `{not json`, "", false},
		{"role not a string", `{"role": 7}`, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			u := User{}
			if tc.meta != "" {
				u.Meta = json.RawMessage(tc.meta)
			}
			got, ok := u.MetaRole()
			if got != tc.want || ok != tc.ok {
				t.Fatalf("MetaRole() = (%q, %v), want (%q, %v)", got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestPasswordHashNeverSerialized(t *testing.T) {
	u := User{
		ID:           1,
		FirstName:    "Alice",
		LastName:     "Martin",
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: "$2a$10$secret",
	}
	u.Derive()

	data, err := json.Marshal(u)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(data), "secret") || strings.Contains(string(data), "password") {
		t.Fatalf("serialized form leaks password hash: %s", data)
	}
}

func TestSearchText(t *testing.T) {
	u := User{FirstName: "Alice", LastName: "Martin", Username: "amartin", Email: "alice@example.com"}
	text := u.SearchText()
	for _, want := range []string{"Alice", "Martin", "amartin", "alice@example.com"} {
		if !strings.Contains(text, want) {
			t.Errorf("search text %q missing %q", text, want)
		}
	}
	if strings.Contains(text, "$2a$") {
		t.Errorf("search text must not include the password hash")
	}
}
