package validation

// Rule declares the constraints applied to one user field. The table is
// exported so an outer form layer can render the same constraints without
// restating them.
type Rule struct {
	Field     string
	Required  bool
	MinLen    int
	MaxLen    int
	Email     bool
	Confirmed bool
	// UniqueIn lists the record classes sharing the field's identity
	// namespace; enforcement lives at the storage layer.
	UniqueIn []string
}

// UserRules is the validation rule table for user records.
var UserRules = []Rule{
	{Field: "first_name", Required: true, MaxLen: 255},
	{Field: "last_name", Required: true, MaxLen: 255},
	{Field: "username", Required: true, MaxLen: 255, UniqueIn: []string{"users", "members"}},
	{Field: "email", Required: true, Email: true, MaxLen: 255, UniqueIn: []string{"users", "members"}},
	{Field: "password", Required: true, MinLen: 6, Confirmed: true},
}

// Apply checks value (and its confirmation, when the rule demands one)
// against the rule, recording at most one violation per field.
func (r Rule) Apply(value, confirmation string, v Violations) {
	if r.Required {
		Required(r.Field, value, v)
	}
	if r.MinLen > 0 {
		MinLen(r.Field, value, r.MinLen, v)
	}
	if r.MaxLen > 0 {
		MaxLen(r.Field, value, r.MaxLen, v)
	}
	if r.Email {
		Email(r.Field, value, v)
	}
	if r.Confirmed {
		Confirmed(r.Field, value, confirmation, v)
	}
}
