package store

import "strings"

// Sortable user columns. Anything else falls back to the default so caller
// input can never reach the ORDER BY clause verbatim.
var orderColumns = map[string]string{
	"id":         "id",
	"first_name": "first_name",
	"last_name":  "last_name",
	"username":   "username",
	"email":      "email",
	"created_at": "created_at",
}

const (
	defaultOrderColumn = "first_name"
	defaultDirection   = "ASC"
)

// orderClause builds a safe ORDER BY body for the requested field and
// direction. Ties on the order column are broken by id ascending so result
// order stays deterministic.
func orderClause(orderBy, direction string) string {
	column, ok := orderColumns[strings.ToLower(strings.TrimSpace(orderBy))]
	if !ok {
		column = defaultOrderColumn
	}

	dir := defaultDirection
	if strings.EqualFold(strings.TrimSpace(direction), "desc") {
		dir = "DESC"
	}

	if column == "id" {
		return "id " + dir
	}
	return column + " " + dir + ", id ASC"
}
