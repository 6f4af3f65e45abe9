package store

import "testing"

func TestExcludeArrayNeverEncodesNull(t *testing.T) {
	for _, ids := range [][]int64{nil, {}, {1, 2}} {
		value, err := excludeArray(ids).Value()
		if err != nil {
			t.Fatalf("value for %v: %v", ids, err)
		}
		if value == nil {
			t.Fatalf("exclusion list %v encodes as SQL NULL; NOT (id = ANY(NULL)) would match no rows", ids)
		}
	}
}
