package search

import (
	"reflect"
	"testing"
)

func TestTokenize(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"Alice Martin", []string{"alice", "martin"}},
		{"alice@example.com", []string{"alice", "example", "com"}},
		{"Alice alice ALICE", []string{"alice"}},
		{"a b c", []string{}},
		{"", []string{}},
		{"o'brien-smith", []string{"brien", "smith"}},
	}
	for _, tc := range cases {
		got := Tokenize(tc.in)
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("Tokenize(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
