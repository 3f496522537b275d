package util

import "testing"

func TestParseBool(t *testing.T) {
	cases := []struct {
		in    string
		value bool
		ok    bool
	}{
		{"true", true, true},
		{"1", true, true},
		{"YES", true, true},
		{" on ", true, true},
		{"false", false, true},
		{"0", false, true},
		{"No", false, true},
		{"off", false, true},
		{"", false, false},
		{"maybe", false, false},
	}
	for _, tc := range cases {
		value, ok := ParseBool(tc.in)
		if value != tc.value || ok != tc.ok {
			t.Errorf("ParseBool(%q) = (%v, %v), want (%v, %v)", tc.in, value, ok, tc.value, tc.ok)
		}
	}
}
