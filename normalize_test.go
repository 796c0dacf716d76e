package portier

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"example.foo+bar@example.com", "example.foo+bar@example.com"},
		{"EXAMPLE.FOO+BAR@EXAMPLE.COM", "example.foo+bar@example.com"},
		{"BJÖRN@göteborg.test", "björn@xn--gteborg-90a.test"},
		{"foo", ""},
		{"foo@", ""},
		{"@foo.example", ""},
		{"foo@127.0.0.1", ""},
		{"foo@[::1]", ""},
		{"foo@::1", ""},
	}
	for _, tc := range tests {
		if got := Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
