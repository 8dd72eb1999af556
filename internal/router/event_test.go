package router

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Hey Astraea, what's the weather?", "hey astraea whats the weather"},
		{"  NEVER   mind!! ", "never mind"},
		{"", ""},
		{"...", ""},
		{"room 2 lights\ton", "room 2 lights on"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
