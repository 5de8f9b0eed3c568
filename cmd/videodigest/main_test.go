package main

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestShortTitle(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 60, "short"},
		{"abcdef", 3, "abc..."},
		{"Kajakangeln für Einsteiger", 15, "Kajakangeln für..."},
		{"カヤックフィッシング入門", 4, "カヤック..."},
	}
	for _, tt := range tests {
		got := shortTitle(tt.in, tt.n)
		if got != tt.want {
			t.Errorf("shortTitle(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("shortTitle(%q, %d) produced invalid UTF-8", tt.in, tt.n)
		}
	}

	long := strings.Repeat("é", 70)
	if got := shortTitle(long, 60); utf8.RuneCountInString(got) != 63 {
		t.Errorf("rune count = %d, want 63", utf8.RuneCountInString(got))
	}
}
