package hub

import "testing"

func TestCountTokens(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{name: "empty", text: "", want: 0},
		{name: "one rune", text: "a", want: 1},
		{name: "four runes", text: "abcd", want: 1},
		{name: "five runes", text: "abcde", want: 2},
		{name: "eight runes", text: "abcdefgh", want: 2},
		{name: "multibyte runes count once", text: "héllо", want: 2},
		{name: "longer text", text: "The quick brown fox jumps over the lazy dog", want: 11},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CountTokens(tt.text); got != tt.want {
				t.Errorf("CountTokens(%q) = %d, want %d", tt.text, got, tt.want)
			}
		})
	}
}
