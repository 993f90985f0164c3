package hub

import "unicode/utf8"

// CountTokens estimates the token count of a text as a quarter of its rune
// count, rounded up. Counting runes rather than bytes keeps the estimate
// stable for non-ASCII input.
func CountTokens(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}
