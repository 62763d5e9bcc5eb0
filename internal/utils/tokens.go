package utils

// Token estimation for prompt budgeting. The heuristic is provider-agnostic;
// exact tokenization differs per model but only the order of magnitude matters here.

// CountTokens estimates the number of tokens in the given text.
// We approximate 1 token ~= 4 characters.
func CountTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	// Ensure at least 1 token for any non-empty text
	tokens := len([]rune(text)) / 4
	if tokens == 0 {
		return 1
	}
	return tokens
}

// TruncateToTokenLimit naively truncates text to roughly fit within a token limit.
func TruncateToTokenLimit(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(text)
	// Expand limit to character count using the same 4 chars per token heuristic
	charLimit := limit * 4
	if charLimit >= len(runes) {
		return text
	}
	return string(runes[:charLimit])
}

// Truncate shortens s to at most maxRunes runes, marking the cut with "...".
func Truncate(s string, maxRunes int) string {
	runes := []rune(s)
	if maxRunes <= 0 || len(runes) <= maxRunes {
		return s
	}
	if maxRunes <= 3 {
		return string(runes[:maxRunes])
	}
	return string(runes[:maxRunes-3]) + "..."
}
