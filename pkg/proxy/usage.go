package proxy

import "unicode/utf8"

// estimateTokens is the coarse character-count heuristic the upstream UI
// uses; the remote service reports no real token accounting.
func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return utf8.RuneCountInString(text) / 4
}
