package notify

import "unicode/utf8"

// chunkMessage splits text into chunks of at most maxLen bytes, preferring
// newlines in the second half of a chunk and never splitting a UTF-8 rune.
func chunkMessage(text string, maxLen int) []string {
	if maxLen <= 0 {
		maxLen = 2000
	}
	if len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}

		cut := maxLen
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		if cut == 0 {
			cut = maxLen
		}
		breakAt := -1
		for i := cut - 1; i >= cut/2; i-- {
			if text[i] == '\n' {
				breakAt = i
				break
			}
		}

		if breakAt >= 0 {
			chunks = append(chunks, text[:breakAt])
			text = text[breakAt+1:]
		} else {
			chunks = append(chunks, text[:cut])
			text = text[cut:]
		}
	}
	return chunks
}
