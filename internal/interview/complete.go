package interview

import "strings"

const completionToken = "done"

// IsComplete reports whether an assistant reply signals the end of the
// interview. The reply is normalized (lower case, surrounding space and
// terminal punctuation stripped) and must equal "done" outright or lead
// with it as its first word. Substring matching is deliberately not
// used: a legitimate question containing the word "done" must not end
// the interview.
func IsComplete(reply string) bool {
	normalized := normalizeToken(reply)
	if normalized == completionToken {
		return true
	}

	fields := strings.Fields(strings.ToLower(strings.TrimSpace(reply)))
	if len(fields) == 0 {
		return false
	}
	return normalizeToken(fields[0]) == completionToken
}

func normalizeToken(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.TrimRight(s, ".!?,;: ")
}
