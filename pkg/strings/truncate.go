package strings

import (
	"strings"
)

// DefaultSubjectMaxLen is the default maximum length for chat subjects
// in table output.
const DefaultSubjectMaxLen = 60

// MinTruncateLen is the smallest maxLen TruncateSubject accepts. Values
// below this leave no room for content plus "...".
const MinTruncateLen = 4

// TruncateSubject flattens a subject to a single line and truncates it
// to maxLen runes, appending "..." when cut. Rune-based slicing keeps
// multi-byte characters intact.
func TruncateSubject(s string, maxLen int) string {
	if maxLen < MinTruncateLen {
		maxLen = MinTruncateLen
	}

	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen-3]) + "..."
	}
	return s
}
