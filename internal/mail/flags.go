package mail

import (
	"sort"
	"strings"
)

// FlagString canonicalizes a flag set into a sorted, space-joined string.
// Two fetches of the same flags always compare equal, so flag change
// detection can be a plain string comparison.
func FlagString(flags []string) string {
	if len(flags) == 0 {
		return ""
	}
	sorted := append([]string(nil), flags...)
	sort.Strings(sorted)
	return strings.Join(sorted, " ")
}
