// Package filters implements content quality filtering for source text.
//
// Reddit marks moderated content with sentinel strings rather than deleting
// it, so the filter rejects those sentinels along with fragments too short to
// carry a usable quote.
package filters

import "strings"

// minTokens is the minimum whitespace-delimited token count for a fragment to
// be worth sending to the model.
const minTokens = 5

var sentinels = map[string]struct{}{
	"":          {},
	"[removed]": {},
	"[deleted]": {},
}

// IsSubstantive reports whether text is worth retaining. It returns false for
// the empty string, the platform's removed/deleted sentinels, and fragments
// with fewer than five words.
func IsSubstantive(text string) bool {
	if _, ok := sentinels[text]; ok {
		return false
	}

	return len(strings.Fields(text)) >= minTokens
}
