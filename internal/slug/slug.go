// Package slug derives deterministic, filesystem and git-ref safe slugs from
// free text task titles.
package slug

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Make converts text to a lowercase ASCII slug: diacritics are stripped,
// every run of non-alphanumerics collapses to a single hyphen, leading and
// trailing hyphens are trimmed and the result is cut to maxLen characters
// (a hyphen left dangling by the cut is trimmed too). maxLen <= 0 means no limit.
func Make(text string, maxLen int) string {
	folded, _, err := transform.String(
		transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC),
		text,
	)
	if err != nil {
		folded = text
	}

	var b strings.Builder
	b.Grow(len(folded))
	prevHyphen := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prevHyphen = false
		default:
			if !prevHyphen {
				b.WriteByte('-')
				prevHyphen = true
			}
		}
	}

	s := strings.Trim(b.String(), "-")
	if maxLen > 0 && len(s) > maxLen {
		s = strings.TrimRight(s[:maxLen], "-")
	}
	return s
}
