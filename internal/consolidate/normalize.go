package consolidate

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeTitle lowercases, strips diacritics and punctuation, and
// collapses whitespace so that "I-30 Closure!" and "i30 closure" compare
// equal under trigram similarity. The fold chain is built per call:
// transform.Chain produces a stateful Transformer that must not be
// shared across goroutines.
func NormalizeTitle(title string) string {
	fold := transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		norm.NFC,
	)
	folded, _, err := transform.String(fold, title)
	if err != nil {
		folded = title
	}

	var b strings.Builder
	b.Grow(len(folded))
	lastSpace := true
	for _, r := range strings.ToLower(folded) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		default:
			// Punctuation is dropped entirely, no separator inserted,
			// so "I-30" and "I30" normalize identically.
		}
	}
	return strings.TrimRight(b.String(), " ")
}
