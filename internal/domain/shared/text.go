package shared

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// FoldText returns a comparison key for free-text labels: accents stripped,
// case folded, surrounding whitespace trimmed and inner runs of whitespace collapsed.
// "  Outras  Bandeiras " and "outras bandeiras" fold to the same key, as do
// "Prótese" and "protese".
func FoldText(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	return strings.Join(strings.Fields(folder.String(stripped)), " ")
}
