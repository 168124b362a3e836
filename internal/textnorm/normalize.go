// Package textnorm normalizes employee display names so that
// LIST_EMPLOYEES responses and stored records are consistent regardless of
// how a client typed diacritics or case.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// RemoveDiacritics strips diacritical marks (e.g. "Jiří" -> "Jiri").
func RemoveDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// DisplayName trims surrounding whitespace and collapses internal runs of
// whitespace, keeping case and diacritics intact for storage and display;
// it does not alter the identity-comparable form, only presentation.
func DisplayName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

// ComparableName normalizes a name for case/diacritic-insensitive
// comparison (lowercase, no diacritics, dashes folded to spaces).
func ComparableName(name string) string {
	name = RemoveDiacritics(name)
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, "-", " ")
	return strings.Join(strings.Fields(name), " ")
}
