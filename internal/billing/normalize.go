// internal/billing/normalize.go
package billing

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NormalizeIdentifier is the grouping key for customers and product names:
// NFKC form, format characters such as zero-width spaces dropped, case folded,
// whitespace trimmed and inner runs collapsed to one space.
func NormalizeIdentifier(s string) string {
	s = norm.NFKC.String(s)
	s = strings.Map(func(r rune) rune {
		if unicode.Is(unicode.Cf, r) {
			return -1
		}
		return r
	}, s)
	// Caser is stateful, so one per call.
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}
