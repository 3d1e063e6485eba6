package harvest

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

const maxQueryTermRunes = 200

// Characters stripped from free-text query terms before they reach the
// wire. Covers markup, SQL and shell metacharacters.
const strippedMeta = "<>'\";&|`$()\\"

// SanitizeQueryTerm normalizes and strips a free-text query field. This is
// a security boundary: it must be applied identically to every free-text
// field before transmission, not just the ones that look dangerous.
func SanitizeQueryTerm(term string) string {
	term = norm.NFKC.String(term)

	var b strings.Builder
	b.Grow(len(term))
	for _, r := range term {
		if r <= 0x1F || r == 0x7F {
			continue
		}
		if strings.ContainsRune(strippedMeta, r) {
			continue
		}
		b.WriteRune(r)
	}
	term = b.String()

	if runes := []rune(term); len(runes) > maxQueryTermRunes {
		term = string(runes[:maxQueryTermRunes])
	}
	return strings.TrimSpace(term)
}

// SanitizeQuery applies SanitizeQueryTerm to every free-text field.
func SanitizeQuery(q Query) Query {
	return Query{
		Keyword:     SanitizeQueryTerm(q.Keyword),
		Department:  SanitizeQueryTerm(q.Department),
		Institution: SanitizeQueryTerm(q.Institution),
	}
}
