package harvest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeQueryTerm_StripsMetacharacters(t *testing.T) {
	t.Parallel()

	in := `rob'; DROP TABLE faculty;--<script>$(rm)|&` + "`id`"
	out := SanitizeQueryTerm(in)

	for _, c := range strippedMeta {
		require.NotContains(t, out, string(c))
	}
	require.Equal(t, "rob DROP TABLE faculty--scriptrmid", out)
}

func TestSanitizeQueryTerm_StripsControlCharacters(t *testing.T) {
	t.Parallel()

	out := SanitizeQueryTerm("ali\x00ce\x1fsmith\x7f")
	require.Equal(t, "alicesmith", out)
}

func TestSanitizeQueryTerm_TruncatesAndTrims(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("é", 300)
	out := SanitizeQueryTerm(long)
	require.Equal(t, 200, len([]rune(out)))

	require.Equal(t, "padded", SanitizeQueryTerm("   padded \t "))
}

func TestSanitizeQueryTerm_NormalizesUnicode(t *testing.T) {
	t.Parallel()

	// Fullwidth letters compatibility-fold to ASCII under NFKC.
	require.Equal(t, "Chen", SanitizeQueryTerm("Ｃｈｅｎ"))
}

func TestSanitizeQuery_AppliesToEveryField(t *testing.T) {
	t.Parallel()

	q := SanitizeQuery(Query{
		Keyword:     "a<b",
		Department:  "c>d",
		Institution: "e|f",
	})
	require.Equal(t, Query{Keyword: "ab", Department: "cd", Institution: "ef"}, q)
}

func TestQuery_KeyDistinguishesEmptyFields(t *testing.T) {
	t.Parallel()

	a := Query{Keyword: "x"}
	b := Query{Keyword: "x", Department: "bio"}
	require.NotEqual(t, a.Key(), b.Key())
	require.True(t, a.Equal(Query{Keyword: "x"}))
	require.False(t, a.Equal(b))
}
