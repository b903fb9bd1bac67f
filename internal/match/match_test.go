package match

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMatchSimple(t *testing.T) {
	require.True(t, Match("", ""))
	require.True(t, Match("x", "x"))
	require.False(t, Match("x", "y"))
	require.False(t, Match("", "y"))
	require.False(t, Match("x", ""))
}

func TestMatchEscapes(t *testing.T) {
	require.True(t, Match(`\x`, "x"))
	require.True(t, Match(`\(`, "("))
}

func TestMatchSimpleWildcard(t *testing.T) {
	require.True(t, Match("*", ""))
	require.True(t, Match("*", "foo"))
	require.True(t, Match("*.", "foo."))
	require.False(t, Match("*.", "foo.."))
}

func TestMatchDoubleWildcard(t *testing.T) {
	require.True(t, Match("*a*", "abba"))
	require.True(t, Match("*a*", "baba"))
	require.True(t, Match("*a*", "a"))
	require.True(t, Match("*a*", "aa"))
	require.False(t, Match("*a*", "b"))
	require.False(t, Match("*a*", ""))
}

func TestMatchAnychar(t *testing.T) {
	require.False(t, Match("?", ""))
	require.True(t, Match("?", "x"))
	require.False(t, Match("?", "xx"))
	require.True(t, Match("a?c", "abc"))
	require.False(t, Match("a?c", "ac"))
	require.True(t, Match("ab?", "abc"))
	require.False(t, Match("ab?", "ab"))
}

func TestMatchStarAnycharIsAnychar(t *testing.T) {
	require.False(t, Match("*?", ""))
	require.True(t, Match("*?", "x"))
	require.False(t, Match("*?", "xx"))
	require.True(t, Match("a*?c", "abc"))
	require.False(t, Match("a*?c", "ac"))
	require.True(t, Match("ab*?", "abc"))
	require.False(t, Match("ab*?", "ab"))
}

func TestMatchUTF8(t *testing.T) {
	require.True(t, Match("€", "€"))
	require.True(t, Match("x?y", "x€y"))
	require.False(t, Match("x?y", "xせんy"))
	require.True(t, Match("x??y", "xせんy"))
	require.True(t, Match("x*y", "xせんy"))
	require.True(t, Match("x*€", "xせ₫€"))
}

func TestMatchParens(t *testing.T) {
	require.True(t, Match("()", ""))
	require.False(t, Match("()", "x"))

	require.True(t, Match("(a)", "a"))
	require.False(t, Match("(a)", "x"))
	require.False(t, Match("(a)", ""))

	require.True(t, Match("(a|b)", "a"))
	require.True(t, Match("(a|b)", "b"))
	require.False(t, Match("(a|b)", "x"))
	require.False(t, Match("(a|b)", ""))

	require.True(t, Match("(a|b|c)", "a"))
	require.True(t, Match("(a|b|c)", "b"))
	require.True(t, Match("(a|b|c)", "c"))
	require.False(t, Match("(a|b|c)", "x"))
	require.False(t, Match("(a|b|c)", ""))
}

func TestMatchNestedParens(t *testing.T) {
	require.True(t, Match("(a|b(c|d)e|f)g", "bdeg"))
	require.False(t, Match("(a|b(c|d)e|f)g", "beg"))
	require.False(t, Match("(a|b(c|d)e|f)g", "bfg"))
}

func TestMatchMalformedPatternsNeverMatch(t *testing.T) {
	require.False(t, Match("(", ""))
	require.False(t, Match(")", ""))
	require.False(t, Match("|", ""))
	require.False(t, Match(`\`, `\`))
	require.False(t, Match("**", ""))
}

func TestValid(t *testing.T) {
	require.True(t, Valid(""))
	require.True(t, Valid("x*y(a|b)?"))
	require.True(t, Valid("(a|b(c|d)e|f)g"))

	require.False(t, Valid("("))
	require.False(t, Valid(")"))
	require.False(t, Valid("|"))
	require.False(t, Valid(`\`))
	require.False(t, Valid("**"))
	require.False(t, Valid("*("))

	var nested string
	for i := 0; i < maxParen+1; i++ {
		nested += "("
	}
	nested += "x"
	for i := 0; i < maxParen+1; i++ {
		nested += ")"
	}
	require.False(t, Valid(nested), "more than %d levels of nesting must be invalid", maxParen)
}
