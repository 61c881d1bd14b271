package index

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestCharLenASCII(t *testing.T) {
	assert.Equal(t, 1, charLen('a'))
	assert.Equal(t, 1, charLen('0'))
}

func TestCharLenMultiByteLeadBytes(t *testing.T) {
	assert.Equal(t, 2, charLen(0xC2)) // e.g. leading byte of U+00A9
	assert.Equal(t, 3, charLen(0xE2)) // e.g. leading byte of many CJK/symbols
	assert.Equal(t, 4, charLen(0xF0)) // e.g. leading byte of an emoji
}

func TestPrefixesOfASCII(t *testing.T) {
	assert.Equal(t, []string{"he", "hel", "hell"}, prefixesOf("hello", 0))
}

func TestPrefixesOfShortToken(t *testing.T) {
	assert.Nil(t, prefixesOf("a", 0))
	assert.Nil(t, prefixesOf("", 0))
}

func TestPrefixesOfRespectsMaxLen(t *testing.T) {
	assert.Equal(t, []string{"he", "hel"}, prefixesOf("hello", 3))
}

func TestPrefixesOfUTF8Boundary(t *testing.T) {
	// "café" = c(1) a(1) f(1) é(2 bytes, 0xC3 0xA9) = 5 bytes total.
	token := "café"
	got := prefixesOf(token, 0)
	for _, p := range got {
		assert.True(t, len(p) < len(token))
		// Every returned prefix must itself be valid UTF-8 (no mid-rune cut).
		assert.Truef(t, isValidUTF8Boundary(p, token), "prefix %q not boundary-aligned in %q", p, token)
	}
}

func isValidUTF8Boundary(prefix, full string) bool {
	return full[:len(prefix)] == prefix && utf8.ValidString(prefix)
}

func TestTruncateUTF8NoOpWhenShortEnough(t *testing.T) {
	assert.Equal(t, "hello", truncateUTF8("hello", 10))
}

func TestTruncateUTF8BacksOffToBoundary(t *testing.T) {
	// "café" bytes: c a f é(2 bytes); truncating to 4 bytes would split
	// the 2-byte é, so it must back off to 3.
	got := truncateUTF8("café", 4)
	assert.Equal(t, "caf", got)
}

func TestTruncateUTF8ExactBoundary(t *testing.T) {
	assert.Equal(t, "ab", truncateUTF8("abcdef", 2))
}
