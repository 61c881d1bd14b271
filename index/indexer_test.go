package index

import (
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testDoc struct {
	id    string
	texts []string
}

func (d testDoc) DocID() []byte     { return []byte(d.id) }
func (d testDoc) Serialize() []byte { return []byte(strings.Join(d.texts, "|")) }
func (d testDoc) Texts() []string   { return d.texts }

type spaceTokenizer struct{}

func (spaceTokenizer) Tokenize(text string) []string {
	return strings.Fields(text)
}

func sortedIDs(ids [][]byte) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	sort.Strings(out)
	return out
}

func TestIndexerAddAndFindWholeToken(t *testing.T) {
	ix := New(NewMemStore(), spaceTokenizer{})
	require.NoError(t, ix.Add(testDoc{id: "1", texts: []string{"the quick brown fox"}}))
	require.NoError(t, ix.Add(testDoc{id: "2", texts: []string{"the lazy dog"}}))

	got := ix.FindMatchAll([]string{"the"}, false, false)
	assert.ElementsMatch(t, []string{"1", "2"}, sortedIDs(got))

	got = ix.FindMatchAll([]string{"fox"}, false, false)
	assert.Equal(t, []string{"1"}, sortedIDs(got))

	got = ix.FindMatchAll([]string{"absent"}, false, false)
	assert.Nil(t, got)
}

func TestIndexerConjunctiveQuery(t *testing.T) {
	ix := New(NewMemStore(), spaceTokenizer{})
	require.NoError(t, ix.Add(testDoc{id: "1", texts: []string{"red apple green pear"}}))
	require.NoError(t, ix.Add(testDoc{id: "2", texts: []string{"red banana"}}))

	got := ix.FindMatchAll([]string{"red", "apple"}, false, false)
	assert.Equal(t, []string{"1"}, sortedIDs(got))

	got = ix.FindMatchAll([]string{"red", "grape"}, false, false)
	assert.Nil(t, got)
}

func TestIndexerDisjunctiveQuery(t *testing.T) {
	ix := New(NewMemStore(), spaceTokenizer{})
	require.NoError(t, ix.Add(testDoc{id: "1", texts: []string{"apple"}}))
	require.NoError(t, ix.Add(testDoc{id: "2", texts: []string{"banana"}}))

	got := ix.FindMatchAll([]string{"apple", "banana"}, false, true)
	assert.ElementsMatch(t, []string{"1", "2"}, sortedIDs(got))
}

func TestIndexerReAddDiffsTokens(t *testing.T) {
	ix := New(NewMemStore(), spaceTokenizer{})
	require.NoError(t, ix.Add(testDoc{id: "1", texts: []string{"alpha beta"}}))
	require.NoError(t, ix.Add(testDoc{id: "1", texts: []string{"beta gamma"}}))

	assert.Nil(t, ix.FindMatchAll([]string{"alpha"}, false, false))
	assert.Equal(t, []string{"1"}, sortedIDs(ix.FindMatchAll([]string{"beta"}, false, false)))
	assert.Equal(t, []string{"1"}, sortedIDs(ix.FindMatchAll([]string{"gamma"}, false, false)))
}

func TestIndexerRemoveDropsAllPostings(t *testing.T) {
	ix := New(NewMemStore(), spaceTokenizer{})
	require.NoError(t, ix.Add(testDoc{id: "1", texts: []string{"alpha beta"}}))
	require.NoError(t, ix.Remove([]byte("1")))

	assert.Nil(t, ix.FindMatchAll([]string{"alpha"}, false, false))
	_, _, ok := ix.FindDoc([]byte("1"))
	assert.False(t, ok)
}

func TestIndexerRemoveUnknownDocIsNoop(t *testing.T) {
	ix := New(NewMemStore(), spaceTokenizer{})
	require.NoError(t, ix.Remove([]byte("never-added")))
}

func TestIndexerFindDocReturnsPayloadAndJoined(t *testing.T) {
	ix := New(NewMemStore(), spaceTokenizer{})
	require.NoError(t, ix.Add(testDoc{id: "1", texts: []string{"alpha beta", "gamma"}}))

	payload, joined, ok := ix.FindDoc([]byte("1"))
	require.True(t, ok)
	assert.Equal(t, "alpha beta|gamma", string(payload))
	assert.Equal(t, []string{"alpha beta", "gamma"}, joined)
}

func TestIndexerAutocompletePrefixMatch(t *testing.T) {
	ix := New(NewMemStore(), spaceTokenizer{}, WithAutocomplete(0))
	require.NoError(t, ix.Add(testDoc{id: "1", texts: []string{"hello world"}}))

	got := ix.FindMatchAll([]string{"hel"}, true, false)
	assert.Equal(t, []string{"1"}, sortedIDs(got))
}

func TestIndexerAutocompleteRequiresTokenBoundary(t *testing.T) {
	ix := New(NewMemStore(), spaceTokenizer{}, WithAutocomplete(0))
	require.NoError(t, ix.Add(testDoc{id: "1", texts: []string{"shelter"}}))

	// "hel" is a substring of "shelter" but not at a token boundary, so a
	// prefix query for "hel" must not match it.
	got := ix.FindMatchAll([]string{"hel"}, true, false)
	assert.Nil(t, got)
}

func TestIndexerAutocompleteDisabledFallsBackToWholeMatch(t *testing.T) {
	ix := New(NewMemStore(), spaceTokenizer{})
	require.NoError(t, ix.Add(testDoc{id: "1", texts: []string{"hello world"}}))

	got := ix.FindMatchAll([]string{"hel"}, true, false)
	assert.Nil(t, got)
}

func TestIndexerRemoveClearsAutocompletePrefixes(t *testing.T) {
	ix := New(NewMemStore(), spaceTokenizer{}, WithAutocomplete(0))
	require.NoError(t, ix.Add(testDoc{id: "1", texts: []string{"hello"}}))
	require.NoError(t, ix.Remove([]byte("1")))

	assert.Nil(t, ix.FindMatchAll([]string{"hel"}, true, false))
}

func TestIndexerMetricsOptIn(t *testing.T) {
	ix := New(NewMemStore(), spaceTokenizer{})
	assert.Nil(t, ix.Metrics())
	m := ix.EnableMetrics("test_indexer")
	require.NotNil(t, m)
	assert.Same(t, m, ix.Metrics())

	require.NoError(t, ix.Add(testDoc{id: "1", texts: []string{"a"}}))
}

func TestIndexerOneBytePrefixQueryYieldsNothing(t *testing.T) {
	ix := New(NewMemStore(), spaceTokenizer{}, WithAutocomplete(0))
	require.NoError(t, ix.Add(testDoc{id: "1", texts: []string{"hello"}}))

	got := ix.FindMatchAll([]string{"h"}, true, false)
	assert.Nil(t, got)
}

func TestIndexerEmptyQueryYieldsNothing(t *testing.T) {
	ix := New(NewMemStore(), spaceTokenizer{})
	require.NoError(t, ix.Add(testDoc{id: "1", texts: []string{"hello"}}))
	assert.Nil(t, ix.FindMatchAll(nil, false, false))
}

func TestIndexerWholeTokenEqualToAnotherTokensPrefix(t *testing.T) {
	ix := New(NewMemStore(), spaceTokenizer{}, WithAutocomplete(0))
	require.NoError(t, ix.Add(testDoc{id: "1", texts: []string{"help"}}))
	require.NoError(t, ix.Add(testDoc{id: "2", texts: []string{"hel"}}))

	// A non-prefix query for "hel" must match only the document that
	// contains it as a whole token, not the one where it is a prefix.
	got := ix.FindMatchAll([]string{"hel"}, false, false)
	assert.Equal(t, []string{"2"}, sortedIDs(got))

	// A prefix query for "hel" matches both.
	got = ix.FindMatchAll([]string{"hel"}, true, false)
	assert.ElementsMatch(t, []string{"1", "2"}, sortedIDs(got))
}

func TestIndexerAutocompleteMaxLenTruncatedQuery(t *testing.T) {
	ix := New(NewMemStore(), spaceTokenizer{}, WithAutocomplete(3))
	require.NoError(t, ix.Add(testDoc{id: "1", texts: []string{"integration"}}))
	require.NoError(t, ix.Add(testDoc{id: "2", texts: []string{"inte"}}))

	// An untruncated prefix query within maxLen hits the partial-token
	// index directly.
	got := ix.FindMatchAll([]string{"int"}, true, false)
	assert.ElementsMatch(t, []string{"1", "2"}, sortedIDs(got))

	// "inte" exceeds maxLen 3; the lookup truncates to "int" and the
	// boundary re-check then requires the full query to sit between token
	// boundaries in a joined string, so only doc 2 (whole token "inte")
	// survives, not doc 1 where "inte" runs on into "integration".
	got = ix.FindMatchAll([]string{"inte"}, true, false)
	assert.Equal(t, []string{"2"}, sortedIDs(got))
}

func TestIndexerAddIsIdempotent(t *testing.T) {
	ix := New(NewMemStore(), spaceTokenizer{}, WithAutocomplete(0))
	d := testDoc{id: "1", texts: []string{"alpha beta"}}
	require.NoError(t, ix.Add(d))
	require.NoError(t, ix.Add(d))

	assert.Equal(t, []string{"1"}, sortedIDs(ix.FindMatchAll([]string{"alpha"}, false, false)))
	assert.Equal(t, []string{"1"}, sortedIDs(ix.FindMatchAll([]string{"alp"}, true, false)))
}
