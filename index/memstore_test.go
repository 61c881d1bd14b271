package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStoreDocRoundTrip(t *testing.T) {
	m := NewMemStore()
	require.NoError(t, m.AddDoc([]byte("id1"), []byte("payload")))
	v, ok := m.FindDoc([]byte("id1"))
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), v)
	assert.EqualValues(t, 1, m.SizeDocuments())

	require.NoError(t, m.RemoveDoc([]byte("id1")))
	_, ok = m.FindDoc([]byte("id1"))
	assert.False(t, ok)
	assert.EqualValues(t, 0, m.SizeDocuments())
}

func TestMemStoreTokenDedup(t *testing.T) {
	m := NewMemStore()
	p := Posting{DocID: []byte("d1"), IsWhole: true}
	require.NoError(t, m.AddToken("tok", p))
	require.NoError(t, m.AddToken("tok", p))
	assert.Len(t, m.FindToken("tok"), 1)
	assert.EqualValues(t, 1, m.SizeTokens())
}

func TestMemStoreTokenRemove(t *testing.T) {
	m := NewMemStore()
	p1 := Posting{DocID: []byte("d1"), IsWhole: true}
	p2 := Posting{DocID: []byte("d2"), IsWhole: true}
	require.NoError(t, m.AddToken("tok", p1))
	require.NoError(t, m.AddToken("tok", p2))

	require.NoError(t, m.RemoveToken("tok", p1))
	got := m.FindToken("tok")
	require.Len(t, got, 1)
	assert.Equal(t, p2, got[0])

	require.NoError(t, m.RemoveToken("tok", p2))
	assert.Empty(t, m.FindToken("tok"))
	assert.EqualValues(t, 0, m.SizeTokens())
}

func TestMemStoreRemoveTokenMissingIsNoop(t *testing.T) {
	m := NewMemStore()
	require.NoError(t, m.RemoveToken("nope", Posting{DocID: []byte("x")}))
}
