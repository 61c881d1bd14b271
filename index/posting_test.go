package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeDecodePostingRoundTrip(t *testing.T) {
	cases := []Posting{
		{DocID: []byte{1, 2, 3, 4}, IsWhole: true},
		{DocID: []byte{1, 2, 3, 4}, IsWhole: false},
		{DocID: []byte{}, IsWhole: true},
	}
	for _, p := range cases {
		enc := EncodePosting(p)
		got := DecodePosting(enc)
		assert.Equal(t, p.IsWhole, got.IsWhole)
		assert.Equal(t, p.DocID, got.DocID)
	}
}

func TestEncodePostingFlagByte(t *testing.T) {
	whole := EncodePosting(Posting{DocID: []byte("abcd"), IsWhole: true})
	partial := EncodePosting(Posting{DocID: []byte("abcd"), IsWhole: false})
	assert.Equal(t, byte(1), whole[len(whole)-1])
	assert.Equal(t, byte(0), partial[len(partial)-1])
	assert.Equal(t, whole[:len(whole)-1], partial[:len(partial)-1])
}
