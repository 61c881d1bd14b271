package varint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWidth(t *testing.T) {
	w, err := Width(0)
	require.NoError(t, err)
	assert.Equal(t, 1, w)

	w, err = Width(max1)
	require.NoError(t, err)
	assert.Equal(t, 1, w)

	w, err = Width(max1 + 1)
	require.NoError(t, err)
	assert.Equal(t, 2, w)

	w, err = Width(max2)
	require.NoError(t, err)
	assert.Equal(t, 2, w)

	w, err = Width(max2 + 1)
	require.NoError(t, err)
	assert.Equal(t, 4, w)

	w, err = Width(max4)
	require.NoError(t, err)
	assert.Equal(t, 4, w)

	w, err = Width(max4 + 1)
	require.NoError(t, err)
	assert.Equal(t, 8, w)

	w, err = Width(max8)
	require.NoError(t, err)
	assert.Equal(t, 8, w)

	_, err = Width(max8 + 1)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 63, 64, 16383, 16384, 1073741823, 1073741824, MaxEncodable}
	for _, v := range cases {
		enc, err := Encode(nil, v)
		require.NoError(t, err)
		got, n := Decode(enc)
		assert.Equal(t, v, got)
		assert.Equal(t, len(enc), n)
		assert.Equal(t, len(enc), WidthOf(enc[0]))
	}
}

func TestEncodeOverflow(t *testing.T) {
	_, err := Encode(nil, MaxEncodable+1)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestEncodeWidthFixed(t *testing.T) {
	// A small value forced into a wider encoding must preserve that width,
	// so in-place rewrites never change a record's total length.
	enc, err := EncodeWidth(nil, 5, 4)
	require.NoError(t, err)
	assert.Len(t, enc, 4)
	got, n := Decode(enc)
	assert.Equal(t, uint64(5), got)
	assert.Equal(t, 4, n)
}

func TestEncodeWidthTooNarrow(t *testing.T) {
	_, err := EncodeWidth(nil, max1+1, 1)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestEncodeAppendsToExistingBuffer(t *testing.T) {
	dst := []byte("prefix:")
	enc, err := Encode(dst, 42)
	require.NoError(t, err)
	assert.Equal(t, "prefix:", string(enc[:len("prefix:")]))
	got, _ := Decode(enc[len("prefix:"):])
	assert.Equal(t, uint64(42), got)
}
