// Package varint implements the self-describing length prefix used
// throughout the store package: the top two bits of the first byte select
// a width of 1, 2, 4 or 8 bytes for the encoded value.
package varint

import (
	"encoding/binary"
	"fmt"
)

// Width tags occupy the high two bits of the first encoded byte.
const (
	tag1 = 0x00
	tag2 = 0x40
	tag4 = 0x80
	tag8 = 0xC0

	tagMask = 0xC0

	max1 = 0x3F
	max2 = 0x3FFF
	max4 = 0x3FFFFFFF
	max8 = 0x3FFFFFFFFFFFFFFF
)

// MaxEncodable is the largest value that can be represented (62 bits).
const MaxEncodable = uint64(max8)

// ErrOverflow is returned by Encode/EncodeWidth when the value exceeds 62 bits.
var ErrOverflow = fmt.Errorf("varint: value exceeds 62 bits")

// Width returns the number of bytes Encode would use for size, with no
// width hint (i.e. the minimal width).
func Width(size uint64) (int, error) {
	switch {
	case size <= max1:
		return 1, nil
	case size <= max2:
		return 2, nil
	case size <= max4:
		return 4, nil
	case size <= max8:
		return 8, nil
	default:
		return 0, ErrOverflow
	}
}

// Decode reads a varint starting at buf[0] and returns the decoded value
// and the number of bytes consumed. buf must have at least 1 byte.
func Decode(buf []byte) (uint64, int) {
	tag := buf[0] & tagMask
	switch tag {
	case tag1:
		return uint64(buf[0]), 1
	case tag2:
		var tmp [2]byte
		copy(tmp[:], buf[:2])
		tmp[0] &^= tagMask
		return uint64(binary.BigEndian.Uint16(tmp[:])), 2
	case tag4:
		var tmp [4]byte
		copy(tmp[:], buf[:4])
		tmp[0] &^= tagMask
		return uint64(binary.BigEndian.Uint32(tmp[:])), 4
	default: // tag8
		var tmp [8]byte
		copy(tmp[:], buf[:8])
		tmp[0] &^= tagMask
		return binary.BigEndian.Uint64(tmp[:]), 8
	}
}

// Encode appends the minimal-width encoding of size to dst and returns the
// result.
func Encode(dst []byte, size uint64) ([]byte, error) {
	return EncodeWidth(dst, size, 0)
}

// EncodeWidth appends the encoding of size to dst using the given width (1,
// 2, 4 or 8). A width of 0 selects the minimal width automatically. This is
// used by in-place rewrites that must preserve the byte layout of an
// existing record: callers pass the width the existing encoding already
// occupies so the rewrite never changes the record's total length.
func EncodeWidth(dst []byte, size uint64, width int) ([]byte, error) {
	switch {
	case (size <= max1 && width == 0) || width == 1:
		if size > max1 {
			return nil, ErrOverflow
		}
		return append(dst, tag1|byte(size)), nil
	case (size <= max2 && width == 0) || width == 2:
		if size > max2 {
			return nil, ErrOverflow
		}
		var tmp [2]byte
		binary.BigEndian.PutUint16(tmp[:], uint16(size))
		tmp[0] |= tag2
		return append(dst, tmp[:]...), nil
	case (size <= max4 && width == 0) || width == 4:
		if size > max4 {
			return nil, ErrOverflow
		}
		var tmp [4]byte
		binary.BigEndian.PutUint32(tmp[:], uint32(size))
		tmp[0] |= tag4
		return append(dst, tmp[:]...), nil
	case (size <= max8 && width == 0) || width == 8:
		if size > max8 {
			return nil, ErrOverflow
		}
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], size)
		tmp[0] |= tag8
		return append(dst, tmp[:]...), nil
	default:
		return nil, ErrOverflow
	}
}

// WidthOf inspects an already-encoded buffer's first byte and returns the
// total width (in bytes) of the encoding, without decoding the value.
func WidthOf(firstByte byte) int {
	switch firstByte & tagMask {
	case tag1:
		return 1
	case tag2:
		return 2
	case tag4:
		return 4
	default:
		return 8
	}
}
