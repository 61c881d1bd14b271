package kv

import "github.com/rpcpool/searchidx/varint"

// item is the SingleValueStore record layout:
//
//	nextOffset (u64) | varint(keyLen) | varint(valLen) | key bytes | value bytes
type item struct {
	offset uint64 // file offset this item starts at
	next   uint64
	key    []byte
	val    []byte
	keyW   int // byte width the keyLen varint occupies
	valW   int // byte width the valLen varint occupies
	size   int // total encoded size
}

func itemSize(keyLen, valLen int) (int, error) {
	kw, err := varint.Width(uint64(keyLen))
	if err != nil {
		return 0, ErrFormatOverflow
	}
	vw, err := varint.Width(uint64(valLen))
	if err != nil {
		return 0, ErrFormatOverflow
	}
	return 8 + kw + vw + keyLen + valLen, nil
}

// writeItem encodes a new item at data[offset:] and returns its size.
func writeItem(data []byte, offset, next uint64, key, val []byte) int {
	writeU64(data, offset, next)
	p := offset + 8
	kbuf, _ := varint.Encode(nil, uint64(len(key)))
	copy(data[p:], kbuf)
	p += uint64(len(kbuf))
	vbuf, _ := varint.Encode(nil, uint64(len(val)))
	copy(data[p:], vbuf)
	p += uint64(len(vbuf))
	copy(data[p:], key)
	p += uint64(len(key))
	copy(data[p:], val)
	p += uint64(len(val))
	return int(p - offset)
}

// readItem decodes the item at data[offset:].
func readItem(data []byte, offset uint64) item {
	next := readU64(data, offset)
	p := offset + 8
	keyLen, kw := varint.Decode(data[p:])
	p += uint64(kw)
	valLen, vw := varint.Decode(data[p:])
	p += uint64(vw)
	key := data[p : p+keyLen]
	p += keyLen
	val := data[p : p+valLen]
	p += valLen
	return item{
		offset: offset,
		next:   next,
		key:    key,
		val:    val,
		keyW:   kw,
		valW:   vw,
		size:   int(p - offset),
	}
}

func setItemNext(data []byte, offset, next uint64) {
	writeU64(data, offset, next)
}

// setItemValueInPlace rewrites it's value in place, preserving the
// existing valLen varint's byte width so the record's total length does
// not change. Callers must ensure len(newVal) <= len(it.val).
func setItemValueInPlace(data []byte, it item, newVal []byte) {
	lenOff := it.offset + 8 + uint64(it.keyW)
	valOff := lenOff + uint64(it.valW) + uint64(len(it.key))
	buf, _ := varint.EncodeWidth(nil, uint64(len(newVal)), it.valW)
	copy(data[lenOff:], buf)
	copy(data[valOff:], newVal)
}
