package kv

import "github.com/rpcpool/searchidx/varint"

// keyItem is the MultiValueStore per-key record:
//
//	nextKeyOffset (u64) | firstValueOffset (u64) | varint(keyLen) | key bytes
type keyItem struct {
	offset        uint64
	nextKeyOffset uint64
	firstValue    uint64
	key           []byte
	keyW          int
	size          int
}

func keyItemSize(keyLen int) (int, error) {
	kw, err := varint.Width(uint64(keyLen))
	if err != nil {
		return 0, ErrFormatOverflow
	}
	return 16 + kw + keyLen, nil
}

func writeKeyItem(data []byte, offset, nextKeyOffset uint64, key []byte, firstValueOffset uint64) int {
	writeU64(data, offset, nextKeyOffset)
	writeU64(data, offset+8, firstValueOffset)
	p := offset + 16
	kbuf, _ := varint.Encode(nil, uint64(len(key)))
	copy(data[p:], kbuf)
	p += uint64(len(kbuf))
	copy(data[p:], key)
	p += uint64(len(key))
	return int(p - offset)
}

func readKeyItem(data []byte, offset uint64) keyItem {
	next := readU64(data, offset)
	firstVal := readU64(data, offset+8)
	p := offset + 16
	keyLen, kw := varint.Decode(data[p:])
	p += uint64(kw)
	key := data[p : p+keyLen]
	p += keyLen
	return keyItem{
		offset:        offset,
		nextKeyOffset: next,
		firstValue:    firstVal,
		key:           key,
		keyW:          kw,
		size:          int(p - offset),
	}
}

func setKeyItemNext(data []byte, offset, next uint64) {
	writeU64(data, offset, next)
}

func setKeyItemFirstValue(data []byte, offset, firstValueOffset uint64) {
	writeU64(data, offset+8, firstValueOffset)
}

// valueItem is the MultiValueStore per-value record:
//
//	nextValueOffset (u64) | varint(valLen) | value bytes
type valueItem struct {
	offset uint64
	next   uint64
	val    []byte
	valW   int
	size   int
}

func valueItemSize(valLen int) (int, error) {
	vw, err := varint.Width(uint64(valLen))
	if err != nil {
		return 0, ErrFormatOverflow
	}
	return 8 + vw + valLen, nil
}

func writeValueItem(data []byte, offset, next uint64, val []byte) int {
	writeU64(data, offset, next)
	p := offset + 8
	vbuf, _ := varint.Encode(nil, uint64(len(val)))
	copy(data[p:], vbuf)
	p += uint64(len(vbuf))
	copy(data[p:], val)
	p += uint64(len(val))
	return int(p - offset)
}

func readValueItem(data []byte, offset uint64) valueItem {
	next := readU64(data, offset)
	p := offset + 8
	valLen, vw := varint.Decode(data[p:])
	p += uint64(vw)
	val := data[p : p+valLen]
	p += valLen
	return valueItem{offset: offset, next: next, val: val, valW: vw, size: int(p - offset)}
}

func setValueItemNext(data []byte, offset, next uint64) {
	writeU64(data, offset, next)
}
