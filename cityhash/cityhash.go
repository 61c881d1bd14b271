// Package cityhash implements CityHash64, the 64-bit non-cryptographic
// hash function the store package uses to compute bucket indices. It is a
// port of Google's public-domain CityHash64 algorithm, rewritten without
// pointer arithmetic.
package cityhash

import (
	"encoding/binary"
	"math/bits"
)

const (
	k0 = uint64(0xc3a5c85c97cb3127)
	k1 = uint64(0xb492b66fbe98f273)
	k2 = uint64(0x9ae16a3b2f90404f)
)

func fetch64(p []byte) uint64 {
	return binary.LittleEndian.Uint64(p)
}

func fetch32(p []byte) uint32 {
	return binary.LittleEndian.Uint32(p)
}

func rotate(val uint64, shift uint) uint64 {
	if shift == 0 {
		return val
	}
	return (val >> shift) | (val << (64 - shift))
}

func shiftMix(val uint64) uint64 {
	return val ^ (val >> 47)
}

func hash128to64(x, y uint64) uint64 {
	const mul = uint64(0x9ddfea08eb382d69)
	a := (x ^ y) * mul
	a ^= a >> 47
	b := (y ^ a) * mul
	b ^= b >> 47
	b *= mul
	return b
}

func hashLen16(u, v uint64) uint64 {
	return hash128to64(u, v)
}

func hashLen0to16(s []byte) uint64 {
	length := uint64(len(s))
	if length >= 8 {
		mul := k2 + length*2
		a := fetch64(s) + k2
		b := fetch64(s[len(s)-8:])
		c := rotate(b, 37)*mul + a
		d := (rotate(a, 25) + b) * mul
		return hashLen16(c, d) * mul
	}
	if length >= 4 {
		mul := k2 + length*2
		a := uint64(fetch32(s))
		return hashLen16(length+(a<<3), uint64(fetch32(s[len(s)-4:]))) * mul
	}
	if length > 0 {
		a := s[0]
		b := s[length/2]
		c := s[length-1]
		y := uint32(a) + (uint32(b) << 8)
		z := uint32(length) + (uint32(c) << 2)
		return shiftMix(uint64(y)*k2^uint64(z)*k0) * k2
	}
	return k2
}

func hashLen17to32(s []byte) uint64 {
	length := uint64(len(s))
	mul := k2 + length*2
	a := fetch64(s) * k1
	b := fetch64(s[8:])
	c := fetch64(s[len(s)-8:]) * mul
	d := fetch64(s[len(s)-16:]) * k2
	return hashLen16(rotate(a+b, 43)+rotate(c, 30)+d, a+rotate(b+k2, 18)+c) * mul
}

func weakHashLen32WithSeeds(w, x, y, z, a, b uint64) (uint64, uint64) {
	a += w
	b = rotate(b+a+z, 21)
	c := a
	a += x
	a += y
	b += rotate(a, 44)
	return a + z, b + c
}

func weakHashLen32WithSeedsBytes(s []byte, a, b uint64) (uint64, uint64) {
	return weakHashLen32WithSeeds(fetch64(s), fetch64(s[8:]), fetch64(s[16:]), fetch64(s[24:]), a, b)
}

func hashLen33to64(s []byte) uint64 {
	length := uint64(len(s))
	mul := k2 + length*2
	a := fetch64(s) * k2
	b := fetch64(s[8:])
	c := fetch64(s[len(s)-24:])
	d := fetch64(s[len(s)-32:])
	e := fetch64(s[16:]) * k2
	f := fetch64(s[24:]) * 9
	g := fetch64(s[len(s)-8:])
	h := fetch64(s[len(s)-16:]) * mul
	u := rotate(a+g, 43) + (rotate(b, 30)+c)*9
	v := ((a + g) ^ d) + f + 1
	w := bitswap64(u+v*mul) + h
	x := rotate(e+f, 42) + c
	y := (bitswap64(v+w*mul) + g) * mul
	z := e + f + c
	a = bitswap64((x+z)*mul+y) + b
	b = shiftMix((z+a)*mul+d+h) * mul
	return b + x
}

func bitswap64(v uint64) uint64 {
	return bits.ReverseBytes64(v)
}

// Hash64 computes CityHash64 over data. The value for a given input never
// changes across releases; bucket offsets persisted in index files depend
// on it.
func Hash64(data []byte) uint64 {
	n := len(data)
	if n <= 32 {
		if n <= 16 {
			return hashLen0to16(data)
		}
		return hashLen17to32(data)
	}
	if n <= 64 {
		return hashLen33to64(data)
	}

	x := fetch64(data[len(data)-40:])
	y := fetch64(data[len(data)-16:]) + fetch64(data[len(data)-56:])
	z := hashLen16(fetch64(data[len(data)-48:])+uint64(n), fetch64(data[len(data)-24:]))

	vFirst, vSecond := weakHashLen32WithSeedsBytes(data[len(data)-64:], uint64(n), z)
	wFirst, wSecond := weakHashLen32WithSeedsBytes(data[len(data)-32:], y+k1, x)
	x = x*k1 + fetch64(data)

	s := data
	length := n
	length = (length - 1) &^ 63
	for {
		x = rotate(x+vFirst+fetch64(s), 37) * k1
		y = rotate(y+vSecond+fetch64(s[48:]), 42) * k1
		x ^= wSecond
		y ^= vFirst
		z = rotate(z^wFirst, 33)
		vFirst, vSecond = weakHashLen32WithSeedsBytes(s, vSecond*k1, x+wFirst)
		wFirst, wSecond = weakHashLen32WithSeedsBytes(s[32:], z+wSecond, y)
		x, z = z, x
		s = s[64:]
		length -= 64
		if length == 0 {
			break
		}
	}

	return hashLen16(hashLen16(vFirst, wFirst)+shiftMix(y)*k1+z, hashLen16(vSecond, wSecond)+x)
}
