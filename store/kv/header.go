package kv

import "encoding/binary"

// Version is the on-disk format version written into every store file's
// header. Open and OpenList reject files whose header reports a different
// value, and IsFileVersionOk reports false for them.
const Version uint64 = 1

// Shared 100-byte header layout (offsets in bytes, u64 little-endian):
const (
	headerSize = 100

	offVersion    = 0
	offBucketCnt  = 8
	offWasted     = 16
	offNextData   = 24
	offNumItems   = 32
	offKeyCount   = 40 // MultiValueStore only; reserved (zero) in SingleValueStore
	bucketEntrySz = 8
)

func readU64(data []byte, off uint64) uint64 {
	return binary.LittleEndian.Uint64(data[off:])
}

func writeU64(data []byte, off, v uint64) {
	binary.LittleEndian.PutUint64(data[off:], v)
}

func tableOffset(data []byte, bucket uint64) uint64 {
	return readU64(data, headerSize+bucket*bucketEntrySz)
}

func setTableOffset(data []byte, bucket, offset uint64) {
	writeU64(data, headerSize+bucket*bucketEntrySz, offset)
}

// initHeader zeroes and writes a fresh header (and bucket table, implicitly
// zero) for a store with numBuckets slots, no keyCount field (set
// separately by MultiValueStore callers).
func initHeader(data []byte, numBuckets uint64) {
	for i := range data[:headerSize+numBuckets*bucketEntrySz] {
		data[i] = 0
	}
	writeU64(data, offVersion, Version)
	writeU64(data, offBucketCnt, numBuckets)
	writeU64(data, offWasted, 0)
	writeU64(data, offNextData, headerSize+numBuckets*bucketEntrySz)
	writeU64(data, offNumItems, 0)
}
