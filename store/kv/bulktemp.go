package kv

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/rpcpool/searchidx/mmapfile"
	"github.com/rpcpool/searchidx/varint"
)

// TempWriter appends length-prefixed frames to a spill file used during
// bulk ingest staging, trailing the file with an xxhash64 checksum of its
// body once closed. The merge phase uses the checksum to detect a
// truncated or corrupt spill file before trusting its contents, a concern
// distinct from the CityHash64 used for bucket hashing.
type TempWriter struct {
	f    *os.File
	w    *bufio.Writer
	hash *xxhash.Digest
}

// NewTempWriter creates a uniquely named temp file under dir.
func NewTempWriter(dir, prefix string) (*TempWriter, error) {
	name := fmt.Sprintf("%s-%s.tmp", prefix, uuid.NewString())
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIoOpen, err)
	}
	return &TempWriter{f: f, w: bufio.NewWriter(f), hash: xxhash.New()}, nil
}

// Path returns the temp file's path.
func (t *TempWriter) Path() string { return t.f.Name() }

// WriteFrame appends a varint-length-prefixed frame.
func (t *TempWriter) WriteFrame(b []byte) error {
	lbuf, err := varint.Encode(nil, uint64(len(b)))
	if err != nil {
		return err
	}
	if _, err := t.w.Write(lbuf); err != nil {
		return fmt.Errorf("%w: %v", ErrIoOpen, err)
	}
	if _, err := t.w.Write(b); err != nil {
		return fmt.Errorf("%w: %v", ErrIoOpen, err)
	}
	t.hash.Write(lbuf)
	t.hash.Write(b)
	return nil
}

// Close flushes, appends the trailing checksum, and closes the file.
func (t *TempWriter) Close() error {
	if err := t.w.Flush(); err != nil {
		return fmt.Errorf("%w: %v", ErrIoOpen, err)
	}
	var sum [8]byte
	binary.LittleEndian.PutUint64(sum[:], t.hash.Sum64())
	if _, err := t.f.Write(sum[:]); err != nil {
		return fmt.Errorf("%w: %v", ErrIoOpen, err)
	}
	return t.f.Close()
}

// TempReader memory-maps a file written by TempWriter and verifies its
// trailing checksum up front.
type TempReader struct {
	mf   *mmapfile.File
	data []byte // body, excluding the 8-byte trailer
}

// OpenTempReader opens and verifies path.
func OpenTempReader(path string) (*TempReader, error) {
	mf, err := mmapfile.Open(path, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIoOpen, err)
	}
	raw := mf.Bytes()
	if len(raw) < 8 {
		mf.Close()
		return nil, fmt.Errorf("%w: spill file too short", ErrFormatVersion)
	}
	body := raw[:len(raw)-8]
	wantSum := binary.LittleEndian.Uint64(raw[len(raw)-8:])
	if xxhash.Sum64(body) != wantSum {
		mf.Close()
		return nil, fmt.Errorf("%w: spill file checksum mismatch", ErrFormatVersion)
	}
	return &TempReader{mf: mf, data: body}, nil
}

// Bytes returns the verified frame stream, safe to read concurrently from
// multiple goroutines since it is never mutated after open.
func (r *TempReader) Bytes() []byte { return r.data }

// Close unmaps the temp file.
func (r *TempReader) Close() error { return r.mf.Close() }
