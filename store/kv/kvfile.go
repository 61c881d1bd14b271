// Package kv implements the two mmap-backed hashed byte stores this index
// is built on: SingleValueStore (bytes -> bytes) and MultiValueStore
// (bytes -> multiset of bytes). Both are hash tables over a memory-mapped
// file, with in-place updates when a value shrinks, append-only growth
// otherwise, and periodic rebuilds that reclaim wasted arena space.
//
// Neither store is safe for concurrent use on its own, beyond the bulk
// import entry points (BulkStart/BulkInsert/BulkStop), which serialise
// arena-stripe allocation through an internal mutex. Serialising ordinary
// Set/Get/Remove calls is the caller's job; the index package's Indexer
// does this with a single exclusive mutex, matching the file format's "no
// other thread may open the same index file concurrently" contract.
package kv

import (
	"fmt"
	"os"
	"sync"

	"github.com/dustin/go-humanize"
	logging "github.com/ipfs/go-log/v2"

	"github.com/rpcpool/searchidx/cityhash"
	"github.com/rpcpool/searchidx/mmapfile"
)

var logKV = logging.Logger("searchidx/store/kv")

const defaultTabSize = primesForTabSizeFirst

// primesForTabSizeFirst is the smallest entry of primesForTabSize, used as
// the initial bucket count for a freshly created store.
const primesForTabSizeFirst = 101

// SingleValueStore is a hash map from arbitrary byte keys to arbitrary byte
// values, backed by a single memory-mapped file. See package doc for the
// on-disk layout.
type SingleValueStore struct {
	path   string
	mf     *mmapfile.File
	buf    []byte // non-nil only for transient rebuild-scratch instances
	locked bool
	cfg    config
	imp    *importCtx
}

// Open opens path, creating a fresh file if none exists. Options tune the
// initial bucket count, the rebuild memory budget and the arena growth
// steps; an existing file keeps the bucket count in its header.
func Open(path string, opts ...Option) (*SingleValueStore, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}

	ok, err := IsFileVersionOk(path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrFormatVersion)
	}

	initialSize := int64(headerSize + cfg.initialBuckets*bucketEntrySz)
	mf, err := mmapfile.Open(path, initialSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrIoOpen, path, err)
	}

	s := &SingleValueStore{path: path, mf: mf, cfg: cfg}
	if readU64(s.data(), offVersion) == 0 {
		// freshly created empty file: write the header now.
		initHeader(s.data(), cfg.initialBuckets)
	}
	return s, nil
}

// IsFileVersionOk reports whether path either does not exist (fine - it
// will be created) or carries a header whose version matches Version.
func IsFileVersionOk(path string) (bool, error) {
	fi, err := os.Stat(path)
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrIoOpen, err)
	}
	if fi.Size() == 0 {
		return false, nil
	}
	if fi.Size() < headerSize {
		return false, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrIoOpen, err)
	}
	defer f.Close()
	var hdr [8]byte
	if _, err := f.ReadAt(hdr[:], offVersion); err != nil {
		return false, fmt.Errorf("%w: %v", ErrIoOpen, err)
	}
	ver := uint64(hdr[0]) | uint64(hdr[1])<<8 | uint64(hdr[2])<<16 | uint64(hdr[3])<<24 |
		uint64(hdr[4])<<32 | uint64(hdr[5])<<40 | uint64(hdr[6])<<48 | uint64(hdr[7])<<56
	return ver == Version, nil
}

func (s *SingleValueStore) data() []byte {
	if s.buf != nil {
		return s.buf
	}
	return s.mf.Bytes()
}

func (s *SingleValueStore) numBuckets() uint64    { return readU64(s.data(), offBucketCnt) }
func (s *SingleValueStore) wasted() uint64        { return readU64(s.data(), offWasted) }
func (s *SingleValueStore) setWasted(v uint64)    { writeU64(s.data(), offWasted, v) }
func (s *SingleValueStore) nextDataOffset() uint64 { return readU64(s.data(), offNextData) }
func (s *SingleValueStore) setNextDataOffset(v uint64) {
	writeU64(s.data(), offNextData, v)
}
func (s *SingleValueStore) numItems() uint64     { return readU64(s.data(), offNumItems) }
func (s *SingleValueStore) setNumItems(v uint64) { writeU64(s.data(), offNumItems, v) }

// NumItems is the exported accessor used by the indexer for size queries.
func (s *SingleValueStore) NumItems() uint64  { return s.numItems() }
func (s *SingleValueStore) NumBuckets() uint64 { return s.numBuckets() }
func (s *SingleValueStore) Wasted() uint64     { return s.wasted() }

// FileSize returns the current size in bytes of the backing store.
func (s *SingleValueStore) FileSize() int {
	return len(s.data())
}

func (s *SingleValueStore) calcHash(key []byte) uint64 {
	return cityhash.Hash64(key)
}

func calcBucketFromHash(hash, numBuckets uint64) uint64 {
	return hash % numBuckets
}

func (s *SingleValueStore) calcBucket(key []byte) uint64 {
	return calcBucketFromHash(s.calcHash(key), s.numBuckets())
}

func (s *SingleValueStore) firstItem(bucket uint64) (item, bool) {
	off := tableOffset(s.data(), bucket)
	if off == 0 {
		return item{}, false
	}
	return readItem(s.data(), off), true
}

func (s *SingleValueStore) nextItem(it item) (item, bool) {
	if it.next == 0 {
		return item{}, false
	}
	return readItem(s.data(), it.next), true
}

// findInternal walks bucket's chain looking for key. It returns the file
// offset of the predecessor item (0 if key's item is the bucket head) and
// the matching item.
func (s *SingleValueStore) findInternal(bucket uint64, key []byte) (prevOffset uint64, found item, ok bool) {
	it, has := s.firstItem(bucket)
	var prev uint64
	for has {
		if string(it.key) == string(key) {
			return prev, it, true
		}
		prev = it.offset
		it, has = s.nextItem(it)
	}
	return 0, item{}, false
}

func (s *SingleValueStore) setInternal(bucket uint64, key, val []byte) {
	prevOffset, found, ok := s.findInternal(bucket, key)

	var prevOff, nextOff uint64
	if ok {
		if len(val) <= len(found.val) {
			wasteDelta := len(found.val) - len(val)
			setItemValueInPlace(s.data(), found, val)
			if wasteDelta != 0 {
				s.setWasted(s.wasted() + uint64(wasteDelta))
			}
			return
		}
		s.setWasted(s.wasted() + uint64(found.size))
		prevOff = prevOffset
		nextOff = found.next
	} else {
		prevOff = 0
		nextOff = tableOffset(s.data(), bucket)
		s.setNumItems(s.numItems() + 1)
	}

	myOffset := s.nextDataOffset()
	sz := writeItem(s.data(), myOffset, nextOff, key, val)
	s.setNextDataOffset(myOffset + uint64(sz))

	if prevOff == 0 {
		setTableOffset(s.data(), bucket, myOffset)
	} else {
		setItemNext(s.data(), prevOff, myOffset)
	}
}

func (s *SingleValueStore) removeInternal(bucket uint64, key []byte) {
	prevOffset, found, ok := s.findInternal(bucket, key)
	if !ok {
		return
	}
	s.setNumItems(s.numItems() - 1)
	s.setWasted(s.wasted() + uint64(found.size))
	if prevOffset == 0 {
		setTableOffset(s.data(), bucket, found.next)
	} else {
		setItemNext(s.data(), prevOffset, found.next)
	}
}

// Set inserts or updates key -> val.
func (s *SingleValueStore) Set(key, val []byte) error {
	if err := s.ensureTableSize(1); err != nil {
		return err
	}
	bucket := s.calcBucket(key)
	sz, err := itemSize(len(key), len(val))
	if err != nil {
		return err
	}
	if err := s.ensureFreeSpace(uint64(sz)); err != nil {
		return err
	}
	s.setInternal(bucket, key, val)
	return s.ensureOptimalWaste()
}

// Get returns the value for key, or (nil, false) if absent. The returned
// slice aliases the mapped file and is invalid after any mutating call.
func (s *SingleValueStore) Get(key []byte) ([]byte, bool) {
	bucket := s.calcBucket(key)
	_, found, ok := s.findInternal(bucket, key)
	if !ok {
		return nil, false
	}
	return found.val, true
}

// Remove deletes key, if present.
func (s *SingleValueStore) Remove(key []byte) error {
	bucket := s.calcBucket(key)
	s.removeInternal(bucket, key)
	return s.ensureOptimalWaste()
}

// AllItems iterates every (key, value) pair. yield's slices alias the
// mapped file and are invalid once AllItems returns.
func (s *SingleValueStore) AllItems(yield func(key, val []byte) bool) {
	numB := s.numBuckets()
	for b := uint64(0); b < numB; b++ {
		it, has := s.firstItem(b)
		for has {
			if !yield(it.key, it.val) {
				return
			}
			it, has = s.nextItem(it)
		}
	}
}

func (s *SingleValueStore) forEachItem(f func(key, val []byte)) {
	s.AllItems(func(key, val []byte) bool {
		f(key, val)
		return true
	})
}

func (s *SingleValueStore) ensureFreeSpace(additional uint64) error {
	if s.buf != nil {
		return nil // transient rebuild-scratch object: presized exactly
	}
	cur := uint64(len(s.data()))
	minSize := s.nextDataOffset() + additional
	if minSize <= cur {
		return nil
	}
	var newSize uint64
	if cur < growthStepThreshold {
		newSize = cur + s.cfg.growthStepSmall
	} else {
		newSize = cur + s.cfg.growthStepLarge
	}
	if minSize > newSize {
		newSize = minSize + uint64(float64(additional)*growthOverflowFrac)
	}
	if err := s.mf.Resize(int64(newSize)); err != nil {
		return fmt.Errorf("%w: %v", ErrIoResize, err)
	}
	return nil
}

func (s *SingleValueStore) ensureTableSize(additional int64) error {
	if s.locked {
		return nil
	}
	num := int64(s.numItems()) + additional
	fact := float64(num) / float64(s.numBuckets())
	if fact <= 1.4 && fact >= 0.3 {
		return nil
	}
	if fact < 1 && s.numBuckets() <= 101 {
		return nil
	}

	var tabSize uint64
	var err error
	if fact > 1 {
		tabSize, err = findTabSizePrimeDouble(uint64(float64(num) * 1.8))
	} else {
		tabSize, err = findTabSizePrimeDouble(uint64(num))
	}
	if err != nil {
		return err
	}
	if tabSize == s.numBuckets() {
		return nil
	}
	contentSize := uint64(len(s.data())) - s.numBuckets()*bucketEntrySz
	return s.rebuild(tabSize, contentSize)
}

func (s *SingleValueStore) ensureOptimalWaste() error {
	if s.locked {
		return nil
	}
	if s.wasted() < wasteThresholdNormal {
		return nil
	}
	contentSize := uint64(len(s.data())) - headerSize - s.numBuckets()*bucketEntrySz
	return s.rebuild(s.numBuckets(), contentSize)
}

// Optimize rebuilds the table to a size proportional to the current item
// count if the load factor has drifted, reclaims waste if it has crossed
// the (smaller) optimize-time threshold, or otherwise just truncates the
// file to its used length.
func (s *SingleValueStore) Optimize() error {
	s.locked = false
	fact := float64(s.numItems()) / float64(s.numBuckets())
	if fact > 1.05 || fact < 0.6 {
		tabSize, err := findTabSizePrime(uint64(float64(s.numItems()) / 0.8))
		if err != nil {
			return err
		}
		contentSize := s.nextDataOffset() - headerSize - s.numBuckets()*bucketEntrySz - s.wasted()
		return s.rebuild(tabSize, contentSize)
	}
	if s.wasted() > wasteThresholdOpt {
		contentSize := s.nextDataOffset() - headerSize - s.numBuckets()*bucketEntrySz - s.wasted()
		return s.rebuild(s.numBuckets(), contentSize)
	}
	if s.buf != nil {
		return nil
	}
	return s.mf.Resize(int64(s.nextDataOffset()))
}

// LockTableForNumItems pre-sizes the bucket table for an expected n items
// (used before a bulk-merge phase) and suppresses ensureTableSize /
// ensureOptimalWaste until UnlockTable is called.
func (s *SingleValueStore) LockTableForNumItems(n uint64) error {
	s.locked = true
	fact := float64(n) / float64(s.numBuckets())
	if fact < 0.9 && fact > 0.6 {
		return nil
	}
	tabSize, err := findTabSizePrime(uint64(float64(n) / 0.8))
	if err != nil {
		return err
	}
	contentSize := uint64(len(s.data())) - headerSize - s.numBuckets()*bucketEntrySz - s.wasted()
	return s.rebuild(tabSize, contentSize)
}

// UnlockTable re-enables automatic sizing policies.
func (s *SingleValueStore) UnlockTable() { s.locked = false }

// rebuild ("change table") rehashes every item into a freshly sized table,
// either in an anonymous in-memory buffer or a temp file, per the RAM
// heuristic, then replaces the live backing store.
func (s *SingleValueStore) rebuild(newBucketCount, contentSize uint64) error {
	if s.buf != nil {
		return ErrInvariantViolation
	}

	newSize := headerSize + newBucketCount*bucketEntrySz + contentSize
	useBuf := fitsInMemory(newSize, s.cfg.memoryBudget)

	logKV.Infow("rebuilding single-value store", "path", s.path, "newBuckets", newBucketCount,
		"newSize", humanize.Bytes(newSize), "inMemory", useBuf)

	if !useBuf {
		tmpPath := s.path + ".tmp"
		mf, err := mmapfile.Open(tmpPath, int64(newSize))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrIoOpen, err)
		}
		if err := mf.Resize(int64(newSize)); err != nil {
			mf.Close()
			return fmt.Errorf("%w: %v", ErrIoResize, err)
		}
		fileDst := &SingleValueStore{path: tmpPath, mf: mf, locked: true, cfg: s.cfg}
		initHeader(fileDst.data(), newBucketCount)
		s.forEachItem(func(key, val []byte) {
			bucket := fileDst.calcBucket(key)
			fileDst.setInternal(bucket, key, val)
		})
		if err := s.mf.Close(); err != nil {
			fileDst.Close()
			return err
		}
		if err := fileDst.Close(); err != nil {
			return err
		}
		if err := os.Rename(tmpPath, s.path); err != nil {
			return fmt.Errorf("%w: %v", ErrIoOpen, err)
		}
		mf2, err := mmapfile.Open(s.path, int64(newSize))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrIoOpen, err)
		}
		s.mf = mf2
		return nil
	}

	dst := &SingleValueStore{buf: make([]byte, newSize), locked: true, cfg: s.cfg}
	initHeader(dst.data(), newBucketCount)
	s.forEachItem(func(key, val []byte) {
		bucket := dst.calcBucket(key)
		dst.setInternal(bucket, key, val)
	})

	if err := s.mf.Resize(int64(newSize)); err != nil {
		return fmt.Errorf("%w: %v", ErrIoResize, err)
	}
	copy(s.mf.Bytes(), dst.buf)
	return nil
}

// Close unmaps and closes the backing file.
func (s *SingleValueStore) Close() error {
	if s.mf == nil {
		return nil
	}
	return s.mf.Close()
}

// Sync flushes dirty pages.
func (s *SingleValueStore) Sync() error {
	if s.mf == nil {
		return nil
	}
	return s.mf.Sync()
}

// Clear truncates and reinitialises the store as if freshly created.
func (s *SingleValueStore) Clear() error {
	if err := s.mf.Close(); err != nil {
		return err
	}
	initialSize := int64(headerSize + s.cfg.initialBuckets*bucketEntrySz)
	if err := os.Truncate(s.path, 0); err != nil {
		return fmt.Errorf("%w: %v", ErrIoResize, err)
	}
	if err := os.Truncate(s.path, initialSize); err != nil {
		return fmt.Errorf("%w: %v", ErrIoResize, err)
	}
	mf, err := mmapfile.Open(s.path, initialSize)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIoOpen, err)
	}
	s.mf = mf
	initHeader(s.data(), s.cfg.initialBuckets)
	s.locked = false
	s.imp = nil
	return nil
}

// --- bulk import ---

type stripe struct{ start, end uint64 }

// importCtx tracks per-thread arena stripes during a bulk-merge phase. Its
// mutex is held for the full duration of each BulkInsert call, serialising
// lookup, stripe allocation and the value write together: simpler than
// fine-grained locking and safe against the mmap remap a stripe enlarge
// can trigger mid-insert.
type importCtx struct {
	mu       sync.Mutex
	numItems uint64
	wasted   uint64
	stripes  []stripe
}

// BulkStart begins a bulk-merge phase with the given thread count.
func (s *SingleValueStore) BulkStart(numThreads int) error {
	if s.imp != nil {
		return ErrInvariantViolation
	}
	s.imp = &importCtx{
		numItems: s.numItems(),
		wasted:   s.wasted(),
		stripes:  make([]stripe, numThreads),
	}
	return nil
}

// BulkStop ends the bulk-merge phase, flushing the accumulated item/waste
// counters to the header.
func (s *SingleValueStore) BulkStop() error {
	if s.imp == nil {
		return ErrInvariantViolation
	}
	for _, st := range s.imp.stripes {
		s.imp.wasted += st.end - st.start
	}
	s.setNumItems(s.imp.numItems)
	s.setWasted(s.imp.wasted)
	s.imp = nil
	return nil
}

// bulkInsertEnlarge reserves a new stripe for nthThread, compacting the
// store first if cumulative bulk waste has crossed the bulk threshold.
// Callers must hold s.imp.mu.
func (s *SingleValueStore) bulkInsertEnlarge(nthThread, numThreads int) error {
	st := &s.imp.stripes[nthThread]
	diff := st.end - st.start
	s.imp.wasted += diff
	st.start, st.end = 0, 0

	s.setWasted(s.imp.wasted)
	s.setNumItems(s.imp.numItems)

	if s.imp.wasted > wasteThresholdBulk {
		for i := range s.imp.stripes {
			d := s.imp.stripes[i].end - s.imp.stripes[i].start
			if d > 0 {
				s.setWasted(s.wasted() + d)
			}
			s.imp.stripes[i] = stripe{}
		}
		contentSize := s.nextDataOffset() - headerSize - s.numBuckets()*bucketEntrySz - s.wasted()
		if err := s.rebuild(s.numBuckets(), contentSize); err != nil {
			return err
		}
		s.imp.wasted = s.wasted()
	}

	if err := s.ensureFreeSpace(bulkStripeSize); err != nil {
		return err
	}
	st.start = s.nextDataOffset()
	st.end = st.start + bulkStripeSize
	s.setNextDataOffset(st.end)
	return nil
}

// CalcBucketFromHash exposes the bucket computation for callers (the bulk
// merge coordinator in package index) that have already hashed a key and
// need to partition work by bucket range before calling BulkInsert.
func (s *SingleValueStore) CalcBucketFromHash(hash uint64, numBuckets uint64) uint64 {
	return calcBucketFromHash(hash, numBuckets)
}

// CalcHash returns this store's key hash (CityHash64).
func (s *SingleValueStore) CalcHash(key []byte) uint64 { return s.calcHash(key) }

// BulkIsInThread reports whether bucket falls within nthThread's partition
// of [0, numBuckets) when numBuckets is split into numThreads contiguous
// ranges (the last thread absorbs any remainder).
func BulkIsInThread(bucket uint64, nthThread, numThreads int, numBuckets uint64) bool {
	if numThreads == 1 {
		return true
	}
	perThread := numBuckets / uint64(numThreads)
	start := uint64(nthThread) * perThread
	if bucket < start {
		return false
	}
	if bucket < start+perThread {
		return true
	}
	return nthThread+1 == numThreads
}

// BulkInsert inserts (key, val) into bucket using nthThread's arena stripe.
// Must be called only between BulkStart and BulkStop, and only for buckets
// BulkIsInThread assigns to nthThread.
func (s *SingleValueStore) BulkInsert(bucket uint64, key, val []byte, nthThread, numThreads int) error {
	sz, err := itemSize(len(key), len(val))
	if err != nil {
		return err
	}
	if uint64(sz) > bulkStripeSize {
		return ErrBulkOversizedItem
	}

	s.imp.mu.Lock()
	defer s.imp.mu.Unlock()

	for {
		st := s.imp.stripes[nthThread]
		if uint64(sz) > st.end-st.start {
			if err := s.bulkInsertEnlarge(nthThread, numThreads); err != nil {
				return err
			}
			continue
		}
		break
	}

	prevOffset, found, ok := s.findInternal(bucket, key)
	var prevOff, nextOff uint64
	if ok {
		if len(val) <= len(found.val) {
			wasteDelta := len(found.val) - len(val)
			setItemValueInPlace(s.data(), found, val)
			if wasteDelta != 0 {
				s.imp.wasted += uint64(wasteDelta)
			}
			return nil
		}
		s.imp.wasted += uint64(found.size)
		prevOff = prevOffset
		nextOff = found.next
	} else {
		prevOff = 0
		nextOff = tableOffset(s.data(), bucket)
		s.imp.numItems++
	}

	myOffset := s.imp.stripes[nthThread].start
	sz2 := writeItem(s.data(), myOffset, nextOff, key, val)
	s.imp.stripes[nthThread].start += uint64(sz2)

	if prevOff == 0 {
		setTableOffset(s.data(), bucket, myOffset)
	} else {
		setItemNext(s.data(), prevOff, myOffset)
	}
	return nil
}

// BulkRemove removes key from bucket during a bulk-merge phase.
func (s *SingleValueStore) BulkRemove(bucket uint64, key []byte, _ int, _ int) error {
	s.imp.mu.Lock()
	defer s.imp.mu.Unlock()

	prevOffset, found, ok := s.findInternal(bucket, key)
	if !ok {
		return nil
	}
	s.imp.numItems--
	s.imp.wasted += uint64(found.size)
	if prevOffset == 0 {
		setTableOffset(s.data(), bucket, found.next)
	} else {
		setItemNext(s.data(), prevOffset, found.next)
	}
	return nil
}
