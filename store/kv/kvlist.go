package kv

import (
	"fmt"
	"os"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/rpcpool/searchidx/cityhash"
	"github.com/rpcpool/searchidx/mmapfile"
)

// MultiValueStore is a hash map from arbitrary byte keys to a multiset of
// arbitrary byte values, backed by a single memory-mapped file. Each bucket
// holds a chain of keyItems; each keyItem in turn heads its own chain of
// valueItems. See package doc for the on-disk layout.
type MultiValueStore struct {
	path   string
	mf     *mmapfile.File
	buf    []byte // non-nil only for transient rebuild-scratch instances
	locked bool
	cfg    config
	imp    *importCtxList
}

// OpenList opens path, creating a fresh file if none exists. Options tune
// the initial bucket count, the rebuild memory budget and the arena growth
// steps; an existing file keeps the bucket count in its header.
func OpenList(path string, opts ...Option) (*MultiValueStore, error) {
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

	s := &MultiValueStore{path: path, mf: mf, cfg: cfg}
	if readU64(s.data(), offVersion) == 0 {
		initHeader(s.data(), cfg.initialBuckets)
	}
	return s, nil
}

func (s *MultiValueStore) data() []byte {
	if s.buf != nil {
		return s.buf
	}
	return s.mf.Bytes()
}

func (s *MultiValueStore) numBuckets() uint64 { return readU64(s.data(), offBucketCnt) }
func (s *MultiValueStore) wasted() uint64     { return readU64(s.data(), offWasted) }
func (s *MultiValueStore) setWasted(v uint64) { writeU64(s.data(), offWasted, v) }
func (s *MultiValueStore) nextDataOffset() uint64 {
	return readU64(s.data(), offNextData)
}
func (s *MultiValueStore) setNextDataOffset(v uint64) {
	writeU64(s.data(), offNextData, v)
}
func (s *MultiValueStore) numItems() uint64     { return readU64(s.data(), offNumItems) }
func (s *MultiValueStore) setNumItems(v uint64) { writeU64(s.data(), offNumItems, v) }
func (s *MultiValueStore) keyCount() uint64     { return readU64(s.data(), offKeyCount) }
func (s *MultiValueStore) setKeyCount(v uint64) { writeU64(s.data(), offKeyCount, v) }

// NumItems returns the total number of (key, value) pairs stored.
func (s *MultiValueStore) NumItems() uint64 { return s.numItems() }

// NumKeys returns the number of distinct keys stored.
func (s *MultiValueStore) NumKeys() uint64  { return s.keyCount() }
func (s *MultiValueStore) NumBuckets() uint64 { return s.numBuckets() }
func (s *MultiValueStore) Wasted() uint64     { return s.wasted() }

// FileSize returns the current size in bytes of the backing store.
func (s *MultiValueStore) FileSize() int { return len(s.data()) }

func (s *MultiValueStore) calcHash(key []byte) uint64 {
	return cityhash.Hash64(key)
}

func (s *MultiValueStore) calcBucket(key []byte) uint64 {
	return calcBucketFromHash(s.calcHash(key), s.numBuckets())
}

func (s *MultiValueStore) firstKeyItem(bucket uint64) (keyItem, bool) {
	off := tableOffset(s.data(), bucket)
	if off == 0 {
		return keyItem{}, false
	}
	return readKeyItem(s.data(), off), true
}

func (s *MultiValueStore) nextKeyItem(it keyItem) (keyItem, bool) {
	if it.nextKeyOffset == 0 {
		return keyItem{}, false
	}
	return readKeyItem(s.data(), it.nextKeyOffset), true
}

func (s *MultiValueStore) firstValueItem(ki keyItem) (valueItem, bool) {
	if ki.firstValue == 0 {
		return valueItem{}, false
	}
	return readValueItem(s.data(), ki.firstValue), true
}

func (s *MultiValueStore) nextValueItem(vi valueItem) (valueItem, bool) {
	if vi.next == 0 {
		return valueItem{}, false
	}
	return readValueItem(s.data(), vi.next), true
}

// findKeyInternal walks bucket's chain of keyItems for key. prevOffset is
// the offset of the preceding keyItem (0 if key's item is the bucket head).
func (s *MultiValueStore) findKeyInternal(bucket uint64, key []byte) (prevOffset uint64, found keyItem, ok bool) {
	it, has := s.firstKeyItem(bucket)
	var prev uint64
	for has {
		if string(it.key) == string(key) {
			return prev, it, true
		}
		prev = it.offset
		it, has = s.nextKeyItem(it)
	}
	return 0, keyItem{}, false
}

// findValueInternal walks ki's value chain for val. prevOffset is the
// offset of the preceding valueItem (0 if val's item is the chain head).
func (s *MultiValueStore) findValueInternal(ki keyItem, val []byte) (prevOffset uint64, found valueItem, ok bool) {
	vi, has := s.firstValueItem(ki)
	var prev uint64
	for has {
		if string(vi.val) == string(val) {
			return prev, vi, true
		}
		prev = vi.offset
		vi, has = s.nextValueItem(vi)
	}
	return 0, valueItem{}, false
}

// setInternal inserts (key, val), appending val to key's existing value
// chain (and creating the key's chain if this is its first value). A
// (key, val) pair that already exists is a no-op, matching the dedup
// check the bulk merge path also performs.
func (s *MultiValueStore) setInternal(bucket uint64, key, val []byte) {
	_, foundKey, keyOk := s.findKeyInternal(bucket, key)

	if keyOk {
		if _, _, valOk := s.findValueInternal(foundKey, val); valOk {
			return
		}
		valOff := s.nextDataOffset()
		sz := writeValueItem(s.data(), valOff, foundKey.firstValue, val)
		s.setNextDataOffset(valOff + uint64(sz))
		setKeyItemFirstValue(s.data(), foundKey.offset, valOff)
		s.setNumItems(s.numItems() + 1)
		return
	}

	valOff := s.nextDataOffset()
	valSz := writeValueItem(s.data(), valOff, 0, val)
	keyOff := valOff + uint64(valSz)

	nextKeyOff := tableOffset(s.data(), bucket)
	keySz := writeKeyItem(s.data(), keyOff, nextKeyOff, key, valOff)
	s.setNextDataOffset(keyOff + uint64(keySz))

	setTableOffset(s.data(), bucket, keyOff)
	s.setNumItems(s.numItems() + 1)
	s.setKeyCount(s.keyCount() + 1)
}

// removeInternal removes a single (key, val) occurrence. If val is nil, it
// removes every value associated with key (and the key itself).
func (s *MultiValueStore) removeInternal(bucket uint64, key, val []byte) {
	prevKeyOff, foundKey, keyOk := s.findKeyInternal(bucket, key)
	if !keyOk {
		return
	}

	if val == nil {
		vi, has := s.firstValueItem(foundKey)
		var n uint64
		for has {
			n++
			s.setWasted(s.wasted() + uint64(vi.size))
			vi, has = s.nextValueItem(vi)
		}
		s.setNumItems(s.numItems() - n)
		s.setWasted(s.wasted() + uint64(foundKey.size))
		s.setKeyCount(s.keyCount() - 1)
		if prevKeyOff == 0 {
			setTableOffset(s.data(), bucket, foundKey.nextKeyOffset)
		} else {
			setKeyItemNext(s.data(), prevKeyOff, foundKey.nextKeyOffset)
		}
		return
	}

	prevValOff, foundVal, valOk := s.findValueInternal(foundKey, val)
	if !valOk {
		return
	}
	s.setNumItems(s.numItems() - 1)
	s.setWasted(s.wasted() + uint64(foundVal.size))
	if prevValOff == 0 {
		setKeyItemFirstValue(s.data(), foundKey.offset, foundVal.next)
	} else {
		setValueItemNext(s.data(), prevValOff, foundVal.next)
	}

	// if that was the key's last value, unlink the key itself too.
	if _, stillHas := s.firstValueItem(readKeyItem(s.data(), foundKey.offset)); !stillHas {
		s.setKeyCount(s.keyCount() - 1)
		s.setWasted(s.wasted() + uint64(foundKey.size))
		if prevKeyOff == 0 {
			setTableOffset(s.data(), bucket, foundKey.nextKeyOffset)
		} else {
			setKeyItemNext(s.data(), prevKeyOff, foundKey.nextKeyOffset)
		}
	}
}

// Set inserts (key, val) if not already present.
func (s *MultiValueStore) Set(key, val []byte) error {
	if err := s.ensureTableSize(1); err != nil {
		return err
	}
	bucket := s.calcBucket(key)

	_, foundKey, keyOk := s.findKeyInternal(bucket, key)
	var sz int
	var err error
	if keyOk {
		if _, _, valOk := s.findValueInternal(foundKey, val); valOk {
			return nil
		}
		sz, err = valueItemSize(len(val))
	} else {
		var vsz, ksz int
		vsz, err = valueItemSize(len(val))
		if err == nil {
			ksz, err = keyItemSize(len(key))
		}
		sz = vsz + ksz
	}
	if err != nil {
		return err
	}
	if err := s.ensureFreeSpace(uint64(sz)); err != nil {
		return err
	}
	s.setInternal(bucket, key, val)
	return s.ensureOptimalWaste()
}

// Exists reports whether (key, val) is present.
func (s *MultiValueStore) Exists(key, val []byte) bool {
	bucket := s.calcBucket(key)
	_, foundKey, keyOk := s.findKeyInternal(bucket, key)
	if !keyOk {
		return false
	}
	_, _, valOk := s.findValueInternal(foundKey, val)
	return valOk
}

// HasKey reports whether key has at least one associated value.
func (s *MultiValueStore) HasKey(key []byte) bool {
	bucket := s.calcBucket(key)
	_, _, ok := s.findKeyInternal(bucket, key)
	return ok
}

// GetAll yields every value associated with key, walking the key's value
// chain from its head. Set links each new value at the head, so values come
// most-recently-set-first until the next rebuild; a rebuild re-links each
// chain in reverse, so the order is not stable across rebuilds. The slices
// alias the mapped file and are invalid after any mutating call.
func (s *MultiValueStore) GetAll(key []byte, yield func(val []byte) bool) {
	bucket := s.calcBucket(key)
	_, foundKey, ok := s.findKeyInternal(bucket, key)
	if !ok {
		return
	}
	vi, has := s.firstValueItem(foundKey)
	for has {
		if !yield(vi.val) {
			return
		}
		vi, has = s.nextValueItem(vi)
	}
}

// Remove deletes the single (key, val) pair, if present.
func (s *MultiValueStore) Remove(key, val []byte) error {
	bucket := s.calcBucket(key)
	s.removeInternal(bucket, key, val)
	return s.ensureOptimalWaste()
}

// RemoveKey deletes key and every value associated with it.
func (s *MultiValueStore) RemoveKey(key []byte) error {
	bucket := s.calcBucket(key)
	s.removeInternal(bucket, key, nil)
	return s.ensureOptimalWaste()
}

// AllItems iterates every (key, value) pair, grouped by key. yield's
// slices alias the mapped file and are invalid once AllItems returns.
func (s *MultiValueStore) AllItems(yield func(key, val []byte) bool) {
	numB := s.numBuckets()
	for b := uint64(0); b < numB; b++ {
		ki, hasKey := s.firstKeyItem(b)
		for hasKey {
			vi, hasVal := s.firstValueItem(ki)
			for hasVal {
				if !yield(ki.key, vi.val) {
					return
				}
				vi, hasVal = s.nextValueItem(vi)
			}
			ki, hasKey = s.nextKeyItem(ki)
		}
	}
}

func (s *MultiValueStore) forEachItem(f func(key, val []byte)) {
	s.AllItems(func(key, val []byte) bool {
		f(key, val)
		return true
	})
}

func (s *MultiValueStore) ensureFreeSpace(additional uint64) error {
	if s.buf != nil {
		return nil
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

// ensureTableSize re-sizes the bucket table based on keyCount (not the
// total value count): distinct keys are what determine chain length per
// bucket.
func (s *MultiValueStore) ensureTableSize(additional int64) error {
	if s.locked {
		return nil
	}
	num := int64(s.keyCount()) + additional
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

func (s *MultiValueStore) ensureOptimalWaste() error {
	if s.locked {
		return nil
	}
	if s.wasted() < wasteThresholdNormal {
		return nil
	}
	contentSize := uint64(len(s.data())) - headerSize - s.numBuckets()*bucketEntrySz
	return s.rebuild(s.numBuckets(), contentSize)
}

// Optimize rebuilds the table to a size proportional to the current key
// count if the load factor has drifted, reclaims waste if it has crossed
// the (smaller) optimize-time threshold, or otherwise just truncates the
// file to its used length.
func (s *MultiValueStore) Optimize() error {
	s.locked = false
	fact := float64(s.keyCount()) / float64(s.numBuckets())
	if fact > 1.05 || fact < 0.6 {
		tabSize, err := findTabSizePrime(uint64(float64(s.keyCount()) / 0.8))
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

// LockTableForNumKeys pre-sizes the bucket table for an expected n distinct
// keys (used before a bulk-merge phase) and suppresses ensureTableSize /
// ensureOptimalWaste until UnlockTable is called.
func (s *MultiValueStore) LockTableForNumKeys(n uint64) error {
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
func (s *MultiValueStore) UnlockTable() { s.locked = false }

// rebuild ("change table") rehashes every (key, value) pair into a freshly
// sized table, either in an anonymous in-memory buffer or a temp file, per
// the RAM heuristic, then replaces the live backing store.
func (s *MultiValueStore) rebuild(newBucketCount, contentSize uint64) error {
	if s.buf != nil {
		return ErrInvariantViolation
	}

	newSize := headerSize + newBucketCount*bucketEntrySz + contentSize
	useBuf := fitsInMemory(newSize, s.cfg.memoryBudget)

	logKV.Infow("rebuilding multi-value store", "path", s.path, "newBuckets", newBucketCount,
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
		fileDst := &MultiValueStore{path: tmpPath, mf: mf, locked: true, cfg: s.cfg}
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

	dst := &MultiValueStore{buf: make([]byte, newSize), locked: true, cfg: s.cfg}
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
func (s *MultiValueStore) Close() error {
	if s.mf == nil {
		return nil
	}
	return s.mf.Close()
}

// Sync flushes dirty pages.
func (s *MultiValueStore) Sync() error {
	if s.mf == nil {
		return nil
	}
	return s.mf.Sync()
}

// Clear truncates and reinitialises the store as if freshly created.
func (s *MultiValueStore) Clear() error {
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

// importCtxList tracks per-thread arena stripes during a bulk-merge phase,
// plus running key/item/waste counters, mirroring SingleValueStore's
// importCtx with an added keyCount field.
type importCtxList struct {
	mu       sync.Mutex
	numItems uint64
	keyCount uint64
	wasted   uint64
	stripes  []stripe
}

// BulkStart begins a bulk-merge phase with the given thread count.
func (s *MultiValueStore) BulkStart(numThreads int) error {
	if s.imp != nil {
		return ErrInvariantViolation
	}
	s.imp = &importCtxList{
		numItems: s.numItems(),
		keyCount: s.keyCount(),
		wasted:   s.wasted(),
		stripes:  make([]stripe, numThreads),
	}
	return nil
}

// BulkStop ends the bulk-merge phase, flushing the accumulated counters to
// the header.
func (s *MultiValueStore) BulkStop() error {
	if s.imp == nil {
		return ErrInvariantViolation
	}
	for _, st := range s.imp.stripes {
		s.imp.wasted += st.end - st.start
	}
	s.setNumItems(s.imp.numItems)
	s.setKeyCount(s.imp.keyCount)
	s.setWasted(s.imp.wasted)
	s.imp = nil
	return nil
}

// bulkInsertEnlarge reserves a new stripe for nthThread, compacting the
// store first if cumulative bulk waste has crossed the bulk threshold.
// Callers must hold s.imp.mu.
func (s *MultiValueStore) bulkInsertEnlarge(nthThread, numThreads int) error {
	st := &s.imp.stripes[nthThread]
	diff := st.end - st.start
	s.imp.wasted += diff
	st.start, st.end = 0, 0

	s.setWasted(s.imp.wasted)
	s.setNumItems(s.imp.numItems)
	s.setKeyCount(s.imp.keyCount)

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

// CalcBucketFromHash exposes the bucket computation for the bulk merge
// coordinator, which hashes keys once up front and partitions work by
// bucket range before calling BulkInsert.
func (s *MultiValueStore) CalcBucketFromHash(hash uint64, numBuckets uint64) uint64 {
	return calcBucketFromHash(hash, numBuckets)
}

// CalcHash returns this store's key hash (CityHash64).
func (s *MultiValueStore) CalcHash(key []byte) uint64 { return s.calcHash(key) }

// BulkInsert inserts (key, val) into bucket using nthThread's arena
// stripe. It checks for an existing duplicate value under the key before
// appending, so bulk merges and sequential Set agree on dedup semantics.
func (s *MultiValueStore) BulkInsert(bucket uint64, key, val []byte, nthThread, numThreads int) error {
	vsz, err := valueItemSize(len(val))
	if err != nil {
		return err
	}
	ksz, err := keyItemSize(len(key))
	if err != nil {
		return err
	}
	maxSz := vsz + ksz
	if uint64(maxSz) > bulkStripeSize {
		return ErrBulkOversizedItem
	}

	s.imp.mu.Lock()
	defer s.imp.mu.Unlock()

	for {
		st := s.imp.stripes[nthThread]
		if uint64(maxSz) > st.end-st.start {
			if err := s.bulkInsertEnlarge(nthThread, numThreads); err != nil {
				return err
			}
			continue
		}
		break
	}

	_, foundKey, keyOk := s.findKeyInternal(bucket, key)
	if keyOk {
		if _, _, valOk := s.findValueInternal(foundKey, val); valOk {
			return nil
		}
		valOff := s.imp.stripes[nthThread].start
		sz := writeValueItem(s.data(), valOff, foundKey.firstValue, val)
		s.imp.stripes[nthThread].start += uint64(sz)
		setKeyItemFirstValue(s.data(), foundKey.offset, valOff)
		s.imp.numItems++
		return nil
	}

	valOff := s.imp.stripes[nthThread].start
	valSz := writeValueItem(s.data(), valOff, 0, val)
	keyOff := valOff + uint64(valSz)

	nextKeyOff := tableOffset(s.data(), bucket)
	keySz := writeKeyItem(s.data(), keyOff, nextKeyOff, key, valOff)
	s.imp.stripes[nthThread].start = keyOff + uint64(keySz)

	setTableOffset(s.data(), bucket, keyOff)
	s.imp.numItems++
	s.imp.keyCount++
	return nil
}

// BulkRemove removes a single (key, val) occurrence during a bulk-merge
// phase, unlinking the key too if that was its last remaining value.
func (s *MultiValueStore) BulkRemove(bucket uint64, key, val []byte, _ int, _ int) error {
	s.imp.mu.Lock()
	defer s.imp.mu.Unlock()

	prevKeyOff, foundKey, keyOk := s.findKeyInternal(bucket, key)
	if !keyOk {
		return nil
	}
	prevValOff, foundVal, valOk := s.findValueInternal(foundKey, val)
	if !valOk {
		return nil
	}
	s.imp.numItems--
	s.imp.wasted += uint64(foundVal.size)
	if prevValOff == 0 {
		setKeyItemFirstValue(s.data(), foundKey.offset, foundVal.next)
	} else {
		setValueItemNext(s.data(), prevValOff, foundVal.next)
	}

	if _, stillHas := s.firstValueItem(readKeyItem(s.data(), foundKey.offset)); !stillHas {
		s.imp.keyCount--
		s.imp.wasted += uint64(foundKey.size)
		if prevKeyOff == 0 {
			setTableOffset(s.data(), bucket, foundKey.nextKeyOffset)
		} else {
			setKeyItemNext(s.data(), prevKeyOff, foundKey.nextKeyOffset)
		}
	}
	return nil
}
