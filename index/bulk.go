package index

import (
	"encoding/binary"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/rpcpool/searchidx/cityhash"
	"github.com/rpcpool/searchidx/store/kv"
	"github.com/rpcpool/searchidx/varint"
)

// BulkWriter stages one thread's share of a bulk ingest to two append-only
// temp files: a docs spill file and a tokens spill file. No writer touches
// the live stores during staging; Add diffs against the live document
// store exactly as Indexer.Add does, so bulk ingestion is correct even
// when it updates previously indexed documents, but the resulting
// operations land in temp files instead of the live stores.
type BulkWriter struct {
	ix          *Indexer
	docsFile    *kv.TempWriter
	tokensFile  *kv.TempWriter
	wholeTokens map[string]bool
	numDocs     uint64
}

// BulkWriters hands out n BulkWriters, each owning its own pair of temp
// files under the system temp directory. n <= 0 falls back to the
// WithBulkThreads default.
func (ix *Indexer) BulkWriters(n int) ([]*BulkWriter, error) {
	if n <= 0 {
		n = ix.bulkThreads
	}
	dir := os.TempDir()
	writers := make([]*BulkWriter, n)
	for i := 0; i < n; i++ {
		df, err := kv.NewTempWriter(dir, "searchidx-docs")
		if err != nil {
			return nil, err
		}
		tf, err := kv.NewTempWriter(dir, "searchidx-tokens")
		if err != nil {
			df.Close()
			return nil, err
		}
		writers[i] = &BulkWriter{ix: ix, docsFile: df, tokensFile: tf, wholeTokens: make(map[string]bool)}
	}
	return writers, nil
}

// Add stages doc for bulk merge.
func (bw *BulkWriter) Add(doc Document) error {
	ix := bw.ix
	texts := doc.Texts()
	joinedNew := make([]string, len(texts))
	newTokens := make(map[string]bool)
	for i, text := range texts {
		toks := ix.tok.Tokenize(text)
		joinedNew[i] = joinTokens(toks)
		for t := range tokenSet(toks) {
			newTokens[t] = true
			bw.wholeTokens[t] = true
		}
	}

	docID := doc.DocID()
	oldTokens := make(map[string]bool)
	if prior, ok := ix.store.FindDoc(docID); ok {
		_, joinedOld, err := decodeDocRecord(prior)
		if err != nil {
			return err
		}
		for _, j := range joinedOld {
			for _, t := range splitTokens(j) {
				oldTokens[t] = true
			}
		}
	}

	add := setDiff(newTokens, oldTokens)
	remove := setDiff(oldTokens, newTokens)
	var addP, removeP map[string]bool
	if ix.settings.Autocomplete {
		addAll := prefixSet(add, ix.settings.AutocompleteMaxLen)
		removeAll := prefixSet(remove, ix.settings.AutocompleteMaxLen)
		addP = setDiff(addAll, removeAll)
		removeP = setDiff(removeAll, addAll)
	}

	addBlock := buildTokenBlock(add, addP, docID)
	removeBlock := buildTokenBlock(remove, removeP, docID)
	if err := bw.tokensFile.WriteFrame(addBlock); err != nil {
		return err
	}
	if err := bw.tokensFile.WriteFrame(removeBlock); err != nil {
		return err
	}

	record, err := encodeDocRecord(doc.Serialize(), joinedNew)
	if err != nil {
		return err
	}
	if err := bw.docsFile.WriteFrame(buildDocFrame(docID, record)); err != nil {
		return err
	}
	bw.numDocs++
	return nil
}

func buildTokenBlock(whole, partial map[string]bool, docID []byte) []byte {
	entries := make([][]byte, 0, len(whole)+len(partial))
	for t := range whole {
		entries = append(entries, encodeTokenEntry(t, Posting{DocID: docID, IsWhole: true}))
	}
	for t := range partial {
		entries = append(entries, encodeTokenEntry(t, Posting{DocID: docID, IsWhole: false}))
	}
	cbuf, _ := varint.Encode(nil, uint64(len(entries)))
	size := len(cbuf)
	for _, e := range entries {
		size += len(e)
	}
	out := make([]byte, 0, size)
	out = append(out, cbuf...)
	for _, e := range entries {
		out = append(out, e...)
	}
	return out
}

// encodeTokenEntry frames a single add/remove operation as:
//
//	hash(token) u64 | varint(len(token)) | token | varint(len(posting)) | posting
func encodeTokenEntry(token string, p Posting) []byte {
	h := cityhash.Hash64([]byte(token))
	posting := EncodePosting(p)
	tbuf, _ := varint.Encode(nil, uint64(len(token)))
	vbuf, _ := varint.Encode(nil, uint64(len(posting)))
	out := make([]byte, 0, 8+len(tbuf)+len(token)+len(vbuf)+len(posting))
	var hbuf [8]byte
	binary.LittleEndian.PutUint64(hbuf[:], h)
	out = append(out, hbuf[:]...)
	out = append(out, tbuf...)
	out = append(out, token...)
	out = append(out, vbuf...)
	out = append(out, posting...)
	return out
}

func decodeTokenEntry(b []byte) (hash uint64, token string, posting []byte, consumed int) {
	hash = binary.LittleEndian.Uint64(b)
	p := 8
	tlen, tn := varint.Decode(b[p:])
	p += tn
	token = string(b[p : p+int(tlen)])
	p += int(tlen)
	vlen, vn := varint.Decode(b[p:])
	p += vn
	posting = b[p : p+int(vlen)]
	p += int(vlen)
	return hash, token, posting, p
}

// buildDocFrame frames a staged document record as:
//
//	hash(docID) u64 | varint(len(docID)) | docID | varint(len(record)) | record
func buildDocFrame(docID, record []byte) []byte {
	h := cityhash.Hash64(docID)
	var hbuf [8]byte
	binary.LittleEndian.PutUint64(hbuf[:], h)
	dbuf, _ := varint.Encode(nil, uint64(len(docID)))
	rbuf, _ := varint.Encode(nil, uint64(len(record)))
	out := make([]byte, 0, 8+len(dbuf)+len(docID)+len(rbuf)+len(record))
	out = append(out, hbuf[:]...)
	out = append(out, dbuf...)
	out = append(out, docID...)
	out = append(out, rbuf...)
	out = append(out, record...)
	return out
}

func decodeDocFrame(b []byte) (hash uint64, docID, record []byte) {
	hash = binary.LittleEndian.Uint64(b)
	p := 8
	dlen, dn := varint.Decode(b[p:])
	p += dn
	docID = b[p : p+int(dlen)]
	p += int(dlen)
	rlen, rn := varint.Decode(b[p:])
	p += rn
	record = b[p : p+int(rlen)]
	return hash, docID, record
}

// BulkAdd merges every writer's staged operations into the live stores
// under the Indexer's exclusive mutex. When the underlying Store is not a
// *FileStore (e.g. MemStore in tests) there is no arena to range-partition,
// so it falls back to replaying each writer's staged operations
// sequentially through the ordinary Store interface.
func (ix *Indexer) BulkAdd(writers []*BulkWriter) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	fs, isFileStore := ix.store.(*FileStore)
	if !isFileStore {
		return ix.bulkAddFallback(writers)
	}

	var totalDocs uint64
	estTokens := make(map[string]bool)
	for _, w := range writers {
		totalDocs += w.numDocs
		for t := range w.wholeTokens {
			estTokens[t] = true
		}
	}

	docsPaths := make([]string, len(writers))
	tokensPaths := make([]string, len(writers))
	for i, w := range writers {
		docsPaths[i] = w.docsFile.Path()
		tokensPaths[i] = w.tokensFile.Path()
	}
	if err := closeAllWriters(writers); err != nil {
		return err
	}
	defer func() {
		for _, p := range docsPaths {
			os.Remove(p)
		}
		for _, p := range tokensPaths {
			os.Remove(p)
		}
	}()

	// kEst accounts for whole tokens plus their worst-case prefix
	// expansion; a rough 2x allowance.
	kEst := uint64(len(estTokens)) * 2
	if err := fs.LockTableForBulk(totalDocs, kEst); err != nil {
		return err
	}
	defer fs.UnlockTables()

	numThreads := len(writers)
	if numThreads < 1 {
		numThreads = 1
	}
	if err := fs.BulkStart(numThreads); err != nil {
		return err
	}

	docReaders, err := openTempReaders(docsPaths)
	if err != nil {
		fs.BulkStop()
		return err
	}
	defer closeTempReaders(docReaders)

	tokenReaders, err := openTempReaders(tokensPaths)
	if err != nil {
		fs.BulkStop()
		return err
	}
	defer closeTempReaders(tokenReaders)

	if err := mergeDocs(fs, docReaders, numThreads); err != nil {
		fs.BulkStop()
		return err
	}
	if err := mergeTokens(fs, tokenReaders, numThreads); err != nil {
		fs.BulkStop()
		return err
	}
	if err := fs.BulkStop(); err != nil {
		return err
	}

	if ix.metrics != nil {
		ix.metrics.bulkMerges.Inc()
	}
	return fs.OptimizeFreeData()
}

func closeAllWriters(writers []*BulkWriter) error {
	for _, w := range writers {
		if err := w.docsFile.Close(); err != nil {
			return err
		}
		if err := w.tokensFile.Close(); err != nil {
			return err
		}
	}
	return nil
}

func openTempReaders(paths []string) ([]*kv.TempReader, error) {
	readers := make([]*kv.TempReader, 0, len(paths))
	for _, p := range paths {
		r, err := kv.OpenTempReader(p)
		if err != nil {
			closeTempReaders(readers)
			return nil, err
		}
		readers = append(readers, r)
	}
	return readers, nil
}

func closeTempReaders(readers []*kv.TempReader) {
	for _, r := range readers {
		r.Close()
	}
}

// mergeDocs scans every docs spill stream with numThreads goroutines, each
// processing only the records whose bucket falls in its assigned range.
func mergeDocs(fs *FileStore, readers []*kv.TempReader, numThreads int) error {
	numBuckets := fs.docs.NumBuckets()
	wg := new(errgroup.Group)
	for t := 0; t < numThreads; t++ {
		t := t
		wg.Go(func() error {
			for _, r := range readers {
				data := r.Bytes()
				pos := 0
				for pos < len(data) {
					ln, n := varint.Decode(data[pos:])
					pos += n
					frame := data[pos : pos+int(ln)]
					pos += int(ln)
					hash, docID, record := decodeDocFrame(frame)
					bucket := fs.docs.CalcBucketFromHash(hash, numBuckets)
					if !kv.BulkIsInThread(bucket, t, numThreads, numBuckets) {
						continue
					}
					if err := fs.docs.BulkInsert(bucket, docID, record, t, numThreads); err != nil {
						return err
					}
				}
			}
			return nil
		})
	}
	return wg.Wait()
}

// mergeTokens scans every tokens spill stream. Each record contributed an
// "add" block followed by a "remove" block, so block parity across the
// whole stream alternates add/remove starting from add.
func mergeTokens(fs *FileStore, readers []*kv.TempReader, numThreads int) error {
	numBuckets := fs.tokens.NumBuckets()
	wg := new(errgroup.Group)
	for t := 0; t < numThreads; t++ {
		t := t
		wg.Go(func() error {
			for _, r := range readers {
				data := r.Bytes()
				pos, blockIdx := 0, 0
				for pos < len(data) {
					ln, n := varint.Decode(data[pos:])
					pos += n
					block := data[pos : pos+int(ln)]
					pos += int(ln)
					isRemove := blockIdx%2 == 1
					blockIdx++

					count, cn := varint.Decode(block)
					bp := cn
					for i := uint64(0); i < count; i++ {
						hash, token, posting, consumed := decodeTokenEntry(block[bp:])
						bp += consumed
						bucket := fs.tokens.CalcBucketFromHash(hash, numBuckets)
						if !kv.BulkIsInThread(bucket, t, numThreads, numBuckets) {
							continue
						}
						var err error
						if isRemove {
							err = fs.tokens.BulkRemove(bucket, []byte(token), posting, t, numThreads)
						} else {
							err = fs.tokens.BulkInsert(bucket, []byte(token), posting, t, numThreads)
						}
						if err != nil {
							return err
						}
					}
				}
			}
			return nil
		})
	}
	return wg.Wait()
}

// bulkAddFallback replays each writer's staged operations sequentially
// through the ordinary Store interface, for Store implementations (like
// MemStore) with no arena to range-partition.
func (ix *Indexer) bulkAddFallback(writers []*BulkWriter) error {
	if err := closeAllWriters(writers); err != nil {
		return err
	}
	defer func() {
		for _, w := range writers {
			os.Remove(w.docsFile.Path())
			os.Remove(w.tokensFile.Path())
		}
	}()

	for _, w := range writers {
		if err := ix.replayTokens(w); err != nil {
			return err
		}
		if err := ix.replayDocs(w); err != nil {
			return err
		}
	}
	if ix.metrics != nil {
		ix.metrics.bulkMerges.Inc()
	}
	return nil
}

func (ix *Indexer) replayTokens(w *BulkWriter) error {
	r, err := kv.OpenTempReader(w.tokensFile.Path())
	if err != nil {
		return err
	}
	defer r.Close()

	data := r.Bytes()
	pos, blockIdx := 0, 0
	for pos < len(data) {
		ln, n := varint.Decode(data[pos:])
		pos += n
		block := data[pos : pos+int(ln)]
		pos += int(ln)
		isRemove := blockIdx%2 == 1
		blockIdx++

		count, cn := varint.Decode(block)
		bp := cn
		for i := uint64(0); i < count; i++ {
			_, token, posting, consumed := decodeTokenEntry(block[bp:])
			bp += consumed
			p := DecodePosting(posting)
			var err error
			if isRemove {
				err = ix.store.RemoveToken(token, p)
			} else {
				err = ix.store.AddToken(token, p)
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (ix *Indexer) replayDocs(w *BulkWriter) error {
	r, err := kv.OpenTempReader(w.docsFile.Path())
	if err != nil {
		return err
	}
	defer r.Close()

	data := r.Bytes()
	pos := 0
	for pos < len(data) {
		ln, n := varint.Decode(data[pos:])
		pos += n
		frame := data[pos : pos+int(ln)]
		pos += int(ln)
		_, docID, record := decodeDocFrame(frame)
		if err := ix.store.AddDoc(docID, record); err != nil {
			return err
		}
	}
	return nil
}
