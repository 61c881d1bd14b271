package index

import (
	"fmt"

	"github.com/rpcpool/searchidx/store/kv"
	"github.com/rpcpool/searchidx/varint"
)

// FileStore composes a SingleValueStore (document bodies) and a
// MultiValueStore (inverted index) into the Store capability the Indexer
// needs.
type FileStore struct {
	docs   *kv.SingleValueStore
	tokens *kv.MultiValueStore
}

// OpenFileStore opens (or creates) the two mmap files backing an index:
// docsPath for document bodies, tokensPath for the inverted index. Options
// apply to both stores.
func OpenFileStore(docsPath, tokensPath string, opts ...kv.Option) (*FileStore, error) {
	docs, err := kv.Open(docsPath, opts...)
	if err != nil {
		return nil, err
	}
	tokens, err := kv.OpenList(tokensPath, opts...)
	if err != nil {
		docs.Close()
		return nil, err
	}
	return &FileStore{docs: docs, tokens: tokens}, nil
}

func (f *FileStore) Close() error {
	err1 := f.docs.Close()
	err2 := f.tokens.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

func (f *FileStore) Sync() error {
	if err := f.docs.Sync(); err != nil {
		return err
	}
	return f.tokens.Sync()
}

// --- document record framing ---

// encodeDocRecord frames a document record as a length-prefixed
// serialised document followed by a length-prefixed list of per-text
// joined-token strings.
func encodeDocRecord(payload []byte, joined []string) ([]byte, error) {
	pbuf, err := varint.Encode(nil, uint64(len(payload)))
	if err != nil {
		return nil, err
	}
	nbuf, err := varint.Encode(nil, uint64(len(joined)))
	if err != nil {
		return nil, err
	}
	jbufs := make([][]byte, len(joined))
	size := len(pbuf) + len(payload) + len(nbuf)
	for i, j := range joined {
		jb, err := varint.Encode(nil, uint64(len(j)))
		if err != nil {
			return nil, err
		}
		jbufs[i] = jb
		size += len(jb) + len(j)
	}
	out := make([]byte, 0, size)
	out = append(out, pbuf...)
	out = append(out, payload...)
	out = append(out, nbuf...)
	for i, j := range joined {
		out = append(out, jbufs[i]...)
		out = append(out, j...)
	}
	return out, nil
}

func decodeDocRecord(rec []byte) (payload []byte, joined []string, err error) {
	plen, n := varint.Decode(rec)
	p := uint64(n)
	if p+plen > uint64(len(rec)) {
		return nil, nil, fmt.Errorf("%w: doc record truncated", kv.ErrFormatOverflow)
	}
	payload = rec[p : p+plen]
	p += plen
	numTexts, n2 := varint.Decode(rec[p:])
	p += uint64(n2)
	joined = make([]string, 0, numTexts)
	for i := uint64(0); i < numTexts; i++ {
		jlen, jn := varint.Decode(rec[p:])
		p += uint64(jn)
		joined = append(joined, string(rec[p:p+jlen]))
		p += jlen
	}
	return payload, joined, nil
}

// --- Store capability ---

func (f *FileStore) AddDoc(docID, record []byte) error { return f.docs.Set(docID, record) }
func (f *FileStore) RemoveDoc(docID []byte) error       { return f.docs.Remove(docID) }
func (f *FileStore) FindDoc(docID []byte) ([]byte, bool) { return f.docs.Get(docID) }

func (f *FileStore) AddToken(token string, p Posting) error {
	return f.tokens.Set([]byte(token), EncodePosting(p))
}

func (f *FileStore) RemoveToken(token string, p Posting) error {
	return f.tokens.Remove([]byte(token), EncodePosting(p))
}

func (f *FileStore) FindToken(token string) []Posting {
	var out []Posting
	f.tokens.GetAll([]byte(token), func(val []byte) bool {
		out = append(out, DecodePosting(val))
		return true
	})
	return out
}

func (f *FileStore) SizeDocuments() uint64 { return f.docs.NumItems() }
func (f *FileStore) SizeTokens() uint64    { return f.tokens.NumKeys() }

// --- bulk merge support ---

func (f *FileStore) BulkStart(numThreads int) error {
	if err := f.docs.BulkStart(numThreads); err != nil {
		return err
	}
	return f.tokens.BulkStart(numThreads)
}

func (f *FileStore) BulkStop() error {
	if err := f.docs.BulkStop(); err != nil {
		return err
	}
	return f.tokens.BulkStop()
}

// LockTableForBulk pre-sizes both stores ahead of a bulk-merge phase.
func (f *FileStore) LockTableForBulk(numDocs, numTokens uint64) error {
	if err := f.docs.LockTableForNumItems(f.docs.NumItems() + numDocs); err != nil {
		return err
	}
	return f.tokens.LockTableForNumKeys(f.tokens.NumKeys() + numTokens)
}

func (f *FileStore) UnlockTables() {
	f.docs.UnlockTable()
	f.tokens.UnlockTable()
}

// OptimizeFreeData reclaims waste on both stores ("optimizeFreeData").
func (f *FileStore) OptimizeFreeData() error {
	if err := f.docs.Optimize(); err != nil {
		return err
	}
	return f.tokens.Optimize()
}
