// Package index implements the inverted full-text index: the Indexer
// composes a SingleValueStore (document bodies) and a MultiValueStore
// (token postings) into whole/prefix token bookkeeping and conjunctive or
// disjunctive multi-token queries, plus a bulk ingestion pipeline for
// building or appending to an index at higher throughput than sequential
// Add calls.
package index

import (
	"strings"
	"sync"
)

// Store is the polymorphic storage capability the Indexer composes over.
// FileStore (mmap-backed) and MemStore (in-memory testing double) both
// implement it.
type Store interface {
	AddDoc(docID, record []byte) error
	RemoveDoc(docID []byte) error
	FindDoc(docID []byte) ([]byte, bool)

	AddToken(token string, p Posting) error
	RemoveToken(token string, p Posting) error
	FindToken(token string) []Posting

	SizeDocuments() uint64
	SizeTokens() uint64
}

// Settings controls whole/prefix token generation.
type Settings struct {
	Autocomplete       bool
	AutocompleteMaxLen int
}

// Option configures an Indexer at construction.
type Option func(*Indexer)

// WithAutocomplete enables prefix-token generation, bounding prefixes to
// maxLen bytes (0 = unbounded).
func WithAutocomplete(maxLen int) Option {
	return func(ix *Indexer) {
		ix.settings.Autocomplete = true
		ix.settings.AutocompleteMaxLen = maxLen
	}
}

// WithBulkThreads sets the default thread count BulkWriters uses.
func WithBulkThreads(n int) Option {
	return func(ix *Indexer) { ix.bulkThreads = n }
}

// Indexer composes a Store into an inverted index with whole-vs-partial
// token discrimination. A single exclusive mutex guards every public
// operation, so reads and writes never run concurrently with each other,
// and the bulk-merge phase holds it throughout.
type Indexer struct {
	mu          sync.Mutex
	store       Store
	tok         Tokenizer
	settings    Settings
	bulkThreads int
	metrics     *Metrics
}

// New constructs an Indexer over store, tokenizing texts with tok.
func New(store Store, tok Tokenizer, opts ...Option) *Indexer {
	ix := &Indexer{store: store, tok: tok, bulkThreads: 1}
	for _, o := range opts {
		o(ix)
	}
	return ix
}

// Metrics returns the optional Prometheus surface, nil until EnableMetrics
// has been called.
func (ix *Indexer) Metrics() *Metrics { return ix.metrics }

// EnableMetrics constructs a Metrics instance under namespace and attaches
// it to this Indexer. Instrumentation stays off unless a caller opts in.
func (ix *Indexer) EnableMetrics(namespace string) *Metrics {
	ix.metrics = newMetrics(namespace)
	return ix.metrics
}

func tokenSet(tokens []string) map[string]bool {
	m := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		m[t] = true
	}
	return m
}

func setDiff(a, b map[string]bool) map[string]bool {
	out := make(map[string]bool)
	for t := range a {
		if !b[t] {
			out[t] = true
		}
	}
	return out
}

func prefixSet(tokens map[string]bool, maxLen int) map[string]bool {
	out := make(map[string]bool)
	for t := range tokens {
		for _, p := range prefixesOf(t, maxLen) {
			out[p] = true
		}
	}
	return out
}

// Add indexes doc, diffing against any previously indexed content for the
// same DocID.
func (ix *Indexer) Add(doc Document) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.addLocked(doc)
}

func (ix *Indexer) addLocked(doc Document) error {
	texts := doc.Texts()
	joinedNew := make([]string, len(texts))
	newTokens := make(map[string]bool)
	for i, text := range texts {
		toks := ix.tok.Tokenize(text)
		joinedNew[i] = joinTokens(toks)
		for t := range tokenSet(toks) {
			newTokens[t] = true
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

	for t := range remove {
		if err := ix.store.RemoveToken(t, Posting{DocID: docID, IsWhole: true}); err != nil {
			return err
		}
	}
	for t := range removeP {
		if err := ix.store.RemoveToken(t, Posting{DocID: docID, IsWhole: false}); err != nil {
			return err
		}
	}
	for t := range add {
		if err := ix.store.AddToken(t, Posting{DocID: docID, IsWhole: true}); err != nil {
			return err
		}
	}
	for t := range addP {
		if err := ix.store.AddToken(t, Posting{DocID: docID, IsWhole: false}); err != nil {
			return err
		}
	}

	record, err := encodeDocRecord(doc.Serialize(), joinedNew)
	if err != nil {
		return err
	}
	if err := ix.store.AddDoc(docID, record); err != nil {
		return err
	}
	if ix.metrics != nil {
		ix.metrics.docsIndexed.Inc()
	}
	return nil
}

// Remove deletes docID and every posting referencing it.
func (ix *Indexer) Remove(docID []byte) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.removeLocked(docID)
}

func (ix *Indexer) removeLocked(docID []byte) error {
	prior, ok := ix.store.FindDoc(docID)
	if !ok {
		return nil
	}
	_, joined, err := decodeDocRecord(prior)
	if err != nil {
		return err
	}
	oldTokens := make(map[string]bool)
	for _, j := range joined {
		for _, t := range splitTokens(j) {
			oldTokens[t] = true
		}
	}
	var oldPrefixes map[string]bool
	if ix.settings.Autocomplete {
		oldPrefixes = prefixSet(oldTokens, ix.settings.AutocompleteMaxLen)
	}
	for t := range oldTokens {
		if err := ix.store.RemoveToken(t, Posting{DocID: docID, IsWhole: true}); err != nil {
			return err
		}
	}
	for t := range oldPrefixes {
		if err := ix.store.RemoveToken(t, Posting{DocID: docID, IsWhole: false}); err != nil {
			return err
		}
	}
	return ix.store.RemoveDoc(docID)
}

// FindDoc returns doc's serialised payload and the per-text joined token
// strings recorded for it.
func (ix *Indexer) FindDoc(docID []byte) (payload []byte, joined []string, ok bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	rec, found := ix.store.FindDoc(docID)
	if !found {
		return nil, nil, false
	}
	payload, joined, err := decodeDocRecord(rec)
	if err != nil {
		return nil, nil, false
	}
	return payload, joined, true
}

// FindMatchAll evaluates a conjunctive (matchAnyToken=false) or
// disjunctive (matchAnyToken=true) multi-token query.
func (ix *Indexer) FindMatchAll(queryTokens []string, autocomplete, matchAnyToken bool) [][]byte {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if len(queryTokens) == 0 {
		return nil
	}

	var result map[string][]byte
	for i, q := range queryTokens {
		last := i == len(queryTokens)-1
		isPrefixQuery := last && autocomplete && ix.settings.Autocomplete
		if isPrefixQuery && len(q) == 1 {
			// A prefix lookup of length 1 is skipped entirely: it neither
			// restricts nor contributes to the result.
			continue
		}
		var matched map[string][]byte
		if isPrefixQuery {
			matched = ix.findPrefixMatches(q)
		} else {
			matched = ix.findWholeMatches(q)
		}

		switch {
		case result == nil:
			result = matched
		case matchAnyToken:
			for k, v := range matched {
				result[k] = v
			}
		default:
			for k := range result {
				if _, ok := matched[k]; !ok {
					delete(result, k)
				}
			}
			if len(result) == 0 {
				return nil
			}
		}
	}

	if len(result) == 0 {
		return nil
	}
	out := make([][]byte, 0, len(result))
	for _, v := range result {
		out = append(out, v)
	}
	return out
}

func (ix *Indexer) findWholeMatches(token string) map[string][]byte {
	out := make(map[string][]byte)
	for _, p := range ix.store.FindToken(token) {
		if p.IsWhole {
			out[string(p.DocID)] = p.DocID
		}
	}
	return out
}

func (ix *Indexer) findPrefixMatches(q string) map[string][]byte {
	qPrime := q
	maxLen := ix.settings.AutocompleteMaxLen
	truncated := maxLen != 0 && len(q) > maxLen
	if truncated {
		qPrime = truncateUTF8(q, maxLen)
	}
	out := make(map[string][]byte)
	for _, p := range ix.store.FindToken(qPrime) {
		if !truncated {
			// The partial-token index already stores exactly the genuine
			// prefixes of each document's tokens, so an untruncated lookup
			// needs no further verification.
			out[string(p.DocID)] = p.DocID
			continue
		}
		rec, ok := ix.store.FindDoc(p.DocID)
		if !ok {
			continue
		}
		_, joined, err := decodeDocRecord(rec)
		if err != nil {
			continue
		}
		if containsTokenBoundaryPrefix(joined, q) {
			out[string(p.DocID)] = p.DocID
		}
	}
	return out
}

// containsTokenBoundaryPrefix reports whether q occurs in some joined
// string as a whole token prefix: preceded by start-of-string or a space,
// and followed by end-of-string or a space. This re-check only runs once a
// query has been truncated to fit autocompleteMaxLen, to drop the false
// positives that truncation's coarser key lookup admits (e.g. a maxLen-3
// truncation of "intern" to "int" also matches "integration").
func containsTokenBoundaryPrefix(joined []string, q string) bool {
	for _, j := range joined {
		idx := 0
		for idx <= len(j)-len(q) {
			pos := strings.Index(j[idx:], q)
			if pos < 0 {
				break
			}
			pos += idx
			precededOK := pos == 0 || j[pos-1] == ' '
			followPos := pos + len(q)
			followedOK := followPos == len(j) || j[followPos] == ' '
			if precededOK && followedOK {
				return true
			}
			idx = pos + 1
		}
	}
	return false
}
