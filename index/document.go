package index

import (
	"strings"

	"github.com/valyala/bytebufferpool"
)

// Document is the application-supplied payload the Indexer persists and
// diffs tokens against; the application supplies this type and the
// Indexer only calls it. Implementations must be stable: Texts must
// return the same strings for byte-identical content across calls, so
// re-tokenizing on update reproduces the same token set.
type Document interface {
	DocID() []byte
	Serialize() []byte
	Texts() []string
}

// Tokenizer is the external collaborator that turns free text into an
// ordered, non-empty list of normalised tokens. The Indexer treats tokens
// as opaque strings beyond set operations.
type Tokenizer interface {
	Tokenize(text string) []string
}

// joinTokens joins tokens with single ASCII spaces. Uses a pooled buffer
// to avoid a staging allocation per Add call.
func joinTokens(tokens []string) string {
	if len(tokens) == 0 {
		return ""
	}
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	for i, t := range tokens {
		if i > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(t)
	}
	return buf.String()
}

// splitTokens reverses joinTokens: splits on single ASCII spaces; empty
// input yields an empty list.
func splitTokens(joined string) []string {
	if joined == "" {
		return nil
	}
	return strings.Split(joined, " ")
}
