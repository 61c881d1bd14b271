package index

// Posting is a single occurrence of a document under a token key in the
// MultiValueStore: a (DocID, isWhole) pair. Multiple postings with the
// same (DocID, IsWhole) for the same token must not coexist; the
// MultiValueStore's set-semantics on (key, value) enforce that.
type Posting struct {
	DocID   []byte
	IsWhole bool
}

// EncodePosting serialises p as its DocID bytes followed by a single flag
// byte (1 = whole, 0 = partial), a fixed-width encoding as long as the
// application's DocID byte length is constant.
func EncodePosting(p Posting) []byte {
	buf := make([]byte, len(p.DocID)+1)
	copy(buf, p.DocID)
	if p.IsWhole {
		buf[len(p.DocID)] = 1
	}
	return buf
}

// DecodePosting reverses EncodePosting.
func DecodePosting(b []byte) Posting {
	docID := make([]byte, len(b)-1)
	copy(docID, b)
	return Posting{DocID: docID, IsWhole: b[len(b)-1] != 0}
}
