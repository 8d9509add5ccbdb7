package search

import (
	"encoding/binary"

	"github.com/poiesic/crossfeed/core"
)

// Key prefixes for the document store and inverted index
const (
	docPrefix      = "fdoc"
	termPrefix     = "fterm"
	provisionedKey = "fmeta:provisioned"
)

// makeDocKey generates a key for a search document by record ID.
func makeDocKey(id core.ID) []byte {
	prefix := docPrefix + ":"
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	// Write in BigEndian order so lexicographic sort works correctly
	binary.BigEndian.PutUint64(buf[offset:], uint64(id))
	return buf
}

// makeTermKey generates a composite key for the inverted index.
// Format: prefix:term:recordID
func makeTermKey(term string, id core.ID) []byte {
	prefix := termPrefix + ":" + term + ":"
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(id))
	return buf
}

// makePartialTermKey generates a partial key for posting-list scans.
func makePartialTermKey(term string) []byte {
	return []byte(termPrefix + ":" + term + ":")
}

// recordIDFromTermKey extracts the record ID suffix of a term key.
func recordIDFromTermKey(key []byte) core.ID {
	return core.ID(binary.BigEndian.Uint64(key[len(key)-8:]))
}
