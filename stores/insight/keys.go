package insight

import (
	"encoding/binary"
	"time"

	"github.com/poiesic/crossfeed/core"
)

const (
	factPrefix     = "ins"
	provisionedKey = "imeta:provisioned"
)

// makeFactKey generates a composite key for an insight fact.
// Format: prefix:studentID:^timestamp:recordID. The timestamp bits are
// inverted so lexicographic order is newest-first, and the record ID
// suffix makes redelivery overwrite instead of append.
func makeFactKey(studentID string, timestamp time.Time, recordID core.ID) []byte {
	prefix := factPrefix + ":" + studentID + ":"
	buf := make([]byte, len(prefix)+8+1+8)
	offset := copy(buf, prefix)
	// Write in BigEndian order so lexicographic sort works correctly
	binary.BigEndian.PutUint64(buf[offset:], ^uint64(timestamp.UnixMicro()))
	offset += 8
	buf[offset] = ':'
	offset++
	binary.BigEndian.PutUint64(buf[offset:], uint64(recordID))
	return buf
}

// makePartialFactKey generates a prefix for scanning one student's facts.
func makePartialFactKey(studentID string) []byte {
	return []byte(factPrefix + ":" + studentID + ":")
}
