package graph

import (
	"encoding/binary"

	"github.com/poiesic/crossfeed/core"
)

// Key prefixes for nodes and the two edge orientations
const (
	nodePrefix     = "gnode"
	edgeFwdPrefix  = "gedgef"
	edgeRevPrefix  = "gedger"
	provisionedKey = "gmeta:provisioned"
)

// makeNodeKey generates a key for a graph node by ID.
func makeNodeKey(id core.NodeID) []byte {
	prefix := nodePrefix + ":"
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	// Write in BigEndian order so lexicographic sort works correctly
	binary.BigEndian.PutUint64(buf[offset:], uint64(id))
	return buf
}

// makeEdgeKey generates a composite edge key in one orientation.
// Format: prefix:first:second:kind, with node IDs fixed-width so the
// kind can be recovered from the variable-length tail.
func makeEdgeKey(prefix string, first, second core.NodeID, kind string) []byte {
	p := prefix + ":"
	buf := make([]byte, len(p)+8+1+8+1+len(kind))
	offset := copy(buf, p)
	binary.BigEndian.PutUint64(buf[offset:], uint64(first))
	offset += 8
	buf[offset] = ':'
	offset++
	binary.BigEndian.PutUint64(buf[offset:], uint64(second))
	offset += 8
	buf[offset] = ':'
	offset++
	copy(buf[offset:], kind)
	return buf
}

// makePartialEdgeKey generates a prefix for scanning all edges anchored
// at the given node in one orientation.
func makePartialEdgeKey(prefix string, anchor core.NodeID) []byte {
	p := prefix + ":"
	buf := make([]byte, len(p)+8+1)
	offset := copy(buf, p)
	binary.BigEndian.PutUint64(buf[offset:], uint64(anchor))
	buf[offset+8] = ':'
	return buf
}

// parseEdgeKey recovers (first, second, kind) from an edge key.
func parseEdgeKey(prefix string, key []byte) (core.NodeID, core.NodeID, string) {
	offset := len(prefix) + 1
	first := core.NodeID(binary.BigEndian.Uint64(key[offset:]))
	offset += 9
	second := core.NodeID(binary.BigEndian.Uint64(key[offset:]))
	offset += 9
	return first, second, string(key[offset:])
}
