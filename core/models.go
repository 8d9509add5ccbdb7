package core

import (
	"encoding/binary"
	"strconv"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is the stable identifier of a feedback record, assigned by the
// relational system of record. It is immutable once assigned.
type ID int64

// NodeID is a graph node identifier. For Student/Teacher/Category nodes it
// is derived deterministically from the natural key, for Feedback nodes from
// the record ID, so repeated fan-out always converges to the same node.
type NodeID uint64

// NodeIDFor generates a deterministic node ID from a node kind and its
// natural key using BLAKE2b hashing.
func NodeIDFor(kind NodeKind, naturalKey string) NodeID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(naturalKey))
	sum := h.Sum(nil)
	return NodeID(binary.LittleEndian.Uint64(sum))
}

// FeedbackNodeID returns the graph node ID for a feedback record.
func FeedbackNodeID(id ID) NodeID {
	return NodeIDFor(NodeFeedback, strconv.FormatInt(int64(id), 10))
}

// TargetStore identifies one downstream store a record fans out to.
type TargetStore int

const (
	// TargetSearch is the full-text/faceted search index.
	TargetSearch TargetStore = iota + 1
	// TargetVector is the embedding similarity index.
	TargetVector
	// TargetGraph is the property graph.
	TargetGraph
	// TargetInsight is the append-only insight ledger.
	TargetInsight
)

// String returns the stable wire name of the target store.
func (t TargetStore) String() string {
	switch t {
	case TargetSearch:
		return "search"
	case TargetVector:
		return "vector"
	case TargetGraph:
		return "graph"
	case TargetInsight:
		return "insight"
	default:
		return "unknown"
	}
}

// ParseTargetStore parses a stable wire name back into a TargetStore.
func ParseTargetStore(s string) (TargetStore, error) {
	switch s {
	case "search":
		return TargetSearch, nil
	case "vector":
		return TargetVector, nil
	case "graph":
		return TargetGraph, nil
	case "insight":
		return TargetInsight, nil
	default:
		return 0, ErrUnknownTargetStore
	}
}

// MandatoryStores are the targets every record fans out to regardless of
// content. Vector is excluded: records without open text never produce a
// vector task, and the batch boundary treats vector as best-effort.
var MandatoryStores = []TargetStore{TargetSearch, TargetGraph, TargetInsight}

// TaskStatus is the lifecycle state of a fan-out task in the status ledger.
type TaskStatus int

const (
	// StatusPending means the task is awaiting execution.
	StatusPending TaskStatus = iota + 1
	// StatusInFlight means a worker has claimed the task.
	StatusInFlight
	// StatusSucceeded means the target store holds the projection.
	StatusSucceeded
	// StatusFailedTerminal means the task will not be retried automatically.
	StatusFailedTerminal
)

// String returns the stable wire name of the status.
func (s TaskStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusInFlight:
		return "in_flight"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailedTerminal:
		return "failed_terminal"
	default:
		return "unknown"
	}
}

// ParseTaskStatus parses a stable wire name back into a TaskStatus.
func ParseTaskStatus(s string) (TaskStatus, error) {
	switch s {
	case "pending":
		return StatusPending, nil
	case "in_flight":
		return StatusInFlight, nil
	case "succeeded":
		return StatusSucceeded, nil
	case "failed_terminal":
		return StatusFailedTerminal, nil
	default:
		return 0, ErrUnknownTaskStatus
	}
}

// Terminal reports whether the status is a terminal state.
func (s TaskStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailedTerminal
}

// FeedbackRecord is the canonical feedback representation and the unit of
// work for fan-out. The relational system of record owns it and is the only
// writer of Id.
type FeedbackRecord struct {
	Id          ID        `json:"id"`
	StudentID   string    `json:"student_id"`
	TeacherName string    `json:"teacher_name"`
	Category    string    `json:"category"`
	Rating      int       `json:"rating"` // bounded 1-5
	OpenText    string    `json:"open_text"`
	Derived     *Derived  `json:"derived,omitempty"` // populated by enrichment, may be nil
	CreatedAt   time.Time `json:"created_at"`
	Processed   bool      `json:"processed"`
}

// Derived holds enrichment output attached to a record before the insight
// fan-out. All fields are optional.
type Derived struct {
	Sentiment string   `json:"sentiment,omitempty"`
	Topics    []string `json:"topics,omitempty"`
	Entities  []string `json:"entities,omitempty"`
	Summary   string   `json:"summary,omitempty"`
}

// FanOutTask is one obligation to propagate a record's state into one
// target store. Payload is a store-specific projection of the record,
// computed once at dispatch time.
type FanOutTask struct {
	RecordID     ID
	Target       TargetStore
	Payload      []byte
	AttemptCount int
	LastError    string
	Status       TaskStatus
}
