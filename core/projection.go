package core

import "time"

// NodeKind identifies one of the four graph node kinds.
type NodeKind string

const (
	NodeStudent  NodeKind = "student"
	NodeTeacher  NodeKind = "teacher"
	NodeCategory NodeKind = "category"
	NodeFeedback NodeKind = "feedback"
)

// ParseNodeKind parses a stable wire name back into a NodeKind.
func ParseNodeKind(s string) (NodeKind, error) {
	switch NodeKind(s) {
	case NodeStudent, NodeTeacher, NodeCategory, NodeFeedback:
		return NodeKind(s), nil
	default:
		return "", ErrUnknownNodeKind
	}
}

// EdgeKind identifies one of the three directed graph edge kinds.
type EdgeKind string

const (
	// EdgeSubmits connects a Student to a Feedback node.
	EdgeSubmits EdgeKind = "SUBMITS"
	// EdgeAssignedTo connects a Student to a Teacher node.
	EdgeAssignedTo EdgeKind = "ASSIGNED_TO"
	// EdgeRelatedTo connects a Feedback to a Category node.
	EdgeRelatedTo EdgeKind = "RELATED_TO"
)

// SearchDocument is the search store projection of a feedback record,
// keyed by record ID.
type SearchDocument struct {
	RecordID    ID        `json:"record_id"`
	StudentID   string    `json:"student_id"`
	TeacherName string    `json:"teacher_name"`
	Category    string    `json:"category"`
	Rating      int       `json:"rating"`
	OpenText    string    `json:"open_text,omitempty"`
	Sentiment   string    `json:"sentiment,omitempty"`
	Topics      []string  `json:"topics,omitempty"`
	Entities    []string  `json:"entities,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// VectorPoint is the vector store projection of a feedback record. When
// Vector is empty the adapter computes the embedding from Text at upsert
// time; a precomputed vector of the wrong dimensionality is a permanent
// error, never coerced.
type VectorPoint struct {
	RecordID ID                `json:"record_id"`
	Vector   []float32         `json:"vector,omitempty"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// GraphNode is one node of a graph projection. Key holds the natural key
// the node ID was derived from.
type GraphNode struct {
	ID    NodeID            `json:"id"`
	Kind  NodeKind          `json:"kind"`
	Key   string            `json:"key"`
	Props map[string]string `json:"props,omitempty"`
}

// GraphEdge is one directed edge of a graph projection.
type GraphEdge struct {
	From NodeID   `json:"from"`
	Kind EdgeKind `json:"kind"`
	To   NodeID   `json:"to"`
}

// GraphDelta is the graph store projection of a feedback record: the four
// nodes and three edges the record contributes. Upserting the same delta
// twice must leave the graph unchanged.
type GraphDelta struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// InsightFact is the insight store projection: a derived analytical fact
// about a record. Unlike the other projections it is appended, not
// upserted; insights are facts about a record, not copies of it.
type InsightFact struct {
	RecordID  ID        `json:"record_id"`
	StudentID string    `json:"student_id"`
	Sentiment string    `json:"sentiment,omitempty"`
	Theme     string    `json:"theme,omitempty"`
	Summary   string    `json:"summary,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
