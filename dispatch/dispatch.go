// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package dispatch computes the per-store fan-out of a committed feedback
// record. Dispatch is pure: it reads the record, builds one projection per
// target store, and returns the tasks. Writing the tasks to the ledger and
// executing them belongs to the fanout package.
package dispatch

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/poiesic/crossfeed/core"
)

// ErrUnassignedRecord is returned when a record has no ID yet. Dispatch
// only operates on records the system of record has committed.
var ErrUnassignedRecord = errors.New("record has no assigned id")

// Dispatch builds the fan-out tasks for a committed record: one task per
// mandatory store, plus a vector task when the record carries open text.
// All payloads are computed here, once, so a task can be retried later
// without re-reading the record.
func Dispatch(record *core.FeedbackRecord) ([]core.FanOutTask, error) {
	if err := core.ValidateFeedbackRecord(record); err != nil {
		return nil, err
	}
	if record.Id == 0 {
		return nil, ErrUnassignedRecord
	}

	tasks := make([]core.FanOutTask, 0, 4)

	searchPayload, err := json.Marshal(SearchDocument(record))
	if err != nil {
		return nil, err
	}
	tasks = append(tasks, core.FanOutTask{
		RecordID: record.Id,
		Target:   core.TargetSearch,
		Payload:  searchPayload,
		Status:   core.StatusPending,
	})

	// Records without open text have nothing to embed.
	if record.OpenText != "" {
		vectorPayload, err := json.Marshal(VectorPoint(record))
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, core.FanOutTask{
			RecordID: record.Id,
			Target:   core.TargetVector,
			Payload:  vectorPayload,
			Status:   core.StatusPending,
		})
	}

	graphPayload, err := json.Marshal(GraphDelta(record))
	if err != nil {
		return nil, err
	}
	tasks = append(tasks, core.FanOutTask{
		RecordID: record.Id,
		Target:   core.TargetGraph,
		Payload:  graphPayload,
		Status:   core.StatusPending,
	})

	insightPayload, err := json.Marshal(InsightFact(record))
	if err != nil {
		return nil, err
	}
	tasks = append(tasks, core.FanOutTask{
		RecordID: record.Id,
		Target:   core.TargetInsight,
		Payload:  insightPayload,
		Status:   core.StatusPending,
	})

	return tasks, nil
}

// SearchDocument projects a record into its search store form.
func SearchDocument(record *core.FeedbackRecord) core.SearchDocument {
	doc := core.SearchDocument{
		RecordID:    record.Id,
		StudentID:   record.StudentID,
		TeacherName: record.TeacherName,
		Category:    record.Category,
		Rating:      record.Rating,
		OpenText:    record.OpenText,
		CreatedAt:   record.CreatedAt,
	}
	if record.Derived != nil {
		doc.Sentiment = record.Derived.Sentiment
		doc.Topics = record.Derived.Topics
		doc.Entities = record.Derived.Entities
	}
	return doc
}

// VectorPoint projects a record into its vector store form. The vector
// itself is left empty: the adapter embeds the text at upsert time.
func VectorPoint(record *core.FeedbackRecord) core.VectorPoint {
	return core.VectorPoint{
		RecordID: record.Id,
		Text:     record.OpenText,
		Metadata: map[string]string{
			"student_id": record.StudentID,
			"category":   record.Category,
		},
	}
}

// GraphDelta projects a record into the nodes and edges it contributes.
// Node IDs derive from natural keys, so deltas from different records
// sharing a student, teacher, or category converge on the same nodes.
func GraphDelta(record *core.FeedbackRecord) core.GraphDelta {
	student := core.NodeIDFor(core.NodeStudent, record.StudentID)
	teacher := core.NodeIDFor(core.NodeTeacher, record.TeacherName)
	category := core.NodeIDFor(core.NodeCategory, record.Category)
	feedback := core.FeedbackNodeID(record.Id)

	feedbackProps := map[string]string{
		"rating":     strconv.Itoa(record.Rating),
		"created_at": record.CreatedAt.UTC().Format(time.RFC3339),
	}
	if record.Derived != nil && record.Derived.Sentiment != "" {
		feedbackProps["sentiment"] = record.Derived.Sentiment
	}

	return core.GraphDelta{
		Nodes: []core.GraphNode{
			{ID: student, Kind: core.NodeStudent, Key: record.StudentID},
			{ID: teacher, Kind: core.NodeTeacher, Key: record.TeacherName},
			{ID: category, Kind: core.NodeCategory, Key: record.Category},
			{ID: feedback, Kind: core.NodeFeedback, Key: strconv.FormatInt(int64(record.Id), 10), Props: feedbackProps},
		},
		Edges: []core.GraphEdge{
			{From: student, Kind: core.EdgeSubmits, To: feedback},
			{From: student, Kind: core.EdgeAssignedTo, To: teacher},
			{From: feedback, Kind: core.EdgeRelatedTo, To: category},
		},
	}
}

// InsightFact projects a record into its insight store form. The theme is
// the first derived topic, falling back to the category.
func InsightFact(record *core.FeedbackRecord) core.InsightFact {
	fact := core.InsightFact{
		RecordID:  record.Id,
		StudentID: record.StudentID,
		Theme:     record.Category,
		CreatedAt: record.CreatedAt,
	}
	if record.Derived != nil {
		fact.Sentiment = record.Derived.Sentiment
		fact.Summary = record.Derived.Summary
		if len(record.Derived.Topics) > 0 {
			fact.Theme = record.Derived.Topics[0]
		}
	}
	return fact
}
