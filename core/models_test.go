package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeIDForDeterministic(t *testing.T) {
	a := NodeIDFor(NodeStudent, "S1")
	b := NodeIDFor(NodeStudent, "S1")
	assert.Equal(t, a, b, "same natural key must produce same node ID")

	c := NodeIDFor(NodeTeacher, "S1")
	assert.NotEqual(t, a, c, "same key under a different kind must produce a different node ID")

	d := NodeIDFor(NodeStudent, "S2")
	assert.NotEqual(t, a, d)
}

func TestFeedbackRecordWireNames(t *testing.T) {
	raw := `{"id":1,"student_id":"S1","teacher_name":"T1","category":"reading","rating":4,"open_text":"great progress"}`

	var record FeedbackRecord
	require.NoError(t, json.Unmarshal([]byte(raw), &record))
	assert.Equal(t, ID(1), record.Id)
	assert.Equal(t, "S1", record.StudentID)
	assert.Equal(t, "T1", record.TeacherName)
	assert.Equal(t, "reading", record.Category)
	assert.Equal(t, 4, record.Rating)
	assert.Equal(t, "great progress", record.OpenText)
	require.NoError(t, ValidateFeedbackRecord(&record))

	out, err := json.Marshal(&record)
	require.NoError(t, err)
	for _, key := range []string{`"student_id"`, `"teacher_name"`, `"open_text"`, `"created_at"`} {
		assert.Contains(t, string(out), key)
	}
}

func TestFeedbackNodeID(t *testing.T) {
	assert.Equal(t, FeedbackNodeID(1), FeedbackNodeID(1))
	assert.NotEqual(t, FeedbackNodeID(1), FeedbackNodeID(2))
}

func TestTargetStoreRoundTrip(t *testing.T) {
	for _, target := range []TargetStore{TargetSearch, TargetVector, TargetGraph, TargetInsight} {
		parsed, err := ParseTargetStore(target.String())
		require.NoError(t, err)
		assert.Equal(t, target, parsed)
	}

	_, err := ParseTargetStore("bogus")
	assert.ErrorIs(t, err, ErrUnknownTargetStore)
}

func TestTaskStatusRoundTrip(t *testing.T) {
	for _, status := range []TaskStatus{StatusPending, StatusInFlight, StatusSucceeded, StatusFailedTerminal} {
		parsed, err := ParseTaskStatus(status.String())
		require.NoError(t, err)
		assert.Equal(t, status, parsed)
	}

	_, err := ParseTaskStatus("bogus")
	assert.ErrorIs(t, err, ErrUnknownTaskStatus)
}

func TestTaskStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusInFlight.Terminal())
	assert.True(t, StatusSucceeded.Terminal())
	assert.True(t, StatusFailedTerminal.Terminal())
}
