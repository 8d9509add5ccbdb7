package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validRecord() *FeedbackRecord {
	return &FeedbackRecord{
		StudentID:   "S1",
		TeacherName: "T1",
		Category:    "reading",
		Rating:      4,
		OpenText:    "great progress",
	}
}

func TestValidateFeedbackRecord(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *FeedbackRecord)
		wantErr error
	}{
		{
			name:   "valid record",
			mutate: func(r *FeedbackRecord) {},
		},
		{
			name:   "empty open text is valid",
			mutate: func(r *FeedbackRecord) { r.OpenText = "" },
		},
		{
			name:    "missing student id",
			mutate:  func(r *FeedbackRecord) { r.StudentID = "" },
			wantErr: ErrEmptyStudentID,
		},
		{
			name:    "missing teacher name",
			mutate:  func(r *FeedbackRecord) { r.TeacherName = "" },
			wantErr: ErrEmptyTeacherName,
		},
		{
			name:    "missing category",
			mutate:  func(r *FeedbackRecord) { r.Category = "" },
			wantErr: ErrEmptyCategory,
		},
		{
			name:    "rating too low",
			mutate:  func(r *FeedbackRecord) { r.Rating = 0 },
			wantErr: ErrRatingOutOfRange,
		},
		{
			name:    "rating too high",
			mutate:  func(r *FeedbackRecord) { r.Rating = 6 },
			wantErr: ErrRatingOutOfRange,
		},
		{
			name:    "future timestamp",
			mutate:  func(r *FeedbackRecord) { r.CreatedAt = time.Now().Add(time.Hour) },
			wantErr: ErrInvalidTimestamp,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record := validRecord()
			tt.mutate(record)
			err := ValidateFeedbackRecord(record)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidFeedbackRecord)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidateFeedbackRecordNil(t *testing.T) {
	assert.ErrorIs(t, ValidateFeedbackRecord(nil), ErrInvalidFeedbackRecord)
}
