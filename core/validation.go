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


package core

import (
	"fmt"
	"time"
)

// ValidateFeedbackRecord validates a FeedbackRecord according to domain rules.
//
// Validation rules:
//   - StudentID, TeacherName and Category must not be empty
//   - Rating must be between 1 and 5
//   - CreatedAt must not be in the future (zero is valid before commit)
//
// NOT validated:
//   - OpenText (a record with empty open text is valid; it skips the
//     vector fan-out but still reaches search, graph and insight)
//   - Derived (populated by enrichment)
//   - Id (0 is valid before the system of record assigns one)
func ValidateFeedbackRecord(record *FeedbackRecord) error {
	if record == nil {
		return fmt.Errorf("%w: record is nil", ErrInvalidFeedbackRecord)
	}

	if record.StudentID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidFeedbackRecord, ErrEmptyStudentID)
	}

	if record.TeacherName == "" {
		return fmt.Errorf("%w: %w", ErrInvalidFeedbackRecord, ErrEmptyTeacherName)
	}

	if record.Category == "" {
		return fmt.Errorf("%w: %w", ErrInvalidFeedbackRecord, ErrEmptyCategory)
	}

	if record.Rating < 1 || record.Rating > 5 {
		return fmt.Errorf("%w: %w: value %d", ErrInvalidFeedbackRecord, ErrRatingOutOfRange, record.Rating)
	}

	if !IsValidTimestamp(record.CreatedAt) {
		return fmt.Errorf("%w: %w", ErrInvalidFeedbackRecord, ErrInvalidTimestamp)
	}

	return nil
}

// IsValidTimestamp checks if a timestamp is valid (not in the future).
// The zero time is valid; the system of record fills it at commit.
func IsValidTimestamp(ts time.Time) bool {
	return !ts.After(time.Now())
}
