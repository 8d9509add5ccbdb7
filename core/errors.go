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

import "errors"

// Domain validation errors
var (
	// ErrInvalidFeedbackRecord indicates a FeedbackRecord failed validation.
	ErrInvalidFeedbackRecord = errors.New("invalid feedback record")

	// ErrEmptyStudentID indicates the StudentID field is empty.
	ErrEmptyStudentID = errors.New("student id cannot be empty")

	// ErrEmptyTeacherName indicates the TeacherName field is empty.
	ErrEmptyTeacherName = errors.New("teacher name cannot be empty")

	// ErrEmptyCategory indicates the Category field is empty.
	ErrEmptyCategory = errors.New("category cannot be empty")

	// ErrRatingOutOfRange indicates a rating outside the 1-5 range.
	ErrRatingOutOfRange = errors.New("rating must be between 1 and 5")

	// ErrInvalidTimestamp indicates a timestamp is in the future.
	ErrInvalidTimestamp = errors.New("timestamp cannot be in the future")

	// ErrUnknownTargetStore indicates an unrecognized target store name.
	ErrUnknownTargetStore = errors.New("unknown target store")

	// ErrUnknownTaskStatus indicates an unrecognized task status name.
	ErrUnknownTaskStatus = errors.New("unknown task status")

	// ErrUnknownNodeKind indicates an unrecognized graph node kind name.
	ErrUnknownNodeKind = errors.New("unknown node kind")
)
