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
	// ErrInvalidEmailRecord indicates an EmailRecord failed validation.
	ErrInvalidEmailRecord = errors.New("invalid email record")

	// ErrInvalidRawEmail indicates an upstream payload failed validation.
	ErrInvalidRawEmail = errors.New("invalid raw email")

	// ErrInvalidTimestamp indicates a timestamp is zero or in the future.
	ErrInvalidTimestamp = errors.New("timestamp must be set and not in the future")

	// ErrEmptyContent indicates the email has neither subject nor body.
	ErrEmptyContent = errors.New("content cannot be empty")

	// ErrEmptySender indicates the Sender field is empty.
	ErrEmptySender = errors.New("sender cannot be empty")

	// ErrInvalidConfidence indicates a confidence outside [0,1].
	ErrInvalidConfidence = errors.New("confidence must be between 0 and 1")

	// ErrUnknownCategory indicates a category name that does not resolve.
	ErrUnknownCategory = errors.New("unknown category")

	// ErrInvalidState indicates an invalid ProcessingState value.
	ErrInvalidState = errors.New("invalid processing state")

	// ErrDuplicateRecord indicates an email with the same fingerprint is already stored.
	ErrDuplicateRecord = errors.New("duplicate record")
)
