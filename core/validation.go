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
	"strings"
	"time"
)

// ValidateRawEmail validates an upstream payload before it enters the pipeline.
//
// Validation rules:
//   - Sender must not be empty
//   - Subject and BodyText must not both be empty
//   - ReceivedAt must be set and not in the future
func ValidateRawEmail(raw *RawEmail) error {
	if raw == nil {
		return fmt.Errorf("%w: payload is nil", ErrInvalidRawEmail)
	}

	if strings.TrimSpace(raw.Sender) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidRawEmail, ErrEmptySender)
	}

	if strings.TrimSpace(raw.Subject) == "" && strings.TrimSpace(raw.BodyText) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidRawEmail, ErrEmptyContent)
	}

	if !IsValidTimestamp(raw.ReceivedAt) {
		return fmt.Errorf("%w: %w", ErrInvalidRawEmail, ErrInvalidTimestamp)
	}

	return nil
}

// ValidateEmailRecord validates an EmailRecord according to domain rules.
//
// Validation rules:
//   - Fingerprint must not be empty
//   - Sender must not be empty
//   - Confidence must be within [0,1]
//   - State must be Pending or Processed
//
// NOT validated (populated by processors):
//   - Summary and ExtractedFields (empty until classification runs)
func ValidateEmailRecord(record *EmailRecord) error {
	if record == nil {
		return fmt.Errorf("%w: record is nil", ErrInvalidEmailRecord)
	}

	if record.Fingerprint == "" {
		return fmt.Errorf("%w: fingerprint is empty", ErrInvalidEmailRecord)
	}

	if strings.TrimSpace(record.Sender) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidEmailRecord, ErrEmptySender)
	}

	if record.Confidence < 0 || record.Confidence > 1 {
		return fmt.Errorf("%w: %w", ErrInvalidEmailRecord, ErrInvalidConfidence)
	}

	if err := ValidateState(record.State); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEmailRecord, err)
	}

	return nil
}

// ValidateState validates that a ProcessingState has a valid value.
func ValidateState(state ProcessingState) error {
	if state != StatePending && state != StateProcessed {
		return fmt.Errorf("%w: value %d", ErrInvalidState, state)
	}
	return nil
}

// IsValidTimestamp checks if a timestamp is valid (set and not in the future).
func IsValidTimestamp(ts time.Time) bool {
	return !ts.IsZero() && !ts.After(time.Now())
}
