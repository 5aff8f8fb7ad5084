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
	"encoding/binary"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a unique identifier for stored emails.
// It is derived from the email fingerprint so re-ingesting the same email yields the same ID.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// ProcessingState tracks how far an email got through ingestion.
type ProcessingState int

const (
	// StatePending marks a record that is stored but not yet classified and embedded.
	StatePending ProcessingState = iota + 1
	// StateProcessed marks a record that is classified and searchable.
	StateProcessed
)

func (s ProcessingState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateProcessed:
		return "processed"
	default:
		return "unknown"
	}
}

// ClassificationMethod records what produced a classification.
type ClassificationMethod int

const (
	// MethodNone means the record has not been classified yet.
	MethodNone ClassificationMethod = iota
	// MethodModel means the language model produced the classification.
	MethodModel
	// MethodHeuristic means the keyword fallback produced the classification.
	MethodHeuristic
)

func (m ClassificationMethod) String() string {
	switch m {
	case MethodModel:
		return "model"
	case MethodHeuristic:
		return "heuristic"
	default:
		return "none"
	}
}

// RawEmail is the normalized payload handed to the core by the upstream ingestion surface.
type RawEmail struct {
	SourceID   string    `json:"source_id"`
	Account    string    `json:"account"`
	Subject    string    `json:"subject"`
	Sender     string    `json:"sender"`
	Recipient  string    `json:"recipient"`
	BodyText   string    `json:"body_text"`
	BodyHTML   string    `json:"body_html,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// EmailRecord is a stored email enriched with its classification.
type EmailRecord struct {
	Id              ID
	SourceID        string
	Account         string
	Subject         string
	Sender          string
	Recipient       string
	BodyText        string
	BodyHTML        string
	ReceivedAt      time.Time
	Category        Category
	Confidence      float64
	Summary         string
	ExtractedFields map[string]string
	Fingerprint     string
	State           ProcessingState
	ClassifiedBy    ClassificationMethod
	InsertedAt      time.Time // When the record was inserted into the database
	UpdatedAt       time.Time // When the record was last updated
}

// NewEmailRecord builds a pending record from a raw payload.
// The fingerprint and ID are computed from the payload contents.
func NewEmailRecord(raw *RawEmail) *EmailRecord {
	fp := Fingerprint(raw.Sender, raw.ReceivedAt, raw.BodyText)
	return &EmailRecord{
		Id:          IDFromContent(fp),
		SourceID:    raw.SourceID,
		Account:     raw.Account,
		Subject:     raw.Subject,
		Sender:      raw.Sender,
		Recipient:   raw.Recipient,
		BodyText:    raw.BodyText,
		BodyHTML:    raw.BodyHTML,
		ReceivedAt:  raw.ReceivedAt.UTC(),
		Category:    CategoryOther,
		Fingerprint: fp,
		State:       StatePending,
	}
}

// Apply copies a classification onto the record.
func (r *EmailRecord) Apply(result ClassificationResult) {
	r.Category = result.Category
	r.Confidence = result.Confidence
	r.Summary = result.Summary
	r.ExtractedFields = result.ExtractedFields
	r.ClassifiedBy = result.Method
}

// EmbeddingText is the text embedded for a record: subject, blank line, body.
func (r *EmailRecord) EmbeddingText() string {
	switch {
	case r.Subject == "":
		return r.BodyText
	case r.BodyText == "":
		return r.Subject
	}
	return r.Subject + "\n\n" + r.BodyText
}

// ClassificationResult is the structured judgment produced for one email.
type ClassificationResult struct {
	Category        Category
	Confidence      float64
	Summary         string
	ExtractedFields map[string]string
	Method          ClassificationMethod
}

// EmbeddingVector is the stored embedding for one record under one model.
type EmbeddingVector struct {
	RecordID  ID
	Vector    []float32
	ModelName string
	CreatedAt time.Time
}

// Source is a ranked reference to a stored email.
type Source struct {
	RecordID ID
	Score    float32
}

// QueryResult is the answer to a natural-language query with its ranked sources.
type QueryResult struct {
	Answer  string
	Sources []Source
}

// Filter restricts which records take part in a search or listing.
// Zero values mean "no restriction". The date range is half-open: From <= ReceivedAt < To.
type Filter struct {
	Categories []Category
	From       time.Time
	To         time.Time
	Account    string
}

// IsZero reports whether the filter restricts nothing.
func (f Filter) IsZero() bool {
	return len(f.Categories) == 0 && f.From.IsZero() && f.To.IsZero() && f.Account == ""
}

// MatchesTime reports whether ts falls inside the filter's date range.
func (f Filter) MatchesTime(ts time.Time) bool {
	if !f.From.IsZero() && ts.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !ts.Before(f.To) {
		return false
	}
	return true
}

// MatchesCategory reports whether c is allowed by the filter.
func (f Filter) MatchesCategory(c Category) bool {
	if len(f.Categories) == 0 {
		return true
	}
	for _, allowed := range f.Categories {
		if allowed == c {
			return true
		}
	}
	return false
}

// Matches reports whether a record satisfies every predicate of the filter.
func (f Filter) Matches(r *EmailRecord) bool {
	if r == nil {
		return false
	}
	if f.Account != "" && f.Account != r.Account {
		return false
	}
	return f.MatchesCategory(r.Category) && f.MatchesTime(r.ReceivedAt)
}

// Checkpoint records how far a long-running processor got, so it can resume.
type Checkpoint struct {
	ProcessorType string
	LastID        ID
	UpdatedAt     time.Time
}
