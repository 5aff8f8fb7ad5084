package ingestion

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/poiesic/insightmail/core"
)

// Status is the result of submitting one email.
type Status int

const (
	// StatusFailed means the email could not be stored, or failed before it became searchable
	// because of a store error or cancellation.
	StatusFailed Status = iota
	// StatusProcessed means the email is stored, classified and searchable.
	StatusProcessed
	// StatusDuplicate means an email with the same fingerprint was already processed.
	// Nothing was written.
	StatusDuplicate
	// StatusPending means the email is stored and classified but not yet searchable,
	// usually because embedding failed. Resubmitting it resumes the workflow.
	StatusPending
)

func (s Status) String() string {
	switch s {
	case StatusProcessed:
		return "processed"
	case StatusDuplicate:
		return "duplicate"
	case StatusPending:
		return "pending"
	default:
		return "failed"
	}
}

// Outcome reports what happened to one submitted email.
type Outcome struct {
	RecordID    core.ID
	Fingerprint string
	Status      Status
	Category    core.Category
	// Err is set for failed and pending outcomes. Duplicates carry core.ErrDuplicateRecord.
	Err error
}

// BatchReport collects per-email outcomes of ProcessBatch, in input order.
type BatchReport struct {
	BatchID    string
	Outcomes   []Outcome
	Processed  int
	Duplicates int
	Pending    int
	Failed     int
	Elapsed    time.Duration
}

func (r *BatchReport) count() {
	r.Processed, r.Duplicates, r.Pending, r.Failed = 0, 0, 0, 0
	for _, o := range r.Outcomes {
		switch o.Status {
		case StatusProcessed:
			r.Processed++
		case StatusDuplicate:
			r.Duplicates++
		case StatusPending:
			r.Pending++
		default:
			r.Failed++
		}
	}
}

// Err joins the errors of every failed outcome, annotated with its input position.
// Returns nil when nothing failed.
func (r *BatchReport) Err() error {
	var errs []error
	for i, o := range r.Outcomes {
		if o.Status == StatusFailed {
			errs = append(errs, fmt.Errorf("email %d: %w", i, o.Err))
		}
	}
	return errors.Join(errs...)
}

func (r *BatchReport) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "batch %s: %d emails in %s\n", r.BatchID, len(r.Outcomes), r.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(&sb, "  processed:  %d\n", r.Processed)
	fmt.Fprintf(&sb, "  duplicates: %d\n", r.Duplicates)
	fmt.Fprintf(&sb, "  pending:    %d\n", r.Pending)
	fmt.Fprintf(&sb, "  failed:     %d", r.Failed)
	return sb.String()
}
