package reembed

import (
	"context"

	"github.com/poiesic/insightmail/core"
	"github.com/poiesic/insightmail/storage"
)

const (
	// DefaultBatchSize is the default number of records to fetch in each batch
	DefaultBatchSize = 100
)

// RecordIterator walks every stored email in ascending ID order, one page at a time.
type RecordIterator struct {
	repo      storage.EmailRepository
	batchSize int
}

// NewRecordIterator creates a new record iterator.
// batchSize: number of records to fetch in each batch; values <= 0 select DefaultBatchSize
func NewRecordIterator(repo storage.EmailRepository, batchSize int) *RecordIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	return &RecordIterator{
		repo:      repo,
		batchSize: batchSize,
	}
}

// ForEach calls fn for each page of records with ID greater than after.
// Iteration stops on the first error from fn, on cancellation, or after the last page.
func (it *RecordIterator) ForEach(ctx context.Context, after core.ID, fn func([]*core.EmailRecord) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, err := it.repo.ScanEmails(ctx, after, it.batchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		if err := fn(batch); err != nil {
			return err
		}

		if len(batch) < it.batchSize {
			return nil
		}
		after = batch[len(batch)-1].Id
	}
}
