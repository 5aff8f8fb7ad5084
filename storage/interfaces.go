package storage

import (
	"context"

	"github.com/poiesic/insightmail/core"
)

// Repository provides common storage operations shared across all repositories.
// Implementations must be thread-safe and support concurrent access.
type Repository interface {
	// Close releases resources held by the repository.
	Close() error
}

// EmailRepository provides operations for managing email records.
// Every method is transactional per call; no cross-call transactions are required.
type EmailRepository interface {
	Repository

	// AddEmail inserts a record if no record with the same fingerprint exists.
	// Sets InsertedAt and UpdatedAt.
	// On a fingerprint collision it returns the stored record together with an
	// error wrapping core.ErrDuplicateRecord. The check and insert are atomic.
	AddEmail(ctx context.Context, record *core.EmailRecord) (*core.EmailRecord, error)

	// UpdateEmails updates existing records in place.
	// Updates the UpdatedAt timestamp automatically.
	// Returns ErrNotFound if any record doesn't exist.
	UpdateEmails(ctx context.Context, records ...*core.EmailRecord) ([]*core.EmailRecord, error)

	// DeleteEmails purges records by ID together with their indices and every
	// stored embedding vector, in one transaction.
	// Returns ErrNotFound if any record doesn't exist.
	DeleteEmails(ctx context.Context, ids ...core.ID) error

	// GetEmail retrieves a single record by ID.
	// Returns ErrNotFound if the record doesn't exist.
	GetEmail(ctx context.Context, id core.ID) (*core.EmailRecord, error)

	// GetEmails retrieves multiple records by their IDs.
	// Returns only the records that exist (no error for missing records).
	GetEmails(ctx context.Context, ids ...core.ID) ([]*core.EmailRecord, error)

	// GetByFingerprint retrieves the record with the given fingerprint.
	// Returns ErrNotFound if none exists.
	GetByFingerprint(ctx context.Context, fingerprint string) (*core.EmailRecord, error)

	// FindEmails returns every record matching filter, ordered by ReceivedAt ascending.
	FindEmails(ctx context.Context, filter core.Filter) ([]*core.EmailRecord, error)

	// ScanEmails returns up to limit records with ID greater than after, in ascending ID order.
	// Used for resumable full passes over the store.
	ScanEmails(ctx context.Context, after core.ID, limit int) ([]*core.EmailRecord, error)

	// CountEmails returns the number of stored records.
	CountEmails(ctx context.Context) (int, error)
}

// VectorRepository persists embedding vectors, one per (record, model).
type VectorRepository interface {
	// UpsertVector stores or replaces the vector for (RecordID, ModelName).
	// Returns ErrNotFound if the owning email record doesn't exist.
	UpsertVector(ctx context.Context, vector *core.EmbeddingVector) error

	// GetVector retrieves the vector for a record under model.
	// Returns ErrNotFound if none exists.
	GetVector(ctx context.Context, id core.ID, model string) (*core.EmbeddingVector, error)

	// DeleteVectors removes every vector belonging to a record.
	DeleteVectors(ctx context.Context, id core.ID) error

	// ForEachVector calls fn for every vector stored under model.
	// Iteration stops at the first error returned by fn.
	ForEachVector(ctx context.Context, model string, fn func(*core.EmbeddingVector) error) error
}

// CheckpointRepository persists processor progress.
type CheckpointRepository interface {
	// SaveCheckpoint persists a checkpoint for a processor type.
	SaveCheckpoint(ctx context.Context, checkpoint *core.Checkpoint) error

	// LoadCheckpoint retrieves the checkpoint for a processor type.
	// Returns nil, nil if no checkpoint exists.
	LoadCheckpoint(ctx context.Context, processorType string) (*core.Checkpoint, error)

	// DeleteCheckpoint removes the checkpoint for a processor type.
	DeleteCheckpoint(ctx context.Context, processorType string) error
}
