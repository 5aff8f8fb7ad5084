package reembed

import "errors"

var (
	// ErrInvalidMaxAttempts is returned when maxAttempts is <= 0
	ErrInvalidMaxAttempts = errors.New("maxAttempts must be greater than 0")

	// ErrEmailRepositoryRequired is returned when an email repository is not provided.
	ErrEmailRepositoryRequired = errors.New("email repository required")

	// ErrCheckpointRepositoryRequired is returned when a checkpoint repository is not provided.
	ErrCheckpointRepositoryRequired = errors.New("checkpoint repository required")

	// ErrIndexRequired is returned when a target index is not provided.
	ErrIndexRequired = errors.New("target index required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrModelMismatch is returned when the embedder and the target index serve different models.
	ErrModelMismatch = errors.New("embedding model mismatch")
)
