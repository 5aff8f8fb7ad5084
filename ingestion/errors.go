package ingestion

import "errors"

var (
	// ErrClassifierRequired is returned when a classifier is not provided.
	ErrClassifierRequired = errors.New("classifier required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrEmailRepositoryRequired is returned when a store has no email repository.
	ErrEmailRepositoryRequired = errors.New("email repository required")

	// ErrIndexRequired is returned when a store has no embedding index.
	ErrIndexRequired = errors.New("embedding index required")

	// ErrModelMismatch is returned when the embedder and the index serve different models.
	ErrModelMismatch = errors.New("embedding model mismatch")
)
