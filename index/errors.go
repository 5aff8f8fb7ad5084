package index

import "errors"

var (
	// ErrVectorsRequired indicates the vector repository was nil.
	ErrVectorsRequired = errors.New("vector repository is required")

	// ErrEmailsRequired indicates the email repository was nil.
	ErrEmailsRequired = errors.New("email repository is required")

	// ErrModelRequired indicates no embedding model name was given.
	ErrModelRequired = errors.New("embedding model name is required")

	// ErrEmptyVector indicates an empty vector was upserted or queried.
	ErrEmptyVector = errors.New("vector is empty")

	// ErrDimensionMismatch indicates a vector whose length differs from the index dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrInvalidK indicates a non-positive result count.
	ErrInvalidK = errors.New("k must be positive")
)
