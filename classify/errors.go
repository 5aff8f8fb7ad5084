package classify

import "errors"

var (
	// ErrGeneratorRequired indicates the classifier was built without a generator.
	ErrGeneratorRequired = errors.New("generator is required")

	// ErrInvalidOption indicates an option value out of range.
	ErrInvalidOption = errors.New("invalid classifier option")
)
