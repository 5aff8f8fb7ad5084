package ai

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

var (
	// ErrServiceUnavailable is returned when every model in the fallback table is exhausted.
	ErrServiceUnavailable = errors.New("inference service unavailable")

	// ErrMalformedResponse indicates the endpoint answered with output that cannot be used.
	ErrMalformedResponse = errors.New("malformed model response")

	// ErrMalformedOutput indicates structured output failed decoding or schema validation.
	ErrMalformedOutput = errors.New("model output does not match schema")

	// ErrBackendRequired is returned when an Adapter is built without a Backend.
	ErrBackendRequired = errors.New("backend is required")

	// ErrConfigRequired is returned when an Adapter is built without a Config.
	ErrConfigRequired = errors.New("config is required")

	// ErrNoModels is returned when the fallback table is empty.
	ErrNoModels = errors.New("at least one model policy is required")
)

// classifyFailure maps a backend error onto the failure taxonomy.
// callTimedOut reports that the per-call deadline fired while the parent context was alive.
func classifyFailure(err error, callTimedOut bool) FailureKind {
	if callTimedOut || errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	if errors.Is(err, ErrMalformedResponse) {
		return FailureMalformedResponse
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return FailureMalformedResponse
	}

	msg := strings.ToLower(err.Error())
	connPatterns := []string{
		"connection refused",
		"connection reset",
		"no such host",
		"dial tcp",
		"broken pipe",
		"network is unreachable",
		"eof",
	}
	for _, p := range connPatterns {
		if strings.Contains(msg, p) {
			return FailureConnectionRefused
		}
	}
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") {
		return FailureTimeout
	}
	if strings.Contains(msg, "unexpected end of json") || strings.Contains(msg, "invalid character") {
		return FailureMalformedResponse
	}
	return FailureNonSuccess
}
