package ai

import (
	"fmt"
	"math"
	"time"
)

// Request is a single generation request sent to a Backend.
type Request struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
	JSONMode    bool
}

// GenerateOptions tunes a generation call made through the Adapter.
type GenerateOptions struct {
	// System is an optional system prompt.
	System string
	// Temperature is the sampling temperature. Zero yields the most deterministic output.
	Temperature float64
	// MaxTokens caps the response length. Zero leaves it to the model.
	MaxTokens int
	// JSONMode asks the endpoint for a JSON object response.
	JSONMode bool
}

func (o GenerateOptions) request(prompt string) Request {
	return Request{
		System:      o.System,
		Prompt:      prompt,
		Temperature: o.Temperature,
		MaxTokens:   o.MaxTokens,
		JSONMode:    o.JSONMode,
	}
}

// BatchResult is the outcome of one prompt in a GenerateBatch call.
type BatchResult struct {
	Text string
	Err  error
}

// Backoff describes bounded exponential backoff between retries.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// Delay returns the wait before the given retry (1-based).
func (b Backoff) Delay(retry int) time.Duration {
	if retry < 1 || b.Initial <= 0 {
		return 0
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(b.Initial) * math.Pow(mult, float64(retry-1))
	if b.Max > 0 && d > float64(b.Max) {
		return b.Max
	}
	return time.Duration(d)
}

// ModelPolicy is one row of the fallback table.
type ModelPolicy struct {
	Model      string
	MaxRetries int
	Backoff    Backoff
}

// Attempts is the total number of calls made against this model before falling back.
func (p ModelPolicy) Attempts() int {
	return p.MaxRetries + 1
}

// FailureKind classifies a failed endpoint call.
type FailureKind int

const (
	FailureConnectionRefused FailureKind = iota + 1
	FailureTimeout
	FailureMalformedResponse
	FailureNonSuccess
)

func (k FailureKind) String() string {
	switch k {
	case FailureConnectionRefused:
		return "connection-refused"
	case FailureTimeout:
		return "timeout"
	case FailureMalformedResponse:
		return "malformed-response"
	case FailureNonSuccess:
		return "non-success"
	default:
		return "unknown"
	}
}

// CallError records one failed attempt against one model.
type CallError struct {
	Model   string
	Attempt int
	Kind    FailureKind
	Err     error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s attempt %d (%s): %v", e.Model, e.Attempt, e.Kind, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}
