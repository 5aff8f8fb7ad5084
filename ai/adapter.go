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

package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Adapter is a resilient client over a Backend. Every call runs under a timeout,
// is retried with bounded exponential backoff and falls back through the ordered
// model table before giving up with ErrServiceUnavailable.
//
// At most MaxConcurrency backend calls are in flight across all callers of one
// Adapter. A call holds its slot only while the request runs, not during backoff.
type Adapter struct {
	backend        Backend
	policies       []ModelPolicy
	embedPolicy    ModelPolicy
	callTimeout    time.Duration
	limiter        *rate.Limiter
	maxConcurrency int
	sem            *semaphore.Weighted
	logger         *slog.Logger
}

var _ ModelAdapter = (*Adapter)(nil)

// Option configures an Adapter.
type Option func(*Adapter) error

// WithLogger sets a custom logger for the adapter.
// If not provided, uses slog.Default() with component="ai-adapter".
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) error {
		if logger == nil {
			logger = slog.Default()
		}
		a.logger = logger.With("component", "ai-adapter")
		return nil
	}
}

// WithModelPolicies replaces the generation fallback table built from the Config.
func WithModelPolicies(policies ...ModelPolicy) Option {
	return func(a *Adapter) error {
		if len(policies) == 0 {
			return ErrNoModels
		}
		a.policies = policies
		return nil
	}
}

// WithEmbeddingPolicy replaces the embedding retry policy built from the Config.
func WithEmbeddingPolicy(policy ModelPolicy) Option {
	return func(a *Adapter) error {
		if policy.Model == "" {
			return ErrNoModels
		}
		a.embedPolicy = policy
		return nil
	}
}

// NewAdapter creates an Adapter over backend configured by cfg.
func NewAdapter(backend Backend, cfg *Config, opts ...Option) (*Adapter, error) {
	if backend == nil {
		return nil, ErrBackendRequired
	}
	if cfg == nil {
		return nil, ErrConfigRequired
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &Adapter{
		backend:        backend,
		policies:       cfg.Policies(),
		embedPolicy:    cfg.EmbeddingPolicy(),
		callTimeout:    cfg.CallTimeout,
		maxConcurrency: cfg.MaxConcurrency,
		sem:            semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		logger:         slog.Default().With("component", "ai-adapter"),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		a.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// EmbeddingModel names the model producing the vectors.
func (a *Adapter) EmbeddingModel() string {
	return a.embedPolicy.Model
}

// MaxConcurrency is the ceiling on concurrent backend calls.
func (a *Adapter) MaxConcurrency() int {
	return a.maxConcurrency
}

// Close releases the backend.
func (a *Adapter) Close() error {
	return a.backend.Close()
}

// Generate returns model text for a prompt.
func (a *Adapter) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	req := opts.request(prompt)
	return withFallback(ctx, a, a.policies, "generate", func(ctx context.Context, model string) (string, error) {
		text, err := a.backend.Generate(ctx, model, req)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(text) == "" {
			return "", fmt.Errorf("%w: empty completion", ErrMalformedResponse)
		}
		return text, nil
	})
}

// GenerateBatch runs prompts with at most MaxConcurrency calls in flight.
// Result i always corresponds to prompt i regardless of completion order.
// Prompts not yet dispatched when ctx is cancelled report the context error.
func (a *Adapter) GenerateBatch(ctx context.Context, prompts []string, opts GenerateOptions) []BatchResult {
	results := make([]BatchResult, len(prompts))
	var wg sync.WaitGroup
	// Bounds the goroutines; the calls themselves queue on a.sem.
	dispatch := semaphore.NewWeighted(int64(a.maxConcurrency))

	for i, prompt := range prompts {
		if err := dispatch.Acquire(ctx, 1); err != nil {
			for j := i; j < len(prompts); j++ {
				results[j] = BatchResult{Err: err}
			}
			break
		}
		wg.Add(1)
		go func(i int, prompt string) {
			defer wg.Done()
			defer dispatch.Release(1)
			text, err := a.Generate(ctx, prompt, opts)
			results[i] = BatchResult{Text: text, Err: err}
		}(i, prompt)
	}

	wg.Wait()
	return results
}

// Embed generates a vector embedding for a single text string.
func (a *Adapter) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := a.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for texts using the single embedding model.
func (a *Adapter) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	policies := []ModelPolicy{a.embedPolicy}
	return withFallback(ctx, a, policies, "embed", func(ctx context.Context, model string) ([][]float32, error) {
		vectors, err := a.backend.Embed(ctx, model, texts)
		if err != nil {
			return nil, err
		}
		if len(vectors) != len(texts) {
			return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrMalformedResponse, len(vectors), len(texts))
		}
		for i, v := range vectors {
			if len(v) == 0 {
				return nil, fmt.Errorf("%w: empty vector at position %d", ErrMalformedResponse, i)
			}
		}
		return vectors, nil
	})
}

// withFallback walks the policy table, retrying each model before moving to the next.
// Cancellation of the parent context is returned as-is and never retried.
func withFallback[T any](ctx context.Context, a *Adapter, policies []ModelPolicy, op string, call func(context.Context, string) (T, error)) (T, error) {
	var zero T
	var failures []error

	for i, policy := range policies {
		if i > 0 {
			a.logger.Warn("falling back to next model", "op", op, "model", policy.Model, "previous", policies[i-1].Model)
		}
		for attempt := 1; attempt <= policy.Attempts(); attempt++ {
			if attempt > 1 {
				if err := sleep(ctx, policy.Backoff.Delay(attempt-1)); err != nil {
					return zero, err
				}
			}
			if err := ctx.Err(); err != nil {
				return zero, err
			}
			if a.limiter != nil {
				if err := a.limiter.Wait(ctx); err != nil {
					if ctxErr := ctx.Err(); ctxErr != nil {
						return zero, ctxErr
					}
					return zero, err
				}
			}

			if err := a.sem.Acquire(ctx, 1); err != nil {
				return zero, err
			}
			v, timedOut, err := attemptCall(ctx, a.callTimeout, policy.Model, call)
			a.sem.Release(1)
			if err == nil {
				if attempt > 1 || i > 0 {
					a.logger.Debug("call succeeded after failures", "op", op, "model", policy.Model, "attempt", attempt)
				}
				return v, nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return zero, ctxErr
			}

			callErr := &CallError{
				Model:   policy.Model,
				Attempt: attempt,
				Kind:    classifyFailure(err, timedOut),
				Err:     err,
			}
			failures = append(failures, callErr)
			a.logger.Warn("model call failed",
				"op", op,
				"model", policy.Model,
				"attempt", attempt,
				"maxAttempts", policy.Attempts(),
				"kind", callErr.Kind.String(),
				"err", err)
		}
	}

	a.logger.Error("all models exhausted", "op", op, "failures", len(failures))
	return zero, fmt.Errorf("%w: %s: %w", ErrServiceUnavailable, op, errors.Join(failures...))
}

// attemptCall runs one call under the per-call timeout.
func attemptCall[T any](ctx context.Context, timeout time.Duration, model string, call func(context.Context, string) (T, error)) (T, bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	v, err := call(callCtx, model)
	if err != nil {
		timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
		return v, timedOut, err
	}
	return v, false, nil
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
