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
	"errors"
	"strings"
	"time"
)

// Config holds configuration for the inference endpoint and the adapter's resilience policy.
type Config struct {
	// EmbeddingHost is the base URL for the embedding service API.
	// Example: "http://localhost:11434/v1" for local OpenAI-compatible server
	EmbeddingHost string

	// GenerationHost is the base URL for the text generation service API.
	// Example: "http://localhost:11434/v1" for local OpenAI-compatible server
	GenerationHost string

	// EmbeddingModel is the model identifier to use for text embeddings.
	// Example: "nomic-embed-text", "embeddinggemma"
	EmbeddingModel string

	// GenerationModels is the ordered fallback list for generation, primary first.
	// Example: []string{"llama3.1:8b", "qwen2.5:3b"}
	GenerationModels []string

	// MaxRetries is how many times a failed call is retried on the same model
	// before falling back to the next one.
	// Default: 2
	MaxRetries int

	// InitialBackoff is the delay before the first retry.
	// Default: 500ms
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential backoff delay.
	// Default: 8s
	MaxBackoff time.Duration

	// BackoffMultiplier grows the delay between consecutive retries.
	// Default: 2
	BackoffMultiplier float64

	// CallTimeout bounds every single call to the endpoint.
	// Default: 60s
	CallTimeout time.Duration

	// MaxConcurrency caps concurrent calls issued by batch operations.
	// Default: 2
	MaxConcurrency int

	// RequestsPerSecond paces calls to the endpoint. Zero disables pacing.
	RequestsPerSecond float64
}

// ConfigOption is a functional option for configuring a Config.
type ConfigOption func(*Config)

// WithEmbeddingHost sets the embedding service host URL.
func WithEmbeddingHost(host string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingHost = host
	}
}

// WithGenerationHost sets the generation service host URL.
func WithGenerationHost(host string) ConfigOption {
	return func(c *Config) {
		c.GenerationHost = host
	}
}

// WithHost sets both embedding and generation hosts to the same URL.
func WithHost(host string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingHost = host
		c.GenerationHost = host
	}
}

// WithEmbeddingModel sets the embedding model identifier.
func WithEmbeddingModel(model string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingModel = model
	}
}

// WithGenerationModels sets the ordered generation fallback list.
func WithGenerationModels(models ...string) ConfigOption {
	return func(c *Config) {
		c.GenerationModels = models
	}
}

// WithMaxRetries sets the per-model retry count.
func WithMaxRetries(n int) ConfigOption {
	return func(c *Config) {
		c.MaxRetries = n
	}
}

// WithBackoff sets the retry backoff parameters.
func WithBackoff(initial, max time.Duration, multiplier float64) ConfigOption {
	return func(c *Config) {
		c.InitialBackoff = initial
		c.MaxBackoff = max
		c.BackoffMultiplier = multiplier
	}
}

// WithCallTimeout sets the per-call timeout.
func WithCallTimeout(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.CallTimeout = d
	}
}

// WithMaxConcurrency sets the batch concurrency ceiling.
func WithMaxConcurrency(n int) ConfigOption {
	return func(c *Config) {
		c.MaxConcurrency = n
	}
}

// WithRequestsPerSecond enables request pacing.
func WithRequestsPerSecond(rps float64) ConfigOption {
	return func(c *Config) {
		c.RequestsPerSecond = rps
	}
}

// DefaultConfig returns a Config with sensible defaults for a local OpenAI-compatible service.
// By default, both embedding and generation use the same host.
func DefaultConfig() *Config {
	defaultHost := "http://localhost:11434/v1"
	return &Config{
		EmbeddingHost:     defaultHost,
		GenerationHost:    defaultHost,
		EmbeddingModel:    "nomic-embed-text",
		GenerationModels:  []string{"llama3.1:8b", "qwen2.5:3b"},
		MaxRetries:        2,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        8 * time.Second,
		BackoffMultiplier: 2,
		CallTimeout:       60 * time.Second,
		MaxConcurrency:    2,
	}
}

// NewConfig creates a Config with the default values and applies the provided options.
//
// Example:
//
//	cfg := NewConfig(
//	    WithHost("http://localhost:11434/v1"),
//	    WithGenerationModels("llama3.1:8b", "mistral:7b"),
//	)
func NewConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Normalize ensures the configuration is in a canonical form.
// It automatically adds the /v1 suffix to hosts if missing, which is required
// by most OpenAI-compatible APIs (Ollama, LocalAI, vLLM, etc).
func (c *Config) Normalize() {
	c.EmbeddingHost = normalizeHost(c.EmbeddingHost)
	c.GenerationHost = normalizeHost(c.GenerationHost)

	models := c.GenerationModels[:0:0]
	for _, m := range c.GenerationModels {
		if m = strings.TrimSpace(m); m != "" {
			models = append(models, m)
		}
	}
	c.GenerationModels = models
}

func normalizeHost(host string) string {
	if host == "" || strings.HasSuffix(host, "/v1") {
		return host
	}
	return strings.TrimSuffix(host, "/") + "/v1"
}

// Validate checks that the configuration is valid and complete.
// It automatically normalizes the configuration before validation.
func (c *Config) Validate() error {
	c.Normalize()

	if c.EmbeddingHost == "" {
		return errors.New("ai config: EmbeddingHost is required")
	}
	if c.GenerationHost == "" {
		return errors.New("ai config: GenerationHost is required")
	}
	if c.EmbeddingModel == "" {
		return errors.New("ai config: EmbeddingModel is required")
	}
	if len(c.GenerationModels) == 0 {
		return errors.New("ai config: at least one generation model is required")
	}
	if c.MaxRetries < 0 {
		return errors.New("ai config: MaxRetries cannot be negative")
	}
	if c.InitialBackoff < 0 || c.MaxBackoff < 0 {
		return errors.New("ai config: backoff durations cannot be negative")
	}
	if c.CallTimeout <= 0 {
		return errors.New("ai config: CallTimeout must be positive")
	}
	if c.MaxConcurrency < 1 {
		return errors.New("ai config: MaxConcurrency must be at least 1")
	}
	if c.RequestsPerSecond < 0 {
		return errors.New("ai config: RequestsPerSecond cannot be negative")
	}
	return nil
}

// Policies builds the ordered fallback table for generation models.
// Every model shares the configured retry count and backoff.
func (c *Config) Policies() []ModelPolicy {
	policies := make([]ModelPolicy, len(c.GenerationModels))
	for i, m := range c.GenerationModels {
		policies[i] = ModelPolicy{
			Model:      m,
			MaxRetries: c.MaxRetries,
			Backoff:    c.backoff(),
		}
	}
	return policies
}

// EmbeddingPolicy builds the single-model policy for embeddings.
// Embeddings never fall back to another model because vectors from
// different models are not comparable.
func (c *Config) EmbeddingPolicy() ModelPolicy {
	return ModelPolicy{
		Model:      c.EmbeddingModel,
		MaxRetries: c.MaxRetries,
		Backoff:    c.backoff(),
	}
}

func (c *Config) backoff() Backoff {
	return Backoff{
		Initial:    c.InitialBackoff,
		Max:        c.MaxBackoff,
		Multiplier: c.BackoffMultiplier,
	}
}
