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

package mock

import (
	"context"
	"sync"
	"time"

	"github.com/poiesic/insightmail/ai"
)

// DefaultResponse is returned by MockBackend.Generate when no GenerateFunc is set.
const DefaultResponse = "mock response"

// MockBackend is a test double for ai.Backend.
// It allows custom behavior injection via function fields and is safe for concurrent use.
type MockBackend struct {
	// GenerateFunc is called by Generate if set.
	// If nil, returns DefaultResponse.
	GenerateFunc func(ctx context.Context, model string, req ai.Request) (string, error)

	// EmbedFunc is called by Embed if set.
	// If nil, uses BagOfWords vectors.
	EmbedFunc func(ctx context.Context, model string, texts []string) ([][]float32, error)

	// ModelsFunc is called by Models if set.
	// If nil, lists the TestConfig models.
	ModelsFunc func(ctx context.Context) ([]string, error)

	mu            sync.Mutex
	generateCalls map[string]int
	embedCalls    int
	prompts       []string
	closed        bool
}

var _ ai.Backend = (*MockBackend)(nil)

// NewMockBackend creates a mock backend with default deterministic behavior.
// Note: Returns concrete type to allow test assertions.
func NewMockBackend() *MockBackend {
	return &MockBackend{generateCalls: make(map[string]int)}
}

// WithGenerateFunc sets the generation behavior and returns the mock for chaining.
func (m *MockBackend) WithGenerateFunc(fn func(ctx context.Context, model string, req ai.Request) (string, error)) *MockBackend {
	m.GenerateFunc = fn
	return m
}

// WithEmbedFunc sets the embedding behavior and returns the mock for chaining.
func (m *MockBackend) WithEmbedFunc(fn func(ctx context.Context, model string, texts []string) ([][]float32, error)) *MockBackend {
	m.EmbedFunc = fn
	return m
}

// WithModels makes Models return names, or err when it is non-nil.
func (m *MockBackend) WithModels(names []string, err error) *MockBackend {
	m.ModelsFunc = func(context.Context) ([]string, error) {
		return names, err
	}
	return m
}

// Generate records the call and delegates to GenerateFunc.
func (m *MockBackend) Generate(ctx context.Context, model string, req ai.Request) (string, error) {
	m.mu.Lock()
	m.generateCalls[model]++
	m.prompts = append(m.prompts, req.Prompt)
	fn := m.GenerateFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, model, req)
	}
	return DefaultResponse, nil
}

// Embed records the call and delegates to EmbedFunc.
func (m *MockBackend) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.embedCalls++
	fn := m.EmbedFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, model, texts)
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = BagOfWords(text, DefaultDimension)
	}
	return vectors, nil
}

// Models delegates to ModelsFunc.
func (m *MockBackend) Models(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	fn := m.ModelsFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx)
	}
	cfg := TestConfig()
	return append(cfg.GenerationModels, cfg.EmbeddingModel), nil
}

// Close marks the backend closed.
func (m *MockBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GenerateCalls returns the number of Generate calls across all models.
func (m *MockBackend) GenerateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.generateCalls {
		total += n
	}
	return total
}

// GenerateCallsFor returns the number of Generate calls made against model.
func (m *MockBackend) GenerateCallsFor(model string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generateCalls[model]
}

// EmbedCalls returns the number of Embed calls.
func (m *MockBackend) EmbedCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.embedCalls
}

// Prompts returns a copy of every prompt sent to Generate, in call order.
func (m *MockBackend) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.prompts))
	copy(out, m.prompts)
	return out
}

// Closed reports whether Close was called.
func (m *MockBackend) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Reset clears call counts and injected behavior.
func (m *MockBackend) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generateCalls = make(map[string]int)
	m.embedCalls = 0
	m.prompts = nil
	m.GenerateFunc = nil
	m.EmbedFunc = nil
	m.ModelsFunc = nil
}

// TestConfig returns an ai.Config with two generation models and millisecond
// backoff and timeouts, suitable for unit tests.
func TestConfig() *ai.Config {
	return ai.NewConfig(
		ai.WithGenerationModels("primary", "backup"),
		ai.WithEmbeddingModel("test-embed"),
		ai.WithBackoff(time.Millisecond, 5*time.Millisecond, 2),
		ai.WithCallTimeout(250*time.Millisecond),
	)
}

// NewAdapter builds an ai.Adapter over backend using TestConfig.
// It panics on error, which only happens when TestConfig is invalid.
func NewAdapter(backend *MockBackend, opts ...ai.Option) *ai.Adapter {
	adapter, err := ai.NewAdapter(backend, TestConfig(), opts...)
	if err != nil {
		panic(err)
	}
	return adapter
}
