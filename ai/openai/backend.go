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

package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/poiesic/insightmail/ai"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// Backend implements ai.Backend using OpenAI-compatible chat and embedding APIs.
// The generation client is shared across models; the model is chosen per call.
// Embedding clients are created lazily, one per embedding model.
type Backend struct {
	config *ai.Config
	chat   llms.Model

	mu        sync.Mutex
	embedders map[string]embeddings.Embedder

	httpClient *http.Client

	logger *slog.Logger
}

var _ ai.Backend = (*Backend)(nil)

// newBackend is an internal constructor that returns the concrete type.
func newBackend(config *ai.Config) (*Backend, error) {
	if config == nil {
		return nil, ai.ErrConfigRequired
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	// Use "none" as token for local OpenAI-compatible services that don't require authentication
	client, err := openai.New(
		openai.WithBaseURL(config.GenerationHost),
		openai.WithToken("none"),
		openai.WithModel(config.GenerationModels[0]),
	)
	if err != nil {
		return nil, err
	}

	return &Backend{
		config:    config,
		chat:      client,
		embedders:  make(map[string]embeddings.Embedder),
		httpClient: http.DefaultClient,
		logger:     slog.Default().With("component", "openai-backend"),
	}, nil
}

// NewBackend creates a backend using the provided configuration.
//
// Returns ai.Backend interface (not *Backend) to enforce abstraction
// and prevent coupling to OpenAI-specific implementation details.
func NewBackend(config *ai.Config) (ai.Backend, error) {
	return newBackend(config)
}

// Generate sends one chat completion request to the named model.
func (b *Backend) Generate(ctx context.Context, model string, req ai.Request) (string, error) {
	content := make([]llms.MessageContent, 0, 2)
	if req.System != "" {
		content = append(content, llms.MessageContent{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(req.System)},
		})
	}
	content = append(content, llms.MessageContent{
		Role:  llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{llms.TextPart(req.Prompt)},
	})

	opts := []llms.CallOption{
		llms.WithModel(model),
		llms.WithTemperature(req.Temperature),
	}
	if req.JSONMode {
		opts = append(opts, llms.WithJSONMode())
	}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}

	b.logger.Debug("generating", "model", model, "promptLength", len(req.Prompt), "json", req.JSONMode)
	response, err := b.chat.GenerateContent(ctx, content, opts...)
	if err != nil {
		return "", err
	}
	if len(response.Choices) < 1 {
		return "", fmt.Errorf("%w: no choices returned", ai.ErrMalformedResponse)
	}
	return response.Choices[0].Content, nil
}

// Embed generates embeddings for texts with the named embedding model.
func (b *Backend) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	embedder, err := b.embedderFor(model)
	if err != nil {
		return nil, err
	}

	b.logger.Debug("generating embeddings", "model", model, "count", len(texts))
	vectors, err := embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, err
	}
	return vectors, nil
}

func (b *Backend) embedderFor(model string) (embeddings.Embedder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.embedders[model]; ok {
		return e, nil
	}

	client, err := openai.New(
		openai.WithBaseURL(b.config.EmbeddingHost),
		openai.WithToken("none"),
		openai.WithEmbeddingModel(model),
	)
	if err != nil {
		return nil, err
	}

	// Wrap in langchaingo embedder
	e, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, err
	}
	b.embedders[model] = e
	return e, nil
}

type modelList struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// Models lists the models served at the generation host's /models endpoint.
func (b *Backend) Models(ctx context.Context) ([]string, error) {
	url := strings.TrimSuffix(b.config.GenerationHost, "/") + "/models"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer none")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing models: %s returned %s", url, resp.Status)
	}
	var list modelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("%w: %w", ai.ErrMalformedResponse, err)
	}
	names := make([]string, 0, len(list.Data))
	for _, m := range list.Data {
		names = append(names, m.ID)
	}
	return names, nil
}

// Close releases resources held by the backend.
// Currently a no-op as the underlying clients don't require explicit cleanup.
func (b *Backend) Close() error {
	b.logger.Debug("closing OpenAI backend")
	return nil
}
