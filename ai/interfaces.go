package ai

import "context"

// Backend is a raw inference endpoint. It performs exactly one request per call
// and leaves retry and fallback to the Adapter.
// Implementations must be thread-safe for concurrent use.
type Backend interface {
	// Generate produces text from the named model.
	Generate(ctx context.Context, model string, req Request) (string, error)

	// Embed produces one vector per input text using the named embedding model.
	// The returned slice contains embeddings in the same order as the input texts.
	Embed(ctx context.Context, model string, texts []string) ([][]float32, error)

	// Models lists the model names the generation endpoint serves.
	Models(ctx context.Context) ([]string, error)

	// Close releases resources held by the backend.
	Close() error
}

// Generator produces free text and schema-checked structured output.
type Generator interface {
	// Generate returns model text for a prompt. It fails only with ErrServiceUnavailable
	// once every model in the fallback table is exhausted, or with the context's error.
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)

	// GenerateStructured returns either Structured or Degraded output. Malformed
	// model output never surfaces as an error.
	GenerateStructured(ctx context.Context, prompt string, schema Schema) (StructuredResult, error)

	// GenerateBatch runs prompts under the concurrency ceiling.
	// Result i always corresponds to prompt i.
	GenerateBatch(ctx context.Context, prompts []string, opts GenerateOptions) []BatchResult
}

// Embedder generates vector embeddings from text for semantic similarity search.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// Embed generates a vector embedding for a single text string.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates vector embeddings for multiple text strings.
	// The returned slice contains embeddings in the same order as the input texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// EmbeddingModel names the model producing the vectors.
	EmbeddingModel() string
}

// ModelAdapter aggregates generation and embedding.
type ModelAdapter interface {
	Generator
	Embedder
}
