package reembed

import (
	"context"
	"fmt"
	"time"

	"github.com/poiesic/insightmail/ai"
	"github.com/poiesic/insightmail/core"
	"github.com/poiesic/insightmail/index"
)

// BatchProcessor embeds batches of records and publishes them to an index.
type BatchProcessor struct {
	index          *index.Index
	embedder       ai.Embedder
	maxRetries     int
	retryBaseDelay time.Duration
}

// NewBatchProcessor creates a new batch processor.
// maxRetries: maximum number of attempts for each embedding call
// retryBaseDelay: base delay for exponential backoff
func NewBatchProcessor(idx *index.Index, embedder ai.Embedder, maxRetries int, retryBaseDelay time.Duration) *BatchProcessor {
	return &BatchProcessor{
		index:          idx,
		embedder:       embedder,
		maxRetries:     maxRetries,
		retryBaseDelay: retryBaseDelay,
	}
}

// Process embeds records and upserts their normalized vectors into the index.
// Records must already be stored; the index refuses vectors for unknown records.
func (bp *BatchProcessor) Process(ctx context.Context, records []*core.EmailRecord) error {
	if len(records) == 0 {
		return nil
	}

	texts := make([]string, len(records))
	for i, record := range records {
		texts[i] = record.EmbeddingText()
	}

	// Generate embeddings with retry
	var embeddings [][]float32
	err := RetryWithBackoff(ctx, func() error {
		var err error
		embeddings, err = bp.embedder.EmbedBatch(ctx, texts)
		return err
	}, bp.maxRetries, bp.retryBaseDelay)
	if err != nil {
		return fmt.Errorf("failed to generate embeddings after %d attempts: %w", bp.maxRetries, err)
	}

	if len(embeddings) != len(records) {
		return fmt.Errorf("embedding count mismatch: expected %d, got %d", len(records), len(embeddings))
	}

	for i, record := range records {
		if err := bp.index.Upsert(ctx, record.Id, NormalizeVector(embeddings[i]), index.MetadataOf(record)); err != nil {
			return fmt.Errorf("failed to index record %d: %w", record.Id, err)
		}
	}
	return nil
}
