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

package reembed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/insightmail/ai"
	"github.com/poiesic/insightmail/core"
	"github.com/poiesic/insightmail/index"
	"github.com/poiesic/insightmail/storage"
)

// Config holds configuration for the reembedding operation.
type Config struct {
	// BatchSize is the number of records to process in each batch
	BatchSize int

	// ReportInterval is how often to report progress (number of records)
	ReportInterval int

	// MaxRetries is the maximum number of attempts for each embedding call
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff
	RetryDelay time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      100,
		ReportInterval: 100,
		MaxRetries:     3,
		RetryDelay:     1 * time.Second,
	}
}

var errStopCounting = errors.New("stop counting")

// CheckpointKey names the checkpoint of a reembedding pass for model.
func CheckpointKey(model string) string {
	return "reembed:" + model
}

// Reembedder embeds every stored email with the target index's model.
type Reembedder struct {
	emails      storage.EmailRepository
	checkpoints storage.CheckpointRepository
	index       *index.Index
	config      *Config
	progress    io.Writer
	processor   *BatchProcessor
	iterator    *RecordIterator
	logger      *slog.Logger
}

// NewReembedder creates a new reembedder writing vectors into target.
// The embedder must produce vectors for target's model.
// progress: where to write progress output (typically os.Stderr)
func NewReembedder(
	emails storage.EmailRepository,
	checkpoints storage.CheckpointRepository,
	target *index.Index,
	embedder ai.Embedder,
	config *Config,
	progress io.Writer,
) (*Reembedder, error) {
	if emails == nil {
		return nil, ErrEmailRepositoryRequired
	}
	if checkpoints == nil {
		return nil, ErrCheckpointRepositoryRequired
	}
	if target == nil {
		return nil, ErrIndexRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if target.Model() != embedder.EmbeddingModel() {
		return nil, fmt.Errorf("%w: index serves %q, embedder produces %q", ErrModelMismatch, target.Model(), embedder.EmbeddingModel())
	}
	if config == nil {
		config = DefaultConfig()
	}
	if progress == nil {
		progress = io.Discard
	}

	return &Reembedder{
		emails:      emails,
		checkpoints: checkpoints,
		index:       target,
		config:      config,
		progress:    progress,
		processor:   NewBatchProcessor(target, embedder, config.MaxRetries, config.RetryDelay),
		iterator:    NewRecordIterator(emails, config.BatchSize),
		logger:      slog.Default().With("component", "reembed", "model", target.Model()),
	}, nil
}

// Run embeds every stored email and publishes the vectors to the target index.
// A checkpoint is saved after each batch; a later Run resumes after the last
// completed batch. The checkpoint is removed once the pass completes.
func (r *Reembedder) Run(ctx context.Context) error {
	totalRecords, err := r.emails.CountEmails(ctx)
	if err != nil {
		return fmt.Errorf("failed to count records: %w", err)
	}
	if totalRecords == 0 {
		fmt.Fprintf(r.progress, "No records found in database (0 records)\n")
		return nil
	}

	key := CheckpointKey(r.index.Model())
	checkpoint, err := r.checkpoints.LoadCheckpoint(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}
	var after core.ID
	done := 0
	if checkpoint != nil {
		after = checkpoint.LastID
		if done, err = r.countThrough(ctx, after); err != nil {
			return fmt.Errorf("failed to count completed records: %w", err)
		}
		fmt.Fprintf(r.progress, "Resuming reembedding after record %d, %d of %d done (checkpoint from %s)\n",
			after, done, totalRecords, checkpoint.UpdatedAt.Format(time.RFC3339))
	}

	fmt.Fprintf(r.progress, "Starting reembedding of %d records with %s (batch size: %d)\n",
		totalRecords, r.index.Model(), r.iterator.batchSize)

	tracker := NewProgressTracker(r.progress, totalRecords, r.config.ReportInterval)
	tracker.StartAt(done)

	processed := 0
	err = r.iterator.ForEach(ctx, after, func(records []*core.EmailRecord) error {
		if err := r.processor.Process(ctx, records); err != nil {
			return fmt.Errorf("failed to process batch: %w", err)
		}

		last := records[len(records)-1].Id
		if err := r.checkpoints.SaveCheckpoint(ctx, &core.Checkpoint{ProcessorType: key, LastID: last}); err != nil {
			return fmt.Errorf("failed to save checkpoint: %w", err)
		}

		processed += len(records)
		tracker.Update(done + processed)
		return nil
	})
	if err != nil {
		r.logger.Error("reembedding stopped", "processed", processed, "err", err)
		return err
	}

	tracker.Finish()
	if err := r.checkpoints.DeleteCheckpoint(ctx, key); err != nil {
		return fmt.Errorf("failed to clear checkpoint: %w", err)
	}

	elapsed := tracker.Elapsed()
	fmt.Fprintf(r.progress, "Reembedding complete. Processed %d records in %v (%.1f records/sec)\n",
		processed, elapsed.Round(time.Second), float64(processed)/elapsed.Seconds())
	r.logger.Info("reembedding complete", "processed", processed, "elapsed", elapsed)
	return nil
}

// countThrough counts stored emails with an ID no greater than last.
func (r *Reembedder) countThrough(ctx context.Context, last core.ID) (int, error) {
	count := 0
	err := r.iterator.ForEach(ctx, 0, func(records []*core.EmailRecord) error {
		for _, record := range records {
			if record.Id > last {
				return errStopCounting
			}
			count++
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopCounting) {
		return 0, err
	}
	return count, nil
}
