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

package insightmail

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/insightmail/ai"
	"github.com/poiesic/insightmail/ai/openai"
	"github.com/poiesic/insightmail/classify"
	"github.com/poiesic/insightmail/core"
	"github.com/poiesic/insightmail/index"
	"github.com/poiesic/insightmail/ingestion"
	"github.com/poiesic/insightmail/reembed"
	"github.com/poiesic/insightmail/search"
	"github.com/poiesic/insightmail/storage"
	"github.com/poiesic/insightmail/storage/badger"
)

// Database is the query surface over one email store: ingestion, classification,
// retrieval-augmented answers and pipeline analytics.
type Database struct {
	backend        *badger.Backend
	emailRepo      *badger.EmailRepository
	vectorRepo     *badger.VectorRepository
	checkpointRepo *badger.CheckpointRepository
	inference      ai.Backend
	aiConfig       *ai.Config
	adapter        *ai.Adapter
	index          *index.Index
	classifier     *classify.Classifier
	engine         *search.Engine
	coordinator    *ingestion.Coordinator
	logger         *slog.Logger
}

// DatabaseOption configures a Database.
type DatabaseOption func(*databaseOptions)

type databaseOptions struct {
	aiConfig       *ai.Config
	inference      ai.Backend
	inMemory       bool
	concurrency    int
	classifierOpts []classify.Option
	searchOpts     []search.Option
	logger         *slog.Logger
}

// WithAIConfig sets the inference endpoint configuration.
// Default is ai.DefaultConfig().
func WithAIConfig(cfg *ai.Config) DatabaseOption {
	return func(o *databaseOptions) {
		o.aiConfig = cfg
	}
}

// WithInferenceBackend replaces the OpenAI-compatible backend built from the AI config.
func WithInferenceBackend(backend ai.Backend) DatabaseOption {
	return func(o *databaseOptions) {
		o.inference = backend
	}
}

// WithInMemory keeps the store in memory. The file path is ignored.
func WithInMemory() DatabaseOption {
	return func(o *databaseOptions) {
		o.inMemory = true
	}
}

// WithIngestConcurrency sets the worker pool size used for batch ingestion.
// Default is the AI config's MaxConcurrency.
func WithIngestConcurrency(n int) DatabaseOption {
	return func(o *databaseOptions) {
		o.concurrency = n
	}
}

// WithClassifierOptions passes options to the classifier.
func WithClassifierOptions(opts ...classify.Option) DatabaseOption {
	return func(o *databaseOptions) {
		o.classifierOpts = append(o.classifierOpts, opts...)
	}
}

// WithSearchOptions passes options to the retrieval engine.
func WithSearchOptions(opts ...search.Option) DatabaseOption {
	return func(o *databaseOptions) {
		o.searchOpts = append(o.searchOpts, opts...)
	}
}

// WithLogger sets the logger handed to every component.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) DatabaseOption {
	return func(o *databaseOptions) {
		o.logger = logger
	}
}

// NewDatabase opens the store at filePath, loads the embedding index for the
// configured embedding model and wires the pipeline components.
func NewDatabase(filePath string, opts ...DatabaseOption) (*Database, error) {
	// Apply options
	options := &databaseOptions{
		aiConfig: ai.DefaultConfig(), // Default if not provided
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	if options.aiConfig == nil {
		options.aiConfig = ai.DefaultConfig()
	}

	db := &Database{aiConfig: options.aiConfig, logger: options.logger}
	if err := db.open(filePath, options); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (db *Database) open(filePath string, options *databaseOptions) error {
	backend, err := badger.OpenBackend(filePath, options.inMemory)
	if err != nil {
		return err
	}
	db.backend = backend

	if db.emailRepo, err = badger.NewEmailRepository(backend); err != nil {
		return err
	}
	db.vectorRepo = badger.NewVectorRepository(backend)
	db.checkpointRepo = badger.NewCheckpointRepository(backend)

	db.inference = options.inference
	if db.inference == nil {
		if db.inference, err = openai.NewBackend(db.aiConfig); err != nil {
			return err
		}
	}
	if db.adapter, err = ai.NewAdapter(db.inference, db.aiConfig, ai.WithLogger(db.logger)); err != nil {
		return err
	}

	if db.index, err = index.New(db.vectorRepo, db.emailRepo, db.adapter.EmbeddingModel(), index.WithLogger(db.logger)); err != nil {
		return err
	}
	if err := db.index.Load(context.Background()); err != nil {
		return err
	}

	classifierOpts := append([]classify.Option{classify.WithLogger(db.logger)}, options.classifierOpts...)
	if db.classifier, err = classify.New(db.adapter, classifierOpts...); err != nil {
		return err
	}

	searchOpts := append([]search.Option{search.WithLogger(db.logger)}, options.searchOpts...)
	if db.engine, err = search.NewEngine(db.emailRepo, db.index, db.adapter, searchOpts...); err != nil {
		return err
	}

	concurrency := options.concurrency
	if concurrency <= 0 {
		concurrency = db.adapter.MaxConcurrency()
	}
	db.coordinator, err = ingestion.New(db.classifier, db.adapter,
		ingestion.WithLogger(db.logger),
		ingestion.WithConcurrency(concurrency))
	return err
}

// Close releases the worker pool, the inference backend and the store.
func (db *Database) Close() error {
	if db.coordinator != nil {
		db.coordinator.Release()
	}

	// Close inference backend first
	if db.adapter != nil {
		if err := db.adapter.Close(); err != nil {
			db.logger.Error("error closing inference backend", "err", err)
		}
	} else if db.inference != nil {
		if err := db.inference.Close(); err != nil {
			db.logger.Error("error closing inference backend", "err", err)
		}
	}

	// Close backend
	if db.backend != nil {
		if err := db.backend.Close(); err != nil {
			db.logger.Error("error closing backend storage", "err", err)
			return err
		}
	}
	return nil
}

func (db *Database) store() ingestion.Store {
	return ingestion.Store{Emails: db.emailRepo, Index: db.index}
}

// EmailRepository exposes the structured store.
func (db *Database) EmailRepository() storage.EmailRepository {
	return db.emailRepo
}

// CheckpointRepository exposes processor checkpoints.
func (db *Database) CheckpointRepository() storage.CheckpointRepository {
	return db.checkpointRepo
}

// Index exposes the embedding index of the active model.
func (db *Database) Index() *index.Index {
	return db.index
}

// Ingest stores, classifies and indexes one email.
func (db *Database) Ingest(ctx context.Context, raw *core.RawEmail) (ingestion.Outcome, error) {
	return db.coordinator.ProcessEmail(ctx, db.store(), raw)
}

// IngestBatch ingests raws concurrently and reports one outcome per email, in input order.
func (db *Database) IngestBatch(ctx context.Context, raws []*core.RawEmail) *ingestion.BatchReport {
	return db.coordinator.ProcessBatch(ctx, db.store(), raws)
}

// ClassifyOne classifies a record without storing anything. It never fails.
func (db *Database) ClassifyOne(ctx context.Context, record *core.EmailRecord) core.ClassificationResult {
	return db.classifier.Classify(ctx, record)
}

// ClassifyBatch classifies records concurrently without storing anything.
// Result i belongs to record i.
func (db *Database) ClassifyBatch(ctx context.Context, records []*core.EmailRecord) []core.ClassificationResult {
	return db.classifier.ClassifyBatch(ctx, records)
}

// Reclassify classifies a stored email again, stores the new result and
// refreshes its index metadata so category filters see the change.
func (db *Database) Reclassify(ctx context.Context, id core.ID) (*core.EmailRecord, error) {
	record, err := db.emailRepo.GetEmail(ctx, id)
	if err != nil {
		return nil, err
	}
	previous := record.Category
	record.Apply(db.classifier.Classify(ctx, record))
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	updated, err := db.emailRepo.UpdateEmails(ctx, record)
	if err != nil {
		return nil, err
	}
	record = updated[0]
	db.index.UpdateMetadata(record.Id, index.MetadataOf(record))
	db.logger.Info("reclassified email", "id", record.Id, "previous", previous, "category", record.Category, "method", record.ClassifiedBy)
	return record, nil
}

// ExtractContact asks the model for contact details in a stored email.
func (db *Database) ExtractContact(ctx context.Context, id core.ID) (map[string]string, error) {
	record, err := db.emailRepo.GetEmail(ctx, id)
	if err != nil {
		return nil, err
	}
	return db.classifier.ExtractContact(ctx, record)
}

// Health reports which configured models the inference endpoint serves.
func (db *Database) Health(ctx context.Context) ai.Health {
	return db.adapter.Health(ctx)
}

// Models lists the models the inference endpoint serves.
func (db *Database) Models(ctx context.Context) ([]string, error) {
	return db.adapter.Models(ctx)
}

// AnswerQuery answers a natural-language question from the top-k matching emails.
func (db *Database) AnswerQuery(ctx context.Context, query string, k int, filter core.Filter) (*core.QueryResult, error) {
	return db.engine.Answer(ctx, query, k, filter)
}

// AnswerQueryWithMonitor is AnswerQuery with stage callbacks.
func (db *Database) AnswerQueryWithMonitor(ctx context.Context, query string, k int, filter core.Filter, monitor search.SearchMonitor) (*core.QueryResult, error) {
	return db.engine.AnswerWithMonitor(ctx, query, k, filter, monitor)
}

// Search returns the top-k emails for query without generating an answer.
func (db *Database) Search(ctx context.Context, query string, k int, filter core.Filter) ([]core.Source, error) {
	return db.engine.Search(ctx, query, k, filter)
}

// SimilarTo returns the top-k emails most similar to a stored one.
func (db *Database) SimilarTo(ctx context.Context, id core.ID, k int, filter core.Filter) ([]core.Source, error) {
	return db.engine.SimilarTo(ctx, id, k, filter)
}

// Emails lists stored emails matching filter, oldest first.
func (db *Database) Emails(ctx context.Context, filter core.Filter) ([]*core.EmailRecord, error) {
	return db.emailRepo.FindEmails(ctx, filter)
}

// SummarizeInbox writes a progress report over the emails matching filter.
func (db *Database) SummarizeInbox(ctx context.Context, filter core.Filter) (string, error) {
	records, err := db.emailRepo.FindEmails(ctx, filter)
	if err != nil {
		return "", err
	}
	return db.classifier.SummarizeInbox(ctx, records)
}

// FollowUps lists sent applications that went unanswered past the staleness window.
func (db *Database) FollowUps(ctx context.Context, now time.Time) ([]classify.FollowUp, error) {
	records, err := db.emailRepo.FindEmails(ctx, core.Filter{})
	if err != nil {
		return nil, err
	}
	return db.classifier.FollowUps(records, now), nil
}

// SuggestActions ranks the next steps worth taking, highest priority first.
func (db *Database) SuggestActions(ctx context.Context, now time.Time) ([]classify.Suggestion, error) {
	records, err := db.emailRepo.FindEmails(ctx, core.Filter{})
	if err != nil {
		return nil, err
	}
	return db.classifier.SuggestActions(records, now), nil
}

// Stats counts stored emails by category and processing state.
func (db *Database) Stats(ctx context.Context) (classify.PipelineStats, error) {
	records, err := db.emailRepo.FindEmails(ctx, core.Filter{})
	if err != nil {
		return classify.PipelineStats{}, err
	}
	return classify.ComputeStats(records), nil
}

// IndexStats describes the in-memory embedding index.
func (db *Database) IndexStats() index.Stats {
	return db.index.Stats()
}

// Progress analyzes the job search over the last days before now.
func (db *Database) Progress(ctx context.Context, now time.Time, days int) (classify.Progress, error) {
	records, err := db.emailRepo.FindEmails(ctx, core.Filter{})
	if err != nil {
		return classify.Progress{}, err
	}
	return classify.AnalyzeProgress(records, now, days), nil
}

// Purge deletes emails with their vectors and drops them from the index.
func (db *Database) Purge(ctx context.Context, ids ...core.ID) error {
	if err := db.emailRepo.DeleteEmails(ctx, ids...); err != nil {
		return err
	}
	for _, id := range ids {
		db.index.Forget(id)
	}
	db.logger.Info("purged emails", "count", len(ids))
	return nil
}

// NewReembedder prepares a pass that embeds every stored email with model.
// The returned index serves model and fills up as the pass runs; switch the
// configured embedding model to model afterwards to search with it. When model
// is the active embedding model the pass refreshes the live index.
func (db *Database) NewReembedder(model string, config *reembed.Config, progress io.Writer) (*reembed.Reembedder, *index.Index, error) {
	if model == "" {
		return nil, nil, errors.New("embedding model required")
	}
	if model == db.adapter.EmbeddingModel() {
		r, err := reembed.NewReembedder(db.emailRepo, db.checkpointRepo, db.index, db.adapter, config, progress)
		if err != nil {
			return nil, nil, err
		}
		return r, db.index, nil
	}
	cfg := *db.aiConfig
	cfg.EmbeddingModel = model
	adapter, err := ai.NewAdapter(db.inference, &cfg, ai.WithLogger(db.logger))
	if err != nil {
		return nil, nil, err
	}
	target, err := index.New(db.vectorRepo, db.emailRepo, model, index.WithLogger(db.logger))
	if err != nil {
		return nil, nil, err
	}
	r, err := reembed.NewReembedder(db.emailRepo, db.checkpointRepo, target, adapter, config, progress)
	if err != nil {
		return nil, nil, err
	}
	return r, target, nil
}
