package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/insightmail/ai"
	"github.com/poiesic/insightmail/core"
	"github.com/poiesic/insightmail/index"
	"github.com/poiesic/insightmail/storage"
)

// Classifier produces a classification for a record. It never fails.
type Classifier interface {
	Classify(ctx context.Context, record *core.EmailRecord) core.ClassificationResult
}

// Store is the persistence handle a coordinator call works against.
type Store struct {
	Emails storage.EmailRepository
	Index  *index.Index
}

func (s Store) validate() error {
	if s.Emails == nil {
		return ErrEmailRepositoryRequired
	}
	if s.Index == nil {
		return ErrIndexRequired
	}
	return nil
}

// Coordinator runs the ingestion workflow for single emails and batches.
type Coordinator struct {
	classifier Classifier
	embedder   ai.Embedder
	pool       *ants.Pool
	logger     *slog.Logger

	mu       sync.Mutex
	inflight map[string]chan struct{}
}

// Option configures a Coordinator.
type Option func(*Coordinator) error

// WithConcurrency sets the worker pool size used by ProcessBatch.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithConcurrency(size int) Option {
	return func(c *Coordinator) error {
		if size < 1 {
			size = 1
		}

		// Release old pool
		if c.pool != nil {
			c.pool.Release()
		}

		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		c.pool = pool
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) error {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger.With("component", "ingestion")
		return nil
	}
}

// New creates a coordinator.
func New(classifier Classifier, embedder ai.Embedder, opts ...Option) (*Coordinator, error) {
	if classifier == nil {
		return nil, ErrClassifierRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	// Default pool size
	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	c := &Coordinator{
		classifier: classifier,
		embedder:   embedder,
		pool:       pool,
		logger:     slog.Default().With("component", "ingestion"),
		inflight:   make(map[string]chan struct{}),
	}

	// Apply options (may override defaults)
	for _, opt := range opts {
		if optErr := opt(c); optErr != nil {
			c.Release()
			return nil, optErr
		}
	}

	return c, nil
}

// Concurrency returns the worker pool size.
func (c *Coordinator) Concurrency() int {
	return c.pool.Cap()
}

// Release releases the worker pool.
// The coordinator should not be used after calling Release.
func (c *Coordinator) Release() {
	if c.pool != nil {
		c.pool.Release()
	}
}

// claim reserves fp for the caller, waiting while another worker holds it.
// The caller must release fp once its outcome is durable.
func (c *Coordinator) claim(ctx context.Context, fp string) error {
	for {
		c.mu.Lock()
		held, busy := c.inflight[fp]
		if !busy {
			c.inflight[fp] = make(chan struct{})
			c.mu.Unlock()
			return nil
		}
		c.mu.Unlock()

		select {
		case <-held:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Coordinator) release(fp string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if held, ok := c.inflight[fp]; ok {
		close(held)
		delete(c.inflight, fp)
	}
}

// ProcessEmail stores, classifies and indexes one email.
//
// Duplicates and emails that could not be embedded are reported through the
// Outcome status, not the error. The error is non-nil only for failed outcomes:
// invalid payloads, store failures and cancellation.
func (c *Coordinator) ProcessEmail(ctx context.Context, store Store, raw *core.RawEmail) (Outcome, error) {
	if err := store.validate(); err != nil {
		return Outcome{Err: err}, err
	}
	if model := store.Index.Model(); model != c.embedder.EmbeddingModel() {
		err := fmt.Errorf("%w: index serves %q, embedder produces %q", ErrModelMismatch, model, c.embedder.EmbeddingModel())
		return Outcome{Err: err}, err
	}
	if err := core.ValidateRawEmail(raw); err != nil {
		return Outcome{Err: err}, err
	}

	record := core.NewEmailRecord(raw)
	outcome := Outcome{RecordID: record.Id, Fingerprint: record.Fingerprint}
	logger := c.logger.With("record", record.Id)

	// Identical emails in flight are serialized; the later one then sees the
	// stored record, or takes over if the first one failed before storing it.
	if err := c.claim(ctx, record.Fingerprint); err != nil {
		return c.fail(logger, outcome, "cancelled waiting for identical email", err)
	}
	defer c.release(record.Fingerprint)

	stored, err := c.insert(ctx, store, record)
	switch {
	case errors.Is(err, core.ErrDuplicateRecord) && stored != nil && stored.State == core.StateProcessed:
		logger.Debug("duplicate email skipped")
		outcome.Status = StatusDuplicate
		outcome.Category = stored.Category
		outcome.Err = core.ErrDuplicateRecord
		return outcome, nil
	case errors.Is(err, core.ErrDuplicateRecord) && stored != nil:
		logger.Info("resuming pending email")
	case err != nil:
		return c.fail(logger, outcome, "error storing email", err)
	}
	record = stored

	if record.ClassifiedBy == core.MethodNone {
		result := c.classifier.Classify(ctx, record)
		if err := ctx.Err(); err != nil {
			return c.fail(logger, outcome, "cancelled during classification", err)
		}
		record.Apply(result)
		if record, err = c.update(ctx, store, record); err != nil {
			return c.fail(logger, outcome, "error storing classification", err)
		}
	}
	outcome.Category = record.Category

	vector, err := c.embedder.Embed(ctx, record.EmbeddingText())
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return c.fail(logger, outcome, "cancelled during embedding", ctxErr)
		}
		logger.Warn("email stored but not yet searchable", "err", err)
		outcome.Status = StatusPending
		outcome.Err = err
		return outcome, nil
	}
	if err := store.Index.Upsert(ctx, record.Id, vector, index.MetadataOf(record)); err != nil {
		return c.fail(logger, outcome, "error indexing email", err)
	}

	record.State = core.StateProcessed
	if _, err := c.update(ctx, store, record); err != nil {
		return c.fail(logger, outcome, "error marking email processed", err)
	}

	logger.Debug("email processed", "category", record.Category, "method", record.ClassifiedBy)
	outcome.Status = StatusProcessed
	return outcome, nil
}

// insert stores record, or returns the stored record with core.ErrDuplicateRecord
// when its fingerprint is already known.
func (c *Coordinator) insert(ctx context.Context, store Store, record *core.EmailRecord) (*core.EmailRecord, error) {
	existing, err := store.Emails.GetByFingerprint(ctx, record.Fingerprint)
	switch {
	case err == nil:
		return existing, core.ErrDuplicateRecord
	case !errors.Is(err, storage.ErrNotFound):
		return nil, err
	}
	// AddEmail reports a duplicate itself if another process won the race.
	return store.Emails.AddEmail(ctx, record)
}

func (c *Coordinator) update(ctx context.Context, store Store, record *core.EmailRecord) (*core.EmailRecord, error) {
	updated, err := store.Emails.UpdateEmails(ctx, record)
	if err != nil {
		return nil, err
	}
	return updated[0], nil
}

func (c *Coordinator) fail(logger *slog.Logger, outcome Outcome, msg string, err error) (Outcome, error) {
	logger.Error(msg, "err", err)
	outcome.Status = StatusFailed
	outcome.Err = err
	return outcome, err
}

// ProcessBatch processes raws concurrently on the worker pool and waits for all
// of them. Outcomes are reported in input order. Once ctx is cancelled no further
// emails are submitted and the unsubmitted ones are reported failed with the
// context's error.
func (c *Coordinator) ProcessBatch(ctx context.Context, store Store, raws []*core.RawEmail) *BatchReport {
	report := &BatchReport{
		BatchID:  uuid.NewString(),
		Outcomes: make([]Outcome, len(raws)),
	}
	logger := c.logger.With("batch", report.BatchID)
	logger.Info("processing batch", "emails", len(raws), "concurrency", c.Concurrency())
	start := time.Now()

	var wg sync.WaitGroup
	for i, raw := range raws {
		if err := ctx.Err(); err != nil {
			for j := i; j < len(raws); j++ {
				report.Outcomes[j] = Outcome{Status: StatusFailed, Err: err}
			}
			logger.Warn("batch cancelled", "unsubmitted", len(raws)-i)
			break
		}

		wg.Add(1)
		err := c.pool.Submit(func() {
			defer wg.Done()
			report.Outcomes[i], _ = c.ProcessEmail(ctx, store, raw)
		})
		if err != nil {
			wg.Done()
			report.Outcomes[i] = Outcome{Status: StatusFailed, Err: err}
		}
	}
	wg.Wait()

	report.Elapsed = time.Since(start)
	report.count()
	logger.Info("batch complete",
		"processed", report.Processed,
		"duplicates", report.Duplicates,
		"pending", report.Pending,
		"failed", report.Failed,
		"elapsed", report.Elapsed)
	return report
}
