package index

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/poiesic/insightmail/core"
	"github.com/poiesic/insightmail/storage"
)

// Metadata is the per-record data the index filters and breaks ties on.
type Metadata struct {
	Category   core.Category
	ReceivedAt time.Time
	Account    string
}

// MetadataOf extracts index metadata from a record.
func MetadataOf(record *core.EmailRecord) Metadata {
	return Metadata{
		Category:   record.Category,
		ReceivedAt: record.ReceivedAt,
		Account:    record.Account,
	}
}

// Stats describes the in-memory index.
type Stats struct {
	Model      string
	Count      int
	Dimension  int
	ByCategory map[core.Category]int
}

type entry struct {
	vector []float32
	norm   float64
	meta   Metadata
}

// Index is an in-memory cosine index over embedding vectors of one model,
// backed by a VectorRepository.
type Index struct {
	vectors storage.VectorRepository
	emails  storage.EmailRepository
	model   string
	logger  *slog.Logger

	// writes serializes persist-then-publish per record so the stored and
	// in-memory vectors agree on the last writer.
	writes [64]sync.Mutex

	mu         sync.RWMutex
	dimension  int
	entries    map[core.ID]*entry
	all        *roaring64.Bitmap
	byCategory map[core.Category]*roaring64.Bitmap
	byAccount  map[string]*roaring64.Bitmap
}

// Option configures an Index.
type Option func(*Index) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(idx *Index) error {
		if logger == nil {
			logger = slog.Default()
		}
		idx.logger = logger.With("component", "index")
		return nil
	}
}

// New creates an empty index for model. Call Load to populate it from storage.
func New(vectors storage.VectorRepository, emails storage.EmailRepository, model string, opts ...Option) (*Index, error) {
	if vectors == nil {
		return nil, ErrVectorsRequired
	}
	if emails == nil {
		return nil, ErrEmailsRequired
	}
	if model == "" {
		return nil, ErrModelRequired
	}

	idx := &Index{
		vectors: vectors,
		emails:  emails,
		model:   model,
		logger:  slog.Default().With("component", "index"),
	}
	idx.reset()

	for _, opt := range opts {
		if err := opt(idx); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

// Model returns the embedding model name the index serves.
func (idx *Index) Model() string {
	return idx.model
}

func (idx *Index) reset() {
	idx.dimension = 0
	idx.entries = make(map[core.ID]*entry)
	idx.all = roaring64.New()
	idx.byCategory = make(map[core.Category]*roaring64.Bitmap)
	idx.byAccount = make(map[string]*roaring64.Bitmap)
}

// Upsert persists the vector for recordID under the index model, then
// publishes it in memory, replacing any previous vector for the record.
func (idx *Index) Upsert(ctx context.Context, recordID core.ID, vector []float32, meta Metadata) error {
	if len(vector) == 0 {
		return ErrEmptyVector
	}
	idx.mu.RLock()
	dim := idx.dimension
	idx.mu.RUnlock()
	if dim != 0 && len(vector) != dim {
		return fmt.Errorf("%w: got %d, index has %d", ErrDimensionMismatch, len(vector), dim)
	}

	w := &idx.writes[uint64(recordID)%uint64(len(idx.writes))]
	w.Lock()
	defer w.Unlock()

	stored := &core.EmbeddingVector{
		RecordID:  recordID,
		Vector:    slices.Clone(vector),
		ModelName: idx.model,
		CreatedAt: time.Now().UTC(),
	}
	if err := idx.vectors.UpsertVector(ctx, stored); err != nil {
		return err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.publish(recordID, stored.Vector, meta)
	return nil
}

// publish swaps the in-memory entry for id. Caller holds the write lock.
func (idx *Index) publish(id core.ID, vector []float32, meta Metadata) {
	if old, ok := idx.entries[id]; ok {
		idx.unindex(id, old.meta)
	}
	if idx.dimension == 0 {
		idx.dimension = len(vector)
	}
	idx.entries[id] = &entry{vector: vector, norm: norm(vector), meta: meta}

	idx.all.Add(uint64(id))
	bitmapFor(idx.byCategory, meta.Category).Add(uint64(id))
	bitmapFor(idx.byAccount, meta.Account).Add(uint64(id))
}

func (idx *Index) unindex(id core.ID, meta Metadata) {
	idx.all.Remove(uint64(id))
	if bm, ok := idx.byCategory[meta.Category]; ok {
		bm.Remove(uint64(id))
	}
	if bm, ok := idx.byAccount[meta.Account]; ok {
		bm.Remove(uint64(id))
	}
}

func bitmapFor[K comparable](m map[K]*roaring64.Bitmap, key K) *roaring64.Bitmap {
	bm, ok := m[key]
	if !ok {
		bm = roaring64.New()
		m[key] = bm
	}
	return bm
}

// UpdateMetadata refreshes the filter metadata of an indexed record, for
// example after it has been reclassified. Unknown ids are ignored.
func (idx *Index) UpdateMetadata(recordID core.ID, meta Metadata) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	e, ok := idx.entries[recordID]
	if !ok {
		return
	}
	idx.publish(recordID, e.vector, meta)
}

// Forget drops a record from memory only. Used after the store already
// deleted the record together with its vectors.
func (idx *Index) Forget(recordID core.ID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if e, ok := idx.entries[recordID]; ok {
		idx.unindex(recordID, e.meta)
		delete(idx.entries, recordID)
	}
}

// Searchable reports whether a record has a vector in the index.
func (idx *Index) Searchable(recordID core.ID) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.entries[recordID]
	return ok
}

// Vector returns a copy of the indexed vector for a record.
func (idx *Index) Vector(recordID core.ID) ([]float32, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.entries[recordID]
	if !ok {
		return nil, false
	}
	return slices.Clone(e.vector), true
}

// Len returns the number of indexed records.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// Stats returns per-category counts for the index.
func (idx *Index) Stats() Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	stats := Stats{
		Model:      idx.model,
		Count:      len(idx.entries),
		Dimension:  idx.dimension,
		ByCategory: make(map[core.Category]int, len(idx.byCategory)),
	}
	for c, bm := range idx.byCategory {
		if n := bm.GetCardinality(); n > 0 {
			stats.ByCategory[c] = int(n)
		}
	}
	return stats
}

// Search ranks indexed records by descending cosine similarity to query.
// The filter narrows the candidate set before ranking. Ties are broken by
// most recent ReceivedAt, then ascending id.
func (idx *Index) Search(ctx context.Context, query []float32, k int, filter core.Filter) ([]core.Source, error) {
	return idx.SearchExcluding(ctx, query, k, filter, nil)
}

// SearchExcluding is Search with a set of record ids removed from the candidates.
func (idx *Index) SearchExcluding(ctx context.Context, query []float32, k int, filter core.Filter, exclude []core.ID) ([]core.Source, error) {
	if k <= 0 {
		return nil, ErrInvalidK
	}
	if len(query) == 0 {
		return nil, ErrEmptyVector
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(idx.entries) == 0 {
		return nil, nil
	}
	if len(query) != idx.dimension {
		return nil, fmt.Errorf("%w: query has %d, index has %d", ErrDimensionMismatch, len(query), idx.dimension)
	}

	candidates := idx.candidates(filter)
	for _, id := range exclude {
		candidates.Remove(uint64(id))
	}

	type scored struct {
		id    core.ID
		score float32
		at    time.Time
	}
	queryNorm := norm(query)
	hits := make([]scored, 0, candidates.GetCardinality())

	it := candidates.Iterator()
	for it.HasNext() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id := core.ID(it.Next())
		e := idx.entries[id]
		if e == nil || !filter.MatchesTime(e.meta.ReceivedAt) {
			continue
		}
		hits = append(hits, scored{id: id, score: cosine(query, queryNorm, e), at: e.meta.ReceivedAt})
	}

	slices.SortFunc(hits, func(a, b scored) int {
		if a.score != b.score {
			if a.score > b.score {
				return -1
			}
			return 1
		}
		if c := b.at.Compare(a.at); c != 0 {
			return c
		}
		if a.id < b.id {
			return -1
		}
		if a.id > b.id {
			return 1
		}
		return 0
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	results := make([]core.Source, len(hits))
	for i, h := range hits {
		results[i] = core.Source{RecordID: h.id, Score: h.score}
	}
	return results, nil
}

// candidates resolves the category and account parts of filter to a bitmap.
// The result is a fresh bitmap the caller may mutate. Caller holds the read lock.
func (idx *Index) candidates(filter core.Filter) *roaring64.Bitmap {
	var result *roaring64.Bitmap
	if len(filter.Categories) > 0 {
		result = roaring64.New()
		for _, c := range filter.Categories {
			if bm, ok := idx.byCategory[c]; ok {
				result.Or(bm)
			}
		}
	} else {
		result = idx.all.Clone()
	}

	if filter.Account != "" {
		bm, ok := idx.byAccount[filter.Account]
		if !ok {
			return roaring64.New()
		}
		result.And(bm)
	}
	return result
}

// Load rebuilds the in-memory index from persisted vectors of the index model.
// Vectors whose email record no longer exists are skipped.
func (idx *Index) Load(ctx context.Context) error {
	var vectors []*core.EmbeddingVector
	err := idx.vectors.ForEachVector(ctx, idx.model, func(v *core.EmbeddingVector) error {
		vectors = append(vectors, v)
		return nil
	})
	if err != nil {
		return err
	}

	ids := make([]core.ID, len(vectors))
	for i, v := range vectors {
		ids[i] = v.RecordID
	}
	records, err := idx.emails.GetEmails(ctx, ids...)
	if err != nil {
		return err
	}
	byID := make(map[core.ID]*core.EmailRecord, len(records))
	for _, r := range records {
		byID[r.Id] = r
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.reset()

	skipped := 0
	for _, v := range vectors {
		record, ok := byID[v.RecordID]
		if !ok {
			skipped++
			continue
		}
		if idx.dimension != 0 && len(v.Vector) != idx.dimension {
			idx.logger.Warn("skipping vector with mismatched dimension", "id", v.RecordID, "dimension", len(v.Vector))
			skipped++
			continue
		}
		idx.publish(v.RecordID, v.Vector, MetadataOf(record))
	}

	idx.logger.Info("index loaded", "model", idx.model, "count", len(idx.entries), "skipped", skipped)
	return nil
}

func norm(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}

func cosine(query []float32, queryNorm float64, e *entry) float32 {
	if queryNorm == 0 || e.norm == 0 {
		return 0
	}
	var dot float64
	for i, f := range query {
		dot += float64(f) * float64(e.vector[i])
	}
	return float32(dot / (queryNorm * e.norm))
}
