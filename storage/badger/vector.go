package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/insightmail/core"
	"github.com/poiesic/insightmail/storage"
)

// VectorRepository implements storage.VectorRepository for BadgerDB.
type VectorRepository struct {
	backend *Backend
}

var _ storage.VectorRepository = (*VectorRepository)(nil)

// NewVectorRepository creates a new VectorRepository.
func NewVectorRepository(backend *Backend) *VectorRepository {
	return &VectorRepository{
		backend: backend,
	}
}

// UpsertVector stores or replaces the vector for (RecordID, ModelName).
func (r *VectorRepository) UpsertVector(ctx context.Context, vector *core.EmbeddingVector) error {
	if vector == nil || len(vector.Vector) == 0 {
		return fmt.Errorf("%w: empty vector", storage.ErrRecordRequired)
	}
	if vector.ModelName == "" {
		return fmt.Errorf("%w: vector model name is required", storage.ErrInvalidQuery)
	}
	return r.backend.WithRetryTx(func(tx *badger.Txn) error {
		if _, err := tx.Get(makeEmailKey(vector.RecordID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: email %d", storage.ErrNotFound, vector.RecordID)
			}
			return err
		}
		key := makeVectorKey(vector.RecordID, vector.ModelName)
		if err := tx.Set(key, storage.MarshalEmbeddingVector(vector)); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// GetVector retrieves the vector for a record under model.
func (r *VectorRepository) GetVector(ctx context.Context, id core.ID, model string) (*core.EmbeddingVector, error) {
	var result *core.EmbeddingVector
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeVectorKey(id, model))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: vector %d/%s", storage.ErrNotFound, id, model)
			}
			return err
		}
		return item.Value(func(val []byte) error {
			var unmarshalErr error
			result, unmarshalErr = storage.UnmarshalEmbeddingVector(val)
			return unmarshalErr
		})
	}, false)
	return result, err
}

// DeleteVectors removes every vector belonging to a record.
func (r *VectorRepository) DeleteVectors(ctx context.Context, id core.ID) error {
	return r.backend.WithRetryTx(func(tx *badger.Txn) error {
		if err := deleteVectors(tx, id); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// ForEachVector calls fn for every vector stored under model.
func (r *VectorRepository) ForEachVector(ctx context.Context, model string, fn func(*core.EmbeddingVector) error) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = vectorKeyPrefix()
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := iter.Item()
			if modelFromVectorKey(item.Key()) != model {
				continue
			}
			var vec *core.EmbeddingVector
			if err := item.Value(func(val []byte) error {
				var err error
				vec, err = storage.UnmarshalEmbeddingVector(val)
				return err
			}); err != nil {
				return err
			}
			if err := fn(vec); err != nil {
				return err
			}
		}
		return nil
	}, false)
}

// deleteVectors removes every vector key stored under a record.
// Keys are collected first because badger forbids mutating while iterating.
func deleteVectors(tx *badger.Txn, id core.ID) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = makeVectorRecordPrefix(id)
	iter := tx.NewIterator(opts)

	var keys [][]byte
	for iter.Rewind(); iter.Valid(); iter.Next() {
		keys = append(keys, iter.Item().KeyCopy(nil))
	}
	iter.Close()

	for _, key := range keys {
		if err := tx.Delete(key); err != nil {
			return err
		}
	}
	return nil
}
