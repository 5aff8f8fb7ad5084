package badger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/insightmail/core"
	"github.com/poiesic/insightmail/storage"
)

// EmailRepository implements storage.EmailRepository for BadgerDB.
type EmailRepository struct {
	backend *Backend
}

var _ storage.EmailRepository = (*EmailRepository)(nil)

// NewEmailRepository creates a new EmailRepository.
func NewEmailRepository(backend *Backend) (*EmailRepository, error) {
	if backend == nil {
		return nil, fmt.Errorf("email repository: backend is required")
	}
	return &EmailRepository{
		backend: backend,
	}, nil
}

// Close is a no-op; the backend owns the database handle.
func (r *EmailRepository) Close() error {
	return nil
}

// AddEmail inserts a record unless its fingerprint is already stored.
func (r *EmailRepository) AddEmail(ctx context.Context, record *core.EmailRecord) (*core.EmailRecord, error) {
	if record == nil {
		return nil, storage.ErrRecordRequired
	}
	if err := core.ValidateEmailRecord(record); err != nil {
		return nil, err
	}

	var existing *core.EmailRecord
	err := r.backend.WithRetryTx(func(tx *badger.Txn) error {
		existing = nil

		fpKey := makeFingerprintKey(record.Fingerprint)
		id, err := readID(tx, fpKey)
		if err != nil {
			return err
		}
		if id != nil {
			existing, err = readEmail(tx, makeEmailKey(*id))
			if err != nil {
				return err
			}
			return core.ErrDuplicateRecord
		}

		key := makeEmailKey(record.Id)
		if _, err := tx.Get(key); err == nil {
			return fmt.Errorf("%w: id %d already used by another fingerprint", storage.ErrDuplicateKey, record.Id)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		record.InsertedAt = time.Now().UTC()
		record.UpdatedAt = record.InsertedAt

		if err := tx.Set(key, storage.MarshalEmailRecord(record)); err != nil {
			return err
		}
		if err := tx.Set(fpKey, storage.MarshalID(record.Id)); err != nil {
			return err
		}
		if err := writeIndices(tx, record); err != nil {
			return err
		}
		return tx.Commit()
	})

	if errors.Is(err, core.ErrDuplicateRecord) {
		return existing, fmt.Errorf("%w: fingerprint %s", core.ErrDuplicateRecord, record.Fingerprint)
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

// UpdateEmails updates existing records.
func (r *EmailRepository) UpdateEmails(ctx context.Context, records ...*core.EmailRecord) ([]*core.EmailRecord, error) {
	for _, record := range records {
		if record == nil {
			return nil, storage.ErrRecordRequired
		}
		if err := core.ValidateEmailRecord(record); err != nil {
			return nil, err
		}
	}

	err := r.backend.WithRetryTx(func(tx *badger.Txn) error {
		for _, record := range records {
			key := makeEmailKey(record.Id)

			// Read old record to detect index changes
			old, err := readEmail(tx, key)
			if err != nil {
				return err
			}
			if old == nil {
				return fmt.Errorf("%w: email %d", storage.ErrNotFound, record.Id)
			}

			record.InsertedAt = old.InsertedAt
			record.UpdatedAt = time.Now().UTC()

			if err := tx.Set(key, storage.MarshalEmailRecord(record)); err != nil {
				return err
			}

			if !old.ReceivedAt.Equal(record.ReceivedAt) || old.Category != record.Category {
				if err := deleteIndices(tx, old); err != nil {
					return err
				}
				if err := writeIndices(tx, record); err != nil {
					return err
				}
			}
			if old.Fingerprint != record.Fingerprint {
				if err := tx.Delete(makeFingerprintKey(old.Fingerprint)); err != nil {
					return err
				}
				if err := tx.Set(makeFingerprintKey(record.Fingerprint), storage.MarshalID(record.Id)); err != nil {
					return err
				}
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// DeleteEmails purges records, their indices and their vectors.
func (r *EmailRepository) DeleteEmails(ctx context.Context, ids ...core.ID) error {
	return r.backend.WithRetryTx(func(tx *badger.Txn) error {
		for _, id := range ids {
			key := makeEmailKey(id)

			record, err := readEmail(tx, key)
			if err != nil {
				return err
			}
			if record == nil {
				return fmt.Errorf("%w: email %d", storage.ErrNotFound, id)
			}

			if err := deleteIndices(tx, record); err != nil {
				return err
			}
			if err := tx.Delete(makeFingerprintKey(record.Fingerprint)); err != nil {
				return err
			}
			if err := deleteVectors(tx, id); err != nil {
				return err
			}
			if err := tx.Delete(key); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// GetEmail retrieves a single record by ID.
func (r *EmailRepository) GetEmail(ctx context.Context, id core.ID) (*core.EmailRecord, error) {
	var result *core.EmailRecord
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = readEmail(tx, makeEmailKey(id))
		if err != nil {
			return err
		}
		if result == nil {
			return fmt.Errorf("%w: email %d", storage.ErrNotFound, id)
		}
		return nil
	}, false)
	return result, err
}

// GetEmails retrieves multiple records by their IDs, skipping missing ones.
func (r *EmailRepository) GetEmails(ctx context.Context, ids ...core.ID) ([]*core.EmailRecord, error) {
	var result []*core.EmailRecord
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		for _, id := range ids {
			record, err := readEmail(tx, makeEmailKey(id))
			if err != nil {
				return err
			}
			if record != nil {
				result = append(result, record)
			}
		}
		return nil
	}, false)
	return result, err
}

// GetByFingerprint retrieves the record stored under a fingerprint.
func (r *EmailRepository) GetByFingerprint(ctx context.Context, fingerprint string) (*core.EmailRecord, error) {
	var result *core.EmailRecord
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		id, err := readID(tx, makeFingerprintKey(fingerprint))
		if err != nil {
			return err
		}
		if id != nil {
			result, err = readEmail(tx, makeEmailKey(*id))
			if err != nil {
				return err
			}
		}
		if result == nil {
			return fmt.Errorf("%w: fingerprint %s", storage.ErrNotFound, fingerprint)
		}
		return nil
	}, false)
	return result, err
}

// FindEmails returns records matching filter ordered by ReceivedAt.
// A date range is served from the date index, a category-only filter from the
// category index, and anything else by a full scan.
func (r *EmailRepository) FindEmails(ctx context.Context, filter core.Filter) ([]*core.EmailRecord, error) {
	var results []*core.EmailRecord
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		collect := func(record *core.EmailRecord) {
			if filter.Matches(record) {
				results = append(results, record)
			}
		}

		switch {
		case !filter.From.IsZero() || !filter.To.IsZero():
			return scanDateIndex(tx, filter.From, filter.To, collect)
		case len(filter.Categories) > 0:
			for _, c := range filter.Categories {
				if err := scanIndex(tx, makePartialEmailCategoryKey(c), collect); err != nil {
					return err
				}
			}
			return nil
		default:
			return scanEmails(tx, nil, 0, collect)
		}
	}, false)
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(results, func(a, b *core.EmailRecord) int {
		if c := a.ReceivedAt.Compare(b.ReceivedAt); c != 0 {
			return c
		}
		if a.Id < b.Id {
			return -1
		}
		if a.Id > b.Id {
			return 1
		}
		return 0
	})
	return results, nil
}

// ScanEmails returns up to limit records with ID greater than after.
func (r *EmailRepository) ScanEmails(ctx context.Context, after core.ID, limit int) ([]*core.EmailRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", storage.ErrInvalidQuery)
	}
	var results []*core.EmailRecord
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var start []byte
		if after != 0 {
			if after == core.ID(math.MaxUint64) {
				return nil
			}
			start = makeEmailKey(after + 1)
		}
		return scanEmails(tx, start, limit, func(record *core.EmailRecord) {
			results = append(results, record)
		})
	}, false)
	return results, err
}

// CountEmails returns the number of stored records.
func (r *EmailRepository) CountEmails(ctx context.Context) (int, error) {
	count := 0
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = emailKeyPrefix()
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			count++
		}
		return nil
	}, false)
	return count, err
}

// Helper functions

// readEmail reads an email record from the transaction.
// Returns nil, nil when the key doesn't exist.
func readEmail(tx *badger.Txn, key []byte) (*core.EmailRecord, error) {
	item, err := tx.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var record *core.EmailRecord
	err = item.Value(func(val []byte) error {
		var unmarshalErr error
		record, unmarshalErr = storage.UnmarshalEmailRecord(val)
		return unmarshalErr
	})
	return record, err
}

// readID reads an ID stored as an index value.
// Returns nil, nil when the key doesn't exist.
func readID(tx *badger.Txn, key []byte) (*core.ID, error) {
	item, err := tx.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var id core.ID
	err = item.Value(func(val []byte) error {
		var err error
		id, err = storage.UnmarshalID(val)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// writeIndices adds date and category index entries for a record.
func writeIndices(tx *badger.Txn, record *core.EmailRecord) error {
	value := storage.MarshalID(record.Id)
	if err := tx.Set(makeEmailDateKey(record.ReceivedAt, record.Id), value); err != nil {
		return err
	}
	return tx.Set(makeEmailCategoryKey(record.Category, record.Id), value)
}

// deleteIndices removes date and category index entries for a record.
func deleteIndices(tx *badger.Txn, record *core.EmailRecord) error {
	if err := tx.Delete(makeEmailDateKey(record.ReceivedAt, record.Id)); err != nil {
		return err
	}
	return tx.Delete(makeEmailCategoryKey(record.Category, record.Id))
}

// scanEmails walks primary keys in ID order starting at start (or the beginning).
// A positive limit stops the walk after that many records.
func scanEmails(tx *badger.Txn, start []byte, limit int, fn func(*core.EmailRecord)) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = emailKeyPrefix()
	iter := tx.NewIterator(opts)
	defer iter.Close()

	if start == nil {
		start = opts.Prefix
	}
	count := 0
	for iter.Seek(start); iter.Valid(); iter.Next() {
		item := iter.Item()
		var record *core.EmailRecord
		if err := item.Value(func(val []byte) error {
			var err error
			record, err = storage.UnmarshalEmailRecord(val)
			return err
		}); err != nil {
			return err
		}
		fn(record)
		count++
		if limit > 0 && count >= limit {
			break
		}
	}
	return nil
}

// scanDateIndex walks the date index over [from, to) and resolves each record.
func scanDateIndex(tx *badger.Txn, from, to time.Time, fn func(*core.EmailRecord)) error {
	prefix := []byte(emailDatePrefix + ":")
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	iter := tx.NewIterator(opts)
	defer iter.Close()

	start := prefix
	if !from.IsZero() {
		start = makePartialEmailDateKey(from)
	}
	var end []byte
	if !to.IsZero() {
		end = makePartialEmailDateKey(to)
	}

	for iter.Seek(start); iter.Valid(); iter.Next() {
		key := iter.Item().Key()
		if end != nil && bytes.Compare(key, end) >= 0 {
			break
		}
		if err := resolveIndexEntry(tx, iter.Item(), fn); err != nil {
			return err
		}
	}
	return nil
}

// scanIndex walks every index entry under prefix and resolves each record.
func scanIndex(tx *badger.Txn, prefix []byte, fn func(*core.EmailRecord)) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	iter := tx.NewIterator(opts)
	defer iter.Close()

	for iter.Rewind(); iter.Valid(); iter.Next() {
		if err := resolveIndexEntry(tx, iter.Item(), fn); err != nil {
			return err
		}
	}
	return nil
}

func resolveIndexEntry(tx *badger.Txn, item *badger.Item, fn func(*core.EmailRecord)) error {
	var recordID core.ID
	if err := item.Value(func(val []byte) error {
		var err error
		recordID, err = storage.UnmarshalID(val)
		return err
	}); err != nil {
		return err
	}

	record, err := readEmail(tx, makeEmailKey(recordID))
	if err != nil {
		return err
	}
	if record != nil {
		fn(record)
	}
	return nil
}
