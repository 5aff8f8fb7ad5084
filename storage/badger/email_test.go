package badger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/insightmail/core"
	"github.com/poiesic/insightmail/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testBase = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestRecord(sender, body string, receivedAt time.Time) *core.EmailRecord {
	return core.NewEmailRecord(&core.RawEmail{
		Account:    "me@example.com",
		Subject:    "Re: your application",
		Sender:     sender,
		Recipient:  "me@example.com",
		BodyText:   body,
		ReceivedAt: receivedAt,
	})
}

func setupRepos(t *testing.T) (*EmailRepository, *VectorRepository) {
	t.Helper()
	emails, vectors, backend, err := NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	return emails, vectors
}

func TestAddEmail(t *testing.T) {
	repo, _ := setupRepos(t)
	ctx := context.Background()

	record := newTestRecord("recruiter@techcorp.com", "Are you free Tuesday?", testBase)
	stored, err := repo.AddEmail(ctx, record)
	require.NoError(t, err)
	assert.False(t, stored.InsertedAt.IsZero())
	assert.Equal(t, stored.InsertedAt, stored.UpdatedAt)

	got, err := repo.GetEmail(ctx, record.Id)
	require.NoError(t, err)
	assert.Equal(t, record.Fingerprint, got.Fingerprint)
	assert.Equal(t, "Are you free Tuesday?", got.BodyText)
	assert.Equal(t, core.StatePending, got.State)
	assert.True(t, got.ReceivedAt.Equal(testBase))

	byFP, err := repo.GetByFingerprint(ctx, record.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, record.Id, byFP.Id)
}

func TestAddEmail_Duplicate(t *testing.T) {
	repo, _ := setupRepos(t)
	ctx := context.Background()

	first := newTestRecord("recruiter@techcorp.com", "Are you free Tuesday?", testBase)
	_, err := repo.AddEmail(ctx, first)
	require.NoError(t, err)

	// Same sender, time and normalized body.
	second := newTestRecord("  Recruiter@TechCorp.com", "are you   FREE tuesday?", testBase)
	require.Equal(t, first.Fingerprint, second.Fingerprint)

	existing, err := repo.AddEmail(ctx, second)
	assert.ErrorIs(t, err, core.ErrDuplicateRecord)
	require.NotNil(t, existing)
	assert.Equal(t, first.Id, existing.Id)
	assert.Equal(t, "Are you free Tuesday?", existing.BodyText)

	count, err := repo.CountEmails(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestAddEmail_ConcurrentDuplicates(t *testing.T) {
	repo, _ := setupRepos(t)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	inserted, duplicates := 0, 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			record := newTestRecord("hr@acme.io", "We would like to offer you the role", testBase)
			_, err := repo.AddEmail(ctx, record)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				inserted++
			case assert.ErrorIs(t, err, core.ErrDuplicateRecord):
				duplicates++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, inserted)
	assert.Equal(t, workers-1, duplicates)

	count, err := repo.CountEmails(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestAddEmail_Invalid(t *testing.T) {
	repo, _ := setupRepos(t)
	ctx := context.Background()

	_, err := repo.AddEmail(ctx, nil)
	assert.ErrorIs(t, err, storage.ErrRecordRequired)

	record := newTestRecord("a@b.c", "body", testBase)
	record.Confidence = 1.5
	_, err = repo.AddEmail(ctx, record)
	assert.ErrorIs(t, err, core.ErrInvalidConfidence)
}

func TestUpdateEmails(t *testing.T) {
	repo, _ := setupRepos(t)
	ctx := context.Background()

	record := newTestRecord("recruiter@techcorp.com", "Are you free Tuesday?", testBase)
	_, err := repo.AddEmail(ctx, record)
	require.NoError(t, err)
	insertedAt := record.InsertedAt

	record.Apply(core.ClassificationResult{
		Category:        core.CategoryInterview,
		Confidence:      0.9,
		Summary:         "Interview request",
		ExtractedFields: map[string]string{"company": "TechCorp"},
		Method:          core.MethodModel,
	})
	record.State = core.StateProcessed

	_, err = repo.UpdateEmails(ctx, record)
	require.NoError(t, err)

	got, err := repo.GetEmail(ctx, record.Id)
	require.NoError(t, err)
	assert.Equal(t, core.CategoryInterview, got.Category)
	assert.Equal(t, core.StateProcessed, got.State)
	assert.Equal(t, "TechCorp", got.ExtractedFields["company"])
	assert.True(t, got.InsertedAt.Equal(insertedAt))

	// The category index follows the update.
	found, err := repo.FindEmails(ctx, core.Filter{Categories: []core.Category{core.CategoryInterview}})
	require.NoError(t, err)
	require.Len(t, found, 1)

	found, err = repo.FindEmails(ctx, core.Filter{Categories: []core.Category{core.CategoryOther}})
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestUpdateEmails_NotFound(t *testing.T) {
	repo, _ := setupRepos(t)

	record := newTestRecord("a@b.c", "body", testBase)
	_, err := repo.UpdateEmails(context.Background(), record)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDeleteEmails(t *testing.T) {
	repo, vectors := setupRepos(t)
	ctx := context.Background()

	record := newTestRecord("a@b.c", "body", testBase)
	_, err := repo.AddEmail(ctx, record)
	require.NoError(t, err)

	for _, model := range []string{"model-a", "model-b"} {
		require.NoError(t, vectors.UpsertVector(ctx, &core.EmbeddingVector{
			RecordID:  record.Id,
			Vector:    []float32{1, 0},
			ModelName: model,
		}))
	}

	require.NoError(t, repo.DeleteEmails(ctx, record.Id))

	_, err = repo.GetEmail(ctx, record.Id)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = repo.GetByFingerprint(ctx, record.Fingerprint)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = vectors.GetVector(ctx, record.Id, "model-a")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = vectors.GetVector(ctx, record.Id, "model-b")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	found, err := repo.FindEmails(ctx, core.Filter{})
	require.NoError(t, err)
	assert.Empty(t, found)

	// A purged email can be ingested again.
	_, err = repo.AddEmail(ctx, newTestRecord("a@b.c", "body", testBase))
	assert.NoError(t, err)

	assert.ErrorIs(t, repo.DeleteEmails(ctx, core.ID(12345)), storage.ErrNotFound)
}

func TestGetEmails_SkipsMissing(t *testing.T) {
	repo, _ := setupRepos(t)
	ctx := context.Background()

	record := newTestRecord("a@b.c", "body", testBase)
	_, err := repo.AddEmail(ctx, record)
	require.NoError(t, err)

	got, err := repo.GetEmails(ctx, record.Id, core.ID(42))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, record.Id, got[0].Id)
}

func TestFindEmails(t *testing.T) {
	repo, _ := setupRepos(t)
	ctx := context.Background()

	categories := []core.Category{core.CategoryApplicationSent, core.CategoryRejection, core.CategoryInterview, core.CategoryRejection}
	// Insert out of order to check ordering by ReceivedAt.
	for _, i := range []int{2, 0, 3, 1} {
		record := newTestRecord("hr@corp.com", fmt.Sprintf("message %d", i), testBase.Add(time.Duration(i)*24*time.Hour))
		record.Category = categories[i]
		if i == 3 {
			record.Account = "other@example.com"
		}
		_, err := repo.AddEmail(ctx, record)
		require.NoError(t, err)
	}

	bodies := func(records []*core.EmailRecord) []string {
		var out []string
		for _, r := range records {
			out = append(out, r.BodyText)
		}
		return out
	}

	t.Run("all", func(t *testing.T) {
		found, err := repo.FindEmails(ctx, core.Filter{})
		require.NoError(t, err)
		assert.Equal(t, []string{"message 0", "message 1", "message 2", "message 3"}, bodies(found))
	})

	t.Run("half-open date range", func(t *testing.T) {
		found, err := repo.FindEmails(ctx, core.Filter{
			From: testBase.Add(24 * time.Hour),
			To:   testBase.Add(3 * 24 * time.Hour),
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"message 1", "message 2"}, bodies(found))
	})

	t.Run("open-ended range", func(t *testing.T) {
		found, err := repo.FindEmails(ctx, core.Filter{From: testBase.Add(2 * 24 * time.Hour)})
		require.NoError(t, err)
		assert.Equal(t, []string{"message 2", "message 3"}, bodies(found))
	})

	t.Run("category", func(t *testing.T) {
		found, err := repo.FindEmails(ctx, core.Filter{Categories: []core.Category{core.CategoryRejection}})
		require.NoError(t, err)
		assert.Equal(t, []string{"message 1", "message 3"}, bodies(found))
	})

	t.Run("category and account", func(t *testing.T) {
		found, err := repo.FindEmails(ctx, core.Filter{
			Categories: []core.Category{core.CategoryRejection},
			Account:    "me@example.com",
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"message 1"}, bodies(found))
	})

	t.Run("range and category", func(t *testing.T) {
		found, err := repo.FindEmails(ctx, core.Filter{
			From:       testBase,
			To:         testBase.Add(3 * 24 * time.Hour),
			Categories: []core.Category{core.CategoryInterview, core.CategoryApplicationSent},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"message 0", "message 2"}, bodies(found))
	})
}

func TestScanEmails(t *testing.T) {
	repo, _ := setupRepos(t)
	ctx := context.Background()

	const total = 7
	for i := 0; i < total; i++ {
		_, err := repo.AddEmail(ctx, newTestRecord("a@b.c", fmt.Sprintf("body %d", i), testBase))
		require.NoError(t, err)
	}

	var seen []core.ID
	after := core.ID(0)
	for {
		page, err := repo.ScanEmails(ctx, after, 3)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		assert.LessOrEqual(t, len(page), 3)
		for _, r := range page {
			seen = append(seen, r.Id)
		}
		after = page[len(page)-1].Id
	}

	require.Len(t, seen, total)
	for i := 1; i < len(seen); i++ {
		assert.Less(t, seen[i-1], seen[i])
	}

	_, err := repo.ScanEmails(ctx, 0, 0)
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)
}
