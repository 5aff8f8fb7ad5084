package insightmail

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/poiesic/insightmail/ai"
	"github.com/poiesic/insightmail/ai/mock"
	"github.com/poiesic/insightmail/core"
	"github.com/poiesic/insightmail/ingestion"
	"github.com/poiesic/insightmail/reembed"
	"github.com/poiesic/insightmail/search"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// scriptedBackend answers classification prompts by keyword and everything else
// with a fixed sentence.
func scriptedBackend() *mock.MockBackend {
	return mock.NewMockBackend().WithGenerateFunc(func(ctx context.Context, model string, req ai.Request) (string, error) {
		p := req.Prompt
		switch {
		case strings.Contains(p, "Answer ONLY"):
			return "Your TechCorp interview is on Thursday [1].", nil
		case !strings.Contains(p, "Classify the email"):
			return "Summary text", nil
		case strings.Contains(p, "pleased to offer"):
			return `{"category": "Offer", "confidence": 0.95, "summary": "Offer received", "key_info": {"company": "Acme"}}`, nil
		case strings.Contains(p, "TechCorp interview"):
			return `{"category": "Interview", "confidence": 0.9, "summary": "Interview scheduled", "key_info": {}}`, nil
		case strings.Contains(p, "Thank you for applying"):
			return `{"category": "ApplicationSent", "confidence": 0.8, "summary": "Application confirmed", "key_info": {}}`, nil
		default:
			return `{"category": "Other", "confidence": 0.6, "summary": "Something else", "key_info": {}}`, nil
		}
	})
}

func testAIConfig() *ai.Config {
	return mock.TestConfig()
}

func openTestDatabase(t *testing.T, dir string, backend *mock.MockBackend, opts ...DatabaseOption) *Database {
	t.Helper()
	opts = append([]DatabaseOption{WithAIConfig(testAIConfig()), WithInferenceBackend(backend)}, opts...)
	db, err := NewDatabase(dir, opts...)
	require.NoError(t, err)
	return db
}

func emails() []*core.RawEmail {
	at := func(days int) time.Time { return now.Add(-time.Duration(days) * 24 * time.Hour) }
	return []*core.RawEmail{
		{Account: "me@example.com", Sender: "jane@techcorp.com", Recipient: "me@example.com",
			Subject: "Interview", BodyText: "Your TechCorp interview is scheduled for Thursday", ReceivedAt: at(3)},
		{Account: "me@example.com", Sender: "hr@techcorp.com", Recipient: "me@example.com",
			Subject: "Second round", BodyText: "Second TechCorp interview with the platform team", ReceivedAt: at(2)},
		{Account: "me@example.com", Sender: "hr@acme.com", Recipient: "me@example.com",
			Subject: "Offer", BodyText: "Congratulations! We are pleased to offer you the position", ReceivedAt: at(1)},
		{Account: "me@example.com", Sender: "me@example.com", Recipient: "jobs@globex.com",
			Subject: "Application", BodyText: "Thank you for applying to Globex", ReceivedAt: at(12)},
		{Account: "me@example.com", Sender: "news@letters.com", Recipient: "me@example.com",
			Subject: "Newsletter", BodyText: "Ten tips for writing a resume", ReceivedAt: at(5)},
	}
}

func TestNewDatabase(t *testing.T) {
	t.Run("create new database", func(t *testing.T) {
		tmpDir := filepath.Join(t.TempDir(), "test_db")
		db := openTestDatabase(t, tmpDir, mock.NewMockBackend())
		defer db.Close()

		// Verify components are initialized
		assert.NotNil(t, db.EmailRepository())
		assert.NotNil(t, db.CheckpointRepository())
		assert.Equal(t, "test-embed", db.Index().Model())
		assert.NotNil(t, db.backend)
		assert.NotNil(t, db.logger)
	})

	t.Run("in memory", func(t *testing.T) {
		db := openTestDatabase(t, "", mock.NewMockBackend(), WithInMemory(), WithIngestConcurrency(2))
		defer db.Close()
		assert.Equal(t, 0, db.Index().Len())
		assert.Equal(t, 2, db.coordinator.Concurrency())
	})

	t.Run("ingest pool defaults to the model concurrency ceiling", func(t *testing.T) {
		cfg := testAIConfig()
		cfg.MaxConcurrency = 3
		db, err := NewDatabase("", WithInMemory(), WithAIConfig(cfg), WithInferenceBackend(mock.NewMockBackend()))
		require.NoError(t, err)
		defer db.Close()
		assert.Equal(t, 3, db.coordinator.Concurrency())
	})

	t.Run("error with invalid path", func(t *testing.T) {
		// Try to create a database at a file path instead of directory
		tmpFile := filepath.Join(t.TempDir(), "not_a_dir")
		err := os.WriteFile(tmpFile, []byte("test"), 0644)
		require.NoError(t, err)

		db, err := NewDatabase(tmpFile, WithAIConfig(testAIConfig()), WithInferenceBackend(mock.NewMockBackend()))
		assert.Error(t, err)
		assert.Nil(t, db)
	})

	t.Run("invalid search option", func(t *testing.T) {
		db, err := NewDatabase("", WithInMemory(), WithAIConfig(testAIConfig()),
			WithInferenceBackend(mock.NewMockBackend()), WithSearchOptions(search.WithContextBudget(-1)))
		assert.Error(t, err)
		assert.Nil(t, db)
	})
}

func TestDatabase_Close(t *testing.T) {
	backend := mock.NewMockBackend()
	db := openTestDatabase(t, t.TempDir(), backend)

	assert.NoError(t, db.Close())
	assert.True(t, backend.Closed())
}

func TestDatabase_EndToEnd(t *testing.T) {
	backend := scriptedBackend()
	db := openTestDatabase(t, "", backend, WithInMemory())
	defer db.Close()
	ctx := context.Background()

	report := db.IngestBatch(ctx, emails())
	require.NoError(t, report.Err())
	require.Equal(t, 5, report.Processed)
	assert.Equal(t, core.CategoryOffer, report.Outcomes[2].Category)

	t.Run("re-ingest is idempotent", func(t *testing.T) {
		again := db.IngestBatch(ctx, emails())
		assert.Equal(t, 5, again.Duplicates)
		count, err := db.EmailRepository().CountEmails(ctx)
		require.NoError(t, err)
		assert.Equal(t, 5, count)
	})

	t.Run("answer query", func(t *testing.T) {
		result, err := db.AnswerQuery(ctx, "interview with TechCorp", 2, core.Filter{})
		require.NoError(t, err)
		assert.Equal(t, "Your TechCorp interview is on Thursday [1].", result.Answer)
		require.Len(t, result.Sources, 2)
		ids := []core.ID{result.Sources[0].RecordID, result.Sources[1].RecordID}
		assert.ElementsMatch(t, []core.ID{report.Outcomes[0].RecordID, report.Outcomes[1].RecordID}, ids)
	})

	t.Run("filtered answer without matches", func(t *testing.T) {
		before := backend.GenerateCalls()
		result, err := db.AnswerQuery(ctx, "interview", 3, core.Filter{Categories: []core.Category{core.CategoryRejection}})
		require.NoError(t, err)
		assert.Equal(t, search.NoResultsAnswer, result.Answer)
		assert.Empty(t, result.Sources)
		assert.Equal(t, before, backend.GenerateCalls())
	})

	t.Run("classify one", func(t *testing.T) {
		record := core.NewEmailRecord(&core.RawEmail{
			Sender:     "hr@initech.com",
			Subject:    "Offer",
			BodyText:   "We are pleased to offer you a role",
			ReceivedAt: now,
		})
		result := db.ClassifyOne(ctx, record)
		assert.Equal(t, core.CategoryOffer, result.Category)
		assert.Equal(t, core.MethodModel, result.Method)
	})

	t.Run("classify batch", func(t *testing.T) {
		records := make([]*core.EmailRecord, 0, 3)
		for _, raw := range emails()[2:] {
			records = append(records, core.NewEmailRecord(raw))
		}
		results := db.ClassifyBatch(ctx, records)
		require.Len(t, results, 3)
		assert.Equal(t, core.CategoryOffer, results[0].Category)
		assert.Equal(t, core.CategoryApplicationSent, results[1].Category)
		assert.Equal(t, core.CategoryOther, results[2].Category)
		for _, r := range results {
			assert.Equal(t, core.MethodModel, r.Method)
		}
	})

	t.Run("index stats", func(t *testing.T) {
		stats := db.IndexStats()
		assert.Equal(t, "test-embed", stats.Model)
		assert.Equal(t, 5, stats.Count)
		assert.Equal(t, mock.DefaultDimension, stats.Dimension)
		assert.Equal(t, 2, stats.ByCategory[core.CategoryInterview])
	})

	t.Run("health", func(t *testing.T) {
		h := db.Health(ctx)
		assert.Equal(t, ai.Healthy, h.Status)
		assert.Equal(t, "primary", h.ActiveModel)

		models, err := db.Models(ctx)
		require.NoError(t, err)
		assert.Contains(t, models, "test-embed")
	})

	t.Run("analytics", func(t *testing.T) {
		stats, err := db.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 5, stats.Total)
		assert.Equal(t, 5, stats.Processed)
		assert.Equal(t, 2, stats.ByCategory[core.CategoryInterview])

		followUps, err := db.FollowUps(ctx, now)
		require.NoError(t, err)
		require.Len(t, followUps, 1)
		assert.Equal(t, "globex.com", followUps[0].Counterparty)

		suggestions, err := db.SuggestActions(ctx, now)
		require.NoError(t, err)
		assert.NotEmpty(t, suggestions)

		progress, err := db.Progress(ctx, now, 30)
		require.NoError(t, err)
		assert.Equal(t, 1, progress.Applications)
		assert.Equal(t, 1, progress.Offers)

		summary, err := db.SummarizeInbox(ctx, core.Filter{})
		require.NoError(t, err)
		assert.Equal(t, "Summary text", summary)
	})

	t.Run("similar to", func(t *testing.T) {
		similar, err := db.SimilarTo(ctx, report.Outcomes[0].RecordID, 1, core.Filter{})
		require.NoError(t, err)
		require.Len(t, similar, 1)
		assert.Equal(t, report.Outcomes[1].RecordID, similar[0].RecordID)
	})

	t.Run("purge", func(t *testing.T) {
		id := report.Outcomes[4].RecordID
		require.NoError(t, db.Purge(ctx, id))
		assert.False(t, db.Index().Searchable(id))

		_, err := db.EmailRepository().GetEmail(ctx, id)
		assert.Error(t, err)
		assert.Equal(t, 4, db.Index().Len())
	})
}

func TestDatabase_ReopenLoadsIndex(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	db := openTestDatabase(t, dir, scriptedBackend())
	outcome, err := db.Ingest(ctx, emails()[0])
	require.NoError(t, err)
	require.Equal(t, ingestion.StatusProcessed, outcome.Status)
	require.NoError(t, db.Close())

	reopened := openTestDatabase(t, dir, scriptedBackend())
	defer reopened.Close()
	assert.True(t, reopened.Index().Searchable(outcome.RecordID))

	sources, err := reopened.Search(ctx, "TechCorp interview", 3, core.Filter{})
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, outcome.RecordID, sources[0].RecordID)
}

func TestDatabase_NewReembedder(t *testing.T) {
	db := openTestDatabase(t, "", scriptedBackend(), WithInMemory())
	defer db.Close()
	ctx := context.Background()

	report := db.IngestBatch(ctx, emails())
	require.Equal(t, 5, report.Processed)

	_, _, err := db.NewReembedder("", nil, nil)
	assert.Error(t, err)

	var buf bytes.Buffer
	r, target, err := db.NewReembedder("next-embed", &reembed.Config{
		BatchSize:      2,
		ReportInterval: 2,
		MaxRetries:     1,
		RetryDelay:     time.Millisecond,
	}, &buf)
	require.NoError(t, err)
	assert.Equal(t, "next-embed", target.Model())

	require.NoError(t, r.Run(ctx))
	assert.Equal(t, 5, target.Len())
	assert.Equal(t, 5, db.Index().Len(), "active index is untouched")
	assert.Contains(t, buf.String(), "Reembedding complete")
}

func TestDatabase_ReclassifyRefreshesFilters(t *testing.T) {
	backend := scriptedBackend()
	db := openTestDatabase(t, "", backend, WithInMemory())
	defer db.Close()
	ctx := context.Background()

	report := db.IngestBatch(ctx, emails())
	require.Equal(t, 5, report.Processed)
	newsletter := report.Outcomes[4].RecordID
	require.Equal(t, core.CategoryOther, report.Outcomes[4].Category)

	interviews := core.Filter{Categories: []core.Category{core.CategoryInterview}}
	sources, err := db.Search(ctx, "resume tips", 5, interviews)
	require.NoError(t, err)
	require.Len(t, sources, 2)

	// The model now reads the newsletter as an interview invitation.
	backend.WithGenerateFunc(func(ctx context.Context, model string, req ai.Request) (string, error) {
		return `{"category": "Interview", "confidence": 0.7, "summary": "Resume workshop invite", "key_info": {}}`, nil
	})
	updated, err := db.Reclassify(ctx, newsletter)
	require.NoError(t, err)
	assert.Equal(t, core.CategoryInterview, updated.Category)
	assert.Equal(t, "Resume workshop invite", updated.Summary)

	stored, err := db.EmailRepository().GetEmail(ctx, newsletter)
	require.NoError(t, err)
	assert.Equal(t, core.CategoryInterview, stored.Category)

	sources, err = db.Search(ctx, "resume tips", 5, interviews)
	require.NoError(t, err)
	require.Len(t, sources, 3)
	assert.Equal(t, newsletter, sources[0].RecordID)
	assert.Equal(t, 3, db.IndexStats().ByCategory[core.CategoryInterview])
	assert.Zero(t, db.IndexStats().ByCategory[core.CategoryOther])

	_, err = db.Reclassify(ctx, core.ID(9999))
	assert.Error(t, err)
}

func TestDatabase_ExtractContact(t *testing.T) {
	backend := scriptedBackend()
	db := openTestDatabase(t, "", backend, WithInMemory())
	defer db.Close()
	ctx := context.Background()

	outcome, err := db.Ingest(ctx, emails()[2])
	require.NoError(t, err)

	backend.WithGenerateFunc(func(ctx context.Context, model string, req ai.Request) (string, error) {
		if !strings.Contains(req.Prompt, "Extract contact information") {
			return "", errors.New("unexpected prompt")
		}
		return `{"company_name": "Acme", "contact_person": "Dana", "job_title": null, "location": null, "salary_range": "$150k", "next_steps": null}`, nil
	})
	contact, err := db.ExtractContact(ctx, outcome.RecordID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"company_name": "Acme", "contact_person": "Dana", "salary_range": "$150k"}, contact)

	_, err = db.ExtractContact(ctx, core.ID(9999))
	assert.Error(t, err)
}

func TestDatabase_ReembedActiveModelFillsLiveIndex(t *testing.T) {
	backend := scriptedBackend()
	db := openTestDatabase(t, "", backend, WithInMemory())
	defer db.Close()
	ctx := context.Background()

	// Embedding is down during ingestion: the emails are stored but not searchable.
	backend.WithEmbedFunc(func(ctx context.Context, model string, texts []string) ([][]float32, error) {
		return nil, errors.New("connection refused")
	})
	report := db.IngestBatch(ctx, emails())
	require.Equal(t, 5, report.Pending)
	assert.Equal(t, 0, db.Index().Len())

	backend.WithEmbedFunc(nil)
	r, target, err := db.NewReembedder(db.Index().Model(), &reembed.Config{
		BatchSize:      2,
		ReportInterval: 2,
		MaxRetries:     1,
		RetryDelay:     time.Millisecond,
	}, nil)
	require.NoError(t, err)
	assert.Same(t, db.Index(), target)

	require.NoError(t, r.Run(ctx))
	assert.Equal(t, 5, db.Index().Len())
	sources, err := db.Search(ctx, "TechCorp interview", 2, core.Filter{})
	require.NoError(t, err)
	assert.Len(t, sources, 2)
}
