package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/poiesic/insightmail/ai"
	"github.com/poiesic/insightmail/ai/mock"
	"github.com/poiesic/insightmail/core"
	"github.com/poiesic/insightmail/index"
	"github.com/poiesic/insightmail/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 4, 7, 9, 0, 0, 0, time.UTC)

type fixture struct {
	backend *mock.MockBackend
	adapter *ai.Adapter
	emails  *badger.EmailRepository
	index   *index.Index
}

func setup(t *testing.T) *fixture {
	t.Helper()
	emails, vectors, store, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	backend := mock.NewMockBackend()
	adapter := mock.NewAdapter(backend)
	idx, err := index.New(vectors, emails, adapter.EmbeddingModel())
	require.NoError(t, err)

	return &fixture{backend: backend, adapter: adapter, emails: emails, index: idx}
}

func (f *fixture) engine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e, err := NewEngine(f.emails, f.index, f.adapter, opts...)
	require.NoError(t, err)
	return e
}

func (f *fixture) add(t *testing.T, subject, body string, category core.Category, receivedAt time.Time) *core.EmailRecord {
	t.Helper()
	ctx := context.Background()
	record := core.NewEmailRecord(&core.RawEmail{
		Account:    "me@example.com",
		Subject:    subject,
		Sender:     "someone@corp.com",
		BodyText:   body,
		ReceivedAt: receivedAt,
	})
	record.Category = category
	record.Summary = subject
	_, err := f.emails.AddEmail(ctx, record)
	require.NoError(t, err)

	vector, err := f.adapter.Embed(ctx, body)
	require.NoError(t, err)
	require.NoError(t, f.index.Upsert(ctx, record.Id, vector, index.MetadataOf(record)))
	return record
}

func TestNewEngine(t *testing.T) {
	f := setup(t)

	t.Run("valid configuration", func(t *testing.T) {
		e, err := NewEngine(f.emails, f.index, f.adapter)
		require.NoError(t, err)
		assert.NotNil(t, e)
	})

	t.Run("with nil logger falls back to default", func(t *testing.T) {
		e, err := NewEngine(f.emails, f.index, f.adapter, WithLogger(nil))
		require.NoError(t, err)
		assert.NotNil(t, e)
	})

	t.Run("with custom logger", func(t *testing.T) {
		_, err := NewEngine(f.emails, f.index, f.adapter, WithLogger(slog.Default()))
		require.NoError(t, err)
	})

	t.Run("nil email repository", func(t *testing.T) {
		_, err := NewEngine(nil, f.index, f.adapter)
		assert.Equal(t, ErrEmailRepositoryRequired, err)
	})

	t.Run("nil index", func(t *testing.T) {
		_, err := NewEngine(f.emails, nil, f.adapter)
		assert.Equal(t, ErrIndexRequired, err)
	})

	t.Run("nil adapter", func(t *testing.T) {
		_, err := NewEngine(f.emails, f.index, nil)
		assert.Equal(t, ErrModelAdapterRequired, err)
	})

	t.Run("invalid budget", func(t *testing.T) {
		_, err := NewEngine(f.emails, f.index, f.adapter, WithContextBudget(0))
		assert.Error(t, err)
	})
}

func TestSearch_TechCorpInterviewsRankFirst(t *testing.T) {
	f := setup(t)
	e := f.engine(t)

	techcorp1 := f.add(t, "Interview", "TechCorp interview scheduled for Thursday", core.CategoryInterview, base)
	techcorp2 := f.add(t, "Next round", "Second TechCorp interview with the platform team", core.CategoryInterview, base.Add(time.Hour))
	f.add(t, "Thanks", "Thank you for applying to Globex", core.CategoryApplicationSent, base.Add(2*time.Hour))
	f.add(t, "Newsletter", "Ten tips for writing a resume", core.CategoryOther, base.Add(3*time.Hour))
	f.add(t, "Update", "Unfortunately Initech has filled the position", core.CategoryRejection, base.Add(4*time.Hour))

	for k := 2; k <= 5; k++ {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			results, err := e.Search(context.Background(), "interview with TechCorp", k, core.Filter{})
			require.NoError(t, err)
			require.Len(t, results, k)
			assert.ElementsMatch(t, []core.ID{techcorp1.Id, techcorp2.Id}, []core.ID{results[0].RecordID, results[1].RecordID})
			for i := 2; i < len(results); i++ {
				assert.Less(t, results[i].Score, results[1].Score)
			}
		})
	}
}

func TestAnswer_NoCandidates(t *testing.T) {
	f := setup(t)
	e := f.engine(t)

	t.Run("empty index", func(t *testing.T) {
		result, err := e.Answer(context.Background(), "did anyone make me an offer?", 5, core.Filter{})
		require.NoError(t, err)
		assert.Equal(t, NoResultsAnswer, result.Answer)
		assert.Empty(t, result.Sources)
		assert.NotNil(t, result.Sources)
		assert.Equal(t, 0, f.backend.GenerateCalls())
	})

	t.Run("filter excludes everything", func(t *testing.T) {
		f.add(t, "Offer", "We are pleased to offer you the role", core.CategoryOffer, base)
		result, err := e.Answer(context.Background(), "offer", 5, core.Filter{Categories: []core.Category{core.CategoryRejection}})
		require.NoError(t, err)
		assert.Equal(t, NoResultsAnswer, result.Answer)
		assert.Empty(t, result.Sources)
		assert.Equal(t, 0, f.backend.GenerateCalls())
	})

	t.Run("below minimum score", func(t *testing.T) {
		strict := f.engine(t, WithMinScore(0.99))
		result, err := strict.Answer(context.Background(), "completely unrelated words", 5, core.Filter{})
		require.NoError(t, err)
		assert.Equal(t, NoResultsAnswer, result.Answer)
		assert.Equal(t, 0, f.backend.GenerateCalls())
	})
}

func TestAnswer_GeneratesFromContext(t *testing.T) {
	f := setup(t)
	f.backend.WithGenerateFunc(func(ctx context.Context, model string, req ai.Request) (string, error) {
		return "  You have an interview with TechCorp on Thursday.  ", nil
	})
	e := f.engine(t)

	interview := f.add(t, "TechCorp interview", "TechCorp interview scheduled for Thursday at 10am", core.CategoryInterview, base)
	f.add(t, "Receipt", "Your order has shipped", core.CategoryOther, base)

	result, err := e.Answer(context.Background(), "when is my TechCorp interview?", 2, core.Filter{})
	require.NoError(t, err)
	assert.Equal(t, "You have an interview with TechCorp on Thursday.", result.Answer)
	require.Len(t, result.Sources, 2)
	assert.Equal(t, interview.Id, result.Sources[0].RecordID)

	require.Equal(t, 1, f.backend.GenerateCalls())
	prompt := f.backend.Prompts()[0]
	assert.Contains(t, prompt, "Answer ONLY from the emails below")
	assert.Contains(t, prompt, fmt.Sprintf("[%d]", interview.Id))
	assert.Contains(t, prompt, "Question: when is my TechCorp interview?")
	assert.Less(t, strings.Index(prompt, "TechCorp interview scheduled"), strings.Index(prompt, "Your order has shipped"))
}

func TestAnswer_ContextBudget(t *testing.T) {
	f := setup(t)
	e := f.engine(t, WithContextBudget(150), WithSnippetRunes(80))

	long := strings.Repeat("offer details ", 40)
	f.add(t, "Offer", "offer "+long, core.CategoryOffer, base)
	f.add(t, "Offer follow-up", "offer follow-up "+long, core.CategoryOffer, base.Add(time.Hour))

	var m recordingMonitor
	result, err := e.AnswerWithMonitor(context.Background(), "offer", 2, core.Filter{}, &m)
	require.NoError(t, err)

	// Only the best candidate fits in the budget.
	require.Len(t, m.candidates, 2)
	require.Len(t, result.Sources, 1)
	assert.Equal(t, m.candidates[0].RecordID, result.Sources[0].RecordID)
	assert.LessOrEqual(t, m.contextRunes, 150)
	assert.Equal(t, []string{"start", "embed", "search", "context", "finish"}, m.events)
}

func TestSimilarTo(t *testing.T) {
	f := setup(t)
	e := f.engine(t)

	a := f.add(t, "A", "TechCorp interview on Thursday", core.CategoryInterview, base)
	b := f.add(t, "B", "TechCorp interview on Friday", core.CategoryInterview, base)
	f.add(t, "C", "Your order has shipped", core.CategoryOther, base)

	results, err := e.SimilarTo(context.Background(), a.Id, 2, core.Filter{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, b.Id, results[0].RecordID)
	for _, r := range results {
		assert.NotEqual(t, a.Id, r.RecordID)
	}

	_, err = e.SimilarTo(context.Background(), core.ID(42), 2, core.Filter{})
	assert.ErrorIs(t, err, ErrNotSearchable)
}

func TestSearch_EmptyQuery(t *testing.T) {
	f := setup(t)
	e := f.engine(t)

	_, err := e.Search(context.Background(), "   ", 3, core.Filter{})
	assert.ErrorIs(t, err, ErrEmptyQuery)
	assert.Equal(t, 0, f.backend.EmbedCalls())
}

func TestSnippet(t *testing.T) {
	body := strings.Repeat("intro words ", 20) + "the TechCorp interview is on Thursday " + strings.Repeat("closing words ", 20)

	s := snippet(body, "TechCorp interview", 60)
	assert.Contains(t, s, "TechCorp interview")
	assert.True(t, strings.HasPrefix(s, "..."))
	assert.True(t, strings.HasSuffix(s, "..."))

	assert.Equal(t, "short body", snippet("short   body", "x", 60))

	// U+0130 lowercases to two runes with strings.ToLower; offsets must not drift.
	dotted := strings.Repeat("İZMİR ", 80) + "the TechCorp interview is on Thursday " + strings.Repeat("closing words ", 20)
	s = snippet(dotted, "TechCorp interview", 60)
	assert.Contains(t, s, "TechCorp interview")
	assert.Contains(t, snippet(dotted, "izmir", 30), "İZMİR")
	assert.Contains(t, snippet("Hello "+strings.Repeat("x ", 40)+"İzmir office", "İZMİR", 60), "İzmir")
	assert.True(t, strings.HasPrefix(snippet(body, "nomatch", 20), "intro words"))
}

type recordingMonitor struct {
	events       []string
	candidates   []core.Source
	contextRunes int
}

func (m *recordingMonitor) Start(string)         { m.events = append(m.events, "start") }
func (m *recordingMonitor) AfterEmbed([]float32) { m.events = append(m.events, "embed") }
func (m *recordingMonitor) AfterSearch(c []core.Source) {
	m.events = append(m.events, "search")
	m.candidates = c
}
func (m *recordingMonitor) ContextAssembled(_ []core.Source, runes int) {
	m.events = append(m.events, "context")
	m.contextRunes = runes
}
func (m *recordingMonitor) Finish(*core.QueryResult) { m.events = append(m.events, "finish") }
