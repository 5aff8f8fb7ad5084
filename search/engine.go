package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/poiesic/insightmail/ai"
	"github.com/poiesic/insightmail/core"
	"github.com/poiesic/insightmail/index"
	"github.com/poiesic/insightmail/storage"
)

// NoResultsAnswer is returned when retrieval finds nothing to answer from.
const NoResultsAnswer = "No relevant emails found."

const (
	// DefaultContextBudget bounds the assembled context, in runes.
	DefaultContextBudget = 6000
	// DefaultSnippetRunes bounds the body snippet of one candidate.
	DefaultSnippetRunes = 600
)

var answerOptions = ai.GenerateOptions{Temperature: 0.2, MaxTokens: 600}

// Engine answers questions from stored emails by retrieval-augmented generation.
type Engine struct {
	emails        storage.EmailRepository
	index         *index.Index
	adapter       ai.ModelAdapter
	logger        *slog.Logger
	contextBudget int
	snippetRunes  int
	minScore      float32
}

// Option configures an Engine.
type Option func(*Engine) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		if logger == nil {
			logger = slog.Default()
		}
		e.logger = logger.With("component", "search")
		return nil
	}
}

// WithContextBudget sets the rune budget of the assembled context.
func WithContextBudget(runes int) Option {
	return func(e *Engine) error {
		if runes <= 0 {
			return fmt.Errorf("context budget must be positive, got %d", runes)
		}
		e.contextBudget = runes
		return nil
	}
}

// WithSnippetRunes sets the body snippet length of one candidate.
func WithSnippetRunes(runes int) Option {
	return func(e *Engine) error {
		if runes < 0 {
			return fmt.Errorf("snippet length must not be negative, got %d", runes)
		}
		e.snippetRunes = runes
		return nil
	}
}

// WithMinScore drops candidates scoring below min. Zero disables the cut.
func WithMinScore(min float32) Option {
	return func(e *Engine) error {
		e.minScore = min
		return nil
	}
}

// NewEngine creates a retrieval engine.
func NewEngine(emails storage.EmailRepository, idx *index.Index, adapter ai.ModelAdapter, opts ...Option) (*Engine, error) {
	if emails == nil {
		return nil, ErrEmailRepositoryRequired
	}
	if idx == nil {
		return nil, ErrIndexRequired
	}
	if adapter == nil {
		return nil, ErrModelAdapterRequired
	}

	e := &Engine{
		emails:        emails,
		index:         idx,
		adapter:       adapter,
		logger:        slog.Default().With("component", "search"),
		contextBudget: DefaultContextBudget,
		snippetRunes:  DefaultSnippetRunes,
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// Search embeds query and returns the top-k matching records without generation.
func (e *Engine) Search(ctx context.Context, query string, k int, filter core.Filter) ([]core.Source, error) {
	return e.search(ctx, query, k, filter, &noopMonitor{})
}

func (e *Engine) search(ctx context.Context, query string, k int, filter core.Filter, monitor SearchMonitor) ([]core.Source, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	vector, err := e.adapter.Embed(ctx, query)
	if err != nil {
		e.logger.Error("error generating embedding for query", "query", query, "err", err)
		return nil, err
	}
	monitor.AfterEmbed(vector)

	candidates, err := e.index.Search(ctx, vector, k, filter)
	if err != nil {
		e.logger.Error("error querying index", "err", err)
		return nil, err
	}

	if e.minScore > 0 {
		kept := candidates[:0]
		for _, c := range candidates {
			if c.Score >= e.minScore {
				kept = append(kept, c)
			}
		}
		candidates = kept
	}
	monitor.AfterSearch(candidates)
	return candidates, nil
}

// Answer answers query from the top-k records matching filter.
func (e *Engine) Answer(ctx context.Context, query string, k int, filter core.Filter) (*core.QueryResult, error) {
	return e.AnswerWithMonitor(ctx, query, k, filter, nil)
}

// AnswerWithMonitor is Answer with callbacks at each stage.
// Sources list the candidates that made it into the context, in rank order.
func (e *Engine) AnswerWithMonitor(ctx context.Context, query string, k int, filter core.Filter, monitor SearchMonitor) (*core.QueryResult, error) {
	// Use noop monitor if none provided
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	monitor.Start(query)

	candidates, err := e.search(ctx, query, k, filter, monitor)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return e.finish(monitor, noResults()), nil
	}

	ids := make([]core.ID, len(candidates))
	for i, c := range candidates {
		ids[i] = c.RecordID
	}
	records, err := e.emails.GetEmails(ctx, ids...)
	if err != nil {
		e.logger.Error("error retrieving email records", "recordCount", len(ids), "err", err)
		return nil, err
	}
	byID := make(map[core.ID]*core.EmailRecord, len(records))
	for _, r := range records {
		byID[r.Id] = r
	}

	contextText, sources := e.assemble(query, candidates, byID)
	monitor.ContextAssembled(sources, len([]rune(contextText)))
	if len(sources) == 0 {
		return e.finish(monitor, noResults()), nil
	}

	answer, err := e.adapter.Generate(ctx, answerPrompt(query, contextText), answerOptions)
	if err != nil {
		e.logger.Error("error generating answer", "err", err)
		return nil, err
	}

	return e.finish(monitor, &core.QueryResult{
		Answer:  strings.TrimSpace(answer),
		Sources: sources,
	}), nil
}

func (e *Engine) finish(monitor SearchMonitor, result *core.QueryResult) *core.QueryResult {
	monitor.Finish(result)
	return result
}

func noResults() *core.QueryResult {
	return &core.QueryResult{Answer: NoResultsAnswer, Sources: []core.Source{}}
}

// assemble renders candidates in rank order until the context budget is spent.
// The first block is truncated to fit; later blocks that do not fit end assembly.
func (e *Engine) assemble(query string, candidates []core.Source, records map[core.ID]*core.EmailRecord) (string, []core.Source) {
	var sb strings.Builder
	used := 0
	sources := make([]core.Source, 0, len(candidates))

	for _, c := range candidates {
		record, ok := records[c.RecordID]
		if !ok {
			// purged between search and fetch
			continue
		}
		block := e.contextBlock(query, record)
		n := len([]rune(block))
		if used+n > e.contextBudget {
			if len(sources) > 0 {
				break
			}
			block = string([]rune(block)[:e.contextBudget])
			n = e.contextBudget
		}
		sb.WriteString(block)
		used += n
		sources = append(sources, c)
	}
	return sb.String(), sources
}

func (e *Engine) contextBlock(query string, r *core.EmailRecord) string {
	var sb strings.Builder
	date := "unknown date"
	if !r.ReceivedAt.IsZero() {
		date = r.ReceivedAt.Format("2006-01-02")
	}
	fmt.Fprintf(&sb, "[%d] %s | %s | from %s | %s\n", r.Id, date, r.Category, r.Sender, r.Subject)
	if r.Summary != "" {
		fmt.Fprintf(&sb, "Summary: %s\n", r.Summary)
	}
	if e.snippetRunes > 0 && r.BodyText != "" {
		fmt.Fprintf(&sb, "Excerpt: %s\n", snippet(r.BodyText, query, e.snippetRunes))
	}
	sb.WriteString("\n")
	return sb.String()
}

func answerPrompt(query, contextText string) string {
	var sb strings.Builder
	sb.WriteString("You answer questions about the user's job-search emails.\n")
	sb.WriteString("Answer ONLY from the emails below. If they do not contain the answer, say so.\n")
	sb.WriteString("Cite the ids of the emails you used in square brackets, for example [123].\n\n")
	sb.WriteString("Emails:\n")
	sb.WriteString(contextText)
	sb.WriteString("Question: ")
	sb.WriteString(query)
	return sb.String()
}

// SimilarTo returns the top-k records most similar to recordID, excluding the record itself.
func (e *Engine) SimilarTo(ctx context.Context, recordID core.ID, k int, filter core.Filter) ([]core.Source, error) {
	vector, ok := e.index.Vector(recordID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotSearchable, recordID)
	}
	return e.index.SearchExcluding(ctx, vector, k, filter, []core.ID{recordID})
}
