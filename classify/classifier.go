package classify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/poiesic/insightmail/ai"
	"github.com/poiesic/insightmail/core"
)

const (
	// DefaultHeadRunes is how much of the body start goes into the prompt.
	DefaultHeadRunes = 1500
	// DefaultTailRunes is how much of the body end goes into the prompt.
	DefaultTailRunes = 500
	// DefaultContextBudget bounds one summarization prompt, in runes.
	DefaultContextBudget = 6000
	// DefaultStalenessWindow is how long an application may go unanswered.
	DefaultStalenessWindow = 7 * 24 * time.Hour

	// MaxSummaryRunes bounds the one-line summary stored on a record.
	MaxSummaryRunes = 200

	elisionMarker = "\n[...]\n"
)

// ClassificationSchema is the structured contract for one classification.
var ClassificationSchema = ai.Schema{
	Name: "email_classification",
	Fields: []ai.Field{
		{Name: "category", Type: ai.FieldString, Required: true, Enum: core.CategoryNames(),
			Description: "one of the exact category names"},
		{Name: "confidence", Type: ai.FieldNumber, Required: true,
			Description: "confidence score from 0.0 to 1.0"},
		{Name: "summary", Type: ai.FieldString, Required: true,
			Description: "one-line summary of the email's main point"},
		{Name: "key_info", Type: ai.FieldObject,
			Description: "important details such as company, position, date"},
	},
}

// Classifier classifies and summarizes email records.
type Classifier struct {
	generator       ai.Generator
	logger          *slog.Logger
	headRunes       int
	tailRunes       int
	contextBudget   int
	stalenessWindow time.Duration
}

// Option configures a Classifier.
type Option func(*Classifier) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Classifier) error {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger.With("component", "classifier")
		return nil
	}
}

// WithExcerpt sets how many leading and trailing body runes go into the prompt.
func WithExcerpt(head, tail int) Option {
	return func(c *Classifier) error {
		if head <= 0 || tail < 0 {
			return fmt.Errorf("%w: excerpt head must be positive and tail non-negative", ErrInvalidOption)
		}
		c.headRunes = head
		c.tailRunes = tail
		return nil
	}
}

// WithContextBudget sets the rune budget of one summarization prompt.
func WithContextBudget(runes int) Option {
	return func(c *Classifier) error {
		if runes < 200 {
			return fmt.Errorf("%w: context budget must be at least 200 runes", ErrInvalidOption)
		}
		c.contextBudget = runes
		return nil
	}
}

// WithStalenessWindow sets how long an application may go without a reply
// before it is flagged for follow-up.
func WithStalenessWindow(d time.Duration) Option {
	return func(c *Classifier) error {
		if d <= 0 {
			return fmt.Errorf("%w: staleness window must be positive", ErrInvalidOption)
		}
		c.stalenessWindow = d
		return nil
	}
}

// New creates a Classifier on top of generator.
func New(generator ai.Generator, opts ...Option) (*Classifier, error) {
	if generator == nil {
		return nil, ErrGeneratorRequired
	}
	c := &Classifier{
		generator:       generator,
		logger:          slog.Default().With("component", "classifier"),
		headRunes:       DefaultHeadRunes,
		tailRunes:       DefaultTailRunes,
		contextBudget:   DefaultContextBudget,
		stalenessWindow: DefaultStalenessWindow,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// StalenessWindow returns the configured follow-up window.
func (c *Classifier) StalenessWindow() time.Duration {
	return c.stalenessWindow
}

// Classify returns a classification for record. It never fails: two
// consecutive degraded model results, an unavailable service or a cancelled
// context all fall back to the keyword heuristic.
func (c *Classifier) Classify(ctx context.Context, record *core.EmailRecord) core.ClassificationResult {
	prompt := c.Prompt(record)

	for attempt := 1; attempt <= 2; attempt++ {
		result, err := c.generator.GenerateStructured(ctx, prompt, ClassificationSchema)
		if err != nil {
			if errors.Is(err, ai.ErrServiceUnavailable) {
				c.logger.Warn("model unavailable, using heuristic", "id", record.Id)
			} else {
				c.logger.Warn("classification call failed, using heuristic", "id", record.Id, "err", err)
			}
			return Heuristic(record)
		}

		switch r := result.(type) {
		case ai.Structured:
			return fromStructured(r)
		case ai.Degraded:
			c.logger.Warn("classification output unparseable", "id", record.Id, "attempt", attempt, "tag", r.Tag(), "reason", r.Reason)
		}
	}
	return Heuristic(record)
}

// ClassifyBatch classifies records with one prompt each, run concurrently under
// the generator's concurrency ceiling. Result i belongs to record i. Output that
// fails validation falls back to the heuristic without a repair call.
func (c *Classifier) ClassifyBatch(ctx context.Context, records []*core.EmailRecord) []core.ClassificationResult {
	prompts := make([]string, len(records))
	for i, record := range records {
		prompts[i] = ai.StructuredPrompt(c.Prompt(record), ClassificationSchema)
	}

	results := c.generator.GenerateBatch(ctx, prompts, ai.GenerateOptions{JSONMode: true})
	out := make([]core.ClassificationResult, len(records))
	for i, res := range results {
		record := records[i]
		if res.Err != nil {
			c.logger.Warn("batch classification call failed, using heuristic", "id", record.Id, "err", res.Err)
			out[i] = Heuristic(record)
			continue
		}
		value, err := ai.ParseStructured(res.Text, ClassificationSchema)
		if err != nil {
			c.logger.Warn("batch classification output unparseable", "id", record.Id, "err", err)
			out[i] = Heuristic(record)
			continue
		}
		out[i] = fromStructured(ai.Structured{Value: value, Raw: res.Text})
	}
	return out
}

func fromStructured(s ai.Structured) core.ClassificationResult {
	category, err := core.ParseCategory(s.Text("category"))
	if err != nil {
		// unreachable after schema validation; keep the record classifiable anyway
		category = core.CategoryOther
	}
	return core.ClassificationResult{
		Category:        category,
		Confidence:      clamp(s.Number("confidence"), 0, 1),
		Summary:         truncateRunes(strings.TrimSpace(s.Text("summary")), MaxSummaryRunes),
		ExtractedFields: s.StringMap("key_info"),
		Method:          core.MethodModel,
	}
}

// Prompt builds the deterministic classification prompt for record.
func (c *Classifier) Prompt(record *core.EmailRecord) string {
	var sb strings.Builder
	sb.WriteString("You are an expert at analyzing job-related emails. Classify the email and summarize it in one line.\n\n")
	sb.WriteString("Categories:\n")
	sb.WriteString("- Application Sent: emails sent by the user applying for jobs, or application receipts\n")
	sb.WriteString("- Recruiter Response: responses from recruiters or HR representatives\n")
	sb.WriteString("- Interview: interview invitations, scheduling, or follow-ups\n")
	sb.WriteString("- Offer: job offers or offer-related communications\n")
	sb.WriteString("- Rejection: rejection letters or negative responses\n")
	sb.WriteString("- Other: non-job-related or unclear emails\n\n")
	sb.WriteString("Email:\n")
	fmt.Fprintf(&sb, "From: %s\n", record.Sender)
	if record.Recipient != "" {
		fmt.Fprintf(&sb, "To: %s\n", record.Recipient)
	}
	fmt.Fprintf(&sb, "Subject: %s\n\n", record.Subject)
	sb.WriteString(Excerpt(record.BodyText, c.headRunes, c.tailRunes))
	return sb.String()
}

// Excerpt keeps the leading head and trailing tail runes of body, joined by an
// elision marker. Bodies that fit are returned whole.
func Excerpt(body string, head, tail int) string {
	body = strings.TrimSpace(body)
	runes := []rune(body)
	if len(runes) <= head+tail {
		return body
	}
	return string(runes[:head]) + elisionMarker + string(runes[len(runes)-tail:])
}

// ExtractContact asks the model for contact details mentioned in record.
// Degraded output yields an empty map.
func (c *Classifier) ExtractContact(ctx context.Context, record *core.EmailRecord) (map[string]string, error) {
	prompt := "Extract contact information from this email. Use null for anything not mentioned.\n\n" +
		"Subject: " + record.Subject + "\n\n" + Excerpt(record.BodyText, c.headRunes, 0)

	result, err := c.generator.GenerateStructured(ctx, prompt, ContactSchema)
	if err != nil {
		return nil, err
	}
	out := map[string]string{}
	if s, ok := result.(ai.Structured); ok {
		for _, f := range ContactSchema.Fields {
			if v := strings.TrimSpace(s.Text(f.Name)); v != "" {
				out[f.Name] = v
			}
		}
	}
	return out, nil
}

// ContactSchema is the structured contract for contact extraction.
var ContactSchema = ai.Schema{
	Name: "contact_info",
	Fields: []ai.Field{
		{Name: "company_name", Type: ai.FieldString},
		{Name: "contact_person", Type: ai.FieldString},
		{Name: "job_title", Type: ai.FieldString},
		{Name: "location", Type: ai.FieldString},
		{Name: "salary_range", Type: ai.FieldString},
		{Name: "next_steps", Type: ai.FieldString},
	},
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
