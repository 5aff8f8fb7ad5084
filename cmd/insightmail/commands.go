package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/poiesic/insightmail"
	"github.com/poiesic/insightmail/ai"
	"github.com/poiesic/insightmail/ai/openai"
	"github.com/poiesic/insightmail/core"
	"github.com/poiesic/insightmail/reembed"
	"github.com/poiesic/insightmail/search"
	"github.com/urfave/cli/v2"
)

// newBackend builds the inference backend for a command.
var newBackend = openai.NewBackend

const dateLayout = "2006-01-02"

func filterFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:  "category",
			Usage: "Only consider emails in this category (repeatable)",
		},
		&cli.StringFlag{
			Name:  "account",
			Usage: "Only consider emails of this mailbox",
		},
		&cli.TimestampFlag{
			Name:   "since",
			Usage:  "Only consider emails received on or after this date (YYYY-MM-DD)",
			Layout: dateLayout,
		},
		&cli.TimestampFlag{
			Name:   "before",
			Usage:  "Only consider emails received before this date (YYYY-MM-DD)",
			Layout: dateLayout,
		},
	}
}

func filterFrom(c *cli.Context) (core.Filter, error) {
	var filter core.Filter
	for _, name := range c.StringSlice("category") {
		category, err := core.ParseCategory(name)
		if err != nil {
			return core.Filter{}, err
		}
		filter.Categories = append(filter.Categories, category)
	}
	filter.Account = c.String("account")
	if since := c.Timestamp("since"); since != nil {
		filter.From = *since
	}
	if before := c.Timestamp("before"); before != nil {
		filter.To = *before
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && !filter.From.Before(filter.To) {
		return core.Filter{}, fmt.Errorf("--since must be before --before")
	}
	return filter, nil
}

// settings loads the config file and applies global flag overrides.
func settings(c *cli.Context) (*config, error) {
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return nil, err
	}
	if c.IsSet("db") {
		cfg.DB = c.String("db")
	}
	if c.IsSet("host") {
		cfg.AI.Host = c.String("host")
	}
	if c.IsSet("generation-model") {
		cfg.AI.GenerationModels = c.StringSlice("generation-model")
	}
	if cfg.DB == "" {
		return nil, errors.New("database path is required: set --db or db in the config file")
	}
	return cfg, nil
}

func openDatabase(c *cli.Context, cfg *config) (*insightmail.Database, error) {
	aiConfig := cfg.aiConfig()
	if err := aiConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid AI configuration: %w", err)
	}

	backend, err := newBackend(aiConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create inference backend: %w", err)
	}

	opts := []insightmail.DatabaseOption{
		insightmail.WithAIConfig(aiConfig),
		insightmail.WithInferenceBackend(backend),
	}
	concurrency := cfg.Ingest.Concurrency
	if c.IsSet("concurrency") {
		concurrency = c.Int("concurrency")
	}
	if concurrency > 0 {
		opts = append(opts, insightmail.WithIngestConcurrency(concurrency))
	}

	var searchOpts []search.Option
	if cfg.Search.ContextBudget > 0 {
		searchOpts = append(searchOpts, search.WithContextBudget(cfg.Search.ContextBudget))
	}
	if cfg.Search.SnippetRunes > 0 {
		searchOpts = append(searchOpts, search.WithSnippetRunes(cfg.Search.SnippetRunes))
	}
	if cfg.Search.MinScore > 0 {
		searchOpts = append(searchOpts, search.WithMinScore(cfg.Search.MinScore))
	}
	opts = append(opts, insightmail.WithSearchOptions(searchOpts...))

	db, err := insightmail.NewDatabase(cfg.DB, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

func withDatabase(c *cli.Context, fn func(db *insightmail.Database) error) error {
	cfg, err := settings(c)
	if err != nil {
		return err
	}
	db, err := openDatabase(c, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}

// readEmails decodes a JSON array of emails, or a single email object.
func readEmails(path string) ([]*core.RawEmail, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var raw core.RawEmail
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", path, err)
		}
		return []*core.RawEmail{&raw}, nil
	}
	var raws []*core.RawEmail
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return raws, nil
}

func ingestCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("exactly one email file is required")
	}
	raws, err := readEmails(c.Args().First())
	if err != nil {
		return err
	}

	return withDatabase(c, func(db *insightmail.Database) error {
		report := db.IngestBatch(c.Context, raws)
		fmt.Fprintln(c.App.Writer, report.String())
		return report.Err()
	})
}

func askCommand(c *cli.Context) error {
	question := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if question == "" {
		return errors.New("a question is required")
	}
	filter, err := filterFrom(c)
	if err != nil {
		return err
	}

	return withDatabase(c, func(db *insightmail.Database) error {
		if c.Bool("sources-only") {
			sources, err := db.Search(c.Context, question, c.Int("top-k"), filter)
			if err != nil {
				return err
			}
			return printSources(c, db, sources)
		}

		result, err := db.AnswerQuery(c.Context, question, c.Int("top-k"), filter)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, result.Answer)
		if len(result.Sources) > 0 {
			fmt.Fprintln(c.App.Writer)
			fmt.Fprintln(c.App.Writer, "Sources:")
		}
		return printSources(c, db, result.Sources)
	})
}

func printSources(c *cli.Context, db *insightmail.Database, sources []core.Source) error {
	for _, source := range sources {
		record, err := db.EmailRepository().GetEmail(c.Context, source.RecordID)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "  [%d] %.3f %s | %s | %s\n", source.RecordID, source.Score,
			record.ReceivedAt.Format(dateLayout), record.Sender, record.Subject)
	}
	return nil
}

func classifyCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("exactly one email file is required")
	}
	raws, err := readEmails(c.Args().First())
	if err != nil {
		return err
	}
	if len(raws) == 0 {
		return errors.New("no emails found")
	}
	records := make([]*core.EmailRecord, len(raws))
	for i, raw := range raws {
		if err := core.ValidateRawEmail(raw); err != nil {
			return fmt.Errorf("email %d: %w", i+1, err)
		}
		records[i] = core.NewEmailRecord(raw)
	}

	return withDatabase(c, func(db *insightmail.Database) error {
		w := c.App.Writer
		if len(records) == 1 {
			printClassification(w, db.ClassifyOne(c.Context, records[0]))
			return nil
		}
		for i, result := range db.ClassifyBatch(c.Context, records) {
			if i > 0 {
				fmt.Fprintln(w)
			}
			fmt.Fprintf(w, "Subject:    %s\n", records[i].Subject)
			printClassification(w, result)
		}
		return nil
	})
}

func printClassification(w io.Writer, result core.ClassificationResult) {
	fmt.Fprintf(w, "Category:   %s\n", result.Category)
	fmt.Fprintf(w, "Confidence: %.2f\n", result.Confidence)
	fmt.Fprintf(w, "Method:     %s\n", result.Method)
	fmt.Fprintf(w, "Summary:    %s\n", result.Summary)
	for _, key := range slices.Sorted(maps.Keys(result.ExtractedFields)) {
		fmt.Fprintf(w, "  %s: %s\n", key, result.ExtractedFields[key])
	}
}

func reclassifyCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("at least one email id is required")
	}
	ids, err := parseIDs(c.Args().Slice())
	if err != nil {
		return err
	}
	return withDatabase(c, func(db *insightmail.Database) error {
		for _, id := range ids {
			record, err := db.Reclassify(c.Context, id)
			if err != nil {
				return fmt.Errorf("email %d: %w", id, err)
			}
			fmt.Fprintf(c.App.Writer, "[%d] %s (%.2f, %s) %s\n", record.Id, record.Category,
				record.Confidence, record.ClassifiedBy, record.Summary)
		}
		return nil
	})
}

func contactCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("exactly one email id is required")
	}
	ids, err := parseIDs(c.Args().Slice())
	if err != nil {
		return err
	}
	return withDatabase(c, func(db *insightmail.Database) error {
		contact, err := db.ExtractContact(c.Context, ids[0])
		if err != nil {
			return err
		}
		if len(contact) == 0 {
			fmt.Fprintln(c.App.Writer, "No contact details found.")
			return nil
		}
		for _, key := range slices.Sorted(maps.Keys(contact)) {
			fmt.Fprintf(c.App.Writer, "%s: %s\n", key, contact[key])
		}
		return nil
	})
}

func healthCommand(c *cli.Context) error {
	return withDatabase(c, func(db *insightmail.Database) error {
		w := c.App.Writer
		h := db.Health(c.Context)
		fmt.Fprintln(w, h.String())
		if len(h.Missing) > 0 {
			fmt.Fprintf(w, "missing: %s\n", strings.Join(h.Missing, ", "))
		}
		if h.Status == ai.Unavailable {
			return errors.New("inference service unavailable")
		}
		return nil
	})
}

func modelsCommand(c *cli.Context) error {
	return withDatabase(c, func(db *insightmail.Database) error {
		models, err := db.Models(c.Context)
		if err != nil {
			return fmt.Errorf("failed to list models: %w", err)
		}
		for _, m := range models {
			fmt.Fprintln(c.App.Writer, m)
		}
		return nil
	})
}

func summarizeCommand(c *cli.Context) error {
	filter, err := filterFrom(c)
	if err != nil {
		return err
	}
	return withDatabase(c, func(db *insightmail.Database) error {
		summary, err := db.SummarizeInbox(c.Context, filter)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, summary)
		return nil
	})
}

func followUpsCommand(c *cli.Context) error {
	return withDatabase(c, func(db *insightmail.Database) error {
		now := time.Now()
		w := c.App.Writer

		followUps, err := db.FollowUps(c.Context, now)
		if err != nil {
			return err
		}
		if len(followUps) == 0 {
			fmt.Fprintln(w, "No follow-ups needed.")
		}
		for _, f := range followUps {
			fmt.Fprintf(w, "- %s: %q sent %s (%d days ago)\n", f.Counterparty, f.Subject,
				f.SentAt.Format(dateLayout), f.DaysSince)
		}

		suggestions, err := db.SuggestActions(c.Context, now)
		if err != nil {
			return err
		}
		if len(suggestions) > 0 {
			fmt.Fprintln(w)
			fmt.Fprintln(w, "Suggested actions:")
		}
		for _, s := range suggestions {
			fmt.Fprintf(w, "  [%s] %s (%s)\n", s.Priority, s.Action, s.Reasoning)
		}
		return nil
	})
}

func statsCommand(c *cli.Context) error {
	days := c.Int("days")
	if days <= 0 {
		return fmt.Errorf("days must be greater than 0")
	}
	return withDatabase(c, func(db *insightmail.Database) error {
		w := c.App.Writer
		stats, err := db.Stats(c.Context)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "Emails by category:")
		fmt.Fprintln(w, stats.String())
		fmt.Fprintf(w, "Processed: %d, pending: %d\n", stats.Processed, stats.Pending)

		indexStats := db.IndexStats()
		fmt.Fprintf(w, "Searchable: %d (%s, %d dimensions)\n", indexStats.Count, indexStats.Model, indexStats.Dimension)

		progress, err := db.Progress(c.Context, time.Now(), days)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "\nLast %d days: %d emails from %d companies\n", progress.PeriodDays, progress.TotalEmails, progress.UniqueCompanies)
		fmt.Fprintf(w, "  applications: %d, responses: %d, interviews: %d, offers: %d, rejections: %d\n",
			progress.Applications, progress.Responses, progress.Interviews, progress.Offers, progress.Rejections)
		fmt.Fprintf(w, "  response rate: %.1f%%, interview rate: %.1f%%, offer rate: %.1f%%\n",
			progress.ResponseRate, progress.InterviewRate, progress.OfferRate)
		return nil
	})
}

func parseIDs(args []string) ([]core.ID, error) {
	ids := make([]core.ID, 0, len(args))
	for _, arg := range args {
		n, err := strconv.ParseUint(arg, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid email id %q", arg)
		}
		ids = append(ids, core.ID(n))
	}
	return ids, nil
}

func purgeCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("at least one email id is required")
	}
	ids, err := parseIDs(c.Args().Slice())
	if err != nil {
		return err
	}
	return withDatabase(c, func(db *insightmail.Database) error {
		if err := db.Purge(c.Context, ids...); err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "Purged %d emails\n", len(ids))
		return nil
	})
}

func reembedCommand(c *cli.Context) error {
	reembedConfig := &reembed.Config{
		BatchSize:      c.Int("batch-size"),
		ReportInterval: c.Int("report-interval"),
		MaxRetries:     c.Int("max-retries"),
		RetryDelay:     c.Duration("retry-delay"),
	}

	// Validate config
	if reembedConfig.BatchSize <= 0 {
		return fmt.Errorf("batch-size must be greater than 0")
	}
	if reembedConfig.ReportInterval <= 0 {
		return fmt.Errorf("report-interval must be greater than 0")
	}
	if reembedConfig.MaxRetries <= 0 {
		return fmt.Errorf("max-retries must be greater than 0")
	}

	return withDatabase(c, func(db *insightmail.Database) error {
		model := c.String("embedding-model")
		progress := c.App.ErrWriter
		reembedder, target, err := db.NewReembedder(model, reembedConfig, progress)
		if err != nil {
			return err
		}

		fmt.Fprintf(progress, "Embedding model: %s\n", model)
		fmt.Fprintln(progress)

		if err := reembedder.Run(c.Context); err != nil {
			return fmt.Errorf("reembedding failed: %w", err)
		}
		fmt.Fprintf(c.App.Writer, "%d emails indexed for %s. Set embedding_model = %q to search with it.\n",
			target.Len(), model, model)
		return nil
	})
}
