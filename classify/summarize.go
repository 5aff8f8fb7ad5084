package classify

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/poiesic/insightmail/ai"
	"github.com/poiesic/insightmail/core"
)

// EmptyInboxSummary is returned for an empty record set without calling the model.
const EmptyInboxSummary = "No emails to summarize yet."

// maxReduceRounds stops condensing when the model does not shrink its input.
const maxReduceRounds = 4

var (
	mapOptions    = ai.GenerateOptions{Temperature: 0.3, MaxTokens: 300}
	reportOptions = ai.GenerateOptions{Temperature: 0.4, MaxTokens: 500}
)

// SummarizeInbox produces a progress report over records of any size.
// Records are rendered to digest lines and packed into batches under the
// context budget; each batch is summarized, and the batch summaries are
// condensed again until they fit one final report prompt.
func (c *Classifier) SummarizeInbox(ctx context.Context, records []*core.EmailRecord) (string, error) {
	if len(records) == 0 {
		return EmptyInboxSummary, nil
	}

	sorted := slices.Clone(records)
	slices.SortStableFunc(sorted, func(a, b *core.EmailRecord) int {
		return a.ReceivedAt.Compare(b.ReceivedAt)
	})

	lines := make([]string, len(sorted))
	for i, r := range sorted {
		lines[i] = DigestLine(r)
	}

	budget := c.activityBudget()
	round := 0
	for totalRunes(lines) > budget {
		if round >= maxReduceRounds {
			c.logger.Warn("summaries still exceed budget, truncating", "rounds", round)
			lines = fitLines(lines, budget)
			break
		}
		round++

		batches := PackBatches(lines, budget)
		c.logger.Debug("summarizing batches", "round", round, "batches", len(batches))
		prompts := make([]string, len(batches))
		for i, b := range batches {
			prompts[i] = batchPrompt(b, round == 1)
		}

		results := c.generator.GenerateBatch(ctx, prompts, mapOptions)
		var errs []error
		next := make([]string, 0, len(results))
		for i, res := range results {
			if res.Err != nil {
				errs = append(errs, fmt.Errorf("batch %d: %w", i, res.Err))
				continue
			}
			next = append(next, strings.TrimSpace(res.Text))
		}
		if len(errs) > 0 {
			return "", errors.Join(errs...)
		}
		lines = next
	}

	prompt := reportPrompt(strings.Join(lines, "\n\n"), ComputeStats(records))
	report, err := c.generator.Generate(ctx, prompt, reportOptions)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(report), nil
}

// activityBudget leaves room in the report prompt for instructions and statistics.
func (c *Classifier) activityBudget() int {
	return c.contextBudget * 3 / 4
}

// DigestLine renders a record as a compact line for summarization.
func DigestLine(r *core.EmailRecord) string {
	date := "unknown"
	if !r.ReceivedAt.IsZero() {
		date = r.ReceivedAt.Format("2006-01-02")
	}
	summary := r.Summary
	if summary == "" {
		summary = truncateRunes(strings.Join(strings.Fields(r.BodyText), " "), 120)
	}
	return fmt.Sprintf("%s | %s | %s | %s | %s", date, r.Category, Address(r.Sender), r.Subject, summary)
}

// PackBatches greedily groups lines so each group's rune count stays within
// budget. A single line longer than budget is truncated into its own group.
func PackBatches(lines []string, budget int) [][]string {
	var batches [][]string
	var current []string
	size := 0
	for _, line := range lines {
		n := runeLen(line) + 1
		if n > budget {
			line = truncateRunes(line, budget-1)
			n = budget
		}
		if size+n > budget && len(current) > 0 {
			batches = append(batches, current)
			current, size = nil, 0
		}
		current = append(current, line)
		size += n
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

// fitLines keeps leading lines while they fit budget.
func fitLines(lines []string, budget int) []string {
	size := 0
	for i, line := range lines {
		size += runeLen(line) + 1
		if size > budget {
			if i == 0 {
				return []string{truncateRunes(line, budget-1)}
			}
			return lines[:i]
		}
	}
	return lines
}

func totalRunes(lines []string) int {
	n := 0
	for _, l := range lines {
		n += runeLen(l) + 1
	}
	return n
}

func runeLen(s string) int {
	return len([]rune(s))
}

func batchPrompt(lines []string, raw bool) string {
	var sb strings.Builder
	if raw {
		sb.WriteString("Summarize the following job-search emails in a short paragraph. ")
		sb.WriteString("Each line is: date | category | sender | subject | summary. ")
		sb.WriteString("Keep company names, dates, interviews and offers.\n\n")
	} else {
		sb.WriteString("Condense the following job-search activity summaries into one short paragraph. ")
		sb.WriteString("Keep company names, dates, interviews and offers.\n\n")
	}
	sb.WriteString(strings.Join(lines, "\n"))
	return sb.String()
}

func reportPrompt(activity string, stats PipelineStats) string {
	var sb strings.Builder
	sb.WriteString("You are a career advisor analyzing a user's job search email activity.\n")
	sb.WriteString("Create a concise progress report.\n\n")
	sb.WriteString("Email activity:\n")
	sb.WriteString(activity)
	sb.WriteString("\n\nPipeline statistics:\n")
	sb.WriteString(stats.String())
	sb.WriteString("\n\nCover:\n")
	sb.WriteString("1. Overall progress\n")
	sb.WriteString("2. Key highlights (interviews, offers)\n")
	sb.WriteString("3. Action items\n")
	sb.WriteString("4. Pipeline health (application-to-response ratio)\n\n")
	sb.WriteString("Keep it professional, encouraging and actionable, 200 to 300 words.")
	return sb.String()
}
