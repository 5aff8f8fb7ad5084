// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "insightmail",
		Usage: "Classify, index and query job-search email with a local language model",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to TOML configuration file",
			},
			&cli.StringFlag{
				Name:    "db",
				Aliases: []string{"d"},
				Usage:   "Path to BadgerDB database directory (overrides config)",
			},
			&cli.StringFlag{
				Name:  "host",
				Usage: "Inference service host URL for both embedding and generation (overrides config)",
			},
			&cli.StringSliceFlag{
				Name:  "generation-model",
				Usage: "Generation model, repeat for fallbacks in order (overrides config)",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "ingest",
				Usage:     "Classify, store and index emails from a JSON file",
				ArgsUsage: "FILE",
				Action:    ingestCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "concurrency",
						Usage: "Number of emails processed in parallel (overrides config)",
					},
				},
			},
			{
				Name:      "ask",
				Usage:     "Answer a question from the stored emails",
				ArgsUsage: "QUESTION",
				Action:    askCommand,
				Flags: append([]cli.Flag{
					&cli.IntFlag{
						Name:    "top-k",
						Aliases: []string{"k"},
						Usage:   "Number of emails used as context",
						Value:   5,
					},
					&cli.BoolFlag{
						Name:  "sources-only",
						Usage: "Print the matching emails without generating an answer",
					},
				}, filterFlags()...),
			},
			{
				Name:      "classify",
				Usage:     "Classify emails from a JSON file without storing them",
				ArgsUsage: "FILE",
				Action:    classifyCommand,
			},
			{
				Name:      "reclassify",
				Usage:     "Classify stored emails again and update their category",
				ArgsUsage: "ID...",
				Action:    reclassifyCommand,
			},
			{
				Name:      "contact",
				Usage:     "Extract contact details from a stored email",
				ArgsUsage: "ID",
				Action:    contactCommand,
			},
			{
				Name:   "health",
				Usage:  "Check which configured models the inference service serves",
				Action: healthCommand,
			},
			{
				Name:   "models",
				Usage:  "List the models the inference service serves",
				Action: modelsCommand,
			},
			{
				Name:   "summarize",
				Usage:  "Write a progress report over the stored emails",
				Action: summarizeCommand,
				Flags:  filterFlags(),
			},
			{
				Name:   "followups",
				Usage:  "List applications that need a follow-up and suggested next steps",
				Action: followUpsCommand,
			},
			{
				Name:   "stats",
				Usage:  "Show pipeline statistics and job-search progress",
				Action: statsCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "days",
						Usage: "Length of the progress window in days",
						Value: 30,
					},
				},
			},
			{
				Name:      "purge",
				Usage:     "Delete emails and their vectors",
				ArgsUsage: "ID...",
				Action:    purgeCommand,
			},
			{
				Name:   "reembed",
				Usage:  "Reembed all stored emails with a new embedding model",
				Action: reembedCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "embedding-model",
						Usage:    "Embedding model name",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of records to process in each batch",
						Value: 100,
					},
					&cli.IntFlag{
						Name:  "report-interval",
						Usage: "Report progress every N records",
						Value: 100,
					},
					&cli.IntFlag{
						Name:  "max-retries",
						Usage: "Maximum retry attempts for failed operations",
						Value: 3,
					},
					&cli.DurationFlag{
						Name:  "retry-delay",
						Usage: "Base delay for exponential backoff",
						Value: 1 * time.Second,
					},
				},
			},
		},
	}
}

func setupLogger(c *cli.Context) error {
	// Get log level from flag and normalize to lowercase
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
