package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/poiesic/insightmail/ai"
)

// duration decodes TOML strings such as "500ms" or "1m30s".
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(v)
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

type aiSection struct {
	Host              string   `toml:"host"`
	EmbeddingHost     string   `toml:"embedding_host"`
	GenerationHost    string   `toml:"generation_host"`
	EmbeddingModel    string   `toml:"embedding_model"`
	GenerationModels  []string `toml:"generation_models"`
	MaxRetries        int      `toml:"max_retries"`
	InitialBackoff    duration `toml:"initial_backoff"`
	MaxBackoff        duration `toml:"max_backoff"`
	BackoffMultiplier float64  `toml:"backoff_multiplier"`
	CallTimeout       duration `toml:"call_timeout"`
	MaxConcurrency    int      `toml:"max_concurrency"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
}

type ingestSection struct {
	Concurrency int `toml:"concurrency"`
}

type searchSection struct {
	ContextBudget int     `toml:"context_budget"`
	SnippetRunes  int     `toml:"snippet_runes"`
	MinScore      float32 `toml:"min_score"`
}

// config is the on-disk configuration. Unset keys keep their defaults and
// command-line flags override both.
//
//	db = "./mail_db"
//
//	[ai]
//	host = "http://localhost:11434"
//	embedding_model = "nomic-embed-text"
//	generation_models = ["llama3.1:8b", "qwen2.5:3b"]
//	call_timeout = "90s"
//
//	[ingest]
//	concurrency = 2
type config struct {
	DB     string        `toml:"db"`
	AI     aiSection     `toml:"ai"`
	Ingest ingestSection `toml:"ingest"`
	Search searchSection `toml:"search"`
}

func defaultConfig() *config {
	d := ai.DefaultConfig()
	return &config{
		AI: aiSection{
			EmbeddingHost:     d.EmbeddingHost,
			GenerationHost:    d.GenerationHost,
			EmbeddingModel:    d.EmbeddingModel,
			GenerationModels:  d.GenerationModels,
			MaxRetries:        d.MaxRetries,
			InitialBackoff:    duration(d.InitialBackoff),
			MaxBackoff:        duration(d.MaxBackoff),
			BackoffMultiplier: d.BackoffMultiplier,
			CallTimeout:       duration(d.CallTimeout),
			MaxConcurrency:    d.MaxConcurrency,
		},
	}
}

// loadConfig reads path over the defaults. An empty path yields the defaults.
func loadConfig(path string) (*config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer f.Close()

	dec := toml.NewDecoder(f).DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return nil, fmt.Errorf("config %s: %s", path, strict.String())
		}
		var decodeErr *toml.DecodeError
		if errors.As(err, &decodeErr) {
			row, col := decodeErr.Position()
			return nil, fmt.Errorf("config %s:%d:%d: %w", path, row, col, err)
		}
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// aiConfig converts the [ai] section. A shared host overrides both
// per-service hosts.
func (c *config) aiConfig() *ai.Config {
	s := c.AI
	cfg := ai.NewConfig(
		ai.WithEmbeddingHost(s.EmbeddingHost),
		ai.WithGenerationHost(s.GenerationHost),
		ai.WithEmbeddingModel(s.EmbeddingModel),
		ai.WithGenerationModels(s.GenerationModels...),
		ai.WithMaxRetries(s.MaxRetries),
		ai.WithBackoff(time.Duration(s.InitialBackoff), time.Duration(s.MaxBackoff), s.BackoffMultiplier),
		ai.WithCallTimeout(time.Duration(s.CallTimeout)),
		ai.WithMaxConcurrency(s.MaxConcurrency),
		ai.WithRequestsPerSecond(s.RequestsPerSecond),
	)
	if s.Host != "" {
		ai.WithHost(s.Host)(cfg)
	}
	cfg.Normalize()
	return cfg
}
