package ai

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// HealthStatus summarizes whether the endpoint can serve the configured models.
type HealthStatus int

const (
	// Unavailable means the endpoint did not answer or serves no configured generation model.
	Unavailable HealthStatus = iota
	// Degraded means generation works only through a fallback model, or the
	// embedding model is missing.
	Degraded
	// Healthy means the primary generation model and the embedding model are served.
	Healthy
)

func (s HealthStatus) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	default:
		return "unavailable"
	}
}

// Health is a point-in-time report on the inference endpoint.
type Health struct {
	Status HealthStatus
	// ActiveModel is the first model of the fallback table the endpoint serves.
	ActiveModel    string
	EmbeddingModel string
	EmbeddingReady bool
	// Missing lists configured models the endpoint does not serve.
	Missing   []string
	Available []string
	Err       error
}

func (h Health) String() string {
	if h.Err != nil {
		return fmt.Sprintf("%s: %v", h.Status, h.Err)
	}
	if h.ActiveModel == "" {
		return fmt.Sprintf("%s: no configured generation model served", h.Status)
	}
	return fmt.Sprintf("%s: using %s", h.Status, h.ActiveModel)
}

// Models lists the models the endpoint serves. The call is not retried.
func (a *Adapter) Models(ctx context.Context) ([]string, error) {
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer a.sem.Release(1)

	callCtx, cancel := context.WithTimeout(ctx, a.callTimeout)
	defer cancel()
	return a.backend.Models(callCtx)
}

// Health checks which configured models the endpoint serves. It never fails;
// an unreachable endpoint is reported as Unavailable with Err set.
func (a *Adapter) Health(ctx context.Context) Health {
	h := Health{EmbeddingModel: a.embedPolicy.Model}

	available, err := a.Models(ctx)
	if err != nil {
		a.logger.Warn("health check failed", "err", err)
		h.Err = err
		return h
	}
	h.Available = available

	for _, policy := range a.policies {
		if !served(available, policy.Model) {
			h.Missing = append(h.Missing, policy.Model)
			continue
		}
		if h.ActiveModel == "" {
			h.ActiveModel = policy.Model
		}
	}
	h.EmbeddingReady = served(available, h.EmbeddingModel)
	if !h.EmbeddingReady {
		h.Missing = append(h.Missing, h.EmbeddingModel)
	}

	switch {
	case h.ActiveModel == "":
		h.Status = Unavailable
	case h.ActiveModel == a.policies[0].Model && h.EmbeddingReady:
		h.Status = Healthy
	default:
		h.Status = Degraded
	}
	return h
}

// served matches model against available names. An untagged model also
// matches its ":latest" tag.
func served(available []string, model string) bool {
	if slices.Contains(available, model) {
		return true
	}
	return !strings.Contains(model, ":") && slices.Contains(available, model+":latest")
}
