package ai_test

import (
	"context"
	"errors"
	"testing"

	"github.com/poiesic/insightmail/ai"
	"github.com/poiesic/insightmail/ai/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdapter_Models(t *testing.T) {
	adapter := mock.NewAdapter(mock.NewMockBackend())

	models, err := adapter.Models(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"primary", "backup", "test-embed"}, models)
}

func TestAdapter_Health(t *testing.T) {
	tests := []struct {
		name      string
		served    []string
		status    ai.HealthStatus
		active    string
		missing   []string
		embedding bool
	}{
		{
			name:      "primary and embedding served",
			served:    []string{"primary", "backup", "test-embed"},
			status:    ai.Healthy,
			active:    "primary",
			embedding: true,
		},
		{
			name:      "latest tag matches untagged model",
			served:    []string{"primary:latest", "test-embed:latest"},
			status:    ai.Healthy,
			active:    "primary",
			missing:   []string{"backup"},
			embedding: true,
		},
		{
			name:      "only the fallback is served",
			served:    []string{"backup", "test-embed"},
			status:    ai.Degraded,
			active:    "backup",
			missing:   []string{"primary"},
			embedding: true,
		},
		{
			name:    "embedding model missing",
			served:  []string{"primary", "backup"},
			status:  ai.Degraded,
			active:  "primary",
			missing: []string{"test-embed"},
		},
		{
			name:    "no generation model served",
			served:  []string{"something-else"},
			status:  ai.Unavailable,
			missing: []string{"primary", "backup", "test-embed"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := mock.NewAdapter(mock.NewMockBackend().WithModels(tt.served, nil))

			h := adapter.Health(context.Background())
			require.NoError(t, h.Err)
			assert.Equal(t, tt.status, h.Status)
			assert.Equal(t, tt.active, h.ActiveModel)
			assert.Equal(t, tt.missing, h.Missing)
			assert.Equal(t, tt.embedding, h.EmbeddingReady)
			assert.Equal(t, tt.served, h.Available)
		})
	}
}

func TestAdapter_HealthEndpointDown(t *testing.T) {
	down := errors.New("connection refused")
	adapter := mock.NewAdapter(mock.NewMockBackend().WithModels(nil, down))

	h := adapter.Health(context.Background())
	assert.Equal(t, ai.Unavailable, h.Status)
	assert.ErrorIs(t, h.Err, down)
	assert.Equal(t, "unavailable: connection refused", h.String())
}
