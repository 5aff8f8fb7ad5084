package badger

import (
	"context"
	"errors"
	"testing"

	"github.com/poiesic/insightmail/core"
	"github.com/poiesic/insightmail/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertVector(t *testing.T) {
	emails, vectors := setupRepos(t)
	ctx := context.Background()

	record := newTestRecord("a@b.c", "body", testBase)
	_, err := emails.AddEmail(ctx, record)
	require.NoError(t, err)

	vec := &core.EmbeddingVector{RecordID: record.Id, Vector: []float32{0.6, 0.8}, ModelName: "nomic-embed-text"}
	require.NoError(t, vectors.UpsertVector(ctx, vec))

	got, err := vectors.GetVector(ctx, record.Id, "nomic-embed-text")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.6, 0.8}, got.Vector)

	// Replace under the same model.
	vec.Vector = []float32{1, 0}
	require.NoError(t, vectors.UpsertVector(ctx, vec))
	got, err = vectors.GetVector(ctx, record.Id, "nomic-embed-text")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, got.Vector)

	_, err = vectors.GetVector(ctx, record.Id, "other-model")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUpsertVector_RequiresRecord(t *testing.T) {
	_, vectors := setupRepos(t)

	err := vectors.UpsertVector(context.Background(), &core.EmbeddingVector{
		RecordID:  core.ID(99),
		Vector:    []float32{1},
		ModelName: "m",
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = vectors.UpsertVector(context.Background(), &core.EmbeddingVector{RecordID: 1, ModelName: "m"})
	assert.ErrorIs(t, err, storage.ErrRecordRequired)
}

func TestForEachVector(t *testing.T) {
	emails, vectors := setupRepos(t)
	ctx := context.Background()

	var ids []core.ID
	for _, body := range []string{"one", "two", "three"} {
		record := newTestRecord("a@b.c", body, testBase)
		_, err := emails.AddEmail(ctx, record)
		require.NoError(t, err)
		ids = append(ids, record.Id)
		require.NoError(t, vectors.UpsertVector(ctx, &core.EmbeddingVector{RecordID: record.Id, Vector: []float32{1}, ModelName: "m1"}))
	}
	require.NoError(t, vectors.UpsertVector(ctx, &core.EmbeddingVector{RecordID: ids[0], Vector: []float32{1}, ModelName: "m2"}))

	var seen []core.ID
	err := vectors.ForEachVector(ctx, "m1", func(v *core.EmbeddingVector) error {
		assert.Equal(t, "m1", v.ModelName)
		seen = append(seen, v.RecordID)
		return nil
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, ids, seen)

	count := 0
	require.NoError(t, vectors.ForEachVector(ctx, "m2", func(*core.EmbeddingVector) error {
		count++
		return nil
	}))
	assert.Equal(t, 1, count)

	stop := errors.New("stop")
	calls := 0
	err = vectors.ForEachVector(ctx, "m1", func(*core.EmbeddingVector) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)

	require.NoError(t, vectors.DeleteVectors(ctx, ids[0]))
	_, err = vectors.GetVector(ctx, ids[0], "m2")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
