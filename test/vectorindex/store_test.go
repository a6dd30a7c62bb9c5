package vectorindex_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/learnstack/tutord/internal/embedding"
	"github.com/learnstack/tutord/internal/model"
	appErr "github.com/learnstack/tutord/internal/pkg/errors"
	"github.com/learnstack/tutord/internal/vectorindex"
	"github.com/learnstack/tutord/test/testutil"
)

// axis builds a unit vector along one dimension so cosine distances in the
// tests are exact: same axis scores 1, orthogonal axes score 0.
func axis(dim int) []float32 {
	vec := make([]float32, embedding.DefaultDimension)
	vec[dim] = 1
	return vec
}

func doc(classID, sourceID string, sourceType model.SourceType, index, dim int) model.VectorDocument {
	return model.VectorDocument{
		Chunk: model.ContentChunk{
			ID:         model.ChunkID(sourceID, index),
			ClassID:    classID,
			SourceType: sourceType,
			SourceID:   sourceID,
			ChunkIndex: index,
			Text:       "chunk text",
		},
		Embedding: axis(dim),
	}
}

func TestStoreSearchRanksAndFilters(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	ctx := context.Background()
	store := vectorindex.New(db, embedding.DefaultDimension)

	require.NoError(t, store.Upsert(ctx, []model.VectorDocument{
		doc("class-1", "audio-1", model.SourceAudio, 0, 0),
		doc("class-1", "audio-1", model.SourceAudio, 1, 1),
		doc("class-1", "book-1", model.SourceTextbook, 0, 0),
	}))

	results, err := store.Search(ctx, "class-1", axis(0), 10, vectorindex.Filter{})
	require.NoError(t, err)
	require.Len(t, results, 3)
	// Exact matches first with score 1, orthogonal chunk last with 0.
	require.InDelta(t, 1.0, results[0].Score, 1e-4)
	require.InDelta(t, 0.0, results[2].Score, 1e-4)
	require.Equal(t, model.ChunkID("audio-1", 1), results[2].Chunk.ID)

	filtered, err := store.Search(ctx, "class-1", axis(0), 10, vectorindex.Filter{SourceType: model.SourceTextbook})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	require.Equal(t, "book-1", filtered[0].Chunk.SourceID)

	bySource, err := store.Search(ctx, "class-1", axis(0), 10, vectorindex.Filter{SourceID: "audio-1"})
	require.NoError(t, err)
	require.Len(t, bySource, 2)
}

func TestStoreSearchDropsZeroEmbeddingRows(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	ctx := context.Background()
	store := vectorindex.New(db, embedding.DefaultDimension)

	// Degraded ingestion stores all-zero embeddings. Cosine distance
	// against those is NaN, which must never reach callers as a score.
	zero := doc("class-1", "audio-2", model.SourceAudio, 0, 0)
	zero.Embedding = make([]float32, embedding.DefaultDimension)
	require.NoError(t, store.Upsert(ctx, []model.VectorDocument{
		doc("class-1", "audio-1", model.SourceAudio, 0, 0),
		zero,
	}))

	results, err := store.Search(ctx, "class-1", axis(0), 10, vectorindex.Filter{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "audio-1", results[0].Chunk.SourceID)
	require.False(t, math.IsNaN(float64(results[0].Score)))
}

func TestStorePartitionIsolation(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	ctx := context.Background()
	store := vectorindex.New(db, embedding.DefaultDimension)

	require.NoError(t, store.Upsert(ctx, []model.VectorDocument{doc("class-1", "audio-1", model.SourceAudio, 0, 0)}))
	require.NoError(t, store.Upsert(ctx, []model.VectorDocument{doc("class-2", "audio-2", model.SourceAudio, 0, 0)}))

	results, err := store.Search(ctx, "class-1", axis(0), 10, vectorindex.Filter{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "audio-1", results[0].Chunk.SourceID)
}

func TestStoreUpsertReplacesById(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	ctx := context.Background()
	store := vectorindex.New(db, embedding.DefaultDimension)

	first := doc("class-1", "audio-1", model.SourceAudio, 0, 0)
	require.NoError(t, store.Upsert(ctx, []model.VectorDocument{first}))

	second := first
	second.Chunk.Text = "revised text"
	second.Embedding = axis(1)
	require.NoError(t, store.Upsert(ctx, []model.VectorDocument{second}))

	count, err := store.Count(ctx, "class-1")
	require.NoError(t, err)
	require.Equal(t, 1, count)

	results, err := store.Search(ctx, "class-1", axis(1), 1, vectorindex.Filter{})
	require.NoError(t, err)
	require.Equal(t, "revised text", results[0].Chunk.Text)
	require.InDelta(t, 1.0, results[0].Score, 1e-4)
}

func TestStoreUpsertRejectsMixedBatch(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	ctx := context.Background()
	store := vectorindex.New(db, embedding.DefaultDimension)

	err := store.Upsert(ctx, []model.VectorDocument{
		doc("class-1", "audio-1", model.SourceAudio, 0, 0),
		doc("class-2", "audio-2", model.SourceAudio, 0, 1),
	})
	require.ErrorIs(t, err, appErr.ErrInvalid)

	short := doc("class-1", "audio-1", model.SourceAudio, 0, 0)
	short.Embedding = []float32{1, 0}
	require.ErrorIs(t, store.Upsert(ctx, []model.VectorDocument{short}), appErr.ErrInvalid)
}

func TestStoreDeleteBySourceAndPartition(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	ctx := context.Background()
	store := vectorindex.New(db, embedding.DefaultDimension)

	require.NoError(t, store.Upsert(ctx, []model.VectorDocument{
		doc("class-1", "audio-1", model.SourceAudio, 0, 0),
		doc("class-1", "audio-1", model.SourceAudio, 1, 1),
		doc("class-1", "book-1", model.SourceTextbook, 0, 2),
	}))

	require.NoError(t, store.DeleteBySource(ctx, "class-1", "audio-1"))
	count, err := store.Count(ctx, "class-1")
	require.NoError(t, err)
	require.Equal(t, 1, count)

	require.NoError(t, store.DeletePartition(ctx, "class-1"))
	count, err = store.Count(ctx, "class-1")
	require.NoError(t, err)
	require.Zero(t, count)

	// Absent partition deletes are a no-op, not an error.
	require.NoError(t, store.DeletePartition(ctx, "class-1"))
}
