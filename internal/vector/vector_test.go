package vector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerr "github.com/urdimbre/urdimbre-go/internal/errors"
)

// The tenant guards reject an empty project before any backend call, so a
// zero-value index is enough to exercise them.
func TestQdrantIndexRequiresTenant(t *testing.T) {
	ctx := context.Background()
	q := &QdrantIndex{}

	_, err := q.Search(ctx, SearchParams{})
	require.Error(t, err)
	assert.Equal(t, qerr.KindValidation, qerr.KindOf(err))

	_, _, err = q.Discover(ctx, DiscoverParams{})
	require.Error(t, err)
	assert.Equal(t, qerr.KindValidation, qerr.KindOf(err))

	_, err = q.ListFragmentIDs(ctx, "")
	require.Error(t, err)
	assert.Equal(t, qerr.KindValidation, qerr.KindOf(err))

	err = q.DeleteByProject(ctx, "")
	require.Error(t, err)
	assert.Equal(t, qerr.KindValidation, qerr.KindOf(err))

	err = q.DeleteFragment(ctx, "", "f1")
	require.Error(t, err)
	assert.Equal(t, qerr.KindValidation, qerr.KindOf(err))
}

func TestDiscoverRequiresPositiveExamples(t *testing.T) {
	q := &QdrantIndex{}
	_, _, err := q.Discover(context.Background(), DiscoverParams{ProjectID: "p1"})
	require.Error(t, err)
	assert.Equal(t, qerr.KindValidation, qerr.KindOf(err))
}

func TestMeanVector(t *testing.T) {
	assert.Nil(t, MeanVector(nil))

	got := MeanVector([][]float32{{1, 2}, {3, 4}})
	assert.InDeltaSlice(t, []float32{2, 3}, got, 1e-6)

	single := MeanVector([][]float32{{0.5, -0.5}})
	assert.InDeltaSlice(t, []float32{0.5, -0.5}, single, 1e-6)
}

func TestFallbackQuery(t *testing.T) {
	t.Run("no positives", func(t *testing.T) {
		assert.Nil(t, FallbackQuery(nil, [][]float32{{1, 1}}))
	})

	t.Run("positives only is centroid", func(t *testing.T) {
		got := FallbackQuery([][]float32{{1, 0}, {0, 1}}, nil)
		assert.InDeltaSlice(t, []float32{0.5, 0.5}, got, 1e-6)
	})

	t.Run("negatives pull away", func(t *testing.T) {
		got := FallbackQuery([][]float32{{1, 1}}, [][]float32{{1, 0}})
		// mean(pos) - 0.3*mean(neg)
		assert.InDeltaSlice(t, []float32{0.7, 1}, got, 1e-6)
	})
}

func TestBlendWithTarget(t *testing.T) {
	query := []float32{1, 0}
	target := []float32{0, 1}

	got := BlendWithTarget(query, target)
	assert.InDeltaSlice(t, []float32{0.7, 0.3}, got, 1e-6)

	assert.Equal(t, query, BlendWithTarget(query, nil))
	assert.Equal(t, target, BlendWithTarget(nil, target))
}

func TestBuildContextPairs(t *testing.T) {
	p1 := []float32{1}
	p2 := []float32{2}
	n1 := []float32{-1}
	n2 := []float32{-2}
	n3 := []float32{-3}

	t.Run("no positives yields nothing", func(t *testing.T) {
		assert.Nil(t, buildContextPairs(nil, [][]float32{n1}))
	})

	t.Run("balanced zip", func(t *testing.T) {
		pairs := buildContextPairs([][]float32{p1, p2}, [][]float32{n1, n2})
		assert.Len(t, pairs, 2)
		assert.Equal(t, p1, pairs[0].positive)
		assert.Equal(t, n1, pairs[0].negative)
		assert.Equal(t, p2, pairs[1].positive)
		assert.Equal(t, n2, pairs[1].negative)
	})

	t.Run("surplus negatives reuse the first positive", func(t *testing.T) {
		pairs := buildContextPairs([][]float32{p1}, [][]float32{n1, n2, n3})
		assert.Len(t, pairs, 3)
		assert.Equal(t, p1, pairs[1].positive)
		assert.Equal(t, p1, pairs[2].positive)
		assert.Equal(t, n3, pairs[2].negative)
	})

	t.Run("surplus positives leave nil negatives", func(t *testing.T) {
		pairs := buildContextPairs([][]float32{p1, p2}, nil)
		assert.Len(t, pairs, 2)
		assert.Nil(t, pairs[0].negative)
	})
}
