package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticEdges []CoOccurrenceEdge

func (s staticEdges) CoOccurrenceGraph(_ context.Context, _ string) ([]CoOccurrenceEdge, error) {
	return s, nil
}

// Two dense clusters bridged by a single edge.
func clusteredEdges() staticEdges {
	return staticEdges{
		{CodeA: "desarraigo", CodeB: "migracion", Weight: 4},
		{CodeA: "desarraigo", CodeB: "nostalgia", Weight: 3},
		{CodeA: "migracion", CodeB: "nostalgia", Weight: 2},
		{CodeA: "vivienda", CodeB: "hacinamiento", Weight: 5},
		{CodeA: "vivienda", CodeB: "alquiler", Weight: 3},
		{CodeA: "hacinamiento", CodeB: "alquiler", Weight: 2},
		{CodeA: "nostalgia", CodeB: "vivienda", Weight: 1},
	}
}

func TestMemoryEnginePageRank(t *testing.T) {
	e := NewMemoryEngine(clusteredEdges())

	res, err := e.PageRank(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "pagerank", res.Algorithm)
	assert.Equal(t, 6, res.Nodes)
	assert.Len(t, res.Centrality, 6)

	sum := 0.0
	for _, v := range res.Centrality {
		assert.Greater(t, v, 0.0)
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 0.01)
}

func TestMemoryEngineBetweenness(t *testing.T) {
	e := NewMemoryEngine(clusteredEdges())

	res, err := e.Betweenness(context.Background(), "p1")
	require.NoError(t, err)

	// The bridge endpoints carry all cross-cluster shortest paths.
	assert.Greater(t, res.Centrality["nostalgia"], res.Centrality["migracion"])
	assert.Greater(t, res.Centrality["vivienda"], res.Centrality["alquiler"])
}

func TestMemoryEngineLouvain(t *testing.T) {
	e := NewMemoryEngine(clusteredEdges())

	res, err := e.Louvain(context.Background(), "p1")
	require.NoError(t, err)
	assert.Len(t, res.Communities, 6)

	// Cluster members land together.
	assert.Equal(t, res.Communities["desarraigo"], res.Communities["migracion"])
	assert.Equal(t, res.Communities["vivienda"], res.Communities["hacinamiento"])
	assert.NotEqual(t, res.Communities["desarraigo"], res.Communities["vivienda"])
}

func TestMemoryEngineLeidenFallsBackToLouvain(t *testing.T) {
	e := NewMemoryEngine(clusteredEdges())

	res, err := e.Leiden(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "leiden(louvain)", res.Algorithm)
	assert.Len(t, res.Communities, 6)
}

func TestMemoryEngineEmptyProject(t *testing.T) {
	e := NewMemoryEngine(staticEdges{})

	res, err := e.Louvain(context.Background(), "vacio")
	require.NoError(t, err)
	assert.Empty(t, res.Communities)
	assert.Zero(t, res.Nodes)
}
