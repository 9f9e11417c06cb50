package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
}

func TestGetSetRoundtrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	type payload struct {
		Vector []float32 `json:"vector"`
	}

	found, err := c.Get(ctx, "emb:missing", &payload{})
	require.NoError(t, err)
	assert.False(t, found)

	want := payload{Vector: []float32{0.1, 0.2, 0.3}}
	require.NoError(t, c.Set(ctx, "emb:k1", want))

	var got payload
	found, err = c.Get(ctx, "emb:k1", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, want, got)
}

func TestDeletePattern(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "emb:model-a:h1", 1))
	require.NoError(t, c.Set(ctx, "emb:model-a:h2", 2))
	require.NoError(t, c.Set(ctx, "emb:model-b:h1", 3))

	deleted, err := c.DeletePattern(ctx, "emb:model-a:*")
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	var v int
	found, err := c.Get(ctx, "emb:model-b:h1", &v)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestEmbeddingKeyStable(t *testing.T) {
	k1 := EmbeddingKey("text-embedding-3-small", "hola mundo")
	k2 := EmbeddingKey("text-embedding-3-small", "hola mundo")
	k3 := EmbeddingKey("text-embedding-3-small", "adios mundo")

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.Contains(t, k1, "emb:text-embedding-3-small:")
}
