package llm

import (
	"context"
	"fmt"

	"github.com/urdimbre/urdimbre-go/internal/cache"
	qerr "github.com/urdimbre/urdimbre-go/internal/errors"
)

// embedBatchSize bounds one provider call; ingest feeds whole interviews.
const embedBatchSize = 64

// Embedder turns texts into vectors, reusing cached embeddings by content
// hash so re-ingesting an unchanged interview costs nothing.
type Embedder struct {
	client *Client
	cache  *cache.Client
	model  string
}

// NewEmbedder builds an embedder; cache may be nil.
func NewEmbedder(client *Client, cacheClient *cache.Client) *Embedder {
	return &Embedder{client: client, cache: cacheClient, model: client.cfg.EmbeddingModel}
}

// Model returns the embedding model name.
func (e *Embedder) Model() string {
	return e.model
}

// Embed returns one vector per input text, in order.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if !e.client.enabled {
		return nil, qerr.Persistent("llm client not enabled (no api key configured)", nil)
	}
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))

	// Collect cache misses first.
	var missIdx []int
	for i, text := range texts {
		if e.cache != nil {
			var vec []float32
			found, err := e.cache.Get(ctx, cache.EmbeddingKey(e.model, text), &vec)
			if err == nil && found {
				out[i] = vec
				continue
			}
		}
		missIdx = append(missIdx, i)
	}

	for start := 0; start < len(missIdx); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(missIdx) {
			end = len(missIdx)
		}
		batch := missIdx[start:end]
		inputs := make([]string, len(batch))
		for j, idx := range batch {
			inputs[j] = texts[idx]
		}

		vectors, err := e.client.backend.Embed(ctx, e.model, inputs)
		if err != nil {
			return nil, fmt.Errorf("embed batch of %d: %w", len(inputs), err)
		}
		for j, idx := range batch {
			out[idx] = vectors[j]
			if e.cache != nil {
				_ = e.cache.Set(ctx, cache.EmbeddingKey(e.model, texts[idx]), vectors[j])
			}
		}
	}

	e.client.logger.Debug("embeddings computed",
		"total", len(texts), "cached", len(texts)-len(missIdx), "model", e.model)
	return out, nil
}

// EmbedOne embeds a single text.
func (e *Embedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}
