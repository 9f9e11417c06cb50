package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/urdimbre/urdimbre-go/internal/artifacts"
	"github.com/urdimbre/urdimbre-go/internal/cache"
	"github.com/urdimbre/urdimbre-go/internal/graph"
	"github.com/urdimbre/urdimbre-go/internal/llm"
	"github.com/urdimbre/urdimbre-go/internal/runner"
	"github.com/urdimbre/urdimbre-go/internal/store"
	"github.com/urdimbre/urdimbre-go/internal/vector"
)

// app wires backend clients lazily; each command opens only what it needs.
// Constructors fail fast, so a command against an unreachable backend errors
// at open time rather than mid-operation.
type app struct {
	store    *store.Store
	index    *vector.QdrantIndex
	graph    *graph.Client
	cache    *cache.Client
	llm      *llm.Client
	embedder *llm.Embedder
	blobs    artifacts.Store
	registry *runner.Registry
}

func newApp() *app { return &app{} }

func (a *app) openStore(ctx context.Context) (*store.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	st, err := store.New(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	a.store = st
	return st, nil
}

func (a *app) openIndex(ctx context.Context) (*vector.QdrantIndex, error) {
	if a.index != nil {
		return a.index, nil
	}
	idx, err := vector.NewQdrantIndex(ctx, cfg.Qdrant)
	if err != nil {
		return nil, fmt.Errorf("qdrant: %w", err)
	}
	a.index = idx
	return idx, nil
}

func (a *app) openGraph(ctx context.Context) (*graph.Client, error) {
	if a.graph != nil {
		return a.graph, nil
	}
	g, err := graph.NewClient(ctx, cfg.Neo4j.URI, cfg.Neo4j.User, cfg.Neo4j.Password, cfg.Neo4j.Database)
	if err != nil {
		return nil, fmt.Errorf("neo4j: %w", err)
	}
	a.graph = g
	return g, nil
}

// openCache is best-effort: without Redis the embedder runs uncached and the
// LLM client unthrottled.
func (a *app) openCache(ctx context.Context) *cache.Client {
	if a.cache != nil {
		return a.cache
	}
	c, err := cache.NewClient(ctx, cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password)
	if err != nil {
		return nil
	}
	a.cache = c
	return c
}

func (a *app) openLLM(ctx context.Context) (*llm.Client, error) {
	if a.llm != nil {
		return a.llm, nil
	}
	var limiter *llm.RateLimiter
	if c := a.openCache(ctx); c != nil {
		limiter = llm.NewRateLimiter(c.Redis())
	}
	client, err := llm.NewClient(ctx, cfg.LLM, limiter)
	if err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}
	a.llm = client
	return client, nil
}

func (a *app) openEmbedder(ctx context.Context) (*llm.Embedder, error) {
	if a.embedder != nil {
		return a.embedder, nil
	}
	client, err := a.openLLM(ctx)
	if err != nil {
		return nil, err
	}
	a.embedder = llm.NewEmbedder(client, a.openCache(ctx))
	return a.embedder, nil
}

func (a *app) openBlobs(ctx context.Context) (artifacts.Store, error) {
	if a.blobs != nil {
		return a.blobs, nil
	}
	blobLog := logrus.New()
	if verbose {
		blobLog.SetLevel(logrus.DebugLevel)
	}
	blobs, err := artifacts.NewStore(ctx, cfg, blobLog)
	if err != nil {
		return nil, fmt.Errorf("artifacts: %w", err)
	}
	a.blobs = blobs
	return blobs, nil
}

func (a *app) openRegistry() (*runner.Registry, error) {
	if a.registry != nil {
		return a.registry, nil
	}
	reg, err := runner.NewRegistry(cfg.Runner.RegistryPath)
	if err != nil {
		return nil, fmt.Errorf("task registry: %w", err)
	}
	a.registry = reg
	return reg, nil
}

func (a *app) identity() runner.Identity {
	return runner.Identity{User: actor(), Org: orgID, Admin: asAdmin}
}

func (a *app) close(ctx context.Context) {
	if a.registry != nil {
		a.registry.Close()
	}
	if a.cache != nil {
		a.cache.Close()
	}
	if a.graph != nil {
		a.graph.Close(ctx)
	}
	if a.index != nil {
		a.index.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}
