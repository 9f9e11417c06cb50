// Package graph is the relational leg of the tri-store: fragments, codes and
// categories projected into Neo4j, where axial structure and co-occurrence
// analysis live.
package graph

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Client wraps the Neo4j driver with query helpers for the coding graph.
type Client struct {
	driver   neo4j.DriverWithContext
	logger   *slog.Logger
	database string
}

// NewClient creates a Neo4j client and verifies connectivity. Fails fast on
// startup so a misconfigured graph store never reaches the write path.
func NewClient(ctx context.Context, uri, user, password, database string) (*Client, error) {
	if uri == "" || user == "" || password == "" {
		return nil, fmt.Errorf("neo4j credentials missing: uri=%s, user=%s", uri, user)
	}
	if database == "" {
		database = "neo4j"
	}

	driver, err := neo4j.NewDriverWithContext(uri,
		neo4j.BasicAuth(user, password, ""),
		func(config *neo4j.Config) {
			config.MaxConnectionPoolSize = 50
			config.ConnectionAcquisitionTimeout = 60 * time.Second
			config.MaxConnectionLifetime = 3600 * time.Second
			config.SocketConnectTimeout = 5 * time.Second
			config.SocketKeepalive = true
		})
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to connect to neo4j at %s: %w", uri, err)
	}

	logger := slog.Default().With("component", "neo4j")
	c := &Client{driver: driver, logger: logger, database: database}

	if err := c.ensureConstraints(ctx); err != nil {
		driver.Close(ctx)
		return nil, err
	}

	logger.Info("neo4j client connected", "uri", uri, "database", database)
	return c, nil
}

// Close closes the driver connection.
func (c *Client) Close(ctx context.Context) error {
	if err := c.driver.Close(ctx); err != nil {
		return fmt.Errorf("failed to close neo4j driver: %w", err)
	}
	c.logger.Info("neo4j client closed")
	return nil
}

// HealthCheck verifies Neo4j connectivity.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("neo4j health check failed: %w", err)
	}
	return nil
}

// ensureConstraints creates the composite uniqueness constraints that make
// every MERGE tenant-scoped and idempotent.
func (c *Client) ensureConstraints(ctx context.Context) error {
	constraints := []string{
		`CREATE CONSTRAINT fragmento_key IF NOT EXISTS
		 FOR (f:Fragmento) REQUIRE (f.project_id, f.fragment_id) IS UNIQUE`,
		`CREATE CONSTRAINT codigo_key IF NOT EXISTS
		 FOR (co:Codigo) REQUIRE (co.project_id, co.nombre) IS UNIQUE`,
		`CREATE CONSTRAINT categoria_key IF NOT EXISTS
		 FOR (cat:Categoria) REQUIRE (cat.project_id, cat.nombre) IS UNIQUE`,
		`CREATE CONSTRAINT entrevista_key IF NOT EXISTS
		 FOR (e:Entrevista) REQUIRE (e.project_id, e.archivo) IS UNIQUE`,
	}
	for _, stmt := range constraints {
		if _, err := c.run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("ensure constraint: %w", err)
		}
	}
	return nil
}

// run executes one query through the modern ExecuteQuery API.
func (c *Client) run(ctx context.Context, query string, params map[string]any) (*neo4j.EagerResult, error) {
	return neo4j.ExecuteQuery(ctx, c.driver, query, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(c.database))
}

// read executes one query with read routing.
func (c *Client) read(ctx context.Context, query string, params map[string]any) (*neo4j.EagerResult, error) {
	return neo4j.ExecuteQuery(ctx, c.driver, query, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(c.database),
		neo4j.ExecuteQueryWithReadersRouting())
}

func recordInt(record *neo4j.Record, key string) (int64, error) {
	v, ok := record.Get(key)
	if !ok {
		return 0, fmt.Errorf("query returned no %q", key)
	}
	n, ok := v.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected type for %q: %T (expected int64)", key, v)
	}
	return n, nil
}

func recordString(record *neo4j.Record, key string) string {
	v, ok := record.Get(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func recordFloat(record *neo4j.Record, key string) float64 {
	v, ok := record.Get(key)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	}
	return 0
}
