package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/exp/rand"
	gonumgraph "gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/community"
	"gonum.org/v1/gonum/graph/network"
	"gonum.org/v1/gonum/graph/simple"

	qerr "github.com/urdimbre/urdimbre-go/internal/errors"
)

// AnalysisResult carries the outcome of one graph analysis run over the code
// co-occurrence network.
type AnalysisResult struct {
	Algorithm   string             `json:"algorithm"`
	Centrality  map[string]float64 `json:"centrality,omitempty"`
	Communities map[string]int     `json:"communities,omitempty"`
	Nodes       int                `json:"nodes"`
	Edges       int                `json:"edges"`
}

// Engine runs graph algorithms over a project's code network.
type Engine interface {
	PageRank(ctx context.Context, projectID string) (*AnalysisResult, error)
	Betweenness(ctx context.Context, projectID string) (*AnalysisResult, error)
	Louvain(ctx context.Context, projectID string) (*AnalysisResult, error)
	Leiden(ctx context.Context, projectID string) (*AnalysisResult, error)
}

// HasGDS probes for the Graph Data Science plugin. Without it the in-memory
// engine takes over.
func (c *Client) HasGDS(ctx context.Context) bool {
	result, err := c.read(ctx, `SHOW PROCEDURES YIELD name WHERE name STARTS WITH 'gds.' RETURN count(name) AS n`, nil)
	if err != nil || len(result.Records) == 0 {
		return false
	}
	n, err := recordInt(result.Records[0], "n")
	return err == nil && n > 0
}

// NewEngine picks the GDS engine when the plugin is installed, otherwise the
// in-memory engine over an exported co-occurrence graph.
func NewEngine(ctx context.Context, client *Client) Engine {
	logger := slog.Default().With("component", "graph-engine")
	if client.HasGDS(ctx) {
		logger.Info("using gds plugin for graph analysis")
		return &gdsEngine{client: client, logger: logger}
	}
	logger.Info("gds plugin not available, using in-memory engine")
	return &MemoryEngine{source: client, logger: logger}
}

// gdsEngine delegates to the Neo4j Graph Data Science plugin.
type gdsEngine struct {
	client *Client
	logger *slog.Logger
}

const gdsProjection = `
	CALL gds.graph.project.cypher(
		$graph_name,
		'MATCH (co:Codigo {project_id: "' + $project_id + '"}) RETURN id(co) AS id',
		'MATCH (a:Codigo {project_id: "' + $project_id + '"})-[:CODIFICA]->(:Fragmento)<-[:CODIFICA]-(b:Codigo {project_id: "' + $project_id + '"}) RETURN id(a) AS source, id(b) AS target, count(*) AS weight'
	)`

func (e *gdsEngine) runAlgorithm(ctx context.Context, projectID, algo string) (*AnalysisResult, error) {
	graphName := "urd_" + projectID

	// Drop any stale projection, then build a fresh one per run.
	_, _ = e.client.run(ctx, `CALL gds.graph.drop($graph_name, false)`, map[string]any{"graph_name": graphName})
	if _, err := e.client.run(ctx, gdsProjection, map[string]any{
		"graph_name": graphName,
		"project_id": projectID,
	}); err != nil {
		return nil, qerr.Transient("project gds graph", err)
	}
	defer func() {
		_, _ = e.client.run(ctx, `CALL gds.graph.drop($graph_name, false)`, map[string]any{"graph_name": graphName})
	}()

	query := fmt.Sprintf(`
		CALL gds.%s.stream($graph_name)
		YIELD nodeId, %s
		RETURN gds.util.asNode(nodeId).nombre AS nombre, %s AS value`,
		algo, gdsYield(algo), gdsYield(algo))

	result, err := e.client.read(ctx, query, map[string]any{"graph_name": graphName})
	if err != nil {
		return nil, qerr.Transient(fmt.Sprintf("gds %s", algo), err)
	}

	out := &AnalysisResult{Algorithm: algo}
	switch algo {
	case "louvain", "leiden":
		out.Communities = map[string]int{}
		for _, rec := range result.Records {
			out.Communities[recordString(rec, "nombre")] = int(recordFloat(rec, "value"))
		}
		out.Nodes = len(out.Communities)
	default:
		out.Centrality = map[string]float64{}
		for _, rec := range result.Records {
			out.Centrality[recordString(rec, "nombre")] = recordFloat(rec, "value")
		}
		out.Nodes = len(out.Centrality)
	}
	return out, nil
}

func gdsYield(algo string) string {
	switch algo {
	case "louvain", "leiden":
		return "communityId"
	default:
		return "score"
	}
}

func (e *gdsEngine) PageRank(ctx context.Context, projectID string) (*AnalysisResult, error) {
	return e.runAlgorithm(ctx, projectID, "pageRank")
}

func (e *gdsEngine) Betweenness(ctx context.Context, projectID string) (*AnalysisResult, error) {
	return e.runAlgorithm(ctx, projectID, "betweenness")
}

func (e *gdsEngine) Louvain(ctx context.Context, projectID string) (*AnalysisResult, error) {
	return e.runAlgorithm(ctx, projectID, "louvain")
}

func (e *gdsEngine) Leiden(ctx context.Context, projectID string) (*AnalysisResult, error) {
	return e.runAlgorithm(ctx, projectID, "leiden")
}

// EdgeSource exports a co-occurrence edge list; the Neo4j client implements
// it, tests use a fixed slice.
type EdgeSource interface {
	CoOccurrenceGraph(ctx context.Context, projectID string) ([]CoOccurrenceEdge, error)
}

// MemoryEngine runs the algorithms locally over the exported co-occurrence
// network. Leiden has no local implementation and maps to Louvain.
type MemoryEngine struct {
	source EdgeSource
	logger *slog.Logger
}

// NewMemoryEngine builds an engine over any edge source.
func NewMemoryEngine(source EdgeSource) *MemoryEngine {
	return &MemoryEngine{source: source, logger: slog.Default().With("component", "graph-engine")}
}

// codeGraph maps code names onto gonum node ids and back.
type codeGraph struct {
	undirected *simple.WeightedUndirectedGraph
	directed   *simple.WeightedDirectedGraph
	names      map[int64]string
	edges      int
}

func (e *MemoryEngine) build(ctx context.Context, projectID string) (*codeGraph, error) {
	edges, err := e.source.CoOccurrenceGraph(ctx, projectID)
	if err != nil {
		return nil, err
	}

	cg := &codeGraph{
		undirected: simple.NewWeightedUndirectedGraph(0, 0),
		directed:   simple.NewWeightedDirectedGraph(0, 0),
		names:      map[int64]string{},
		edges:      len(edges),
	}
	ids := map[string]int64{}
	next := int64(0)
	node := func(name string) int64 {
		id, ok := ids[name]
		if !ok {
			id = next
			next++
			ids[name] = id
			cg.names[id] = name
			cg.undirected.AddNode(simple.Node(id))
			cg.directed.AddNode(simple.Node(id))
		}
		return id
	}
	for _, edge := range edges {
		a, b := node(edge.CodeA), node(edge.CodeB)
		if a == b {
			continue
		}
		cg.undirected.SetWeightedEdge(simple.WeightedEdge{F: simple.Node(a), T: simple.Node(b), W: edge.Weight})
		cg.directed.SetWeightedEdge(simple.WeightedEdge{F: simple.Node(a), T: simple.Node(b), W: edge.Weight})
		cg.directed.SetWeightedEdge(simple.WeightedEdge{F: simple.Node(b), T: simple.Node(a), W: edge.Weight})
	}
	return cg, nil
}

func (e *MemoryEngine) PageRank(ctx context.Context, projectID string) (*AnalysisResult, error) {
	cg, err := e.build(ctx, projectID)
	if err != nil {
		return nil, err
	}
	scores := network.PageRank(cg.directed, 0.85, 1e-6)
	out := &AnalysisResult{Algorithm: "pagerank", Centrality: map[string]float64{}, Nodes: len(cg.names), Edges: cg.edges}
	for id, score := range scores {
		out.Centrality[cg.names[id]] = score
	}
	return out, nil
}

func (e *MemoryEngine) Betweenness(ctx context.Context, projectID string) (*AnalysisResult, error) {
	cg, err := e.build(ctx, projectID)
	if err != nil {
		return nil, err
	}
	scores := network.Betweenness(cg.undirected)
	out := &AnalysisResult{Algorithm: "betweenness", Centrality: map[string]float64{}, Nodes: len(cg.names), Edges: cg.edges}
	for id := range cg.names {
		out.Centrality[cg.names[id]] = scores[id]
	}
	return out, nil
}

func (e *MemoryEngine) Louvain(ctx context.Context, projectID string) (*AnalysisResult, error) {
	cg, err := e.build(ctx, projectID)
	if err != nil {
		return nil, err
	}
	out := &AnalysisResult{Algorithm: "louvain", Communities: map[string]int{}, Nodes: len(cg.names), Edges: cg.edges}
	if len(cg.names) == 0 {
		return out, nil
	}

	reduced := community.Modularize(cg.undirected, 1.0, rand.NewSource(1))
	comms := reduced.Communities()
	// Stable community numbering: order groups by their smallest member name.
	sort.Slice(comms, func(i, j int) bool {
		return minName(cg, comms[i]) < minName(cg, comms[j])
	})
	for idx, group := range comms {
		for _, n := range group {
			out.Communities[cg.names[n.ID()]] = idx
		}
	}
	return out, nil
}

// Leiden is served by Louvain locally; the refinement step needs GDS.
func (e *MemoryEngine) Leiden(ctx context.Context, projectID string) (*AnalysisResult, error) {
	e.logger.Info("leiden unavailable without gds, running louvain")
	res, err := e.Louvain(ctx, projectID)
	if err != nil {
		return nil, err
	}
	res.Algorithm = "leiden(louvain)"
	return res, nil
}

func minName(cg *codeGraph, group []gonumgraph.Node) string {
	min := ""
	for i, n := range group {
		name := cg.names[n.ID()]
		if i == 0 || name < min {
			min = name
		}
	}
	return min
}
