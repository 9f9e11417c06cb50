// Package axial validates Category→Code relations against the evidence gate
// and fronts the graph-algorithm facade.
package axial

import (
	"context"
	"log/slog"

	qerr "github.com/urdimbre/urdimbre-go/internal/errors"
	"github.com/urdimbre/urdimbre-go/internal/graph"
	"github.com/urdimbre/urdimbre-go/internal/models"
	"github.com/urdimbre/urdimbre-go/internal/store"
)

// minCodedFragments is the coverage the project needs before axial coding
// opens; below it AssertReady reports blocking reasons.
const minCodedFragments = 10

// Engine runs the axial phase: relation assignment and graph analysis.
type Engine struct {
	store     *store.Store
	projector graph.Projector
	analyzer  graph.Engine
	logger    *slog.Logger
}

// NewEngine wires the axial engine. analyzer may be nil when the graph store
// is disabled; RunGraphAnalysis then fails with a validation error.
func NewEngine(st *store.Store, projector graph.Projector, analyzer graph.Engine) *Engine {
	return &Engine{
		store:     st,
		projector: projector,
		analyzer:  analyzer,
		logger:    slog.Default().With("component", "axial"),
	}
}

// AssignAxialRelation validates and records one Category→Code relation. The
// evidence gate requires at least two distinct fragments, each existing in
// the project and already coded with the target code. The relational row is
// written first; a graph-projection failure is logged and retryable, never a
// rollback.
func (e *Engine) AssignAxialRelation(ctx context.Context, rel *models.AxialRelation, actor string) error {
	if rel.ProjectID == "" {
		return qerr.TenantRequired("project_id")
	}
	if rel.Categoria == "" || rel.Codigo == "" {
		return qerr.Validation("axial relation requires categoria and codigo")
	}
	if !models.ValidRelationType(rel.Tipo) {
		return qerr.Validationf("tipo %q outside the allowed set %v", rel.Tipo, models.AllowedRelationTypes)
	}

	distinct := map[string]bool{}
	for _, id := range rel.Evidencia {
		distinct[id] = true
	}
	if len(distinct) < models.MinAxialEvidence {
		return &qerr.AxialError{
			Reason: "relation requires at least 2 distinct evidence fragments",
		}
	}

	var uncoded []string
	for id := range distinct {
		if _, err := e.store.GetFragment(ctx, rel.ProjectID, id); err != nil {
			return err
		}
		coded, err := e.store.IsFragmentCoded(ctx, rel.ProjectID, id, rel.Codigo)
		if err != nil {
			return err
		}
		if !coded {
			uncoded = append(uncoded, id)
		}
	}
	if len(uncoded) > 0 {
		return &qerr.AxialError{
			Reason:     "evidence must already be coded with " + rel.Codigo,
			UncodedIDs: uncoded,
		}
	}

	if err := e.store.InsertAxialRelation(ctx, rel, actor); err != nil {
		return err
	}
	if err := e.projector.MergeCategoryRelation(ctx, rel); err != nil {
		e.logger.Warn("graph projection failed, relation retryable from ledger",
			"categoria", rel.Categoria, "codigo", rel.Codigo, "error", err)
	}
	e.logger.Info("axial relation recorded",
		"categoria", rel.Categoria, "codigo", rel.Codigo, "tipo", rel.Tipo,
		"evidence", len(distinct))
	return nil
}

// AssertReady checks whether the project has enough open coding behind it to
// start the axial phase.
func (e *Engine) AssertReady(ctx context.Context, projectID string) error {
	stats, err := e.store.Stats(ctx, projectID)
	if err != nil {
		return err
	}
	var reasons []string
	if stats.CodedFragments < minCodedFragments {
		reasons = append(reasons, "fewer than 10 coded fragments")
	}
	if stats.DistinctCodes < 2 {
		reasons = append(reasons, "fewer than 2 distinct open codes")
	}
	if len(reasons) > 0 {
		return &qerr.AxialNotReadyError{BlockingReasons: reasons}
	}
	return nil
}

// RunGraphAnalysis delegates to the graph algorithm facade and, when persist
// is set, writes the results back onto the project's code nodes.
func (e *Engine) RunGraphAnalysis(ctx context.Context, projectID, algorithm string, persist bool) (*graph.AnalysisResult, error) {
	if projectID == "" {
		return nil, qerr.TenantRequired("project_id")
	}
	if e.analyzer == nil {
		return nil, qerr.Validation("graph analysis requires the graph store")
	}

	var result *graph.AnalysisResult
	var err error
	switch algorithm {
	case "pagerank":
		result, err = e.analyzer.PageRank(ctx, projectID)
	case "betweenness":
		result, err = e.analyzer.Betweenness(ctx, projectID)
	case "louvain":
		result, err = e.analyzer.Louvain(ctx, projectID)
	case "leiden":
		result, err = e.analyzer.Leiden(ctx, projectID)
	default:
		return nil, qerr.Validationf("unknown algorithm %q", algorithm)
	}
	if err != nil {
		return nil, err
	}

	if persist {
		if err := e.persistScores(ctx, projectID, result); err != nil {
			return nil, err
		}
	}
	e.logger.Info("graph analysis complete",
		"algorithm", result.Algorithm, "nodes", result.Nodes, "edges", result.Edges,
		"persisted", persist)
	return result, nil
}

// scorePersister is implemented by the graph client; kept narrow so tests can
// fake it through the projector seam.
type scorePersister interface {
	PersistCodeScores(ctx context.Context, projectID string, centrality map[string]float64, community map[string]int) error
}

func (e *Engine) persistScores(ctx context.Context, projectID string, result *graph.AnalysisResult) error {
	p, ok := e.projector.(scorePersister)
	if !ok {
		e.logger.Warn("projector cannot persist scores, returning results only")
		return nil
	}
	return p.PersistCodeScores(ctx, projectID, result.Centrality, result.Communities)
}

// ListRelations returns the project's validated axial relations.
func (e *Engine) ListRelations(ctx context.Context, projectID string) ([]*models.AxialRelation, error) {
	return e.store.ListAxialRelations(ctx, projectID)
}

// MigrateLegacyEdges rewrites pre-ledger discovery edges to the current
// origin vocabulary; exposed for the verify surface.
func (e *Engine) MigrateLegacyEdges(ctx context.Context, projectID string) (int, error) {
	m, ok := e.projector.(interface {
		MigrateLegacyEdges(ctx context.Context, projectID string) (int, error)
	})
	if !ok {
		return 0, nil
	}
	return m.MigrateLegacyEdges(ctx, projectID)
}
