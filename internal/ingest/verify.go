package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	qerr "github.com/urdimbre/urdimbre-go/internal/errors"
	"github.com/urdimbre/urdimbre-go/internal/store"
	"github.com/urdimbre/urdimbre-go/internal/vector"
)

// graphLister is the graph read surface the verifier needs.
type graphLister interface {
	FragmentIDs(ctx context.Context, projectID string) ([]string, error)
	EdgeTenantViolations(ctx context.Context, projectID string) (int, error)
}

// Verifier checks tri-store consistency out-of-band. A fragment is live only
// when present in all three stores; the relational store is the anchor, so
// anything extra in vector or graph is a sweepable orphan and anything
// missing there is a defect.
type Verifier struct {
	store  *store.Store
	index  vector.Index
	graph  graphLister
	logger *slog.Logger
}

// NewVerifier wires the verifier.
func NewVerifier(st *store.Store, idx vector.Index, g graphLister) *Verifier {
	return &Verifier{
		store:  st,
		index:  idx,
		graph:  g,
		logger: slog.Default().With("component", "verify"),
	}
}

// VerifyReport summarises one consistency pass.
type VerifyReport struct {
	ProjectID       string   `json:"project_id"`
	Relational      int      `json:"relational"`
	VectorPoints    int      `json:"vector_points"`
	GraphNodes      int      `json:"graph_nodes"`
	VectorOrphans   []string `json:"vector_orphans,omitempty"`
	GraphOrphans    []string `json:"graph_orphans,omitempty"`
	MissingInVector []string `json:"missing_in_vector,omitempty"`
	MissingInGraph  []string `json:"missing_in_graph,omitempty"`
	// EdgeViolations counts graph edges whose project_id is missing or
	// disagrees with their endpoints.
	EdgeViolations int `json:"edge_violations,omitempty"`
}

// Consistent reports whether no fragment is missing from a secondary store
// and every graph edge carries its tenant. Orphans alone do not fail
// verification; they are sweepable.
func (r *VerifyReport) Consistent() bool {
	return len(r.MissingInVector) == 0 && len(r.MissingInGraph) == 0 && r.EdgeViolations == 0
}

// lockName is the file-based run lock heavy verifiers take to keep
// concurrent destructive operations out.
const lockName = "urdimbre-verify.lock"

// Verify runs one consistency pass under the run lock.
func (v *Verifier) Verify(ctx context.Context, projectID string) (*VerifyReport, error) {
	if projectID == "" {
		return nil, qerr.TenantRequired("project_id")
	}

	lock := flock.New(filepath.Join(os.TempDir(), lockName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !locked {
		return nil, qerr.Validation("another verification run holds the lock")
	}
	defer lock.Unlock()

	relational := map[string]bool{}
	interviews, err := v.store.ListInterviews(ctx, projectID)
	if err != nil {
		return nil, err
	}
	for _, iv := range interviews {
		ids, err := v.store.ListFragmentIDs(ctx, projectID, iv.Archivo)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			relational[id] = true
		}
	}

	vectorIDs, err := v.index.ListFragmentIDs(ctx, projectID)
	if err != nil {
		return nil, err
	}
	graphIDs, err := v.graph.FragmentIDs(ctx, projectID)
	if err != nil {
		return nil, err
	}
	edgeViolations, err := v.graph.EdgeTenantViolations(ctx, projectID)
	if err != nil {
		return nil, err
	}

	report := &VerifyReport{
		ProjectID:      projectID,
		Relational:     len(relational),
		VectorPoints:   len(vectorIDs),
		GraphNodes:     len(graphIDs),
		EdgeViolations: edgeViolations,
	}

	inVector := map[string]bool{}
	for _, id := range vectorIDs {
		inVector[id] = true
		if !relational[id] {
			report.VectorOrphans = append(report.VectorOrphans, id)
		}
	}
	inGraph := map[string]bool{}
	for _, id := range graphIDs {
		inGraph[id] = true
		if !relational[id] {
			report.GraphOrphans = append(report.GraphOrphans, id)
		}
	}
	for id := range relational {
		if !inVector[id] {
			report.MissingInVector = append(report.MissingInVector, id)
		}
		if !inGraph[id] {
			report.MissingInGraph = append(report.MissingInGraph, id)
		}
	}

	v.logger.Info("verification complete",
		"project", projectID,
		"relational", report.Relational,
		"vector_orphans", len(report.VectorOrphans),
		"graph_orphans", len(report.GraphOrphans),
		"missing_in_vector", len(report.MissingInVector),
		"missing_in_graph", len(report.MissingInGraph),
		"edge_violations", report.EdgeViolations)
	return report, nil
}

// SweepOrphans deletes vector points and graph nodes absent from the
// relational anchor. Destructive; callers confirm first.
func (v *Verifier) SweepOrphans(ctx context.Context, projectID string, report *VerifyReport, remover interface {
	RemoveFragment(ctx context.Context, projectID, fragmentID string) error
}) error {
	for _, id := range report.VectorOrphans {
		if err := v.index.DeleteFragment(ctx, projectID, id); err != nil {
			return fmt.Errorf("sweep vector orphan %s: %w", id, err)
		}
	}
	for _, id := range report.GraphOrphans {
		if err := remover.RemoveFragment(ctx, projectID, id); err != nil {
			return fmt.Errorf("sweep graph orphan %s: %w", id, err)
		}
	}
	v.logger.Info("orphans swept",
		"vector", len(report.VectorOrphans), "graph", len(report.GraphOrphans))
	return nil
}
