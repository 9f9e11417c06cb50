package ingest

import (
	"context"
	"fmt"
	"log/slog"

	qerr "github.com/urdimbre/urdimbre-go/internal/errors"
	"github.com/urdimbre/urdimbre-go/internal/graph"
	"github.com/urdimbre/urdimbre-go/internal/store"
	"github.com/urdimbre/urdimbre-go/internal/vector"
)

// Embedder is the slice of the LLM gateway ingestion needs.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Pipeline commits parsed fragments to the tri-store in canonical order:
// relational first, then vector, then graph. The relational store is the
// anchor; orphans in the other two are sweepable.
type Pipeline struct {
	store     *store.Store
	index     vector.Index
	projector graph.Projector
	embedder  Embedder
	logger    *slog.Logger
}

// NewPipeline wires the tri-store ingestion path.
func NewPipeline(st *store.Store, idx vector.Index, projector graph.Projector, embedder Embedder) *Pipeline {
	return &Pipeline{
		store:     st,
		index:     idx,
		projector: projector,
		embedder:  embedder,
		logger:    slog.Default().With("component", "ingest"),
	}
}

// FileSummary reports one ingested document.
type FileSummary struct {
	Archivo       string `json:"archivo"`
	Turns         int    `json:"turns"`
	Fragments     int    `json:"fragments"`
	Embedded      int    `json:"embedded"`
	VectorPoints  int    `json:"vector_points"`
	GraphNodes    int    `json:"graph_nodes"`
	Partial       bool   `json:"partial"`
	PartialReason string `json:"partial_reason,omitempty"`
}

// Totals accumulates across files.
type Totals struct {
	Files     int `json:"files"`
	Fragments int `json:"fragments"`
	Partial   int `json:"partial"`
}

// Options control one ingest call.
type Options struct {
	MinChars        int
	MaxChars        int
	KeepInterviewer bool
	AreaTematica    string
	ActorPrincipal  string
}

// IngestDocument parses and commits one document. An embedding failure
// aborts the remaining batches and returns a partial summary instead of an
// error: the fragments already committed stay live.
func (p *Pipeline) IngestDocument(ctx context.Context, projectID, archivo, raw string, opts Options) (*FileSummary, error) {
	fragments, err := ParseDocument(projectID, archivo, raw, opts.MinChars, opts.MaxChars, opts.KeepInterviewer)
	if err != nil {
		return nil, err
	}
	turns := len(ParseTurns(raw))

	summary := &FileSummary{Archivo: archivo, Turns: turns, Fragments: len(fragments)}

	// Embed everything up front; a gateway failure surfaces a partial
	// ingest before any store is touched.
	texts := make([]string, len(fragments))
	for i, f := range fragments {
		texts[i] = f.Text
	}
	vectors, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		if qerr.IsFatal(err) {
			return nil, err
		}
		summary.Partial = true
		summary.PartialReason = fmt.Sprintf("embedding failed: %v", err)
		p.logger.Warn("embedding failed, aborting document", "archivo", archivo, "error", err)
		return summary, nil
	}
	for i, f := range fragments {
		f.Embedding = vectors[i]
	}
	summary.Embedded = len(fragments)

	// (a) relational insert, the canonical anchor.
	if err := p.store.UpsertFragments(ctx, fragments); err != nil {
		return nil, fmt.Errorf("relational insert for %s: %w", archivo, err)
	}
	if err := p.store.UpsertInterview(ctx, projectID, archivo, opts.AreaTematica, opts.ActorPrincipal); err != nil {
		return nil, err
	}

	// (b) vector upsert with payload echoing the relational row.
	points := make([]vector.Point, 0, len(fragments))
	for _, f := range fragments {
		speaker := ""
		if f.Speaker != nil {
			speaker = *f.Speaker
		}
		points = append(points, vector.Point{
			FragmentID: f.FragmentID,
			ProjectID:  f.ProjectID,
			Archivo:    f.Archivo,
			ParIdx:     f.ParIdx,
			Speaker:    speaker,
			Text:       f.Text,
			Vector:     f.Embedding,
		})
	}
	if err := p.index.Upsert(ctx, points); err != nil {
		summary.Partial = true
		summary.PartialReason = fmt.Sprintf("vector upsert failed: %v", err)
		p.logger.Warn("vector upsert failed", "archivo", archivo, "error", err)
		return summary, nil
	}
	summary.VectorPoints = len(points)

	// (c) graph projection of Entrevista and Fragmento nodes.
	for _, f := range fragments {
		if err := p.projector.MergeFragment(ctx, f.ProjectID, f.FragmentID, f.Archivo, f.ParIdx); err != nil {
			summary.Partial = true
			summary.PartialReason = fmt.Sprintf("graph merge failed: %v", err)
			p.logger.Warn("graph merge failed", "archivo", archivo, "fragment", f.FragmentID, "error", err)
			return summary, nil
		}
		summary.GraphNodes++
	}

	p.logger.Info("document ingested",
		"archivo", archivo, "turns", turns, "fragments", len(fragments))
	return summary, nil
}

// IngestResult is the per-run report: one summary per file plus totals.
type IngestResult struct {
	Files  []*FileSummary `json:"files"`
	Totals Totals         `json:"totals"`
}

// Document pairs a name with raw transcript content.
type Document struct {
	Archivo string
	Raw     string
}

// IngestAll processes documents sequentially and accumulates the totals
// block. Per-file failures are recorded, not fatal.
func (p *Pipeline) IngestAll(ctx context.Context, projectID string, docs []Document, opts Options) (*IngestResult, error) {
	result := &IngestResult{}
	for _, doc := range docs {
		summary, err := p.IngestDocument(ctx, projectID, doc.Archivo, doc.Raw, opts)
		if err != nil {
			if qerr.IsFatal(err) {
				return result, err
			}
			summary = &FileSummary{Archivo: doc.Archivo, Partial: true, PartialReason: err.Error()}
		}
		result.Files = append(result.Files, summary)
		result.Totals.Files++
		result.Totals.Fragments += summary.Fragments
		if summary.Partial {
			result.Totals.Partial++
		}
	}
	p.logger.Info("ingest complete",
		"files", result.Totals.Files,
		"fragments", result.Totals.Fragments,
		"partial", result.Totals.Partial)
	return result, nil
}

// DeleteFragment removes one fragment from all three stores, relational
// last so a partial failure leaves only sweepable orphans.
func (p *Pipeline) DeleteFragment(ctx context.Context, projectID, fragmentID string) error {
	if err := p.index.DeleteFragment(ctx, projectID, fragmentID); err != nil {
		p.logger.Warn("vector delete failed, orphan point left", "fragment", fragmentID, "error", err)
	}
	if err := p.projector.RemoveFragment(ctx, projectID, fragmentID); err != nil {
		p.logger.Warn("graph delete failed, orphan node left", "fragment", fragmentID, "error", err)
	}
	return p.store.DeleteFragment(ctx, projectID, fragmentID)
}
