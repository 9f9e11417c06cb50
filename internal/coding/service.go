// Package coding implements the open-coding operations over the candidate
// ledger: assignment through the tray, feedback, merges, and similarity
// suggestions.
package coding

import (
	"context"
	"log/slog"

	qerr "github.com/urdimbre/urdimbre-go/internal/errors"
	"github.com/urdimbre/urdimbre-go/internal/graph"
	"github.com/urdimbre/urdimbre-go/internal/models"
	"github.com/urdimbre/urdimbre-go/internal/store"
)

// Service routes coding mutations through the ledger and mirrors promoted
// state into the graph projection.
type Service struct {
	store     *store.Store
	projector graph.Projector
	logger    *slog.Logger
}

// NewService wires the coding operations.
func NewService(st *store.Store, projector graph.Projector) *Service {
	return &Service{
		store:     st,
		projector: projector,
		logger:    slog.Default().With("component", "coding"),
	}
}

// AssignOpenCode records a manual code assignment. It never writes the
// promoted table directly: the assignment enters the tray as a candidate with
// full confidence and flows through the normal promotion path.
func (s *Service) AssignOpenCode(ctx context.Context, projectID, actor, codigo, fragmentID, cita string) (*models.CandidateCode, error) {
	if projectID == "" {
		return nil, qerr.TenantRequired("project_id")
	}
	candidate := &models.CandidateCode{
		ProjectID:       projectID,
		Codigo:          codigo,
		Cita:            cita,
		SourceOrigin:    models.OriginManual,
		ScoreConfidence: 1.0,
		Status:          models.CandidatePendiente,
	}
	if fragmentID != "" {
		candidate.FragmentID = &fragmentID
		f, err := s.store.GetFragment(ctx, projectID, fragmentID)
		if err != nil {
			return nil, err
		}
		candidate.Archivo = f.Archivo
	}
	if _, err := s.store.InsertCandidates(ctx, []*models.CandidateCode{candidate}, true); err != nil {
		return nil, err
	}
	s.logger.Info("manual code queued",
		"project", projectID, "codigo", codigo, "fragment", fragmentID, "actor", actor)
	return candidate, nil
}

// UnassignOpenCode deletes a promoted (codigo, fragment) pair and removes the
// matching graph edge. The relational delete is the anchor; a graph failure
// leaves a sweepable orphan edge and is logged, not returned.
func (s *Service) UnassignOpenCode(ctx context.Context, projectID, actor, codigo, fragmentID string) error {
	if projectID == "" {
		return qerr.TenantRequired("project_id")
	}
	if err := s.store.DeleteOpenCode(ctx, projectID, fragmentID, codigo, actor); err != nil {
		return err
	}
	if err := s.projector.UnassignCode(ctx, projectID, codigo, fragmentID); err != nil {
		s.logger.Warn("graph unassign failed, orphan edge left",
			"codigo", codigo, "fragment", fragmentID, "error", err)
	}
	return nil
}

// NextCandidate pops the next tray entry under the given strategy.
func (s *Service) NextCandidate(ctx context.Context, projectID, archivo, strategy string) (*models.CandidateCode, error) {
	return s.store.NextCandidate(ctx, projectID, archivo, strategy)
}

// Feedback actions accepted by ApplyFeedback.
const (
	FeedbackAccept = "accept"
	FeedbackReject = "reject"
	FeedbackEdit   = "edit"
)

// ApplyFeedback resolves one tray entry. Accepting promotes the candidate and
// projects the CODIFICA edge; rejecting stamps the reason; editing renames
// the candidate in place and leaves it pending.
func (s *Service) ApplyFeedback(ctx context.Context, candidateID int64, actor, action, detail string) (*models.OpenCode, error) {
	switch action {
	case FeedbackAccept:
		oc, err := s.store.Promote(ctx, candidateID, actor)
		if err != nil {
			return nil, err
		}
		if err := s.projector.AssignCode(ctx, oc.ProjectID, oc.Codigo, oc.FragmentID); err != nil {
			s.logger.Warn("graph assign failed after promotion",
				"codigo", oc.Codigo, "fragment", oc.FragmentID, "error", err)
		}
		return oc, nil
	case FeedbackReject:
		return nil, s.store.Reject(ctx, candidateID, actor, detail)
	case FeedbackEdit:
		if detail == "" {
			return nil, qerr.Validation("edit feedback requires the new code name")
		}
		return nil, s.store.EditCandidate(ctx, candidateID, actor, detail)
	default:
		return nil, qerr.Validationf("unknown feedback action %q", action)
	}
}

// MergeCodes folds code `from` into `to` across the ledger and repoints the
// graph edges.
func (s *Service) MergeCodes(ctx context.Context, projectID, from, to, actor string) error {
	if err := s.store.Merge(ctx, projectID, from, to, actor); err != nil {
		return err
	}
	if err := s.projector.RenameCode(ctx, projectID, from, to); err != nil {
		s.logger.Warn("graph rename failed after merge",
			"from", from, "to", to, "error", err)
	}
	return nil
}

// Stats returns the project coding counters.
func (s *Service) Stats(ctx context.Context, projectID string) (*store.CodingStats, error) {
	return s.store.Stats(ctx, projectID)
}
