// Package report is the read-only artifacts surface: it lists a project's
// durable artifacts by prefix scan and previews them bounded. Never a source
// of truth.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/urdimbre/urdimbre-go/internal/artifacts"
	qerr "github.com/urdimbre/urdimbre-go/internal/errors"
	"github.com/urdimbre/urdimbre-go/internal/store"
)

// Bounds of the surface: preview size per item and items per section.
const (
	maxPreviewBytes = 350 * 1024
	maxItems        = 50
	reportTailRows  = 10
)

// Item is one listed artifact, optionally with a bounded preview.
type Item struct {
	Name         string `json:"name"`
	Size         int64  `json:"size"`
	Preview      string `json:"preview,omitempty"`
	PreviewTrunc bool   `json:"preview_truncated,omitempty"`
}

// Overview groups a project's durable artifacts by section.
type Overview struct {
	Reports          []Item                  `json:"reports,omitempty"`
	RunnerMemos      []Item                  `json:"runner_memos,omitempty"`
	RunnerReports    []Item                  `json:"runner_reports,omitempty"`
	Checkpoints      []Item                  `json:"runner_checkpoints,omitempty"`
	InterviewReports []store.InterviewReport `json:"interview_reports,omitempty"`
}

// Surface wires the artifact store and the relational tail together.
type Surface struct {
	blobs  artifacts.Store
	store  *store.Store
	logger *slog.Logger
}

// NewSurface builds the read-only artifacts surface.
func NewSurface(blobs artifacts.Store, st *store.Store) *Surface {
	return &Surface{
		blobs:  blobs,
		store:  st,
		logger: slog.Default().With("component", "report"),
	}
}

// Overview lists the recent durable artifacts of one project plus a small
// tail of per-interview report rows.
func (s *Surface) Overview(ctx context.Context, org, project string, withPreview bool) (*Overview, error) {
	if project == "" {
		return nil, qerr.TenantRequired("project_id")
	}

	tenant := artifacts.TenantPrefix(org, project)
	sections := []struct {
		prefix string
		dest   *[]Item
	}{
		{fmt.Sprintf("reports/%s/", project), nil},
		{artifacts.RunnerMemoPrefix(project), nil},
		{fmt.Sprintf("logs/runner_reports/%s/", project), nil},
		{fmt.Sprintf("logs/runner_checkpoints/%s/", project), nil},
	}

	out := &Overview{}
	sections[0].dest = &out.Reports
	sections[1].dest = &out.RunnerMemos
	sections[2].dest = &out.RunnerReports
	sections[3].dest = &out.Checkpoints

	for _, sec := range sections {
		items, err := s.listSection(ctx, tenant+sec.prefix, withPreview)
		if err != nil {
			return nil, err
		}
		*sec.dest = items
	}

	if s.store != nil {
		tail, err := s.store.InterviewReportTail(ctx, project, reportTailRows)
		if err != nil {
			s.logger.Warn("interview report tail unavailable", "project", project, "error", err)
		} else {
			out.InterviewReports = tail
		}
	}
	return out, nil
}

// ListMemos returns the runner memos of a project, optionally filtered to
// one interview by its slug.
func (s *Surface) ListMemos(ctx context.Context, org, project, archivo string, limit int) ([]Item, error) {
	if project == "" {
		return nil, qerr.TenantRequired("project_id")
	}
	if limit <= 0 || limit > maxItems {
		limit = maxItems
	}
	prefix := artifacts.TenantPrefix(org, project) + artifacts.RunnerMemoPrefix(project)
	blobs, err := s.blobs.List(ctx, s.blobs.Container(), prefix, maxItems)
	if err != nil {
		return nil, err
	}

	slug := artifacts.Slug(archivo)
	var items []Item
	for _, b := range blobs {
		if archivo != "" && !strings.Contains(b.Name, slug) {
			continue
		}
		items = append(items, Item{Name: b.Name, Size: b.Size})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name > items[j].Name })
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// listSection lists one prefix and previews blobs bounded.
func (s *Surface) listSection(ctx context.Context, prefix string, withPreview bool) ([]Item, error) {
	blobs, err := s.blobs.List(ctx, s.blobs.Container(), prefix, maxItems)
	if err != nil {
		return nil, err
	}
	sort.Slice(blobs, func(i, j int) bool { return blobs[i].LastModified.After(blobs[j].LastModified) })

	items := make([]Item, 0, len(blobs))
	for _, b := range blobs {
		item := Item{Name: b.Name, Size: b.Size}
		if withPreview {
			data, err := s.blobs.Get(ctx, s.blobs.Container(), b.Name)
			if err != nil {
				s.logger.Warn("preview failed", "blob", b.Name, "error", err)
			} else {
				if len(data) > maxPreviewBytes {
					data = data[:maxPreviewBytes]
					item.PreviewTrunc = true
				}
				item.Preview = string(data)
			}
		}
		items = append(items, item)
	}
	return items, nil
}
