package retrieval

import (
	"context"
	"log/slog"

	qerr "github.com/urdimbre/urdimbre-go/internal/errors"
	"github.com/urdimbre/urdimbre-go/internal/vector"
)

// Discovery provenance labels.
const (
	DiscoveryNative   = "native"
	DiscoveryFallback = "fallback"
)

// DiscoverRequest steers a discovery query with positive and negative anchor
// concepts expressed as free text.
type DiscoverRequest struct {
	ProjectID          string
	Positives          []string
	Negatives          []string
	Target             string
	TopK               int
	IncludeInterviewer bool
}

// Anchor reports how one concept fared against the quality gate.
type Anchor struct {
	Concept    string  `json:"concept"`
	Positive   bool    `json:"positive"`
	TopScore   float64 `json:"top_score"`
	FragmentID string  `json:"fragment_id,omitempty"`
	Accepted   bool    `json:"accepted"`
}

// DiscoverResponse carries the hits, the path taken, and the per-anchor gate
// outcome for audit.
type DiscoverResponse struct {
	DiscoveryType string   `json:"discovery_type"`
	Results       []Hit    `json:"results"`
	Anchors       []Anchor `json:"anchors"`
}

// Discoverer gates anchors against the score floor and routes between the
// native discovery path and the weighted-vector fallback.
type Discoverer struct {
	index      vector.Index
	embedder   Embedder
	scoreFloor float64
	logger     *slog.Logger
}

// NewDiscoverer wires the discovery path. floor is the anchor quality gate;
// an anchor whose top-1 kNN score falls below it is rejected.
func NewDiscoverer(idx vector.Index, embedder Embedder, floor float64) *Discoverer {
	return &Discoverer{
		index:      idx,
		embedder:   embedder,
		scoreFloor: floor,
		logger:     slog.Default().With("component", "discovery"),
	}
}

// Discover embeds every anchor concept, gates each by its top-1 kNN score,
// and issues a native discovery query when at least one positive anchor
// survives. When every positive anchor is weak, the fallback query
// mean(pos) − 0.3·mean(neg), blended with the target, runs as plain kNN.
func (d *Discoverer) Discover(ctx context.Context, req DiscoverRequest) (*DiscoverResponse, error) {
	if req.ProjectID == "" {
		return nil, qerr.TenantRequired("project_id")
	}
	if len(req.Positives) == 0 {
		return nil, qerr.Validation("discover requires at least one positive concept")
	}
	if req.TopK <= 0 {
		req.TopK = 5
	}

	texts := make([]string, 0, len(req.Positives)+len(req.Negatives)+1)
	texts = append(texts, req.Positives...)
	texts = append(texts, req.Negatives...)
	if req.Target != "" {
		texts = append(texts, req.Target)
	}
	vecs, err := d.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	posVecs := vecs[:len(req.Positives)]
	negVecs := vecs[len(req.Positives) : len(req.Positives)+len(req.Negatives)]
	var target []float32
	if req.Target != "" {
		target = vecs[len(vecs)-1]
	}

	resp := &DiscoverResponse{}
	var validPos, validNeg [][]float32
	gate := func(concept string, vec []float32, positive bool) error {
		top, err := d.index.Search(ctx, vector.SearchParams{
			ProjectID:          req.ProjectID,
			Vector:             vec,
			Limit:              1,
			IncludeInterviewer: req.IncludeInterviewer,
		})
		if err != nil {
			return err
		}
		a := Anchor{Concept: concept, Positive: positive}
		if len(top) > 0 {
			a.TopScore = top[0].Score
			a.FragmentID = top[0].FragmentID
			a.Accepted = top[0].Score >= d.scoreFloor
		}
		if a.Accepted {
			if positive {
				validPos = append(validPos, vec)
			} else {
				validNeg = append(validNeg, vec)
			}
		} else {
			d.logger.Debug("anchor rejected by quality gate",
				"concept", concept, "top_score", a.TopScore, "floor", d.scoreFloor)
		}
		resp.Anchors = append(resp.Anchors, a)
		return nil
	}
	for i, c := range req.Positives {
		if err := gate(c, posVecs[i], true); err != nil {
			return nil, err
		}
	}
	for i, c := range req.Negatives {
		if err := gate(c, negVecs[i], false); err != nil {
			return nil, err
		}
	}

	var results []vector.Result
	if len(validPos) > 0 {
		// The index decides the actual path: without negatives or on a
		// native-API failure it runs the centroid fallback, and the
		// provenance label must say so.
		var native bool
		results, native, err = d.index.Discover(ctx, vector.DiscoverParams{
			ProjectID:          req.ProjectID,
			Target:             target,
			Positives:          validPos,
			Negatives:          validNeg,
			Limit:              req.TopK,
			IncludeInterviewer: req.IncludeInterviewer,
		})
		resp.DiscoveryType = DiscoveryFallback
		if native {
			resp.DiscoveryType = DiscoveryNative
		}
	} else {
		resp.DiscoveryType = DiscoveryFallback
		d.logger.Info("all positive anchors weak, using fallback query",
			"project", req.ProjectID, "positives", len(req.Positives))
		query := vector.BlendWithTarget(vector.FallbackQuery(posVecs, negVecs), target)
		results, err = d.index.Search(ctx, vector.SearchParams{
			ProjectID:          req.ProjectID,
			Vector:             query,
			Limit:              req.TopK,
			IncludeInterviewer: req.IncludeInterviewer,
		})
	}
	if err != nil {
		return nil, err
	}

	for _, r := range results {
		resp.Results = append(resp.Results, Hit{
			FragmentID: r.FragmentID,
			Archivo:    r.Archivo,
			ParIdx:     r.ParIdx,
			Speaker:    r.Speaker,
			Text:       r.Text,
			Score:      r.Score,
			Semantic:   r.Score,
		})
	}
	return resp, nil
}
