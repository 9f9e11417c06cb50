// Package retrieval fuses the semantic and lexical legs of search and runs
// anchor-steered discovery over the vector store.
package retrieval

import (
	"context"
	"log/slog"
	"sort"

	qerr "github.com/urdimbre/urdimbre-go/internal/errors"
	"github.com/urdimbre/urdimbre-go/internal/store"
	"github.com/urdimbre/urdimbre-go/internal/vector"
)

// Embedder is the slice of the LLM gateway retrieval needs.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// minCandidatePool is the kNN floor; the pool is always at least this wide so
// lexical re-ranking has something to chew on.
const minCandidatePool = 10

// SearchRequest shapes one hybrid search call.
type SearchRequest struct {
	ProjectID string
	Query     string
	TopK      int
	// Archivo restricts the search to one interview when set.
	Archivo string
	// UseHybrid blends the lexical rank into the semantic score.
	UseHybrid bool
	// BM25Weight is the lexical share of the fused score, in [0,1].
	BM25Weight float64
	// ScoreThreshold drops fused results below it. Zero keeps everything.
	ScoreThreshold float64
	// IncludeInterviewer lifts the default speaker exclusion.
	IncludeInterviewer bool
}

// Hit is one fused search result with both component scores kept for audit.
type Hit struct {
	FragmentID string  `json:"fragment_id"`
	Archivo    string  `json:"archivo"`
	ParIdx     int     `json:"par_idx"`
	Speaker    string  `json:"speaker,omitempty"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
	Semantic   float64 `json:"semantic_score"`
	BM25       float64 `json:"bm25_score,omitempty"`
}

// Searcher runs hybrid retrieval: semantic kNN plus an optional lexical
// re-rank from the relational full-text index.
type Searcher struct {
	index    vector.Index
	store    *store.Store
	embedder Embedder
	logger   *slog.Logger
}

// NewSearcher wires the hybrid retrieval path.
func NewSearcher(idx vector.Index, st *store.Store, embedder Embedder) *Searcher {
	return &Searcher{
		index:    idx,
		store:    st,
		embedder: embedder,
		logger:   slog.Default().With("component", "retrieval"),
	}
}

// Search embeds the query, pulls a wide candidate pool from the vector store,
// optionally fuses in the lexical rank, and truncates to top_k. When the
// speaker-filtered pool comes back empty, the filter is lifted once.
func (s *Searcher) Search(ctx context.Context, req SearchRequest) ([]Hit, error) {
	if req.ProjectID == "" {
		return nil, qerr.TenantRequired("project_id")
	}
	if req.Query == "" {
		return nil, qerr.Validation("query is required")
	}
	if req.TopK <= 0 {
		req.TopK = 5
	}
	if req.BM25Weight < 0 || req.BM25Weight > 1 {
		return nil, qerr.Validationf("bm25_weight %f outside [0,1]", req.BM25Weight)
	}

	vecs, err := s.embedder.Embed(ctx, []string{req.Query})
	if err != nil {
		return nil, err
	}

	limit := 3 * req.TopK
	if limit < minCandidatePool {
		limit = minCandidatePool
	}
	params := vector.SearchParams{
		ProjectID:          req.ProjectID,
		Vector:             vecs[0],
		Limit:              limit,
		Archivo:            req.Archivo,
		IncludeInterviewer: req.IncludeInterviewer,
	}
	pool, err := s.index.Search(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(pool) == 0 && !req.IncludeInterviewer {
		s.logger.Debug("empty pool under speaker filter, retrying unfiltered",
			"project", req.ProjectID)
		params.IncludeInterviewer = true
		if pool, err = s.index.Search(ctx, params); err != nil {
			return nil, err
		}
	}

	hits := make([]Hit, 0, len(pool))
	for _, r := range pool {
		hits = append(hits, Hit{
			FragmentID: r.FragmentID,
			Archivo:    r.Archivo,
			ParIdx:     r.ParIdx,
			Speaker:    r.Speaker,
			Text:       r.Text,
			Score:      r.Score,
			Semantic:   r.Score,
		})
	}

	if req.UseHybrid && req.BM25Weight > 0 {
		if err := s.fuseLexical(ctx, req, hits); err != nil {
			return nil, err
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })

	out := hits[:0]
	for _, h := range hits {
		if req.ScoreThreshold > 0 && h.Score < req.ScoreThreshold {
			continue
		}
		out = append(out, h)
		if len(out) == req.TopK {
			break
		}
	}
	return out, nil
}

// fuseLexical re-scores the pool in place: final = (1−w)·semantic + w·bm25,
// with the raw ts_rank normalised by the pool maximum.
func (s *Searcher) fuseLexical(ctx context.Context, req SearchRequest, hits []Hit) error {
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.FragmentID
	}
	ranks, err := s.store.LexicalRank(ctx, req.ProjectID, req.Query, ids)
	if err != nil {
		return err
	}

	maxRank := 0.0
	for _, r := range ranks {
		if r > maxRank {
			maxRank = r
		}
	}
	w := req.BM25Weight
	for i := range hits {
		bm25 := 0.0
		if maxRank > 0 {
			bm25 = ranks[hits[i].FragmentID] / maxRank
		}
		hits[i].BM25 = bm25
		hits[i].Score = (1-w)*hits[i].Semantic + w*bm25
	}
	return nil
}
