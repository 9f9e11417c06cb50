package coding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	qerr "github.com/urdimbre/urdimbre-go/internal/errors"
	"github.com/urdimbre/urdimbre-go/internal/llm"
	"github.com/urdimbre/urdimbre-go/internal/store"
	"github.com/urdimbre/urdimbre-go/internal/vector"
)

// codeNeighbourPool is how many neighbours find_similar_codes inspects
// before aggregating their ledger codes.
const codeNeighbourPool = 50

// comparisonMaxTokens caps the constant-comparison memo completion.
const comparisonMaxTokens = 400

// Embedder is the slice of the LLM gateway similarity needs.
type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// Chatter produces the optional comparison memo.
type Chatter interface {
	Chat(ctx context.Context, req llm.ChatRequest) (string, error)
}

// Similarity answers "what else sounds like this" over fragments and codes.
type Similarity struct {
	store    *store.Store
	index    vector.Index
	embedder Embedder
	chat     Chatter
	logger   *slog.Logger
}

// NewSimilarity wires the similarity surface. chat may be nil when no LLM is
// configured; comparison memos are then unavailable.
func NewSimilarity(st *store.Store, idx vector.Index, embedder Embedder, chat Chatter) *Similarity {
	return &Similarity{
		store:    st,
		index:    idx,
		embedder: embedder,
		chat:     chat,
		logger:   slog.Default().With("component", "similarity"),
	}
}

// SimilarFragment is one neighbour of the source fragment, optionally with a
// constant-comparison memo.
type SimilarFragment struct {
	FragmentID   string  `json:"fragment_id"`
	Archivo      string  `json:"archivo"`
	Text         string  `json:"text"`
	Score        float64 `json:"score"`
	Memo         string  `json:"memo,omitempty"`
	ComparisonID string  `json:"comparison_id,omitempty"`
}

// SuggestSimilarFragments finds the nearest neighbours of one fragment and,
// when requested, asks the LLM for a short constant-comparison memo per
// neighbour. persist stores each memo under its stable comparison id.
func (s *Similarity) SuggestSimilarFragments(ctx context.Context, projectID, fragmentID string, topK int, withMemo, persist bool) ([]SimilarFragment, error) {
	if projectID == "" {
		return nil, qerr.TenantRequired("project_id")
	}
	if topK <= 0 {
		topK = 5
	}

	source, err := s.store.GetFragment(ctx, projectID, fragmentID)
	if err != nil {
		return nil, err
	}
	vec, err := s.embedder.EmbedOne(ctx, source.Text)
	if err != nil {
		return nil, err
	}
	neighbours, err := s.index.Search(ctx, vector.SearchParams{
		ProjectID:  projectID,
		Vector:     vec,
		Limit:      topK,
		ExcludeIDs: []string{fragmentID},
	})
	if err != nil {
		return nil, err
	}

	out := make([]SimilarFragment, 0, len(neighbours))
	for _, n := range neighbours {
		sf := SimilarFragment{
			FragmentID: n.FragmentID,
			Archivo:    n.Archivo,
			Text:       n.Text,
			Score:      n.Score,
		}
		if withMemo && s.chat != nil {
			memo, err := s.compareMemo(ctx, source.Text, n.Text)
			if err != nil {
				s.logger.Warn("comparison memo failed",
					"fragment", n.FragmentID, "error", err)
			} else {
				sf.Memo = memo
				sf.ComparisonID = ComparisonID(projectID, fragmentID, n.FragmentID)
				if persist {
					if err := s.store.InsertComparison(ctx, sf.ComparisonID, projectID, fragmentID, n.FragmentID, memo); err != nil {
						return nil, err
					}
				}
			}
		}
		out = append(out, sf)
	}
	return out, nil
}

// compareMemo asks for a short analytic comparison between two fragments.
func (s *Similarity) compareMemo(ctx context.Context, textA, textB string) (string, error) {
	return s.chat.Chat(ctx, llm.ChatRequest{
		Model: llm.AliasMini,
		Messages: []llm.ChatMessage{
			{Role: llm.RoleSystem, Content: "Eres un analista cualitativo. Compara los dos fragmentos " +
				"en dos o tres frases: qué comparten y en qué difieren analíticamente."},
			{Role: llm.RoleUser, Content: fmt.Sprintf("Fragmento A:\n%s\n\nFragmento B:\n%s", textA, textB)},
		},
		MaxTokens: comparisonMaxTokens,
	})
}

// ComparisonID derives the stable id of an unordered fragment pair.
func ComparisonID(projectID, fragmentA, fragmentB string) string {
	if fragmentA > fragmentB {
		fragmentA, fragmentB = fragmentB, fragmentA
	}
	sum := sha256.Sum256([]byte(strings.Join([]string{projectID, fragmentA, fragmentB}, "|")))
	return hex.EncodeToString(sum[:16])
}

// SimilarCode is one candidate related code ranked by neighbourhood score.
type SimilarCode struct {
	Codigo    string  `json:"codigo"`
	AvgScore  float64 `json:"avg_score"`
	Fragments int     `json:"fragments"`
}

// FindSimilarCodes takes one evidence fragment of the source code, pulls its
// vector neighbourhood, and ranks the codes assigned to those neighbours by
// average neighbour score. The source code itself is excluded.
func (s *Similarity) FindSimilarCodes(ctx context.Context, projectID, codigo string, topK int) ([]SimilarCode, error) {
	if projectID == "" {
		return nil, qerr.TenantRequired("project_id")
	}
	if topK <= 0 {
		topK = 5
	}

	evidence, err := s.store.ListOpenCodes(ctx, projectID, codigo, 1)
	if err != nil {
		return nil, err
	}
	if len(evidence) == 0 {
		return nil, qerr.NotFoundf("code %q has no promoted evidence", codigo)
	}
	source, err := s.store.GetFragment(ctx, projectID, evidence[0].FragmentID)
	if err != nil {
		return nil, err
	}
	vec, err := s.embedder.EmbedOne(ctx, source.Text)
	if err != nil {
		return nil, err
	}

	neighbours, err := s.index.Search(ctx, vector.SearchParams{
		ProjectID:  projectID,
		Vector:     vec,
		Limit:      codeNeighbourPool,
		ExcludeIDs: []string{source.FragmentID},
	})
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(neighbours))
	scores := make(map[string]float64, len(neighbours))
	for i, n := range neighbours {
		ids[i] = n.FragmentID
		scores[n.FragmentID] = n.Score
	}

	codes, err := s.store.CodesForFragments(ctx, projectID, ids)
	if err != nil {
		return nil, err
	}

	sum := map[string]float64{}
	count := map[string]int{}
	for fragID, names := range codes {
		for _, name := range names {
			if name == codigo {
				continue
			}
			sum[name] += scores[fragID]
			count[name]++
		}
	}

	out := make([]SimilarCode, 0, len(sum))
	for name, total := range sum {
		out = append(out, SimilarCode{
			Codigo:    name,
			AvgScore:  total / float64(count[name]),
			Fragments: count[name],
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AvgScore != out[j].AvgScore {
			return out[i].AvgScore > out[j].AvgScore
		}
		return out[i].Codigo < out[j].Codigo
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}
