// Package vector is the semantic leg of the tri-store: fragment embeddings
// live here, tenant-isolated by payload filtering, behind an index interface
// the retrieval and runner layers share.
package vector

import (
	"context"
)

// Point is one embedded fragment ready for upsert.
type Point struct {
	FragmentID string
	ProjectID  string
	Archivo    string
	ParIdx     int
	Speaker    string
	Text       string
	Vector     []float32
}

// Result is one scored hit from search or discovery.
type Result struct {
	FragmentID string
	Archivo    string
	ParIdx     int
	Speaker    string
	Text       string
	Score      float64
}

// SearchParams shapes a kNN query. Interviewer turns are excluded unless
// IncludeInterviewer is set.
type SearchParams struct {
	ProjectID          string
	Vector             []float32
	Limit              int
	Archivo            string
	IncludeInterviewer bool
	ExcludeIDs         []string
}

// DiscoverParams shapes a context-steered discovery query. Positives and
// negatives are example vectors; Target is optional.
type DiscoverParams struct {
	ProjectID          string
	Target             []float32
	Positives          [][]float32
	Negatives          [][]float32
	Limit              int
	IncludeInterviewer bool
	ExcludeIDs         []string
}

// Index is the vector store surface the rest of the system talks to.
// Discover additionally reports whether the native context-pairs API produced
// the hits; false means the centroid fallback ran, whose scores are cosine
// similarities rather than ranks.
type Index interface {
	EnsureCollection(ctx context.Context) error
	Upsert(ctx context.Context, points []Point) error
	Search(ctx context.Context, p SearchParams) ([]Result, error)
	Discover(ctx context.Context, p DiscoverParams) ([]Result, bool, error)
	ListFragmentIDs(ctx context.Context, projectID string) ([]string, error)
	DeleteByProject(ctx context.Context, projectID string) error
	DeleteFragment(ctx context.Context, projectID, fragmentID string) error
	HealthCheck(ctx context.Context) error
}

// negativeWeight and the blend split below are the fallback-discovery
// constants shared with the query construction in Discover implementations.
const (
	negativeWeight    = 0.3
	blendQueryWeight  = 0.7
	blendTargetWeight = 0.3
)

// MeanVector averages a set of equal-length vectors. Nil for empty input.
func MeanVector(vecs [][]float32) []float32 {
	if len(vecs) == 0 {
		return nil
	}
	dim := len(vecs[0])
	sum := make([]float64, dim)
	for _, v := range vecs {
		for i := 0; i < dim && i < len(v); i++ {
			sum[i] += float64(v[i])
		}
	}
	out := make([]float32, dim)
	inv := 1.0 / float64(len(vecs))
	for i := range sum {
		out[i] = float32(sum[i] * inv)
	}
	return out
}

// FallbackQuery builds the discovery query vector used when the index has no
// native discovery: the positive centroid pushed away from the negative one.
func FallbackQuery(positives, negatives [][]float32) []float32 {
	pos := MeanVector(positives)
	if pos == nil {
		return nil
	}
	neg := MeanVector(negatives)
	if neg == nil {
		return pos
	}
	out := make([]float32, len(pos))
	for i := range pos {
		n := float32(0)
		if i < len(neg) {
			n = neg[i]
		}
		out[i] = pos[i] - float32(negativeWeight)*n
	}
	return out
}

// BlendWithTarget mixes the fallback query with an explicit target vector so
// the steering examples dominate but the target still anchors the search.
func BlendWithTarget(query, target []float32) []float32 {
	if target == nil {
		return query
	}
	if query == nil {
		return target
	}
	out := make([]float32, len(query))
	for i := range query {
		t := float32(0)
		if i < len(target) {
			t = target[i]
		}
		out[i] = float32(blendQueryWeight)*query[i] + float32(blendTargetWeight)*t
	}
	return out
}

// contextPair is one positive/negative example pair for native discovery.
type contextPair struct {
	positive []float32
	negative []float32
}

// buildContextPairs zips positives with negatives; surplus negatives attach
// to the first positive so no example is dropped. At least one positive is
// required for a non-empty result.
func buildContextPairs(positives, negatives [][]float32) []contextPair {
	if len(positives) == 0 {
		return nil
	}
	n := len(positives)
	if len(negatives) > n {
		n = len(negatives)
	}
	pairs := make([]contextPair, 0, n)
	for i := 0; i < n; i++ {
		p := contextPair{}
		if i < len(positives) {
			p.positive = positives[i]
		} else {
			p.positive = positives[0]
		}
		if i < len(negatives) {
			p.negative = negatives[i]
		}
		pairs = append(pairs, p)
	}
	return pairs
}
