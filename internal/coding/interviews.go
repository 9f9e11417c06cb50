package coding

import (
	"context"
	"math"
	"sort"
	"strings"

	qerr "github.com/urdimbre/urdimbre-go/internal/errors"
	"github.com/urdimbre/urdimbre-go/internal/models"
)

// Interview orderings.
const (
	OrderIngestDesc          = "ingest-desc"
	OrderIngestAsc           = "ingest-asc"
	OrderAlpha               = "alpha"
	OrderFragmentsDesc       = "fragments-desc"
	OrderFragmentsAsc        = "fragments-asc"
	OrderMaxVariation        = "max-variation"
	OrderTheoreticalSampling = "theoretical-sampling"
)

// Theoretical-sampling weights. Under saturation or an explicit focus the
// gap term dominates so under-analysed strata surface first.
const (
	weightGap      = 0.5
	weightRichness = 0.3
	weightRecency  = 0.2

	focusedWeightGap      = 0.7
	focusedWeightRichness = 0.2
	focusedWeightRecency  = 0.1
)

// SamplingOptions steer list_available_interviews.
type SamplingOptions struct {
	Order string
	// Saturated shifts the sampling weights toward stratum gaps.
	Saturated bool
	// FocusCodes, when set, also shifts weights toward gaps.
	FocusCodes []string
}

// RankedInterview pairs an interview with its sampling score breakdown.
type RankedInterview struct {
	models.InterviewInfo
	Score        float64 `json:"score,omitempty"`
	GapNorm      float64 `json:"gap_norm,omitempty"`
	RichnessNorm float64 `json:"richness_norm,omitempty"`
	RecencyNorm  float64 `json:"recency_norm,omitempty"`
}

// InterviewListing is the ordered result plus the debug ranking block.
type InterviewListing struct {
	Order      string            `json:"order"`
	Interviews []RankedInterview `json:"interviews"`
	Debug      map[string]any    `json:"debug,omitempty"`
}

// ListAvailableInterviews returns the project's interviews under the
// requested ordering. Theoretical sampling scores each interview by stratum
// gap, fragment richness, and recency; the breakdown is kept per row and a
// debug block summarises the weights used.
func (s *Service) ListAvailableInterviews(ctx context.Context, projectID string, opts SamplingOptions) (*InterviewListing, error) {
	if projectID == "" {
		return nil, qerr.TenantRequired("project_id")
	}
	rows, err := s.store.ListInterviews(ctx, projectID)
	if err != nil {
		return nil, err
	}

	ranked := make([]RankedInterview, len(rows))
	for i, r := range rows {
		ranked[i] = RankedInterview{InterviewInfo: r}
	}

	order := opts.Order
	if order == "" {
		order = OrderIngestDesc
	}
	listing := &InterviewListing{Order: order, Interviews: ranked}

	switch order {
	case OrderIngestDesc:
		sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].IngestedAt.After(ranked[j].IngestedAt) })
	case OrderIngestAsc:
		sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].IngestedAt.Before(ranked[j].IngestedAt) })
	case OrderAlpha:
		sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Archivo < ranked[j].Archivo })
	case OrderFragmentsDesc:
		sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Fragments > ranked[j].Fragments })
	case OrderFragmentsAsc:
		sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Fragments < ranked[j].Fragments })
	case OrderMaxVariation:
		listing.Interviews = maxVariation(ranked)
	case OrderTheoreticalSampling:
		listing.Debug = theoreticalSampling(ranked, opts)
	default:
		return nil, qerr.Validationf("unknown interview order %q", order)
	}
	return listing, nil
}

// stratum keys an interview by its sampling dimensions.
func stratum(iv *models.InterviewInfo) string {
	return strings.ToLower(iv.AreaTematica) + "×" + strings.ToLower(iv.ActorPrincipal)
}

// maxVariation round-robins across strata, least-analysed stratum first, so
// consecutive picks differ as much as possible.
func maxVariation(rows []RankedInterview) []RankedInterview {
	groups := map[string][]RankedInterview{}
	var keys []string
	for _, r := range rows {
		k := stratum(&r.InterviewInfo)
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], r)
	}

	analysed := func(k string) float64 {
		frags, coded := 0, 0
		for _, r := range groups[k] {
			frags += r.Fragments
			coded += r.CodedFragments
		}
		if frags == 0 {
			return 0
		}
		return float64(coded) / float64(frags)
	}
	sort.SliceStable(keys, func(i, j int) bool { return analysed(keys[i]) < analysed(keys[j]) })

	out := make([]RankedInterview, 0, len(rows))
	for len(out) < len(rows) {
		for _, k := range keys {
			if len(groups[k]) > 0 {
				out = append(out, groups[k][0])
				groups[k] = groups[k][1:]
			}
		}
	}
	return out
}

// theoreticalSampling scores rows in place and sorts them descending. The
// returned debug block records the weights and per-stratum coverage.
func theoreticalSampling(rows []RankedInterview, opts SamplingOptions) map[string]any {
	wGap, wRich, wRec := weightGap, weightRichness, weightRecency
	if opts.Saturated || len(opts.FocusCodes) > 0 {
		wGap, wRich, wRec = focusedWeightGap, focusedWeightRichness, focusedWeightRecency
	}

	// Stratum coverage: how analysed each area_tematica × actor_principal
	// combination already is.
	stratumFrags := map[string]int{}
	stratumCoded := map[string]int{}
	for _, r := range rows {
		k := stratum(&r.InterviewInfo)
		stratumFrags[k] += r.Fragments
		stratumCoded[k] += r.CodedFragments
	}
	coverage := map[string]float64{}
	for k, frags := range stratumFrags {
		if frags > 0 {
			coverage[k] = float64(stratumCoded[k]) / float64(frags)
		}
	}

	maxFrags := 0
	for _, r := range rows {
		if r.Fragments > maxFrags {
			maxFrags = r.Fragments
		}
	}
	var oldest, newest int64
	for i, r := range rows {
		ts := r.UpdatedAt.Unix()
		if i == 0 || ts < oldest {
			oldest = ts
		}
		if i == 0 || ts > newest {
			newest = ts
		}
	}

	for i := range rows {
		r := &rows[i]
		r.GapNorm = 1 - coverage[stratum(&r.InterviewInfo)]
		if maxFrags > 0 {
			r.RichnessNorm = math.Log1p(float64(r.Fragments)) / math.Log1p(float64(maxFrags))
		}
		if newest > oldest {
			r.RecencyNorm = float64(r.UpdatedAt.Unix()-oldest) / float64(newest-oldest)
		}
		r.Score = wGap*r.GapNorm + wRich*r.RichnessNorm + wRec*r.RecencyNorm
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Score > rows[j].Score })

	return map[string]any{
		"weights":  map[string]float64{"gap": wGap, "richness": wRich, "recency": wRec},
		"coverage": coverage,
		"focused":  opts.Saturated || len(opts.FocusCodes) > 0,
	}
}
