package coding

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urdimbre/urdimbre-go/internal/graph"
	"github.com/urdimbre/urdimbre-go/internal/models"
	"github.com/urdimbre/urdimbre-go/internal/store"
	"github.com/urdimbre/urdimbre-go/internal/vector"
)

func newMockStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return store.NewWithDB(sqlx.NewDb(db, "sqlmock")), mock
}

type fakeEmbedder struct{}

func (fakeEmbedder) EmbedOne(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

type fakeIndex struct {
	vector.Index
	results []vector.Result
	last    vector.SearchParams
}

func (f *fakeIndex) Search(_ context.Context, p vector.SearchParams) ([]vector.Result, error) {
	f.last = p
	return f.results, nil
}

func TestAssignOpenCodeQueuesCandidate(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT fragment_id, project_id, archivo`).
		WithArgs("p1", "frag-1").
		WillReturnRows(sqlmock.NewRows([]string{"fragment_id", "project_id", "archivo",
			"par_idx", "speaker", "text", "char_len", "metadata", "created_at"}).
			AddRow("frag-1", "p1", "entrevista_01.txt", 0, nil, "texto", 5, nil, time.Now()))
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO candidate_codes`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectQuery(`SELECT DISTINCT codigo FROM candidate_codes`).
		WillReturnRows(sqlmock.NewRows([]string{"codigo"}))

	svc := NewService(st, graph.NullProjector{})
	c, err := svc.AssignOpenCode(context.Background(), "p1", "ana", "desarraigo", "frag-1", "una cita")
	require.NoError(t, err)

	assert.Equal(t, models.OriginManual, c.SourceOrigin)
	assert.Equal(t, 1.0, c.ScoreConfidence)
	assert.Equal(t, models.CandidatePendiente, c.Status)
	assert.Equal(t, "entrevista_01.txt", c.Archivo)
}

func TestApplyFeedbackUnknownAction(t *testing.T) {
	svc := NewService(nil, graph.NullProjector{})
	_, err := svc.ApplyFeedback(context.Background(), 1, "ana", "maybe", "")
	require.Error(t, err)

	_, err = svc.ApplyFeedback(context.Background(), 1, "ana", FeedbackEdit, "")
	require.Error(t, err)
}

func TestComparisonIDStable(t *testing.T) {
	a := ComparisonID("p1", "frag-1", "frag-2")
	b := ComparisonID("p1", "frag-2", "frag-1")
	c := ComparisonID("p1", "frag-1", "frag-3")
	d := ComparisonID("p2", "frag-1", "frag-2")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
	assert.Len(t, a, 32)
}

func TestFindSimilarCodesRanksByAverageScore(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT id, project_id, codigo, fragment_id, archivo, created_at`).
		WithArgs("p1", "desarraigo", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "project_id", "codigo", "fragment_id", "archivo", "created_at"}).
			AddRow(1, "p1", "desarraigo", "frag-src", "e.txt", time.Now()))
	mock.ExpectQuery(`SELECT fragment_id, project_id, archivo`).
		WithArgs("p1", "frag-src").
		WillReturnRows(sqlmock.NewRows([]string{"fragment_id", "project_id", "archivo",
			"par_idx", "speaker", "text", "char_len", "metadata", "created_at"}).
			AddRow("frag-src", "p1", "e.txt", 0, nil, "texto fuente", 12, nil, time.Now()))
	mock.ExpectQuery(`SELECT fragment_id, codigo FROM open_codes`).
		WithArgs("p1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"fragment_id", "codigo"}).
			AddRow("n1", "nostalgia").
			AddRow("n2", "nostalgia").
			AddRow("n2", "desarraigo").
			AddRow("n3", "vivienda"))

	idx := &fakeIndex{results: []vector.Result{
		{FragmentID: "n1", Score: 0.9},
		{FragmentID: "n2", Score: 0.7},
		{FragmentID: "n3", Score: 0.6},
	}}
	sim := NewSimilarity(st, idx, fakeEmbedder{}, nil)

	codes, err := sim.FindSimilarCodes(context.Background(), "p1", "desarraigo", 5)
	require.NoError(t, err)

	// The source code is excluded; nostalgia averages (0.9+0.7)/2 = 0.8,
	// vivienda 0.6.
	require.Len(t, codes, 2)
	assert.Equal(t, "nostalgia", codes[0].Codigo)
	assert.InDelta(t, 0.8, codes[0].AvgScore, 1e-9)
	assert.Equal(t, 2, codes[0].Fragments)
	assert.Equal(t, "vivienda", codes[1].Codigo)

	// The neighbourhood pool is wide and excludes the source fragment.
	assert.Equal(t, codeNeighbourPool, idx.last.Limit)
	assert.Equal(t, []string{"frag-src"}, idx.last.ExcludeIDs)
}

func ranked(archivo, area, actor string, frags, coded int, ingested time.Time) models.InterviewInfo {
	return models.InterviewInfo{
		Archivo:        archivo,
		ProjectID:      "p1",
		Fragments:      frags,
		CodedFragments: coded,
		AreaTematica:   area,
		ActorPrincipal: actor,
		IngestedAt:     ingested,
		UpdatedAt:      ingested,
	}
}

func TestTheoreticalSamplingFavoursGaps(t *testing.T) {
	now := time.Now()
	rows := []RankedInterview{
		{InterviewInfo: ranked("analizada.txt", "fiestas", "vecino", 100, 95, now.Add(-48*time.Hour))},
		{InterviewInfo: ranked("pendiente.txt", "vivienda", "migrante", 100, 5, now.Add(-24*time.Hour))},
	}

	debug := theoreticalSampling(rows, SamplingOptions{})
	require.NotNil(t, debug)

	assert.Equal(t, "pendiente.txt", rows[0].Archivo)
	assert.Greater(t, rows[0].GapNorm, rows[1].GapNorm)
	assert.Greater(t, rows[0].Score, rows[1].Score)

	weights := debug["weights"].(map[string]float64)
	assert.Equal(t, weightGap, weights["gap"])
}

func TestTheoreticalSamplingSaturatedShiftsWeights(t *testing.T) {
	rows := []RankedInterview{
		{InterviewInfo: ranked("a.txt", "fiestas", "vecino", 10, 2, time.Now())},
	}
	debug := theoreticalSampling(rows, SamplingOptions{Saturated: true})
	weights := debug["weights"].(map[string]float64)
	assert.Equal(t, focusedWeightGap, weights["gap"])
	assert.Equal(t, true, debug["focused"])
}

func TestMaxVariationAlternatesStrata(t *testing.T) {
	now := time.Now()
	rows := []RankedInterview{
		{InterviewInfo: ranked("a1.txt", "fiestas", "vecino", 10, 9, now)},
		{InterviewInfo: ranked("a2.txt", "fiestas", "vecino", 10, 8, now)},
		{InterviewInfo: ranked("b1.txt", "vivienda", "migrante", 10, 1, now)},
	}
	out := maxVariation(rows)
	require.Len(t, out, 3)

	// The under-analysed stratum leads, then strata alternate.
	assert.Equal(t, "b1.txt", out[0].Archivo)
	assert.Equal(t, "a1.txt", out[1].Archivo)
	assert.Equal(t, "a2.txt", out[2].Archivo)
}

func TestListAvailableInterviewsUnknownOrder(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery(`FROM interviews`).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"archivo", "project_id", "area_tematica",
			"actor_principal", "ingested_at", "updated_at", "fragments", "coded_fragments"}))

	svc := NewService(st, graph.NullProjector{})
	_, err := svc.ListAvailableInterviews(context.Background(), "p1", SamplingOptions{Order: "random"})
	require.Error(t, err)
}
