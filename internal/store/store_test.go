package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerr "github.com/urdimbre/urdimbre-go/internal/errors"
	"github.com/urdimbre/urdimbre-go/internal/models"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewWithDB(sqlx.NewDb(db, "sqlmock")), mock
}

func candidateColumns() []string {
	return []string{"id", "project_id", "codigo", "fragment_id", "archivo", "cita",
		"source_origin", "score_confidence", "status", "memo", "promoted_at", "created_at"}
}

func TestPromoteTransaction(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Now()

	mock.ExpectQuery(`SELECT id, project_id, codigo, fragment_id`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(candidateColumns()).
			AddRow(7, "p1", "desarraigo", "frag-1", "entrevista_01.txt", "cita",
				"llm", 0.8, "pendiente", "", nil, now))

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO open_codes`).
		WithArgs("p1", "desarraigo", "frag-1", "entrevista_01.txt").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(42, now))
	mock.ExpectExec(`UPDATE candidate_codes SET status = 'validado', promoted_at = NOW`).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE interviews SET updated_at`).
		WithArgs("p1", "entrevista_01.txt", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO audit_log`).
		WithArgs("p1", "ana", "promote", "candidate:7", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	oc, err := s.Promote(ctx, 7, "ana")
	require.NoError(t, err)
	assert.Equal(t, int64(42), oc.ID)
	assert.Equal(t, "desarraigo", oc.Codigo)
	assert.Equal(t, "frag-1", oc.FragmentID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPromoteRejectedCandidate(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT id, project_id, codigo, fragment_id`).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows(candidateColumns()).
			AddRow(3, "p1", "ruido", "frag-9", "e.txt", "", "llm", 0.5, "rechazado", "", nil, time.Now()))

	_, err := s.Promote(context.Background(), 3, "ana")
	require.Error(t, err)
	assert.Equal(t, 400, qerr.HTTPStatus(err))
}

func TestPromoteHypothesisWithoutEvidence(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT id, project_id, codigo, fragment_id`).
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows(candidateColumns()).
			AddRow(4, "p1", "hipotesis-x", nil, "", "", "llm", 0.5, "hipotesis", "", nil, time.Now()))

	_, err := s.Promote(context.Background(), 4, "ana")
	require.Error(t, err)
	assert.Equal(t, 400, qerr.HTTPStatus(err))
}

func TestInsertCandidatesCountsDuplicates(t *testing.T) {
	s, mock := newMockStore(t)
	frag := "frag-1"

	rows := []*models.CandidateCode{
		{ProjectID: "p1", Codigo: "desarraigo", FragmentID: &frag, SourceOrigin: models.OriginLLM, ScoreConfidence: 0.9},
		{ProjectID: "p1", Codigo: "desarraigo", FragmentID: &frag, SourceOrigin: models.OriginLLM, ScoreConfidence: 0.9},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO candidate_codes`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO candidate_codes`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	res, err := s.InsertCandidates(context.Background(), rows, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Duplicates)
	// An omitted status lands as the tray default instead of failing
	// validation.
	assert.Equal(t, models.CandidatePendiente, rows[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertCandidatesValidation(t *testing.T) {
	s, _ := newMockStore(t)
	frag := "frag-1"

	tests := []struct {
		name string
		row  models.CandidateCode
	}{
		{"missing code", models.CandidateCode{ProjectID: "p1", FragmentID: &frag, SourceOrigin: models.OriginLLM}},
		{"confidence out of range", models.CandidateCode{ProjectID: "p1", Codigo: "x", FragmentID: &frag, SourceOrigin: models.OriginLLM, ScoreConfidence: 1.5}},
		{"hypothesis with fragment", models.CandidateCode{ProjectID: "p1", Codigo: "x", FragmentID: &frag, SourceOrigin: models.OriginLLM, Status: models.CandidateHipotesis}},
		{"unknown origin", models.CandidateCode{ProjectID: "p1", Codigo: "x", FragmentID: &frag, SourceOrigin: "oracle"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := tt.row
			_, err := s.InsertCandidates(context.Background(), []*models.CandidateCode{&row}, false)
			require.Error(t, err)
			assert.Equal(t, 400, qerr.HTTPStatus(err))
		})
	}
}

func TestCountPending(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM candidate_codes WHERE project_id = \$1 AND status = 'pendiente'`).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))

	n, err := s.CountPending(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 12, n)
}

func TestMergeRejectsSelfMerge(t *testing.T) {
	s, _ := newMockStore(t)
	err := s.Merge(context.Background(), "p1", "codigo", "codigo", "ana")
	require.Error(t, err)
	assert.Equal(t, 400, qerr.HTTPStatus(err))
}

func TestDetectPlateau(t *testing.T) {
	curve := func(newCodes ...int) []SaturationPoint {
		pts := make([]SaturationPoint, len(newCodes))
		for i, n := range newCodes {
			pts[i] = SaturationPoint{Archivo: "e", NewCodes: n}
		}
		return pts
	}

	tests := []struct {
		name      string
		points    []SaturationPoint
		window    int
		threshold int
		want      bool
	}{
		{"flat tail", curve(10, 8, 5, 0, 1, 0), 3, 3, true},
		{"still discovering", curve(10, 8, 5, 4, 6, 3), 3, 3, false},
		{"curve shorter than window", curve(10, 0), 3, 3, false},
		{"exact threshold is not plateau", curve(10, 1, 1, 1), 3, 3, false},
		{"zero window", curve(0, 0, 0), 0, 3, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectPlateau(tt.points, tt.window, tt.threshold))
		})
	}
}

func TestSaturationCurveJoinsOnInterviewKey(t *testing.T) {
	s, mock := newMockStore(t)

	// First appearances attach to exactly one interview by key; a timestamp
	// join would double-count codes when two interviews share an ingest
	// instant.
	mock.ExpectQuery(`DISTINCT ON \(o\.codigo\)[\s\S]*LEFT JOIN firsts f ON f\.archivo = i\.archivo`).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"archivo", "new_codes"}).
			AddRow("e1.txt", 4).
			AddRow("e2.txt", 0).
			AddRow("e3.txt", 2))

	pts, err := s.SaturationCurve(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, pts, 3)
	assert.Equal(t, 4, pts[0].CumulativeCodes)
	assert.Equal(t, 4, pts[1].CumulativeCodes)
	assert.Equal(t, 6, pts[2].CumulativeCodes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsEmptyProject(t *testing.T) {
	s, mock := newMockStore(t)

	cols := []string{"fragments", "coded_fragments", "open_codes", "distinct_codes",
		"pending_tray", "validated_tray", "rejected_tray", "hypotheses_tray", "axial_relations"}
	mock.ExpectQuery(`SELECT`).
		WithArgs("vacio").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(0, 0, 0, 0, 0, 0, 0, 0, 0))

	st, err := s.Stats(context.Background(), "vacio")
	require.NoError(t, err)
	assert.Zero(t, st.Fragments)
	assert.Zero(t, st.PendingTray)
}
