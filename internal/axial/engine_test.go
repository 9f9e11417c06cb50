package axial

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerr "github.com/urdimbre/urdimbre-go/internal/errors"
	"github.com/urdimbre/urdimbre-go/internal/graph"
	"github.com/urdimbre/urdimbre-go/internal/models"
	"github.com/urdimbre/urdimbre-go/internal/store"
)

func newMockStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return store.NewWithDB(sqlx.NewDb(db, "sqlmock")), mock
}

func fragmentRows(ids ...string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"fragment_id", "project_id", "archivo",
		"par_idx", "speaker", "text", "char_len", "metadata", "created_at"})
	for i, id := range ids {
		rows.AddRow(id, "p1", "e.txt", i, nil, "texto", 5, nil, time.Now())
	}
	return rows
}

func relation(tipo models.RelationType, evidencia ...string) *models.AxialRelation {
	return &models.AxialRelation{
		ProjectID: "p1",
		Categoria: "arraigo comunitario",
		Codigo:    "fiestas",
		Tipo:      tipo,
		Evidencia: evidencia,
		Memo:      "las fiestas sostienen el arraigo",
	}
}

func TestAssignAxialRelationRejectsBadTipo(t *testing.T) {
	e := NewEngine(nil, graph.NullProjector{}, nil)
	err := e.AssignAxialRelation(context.Background(), relation("contradice", "f1", "f2"), "ana")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "allowed set")
}

func TestAssignAxialRelationRequiresTwoDistinctEvidence(t *testing.T) {
	e := NewEngine(nil, graph.NullProjector{}, nil)

	err := e.AssignAxialRelation(context.Background(), relation(models.RelationCausa, "f1"), "ana")
	var ae *qerr.AxialError
	require.ErrorAs(t, err, &ae)

	// Repeated ids do not count as distinct.
	err = e.AssignAxialRelation(context.Background(), relation(models.RelationCausa, "f1", "f1"), "ana")
	require.ErrorAs(t, err, &ae)
}

func TestAssignAxialRelationReportsUncodedEvidence(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT fragment_id, project_id, archivo`).
		WillReturnRows(fragmentRows("f1"))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM open_codes`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT fragment_id, project_id, archivo`).
		WillReturnRows(fragmentRows("f2"))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM open_codes`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	e := NewEngine(st, graph.NullProjector{}, nil)
	err := e.AssignAxialRelation(context.Background(), relation(models.RelationCausa, "f1", "f2"), "ana")

	var ae *qerr.AxialError
	require.ErrorAs(t, err, &ae)
	require.Len(t, ae.UncodedIDs, 1)
}

// failingProjector simulates a graph outage after the relational write.
type failingProjector struct {
	graph.NullProjector
}

func (failingProjector) MergeCategoryRelation(context.Context, *models.AxialRelation) error {
	return errors.New("neo4j unreachable")
}

func TestAssignAxialRelationGraphFailureDoesNotRollBack(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT fragment_id, project_id, archivo`).
		WillReturnRows(fragmentRows("f1"))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM open_codes`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT fragment_id, project_id, archivo`).
		WillReturnRows(fragmentRows("f2"))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM open_codes`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO axial_relations`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(9, time.Now()))
	mock.ExpectExec(`INSERT INTO audit_log`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	e := NewEngine(st, failingProjector{}, nil)
	err := e.AssignAxialRelation(context.Background(), relation(models.RelationCausa, "f1", "f2"), "ana")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAssertReadyBlocksEarlyProjects(t *testing.T) {
	st, mock := newMockStore(t)
	cols := []string{"fragments", "coded_fragments", "open_codes", "distinct_codes",
		"pending_tray", "validated_tray", "rejected_tray", "hypotheses_tray", "axial_relations"}
	mock.ExpectQuery(`SELECT`).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(40, 3, 3, 1, 0, 3, 0, 0, 0))

	e := NewEngine(st, graph.NullProjector{}, nil)
	err := e.AssertReady(context.Background(), "p1")

	var nr *qerr.AxialNotReadyError
	require.ErrorAs(t, err, &nr)
	assert.Len(t, nr.BlockingReasons, 2)
}

// fakeAnalyzer replays one canned analysis result.
type fakeAnalyzer struct {
	result *graph.AnalysisResult
	calls  []string
}

func (f *fakeAnalyzer) PageRank(context.Context, string) (*graph.AnalysisResult, error) {
	f.calls = append(f.calls, "pagerank")
	return f.result, nil
}
func (f *fakeAnalyzer) Betweenness(context.Context, string) (*graph.AnalysisResult, error) {
	f.calls = append(f.calls, "betweenness")
	return f.result, nil
}
func (f *fakeAnalyzer) Louvain(context.Context, string) (*graph.AnalysisResult, error) {
	f.calls = append(f.calls, "louvain")
	return f.result, nil
}
func (f *fakeAnalyzer) Leiden(context.Context, string) (*graph.AnalysisResult, error) {
	f.calls = append(f.calls, "leiden")
	return f.result, nil
}

func TestRunGraphAnalysis(t *testing.T) {
	an := &fakeAnalyzer{result: &graph.AnalysisResult{
		Algorithm:  "pagerank",
		Centrality: map[string]float64{"fiestas": 0.4},
		Nodes:      3,
	}}
	e := NewEngine(nil, graph.NullProjector{}, an)

	res, err := e.RunGraphAnalysis(context.Background(), "p1", "pagerank", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"pagerank"}, an.calls)
	assert.Equal(t, 0.4, res.Centrality["fiestas"])

	_, err = e.RunGraphAnalysis(context.Background(), "p1", "kmeans", false)
	require.Error(t, err)

	_, err = e.RunGraphAnalysis(context.Background(), "", "pagerank", false)
	require.Error(t, err)
}
