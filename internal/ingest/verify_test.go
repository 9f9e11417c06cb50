package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urdimbre/urdimbre-go/internal/store"
	"github.com/urdimbre/urdimbre-go/internal/vector"
)

type fakeVerifyIndex struct {
	vector.Index
	ids []string
}

func (f *fakeVerifyIndex) ListFragmentIDs(context.Context, string) ([]string, error) {
	return f.ids, nil
}

type fakeVerifyGraph struct {
	ids            []string
	edgeViolations int
}

func (f *fakeVerifyGraph) FragmentIDs(context.Context, string) ([]string, error) {
	return f.ids, nil
}

func (f *fakeVerifyGraph) EdgeTenantViolations(context.Context, string) (int, error) {
	return f.edgeViolations, nil
}

func expectRelationalFragments(mock sqlmock.Sqlmock, archivo string, ids ...string) {
	now := time.Now()
	cols := []string{"archivo", "project_id", "area_tematica", "actor_principal",
		"ingested_at", "updated_at", "fragments", "coded_fragments"}
	mock.ExpectQuery(`FROM interviews i`).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(archivo, "p1", "", "", now, now, len(ids), 0))
	fragRows := sqlmock.NewRows([]string{"fragment_id"})
	for _, id := range ids {
		fragRows.AddRow(id)
	}
	mock.ExpectQuery(`SELECT fragment_id FROM fragments`).
		WithArgs("p1", archivo).
		WillReturnRows(fragRows)
}

func TestVerifyReportsOrphansAndMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	st := store.NewWithDB(sqlx.NewDb(db, "sqlmock"))

	expectRelationalFragments(mock, "e1.txt", "f1", "f2")

	v := NewVerifier(st,
		&fakeVerifyIndex{ids: []string{"f1", "f2", "huerfano"}},
		&fakeVerifyGraph{ids: []string{"f1"}})

	report, err := v.Verify(context.Background(), "p1")
	require.NoError(t, err)

	assert.Equal(t, []string{"huerfano"}, report.VectorOrphans)
	assert.Equal(t, []string{"f2"}, report.MissingInGraph)
	assert.Empty(t, report.MissingInVector)
	assert.False(t, report.Consistent())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifyFlagsUntenantedEdges(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	st := store.NewWithDB(sqlx.NewDb(db, "sqlmock"))

	expectRelationalFragments(mock, "e1.txt", "f1")

	// Stores agree on membership, but one graph edge misses its tenant
	// stamp; the pass must not report the project consistent.
	v := NewVerifier(st,
		&fakeVerifyIndex{ids: []string{"f1"}},
		&fakeVerifyGraph{ids: []string{"f1"}, edgeViolations: 1})

	report, err := v.Verify(context.Background(), "p1")
	require.NoError(t, err)

	assert.Equal(t, 1, report.EdgeViolations)
	assert.False(t, report.Consistent())

	clean := &VerifyReport{}
	assert.True(t, clean.Consistent())
}
