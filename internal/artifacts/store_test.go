package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerr "github.com/urdimbre/urdimbre-go/internal/errors"
)

func newTestStore(t *testing.T, strict bool) *LocalStore {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	s, err := NewLocalStore(afero.NewMemMapFs(), "/blobs", strict, logger)
	require.NoError(t, err)
	return s
}

func TestPutStrictTenancy(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, true)

	t.Run("orgless write rejected", func(t *testing.T) {
		_, err := s.Put(ctx, "", "proj1", "reports/proj1/summary.md", []byte("x"), "text/markdown")
		require.Error(t, err)
		assert.True(t, errors.Is(err, qerr.Validation("")), "expected validation kind, got %v", err)
	})

	t.Run("missing project rejected", func(t *testing.T) {
		_, err := s.Put(ctx, "org1", "", "reports/x.md", []byte("x"), "text/markdown")
		require.Error(t, err)
	})

	t.Run("path traversal rejected", func(t *testing.T) {
		_, err := s.Put(ctx, "org1", "proj1", "../../etc/passwd", []byte("x"), "text/plain")
		require.Error(t, err)
	})

	t.Run("tenant write lands under prefix", func(t *testing.T) {
		rec, err := s.Put(ctx, "org1", "proj1", "reports/proj1/summary.md", []byte("hola"), "text/markdown")
		require.NoError(t, err)
		assert.Equal(t, "org/org1/projects/proj1/reports/proj1/summary.md", rec.Name)
		assert.Equal(t, int64(4), rec.Bytes)
		sum := sha256.Sum256([]byte("hola"))
		assert.Equal(t, hex.EncodeToString(sum[:]), rec.SHA256)
	})
}

func TestPutOrglessNonStrict(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, false)

	rec, err := s.Put(ctx, "", "proj1", "notes/proj1/memo.md", []byte("m"), "text/markdown")
	require.NoError(t, err)
	assert.Equal(t, "orgless/projects/proj1/notes/proj1/memo.md", rec.Name)
}

func TestGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, true)

	rec, err := s.Put(ctx, "o", "p", "logs/runner_checkpoints/p/t1.json", []byte(`{"step":1}`), "application/json")
	require.NoError(t, err)

	data, err := s.Get(ctx, "", rec.Name)
	require.NoError(t, err)
	assert.Equal(t, `{"step":1}`, string(data))

	_, err = s.Get(ctx, "", "org/o/projects/p/missing.json")
	require.Error(t, err)
	assert.Equal(t, 404, qerr.HTTPStatus(err))
}

func TestListAndDeletePrefix(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, true)

	for _, name := range []string{"a.md", "b.md", "c.md"} {
		_, err := s.Put(ctx, "o", "p", "notes/p/runner_semantic/"+name, []byte("x"), "text/markdown")
		require.NoError(t, err)
	}
	_, err := s.Put(ctx, "o", "other", "notes/other/runner_semantic/d.md", []byte("x"), "text/markdown")
	require.NoError(t, err)

	prefix := TenantPrefix("o", "p") + "notes/p/runner_semantic/"
	infos, err := s.List(ctx, "", prefix, 0)
	require.NoError(t, err)
	assert.Len(t, infos, 3)

	infos, err = s.List(ctx, "", prefix, 2)
	require.NoError(t, err)
	assert.Len(t, infos, 2)

	_, err = s.DeletePrefix(ctx, "", "")
	assert.Error(t, err, "unscoped delete must be refused")

	n, err := s.DeletePrefix(ctx, "", prefix)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	infos, err = s.List(ctx, "", TenantPrefix("o", "other"), 0)
	require.NoError(t, err)
	assert.Len(t, infos, 1, "other tenant untouched")
}

func TestRunnerPaths(t *testing.T) {
	ts := time.Date(2026, 3, 9, 10, 30, 0, 0, time.UTC)
	p := RunnerMemoPath("p1", "Entrevista 01.txt", 3, 2, "Desarraigo Forzado", ts)
	assert.Equal(t, "notes/p1/runner_semantic/20260309T103000Z_semantic_runner_entrevista-01-txt_s3_i2_desarraigo-forzado.md", p)

	assert.Equal(t, "logs/runner_checkpoints/p1/t9.json", CheckpointPath("p1", "t9"))
	assert.Equal(t, "logs/runner_reports/p1/t9.json", RunnerReportPath("p1", "t9"))
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "deficit-de-vivienda", Slug("Déficit de vivienda"))
	assert.Equal(t, "a-b", Slug("--a__b--"))
}
