package report

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urdimbre/urdimbre-go/internal/artifacts"
)

type fakeBlobs struct {
	blobs map[string][]byte
	mtime map[string]time.Time
}

func (f *fakeBlobs) Put(_ context.Context, org, project, logicalPath string, data []byte, _ string) (*artifacts.WriteReceipt, error) {
	name := artifacts.TenantPrefix(org, project) + logicalPath
	f.blobs[name] = data
	return &artifacts.WriteReceipt{Name: name}, nil
}

func (f *fakeBlobs) Get(_ context.Context, _, name string) ([]byte, error) {
	return f.blobs[name], nil
}

func (f *fakeBlobs) List(_ context.Context, _, prefix string, _ int) ([]artifacts.BlobInfo, error) {
	var out []artifacts.BlobInfo
	for name, data := range f.blobs {
		if strings.HasPrefix(name, prefix) {
			out = append(out, artifacts.BlobInfo{
				Name: name, Size: int64(len(data)), LastModified: f.mtime[name],
			})
		}
	}
	return out, nil
}

func (f *fakeBlobs) DeletePrefix(context.Context, string, string) (int, error) { return 0, nil }
func (f *fakeBlobs) Container() string                                         { return "test" }

func newFakeBlobs(t *testing.T) *fakeBlobs {
	t.Helper()
	f := &fakeBlobs{blobs: map[string][]byte{}, mtime: map[string]time.Time{}}
	ctx := context.Background()
	_, err := f.Put(ctx, "org1", "p1", "reports/p1/executive_summary.md", []byte("# Resumen"), "text/markdown")
	require.NoError(t, err)
	_, err = f.Put(ctx, "org1", "p1",
		artifacts.RunnerMemoPath("p1", "entrevista_01.txt", 3, 2, "desarraigo", time.Now()),
		[]byte("memo"), "text/markdown")
	require.NoError(t, err)
	_, err = f.Put(ctx, "org1", "p1", artifacts.CheckpointPath("p1", "task-1"), []byte("{}"), "application/json")
	require.NoError(t, err)
	_, err = f.Put(ctx, "org1", "p2", "reports/p2/executive_summary.md", []byte("otro"), "text/markdown")
	require.NoError(t, err)
	return f
}

func TestOverviewScopesToTenant(t *testing.T) {
	s := NewSurface(newFakeBlobs(t), nil)

	ov, err := s.Overview(context.Background(), "org1", "p1", true)
	require.NoError(t, err)

	require.Len(t, ov.Reports, 1)
	assert.Contains(t, ov.Reports[0].Name, "org/org1/projects/p1/")
	assert.Equal(t, "# Resumen", ov.Reports[0].Preview)
	require.Len(t, ov.RunnerMemos, 1)
	require.Len(t, ov.Checkpoints, 1)
	assert.Empty(t, ov.RunnerReports)
}

func TestOverviewRequiresProject(t *testing.T) {
	s := NewSurface(newFakeBlobs(t), nil)
	_, err := s.Overview(context.Background(), "org1", "", false)
	require.Error(t, err)
}

func TestListMemosFiltersByArchivo(t *testing.T) {
	s := NewSurface(newFakeBlobs(t), nil)

	memos, err := s.ListMemos(context.Background(), "org1", "p1", "entrevista_01.txt", 10)
	require.NoError(t, err)
	require.Len(t, memos, 1)
	assert.Contains(t, memos[0].Name, "entrevista-01-txt")

	none, err := s.ListMemos(context.Background(), "org1", "p1", "otra.txt", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPreviewBounded(t *testing.T) {
	f := newFakeBlobs(t)
	big := strings.Repeat("x", maxPreviewBytes+100)
	_, err := f.Put(context.Background(), "org1", "p1", "reports/p1/grande.md", []byte(big), "text/markdown")
	require.NoError(t, err)

	s := NewSurface(f, nil)
	ov, err := s.Overview(context.Background(), "org1", "p1", true)
	require.NoError(t, err)

	var found bool
	for _, item := range ov.Reports {
		if strings.Contains(item.Name, "grande") {
			found = true
			assert.True(t, item.PreviewTrunc)
			assert.Len(t, item.Preview, maxPreviewBytes)
		}
	}
	assert.True(t, found)
}
