package runner

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urdimbre/urdimbre-go/internal/artifacts"
	"github.com/urdimbre/urdimbre-go/internal/config"
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

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := NewRegistry(filepath.Join(t.TempDir(), "runner.db"))
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })
	return reg
}

type fakeEmbedder struct{}

func (fakeEmbedder) EmbedOne(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

// scriptedIndex replays one result set per Search call.
type scriptedIndex struct {
	vector.Index
	queue [][]vector.Result
	calls []vector.SearchParams
}

func (s *scriptedIndex) Search(_ context.Context, p vector.SearchParams) ([]vector.Result, error) {
	s.calls = append(s.calls, p)
	if len(s.queue) == 0 {
		return nil, nil
	}
	res := s.queue[0]
	s.queue = s.queue[1:]
	return res, nil
}

// memBlobs is an in-memory artifact store for runner tests.
type memBlobs struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMemBlobs() *memBlobs { return &memBlobs{blobs: map[string][]byte{}} }

func (m *memBlobs) Put(_ context.Context, org, project, logicalPath string, data []byte, _ string) (*artifacts.WriteReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := artifacts.TenantPrefix(org, project) + logicalPath
	m.blobs[name] = data
	return &artifacts.WriteReceipt{Name: name, Bytes: int64(len(data))}, nil
}

func (m *memBlobs) Get(_ context.Context, _, blobName string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blobs[blobName], nil
}

func (m *memBlobs) List(_ context.Context, _, prefix string, _ int) ([]artifacts.BlobInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []artifacts.BlobInfo
	for name, data := range m.blobs {
		if strings.HasPrefix(name, prefix) {
			out = append(out, artifacts.BlobInfo{Name: name, Size: int64(len(data))})
		}
	}
	return out, nil
}

func (m *memBlobs) DeletePrefix(context.Context, string, string) (int, error) { return 0, nil }
func (m *memBlobs) Container() string                                         { return "test" }

func results(pairs ...any) []vector.Result {
	out := make([]vector.Result, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, vector.Result{
			FragmentID: pairs[i].(string),
			Score:      pairs[i+1].(float64),
			Text:       "texto " + pairs[i].(string),
		})
	}
	return out
}

func expectFragment(mock sqlmock.Sqlmock, id string) {
	mock.ExpectQuery(`SELECT fragment_id, project_id, archivo`).
		WithArgs("p1", id).
		WillReturnRows(sqlmock.NewRows([]string{"fragment_id", "project_id", "archivo",
			"par_idx", "speaker", "text", "char_len", "metadata", "created_at"}).
			AddRow(id, "p1", "e1.txt", 0, nil, "texto "+id, 8, nil, time.Now()))
}

func expectExisting(mock sqlmock.Sqlmock, ids ...string) {
	rows := sqlmock.NewRows([]string{"fragment_id"})
	for _, id := range ids {
		rows.AddRow(id)
	}
	mock.ExpectQuery(`SELECT fragment_id FROM fragments WHERE project_id = \$1 AND fragment_id = ANY`).
		WillReturnRows(rows)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Mode = "dev"
	return cfg
}

func TestRunnerSaturationDetection(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM candidate_codes`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`FROM interviews`).
		WillReturnRows(sqlmock.NewRows([]string{"archivo", "project_id", "area_tematica",
			"actor_principal", "ingested_at", "updated_at", "fragments", "coded_fragments"}).
			AddRow("e1.txt", "p1", "", "", time.Now(), time.Now(), 5, 0))
	mock.ExpectQuery(`SELECT fragment_id FROM fragments WHERE project_id = \$1 AND archivo = \$2`).
		WillReturnRows(sqlmock.NewRows([]string{"fragment_id"}).
			AddRow("f1").AddRow("f2").AddRow("f3").AddRow("f4").AddRow("f5"))

	// Steps 1 and 2 bring new fragments; steps 3 and 4 bring nothing new,
	// exhausting a patience of 2.
	idx := &scriptedIndex{queue: [][]vector.Result{
		results("f2", 0.9, "f3", 0.8),
		results("f3", 0.85, "f4", 0.7),
		results("f2", 0.6, "f4", 0.5),
		results("f2", 0.55, "f3", 0.5),
	}}
	expectFragment(mock, "f1")
	expectExisting(mock, "f2", "f3")
	expectFragment(mock, "f2")
	expectExisting(mock, "f3", "f4")
	expectFragment(mock, "f3")
	expectExisting(mock, "f2", "f4")
	expectFragment(mock, "f4")
	expectExisting(mock, "f2", "f3")

	r := New(st, idx, fakeEmbedder{}, nil, nil, newMemBlobs(), newTestRegistry(t), testConfig())
	cp, err := r.Execute(context.Background(), Identity{User: "ana"}, Inputs{
		ProjectID:           "p1",
		StepsPerInterview:   5,
		TopK:                2,
		Strategy:            StrategyFirst,
		IncludeCoded:        true,
		MinNewUniquePerStep: 1,
		SaturationPatience:  2,
	})
	require.NoError(t, err)

	assert.Equal(t, StatusSaturated, cp.Status)
	assert.True(t, cp.Counters.Saturated)
	assert.Contains(t, cp.Counters.Message, "Saturación detectada")
	assert.Equal(t, 4, cp.Cursor.GlobalStepCompleted)
	assert.Equal(t, 4, cp.Counters.VisitedSeeds)
	assert.Equal(t, 3, cp.Counters.UniqueSuggestions)
	require.Len(t, idx.calls, 4)
	assert.Equal(t, "e1.txt", idx.calls[0].Archivo)
	assert.Equal(t, []string{"f1"}, idx.calls[0].ExcludeIDs)
}

func TestRunnerResumeEmitsNextStep(t *testing.T) {
	st, mock := newMockStore(t)
	reg := newTestRegistry(t)

	prev := &Checkpoint{
		TaskID:    "prev-task",
		OwnerUser: "ana",
		OwnerOrg:  "org1",
		Status:    StatusError,
		Inputs: Inputs{
			ProjectID:           "p1",
			StepsPerInterview:   4,
			TopK:                2,
			Strategy:            StrategyFirst,
			IncludeCoded:        true,
			MinNewUniquePerStep: 1,
			SaturationPatience:  3,
			CodeRepeatPatience:  3,
		},
		Interviews: []string{"e1.txt", "e2.txt", "e3.txt"},
		Cursor: Cursor{
			InterviewIndex:           2,
			StepInInterviewCompleted: 3,
			NextSeed:                 "F9",
			GlobalStepCompleted:      7,
		},
		VisitedSeeds: map[string][]string{"e3.txt": {"F7", "F8", "F6"}},
		GlobalUnique: map[string]float64{"F7": 0.9, "F8": 0.8, "F9": 0.7},
		CreatedAt:    time.Now(),
	}
	require.NoError(t, reg.Save(prev))

	mock.ExpectQuery(`SELECT fragment_id FROM fragments WHERE project_id = \$1 AND archivo = \$2`).
		WithArgs("p1", "e3.txt").
		WillReturnRows(sqlmock.NewRows([]string{"fragment_id"}).
			AddRow("F6").AddRow("F7").AddRow("F8").AddRow("F9"))
	expectFragment(mock, "F9")

	idx := &scriptedIndex{queue: [][]vector.Result{nil}}
	r := New(st, idx, fakeEmbedder{}, nil, nil, newMemBlobs(), reg, testConfig())

	cp, err := r.Resume(context.Background(), Identity{User: "ana", Org: "org1"}, "prev-task")
	require.NoError(t, err)

	// The resumed task re-seeds at F9 and emits global step 8, intra 4.
	assert.NotEqual(t, "prev-task", cp.TaskID)
	assert.Equal(t, "prev-task", cp.ResumedFrom)
	assert.Equal(t, 8, cp.Cursor.GlobalStepCompleted)
	assert.Equal(t, 2, cp.Cursor.InterviewIndex)
	assert.Equal(t, StatusCompleted, cp.Status)
	require.Len(t, idx.calls, 1)
	assert.Equal(t, []string{"F9"}, idx.calls[0].ExcludeIDs)
}

func TestResumeRejectsNonOwner(t *testing.T) {
	st, _ := newMockStore(t)
	reg := newTestRegistry(t)
	require.NoError(t, reg.Save(&Checkpoint{
		TaskID:    "t1",
		OwnerUser: "ana",
		OwnerOrg:  "org1",
		Status:    StatusError,
		Inputs:    Inputs{ProjectID: "p1"},
		CreatedAt: time.Now(),
	}))

	r := New(st, &scriptedIndex{}, fakeEmbedder{}, nil, nil, newMemBlobs(), reg, testConfig())
	_, err := r.Resume(context.Background(), Identity{User: "eva", Org: "org1"}, "t1")
	require.Error(t, err)

	// Admins bypass ownership.
	_, err = r.Status(context.Background(), Identity{Admin: true}, "t1")
	require.NoError(t, err)
}

func TestResumeRejectsFinishedTask(t *testing.T) {
	st, _ := newMockStore(t)
	reg := newTestRegistry(t)
	require.NoError(t, reg.Save(&Checkpoint{
		TaskID:    "done",
		OwnerUser: "ana",
		Status:    StatusCompleted,
		Inputs:    Inputs{ProjectID: "p1"},
		CreatedAt: time.Now(),
	}))

	r := New(st, &scriptedIndex{}, fakeEmbedder{}, nil, nil, newMemBlobs(), reg, testConfig())
	_, err := r.Resume(context.Background(), Identity{User: "ana"}, "done")
	require.Error(t, err)
}

func TestExecuteRejectsOrglessInStrictMode(t *testing.T) {
	cfg := config.Default() // strict
	r := New(nil, &scriptedIndex{}, fakeEmbedder{}, nil, nil, newMemBlobs(), nil, cfg)
	_, err := r.Execute(context.Background(), Identity{User: "ana"}, Inputs{ProjectID: "p1"})
	require.Error(t, err)
}

func TestInputsDefaultsAndValidation(t *testing.T) {
	in := Inputs{ProjectID: "p1"}
	in.ApplyDefaults(config.Default().Runner)

	assert.Equal(t, 5, in.TopK)
	assert.Equal(t, 5, in.StepsPerInterview)
	assert.Equal(t, 5, in.CandidatesPerStep)
	assert.Equal(t, 3, in.SaturationPatience)
	assert.Equal(t, 3, in.CodeRepeatPatience)
	assert.Equal(t, 1, in.MinNewUniquePerStep)
	assert.Equal(t, StrategyBestScore, in.Strategy)
	require.NoError(t, in.Validate())

	bad := Inputs{ProjectID: "p1", Strategy: "roulette"}
	require.Error(t, bad.Validate())

	orgless := Inputs{Strategy: StrategyFirst}
	require.Error(t, orgless.Validate())
}

func TestRegistryCancelFlag(t *testing.T) {
	reg := newTestRegistry(t)
	cp := &Checkpoint{TaskID: "t1", OwnerUser: "ana", Inputs: Inputs{ProjectID: "p1"}, CreatedAt: time.Now()}
	require.NoError(t, reg.Save(cp))

	assert.False(t, reg.CancelRequested("t1"))
	require.NoError(t, reg.RequestCancel("t1", Identity{User: "ana"}))
	assert.True(t, reg.CancelRequested("t1"))

	err := reg.RequestCancel("t1", Identity{User: "eva"})
	require.Error(t, err)
}

func TestBackoffDelayBounds(t *testing.T) {
	for attempt := 1; attempt <= 6; attempt++ {
		d := backoffDelay(attempt)
		assert.GreaterOrEqual(t, d, baseBackoff)
		assert.LessOrEqual(t, d, maxBackoff+maxJitter)
	}
	// Attempt 1 backs off ~750ms, attempt 4+ saturates at the cap.
	assert.Less(t, backoffDelay(1), time.Second+maxJitter)
	assert.GreaterOrEqual(t, backoffDelay(4), maxBackoff)
}
