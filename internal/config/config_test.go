package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "strict", cfg.Mode)
	assert.True(t, cfg.Strict())
	assert.Equal(t, 0.55, cfg.Qdrant.AnchorScoreFloor)
	assert.Equal(t, 5, cfg.Runner.TopK)
	assert.Equal(t, 5, cfg.Runner.StepsPerInterview)
	assert.Equal(t, 5, cfg.Runner.CandidatesPerStep)
	assert.Equal(t, 3, cfg.Runner.SaturationPatience)
	assert.Equal(t, 3, cfg.Runner.CodeRepeatPatience)
	assert.Equal(t, 1, cfg.Runner.MinNewUniquePerStep)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://x")
	t.Setenv("ALLOW_ORGLESS_TASKS", "true")
	t.Setenv("FORCE_MOCK_BLOBS", "1")
	t.Setenv("URDIMBRE_MODE", "dev")

	cfg := Default()
	applyEnvOverrides(cfg)

	assert.Equal(t, "postgres://x", cfg.Postgres.DSN)
	assert.True(t, cfg.Flags.AllowOrglessTasks)
	assert.True(t, cfg.Flags.ForceMockBlobs)
	assert.False(t, cfg.Flags.ArtifactsAllowLocalFallback)
	assert.Equal(t, "dev", cfg.Mode)
	assert.False(t, cfg.Strict())
}

func TestLoadWithoutConfigFile(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer func() { _ = os.Chdir(wd) }()

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "fragments", cfg.Qdrant.Collection)
}
