package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWithNoFile(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.True(t, cfg.SamplerEnabled)
	assert.Equal(t, 99, cfg.SamplerHz)
	assert.Equal(t, 200, cfg.StoreBatchSize)
}

func TestLoadReadsYAMLFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "poe.yaml"), []byte("always: true\nsamplerHz: 49\n"), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.True(t, cfg.Always)
	assert.Equal(t, 49, cfg.SamplerHz)
}

func TestLoadHonorsEnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("POE_SAMPLERHZ", "10")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.SamplerHz)
}
