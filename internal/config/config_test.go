package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
run:
  cluster_id: "cluster-a"
cost:
  markup_rate: 0.1
`)
	cfg, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, int64(512*1024*1024), cfg.ObjectStore.StreamingThresholdBytes)
	assert.Equal(t, 5000, cfg.Sink.BulkBatchSize)
	assert.Equal(t, "cluster-a", cfg.Run.ClusterID)
	assert.Equal(t, 0.1, cfg.Cost.MarkupRate)
	assert.Equal(t, "max", cfg.Cost.Distribution)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeConfig(t, "run:\n  cluster_id: [unterminated\n")
	_, err := Load(path, "")
	assert.Error(t, err)
}

func TestEnvOverridesWinOverFileSecrets(t *testing.T) {
	path := writeConfig(t, `
sink:
  dsn: "postgres://file-value"
`)
	t.Setenv("AGGREGATOR_SINK_DSN", "postgres://env-value")
	cfg, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, "postgres://env-value", cfg.Sink.DSN)
}
