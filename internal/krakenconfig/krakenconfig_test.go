package krakenconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultClientConfig(t *testing.T) {
	cfg := DefaultClientConfig()
	assert.Equal(t, 30, cfg.FlushInterval)
	assert.Equal(t, int64(10*1024*1024), cfg.MemoryThreshold)
	assert.Equal(t, 10, cfg.Depth)
}

func TestLoadPrecedenceExplicitOverridesEverything(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("url: wss://from-file\ndepth: 25\n"), 0o644))

	t.Setenv("KRAKEN_WS_URL", "wss://from-env")

	cfg, err := Load(path, ClientConfig{URL: "wss://explicit"})
	require.NoError(t, err)
	assert.Equal(t, "wss://explicit", cfg.URL, "explicit must win over env and file")
	assert.Equal(t, 25, cfg.Depth, "file value should apply when explicit leaves it zero")
}

func TestLoadPrecedenceEnvOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("url: wss://from-file\n"), 0o644))

	t.Setenv("KRAKEN_WS_URL", "wss://from-env")

	cfg, err := Load(path, ClientConfig{})
	require.NoError(t, err)
	assert.Equal(t, "wss://from-env", cfg.URL)
}

func TestLoadNoConfigPathUsesDefaultsAndEnv(t *testing.T) {
	t.Setenv("KRAKEN_WS_TOKEN", "secret-token")

	cfg, err := Load("", ClientConfig{})
	require.NoError(t, err)
	assert.Equal(t, "secret-token", cfg.Token)
	assert.Equal(t, DefaultClientConfig().URL, cfg.URL)
}

func TestLoadRejectsNonPositiveDepth(t *testing.T) {
	_, err := Load("", ClientConfig{Depth: -1})
	assert.Error(t, err)
}

func TestLoadMissingConfigFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), ClientConfig{})
	assert.Error(t, err)
}

func TestEnvOverrideSummaryNamesBothVars(t *testing.T) {
	summary := EnvOverrideSummary()
	assert.Contains(t, summary, "KRAKEN_WS_URL")
	assert.Contains(t, summary, "KRAKEN_WS_TOKEN")
}
