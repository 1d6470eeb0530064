package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Kocoro-lab/deepresearch/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.Launcher.Kind)
	assert.Equal(t, 4, cfg.Research.Breadth)
	assert.Equal(t, 2, cfg.Research.Depth)
	assert.Equal(t, 60*time.Second, cfg.Research.ExtractTimeout)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "research.yaml")
	writeFile(t, path, `
launcher:
  kind: temporal
  task_queue: research-q
research:
  breadth: 6
database:
  driver: postgres
  host: db.internal
circuit_breakers:
  database:
    failure_threshold: 9
`)
	t.Setenv("RESEARCH_RESEARCH_DEPTH", "3")
	t.Setenv("GEMINI_API_KEY", "k-123")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "temporal", cfg.Launcher.Kind)
	assert.Equal(t, "research-q", cfg.Launcher.TaskQueue)
	assert.Equal(t, 6, cfg.Research.Breadth)
	assert.Equal(t, 3, cfg.Research.Depth)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "k-123", cfg.LLM.GenAI.APIKey)
	assert.Equal(t, uint32(9), cfg.CircuitBreakers["database"].FailureThreshold)
}

func TestLoadRejectsUnknownLauncher(t *testing.T) {
	t.Setenv("RESEARCH_LAUNCHER_KIND", "lambda")
	_, err := Load("")
	assert.Error(t, err)
}

func TestWarningsFlagRemoteWorkersWithoutRedis(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, cfg.Warnings())

	cfg.Launcher.Kind = "temporal"
	cfg.Launcher.RunWorker = false
	cfg.Redis.Enabled = false
	require.Len(t, cfg.Warnings(), 1)
	assert.Contains(t, cfg.Warnings()[0], "no status events")

	cfg.Launcher.RunWorker = true
	require.Len(t, cfg.Warnings(), 1)
	assert.Contains(t, cfg.Warnings()[0], "other processes")

	cfg.Redis.Enabled = true
	assert.Empty(t, cfg.Warnings())
}

func TestParseModels(t *testing.T) {
	mc, err := ParseModels([]byte(`
identities:
  primary:
    provider: gemini
    model: gemini-2.5-pro
  fallback:
    provider: llm-service
    model: small
rate_limits:
  default_rpm: 60
  model_overrides:
    gemini-2.5-pro: 10
`))
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-pro", mc.Identities.Primary.Model)
	assert.Equal(t, llm.ProviderLLMService, mc.Identities.Fallback.Provider)
	// deep defaults to the primary model
	assert.Equal(t, "gemini-2.5-pro", mc.Identities.Deep.Model)
	assert.Equal(t, 10, mc.LimitFor("gemini", "gemini-2.5-pro").RPM)
	assert.Equal(t, 60, mc.LimitFor("gemini", "other").RPM)
}

func TestParseModelsInvalid(t *testing.T) {
	_, err := ParseModels([]byte("identities:\n  primary:\n    provider: carrier-pigeon\n    model: x\n"))
	assert.Error(t, err)

	_, err = ParseModels([]byte("rate_limits:\n  default_rpm: -1\n"))
	assert.Error(t, err)
}

func TestLoadModelsMissingFile(t *testing.T) {
	mc, err := LoadModels(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, llm.DefaultIdentities(), mc.Identities)
}

func TestManagerReloadsModels(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "models.yaml")
	writeFile(t, path, "identities:\n  primary:\n    model: first\n")

	m, err := NewManager(dir, zap.NewNop())
	require.NoError(t, err)
	m.EnablePolling(20 * time.Millisecond)

	var current atomic.Value
	m.WatchModels("models.yaml", func(mc ModelsConfig) {
		current.Store(mc.Identities.Primary.Model)
	})

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()
	assert.Equal(t, "first", current.Load())

	// invalid content keeps the previous identities
	writeFile(t, path, "identities:\n  primary:\n    provider: nope\n    model: bad\n")
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, "first", current.Load())

	writeFile(t, path, "identities:\n  primary:\n    model: second\n")
	assert.Eventually(t, func() bool { return current.Load() == "second" }, 3*time.Second, 20*time.Millisecond)
}

func TestManagerIgnoresUnregisteredFiles(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, nil)
	require.NoError(t, err)

	var calls atomic.Int32
	m.RegisterHandler("models.yaml", func(ChangeEvent) error {
		calls.Add(1)
		return nil
	})
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	writeFile(t, filepath.Join(dir, "other.yaml"), "a: 1\n")
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
}
