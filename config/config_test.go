package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/avatarmem/config"
	"github.com/becomeliminal/avatarmem/memory"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "avatarmem.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())

	mem := cfg.ForMemory()
	assert.Equal(t, memory.DefaultConfig(), mem)
	assert.Equal(t, memory.DefaultExtractorConfig(), cfg.ForExtractor())
}

func TestLoadOverridesOnlyGivenKeys(t *testing.T) {
	path := writeFile(t, `
log:
  level: debug
memory:
  recall_threshold: 0.72
  turn_timeout: 5s
  retry_transient_store: true
store:
  type: sqlite
  sqlite:
    path: /tmp/frag.db
embedder:
  type: ollama
  model: mxbai-embed-large
  dimensions: 1024
  rate_limit:
    rps: 5
    burst: 2
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 0.72, cfg.Memory.RecallThreshold)
	assert.Equal(t, 5*time.Second, cfg.Memory.TurnTimeout)
	assert.True(t, cfg.Memory.RetryTransientStore)
	assert.Equal(t, 10, cfg.Memory.RecallLimit, "untouched keys keep defaults")
	assert.True(t, cfg.Memory.Enabled)

	assert.Equal(t, config.StoreSQLite, cfg.Store.Type)
	assert.Equal(t, "/tmp/frag.db", cfg.Store.SQLite.Path)
	assert.Equal(t, "mxbai-embed-large", cfg.Embedder.Model)
	assert.Equal(t, 1024, cfg.Embedder.Dimensions)
	assert.Equal(t, 5.0, cfg.Embedder.RateLimit.RPS)
	assert.NoError(t, cfg.Validate())
}

func TestLoadErrors(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = config.Load(writeFile(t, "memory: [not, a, map"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-env")
	t.Setenv("OPENAI_API_KEY", "sk-openai-env")
	t.Setenv("GOOGLE_CLOUD_PROJECT", "my-project")
	t.Setenv("AVATARMEM_LOG_LEVEL", "warn")

	cfg, err := config.Load(writeFile(t, `
generator:
  type: anthropic
embedder:
  type: openai
  api_key: sk-from-file
store:
  type: firestore
`))
	require.NoError(t, err)

	assert.Equal(t, "sk-ant-env", cfg.Generator.APIKey)
	assert.Equal(t, "sk-from-file", cfg.Embedder.APIKey, "file values win over env")
	assert.Equal(t, "my-project", cfg.Store.Firestore.ProjectID)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"bad log level", func(c *config.Config) { c.Log.Level = "loud" }},
		{"threshold above one", func(c *config.Config) { c.Memory.RecallThreshold = 1.5 }},
		{"zero recall limit", func(c *config.Config) { c.Memory.RecallLimit = 0 }},
		{"zero concurrency", func(c *config.Config) { c.Memory.EmbedConcurrency = 0 }},
		{"zero attempts", func(c *config.Config) { c.Memory.EmbedAttempts = 0 }},
		{"zero workers", func(c *config.Config) { c.Memory.Workers = 0 }},
		{"bad min confidence", func(c *config.Config) { c.Extractor.MinConfidence = 2 }},
		{"cache without cost", func(c *config.Config) { c.Cache.MaxCost = 0 }},
		{"unknown store", func(c *config.Config) { c.Store.Type = "redis" }},
		{"sqlite without path", func(c *config.Config) {
			c.Store.Type = config.StoreSQLite
			c.Store.SQLite.Path = ""
		}},
		{"firestore without project", func(c *config.Config) {
			c.Store.Type = config.StoreFirestore
			c.Store.Firestore.ProjectID = ""
		}},
		{"unknown embedder", func(c *config.Config) { c.Embedder.Type = "word2vec" }},
		{"openai embedder without key", func(c *config.Config) { c.Embedder.Type = config.ProviderOpenAI }},
		{"onnx without model", func(c *config.Config) { c.Embedder.Type = config.ProviderONNX }},
		{"negative rps", func(c *config.Config) { c.Embedder.RateLimit.RPS = -1 }},
		{"unknown generator", func(c *config.Config) { c.Generator.Type = "markov" }},
		{"anthropic without key", func(c *config.Config) { c.Generator.Type = config.ProviderAnthropic }},
		{"gemini without credentials", func(c *config.Config) { c.Generator.Type = config.ProviderGemini }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), config.ErrInvalidConfig)
		})
	}
}

func TestCacheDisabledSkipsSizing(t *testing.T) {
	cfg := config.Default()
	cfg.Cache.Enabled = false
	cfg.Cache.MaxCost = 0
	assert.NoError(t, cfg.Validate())
}
