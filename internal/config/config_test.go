package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func env(vals map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vals[k]
		return v, ok
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := load(filepath.Join(t.TempDir(), "missing.yaml"), env(nil))
	require.NoError(t, err)

	assert.Equal(t, ProviderOllama, cfg.LLM.Provider)
	assert.Equal(t, 768, cfg.Skills.EmbeddingDim)
	assert.Equal(t, 0.95, cfg.Skills.DuplicateThreshold)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, BackendSQLite, cfg.Storage.Backend)
	assert.Equal(t, "dev", cfg.Eval.Split)
}

func TestFileValues(t *testing.T) {
	path := writeTempConfig(t, `
llm:
  fast_model: llama3.2
retrieval:
  top_k: 8
  min_score: 0.25
retry:
  base_delay: 500ms
eval:
  snapshot_every: 3
`)
	cfg, err := load(path, env(nil))
	require.NoError(t, err)
	assert.Equal(t, "llama3.2", cfg.LLM.FastModel)
	assert.Equal(t, 8, cfg.Retrieval.TopK)
	assert.Equal(t, 0.25, cfg.Retrieval.MinScore)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, 3, cfg.Eval.SnapshotEvery)
	assert.Equal(t, "mistral-nemo", cfg.LLM.DeepModel, "unset key lost its default")
}

func TestEnvOverride(t *testing.T) {
	path := writeTempConfig(t, "retrieval:\n  top_k: 8\n")
	cfg, err := load(path, env(map[string]string{
		"SKILLBENCH_RETRIEVAL_TOP_K": "12",
		"SKILLBENCH_STORAGE_BACKEND": "postgres",
		"SKILLBENCH_POSTGRES_DSN":    "postgres://localhost/skills",
	}))
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Retrieval.TopK)
	assert.Equal(t, BackendPostgres, cfg.Storage.Backend)
	assert.Equal(t, "postgres://localhost/skills", cfg.Secrets.PostgresDSN)
}

func TestInvalidEnvOverrideKeepsValue(t *testing.T) {
	cfg, err := load(filepath.Join(t.TempDir(), "missing.yaml"), env(map[string]string{
		"SKILLBENCH_RETRIEVAL_TOP_K": "many",
	}))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
}

func TestGeminiKeyAlias(t *testing.T) {
	cfg, err := load(filepath.Join(t.TempDir(), "missing.yaml"), env(map[string]string{
		"SKILLBENCH_LLM_PROVIDER": "gemini",
		"GOOGLE_API_KEY":          "g-key",
	}))
	require.NoError(t, err)
	assert.Equal(t, "g-key", cfg.Secrets.GeminiAPIKey)
	assert.Equal(t, "gemini-3-flash-preview", cfg.LLM.FastModel)
	assert.Equal(t, "gemini-embedding-001", cfg.LLM.EmbedModel)
	assert.NoError(t, cfg.Validate())
}

func TestSecretsIgnoredInFile(t *testing.T) {
	path := writeTempConfig(t, "secrets:\n  api_token: from-file\n")
	cfg, err := load(path, env(nil))
	require.NoError(t, err)
	assert.Empty(t, cfg.Secrets.APIToken, "secret read from file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"gemini without key", func(c *Config) { c.LLM.Provider = ProviderGemini }, "GOOGLE_API_KEY"},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "bedrock" }, "llm.provider"},
		{"openrouter generation without key", func(c *Config) { c.LLM.GenerationProvider = ProviderOpenRouter }, "SKILLBENCH_OPENROUTER_API_KEY"},
		{"zero dim", func(c *Config) { c.Skills.EmbeddingDim = 0 }, "skills.embedding_dim"},
		{"threshold above one", func(c *Config) { c.Skills.DuplicateThreshold = 1.5 }, "skills.duplicate_threshold"},
		{"postgres without dsn", func(c *Config) { c.Storage.Backend = BackendPostgres }, "SKILLBENCH_POSTGRES_DSN"},
		{"negative snapshot", func(c *Config) { c.Eval.SnapshotEvery = -1 }, "eval.snapshot_every"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSetKeyRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skillbench", "config.yaml")

	require.NoError(t, SetKey(path, "retrieval.top_k", "7"))
	require.NoError(t, SetKey(path, "llm.fast_model", "qwen2.5"))

	cfg, err := load(path, env(nil))
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Retrieval.TopK)
	assert.Equal(t, "qwen2.5", cfg.LLM.FastModel)
}

func TestSetKeyRejects(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	assert.Error(t, SetKey(path, "secrets.api_token", "x"), "setting a secret")
	assert.Error(t, SetKey(path, "retrieval.top_k", "lots"), "non-integer value")
	assert.Error(t, SetKey(path, "no.such.key", "x"), "unknown key")
}

func TestShowAllOmitsSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Secrets.APIToken = "hidden"
	for _, k := range ShowAll(cfg) {
		assert.False(t, strings.HasPrefix(k.Key, "secrets."), "secret exposed: %+v", k)
		assert.NotEqual(t, "hidden", k.Value, "secret exposed: %+v", k)
	}
	assert.Len(t, ShowAll(cfg), len(ValidKeys()))
}
