package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	frerrors "github.com/Aman-CERP/fundrag/internal/errors"
)

// isolate points the user config at an empty directory and clears every
// FUNDRAG_* variable for the test.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("OPENAI_API_KEY", "")
	for _, o := range envOverrides {
		t.Setenv(o.name, "")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestNewConfig_Defaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, "bleve", cfg.Search.KeywordBackend)
	assert.Equal(t, 15, cfg.Search.TopK)
	assert.Equal(t, 8, cfg.Retrieval.ScoreConcurrency)
	assert.Equal(t, 3000, cfg.Retrieval.ScoreContentLimit)
	assert.Equal(t, 60000, cfg.Retrieval.FulltextContentLimit)
	assert.Equal(t, 300000, cfg.Retrieval.SectionContentLimit)
	assert.Equal(t, "[gap]", cfg.Retrieval.GapMarker)
	assert.True(t, cfg.Retrieval.DualPath)
	assert.Equal(t, 120*time.Second, cfg.Timeouts.Answer)
	assert.Equal(t, "static", cfg.Embeddings.Provider)
	assert.Equal(t, 10*time.Minute, cfg.Cache.MetadataTTL)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_LayersUserProjectAndEnv(t *testing.T) {
	// Given: a user config, a project config and an env override
	isolate(t)
	writeFile(t, UserConfigPath(), `
llm:
  model: user-model
  base_url: http://user.example/v1
search:
  top_k: 20
`)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".fundrag.yaml"), `
search:
  top_k: 30
  keyword_backend: sqlite
retrieval:
  dual_path: false
timeouts:
  answer: 45s
`)
	t.Setenv("FUNDRAG_LLM_MODEL", "env-model")

	// When: loading
	cfg, err := Load(dir)
	require.NoError(t, err)

	// Then: later layers win key by key
	assert.Equal(t, "env-model", cfg.LLM.Model)
	assert.Equal(t, "http://user.example/v1", cfg.LLM.BaseURL)
	assert.Equal(t, 30, cfg.Search.TopK)
	assert.Equal(t, "sqlite", cfg.Search.KeywordBackend)
	assert.False(t, cfg.Retrieval.DualPath, "explicit false in a file overrides the default")
	assert.Equal(t, 45*time.Second, cfg.Timeouts.Answer)
	assert.Equal(t, 5*time.Second, cfg.Timeouts.Fetch)
	assert.Equal(t, filepath.Join(dir, ".fundrag"), cfg.Paths.DataDir)
}

func TestLoad_YMLFallback(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".fundrag.yml"), "search:\n  top_k: 7\n")

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Search.TopK)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		project string
		env     map[string]string
		want    string
	}{
		{name: "bad yaml", project: "search: [", want: "parse config file"},
		{name: "bad duration", project: "timeouts:\n  answer: soon\n", want: "parse config file"},
		{name: "bad backend", project: "search:\n  keyword_backend: lucene\n", want: "keyword_backend"},
		{name: "bad env int", env: map[string]string{"FUNDRAG_TOP_K": "many"}, want: "FUNDRAG_TOP_K"},
		{name: "bad env bool", env: map[string]string{"FUNDRAG_DUAL_PATH": "perhaps"}, want: "FUNDRAG_DUAL_PATH"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			dir := t.TempDir()
			if tt.project != "" {
				writeFile(t, filepath.Join(dir, ".fundrag.yaml"), tt.project)
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load(dir)

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Equal(t, frerrors.ErrCodeConfigInvalid, frerrors.GetCode(err))
		})
	}
}

func TestLoad_APIKeyFallsBackToOpenAIVariable(t *testing.T) {
	isolate(t)
	t.Setenv("OPENAI_API_KEY", "sk-fallback")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "sk-fallback", cfg.LLM.APIKey)

	t.Setenv("FUNDRAG_LLM_API_KEY", "sk-fundrag")
	cfg, err = Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "sk-fundrag", cfg.LLM.APIKey)
}

func TestWriteYAML_RoundTripsWithoutSecret(t *testing.T) {
	isolate(t)
	cfg := NewConfig()
	cfg.LLM.APIKey = "sk-secret"
	cfg.Retrieval.DualPath = false
	cfg.Timeouts.Score = 12 * time.Second
	dir := t.TempDir()
	path := filepath.Join(dir, ".fundrag.yaml")

	require.NoError(t, cfg.WriteYAML(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sk-secret")
	assert.Contains(t, string(data), "score: 12s")

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.False(t, loaded.Retrieval.DualPath)
	assert.Equal(t, 12*time.Second, loaded.Timeouts.Score)
}
