package preflight

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/fundrag/internal/app"
	"github.com/Aman-CERP/fundrag/internal/config"
	"github.com/Aman-CERP/fundrag/internal/embed"
	"github.com/Aman-CERP/fundrag/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	cfg := config.NewConfig()
	cfg.Paths.DataDir = filepath.Join(root, ".fundrag")
	cfg.Paths.DocumentsDir = filepath.Join(root, "documents")
	cfg.Embeddings.Dimensions = 32
	require.NoError(t, os.MkdirAll(cfg.Paths.DocumentsDir, 0o755))
	return cfg
}

func writeDoc(t *testing.T, cfg *config.Config, name string) {
	t.Helper()
	path := filepath.Join(cfg.Paths.DocumentsDir, name)
	require.NoError(t, os.WriteFile(path, []byte("# 第一节 基金费用\n\n管理费1.5%。\n"), 0o644))
}

func find(t *testing.T, results []CheckResult, name string) CheckResult {
	t.Helper()
	for _, r := range results {
		if r.Name == name {
			return r
		}
	}
	t.Fatalf("no %s check", name)
	return CheckResult{}
}

func TestCheckStatus_String(t *testing.T) {
	tests := []struct {
		status CheckStatus
		want   string
	}{
		{StatusPass, "PASS"},
		{StatusWarn, "WARN"},
		{StatusFail, "FAIL"},
		{CheckStatus(9), "UNKNOWN"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.String())
	}
}

func TestCheckResult_JSONStatusByName(t *testing.T) {
	data, err := json.Marshal(CheckResult{Name: "llm", Status: StatusWarn})

	require.NoError(t, err)
	assert.Contains(t, string(data), `"status":"WARN"`)
}

func TestSummary(t *testing.T) {
	tests := []struct {
		name    string
		results []CheckResult
		want    string
	}{
		{"all pass", []CheckResult{{Status: StatusPass, Required: true}}, "ready"},
		{"warning", []CheckResult{{Status: StatusPass}, {Status: StatusWarn, Required: true}}, "ready_with_warnings"},
		{"optional failure", []CheckResult{{Status: StatusFail}}, "ready_with_warnings"},
		{"required failure", []CheckResult{{Status: StatusWarn}, {Status: StatusFail, Required: true}}, "failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Summary(tt.results))
			assert.Equal(t, tt.want == "failed", HasCriticalFailures(tt.results))
		})
	}
}

func TestRunAll_FreshProject(t *testing.T) {
	// Given: a project with one document and no index
	cfg := testConfig(t)
	writeDoc(t, cfg, "fund-a-prospectus.md")

	// When: running every check
	results := New(cfg).RunAll(context.Background())

	// Then: nothing critical fails and the missing index only warns
	require.Len(t, results, 7)
	assert.False(t, HasCriticalFailures(results), "%+v", results)
	assert.Equal(t, StatusPass, find(t, results, "data_dir").Status)
	assert.Equal(t, StatusPass, find(t, results, "documents").Status)
	assert.Equal(t, "1 documents in "+cfg.Paths.DocumentsDir, find(t, results, "documents").Message)
	assert.Equal(t, StatusPass, find(t, results, "embedder").Status)
	assert.Contains(t, find(t, results, "embedder").Message, "32 dimensions")
	assert.Equal(t, StatusWarn, find(t, results, "index").Status)
	assert.DirExists(t, cfg.Paths.DataDir)
}

func TestCheckDocuments(t *testing.T) {
	cfg := testConfig(t)

	r := New(cfg).CheckDocuments()
	assert.Equal(t, StatusWarn, r.Status)

	cfg.Paths.DocumentsDir = filepath.Join(t.TempDir(), "missing")
	r = New(cfg).CheckDocuments()
	assert.True(t, r.IsCritical())
}

func TestCheckEmbedder_Failures(t *testing.T) {
	cfg := testConfig(t)

	broken := func(embed.Config) (embed.Embedder, error) { return nil, errors.New("no provider") }
	r := New(cfg, WithEmbedderFactory(broken)).CheckEmbedder(context.Background())
	assert.True(t, r.IsCritical())
	assert.Contains(t, r.Message, "no provider")

	cfg.Embeddings.Provider = "carrier-pigeon"
	r = New(cfg).CheckEmbedder(context.Background())
	assert.True(t, r.IsCritical())
}

func TestCheckIndex_DimensionMismatch(t *testing.T) {
	// Given: a vector index saved with 16 dimensions
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(cfg.Paths.DataDir, 0o755))
	meta, err := store.NewSQLiteStore(app.MetadataPath(cfg.Paths.DataDir))
	require.NoError(t, err)
	require.NoError(t, meta.Close())
	vec, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(16))
	require.NoError(t, err)
	require.NoError(t, vec.Save(app.VectorPath(cfg.Paths.DataDir)))
	require.NoError(t, vec.Close())

	// When: checking against a 32 dimension configuration
	r := New(cfg).CheckIndex()

	// Then: the mismatch is critical
	assert.True(t, r.IsCritical())
	assert.Contains(t, r.Message, "16 dimensions")
}

func TestCheckIndex_ModelChanged(t *testing.T) {
	// Given: an index saved by an openai model of the configured dimension
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(cfg.Paths.DataDir, 0o755))
	meta, err := store.NewSQLiteStore(app.MetadataPath(cfg.Paths.DataDir))
	require.NoError(t, err)
	require.NoError(t, meta.Close())
	vcfg := store.DefaultVectorStoreConfig(cfg.Embeddings.Dimensions)
	vcfg.Model = "text-embedding-3-small"
	vec, err := store.NewHNSWStore(vcfg)
	require.NoError(t, err)
	require.NoError(t, vec.Save(app.VectorPath(cfg.Paths.DataDir)))
	require.NoError(t, vec.Close())

	// When: checking with the static embedder configured
	r := New(cfg).CheckIndex()

	// Then: the change warns without failing
	assert.Equal(t, StatusWarn, r.Status)
	assert.Contains(t, r.Message, "text-embedding-3-small")
}

func TestCheckLLM(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		apiKey  string
		want    CheckStatus
	}{
		{"hosted with key", "https://api.openai.com/v1", "sk-test", StatusPass},
		{"hosted without key", "https://api.openai.com/v1", "", StatusWarn},
		{"local without key", "http://localhost:11434/v1", "", StatusPass},
		{"invalid url", "not a url", "", StatusFail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.LLM.BaseURL = tt.baseURL
			cfg.LLM.APIKey = tt.apiKey

			r := New(cfg).CheckLLM()

			assert.Equal(t, tt.want, r.Status)
			assert.False(t, r.IsCritical())
		})
	}
}

func TestCheckDiskSpace_MissingPathUsesParent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not", "yet", "created")

	r := New(config.NewConfig()).CheckDiskSpace(path)

	assert.NotEqual(t, "", r.Message)
	assert.NotContains(t, r.Message, "failed to check")
}
