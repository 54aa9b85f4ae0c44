package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/fundrag/internal/retrieval"
	"github.com/Aman-CERP/fundrag/internal/telemetry"
)

func TestRegisterResources(t *testing.T) {
	srv := newTestServer(t, &fakeRetriever{})
	ctx := context.Background()

	require.NoError(t, srv.RegisterResources(ctx))
	require.NoError(t, srv.RegisterResources(ctx))

	assert.Len(t, srv.documents, 2)
	assert.True(t, srv.documents["fundrag://documents/fund-a"])
}

func TestRegisterResources_RemovesPruned(t *testing.T) {
	// Given: registered resources for both documents
	srv := newTestServer(t, &fakeRetriever{})
	ctx := context.Background()
	require.NoError(t, srv.RegisterResources(ctx))

	// When: one document is deleted and resources are refreshed
	require.NoError(t, srv.engine.DeleteDocument(ctx, "fund-b"))
	require.NoError(t, srv.RegisterResources(ctx))

	// Then: only the remaining document is a resource
	assert.Len(t, srv.documents, 1)
	assert.False(t, srv.documents["fundrag://documents/fund-b"])
}

func TestHandleReadDocument(t *testing.T) {
	srv := newTestServer(t, &fakeRetriever{})

	res, err := srv.handleReadDocument(context.Background(), "fund-a", "text/markdown")

	require.NoError(t, err)
	require.Len(t, res.Contents, 1)
	assert.Equal(t, "fundrag://documents/fund-a", res.Contents[0].URI)
	assert.Equal(t, "text/markdown", res.Contents[0].MIMEType)
	assert.Equal(t, "本基金的管理费按前一日基金资产净值的0.8%年费率计提。\n基金托管人为中国银行股份有限公司。", res.Contents[0].Text)
}

func TestHandleReadDocument_Errors(t *testing.T) {
	tests := []struct {
		name string
		id   string
		code int
	}{
		{"missing", "fund-z", ErrCodeDocumentNotFound},
		{"empty id", "", ErrCodeInvalidParams},
		{"chunk id", "fund-a#0", ErrCodeInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &fakeRetriever{})

			_, err := srv.handleReadDocument(context.Background(), tt.id, "text/plain")

			var mcpErr *MCPError
			require.ErrorAs(t, err, &mcpErr)
			assert.Equal(t, tt.code, mcpErr.Code)
		})
	}
}

func TestMetricsResource(t *testing.T) {
	srv := newTestServer(t, &fakeRetriever{})

	// Given: no metrics attached
	_, err := srv.handleReadMetrics(context.Background(), nil)
	require.Error(t, err)

	// Given: metrics with one found and one failed retrieval
	m := telemetry.New(nil, telemetry.Config{})
	t.Cleanup(func() { _ = m.Close() })
	m.RecordRetrieval("管理费是多少", retrieval.RetrievalResult{
		IsFound:  true,
		Sources:  []string{"fund-a"},
		Attempts: []retrieval.RetrievalAttempt{{Strategy: retrieval.StrategyHybrid, Outcome: "found"}},
	}, 2*time.Second)
	m.RecordRetrieval("托管人是谁", retrieval.RetrievalResult{FailureType: retrieval.FailureFinal}, 100*time.Millisecond)
	srv.SetMetrics(m)

	// When: reading the resource
	res, err := srv.handleReadMetrics(context.Background(), nil)

	// Then: the snapshot is rendered as JSON
	require.NoError(t, err)
	require.Len(t, res.Contents, 1)
	assert.Equal(t, "application/json", res.Contents[0].MIMEType)

	var out MetricsOutput
	require.NoError(t, json.Unmarshal([]byte(res.Contents[0].Text), &out))
	assert.Equal(t, int64(2), out.Summary.TotalQueries)
	assert.InDelta(t, 50.0, out.Summary.FoundPct, 0.001)
	assert.Equal(t, int64(1), out.Outcomes["found"])
	assert.Equal(t, int64(1), out.Outcomes["final"])
	assert.Equal(t, int64(1), out.FoundByStrategy["hybrid"])
	assert.Equal(t, []string{"托管人是谁"}, out.FailedQuestions)
	assert.Equal(t, int64(1), out.LatencyDistribution["lt5s"])
	assert.Equal(t, int64(1), out.LatencyDistribution["lt1s"])
}

func TestCorpusDetector(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "documents.yaml"), []byte("documents:\n  - id: a\n  - id: b\n    file: b.txt\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.md"), []byte("甲"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("乙"), 0o644))

	info := NewCorpusDetector(dir, nil).Detect()

	assert.Equal(t, filepath.Base(dir), info.Name)
	assert.True(t, info.HasManifest)
	assert.Equal(t, 2, info.Entries)
	assert.Empty(t, info.Error)
}

func TestCorpusDetector_Problems(t *testing.T) {
	// Given: a manifest naming a missing file
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "documents.yaml"), []byte("documents:\n  - id: gone\n"), 0o644))

	info := NewCorpusDetector(dir, nil).Detect()

	assert.True(t, info.HasManifest)
	assert.Zero(t, info.Entries)
	assert.NotEmpty(t, info.Error)

	// Given: no directory configured
	assert.Equal(t, &CorpusInfo{}, NewCorpusDetector("", nil).Detect())
}
