package mcp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/fundrag/internal/config"
	"github.com/Aman-CERP/fundrag/internal/embed"
	"github.com/Aman-CERP/fundrag/internal/retrieval"
	"github.com/Aman-CERP/fundrag/internal/search"
	"github.com/Aman-CERP/fundrag/internal/store"
)

// fakeRetriever returns a canned result and records the scope it was given.
type fakeRetriever struct {
	mu       sync.Mutex
	result   retrieval.RetrievalResult
	question string
	scope    retrieval.DocumentScope
	calls    int
}

func (f *fakeRetriever) Retrieve(_ context.Context, question string, scope retrieval.DocumentScope) retrieval.RetrievalResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.question = question
	f.scope = scope
	r := f.result
	r.Question = question
	return r
}

func newTestEngine(t *testing.T) *search.Engine {
	t.Helper()
	meta, err := store.NewSQLiteStore("")
	require.NoError(t, err)
	bm25, err := store.NewBM25IndexWithBackend("", store.DefaultBM25Config(), "bleve")
	require.NoError(t, err)
	vec, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(32))
	require.NoError(t, err)
	engine, err := search.NewEngine(meta, bm25, vec, embed.NewStaticEmbedder(32))
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	ctx := context.Background()
	index := func(id, fund, kind, source string, texts ...string) {
		d := search.IndexedDocument{Document: &store.Document{ID: id, Title: id + " title", Kind: kind, FundCode: fund, SourcePath: source}}
		for i, text := range texts {
			d.Chunks = append(d.Chunks, &store.Chunk{ID: store.ChunkID(id, i), DocumentID: id, Seq: i, Content: text})
		}
		require.NoError(t, engine.IndexDocument(ctx, d))
	}
	index("fund-a", "000001", "prospectus", "docs/fund-a.md",
		"本基金的管理费按前一日基金资产净值的0.8%年费率计提。",
		"基金托管人为中国银行股份有限公司。")
	index("fund-b", "000002", "announcement", "docs/fund-b.txt",
		"关于调整管理费率的公告。")
	return engine
}

func newTestServer(t *testing.T, r *fakeRetriever) *Server {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Paths.DocumentsDir = ""
	srv, err := NewServer(r, newTestEngine(t), cfg)
	require.NoError(t, err)
	return srv
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	_, err := NewServer(nil, nil, nil)
	assert.Error(t, err)

	_, err = NewServer(&fakeRetriever{}, nil, nil)
	assert.Error(t, err)
}

func TestServer_Info(t *testing.T) {
	srv := newTestServer(t, &fakeRetriever{})

	name, _ := srv.Info()
	assert.Equal(t, "fundrag", name)
	assert.NotNil(t, srv.MCPServer())

	var names []string
	for _, tool := range srv.ListTools() {
		names = append(names, tool.Name)
		assert.NotEmpty(t, tool.Description)
	}
	assert.Equal(t, []string{"retrieve", "list_documents", "index_status"}, names)
}

func TestRetrieveTool_Found(t *testing.T) {
	// Given: a retriever that finds an answer
	r := &fakeRetriever{result: retrieval.RetrievalResult{
		Answer:  "管理费年费率为0.8%。",
		Sources: []string{"fund-a"},
		IsFound: true,
		Attempts: []retrieval.RetrievalAttempt{
			{Strategy: retrieval.StrategyHybrid, Outcome: "found", Duration: 1500 * time.Millisecond},
		},
	}}
	srv := newTestServer(t, r)

	// When: calling retrieve with a scope
	out, err := srv.CallTool(context.Background(), "retrieve", map[string]any{
		"question":    "  管理费是多少  ",
		"document_id": "fund-a",
		"fund_code":   "000001",
		"kind":        "prospectus",
	})

	// Then: the scope reaches the retriever and markdown is returned
	require.NoError(t, err)
	text, ok := out.(string)
	require.True(t, ok, "expected string result, got %T", out)
	assert.Contains(t, text, "## Answer")
	assert.Contains(t, text, "管理费年费率为0.8%。")
	assert.Contains(t, text, "**Sources:** fund-a")
	assert.Contains(t, text, "- hybrid: found 1.5s")

	assert.Equal(t, "管理费是多少", r.question)
	assert.Equal(t, retrieval.DocumentScope{DocumentID: "fund-a", FundCode: "000001", Kind: retrieval.KindProspectus}, r.scope)
}

func TestRetrieveTool_NotFound(t *testing.T) {
	r := &fakeRetriever{result: retrieval.RetrievalResult{
		Sources:     []string{"fund-b"},
		FailureType: retrieval.FailureNeedsCompensation,
		Reason:      "answer oracle unavailable",
		RawContent:  "Source: fund-b\n关于调整管理费率的公告。",
	}}
	srv := newTestServer(t, r)

	out, err := srv.CallTool(context.Background(), "retrieve", map[string]any{"question": "管理费调整"})

	require.NoError(t, err)
	text := out.(string)
	assert.Contains(t, text, "## No Answer Found")
	assert.Contains(t, text, "**Reason:** answer oracle unavailable")
	assert.Contains(t, text, "**Failure type:** needs_compensation")
	assert.Contains(t, text, "### Relevant Excerpts")
	assert.Contains(t, text, "关于调整管理费率的公告。")
}

func TestRetrieveTool_InvalidParams(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing question", map[string]any{}},
		{"blank question", map[string]any{"question": "   "}},
		{"question of wrong type", map[string]any{"question": 42}},
		{"unknown kind", map[string]any{"question": "管理费", "kind": "brochure"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeRetriever{}
			srv := newTestServer(t, r)

			_, err := srv.CallTool(context.Background(), "retrieve", tt.args)

			var mcpErr *MCPError
			require.ErrorAs(t, err, &mcpErr)
			assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
			assert.Zero(t, r.calls)
		})
	}
}

func TestRetrieveHandler_StructuredOutput(t *testing.T) {
	r := &fakeRetriever{result: retrieval.RetrievalResult{
		Answer:  "托管人为中国银行。",
		Sources: []string{"fund-a"},
		IsFound: true,
		Attempts: []retrieval.RetrievalAttempt{
			{Strategy: retrieval.StrategySection, DocumentID: "fund-a", Outcome: "found", Duration: 20 * time.Millisecond},
		},
	}}
	srv := newTestServer(t, r)

	_, out, err := srv.mcpRetrieveHandler(context.Background(), nil, RetrieveInput{Question: "托管人是谁"})

	require.NoError(t, err)
	assert.True(t, out.IsFound)
	assert.Equal(t, []string{"fund-a"}, out.Sources)
	require.Len(t, out.Attempts, 1)
	assert.Equal(t, AttemptOutput{Strategy: "section", DocumentID: "fund-a", Outcome: "found", DurationMS: 20}, out.Attempts[0])
}

func TestListDocumentsTool(t *testing.T) {
	srv := newTestServer(t, &fakeRetriever{})
	ctx := context.Background()

	tests := []struct {
		name  string
		in    ListDocumentsInput
		ids   []string
		total int
	}{
		{"all", ListDocumentsInput{}, []string{"fund-a", "fund-b"}, 2},
		{"by fund", ListDocumentsInput{FundCode: "000002"}, []string{"fund-b"}, 1},
		{"by kind", ListDocumentsInput{Kind: "Prospectus"}, []string{"fund-a"}, 1},
		{"limited", ListDocumentsInput{Limit: 1}, []string{"fund-a"}, 2},
		{"no match", ListDocumentsInput{FundCode: "999999"}, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := srv.handleListDocuments(ctx, tt.in)

			require.NoError(t, err)
			var ids []string
			for _, d := range out.Documents {
				ids = append(ids, d.ID)
			}
			assert.Equal(t, tt.ids, ids)
			assert.Equal(t, tt.total, out.Total)
		})
	}
}

func TestListDocumentsTool_Markdown(t *testing.T) {
	srv := newTestServer(t, &fakeRetriever{})

	out, err := srv.CallTool(context.Background(), "list_documents", map[string]any{"limit": float64(10)})

	require.NoError(t, err)
	text := out.(string)
	assert.Contains(t, text, "## Documents (2 of 2)")
	assert.Contains(t, text, "| fund-a | fund-a title | prospectus | 000001 |  | 2 |")
}

func TestListDocumentsTool_BadKind(t *testing.T) {
	srv := newTestServer(t, &fakeRetriever{})

	_, err := srv.handleListDocuments(context.Background(), ListDocumentsInput{Kind: "memo"})

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
}

func TestIndexStatusTool(t *testing.T) {
	srv := newTestServer(t, &fakeRetriever{})

	out, err := srv.CallTool(context.Background(), "index_status", nil)

	require.NoError(t, err)
	status, ok := out.(*IndexStatusOutput)
	require.True(t, ok)
	assert.Equal(t, 2, status.Stats.Documents)
	assert.Equal(t, 3, status.Stats.Chunks)
	assert.Equal(t, 3, status.Stats.Vectors)
	assert.Equal(t, "static", status.Embeddings.ActualModel)
	assert.Equal(t, 32, status.Embeddings.Dimensions)
	assert.True(t, status.Embeddings.IsFallbackActive)
	assert.Equal(t, "low", status.Embeddings.SemanticQuality)
	assert.Equal(t, "static", status.Embeddings.Provider)
}

func TestCallTool_Unknown(t *testing.T) {
	srv := newTestServer(t, &fakeRetriever{})

	_, err := srv.CallTool(context.Background(), "search_code", nil)

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeMethodNotFound, mcpErr.Code)
}

func TestServe_UnknownTransport(t *testing.T) {
	srv := newTestServer(t, &fakeRetriever{})

	err := srv.Serve(context.Background(), "sse", "")

	assert.ErrorContains(t, err, "unknown transport")
}

func TestServe_HTTPStopsOnCancel(t *testing.T) {
	srv := newTestServer(t, &fakeRetriever{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, "http", "127.0.0.1:0") }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}
