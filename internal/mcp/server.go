package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/fundrag/internal/config"
	"github.com/Aman-CERP/fundrag/internal/retrieval"
	"github.com/Aman-CERP/fundrag/internal/search"
	"github.com/Aman-CERP/fundrag/internal/store"
	"github.com/Aman-CERP/fundrag/internal/telemetry"
	"github.com/Aman-CERP/fundrag/pkg/version"
)

// ServerName is the implementation name reported to clients.
const ServerName = "fundrag"

// Retriever answers questions. *retrieval.Orchestrator implements it.
type Retriever interface {
	Retrieve(ctx context.Context, question string, scope retrieval.DocumentScope) retrieval.RetrievalResult
}

// Server is the MCP server. It exposes retrieval over fund disclosure
// documents to AI clients.
type Server struct {
	mcp       *mcp.Server
	retriever Retriever
	engine    *search.Engine
	config    *config.Config
	logger    *slog.Logger

	// Retrieval telemetry (optional, set via SetMetrics)
	metrics *telemetry.Metrics

	// document resource URIs already registered
	documents map[string]bool

	mu sync.RWMutex
}

// ToolInfo describes a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var tools = []ToolInfo{
	{
		Name:        "retrieve",
		Description: "Answer a question from indexed fund disclosure documents (prospectuses, periodic reports, announcements). Combines keyword and semantic search, scores relevance, and falls back to full-document and section reading. Returns the answer with the source document ids, or the reason nothing was found. Scope with document_id or fund_code when the question is about one fund.",
	},
	{
		Name:        "list_documents",
		Description: "List indexed documents with their id, title, kind, fund code and publication date. Use it to find the document_id to scope a retrieve call.",
	},
	{
		Name:        "index_status",
		Description: "Report index size, the last ingest time and which embedder is active.",
	},
}

// NewServer creates a server over a retriever and the engine holding the
// indexed documents.
func NewServer(retriever Retriever, engine *search.Engine, cfg *config.Config) (*Server, error) {
	if retriever == nil {
		return nil, errors.New("retriever is required")
	}
	if engine == nil {
		return nil, errors.New("search engine is required")
	}
	if cfg == nil {
		cfg = config.NewConfig()
	}

	s := &Server{
		retriever: retriever,
		engine:    engine,
		config:    cfg,
		logger:    slog.Default(),
		documents: make(map[string]bool),
	}
	s.mcp = mcp.NewServer(
		&mcp.Implementation{Name: ServerName, Version: version.Version},
		nil, // capabilities follow from registered tools and resources
	)
	s.registerTools()
	return s, nil
}

// SetLogger replaces the logger.
func (s *Server) SetLogger(l *slog.Logger) {
	if l == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = l
}

// SetMetrics attaches retrieval telemetry and registers the metrics
// resource.
func (s *Server) SetMetrics(m *telemetry.Metrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
	if m != nil {
		s.registerMetricsResource()
	}
}

// MCPServer returns the underlying SDK server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return ServerName, version.Version
}

// ListTools returns the registered tools.
func (s *Server) ListTools() []ToolInfo {
	return append([]ToolInfo(nil), tools...)
}

// CallTool invokes a tool by name with loosely typed arguments and returns
// markdown for retrieve and list_documents, *IndexStatusOutput for
// index_status.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case "retrieve":
		res, err := s.handleRetrieve(ctx, RetrieveInput{
			Question:   stringArg(args, "question"),
			DocumentID: stringArg(args, "document_id"),
			FundCode:   stringArg(args, "fund_code"),
			Kind:       stringArg(args, "kind"),
		})
		if err != nil {
			return nil, err
		}
		return FormatRetrieval(res), nil
	case "list_documents":
		in := ListDocumentsInput{FundCode: stringArg(args, "fund_code"), Kind: stringArg(args, "kind")}
		if l, ok := args["limit"].(float64); ok {
			in.Limit = int(l)
		}
		out, err := s.handleListDocuments(ctx, in)
		if err != nil {
			return nil, err
		}
		return FormatDocumentList(out), nil
	case "index_status":
		return s.handleIndexStatus(ctx)
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func (s *Server) log() *slog.Logger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logger
}

func (s *Server) handleRetrieve(ctx context.Context, in RetrieveInput) (retrieval.RetrievalResult, error) {
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return retrieval.RetrievalResult{}, NewInvalidParamsError("question is required and must not be blank")
	}
	kind, err := retrieval.ParseDocumentKind(in.Kind)
	if err != nil {
		return retrieval.RetrievalResult{}, NewInvalidParamsError(err.Error())
	}
	scope := retrieval.DocumentScope{
		DocumentID: strings.TrimSpace(in.DocumentID),
		FundCode:   strings.TrimSpace(in.FundCode),
		Kind:       kind,
	}

	logger := s.log().With(slog.String("request_id", generateRequestID()))
	start := time.Now()
	logger.Info("retrieve started",
		slog.String("document_id", scope.DocumentID),
		slog.String("fund_code", scope.FundCode))

	res := s.retriever.Retrieve(ctx, question, scope)

	logger.Info("retrieve completed",
		slog.Duration("duration", time.Since(start)),
		slog.Bool("is_found", res.IsFound),
		slog.String("failure_type", string(res.FailureType)),
		slog.Int("sources", len(res.Sources)))
	return res, nil
}

func (s *Server) handleListDocuments(ctx context.Context, in ListDocumentsInput) (ListDocumentsOutput, error) {
	filter := store.DocumentFilter{FundCode: strings.TrimSpace(in.FundCode)}
	if in.Kind != "" {
		kind, err := retrieval.ParseDocumentKind(in.Kind)
		if err != nil {
			return ListDocumentsOutput{}, NewInvalidParamsError(err.Error())
		}
		filter.Kind = kind.String()
	}

	docs, err := s.engine.Metadata().ListDocuments(ctx, filter)
	if err != nil {
		return ListDocumentsOutput{}, MapError(err)
	}

	limit := clampLimit(in.Limit, 50, 1, 500)
	out := ListDocumentsOutput{Total: len(docs), Documents: make([]DocumentOutput, 0, min(limit, len(docs)))}
	for _, d := range docs {
		if len(out.Documents) == limit {
			break
		}
		out.Documents = append(out.Documents, ToDocumentOutput(d))
	}
	return out, nil
}

func (s *Server) handleIndexStatus(ctx context.Context) (*IndexStatusOutput, error) {
	stats, err := s.engine.Stats(ctx)
	if err != nil {
		return nil, MapError(err)
	}
	last, err := s.engine.Metadata().GetState(ctx, store.StateKeyLastIngest)
	if err != nil {
		s.log().Warn("failed to read last ingest time", slog.String("error", err.Error()))
	}

	fallback := stats.EmbedderModel == "static"
	quality := "high"
	if fallback {
		quality = "low"
	}
	return &IndexStatusOutput{
		Corpus: *NewCorpusDetector(s.config.Paths.DocumentsDir, s.log()).Detect(),
		Stats: IndexStats{
			Documents:   stats.Documents,
			Chunks:      stats.Chunks,
			Sections:    stats.Sections,
			KeywordDocs: stats.KeywordDocs,
			Vectors:     stats.Vectors,
			LastIngest:  last,
		},
		Embeddings: EmbeddingInfo{
			Provider:         s.config.Embeddings.Provider,
			Model:            s.config.Embeddings.Model,
			ActualModel:      stats.EmbedderModel,
			Dimensions:       stats.Dimensions,
			IsFallbackActive: fallback,
			SemanticQuality:  quality,
		},
	}, nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[0].Name, Description: tools[0].Description}, s.mcpRetrieveHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[1].Name, Description: tools[1].Description}, s.mcpListDocumentsHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[2].Name, Description: tools[2].Description}, s.mcpIndexStatusHandler)
	s.logger.Debug("MCP tools registered", slog.Int("count", len(tools)))
}

func (s *Server) mcpRetrieveHandler(ctx context.Context, _ *mcp.CallToolRequest, in RetrieveInput) (*mcp.CallToolResult, RetrieveOutput, error) {
	res, err := s.handleRetrieve(ctx, in)
	if err != nil {
		return nil, RetrieveOutput{}, err
	}
	return nil, ToRetrieveOutput(res), nil
}

func (s *Server) mcpListDocumentsHandler(ctx context.Context, _ *mcp.CallToolRequest, in ListDocumentsInput) (*mcp.CallToolResult, ListDocumentsOutput, error) {
	out, err := s.handleListDocuments(ctx, in)
	if err != nil {
		return nil, ListDocumentsOutput{}, err
	}
	return nil, out, nil
}

func (s *Server) mcpIndexStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (*mcp.CallToolResult, *IndexStatusOutput, error) {
	out, err := s.handleIndexStatus(ctx)
	if err != nil {
		return nil, nil, err
	}
	return nil, out, nil
}

// Serve runs the server until ctx is cancelled. transport is "stdio" or
// "http"; addr is only used by http.
func (s *Server) Serve(ctx context.Context, transport, addr string) error {
	logger := s.log()
	logger.Info("Starting MCP server",
		slog.String("transport", transport),
		slog.String("addr", addr))

	switch transport {
	case "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
			return err
		}
		logger.Info("MCP server stopped gracefully")
		return nil
	case "http":
		return s.serveHTTP(ctx, addr)
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio, http)", transport)
	}
}

func (s *Server) serveHTTP(ctx context.Context, addr string) error {
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.mcp }, nil)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		s.log().Info("MCP server stopped gracefully")
		return nil
	}
}

// Close releases server resources. The SDK server stops with its context.
func (s *Server) Close() error {
	return nil
}

// generateRequestID creates a short id for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
