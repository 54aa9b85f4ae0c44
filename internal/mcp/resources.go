package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/fundrag/internal/store"
)

// MaxResourceSize is the largest document text served as a resource (bytes).
const MaxResourceSize = 4 * 1024 * 1024

// RegisterResources registers every indexed document as a resource holding
// its full text. Calling it again registers documents added since and
// removes the resources of pruned documents.
func (s *Server) RegisterResources(ctx context.Context) error {
	docs, err := s.engine.Metadata().ListDocuments(ctx, store.DocumentFilter{})
	if err != nil {
		return fmt.Errorf("failed to list documents: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	added := 0
	current := make(map[string]bool, len(docs))
	for _, d := range docs {
		uri := documentURI(d.ID)
		current[uri] = true
		if s.documents[uri] {
			continue
		}
		s.registerDocumentResource(d)
		s.documents[uri] = true
		added++
	}
	var stale []string
	for uri := range s.documents {
		if !current[uri] {
			stale = append(stale, uri)
			delete(s.documents, uri)
		}
	}
	if len(stale) > 0 {
		s.mcp.RemoveResources(stale...)
	}
	s.logger.Info("registered resources", slog.Int("added", added), slog.Int("removed", len(stale)))
	return nil
}

func (s *Server) registerDocumentResource(d *store.Document) {
	desc := d.Title
	if d.Kind != "" {
		desc += " (" + d.Kind + ")"
	}
	if d.FundCode != "" {
		desc += " fund " + d.FundCode
	}
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        d.ID,
			URI:         documentURI(d.ID),
			Description: desc,
			MIMEType:    MimeTypeForPath(d.SourcePath),
		},
		s.makeDocumentHandler(d.ID, MimeTypeForPath(d.SourcePath)),
	)
}

func (s *Server) makeDocumentHandler(id, mimeType string) mcp.ResourceHandler {
	return func(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		return s.handleReadDocument(ctx, id, mimeType)
	}
}

// handleReadDocument returns the full text of a document.
func (s *Server) handleReadDocument(ctx context.Context, id, mimeType string) (*mcp.ReadResourceResult, error) {
	if id == "" || strings.Contains(id, "#") {
		return nil, NewInvalidParamsError(fmt.Sprintf("invalid document id: %q", id))
	}
	text, err := s.engine.Metadata().FullText(ctx, id)
	if err != nil {
		return nil, MapError(err)
	}
	if len(text) > MaxResourceSize {
		return nil, &MCPError{
			Code:    ErrCodeDocumentTooLarge,
			Message: fmt.Sprintf("document too large: %d bytes (max %d)", len(text), MaxResourceSize),
		}
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{URI: documentURI(id), MIMEType: mimeType, Text: text}},
	}, nil
}

// MetricsOutput is the JSON document of the metrics resource.
type MetricsOutput struct {
	Summary             MetricsSummary   `json:"summary"`
	Outcomes            map[string]int64 `json:"outcomes"`
	FoundByStrategy     map[string]int64 `json:"found_by_strategy"`
	TopTerms            []TermCount      `json:"top_terms"`
	FailedQuestions     []string         `json:"failed_questions"`
	LatencyDistribution map[string]int64 `json:"latency_distribution"`
}

// MetricsSummary gives overall counts.
type MetricsSummary struct {
	TotalQueries int64   `json:"total_queries"`
	FoundPct     float64 `json:"found_pct"`
	ExactRepeats int64   `json:"exact_repeats"`
	Since        string  `json:"since"`
}

// TermCount is a question term and its frequency.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// registerMetricsResource must be called with s.mu held.
func (s *Server) registerMetricsResource() {
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        "retrieval_metrics",
			URI:         metricsURI,
			Description: "Retrieval outcomes, latency and unanswered questions for this session",
			MIMEType:    "application/json",
		},
		s.handleReadMetrics,
	)
}

func (s *Server) handleReadMetrics(_ context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	s.mu.RLock()
	metrics := s.metrics
	s.mu.RUnlock()
	if metrics == nil {
		return nil, NewInvalidParamsError("retrieval metrics not available")
	}

	snap := metrics.Snapshot()
	out := MetricsOutput{
		Summary: MetricsSummary{
			TotalQueries: snap.TotalQueries,
			FoundPct:     snap.FoundRate() * 100,
			ExactRepeats: snap.ExactRepeatCount,
			Since:        snap.Since.UTC().Format("2006-01-02T15:04:05Z"),
		},
		Outcomes:            make(map[string]int64, len(snap.Outcomes)),
		FoundByStrategy:     make(map[string]int64, len(snap.FoundByStrategy)),
		TopTerms:            make([]TermCount, 0, len(snap.TopTerms)),
		FailedQuestions:     make([]string, 0, len(snap.FailedQuestions)),
		LatencyDistribution: make(map[string]int64, len(snap.LatencyDistribution)),
	}
	for o, n := range snap.Outcomes {
		out.Outcomes[string(o)] = n
	}
	for st, n := range snap.FoundByStrategy {
		out.FoundByStrategy[string(st)] = n
	}
	for _, tc := range snap.TopTerms {
		out.TopTerms = append(out.TopTerms, TermCount{Term: tc.Term, Count: tc.Count})
	}
	for _, fq := range snap.FailedQuestions {
		out.FailedQuestions = append(out.FailedQuestions, fq.Question)
	}
	for b, n := range snap.LatencyDistribution {
		out.LatencyDistribution[string(b)] = n
	}

	content, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, MapError(err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{URI: metricsURI, MIMEType: "application/json", Text: string(content)}},
	}, nil
}
