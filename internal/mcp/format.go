package mcp

import (
	"fmt"
	"strings"
	"time"

	"github.com/Aman-CERP/fundrag/internal/retrieval"
	"github.com/Aman-CERP/fundrag/internal/store"
)

// Resource URIs.
const (
	documentURIPrefix = "fundrag://documents/"
	metricsURI        = "fundrag://metrics"
)

func documentURI(id string) string {
	return documentURIPrefix + id
}

// FormatRetrieval renders a retrieval result as markdown.
func FormatRetrieval(r retrieval.RetrievalResult) string {
	var sb strings.Builder

	if r.IsFound {
		sb.WriteString("## Answer\n\n")
		sb.WriteString(strings.TrimSpace(r.Answer))
		sb.WriteString("\n")
	} else {
		sb.WriteString("## No Answer Found\n\n")
		if r.Reason != "" {
			fmt.Fprintf(&sb, "**Reason:** %s\n", r.Reason)
		}
		if r.FailureType != retrieval.FailureNone {
			fmt.Fprintf(&sb, "**Failure type:** %s\n", r.FailureType)
		}
	}

	if len(r.Sources) > 0 {
		fmt.Fprintf(&sb, "\n**Sources:** %s\n", strings.Join(r.Sources, ", "))
	}

	if r.RawContent != "" {
		sb.WriteString("\n### Relevant Excerpts\n\n")
		sb.WriteString(r.RawContent)
		sb.WriteString("\n")
	}

	if len(r.Attempts) > 0 {
		sb.WriteString("\n### Attempts\n\n")
		for _, a := range r.Attempts {
			fmt.Fprintf(&sb, "- %s", a.Strategy)
			if a.DocumentID != "" {
				fmt.Fprintf(&sb, " (%s)", a.DocumentID)
			}
			fmt.Fprintf(&sb, ": %s", a.Outcome)
			if a.FailureType != retrieval.FailureNone {
				fmt.Fprintf(&sb, " [%s]", a.FailureType)
			}
			fmt.Fprintf(&sb, " %s\n", a.Duration.Round(time.Millisecond))
		}
	}
	return sb.String()
}

// FormatDocumentList renders documents as a markdown table.
func FormatDocumentList(out ListDocumentsOutput) string {
	if len(out.Documents) == 0 {
		return "No documents indexed. Run 'fundrag ingest' first.\n"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Documents (%d of %d)\n\n", len(out.Documents), out.Total)
	sb.WriteString("| ID | Title | Kind | Fund | Published | Chunks |\n")
	sb.WriteString("|----|-------|------|------|-----------|--------|\n")
	for _, d := range out.Documents {
		fmt.Fprintf(&sb, "| %s | %s | %s | %s | %s | %d |\n",
			d.ID, escapeCell(d.Title), d.Kind, d.FundCode, d.PublishedAt, d.Chunks)
	}
	return sb.String()
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}

// ToDocumentOutput converts a stored document.
func ToDocumentOutput(d *store.Document) DocumentOutput {
	out := DocumentOutput{
		ID:       d.ID,
		Title:    d.Title,
		Kind:     d.Kind,
		FundCode: d.FundCode,
		Chunks:   d.ChunkCount,
		URI:      documentURI(d.ID),
	}
	if !d.PublishedAt.IsZero() {
		out.PublishedAt = d.PublishedAt.Format("2006-01-02")
	}
	return out
}

// clampLimit applies a default and bounds to a requested limit.
func clampLimit(limit, defaultVal, lo, hi int) int {
	if limit <= 0 {
		return defaultVal
	}
	return min(max(limit, lo), hi)
}
