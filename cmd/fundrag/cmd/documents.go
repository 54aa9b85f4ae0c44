package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	frerrors "github.com/Aman-CERP/fundrag/internal/errors"
	"github.com/Aman-CERP/fundrag/internal/output"
	"github.com/Aman-CERP/fundrag/internal/retrieval"
	"github.com/Aman-CERP/fundrag/internal/store"
)

// documentRow is one listed document in JSON output.
type documentRow struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Kind        string `json:"kind,omitempty"`
	FundCode    string `json:"fund_code,omitempty"`
	PublishedAt string `json:"published_at,omitempty"`
	Chunks      int    `json:"chunks"`
	SourcePath  string `json:"source_path"`
}

func newDocumentsCmd() *cobra.Command {
	var fund, kind, format string

	cmd := &cobra.Command{
		Use:     "documents",
		Aliases: []string{"docs"},
		Short:   "List indexed documents",
		Long: `List indexed documents, newest first.

Examples:
  fundrag documents
  fundrag documents --fund 000001 --kind announcement
  fundrag documents --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDocuments(cmd.Context(), cmd, fund, kind, format)
		},
	}

	cmd.Flags().StringVar(&fund, "fund", "", "Only documents of this fund code")
	cmd.Flags().StringVarP(&kind, "kind", "k", "", "Only documents of this kind")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runDocuments(ctx context.Context, cmd *cobra.Command, fund, kind, format string) error {
	if format != "text" && format != "json" {
		return frerrors.ValidationError(fmt.Sprintf("unknown format %q (valid: text, json)", format), nil)
	}
	if kind != "" {
		k, err := retrieval.ParseDocumentKind(kind)
		if err != nil {
			return frerrors.ValidationError(err.Error(), err)
		}
		kind = k.String()
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := openApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	docs, err := a.Engine.Metadata().ListDocuments(ctx, store.DocumentFilter{FundCode: fund, Kind: kind})
	if err != nil {
		return err
	}

	rows := make([]documentRow, len(docs))
	for i, d := range docs {
		rows[i] = documentRow{
			ID:         d.ID,
			Title:      d.Title,
			Kind:       d.Kind,
			FundCode:   d.FundCode,
			Chunks:     d.ChunkCount,
			SourcePath: d.SourcePath,
		}
		if !d.PublishedAt.IsZero() {
			rows[i].PublishedAt = d.PublishedAt.Format("2006-01-02")
		}
	}

	if format == "json" {
		return writeJSON(cmd.OutOrStdout(), rows)
	}

	out := output.New(cmd.OutOrStdout())
	if len(rows) == 0 {
		out.Dim("No documents indexed. Run 'fundrag ingest' first.")
		return nil
	}
	table := make([][]string, len(rows))
	for i, r := range rows {
		table[i] = []string{r.ID, r.Title, r.Kind, r.FundCode, r.PublishedAt, strconv.Itoa(r.Chunks)}
	}
	out.Table([]string{"ID", "TITLE", "KIND", "FUND", "PUBLISHED", "CHUNKS"}, table)
	out.Newline()
	out.Dim(fmt.Sprintf("%d documents", len(rows)))
	return nil
}
