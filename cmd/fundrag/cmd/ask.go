package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	frerrors "github.com/Aman-CERP/fundrag/internal/errors"
	"github.com/Aman-CERP/fundrag/internal/output"
	"github.com/Aman-CERP/fundrag/internal/retrieval"
)

// askOptions holds CLI flags for ask.
type askOptions struct {
	document string
	fund     string
	kind     string
	format   string // "text", "json"
	verbose  bool   // list every strategy attempt
}

func newAskCmd() *cobra.Command {
	var opts askOptions

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the indexed documents",
		Long: `Answer a question from the indexed disclosure documents.

Questions scoped to a prospectus run hybrid search and section reading
together; other questions run hybrid search and fall back to reading whole
documents when nothing relevant is found.

Examples:
  fundrag ask "本基金的管理费率是多少？"
  fundrag ask "托管人是谁" --document fund-a-prospectus
  fundrag ask "最近一次分红" --fund 000001 --kind announcement
  fundrag ask "业绩比较基准" --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd.Context(), cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.document, "document", "d", "", "Restrict to one document id")
	cmd.Flags().StringVar(&opts.fund, "fund", "", "Restrict to one fund code")
	cmd.Flags().StringVarP(&opts.kind, "kind", "k", "", "Document kind: prospectus, announcement, periodic_report")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Show every retrieval attempt")

	return cmd
}

func runAsk(ctx context.Context, cmd *cobra.Command, question string, opts askOptions) error {
	if opts.format != "text" && opts.format != "json" {
		return frerrors.ValidationError(fmt.Sprintf("unknown format %q (valid: text, json)", opts.format), nil)
	}
	kind, err := retrieval.ParseDocumentKind(opts.kind)
	if err != nil {
		return frerrors.ValidationError(err.Error(), err)
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

	orchestrator, err := a.Retriever()
	if err != nil {
		return err
	}

	slog.Info("ask_started", slog.String("question", question), slog.String("document_id", opts.document))
	started := time.Now()
	result := orchestrator.Retrieve(ctx, question, retrieval.DocumentScope{
		DocumentID: opts.document,
		FundCode:   opts.fund,
		Kind:       kind,
	})
	slog.Info("ask_complete",
		slog.Bool("is_found", result.IsFound),
		slog.Int64("duration_ms", time.Since(started).Milliseconds()))

	if opts.format == "json" {
		return writeJSON(cmd.OutOrStdout(), result)
	}
	printResult(output.New(cmd.OutOrStdout()), result, opts.verbose)
	return nil
}

// printResult renders a retrieval result for the terminal.
func printResult(out *output.Writer, r retrieval.RetrievalResult, verbose bool) {
	if r.IsFound {
		out.Heading("Answer")
		out.Block(r.Answer)
	} else {
		out.Warning("No answer found")
		if r.Reason != "" {
			out.Field("Reason", r.Reason)
		}
		if r.FailureType != retrieval.FailureNone {
			out.Field("Failure type", string(r.FailureType))
		}
		if r.RawContent != "" {
			out.Newline()
			out.Heading("Relevant excerpts")
			out.Block(r.RawContent)
		}
	}
	if len(r.Sources) > 0 {
		out.Field("Sources", strings.Join(r.Sources, ", "))
	}

	if !verbose || len(r.Attempts) == 0 {
		return
	}
	out.Newline()
	out.Heading("Attempts")
	rows := make([][]string, len(r.Attempts))
	for i, a := range r.Attempts {
		rows[i] = []string{
			string(a.Strategy),
			a.DocumentID,
			a.Outcome,
			string(a.FailureType),
			a.Duration.Round(time.Millisecond).String(),
		}
	}
	out.Table([]string{"STRATEGY", "DOCUMENT", "OUTCOME", "FAILURE", "DURATION"}, rows)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
