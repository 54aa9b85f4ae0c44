package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/fundrag/internal/output"
	"github.com/Aman-CERP/fundrag/internal/validation"
)

func newEvalCmd() *cobra.Command {
	var jsonOutput bool
	var concurrency int
	var minPass float64

	cmd := &cobra.Command{
		Use:   "eval <suite.yaml>",
		Short: "Run a question suite against the index",
		Long: `Ask every question of a suite and check the results.

A case passes when the answer cites one of its expected sources and
contains every expected substring; unanswerable cases pass when nothing is
found. The command fails when the pass rate is below --min-pass.

Suite format:
  cases:
    - id: fee-rate
      question: 本基金的管理费率是多少
      document: fund-a-prospectus
      sources: [fund-a-prospectus]
      contains: ["1.5%"]
    - id: out-of-corpus
      question: 本基金的业绩比较基准是什么
      document: fund-a-notice
      unanswerable: true`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEval(cmd.Context(), cmd, args[0], concurrency, minPass, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 2, "Cases retrieved at once")
	cmd.Flags().Float64Var(&minPass, "min-pass", 100, "Minimum pass rate in percent")

	return cmd
}

func runEval(ctx context.Context, cmd *cobra.Command, path string, concurrency int, minPass float64, jsonOutput bool) error {
	if minPass < 0 || minPass > 100 {
		return fmt.Errorf("--min-pass must be between 0 and 100")
	}
	suite, err := validation.LoadSuite(path)
	if err != nil {
		return err
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

	report := validation.NewRunner(orchestrator,
		validation.WithConcurrency(concurrency),
		validation.WithLogger(slog.Default().With(slog.String("component", "eval"))),
	).Run(ctx, suite)

	if jsonOutput {
		if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
			return err
		}
	} else {
		printReport(output.New(cmd.OutOrStdout()), report)
	}

	if rate := report.PassRate(); rate < minPass {
		return fmt.Errorf("pass rate %.1f%% is below %.1f%%", rate, minPass)
	}
	return nil
}

func printReport(out *output.Writer, r *validation.Report) {
	rows := make([][]string, 0, len(r.Results))
	for _, res := range r.Results {
		status := "PASS"
		if !res.Passed {
			status = "FAIL"
		}
		rows = append(rows, []string{
			res.ID,
			status,
			strings.Join(res.Strategies, ","),
			res.Duration.Round(time.Millisecond).String(),
		})
	}
	out.Table([]string{"CASE", "RESULT", "STRATEGIES", "DURATION"}, rows)

	for _, res := range r.Results {
		if res.Passed {
			continue
		}
		out.Newline()
		out.Errorf("%s", res.ID)
		for _, p := range res.Problems {
			out.Dim("    " + p)
		}
	}

	out.Newline()
	out.Field("Passed", fmt.Sprintf("%d/%d (%.1f%%)", r.Passed, r.Total, r.PassRate()))
	out.Field("Duration", r.Duration.Round(time.Millisecond).String())
}
