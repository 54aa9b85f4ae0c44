package cmd

import (
	"context"
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/fundrag/internal/output"
	"github.com/Aman-CERP/fundrag/internal/preflight"
)

// DoctorOutput is the JSON output of doctor.
type DoctorOutput struct {
	Status string                  `json:"status"`
	Checks []preflight.CheckResult `json:"checks"`
}

func newDoctorCmd() *cobra.Command {
	var verbose, jsonOutput bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the environment and configuration",
		Long: `Run environment checks before ingesting or serving.

Checks:
  - Data directory is writable, with at least 100 MB free
  - Open file limit (1024 minimum)
  - Documents directory lists at least one document
  - Embedder answers a probe and returns the configured dimensions
  - Saved index matches the embedder dimensions
  - LLM base URL and API key (warning only; ingest needs no LLM)`,
		Example: `  fundrag doctor
  fundrag doctor --verbose
  fundrag doctor --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd.Context(), cmd, verbose, jsonOutput)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show details for every check")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runDoctor(ctx context.Context, cmd *cobra.Command, verbose, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	results := preflight.New(cfg).RunAll(ctx)
	status := preflight.Summary(results)

	if jsonOutput {
		if err := writeJSON(cmd.OutOrStdout(), DoctorOutput{Status: status, Checks: results}); err != nil {
			return err
		}
	} else {
		printDoctor(output.New(cmd.OutOrStdout()), results, status, verbose)
	}

	if preflight.HasCriticalFailures(results) {
		return errors.New("system check failed")
	}
	return nil
}

func printDoctor(out *output.Writer, results []preflight.CheckResult, status string, verbose bool) {
	out.Heading("fundrag doctor")
	for _, r := range results {
		switch {
		case r.Status == preflight.StatusPass:
			out.Successf("%s: %s", r.Name, r.Message)
		case r.IsCritical():
			out.Errorf("%s: %s", r.Name, r.Message)
		default:
			out.Warningf("%s: %s", r.Name, r.Message)
		}
		if r.Details != "" && (verbose || r.Status != preflight.StatusPass) {
			out.Dim("    " + r.Details)
		}
	}
	out.Newline()
	out.Field("Status", strings.ToUpper(status))
}
