package cmd

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/fundrag/internal/output"
	"github.com/Aman-CERP/fundrag/internal/telemetry"
)

// StatsOutput is the JSON output of stats.
type StatsOutput struct {
	From                string                            `json:"from"`
	To                  string                            `json:"to"`
	TotalQueries        int64                             `json:"total_queries"`
	FoundPct            float64                           `json:"found_pct"`
	Outcomes            map[telemetry.Outcome]int64       `json:"outcomes"`
	LatencyDistribution map[telemetry.LatencyBucket]int64 `json:"latency_distribution"`
	TopTerms            []telemetry.TermCount             `json:"top_terms"`
	FailedQuestions     []telemetry.FailedQuestion        `json:"failed_questions"`
}

func newStatsCmd() *cobra.Command {
	var jsonOutput bool
	var days, limit int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show retrieval statistics",
		Long: `Display persisted retrieval telemetry: outcome counts, latency
distribution, the most frequent question terms and recent questions that
found no answer.

Counts are written by 'fundrag ask' and 'fundrag serve'.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStats(cmd.Context(), cmd, days, limit, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().IntVar(&days, "days", 7, "Number of days to include")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of terms and failed questions")

	return cmd
}

func runStats(ctx context.Context, cmd *cobra.Command, days, limit int, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := openApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	st, err := telemetry.NewSQLiteStore(a.Metadata.DB())
	if err != nil {
		return fmt.Errorf("failed to open telemetry store: %w", err)
	}
	out, err := collectStats(st, time.Now(), days, limit)
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), out)
	}
	printStats(output.New(cmd.OutOrStdout()), out)
	return nil
}

// collectStats reads the last days days, today included.
func collectStats(st telemetry.Store, now time.Time, days, limit int) (*StatsOutput, error) {
	days = max(days, 1)
	out := &StatsOutput{
		From: now.AddDate(0, 0, -(days - 1)).Format("2006-01-02"),
		To:   now.Format("2006-01-02"),
	}

	var err error
	if out.Outcomes, err = st.OutcomeCounts(out.From, out.To); err != nil {
		return nil, fmt.Errorf("read outcomes: %w", err)
	}
	if out.LatencyDistribution, err = st.LatencyCounts(out.From, out.To); err != nil {
		return nil, fmt.Errorf("read latencies: %w", err)
	}
	if out.TopTerms, err = st.TopTerms(limit); err != nil {
		return nil, fmt.Errorf("read top terms: %w", err)
	}
	if out.FailedQuestions, err = st.FailedQuestions(limit); err != nil {
		return nil, fmt.Errorf("read failed questions: %w", err)
	}

	for _, n := range out.Outcomes {
		out.TotalQueries += n
	}
	if out.TotalQueries > 0 {
		out.FoundPct = float64(out.Outcomes[telemetry.OutcomeFound]) / float64(out.TotalQueries) * 100
	}
	return out, nil
}

var latencyOrder = []telemetry.LatencyBucket{
	telemetry.BucketLT1s,
	telemetry.BucketLT5s,
	telemetry.BucketLT15s,
	telemetry.BucketLT60s,
	telemetry.BucketGE60s,
}

func printStats(out *output.Writer, s *StatsOutput) {
	out.Heading(fmt.Sprintf("Retrievals %s .. %s", s.From, s.To))
	out.Field("Total", strconv.FormatInt(s.TotalQueries, 10))
	if s.TotalQueries == 0 {
		out.Dim("No retrievals recorded yet.")
		return
	}
	out.Field("Found", fmt.Sprintf("%.1f%%", s.FoundPct))
	out.Newline()

	outcomes := make([]string, 0, len(s.Outcomes))
	for o := range s.Outcomes {
		outcomes = append(outcomes, string(o))
	}
	sort.Strings(outcomes)
	rows := make([][]string, len(outcomes))
	for i, o := range outcomes {
		rows[i] = []string{o, strconv.FormatInt(s.Outcomes[telemetry.Outcome(o)], 10)}
	}
	out.Table([]string{"OUTCOME", "COUNT"}, rows)
	out.Newline()

	rows = rows[:0]
	for _, b := range latencyOrder {
		rows = append(rows, []string{string(b), strconv.FormatInt(s.LatencyDistribution[b], 10)})
	}
	out.Table([]string{"LATENCY", "COUNT"}, rows)

	if len(s.TopTerms) > 0 {
		out.Newline()
		rows = rows[:0]
		for _, t := range s.TopTerms {
			rows = append(rows, []string{t.Term, strconv.FormatInt(t.Count, 10)})
		}
		out.Table([]string{"TERM", "COUNT"}, rows)
	}

	if len(s.FailedQuestions) > 0 {
		out.Newline()
		out.Heading("Unanswered")
		for _, q := range s.FailedQuestions {
			out.Statusf("-", "%s  %s  %s", q.Timestamp.Local().Format("01-02 15:04"), q.Outcome, q.Question)
		}
	}
}
