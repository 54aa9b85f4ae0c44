package validation

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/fundrag/internal/retrieval"
)

// Retriever answers one question.
type Retriever interface {
	Retrieve(ctx context.Context, question string, scope retrieval.DocumentScope) retrieval.RetrievalResult
}

// CaseResult is the outcome of one case.
type CaseResult struct {
	ID          string                `json:"id"`
	Passed      bool                  `json:"passed"`
	Problems    []string              `json:"problems,omitempty"`
	IsFound     bool                  `json:"is_found"`
	FailureType retrieval.FailureType `json:"failure_type,omitempty"`
	Answer      string                `json:"answer,omitempty"`
	Sources     []string              `json:"sources,omitempty"`
	Strategies  []string              `json:"strategies,omitempty"`
	Duration    time.Duration         `json:"duration_ns"`
}

// Report is the outcome of a suite run, in case order.
type Report struct {
	Timestamp time.Time     `json:"timestamp"`
	Results   []CaseResult  `json:"results"`
	Passed    int           `json:"passed"`
	Total     int           `json:"total"`
	Duration  time.Duration `json:"duration_ns"`
}

// PassRate is the share of passed cases in percent.
func (r *Report) PassRate() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Passed) / float64(r.Total) * 100
}

// Runner runs suites.
type Runner struct {
	retriever   Retriever
	concurrency int
	logger      *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithConcurrency bounds the cases retrieved at once. Default 1.
func WithConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = l
	}
}

// NewRunner creates a Runner over retriever.
func NewRunner(retriever Retriever, opts ...Option) *Runner {
	r := &Runner{
		retriever:   retriever,
		concurrency: 1,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run retrieves every case. Cases not started before ctx ends are reported
// as failed.
func (r *Runner) Run(ctx context.Context, s *Suite) *Report {
	started := time.Now()
	report := &Report{
		Timestamp: started,
		Results:   make([]CaseResult, len(s.Cases)),
		Total:     len(s.Cases),
	}

	g := new(errgroup.Group)
	g.SetLimit(r.concurrency)
	for i, c := range s.Cases {
		if ctx.Err() != nil {
			report.Results[i] = CaseResult{ID: c.ID, Problems: []string{"not run: " + ctx.Err().Error()}}
			continue
		}
		g.Go(func() error {
			report.Results[i] = r.runCase(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range report.Results {
		if res.Passed {
			report.Passed++
		}
	}
	report.Duration = time.Since(started)
	r.logger.Info("validation finished",
		slog.Int("passed", report.Passed),
		slog.Int("total", report.Total),
		slog.Duration("duration", report.Duration))
	return report
}

func (r *Runner) runCase(ctx context.Context, c Case) CaseResult {
	scope, err := c.Scope()
	if err != nil {
		return CaseResult{ID: c.ID, Problems: []string{err.Error()}}
	}

	start := time.Now()
	res := r.retriever.Retrieve(ctx, c.Question, scope)
	out := CaseResult{
		ID:          c.ID,
		IsFound:     res.IsFound,
		FailureType: res.FailureType,
		Answer:      res.Answer,
		Sources:     res.Sources,
		Duration:    time.Since(start),
	}
	for _, a := range res.Attempts {
		if s := string(a.Strategy); !slices.Contains(out.Strategies, s) {
			out.Strategies = append(out.Strategies, s)
		}
	}
	out.Problems = Check(c, res)
	out.Passed = len(out.Problems) == 0

	r.logger.Debug("validation case",
		slog.String("id", c.ID),
		slog.Bool("passed", out.Passed),
		slog.Duration("duration", out.Duration))
	return out
}

// Check lists what res gets wrong for c. An empty list is a pass.
func Check(c Case, res retrieval.RetrievalResult) []string {
	var problems []string
	if c.Unanswerable {
		if res.IsFound {
			problems = append(problems, "expected no answer, got one")
		}
		if res.FailureType == retrieval.FailureRetryable {
			problems = append(problems, "retryable failure: "+res.Reason)
		}
		return problems
	}

	if !res.IsFound {
		return append(problems, fmt.Sprintf("no answer (%s): %s", res.FailureType, res.Reason))
	}
	if len(c.Sources) > 0 && !slices.ContainsFunc(c.Sources, func(s string) bool { return slices.Contains(res.Sources, s) }) {
		problems = append(problems, fmt.Sprintf("cited %v, want one of %v", res.Sources, c.Sources))
	}
	for _, want := range c.Contains {
		if !strings.Contains(res.Answer, want) {
			problems = append(problems, fmt.Sprintf("answer lacks %q", want))
		}
	}
	return problems
}
