package validation

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	frerrors "github.com/Aman-CERP/fundrag/internal/errors"
	"github.com/Aman-CERP/fundrag/internal/retrieval"
)

const suiteYAML = `cases:
  - id: fee-rate
    question: 本基金的管理费率是多少
    document: fund-a-prospectus
    sources: [fund-a-prospectus]
    contains: ["1.5%"]
  - id: manager
    question: 现任基金经理是谁
    kind: announcement
    contains: ["张三"]
  - id: benchmark
    question: 业绩比较基准是什么
    document: fund-a-notice
    unanswerable: true
`

func writeSuite(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "suite.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// mapRetriever answers from a question-keyed table.
type mapRetriever struct {
	answers map[string]retrieval.RetrievalResult
	calls   atomic.Int32
}

func (m *mapRetriever) Retrieve(_ context.Context, q string, scope retrieval.DocumentScope) retrieval.RetrievalResult {
	m.calls.Add(1)
	if r, ok := m.answers[q]; ok {
		return r
	}
	return retrieval.RetrievalResult{Question: q, FailureType: retrieval.FailureFinal, Reason: "nothing relevant"}
}

func TestLoadSuite(t *testing.T) {
	s, err := LoadSuite(writeSuite(t, suiteYAML))

	require.NoError(t, err)
	require.Len(t, s.Cases, 3)
	assert.Equal(t, []string{"1.5%"}, s.Cases[0].Contains)
	scope, err := s.Cases[1].Scope()
	require.NoError(t, err)
	assert.Equal(t, retrieval.KindAnnouncement, scope.Kind)
	assert.True(t, s.Cases[2].Unanswerable)
}

func TestLoadSuite_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"empty", "cases: []\n", "no cases"},
		{"missing id", "cases:\n  - question: q\n", "has no id"},
		{"duplicate id", "cases:\n  - {id: a, question: q}\n  - {id: a, question: r}\n", "duplicate case id a"},
		{"missing question", "cases:\n  - id: a\n", "has no question"},
		{"unknown kind", "cases:\n  - {id: a, question: q, kind: memo}\n", "case a"},
		{"contradiction", "cases:\n  - {id: a, question: q, unanswerable: true, contains: [x]}\n", "unanswerable"},
		{"not yaml", "cases: [\n", "invalid suite file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadSuite(writeSuite(t, tt.content))

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Equal(t, frerrors.ErrCodeInvalidInput, frerrors.GetCode(err))
		})
	}
}

func TestCheck(t *testing.T) {
	found := retrieval.RetrievalResult{IsFound: true, Answer: "管理费年费率为1.5%。", Sources: []string{"fund-a-prospectus"}}

	tests := []struct {
		name     string
		c        Case
		res      retrieval.RetrievalResult
		problems int
		want     string
	}{
		{"pass", Case{Sources: []string{"fund-a-prospectus"}, Contains: []string{"1.5%"}}, found, 0, ""},
		{"any listed source", Case{Sources: []string{"fund-b", "fund-a-prospectus"}}, found, 0, ""},
		{"wrong source", Case{Sources: []string{"fund-b"}}, found, 1, "want one of"},
		{"missing text", Case{Contains: []string{"0.8%", "1.5%"}}, found, 1, `lacks "0.8%"`},
		{"not found", Case{}, retrieval.RetrievalResult{FailureType: retrieval.FailureFinal, Reason: "none"}, 1, "no answer (final)"},
		{"unanswerable pass", Case{Unanswerable: true}, retrieval.RetrievalResult{FailureType: retrieval.FailureFinal}, 0, ""},
		{"unanswerable answered", Case{Unanswerable: true}, found, 1, "expected no answer"},
		{"unanswerable retryable", Case{Unanswerable: true}, retrieval.RetrievalResult{FailureType: retrieval.FailureRetryable}, 1, "retryable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Check(tt.c, tt.res)

			assert.Len(t, got, tt.problems)
			if tt.want != "" {
				assert.Contains(t, strings.Join(got, "; "), tt.want)
			}
		})
	}
}

func TestRunner_Run(t *testing.T) {
	// Given: a retriever that answers the fee question only
	s, err := LoadSuite(writeSuite(t, suiteYAML))
	require.NoError(t, err)
	r := &mapRetriever{answers: map[string]retrieval.RetrievalResult{
		"本基金的管理费率是多少": {
			IsFound:  true,
			Answer:   "管理费年费率为1.5%。",
			Sources:  []string{"fund-a-prospectus"},
			Attempts: []retrieval.RetrievalAttempt{{Strategy: retrieval.StrategyHybrid}, {Strategy: retrieval.StrategySection}, {Strategy: retrieval.StrategyHybrid}},
		},
	}}

	// When: running the suite with two workers
	report := NewRunner(r, WithConcurrency(2)).Run(context.Background(), s)

	// Then: results keep case order and the manager case fails
	assert.Equal(t, int32(3), r.calls.Load())
	require.Len(t, report.Results, 3)
	assert.Equal(t, []string{"fee-rate", "manager", "benchmark"}, []string{report.Results[0].ID, report.Results[1].ID, report.Results[2].ID})
	assert.True(t, report.Results[0].Passed)
	assert.Equal(t, []string{"hybrid", "section"}, report.Results[0].Strategies)
	assert.False(t, report.Results[1].Passed)
	assert.True(t, report.Results[2].Passed)
	assert.Equal(t, 2, report.Passed)
	assert.Equal(t, 3, report.Total)
	assert.InDelta(t, 66.67, report.PassRate(), 0.01)
}

func TestRunner_CancelledBeforeStart(t *testing.T) {
	s, err := LoadSuite(writeSuite(t, suiteYAML))
	require.NoError(t, err)
	r := &mapRetriever{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := NewRunner(r).Run(ctx, s)

	assert.Equal(t, int32(0), r.calls.Load())
	assert.Equal(t, 0, report.Passed)
	assert.Contains(t, report.Results[0].Problems[0], "not run")
}
