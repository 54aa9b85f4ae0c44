package retrieval

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	frerrors "github.com/Aman-CERP/fundrag/internal/errors"
)

// singleDocumentDeps returns a document "fund-a" with 40 chunks, hits at
// 10, 20 and 30 scored 5, 4 and 1.
func singleDocumentDeps() (Dependencies, *memStore, *fakeAnswers) {
	store := newMemStore(map[string]int{"fund-a": 40})
	answers := &fakeAnswers{answer: Answer{Text: goodAnswer, Sources: []string{"fund-a"}}}
	deps := Dependencies{
		Vector:    &fakeBackend{hits: []RawHit{hit("fund-a", 10), hit("fund-a", 20)}},
		Keyword:   &fakeBackend{hits: []RawHit{hit("fund-a", 20), hit("fund-a", 30)}},
		Chunks:    store,
		Relevance: scoreByMarker{"chunk-010": 5, "chunk-020": 4, "chunk-030": 1},
		Answers:   answers,
	}
	return deps, store, answers
}

func TestNewOrchestrator_RequiresCollaborators(t *testing.T) {
	deps, _, _ := singleDocumentDeps()
	deps.Keyword = nil

	_, err := NewOrchestrator(deps, DefaultConfig())

	assert.ErrorIs(t, err, ErrNilDependency)
	assert.Contains(t, err.Error(), "keyword")
}

func TestRetrieve_EndToEndContinuityMerge(t *testing.T) {
	// Given: hits 10, 20, 30 scoring 5, 4, 1
	deps, _, answers := singleDocumentDeps()
	o := newTestOrchestrator(t, deps)

	// When: retrieving
	res := o.Retrieve(context.Background(), "What is the management fee?", DocumentScope{})

	// Then: the answer is found
	require.True(t, res.IsFound, res.Reason)
	assert.Equal(t, FailureNone, res.FailureType)
	assert.Equal(t, goodAnswer, res.Answer)
	assert.Equal(t, []string{"fund-a"}, res.Sources)
	assert.Empty(t, res.RawContent)

	// And: the oracle saw 8..12 and 18..22 joined by one gap marker
	want := "Source: fund-a\n" +
		"chunk-008\nchunk-009\nchunk-010\nchunk-011\nchunk-012\n[gap]\n" +
		"chunk-018\nchunk-019\nchunk-020\nchunk-021\nchunk-022"
	assert.Equal(t, want, answers.lastContent())
	assert.NotContains(t, answers.lastContent(), "chunk-030")

	require.Len(t, res.Attempts, 1)
	assert.Equal(t, StrategyHybrid, res.Attempts[0].Strategy)
}

func TestRetrieve_ZeroHitsRetriesOnceThenRetryable(t *testing.T) {
	// Given: both backends return nothing
	vector, keyword := &fakeBackend{}, &fakeBackend{}
	o := newTestOrchestrator(t, Dependencies{
		Vector:    vector,
		Keyword:   keyword,
		Chunks:    newMemStore(nil),
		Relevance: scoreByMarker{},
		Answers:   &fakeAnswers{},
	})

	// When: retrieving
	res := o.Retrieve(context.Background(), "q", DocumentScope{})

	// Then: exactly one retry and a retryable result without content
	assert.Equal(t, 2, vector.callCount())
	assert.Equal(t, 2, keyword.callCount())
	assert.False(t, res.IsFound)
	assert.Equal(t, FailureRetryable, res.FailureType)
	assert.Empty(t, res.RawContent)
	assert.Len(t, res.Attempts, 2)
}

func TestRetrieve_BothBackendsFailingIsRetryable(t *testing.T) {
	o := newTestOrchestrator(t, Dependencies{
		Vector:    &fakeBackend{err: errors.New("embedding service down")},
		Keyword:   &fakeBackend{err: errors.New("index closed")},
		Chunks:    newMemStore(nil),
		Relevance: scoreByMarker{},
		Answers:   &fakeAnswers{},
	})

	res := o.Retrieve(context.Background(), "q", DocumentScope{})

	assert.Equal(t, FailureRetryable, res.FailureType)
	assert.Contains(t, res.Reason, "embedding service down")
	assert.Contains(t, res.Reason, "index closed")
}

func TestRetrieve_OneBackendFailingIsTolerated(t *testing.T) {
	deps, _, _ := singleDocumentDeps()
	deps.Keyword = &fakeBackend{err: errors.New("index closed")}
	o := newTestOrchestrator(t, deps)

	res := o.Retrieve(context.Background(), "q", DocumentScope{})

	assert.True(t, res.IsFound)
}

func TestRetrieve_GateRejectsEverythingIsFinal(t *testing.T) {
	deps, _, answers := singleDocumentDeps()
	deps.Relevance = scoreByMarker{}
	o := newTestOrchestrator(t, deps)

	res := o.Retrieve(context.Background(), "q", DocumentScope{})

	assert.Equal(t, FailureFinal, res.FailureType)
	assert.False(t, res.IsFound)
	assert.Equal(t, []string{"fund-a"}, res.Sources)
	assert.Empty(t, answers.contents, "answer oracle must not be called")
	assert.Len(t, res.Attempts, 1, "final failures are not retried")
}

func TestRetrieve_UnparsableAnswerNeedsCompensation(t *testing.T) {
	// Given: the answer oracle cannot be parsed and no compensator exists
	deps, _, answers := singleDocumentDeps()
	answers.err = frerrors.OracleParse("answer", "```not json")
	o := newTestOrchestrator(t, deps)

	// When: retrieving
	res := o.Retrieve(context.Background(), "q", DocumentScope{})

	// Then: the formatted content travels in RawContent
	assert.Equal(t, FailureNeedsCompensation, res.FailureType)
	assert.False(t, res.IsFound)
	require.NotEmpty(t, res.RawContent)
	assert.Equal(t, answers.lastContent(), res.RawContent)
	assert.Equal(t, []string{"fund-a"}, ParseSources(res.RawContent))
}

func TestRetrieve_Compensation(t *testing.T) {
	tests := []struct {
		name        string
		compensator *fakeCompensator
		wantFailure FailureType
		wantRaw     bool
	}{
		{
			name:        "compensation succeeds",
			compensator: &fakeCompensator{answer: Answer{Text: goodAnswer}},
			wantFailure: FailureNone,
		},
		{
			name:        "compensation fails",
			compensator: &fakeCompensator{err: frerrors.OracleUnavailable("compensation", nil)},
			wantFailure: FailureNeedsCompensation,
			wantRaw:     true,
		},
		{
			name:        "compensation says not found",
			compensator: &fakeCompensator{answer: Answer{Text: "很抱歉，无法从内容中确定"}},
			wantFailure: FailureFinal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps, _, answers := singleDocumentDeps()
			answers.err = frerrors.OracleUnavailable("answer", errors.New("502"))
			deps.Compensator = tt.compensator
			o := newTestOrchestrator(t, deps)

			res := o.Retrieve(context.Background(), "q", DocumentScope{})

			assert.True(t, tt.compensator.called)
			assert.Equal(t, tt.wantFailure, res.FailureType)
			assert.Equal(t, tt.wantFailure == FailureNone, res.IsFound)
			assert.Equal(t, tt.wantRaw, res.RawContent != "")
			if res.IsFound {
				assert.Equal(t, []string{"fund-a"}, res.Sources)
			}
		})
	}
}

func TestRetrieve_NegativeAnswerIsFinal(t *testing.T) {
	deps, _, answers := singleDocumentDeps()
	answers.answer = Answer{Text: "根据检索内容无法找到相关信息"}
	o := newTestOrchestrator(t, deps)

	res := o.Retrieve(context.Background(), "q", DocumentScope{})

	assert.Equal(t, FailureFinal, res.FailureType)
	assert.Empty(t, res.RawContent)
}

func TestRetrieve_FulltextFallbackAfterFinalHybrid(t *testing.T) {
	// Given: hybrid finds nothing relevant in two announcements
	store := newMemStore(map[string]int{"ann-1": 5, "ann-2": 5})
	answers := &fakeAnswers{byDocument: map[string]Answer{
		"ann-2": {Text: goodAnswer, Sources: []string{"ann-2"}},
	}}
	o := newTestOrchestrator(t, Dependencies{
		Vector:    &fakeBackend{hits: []RawHit{hit("ann-1", 1)}},
		Keyword:   &fakeBackend{hits: []RawHit{hit("ann-2", 2)}},
		Chunks:    store,
		Relevance: scoreByMarker{},
		Answers:   answers,
		Documents: store,
	})

	// When: retrieving without a scope
	res := o.Retrieve(context.Background(), "q", DocumentScope{})

	// Then: fulltext tried ann-1, then succeeded on ann-2
	require.True(t, res.IsFound, res.Reason)
	assert.Equal(t, []string{"ann-2"}, res.Sources)
	require.Len(t, res.Attempts, 3)
	assert.Equal(t, StrategyFulltext, res.Attempts[1].Strategy)
	assert.Equal(t, "ann-1", res.Attempts[1].DocumentID)
	assert.Equal(t, "ann-2", res.Attempts[2].DocumentID)
}

func TestRetrieve_FulltextAllFailAggregatesErrors(t *testing.T) {
	store := newMemStore(map[string]int{"ann-1": 5})
	o := newTestOrchestrator(t, Dependencies{
		Vector:    &fakeBackend{},
		Keyword:   &fakeBackend{},
		Chunks:    store,
		Relevance: scoreByMarker{},
		Answers:   &fakeAnswers{answer: Answer{Text: "没有找到"}},
		Documents: store,
	})

	res := o.Retrieve(context.Background(), "q", DocumentScope{DocumentID: "ann-1"})

	assert.Equal(t, FailureFinal, res.FailureType)
	assert.Contains(t, res.Reason, "ann-1: answer oracle found no relevant information")
	assert.Contains(t, res.Reason, "hybrid: search returned no hits")
	assert.Equal(t, []string{"ann-1"}, res.Sources)
}

func TestRetrieve_FulltextSkipsProspectusCandidates(t *testing.T) {
	store := newMemStore(map[string]int{"prospectus": 5})
	store.meta["prospectus"] = DocumentMetadata{Kind: KindProspectus}
	answers := &fakeAnswers{answer: Answer{Text: goodAnswer}}
	o := newTestOrchestrator(t, Dependencies{
		Vector:    &fakeBackend{hits: []RawHit{hit("prospectus", 1)}},
		Keyword:   &fakeBackend{},
		Chunks:    store,
		Relevance: scoreByMarker{},
		Answers:   answers,
		Documents: store,
		Metadata:  store,
	})

	res := o.Retrieve(context.Background(), "q", DocumentScope{})

	assert.Equal(t, FailureFinal, res.FailureType)
	assert.Len(t, res.Attempts, 1)
	assert.Empty(t, answers.contents)
}

func TestRetrieve_NeedsCompensationDoesNotFallBack(t *testing.T) {
	deps, store, answers := singleDocumentDeps()
	answers.err = frerrors.OracleParse("answer", "")
	deps.Documents = store
	o := newTestOrchestrator(t, deps)

	res := o.Retrieve(context.Background(), "q", DocumentScope{})

	assert.Equal(t, FailureNeedsCompensation, res.FailureType)
	assert.Len(t, res.Attempts, 1)
}

func prospectusDeps(sectionAnswerOK bool) (Dependencies, *fakeBackend) {
	store := newMemStore(map[string]int{"ipo-prospectus": 40})
	store.meta["ipo-prospectus"] = DocumentMetadata{Kind: KindProspectus, FundCode: "508000"}
	vector := &fakeBackend{hits: []RawHit{hit("ipo-prospectus", 10)}}
	answers := &fakeAnswers{byDocument: map[string]Answer{}}
	if sectionAnswerOK {
		answers.byDocument["ipo-prospectus"] = Answer{Text: goodAnswer, Sources: []string{"ipo-prospectus"}}
	}
	return Dependencies{
		Vector:     vector,
		Keyword:    &fakeBackend{},
		Chunks:     store,
		Relevance:  scoreByMarker{"chunk-010": 5},
		Answers:    answers,
		Metadata:   store,
		Documents:  store,
		Classifier: &fakeClassifier{ids: []string{"fees", "invented"}},
		Sections: &fakeSections{
			refs:     []SectionRef{{ID: "fees", Title: "Fees"}, {ID: "risks", Title: "Risks"}},
			sections: map[string]string{"fees": "Management fee 0.5%."},
		},
	}, vector
}

func TestRetrieve_ProspectusRunsBothPathsAndFuses(t *testing.T) {
	// Given: a prospectus scope where both paths find an answer
	deps, vector := prospectusDeps(true)
	deps.Fuser = &fakeFuser{answer: Answer{Text: "Fused: the management fee is 0.5% per year.", Sources: []string{"ipo-prospectus"}}}
	o := newTestOrchestrator(t, deps)

	// When: retrieving
	res := o.Retrieve(context.Background(), "q", DocumentScope{DocumentID: "ipo-prospectus"})

	// Then: the fused answer is returned and search was scoped with the resolved fund
	require.True(t, res.IsFound)
	assert.True(t, strings.HasPrefix(res.Answer, "Fused:"))
	assert.Equal(t, "508000", vector.last.FundCode)
	assert.Equal(t, "ipo-prospectus", vector.last.DocumentID)

	strategies := map[Strategy]bool{}
	for _, a := range res.Attempts {
		strategies[a.Strategy] = true
	}
	assert.True(t, strategies[StrategyHybrid])
	assert.True(t, strategies[StrategySection])
	assert.False(t, strategies[StrategyFulltext])
}

func TestRetrieve_ProspectusFuserFailurePrefersSectionAnswer(t *testing.T) {
	deps, _ := prospectusDeps(true)
	deps.Fuser = &fakeFuser{err: errors.New("timeout")}
	o := newTestOrchestrator(t, deps)

	res := o.Retrieve(context.Background(), "q", DocumentScope{DocumentID: "ipo-prospectus"})

	require.True(t, res.IsFound)
	assert.Equal(t, goodAnswer, res.Answer)
	assert.Equal(t, []string{"ipo-prospectus"}, res.Sources)
}

func TestRetrieve_ProspectusDualPathDisabled(t *testing.T) {
	deps, _ := prospectusDeps(true)
	cfg := DefaultConfig()
	cfg.DisableDualPath = true
	o, err := NewOrchestrator(deps, cfg, WithLogger(discardLogger()))
	require.NoError(t, err)
	defer o.Close()

	res := o.Retrieve(context.Background(), "q", DocumentScope{DocumentID: "ipo-prospectus"})

	for _, a := range res.Attempts {
		assert.Equal(t, StrategyHybrid, a.Strategy)
	}
}

func TestRetrieve_ZeroConfigKeepsDualPath(t *testing.T) {
	// Given: an orchestrator built from a zero Config
	deps, _ := prospectusDeps(true)
	o, err := NewOrchestrator(deps, Config{}, WithLogger(discardLogger()))
	require.NoError(t, err)
	defer o.Close()

	// When: asking about a prospectus
	res := o.Retrieve(context.Background(), "q", DocumentScope{DocumentID: "ipo-prospectus"})

	// Then: the section path ran too
	require.True(t, res.IsFound, res.Reason)
	var strategies []Strategy
	for _, a := range res.Attempts {
		strategies = append(strategies, a.Strategy)
	}
	assert.Contains(t, strategies, StrategySection)
}

func TestRetrieve_CancelledBeforeStart(t *testing.T) {
	deps, _, answers := singleDocumentDeps()
	o := newTestOrchestrator(t, deps)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := o.Retrieve(ctx, "q", DocumentScope{})

	assert.Equal(t, FailureCancelled, res.FailureType)
	assert.Empty(t, res.RawContent)
	assert.Empty(t, res.Answer)
	assert.Empty(t, answers.contents)
}

func TestRetrieve_ProspectusCancelledMidway(t *testing.T) {
	tests := []struct {
		name  string
		block func(deps *Dependencies) chan struct{}
	}{
		{
			name: "while the section path reads",
			block: func(deps *Dependencies) chan struct{} {
				started := make(chan struct{})
				deps.Sections.(*fakeSections).started = started
				return started
			},
		},
		{
			name: "while the answers are fused",
			block: func(deps *Dependencies) chan struct{} {
				started := make(chan struct{})
				deps.Fuser = &fakeFuser{started: started}
				return started
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given: a prospectus query that blocks at one step
			deps, _ := prospectusDeps(true)
			started := tt.block(&deps)
			o := newTestOrchestrator(t, deps)
			ctx, cancel := context.WithCancel(context.Background())

			// When: the caller cancels once the step has begun
			var res RetrievalResult
			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				res = o.Retrieve(ctx, "q", DocumentScope{DocumentID: "ipo-prospectus"})
			}()
			<-started
			cancel()
			wg.Wait()

			// Then: the result is cancelled and carries nothing partial
			assert.Equal(t, FailureCancelled, res.FailureType)
			assert.False(t, res.IsFound)
			assert.Empty(t, res.Answer)
			assert.Empty(t, res.RawContent)
		})
	}
}

type blockingBackend struct{ started chan struct{} }

func (b *blockingBackend) Search(ctx context.Context, _ string, _ SearchFilter) ([]RawHit, error) {
	close(b.started)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRetrieve_CancelledDuringSearch(t *testing.T) {
	deps, _, _ := singleDocumentDeps()
	blocker := &blockingBackend{started: make(chan struct{})}
	deps.Vector = blocker
	o := newTestOrchestrator(t, deps)
	ctx, cancel := context.WithCancel(context.Background())

	var res RetrievalResult
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		res = o.Retrieve(ctx, "q", DocumentScope{})
	}()
	<-blocker.started
	cancel()
	wg.Wait()

	assert.Equal(t, FailureCancelled, res.FailureType)
	assert.False(t, res.IsFound)
}

func TestRetrieve_BackendTimeoutIsRetryable(t *testing.T) {
	deps, _, _ := singleDocumentDeps()
	deps.Vector = &slowBackend{}
	deps.Keyword = &slowBackend{}
	cfg := DefaultConfig()
	cfg.Timeouts.Search = 10 * time.Millisecond
	o, err := NewOrchestrator(deps, cfg, WithLogger(discardLogger()))
	require.NoError(t, err)
	defer o.Close()

	res := o.Retrieve(context.Background(), "q", DocumentScope{})

	assert.Equal(t, FailureRetryable, res.FailureType)
	assert.Contains(t, res.Reason, frerrors.ErrCodeBackendTimeout)
}

type slowBackend struct{}

func (slowBackend) Search(ctx context.Context, _ string, _ SearchFilter) ([]RawHit, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRetrieve_EmptyQuestionIsFinal(t *testing.T) {
	deps, _, _ := singleDocumentDeps()
	o := newTestOrchestrator(t, deps)

	res := o.Retrieve(context.Background(), "   ", DocumentScope{})

	assert.Equal(t, FailureFinal, res.FailureType)
	assert.Contains(t, res.Reason, frerrors.ErrCodeQueryEmpty)
}

type panickingBackend struct{}

func (panickingBackend) Search(context.Context, string, SearchFilter) ([]RawHit, error) {
	panic("nil map write")
}

func TestRetrieve_BackendPanicsBecomeSearchErrors(t *testing.T) {
	deps, _, _ := singleDocumentDeps()
	deps.Vector = panickingBackend{}
	deps.Keyword = panickingBackend{}
	o := newTestOrchestrator(t, deps)

	res := o.Retrieve(context.Background(), "q", DocumentScope{})

	assert.Equal(t, FailureRetryable, res.FailureType)
	assert.Contains(t, res.Reason, "nil map write")
	assert.Contains(t, res.Reason, frerrors.ErrCodeInternal)
}

type panickingAnswers struct{}

func (panickingAnswers) Generate(context.Context, string, string) (Answer, error) {
	panic("template index out of range")
}

func TestRetrieve_RecoversFromPanics(t *testing.T) {
	deps, _, _ := singleDocumentDeps()
	deps.Answers = panickingAnswers{}
	o := newTestOrchestrator(t, deps)

	res := o.Retrieve(context.Background(), "q", DocumentScope{})

	assert.Equal(t, FailureRetryable, res.FailureType)
	assert.Contains(t, res.Reason, "template index out of range")
	assert.Empty(t, res.RawContent)
}

type recorderFunc func(string, RetrievalResult, time.Duration)

func (f recorderFunc) RecordRetrieval(q string, r RetrievalResult, d time.Duration) { f(q, r, d) }

func TestRetrieve_RecordsOutcome(t *testing.T) {
	deps, _, _ := singleDocumentDeps()
	var got RetrievalResult
	o, err := NewOrchestrator(deps, DefaultConfig(),
		WithLogger(discardLogger()),
		WithRecorder(recorderFunc(func(_ string, r RetrievalResult, _ time.Duration) { got = r })))
	require.NoError(t, err)
	defer o.Close()

	res := o.Retrieve(context.Background(), "q", DocumentScope{})

	assert.Equal(t, res.IsFound, got.IsFound)
	assert.Len(t, got.Attempts, 1)
}
