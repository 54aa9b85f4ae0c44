package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	frerrors "github.com/Aman-CERP/fundrag/internal/errors"
)

// Orchestrator runs retrieval strategies for a question and classifies the
// outcome. It is safe for concurrent use.
type Orchestrator struct {
	deps     Dependencies
	cfg      Config
	gate     *RelevanceGate
	expander *ExpansionEngine
	fusion   *DualPathFusion

	logger     *slog.Logger
	recorder   Recorder
	newQueryID func() string
}

// NewOrchestrator wires the engine. It returns ErrNilDependency when a
// required collaborator is missing. Call Close when done.
func NewOrchestrator(deps Dependencies, cfg Config, opts ...Option) (*Orchestrator, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	o := &Orchestrator{
		deps:       deps,
		cfg:        cfg.withDefaults(),
		logger:     slog.Default(),
		newQueryID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}

	o.expander = NewExpansionEngine(deps.Chunks, deps.Metadata, o.cfg, o.logger)
	gate, err := NewRelevanceGate(deps.Relevance, o.expander, o.cfg, o.logger)
	if err != nil {
		return nil, fmt.Errorf("create relevance gate: %w", err)
	}
	o.gate = gate
	o.fusion = NewDualPathFusion(deps.Fuser, o.cfg, o.logger)
	return o, nil
}

// Close releases the scoring pool.
func (o *Orchestrator) Close() {
	o.gate.Release()
}

// run holds the per-query state shared by strategies.
type run struct {
	queryID  string
	question string
	scope    DocumentScope
	logger   *slog.Logger

	mu       sync.Mutex
	attempts []RetrievalAttempt
}

func (r *run) record(strategy Strategy, documentID string, res RetrievalResult, started time.Time) {
	outcome := "found"
	if !res.IsFound {
		outcome = "not_found"
	}
	attempt := RetrievalAttempt{
		Strategy:    strategy,
		DocumentID:  documentID,
		Outcome:     outcome,
		FailureType: res.FailureType,
		Detail:      res.Reason,
		Duration:    time.Since(started),
	}

	r.mu.Lock()
	r.attempts = append(r.attempts, attempt)
	r.mu.Unlock()

	r.logger.Info("retrieval attempt",
		slog.String("strategy", string(strategy)),
		slog.String("document_id", documentID),
		slog.String("outcome", outcome),
		slog.String("failure_type", string(res.FailureType)),
		slog.Duration("duration", attempt.Duration))
}

func (r *run) snapshot() []RetrievalAttempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RetrievalAttempt(nil), r.attempts...)
}

// Retrieve answers question within scope. It never panics and always
// returns a well-formed result.
func (o *Orchestrator) Retrieve(ctx context.Context, question string, scope DocumentScope) (result RetrievalResult) {
	started := time.Now()
	r := &run{
		queryID:  o.newQueryID(),
		question: strings.TrimSpace(question),
	}
	r.logger = o.logger.With(slog.String("query_id", r.queryID))

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("retrieval panicked", slog.Any("panic", p))
			result = failedResult(r.question, FailureRetryable, fmt.Sprintf("internal error: %v", p), nil)
		}
		result.Attempts = r.snapshot()
		r.logger.Info("retrieval finished",
			slog.Bool("is_found", result.IsFound),
			slog.String("failure_type", string(result.FailureType)),
			slog.Int("sources", len(result.Sources)),
			slog.Duration("latency", time.Since(started)))
		if o.recorder != nil {
			o.recorder.RecordRetrieval(r.question, result, time.Since(started))
		}
	}()

	if r.question == "" {
		return failedResult(r.question, FailureFinal, frerrors.ErrQueryEmpty.Error(), nil)
	}
	if ctx.Err() != nil {
		return cancelledResult(r.question)
	}

	r.scope = o.resolveScope(ctx, scope)
	r.logger.Info("retrieval started",
		slog.String("document_id", r.scope.DocumentID),
		slog.String("fund_code", r.scope.FundCode),
		slog.String("kind", r.scope.Kind.String()))

	if r.scope.Kind.IsTerminal() {
		if !o.cfg.DisableDualPath {
			return o.runDualPath(ctx, r)
		}
		return o.runHybrid(ctx, r)
	}

	hybrid := o.runHybrid(ctx, r)
	if !o.shouldFallBack(hybrid) {
		return hybrid
	}
	return o.runFulltext(ctx, r, hybrid)
}

// resolveScope fills the kind (and fund) of a document scope from metadata.
func (o *Orchestrator) resolveScope(ctx context.Context, scope DocumentScope) DocumentScope {
	if scope.DocumentID == "" || scope.Kind != KindUnknown || o.deps.Metadata == nil {
		return scope
	}
	meta, err := o.metadata(ctx, scope.DocumentID)
	if err != nil {
		o.logger.Debug("scope metadata lookup failed",
			slog.String("document_id", scope.DocumentID),
			slog.String("error", err.Error()))
		return scope
	}
	scope.Kind = meta.Kind
	if scope.FundCode == "" {
		scope.FundCode = meta.FundCode
	}
	return scope
}

func (o *Orchestrator) metadata(ctx context.Context, documentID string) (DocumentMetadata, error) {
	mctx, cancel := context.WithTimeout(ctx, o.cfg.Timeouts.Fetch)
	defer cancel()
	return o.deps.Metadata.Metadata(mctx, documentID)
}

func (o *Orchestrator) kindOf(ctx context.Context, documentID string) DocumentKind {
	if o.deps.Metadata == nil {
		return KindUnknown
	}
	meta, err := o.metadata(ctx, documentID)
	if err != nil {
		return KindUnknown
	}
	return meta.Kind
}

// runDualPath runs hybrid and section concurrently and fuses the results.
func (o *Orchestrator) runDualPath(ctx context.Context, r *run) RetrievalResult {
	var hybrid, section RetrievalResult
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		hybrid = guarded(r, StrategyHybrid, func() RetrievalResult { return o.runHybrid(ctx, r) })
	}()
	go func() {
		defer wg.Done()
		section = guarded(r, StrategySection, func() RetrievalResult { return o.runSection(ctx, r) })
	}()
	wg.Wait()

	if ctx.Err() != nil {
		return cancelledResult(r.question)
	}
	return o.fusion.Fuse(ctx, r.question, hybrid, section)
}

// guarded converts a panic in a strategy goroutine into a retryable result.
func guarded(r *run, strategy Strategy, fn func() RetrievalResult) (res RetrievalResult) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("strategy panicked",
				slog.String("strategy", string(strategy)),
				slog.Any("panic", p))
			res = failedResult(r.question, FailureRetryable, fmt.Sprintf("%s: internal error: %v", strategy, p), nil)
		}
	}()
	return fn()
}

// answer asks the answer oracle and classifies its reply. fallbackSources
// are used when the oracle cites nothing.
func (o *Orchestrator) answer(ctx context.Context, question, content string, fallbackSources []string) Outcome[Answer] {
	actx, cancel := context.WithTimeout(ctx, o.cfg.Timeouts.Answer)
	defer cancel()

	a, err := o.deps.Answers.Generate(actx, question, content)
	if err != nil {
		if ctx.Err() != nil {
			return Fail[Answer](FailureCancelled, ctx.Err().Error())
		}
		return Fail[Answer](FailureNeedsCompensation, "answer synthesis failed: "+err.Error(), fallbackSources...)
	}
	if len(dedupStrings(a.Sources)) == 0 {
		a.Sources = fallbackSources
	}
	if !IsFoundAnswer(a.Text, a.Sources) {
		return Fail[Answer](FailureFinal, "answer oracle found no relevant information", fallbackSources...)
	}
	return Ok(a)
}

// compensate retries synthesis once with the simplified compensator. If it
// fails too, the formatted content is returned for external processing.
func (o *Orchestrator) compensate(ctx context.Context, r *run, content, reason string, sources []string) RetrievalResult {
	if o.deps.Compensator == nil {
		return compensationResult(r.question, content, reason, sources)
	}

	cctx, cancel := context.WithTimeout(ctx, o.cfg.Timeouts.Answer)
	defer cancel()

	a, err := o.deps.Compensator.Compensate(cctx, r.question, content)
	if err == nil && len(dedupStrings(a.Sources)) == 0 {
		a.Sources = sources
	}
	switch {
	case err == nil && IsFoundAnswer(a.Text, a.Sources):
		r.logger.Info("compensation succeeded")
		return foundResult(r.question, a)
	case err == nil:
		return failedResult(r.question, FailureFinal, "compensation found no relevant information", sources)
	case ctx.Err() != nil:
		return cancelledResult(r.question)
	default:
		r.logger.Warn("compensation failed", slog.String("error", err.Error()))
		return compensationResult(r.question, content, reason+"; compensation failed: "+err.Error(), sources)
	}
}
