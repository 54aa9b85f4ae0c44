package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	frerrors "github.com/Aman-CERP/fundrag/internal/errors"
)

// hybridAttempts is the initial attempt plus the single retry on zero hits.
const hybridAttempts = 2

// runHybrid runs the hybrid pipeline, retrying once when the search stage
// produced nothing.
func (o *Orchestrator) runHybrid(ctx context.Context, r *run) RetrievalResult {
	var res RetrievalResult
	for attempt := 1; attempt <= hybridAttempts; attempt++ {
		if ctx.Err() != nil {
			return cancelledResult(r.question)
		}
		started := time.Now()
		res = o.hybridOnce(ctx, r)
		r.record(StrategyHybrid, r.scope.DocumentID, res, started)

		if res.FailureType != FailureRetryable {
			return res
		}
		if attempt < hybridAttempts {
			r.logger.Info("hybrid search returned nothing, retrying",
				slog.Int("attempt", attempt))
		}
	}
	return res
}

func (o *Orchestrator) hybridOnce(ctx context.Context, r *run) RetrievalResult {
	searched := o.search(ctx, r)
	if ctx.Err() != nil {
		return cancelledResult(r.question)
	}
	switch searched.Failure {
	case FailureNone:
	case FailureCancelled:
		return cancelledResult(r.question)
	default:
		return failedResult(r.question, FailureRetryable, searched.Detail, nil)
	}

	chunks := searched.Value
	hitSources := documentIDs(chunks)

	scored := o.gate.Filter(ctx, chunks, r.question)
	if ctx.Err() != nil {
		return cancelledResult(r.question)
	}
	if len(scored) == 0 {
		return failedResult(r.question, FailureFinal,
			fmt.Sprintf("none of %d chunks reached relevance score %d", len(chunks), MinRelevanceScore),
			hitSources)
	}

	groups := o.expander.Expand(ctx, scored)
	if ctx.Err() != nil {
		return cancelledResult(r.question)
	}
	content := Format(groups)
	groupSources := make([]string, 0, len(groups))
	for _, g := range groups {
		groupSources = append(groupSources, g.DocumentID)
	}
	r.logger.Debug("hybrid context assembled",
		slog.Int("chunks", len(chunks)),
		slog.Int("kept", len(scored)),
		slog.Int("documents", len(groups)),
		slog.Int("content_runes", len([]rune(content))))

	ans := o.answer(ctx, r.question, content, groupSources)
	switch ans.Failure {
	case FailureNone:
		return foundResult(r.question, ans.Value)
	case FailureFinal:
		return failedResult(r.question, FailureFinal, ans.Detail, groupSources)
	case FailureNeedsCompensation, FailureRetryable:
		return o.compensate(ctx, r, content, ans.Detail, groupSources)
	case FailureCancelled:
		return cancelledResult(r.question)
	default:
		panic(fmt.Sprintf("unhandled failure type %q", ans.Failure))
	}
}

// search queries both backends concurrently. One backend failing is
// tolerated; no hits at all is a retryable failure.
func (o *Orchestrator) search(ctx context.Context, r *run) Outcome[[]Chunk] {
	filter := SearchFilter{
		DocumentID: r.scope.DocumentID,
		FundCode:   r.scope.FundCode,
		Limit:      o.cfg.TopK,
	}

	var vectorHits, keywordHits []RawHit
	var vectorErr, keywordErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vectorHits, vectorErr = o.searchBackend(gctx, o.deps.Vector, r.question, filter)
		return nil
	})
	g.Go(func() error {
		keywordHits, keywordErr = o.searchBackend(gctx, o.deps.Keyword, r.question, filter)
		return nil
	})
	_ = g.Wait()

	if ctx.Err() != nil {
		return Fail[[]Chunk](FailureCancelled, ctx.Err().Error())
	}
	if vectorErr != nil {
		r.logger.Warn("vector search failed", frerrors.LogAttrs(vectorErr)...)
	}
	if keywordErr != nil {
		r.logger.Warn("keyword search failed", frerrors.LogAttrs(keywordErr)...)
	}

	merged := Merge(HitsToChunks(vectorHits, MethodVector), HitsToChunks(keywordHits, MethodKeyword))
	r.logger.Debug("search merged",
		slog.Int("vector_hits", len(vectorHits)),
		slog.Int("keyword_hits", len(keywordHits)),
		slog.Int("merged", len(merged)))

	if len(merged) == 0 {
		var problems []string
		if vectorErr != nil {
			problems = append(problems, "vector: "+vectorErr.Error())
		}
		if keywordErr != nil {
			problems = append(problems, "keyword: "+keywordErr.Error())
		}
		if len(problems) == 0 {
			return Fail[[]Chunk](FailureRetryable, "search returned no hits")
		}
		return Fail[[]Chunk](FailureRetryable, "search failed: "+strings.Join(problems, "; "))
	}
	return Ok(merged)
}

func (o *Orchestrator) searchBackend(ctx context.Context, backend SearchBackend, query string, filter SearchFilter) (hits []RawHit, err error) {
	sctx, cancel := context.WithTimeout(ctx, o.cfg.Timeouts.Search)
	defer cancel()
	// Backends run on errgroup goroutines, outside Retrieve's recover.
	defer func() {
		if p := recover(); p != nil {
			hits, err = nil, frerrors.InternalError(fmt.Sprintf("search backend panicked: %v", p), nil)
		}
	}()

	hits, err = backend.Search(sctx, query, filter)
	if err != nil {
		if sctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, frerrors.New(frerrors.ErrCodeBackendTimeout, "search timed out", err)
		}
		return nil, err
	}
	return hits, nil
}
