package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// shouldFallBack reports whether a hybrid result may be retried with the
// fulltext strategy. Compensation results already hold relevant content and
// cancellations end the query.
func (o *Orchestrator) shouldFallBack(hybrid RetrievalResult) bool {
	if o.deps.Documents == nil {
		return false
	}
	switch hybrid.FailureType {
	case FailureRetryable, FailureFinal:
		return true
	default:
		return false
	}
}

// fulltextCandidates returns the scope document, or else the documents the
// hybrid attempt surfaced, without prospectuses.
func (o *Orchestrator) fulltextCandidates(ctx context.Context, r *run, hybrid RetrievalResult) []string {
	var candidates []string
	if r.scope.DocumentID != "" {
		if r.scope.Kind.IsTerminal() {
			return nil
		}
		candidates = []string{r.scope.DocumentID}
	} else {
		candidates = hybrid.Sources
	}

	out := make([]string, 0, len(candidates))
	for _, id := range dedupStrings(candidates) {
		if o.kindOf(ctx, id).IsTerminal() {
			r.logger.Debug("skipping prospectus in fulltext fallback", slog.String("document_id", id))
			continue
		}
		out = append(out, id)
	}
	return out
}

// runFulltext tries each candidate document in turn and stops at the first
// answer. When every candidate fails the result lists each document with
// its error next to the hybrid failure.
func (o *Orchestrator) runFulltext(ctx context.Context, r *run, hybrid RetrievalResult) RetrievalResult {
	candidates := o.fulltextCandidates(ctx, r, hybrid)
	if len(candidates) == 0 {
		return hybrid
	}
	r.logger.Info("falling back to fulltext", slog.Int("candidates", len(candidates)))

	failures := make([]string, 0, len(candidates))
	for _, documentID := range candidates {
		if ctx.Err() != nil {
			return cancelledResult(r.question)
		}
		started := time.Now()
		out := o.fulltextAttempt(ctx, r, documentID)

		switch out.Failure {
		case FailureNone:
			res := foundResult(r.question, out.Value)
			r.record(StrategyFulltext, documentID, res, started)
			return res
		case FailureCancelled:
			return cancelledResult(r.question)
		case FailureRetryable, FailureFinal, FailureNeedsCompensation:
			r.record(StrategyFulltext, documentID,
				RetrievalResult{FailureType: out.Failure, Reason: out.Detail}, started)
			failures = append(failures, fmt.Sprintf("%s: %s", documentID, out.Detail))
		default:
			panic(fmt.Sprintf("unhandled failure type %q", out.Failure))
		}
	}

	reason := fmt.Sprintf("no answer found. hybrid: %s. fulltext tried %d document(s): %s",
		hybrid.Reason, len(candidates), strings.Join(failures, "; "))
	return failedResult(r.question, FailureFinal, reason, append(append([]string{}, candidates...), hybrid.Sources...))
}

func (o *Orchestrator) fulltextAttempt(ctx context.Context, r *run, documentID string) Outcome[Answer] {
	fctx, cancel := context.WithTimeout(ctx, o.cfg.Timeouts.Fetch)
	text, err := o.deps.Documents.FullText(fctx, documentID)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return Fail[Answer](FailureCancelled, ctx.Err().Error())
		}
		return Fail[Answer](FailureRetryable, "read document: "+err.Error())
	}
	if strings.TrimSpace(text) == "" {
		return Fail[Answer](FailureFinal, "document has no text")
	}

	content := Format([]DocumentGroup{{
		DocumentID: documentID,
		MergedText: truncateRunes(text, o.cfg.FulltextContentLimit),
	}})
	return o.answer(ctx, r.question, content, []string{documentID})
}
