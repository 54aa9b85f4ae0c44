package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// runSection answers from the classifier-selected sections of the scope
// document.
func (o *Orchestrator) runSection(ctx context.Context, r *run) RetrievalResult {
	started := time.Now()
	res := o.sectionOnce(ctx, r)
	r.record(StrategySection, r.scope.DocumentID, res, started)
	return res
}

func (o *Orchestrator) sectionOnce(ctx context.Context, r *run) RetrievalResult {
	documentID := r.scope.DocumentID
	sources := []string{documentID}

	if o.deps.Sections == nil || o.deps.Classifier == nil {
		return failedResult(r.question, FailureFinal, "section index not configured", sources)
	}
	if documentID == "" {
		return failedResult(r.question, FailureFinal, "section strategy needs a document", nil)
	}

	lctx, cancel := context.WithTimeout(ctx, o.cfg.Timeouts.Fetch)
	refs, err := o.deps.Sections.ListSections(lctx, documentID)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return cancelledResult(r.question)
		}
		return failedResult(r.question, FailureRetryable, "list sections: "+err.Error(), sources)
	}
	if len(refs) == 0 {
		return failedResult(r.question, FailureFinal, "document has no section index", sources)
	}

	cctx, cancel := context.WithTimeout(ctx, o.cfg.Timeouts.Answer)
	ids, err := o.deps.Classifier.Classify(cctx, r.question, refs)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return cancelledResult(r.question)
		}
		return failedResult(r.question, FailureRetryable, "classify sections: "+err.Error(), sources)
	}
	ids = knownSectionIDs(ids, refs)
	if len(ids) == 0 {
		return failedResult(r.question, FailureFinal, "no applicable section", sources)
	}
	r.logger.Debug("sections selected",
		slog.String("document_id", documentID),
		slog.String("sections", strings.Join(ids, ",")))

	rctx, cancel := context.WithTimeout(ctx, o.cfg.Timeouts.Fetch)
	sections, err := o.deps.Sections.ReadSections(rctx, documentID, ids)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return cancelledResult(r.question)
		}
		return failedResult(r.question, FailureRetryable, "read sections: "+err.Error(), sources)
	}

	content := Format([]DocumentGroup{{
		DocumentID: documentID,
		MergedText: truncateRunes(joinSections(sections), o.cfg.SectionContentLimit),
	}})

	ans := o.answer(ctx, r.question, content, sources)
	switch ans.Failure {
	case FailureNone:
		return foundResult(r.question, ans.Value)
	case FailureFinal:
		return failedResult(r.question, FailureFinal, ans.Detail, sources)
	case FailureNeedsCompensation, FailureRetryable:
		return o.compensate(ctx, r, content, ans.Detail, sources)
	case FailureCancelled:
		return cancelledResult(r.question)
	default:
		panic(fmt.Sprintf("unhandled failure type %q", ans.Failure))
	}
}

// knownSectionIDs drops ids the classifier invented and duplicates.
func knownSectionIDs(ids []string, refs []SectionRef) []string {
	valid := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		valid[ref.ID] = struct{}{}
	}
	out := make([]string, 0, len(ids))
	for _, id := range dedupStrings(ids) {
		if _, ok := valid[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

func joinSections(sections []Section) string {
	parts := make([]string, 0, len(sections))
	for _, s := range sections {
		if s.Title != "" {
			parts = append(parts, "## "+s.Title+"\n"+s.Text)
		} else {
			parts = append(parts, s.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}
