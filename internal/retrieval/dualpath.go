package retrieval

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// DualPathFusion combines the results of two strategies run on the same
// question. a is the hybrid result, b the section result.
type DualPathFusion struct {
	fuser   AnswerFuser
	timeout time.Duration
	logger  *slog.Logger
}

// NewDualPathFusion creates a fusion step. fuser may be nil, in which case
// two found answers are merged heuristically.
func NewDualPathFusion(fuser AnswerFuser, cfg Config, logger *slog.Logger) *DualPathFusion {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &DualPathFusion{fuser: fuser, timeout: cfg.Timeouts.Answer, logger: logger}
}

// Fuse merges a and b:
//   - both found: the fuser's answer, or b's answer if the fuser fails;
//   - one found: that result;
//   - neither: a final failure carrying both reasons.
//
// Sources are always the ordered union of both results. Once ctx is done
// the result is cancelled, whatever a and b hold.
func (f *DualPathFusion) Fuse(ctx context.Context, question string, a, b RetrievalResult) RetrievalResult {
	if ctx.Err() != nil {
		return cancelledResult(question)
	}
	switch {
	case a.IsFound && b.IsFound:
		if fused, ok := f.fuse(ctx, question, a, b); ok {
			return fused
		}
		if ctx.Err() != nil {
			return cancelledResult(question)
		}
		return foundResult(question, Answer{Text: b.Answer}).withSources(b.Sources, a.Sources)
	case a.IsFound:
		return a.withSources(a.Sources, b.Sources)
	case b.IsFound:
		return b.withSources(b.Sources, a.Sources)
	default:
		reason := "hybrid: " + reasonOrType(a) + "; section: " + reasonOrType(b)
		return failedResult(question, FailureFinal, reason, append(append([]string{}, a.Sources...), b.Sources...))
	}
}

func (f *DualPathFusion) fuse(ctx context.Context, question string, a, b RetrievalResult) (RetrievalResult, bool) {
	if f.fuser == nil {
		return RetrievalResult{}, false
	}
	fctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	ans, err := f.fuser.Fuse(fctx, question,
		Answer{Text: a.Answer, Sources: a.Sources},
		Answer{Text: b.Answer, Sources: b.Sources})
	if err != nil && ctx.Err() != nil {
		return RetrievalResult{}, false
	}
	if err != nil || strings.TrimSpace(ans.Text) == "" {
		attrs := []any{slog.String("fallback", "section answer")}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		f.logger.Warn("answer fusion failed", attrs...)
		return RetrievalResult{}, false
	}
	return foundResult(question, ans).withSources(ans.Sources, a.Sources, b.Sources), true
}

func reasonOrType(r RetrievalResult) string {
	if r.Reason != "" {
		return r.Reason
	}
	if r.FailureType != FailureNone {
		return string(r.FailureType)
	}
	return "no answer"
}
