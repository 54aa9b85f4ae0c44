package retrieval

import "fmt"

// Outcome is the tagged result passed between strategy stages:
// either Ok with a value, or a failure kind with a detail message.
type Outcome[T any] struct {
	Value   T
	Failure FailureType
	Detail  string
	// Sources are documents touched on the way, kept on failure too.
	Sources []string
}

// Ok wraps a successful value.
func Ok[T any](v T) Outcome[T] {
	return Outcome[T]{Value: v}
}

// Fail builds a failed outcome. kind must not be FailureNone.
func Fail[T any](kind FailureType, detail string, sources ...string) Outcome[T] {
	if kind == FailureNone {
		panic("retrieval.Fail called with FailureNone")
	}
	return Outcome[T]{Failure: kind, Detail: detail, Sources: sources}
}

// IsOk reports whether the outcome succeeded.
func (o Outcome[T]) IsOk() bool {
	return o.Failure == FailureNone
}

func (o Outcome[T]) String() string {
	if o.IsOk() {
		return "ok"
	}
	return fmt.Sprintf("%s: %s", o.Failure, o.Detail)
}

// The constructors below are the only way results are built, which keeps
// RawContent set exactly when FailureType is needs_compensation.

func foundResult(question string, answer Answer) RetrievalResult {
	return RetrievalResult{
		Question: question,
		Answer:   answer.Text,
		Sources:  dedupStrings(answer.Sources),
		IsFound:  true,
	}
}

func failedResult(question string, kind FailureType, reason string, sources []string) RetrievalResult {
	if kind == FailureNone || kind == FailureNeedsCompensation {
		panic(fmt.Sprintf("failedResult: invalid failure type %q", kind))
	}
	return RetrievalResult{
		Question:    question,
		Sources:     dedupStrings(sources),
		FailureType: kind,
		Reason:      reason,
	}
}

func compensationResult(question, rawContent, reason string, sources []string) RetrievalResult {
	return RetrievalResult{
		Question:    question,
		Sources:     dedupStrings(sources),
		FailureType: FailureNeedsCompensation,
		Reason:      reason,
		RawContent:  rawContent,
	}
}

func cancelledResult(question string) RetrievalResult {
	return RetrievalResult{
		Question:    question,
		Sources:     []string{},
		FailureType: FailureCancelled,
		Reason:      "retrieval cancelled",
	}
}

// withSources returns r with its sources replaced by the ordered union.
func (r RetrievalResult) withSources(sources ...[]string) RetrievalResult {
	var all []string
	for _, s := range sources {
		all = append(all, s...)
	}
	r.Sources = dedupStrings(all)
	return r
}

// dedupStrings keeps the first occurrence of each non-empty string.
// It never returns nil.
func dedupStrings(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
