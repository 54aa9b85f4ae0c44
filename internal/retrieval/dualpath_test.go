package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDualPathFusion_Fuse(t *testing.T) {
	found := func(text string, sources ...string) RetrievalResult {
		return foundResult("q", Answer{Text: text, Sources: sources})
	}
	failed := func(kind FailureType, reason string, sources ...string) RetrievalResult {
		return failedResult("q", kind, reason, sources)
	}

	tests := []struct {
		name        string
		fuser       AnswerFuser
		hybrid      RetrievalResult
		section     RetrievalResult
		wantFound   bool
		wantAnswer  string
		wantSources []string
		wantFailure FailureType
	}{
		{
			name:        "both found uses fuser",
			fuser:       &fakeFuser{answer: Answer{Text: "fused answer covering both paths", Sources: []string{"p"}}},
			hybrid:      found("hybrid answer text here", "p", "ann"),
			section:     found("section answer text here", "p"),
			wantFound:   true,
			wantAnswer:  "fused answer covering both paths",
			wantSources: []string{"p", "ann"},
		},
		{
			name:        "fuser error falls back to section answer",
			fuser:       &fakeFuser{err: errors.New("rate limited")},
			hybrid:      found("hybrid answer text here", "ann"),
			section:     found("section answer text here", "p"),
			wantFound:   true,
			wantAnswer:  "section answer text here",
			wantSources: []string{"p", "ann"},
		},
		{
			name:        "no fuser falls back to section answer",
			hybrid:      found("hybrid answer text here", "p"),
			section:     found("section answer text here", "p"),
			wantFound:   true,
			wantAnswer:  "section answer text here",
			wantSources: []string{"p"},
		},
		{
			name:        "only hybrid found",
			hybrid:      found("hybrid answer text here", "p"),
			section:     failed(FailureFinal, "no applicable section", "p", "x"),
			wantFound:   true,
			wantAnswer:  "hybrid answer text here",
			wantSources: []string{"p", "x"},
		},
		{
			name:        "only section found",
			hybrid:      failed(FailureRetryable, "search returned no hits"),
			section:     found("section answer text here", "p"),
			wantFound:   true,
			wantAnswer:  "section answer text here",
			wantSources: []string{"p"},
		},
		{
			name:        "neither found is final",
			hybrid:      compensationResult("q", "Source: p\nraw", "answer synthesis failed", []string{"p"}),
			section:     failed(FailureRetryable, "classify sections: timeout", "p"),
			wantSources: []string{"p"},
			wantFailure: FailureFinal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewDualPathFusion(tt.fuser, DefaultConfig(), discardLogger())

			got := f.Fuse(context.Background(), "q", tt.hybrid, tt.section)

			assert.Equal(t, tt.wantFound, got.IsFound)
			assert.Equal(t, tt.wantAnswer, got.Answer)
			assert.Equal(t, tt.wantSources, got.Sources)
			assert.Equal(t, tt.wantFailure, got.FailureType)
			assert.Empty(t, got.RawContent)
		})
	}
}

func TestDualPathFusion_NeitherFoundCarriesBothReasons(t *testing.T) {
	f := NewDualPathFusion(nil, DefaultConfig(), discardLogger())

	got := f.Fuse(context.Background(), "q",
		failedResult("q", FailureFinal, "none of 3 chunks reached relevance score 4", nil),
		failedResult("q", FailureFinal, "no applicable section", nil))

	assert.Equal(t, "hybrid: none of 3 chunks reached relevance score 4; section: no applicable section", got.Reason)
}

func TestDualPathFusion_CancelledContext(t *testing.T) {
	f := NewDualPathFusion(nil, DefaultConfig(), discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := f.Fuse(ctx, "q", cancelledResult("q"), cancelledResult("q"))

	assert.Equal(t, FailureCancelled, got.FailureType)
}

func TestDualPathFusion_CancelledWithBothFound(t *testing.T) {
	// Given: two found answers and a caller that has gone away
	started := make(chan struct{})
	f := NewDualPathFusion(&fakeFuser{started: started}, DefaultConfig(), discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// When: fusing
	got := f.Fuse(ctx, "q",
		foundResult("q", Answer{Text: goodAnswer, Sources: []string{"a"}}),
		foundResult("q", Answer{Text: goodAnswer, Sources: []string{"b"}}))

	// Then: no answer is returned and the fuser was never asked
	assert.Equal(t, FailureCancelled, got.FailureType)
	assert.Empty(t, got.Answer)
	select {
	case <-started:
		t.Fatal("fuser called after cancellation")
	default:
	}
}
