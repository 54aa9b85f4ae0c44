package retrieval

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	frerrors "github.com/Aman-CERP/fundrag/internal/errors"
)

func newTestGate(t *testing.T, oracle RelevanceOracle, expander *ExpansionEngine) *RelevanceGate {
	t.Helper()
	g, err := NewRelevanceGate(oracle, expander, DefaultConfig(), discardLogger())
	require.NoError(t, err)
	t.Cleanup(g.Release)
	return g
}

func TestRelevanceGate_Score(t *testing.T) {
	tests := []struct {
		name   string
		oracle relevanceFunc
		want   int
	}{
		{
			name:   "valid score passes through",
			oracle: func(context.Context, string, string) (int, error) { return 5, nil },
			want:   5,
		},
		{
			name: "oracle unavailable yields default",
			oracle: func(context.Context, string, string) (int, error) {
				return 0, frerrors.OracleUnavailable("relevance", fmt.Errorf("503"))
			},
			want: DefaultRelevanceScore,
		},
		{
			name: "unparsable output yields default",
			oracle: func(context.Context, string, string) (int, error) {
				return 0, frerrors.OracleParse("relevance", "very relevant!")
			},
			want: DefaultRelevanceScore,
		},
		{
			name:   "out of range yields default",
			oracle: func(context.Context, string, string) (int, error) { return 9, nil },
			want:   DefaultRelevanceScore,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGate(t, tt.oracle, nil)

			got, err := g.Score(context.Background(), "q", "text")

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRelevanceGate_Score_TruncatesContent(t *testing.T) {
	var seen int
	g := newTestGate(t, relevanceFunc(func(_ context.Context, _ string, text string) (int, error) {
		seen = utf8.RuneCountInString(text)
		return 4, nil
	}), nil)

	long := make([]rune, 5000)
	for i := range long {
		long[i] = '基'
	}
	_, err := g.Score(context.Background(), "q", string(long))

	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().ScoreContentLimit, seen)
}

func TestRelevanceGate_Score_CancelledContext(t *testing.T) {
	g := newTestGate(t, scoreByMarker{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Score(ctx, "q", "text")

	assert.ErrorIs(t, err, context.Canceled)
}

func TestRelevanceGate_Filter_KeepsOnlyHighScoresInOrder(t *testing.T) {
	// Given: hits scored 5, 3, 4, 1 on their pass-1 windows
	store := newMemStore(map[string]int{"d": 100})
	oracle := scoreByMarker{"chunk-010": 5, "chunk-030": 3, "chunk-050": 4, "chunk-070": 1}
	g := newTestGate(t, oracle, newTestExpander(store, nil))
	chunks := HitsToChunks([]RawHit{hit("d", 10), hit("d", 30), hit("d", 50), hit("d", 70)}, MethodVector)

	// When: filtering
	kept := g.Filter(context.Background(), chunks, "q")

	// Then: only 10 and 50 survive, in input order, with pass-1 text
	require.Len(t, kept, 2)
	assert.Equal(t, 10, kept[0].SequenceIndex)
	assert.Equal(t, 5, kept[0].RelevanceScore)
	assert.Equal(t, "chunk-009\nchunk-010\nchunk-011", kept[0].ExpandedTextPass1)
	assert.Equal(t, 50, kept[1].SequenceIndex)
	assert.Equal(t, 4, kept[1].RelevanceScore)
	for _, sc := range kept {
		assert.GreaterOrEqual(t, sc.RelevanceScore, MinRelevanceScore)
	}
}

func TestRelevanceGate_Filter_OracleFailureDropsEverything(t *testing.T) {
	g := newTestGate(t, relevanceFunc(func(context.Context, string, string) (int, error) {
		return 0, frerrors.OracleUnavailable("relevance", nil)
	}), nil)

	kept := g.Filter(context.Background(), HitsToChunks([]RawHit{hit("d", 1), hit("d", 2)}, MethodKeyword), "q")

	assert.Empty(t, kept)
}

func TestRelevanceGate_Filter_BoundsConcurrency(t *testing.T) {
	var inFlight, peak int32
	oracle := relevanceFunc(func(context.Context, string, string) (int, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		defer atomic.AddInt32(&inFlight, -1)
		return 4, nil
	})
	cfg := DefaultConfig()
	cfg.ScoreConcurrency = 2
	g, err := NewRelevanceGate(oracle, nil, cfg, discardLogger())
	require.NoError(t, err)
	defer g.Release()

	hits := make([]RawHit, 0, 20)
	for i := 0; i < 20; i++ {
		hits = append(hits, hit("d", i))
	}
	kept := g.Filter(context.Background(), HitsToChunks(hits, MethodVector), "q")

	assert.Len(t, kept, 20)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "基金", truncateRunes("基金公告", 2))
	assert.Equal(t, "abc", truncateRunes("abc", 5))
	assert.Equal(t, "abc", truncateRunes("abc", 0))
}
