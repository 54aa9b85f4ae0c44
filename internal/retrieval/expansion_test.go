package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExpander(store ChunkRangeStore, meta MetadataResolver) *ExpansionEngine {
	return NewExpansionEngine(store, meta, DefaultConfig(), discardLogger())
}

func scoredAt(documentID string, seq, score int) ScoredChunk {
	h := hit(documentID, seq)
	return ScoredChunk{
		Chunk:          Chunk{ID: h.ID, DocumentID: documentID, SequenceIndex: seq, Text: h.Text},
		RelevanceScore: score,
	}
}

func TestExpandPass1_WindowIsClippedToDocument(t *testing.T) {
	store := newMemStore(map[string]int{"d": 5})
	e := newTestExpander(store, nil)

	tests := []struct {
		name string
		seq  int
		want string
	}{
		{"first chunk", 0, "chunk-000\nchunk-001"},
		{"middle chunk", 2, "chunk-001\nchunk-002\nchunk-003"},
		{"last chunk", 4, "chunk-003\nchunk-004"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.ExpandPass1(context.Background(), scoredAt("d", tt.seq, 0).Chunk)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExpandPass1_FetchFailureUsesChunkText(t *testing.T) {
	store := newMemStore(map[string]int{"d": 5})
	store.fetchErr = errors.New("store offline")
	e := newTestExpander(store, nil)

	got := e.ExpandPass1(context.Background(), scoredAt("d", 2, 0).Chunk)

	assert.Equal(t, "chunk-002", got)
}

func TestExpandPass2_CentersOnOriginalIndex(t *testing.T) {
	store := newMemStore(map[string]int{"d": 6})
	e := newTestExpander(store, nil)

	tests := []struct {
		name string
		seq  int
		want []int
	}{
		{"start of document", 0, []int{0, 1, 2}},
		{"near start", 1, []int{0, 1, 2, 3}},
		{"middle", 3, []int{1, 2, 3, 4, 5}},
		{"end of document", 5, []int{3, 4, 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := scoredAt("d", tt.seq, 5)
			e.expandPass2(context.Background(), &sc)
			assert.Equal(t, tt.want, sc.Pass2IDs)
		})
	}
}

func TestSmartFill(t *testing.T) {
	tests := []struct {
		name     string
		skeleton []int
		ids      []int
		want     []int
	}{
		{
			name:     "connectable inserted, independent appended",
			skeleton: []int{10, 11, 12},
			ids:      []int{13, 14, 20, 21},
			want:     []int{10, 11, 12, 13, 14, 20, 21},
		},
		{
			name:     "run below skeleton connects through its top end",
			skeleton: []int{10, 11},
			ids:      []int{7, 8, 9},
			want:     []int{7, 8, 9, 10, 11},
		},
		{
			name:     "independent ids below skeleton still appended",
			skeleton: []int{10, 11},
			ids:      []int{2, 3},
			want:     []int{10, 11, 2, 3},
		},
		{
			name:     "empty skeleton makes everything independent",
			skeleton: nil,
			ids:      []int{22, 18, 19, 20, 21},
			want:     []int{18, 19, 20, 21, 22},
		},
		{
			name:     "present ids are skipped",
			skeleton: []int{4, 5, 6},
			ids:      []int{5, 6, 7},
			want:     []int{4, 5, 6, 7},
		},
		{
			name:     "gap between skeleton blocks filled",
			skeleton: []int{1, 2, 6, 7},
			ids:      []int{3, 4, 5},
			want:     []int{1, 2, 3, 4, 5, 6, 7},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first := SmartFill(tt.skeleton, tt.ids)
			second := SmartFill(tt.skeleton, tt.ids)

			assert.Equal(t, tt.want, first)
			assert.Equal(t, first, second)
		})
	}
}

func TestContinuityMerge_SkeletonFromScoreFive(t *testing.T) {
	// Given: a score-5 chunk at 10 and a score-4 chunk at 20
	five := scoredAt("d", 10, 5)
	five.Pass2IDs = []int{8, 9, 10, 11, 12}
	four := scoredAt("d", 20, 4)
	four.Pass2IDs = []int{18, 19, 20, 21, 22}

	// When: merging, with the score-4 chunk first in input
	got := ContinuityMerge([]ScoredChunk{four, five})

	// Then: the score-5 window leads, the detached window follows
	assert.Equal(t, []int{8, 9, 10, 11, 12, 18, 19, 20, 21, 22}, got)
}

func TestAssemble_GapMarkerOnlyBetweenNonAdjacentIDs(t *testing.T) {
	texts := map[int]string{10: "a", 11: "b", 15: "c"}

	ids, text := assemble([]int{10, 11, 15}, texts, DefaultGapMarker)

	assert.Equal(t, []int{10, 11, 15}, ids)
	assert.Equal(t, "a\nb\n[gap]\nc", text)
	assert.Equal(t, 1, strings.Count(text, DefaultGapMarker))
}

func TestAssemble_DropsIDsWithoutText(t *testing.T) {
	texts := map[int]string{1: "a", 3: "c"}

	ids, text := assemble([]int{1, 2, 3}, texts, "<gap>")

	assert.Equal(t, []int{1, 3}, ids)
	assert.Equal(t, "a\n<gap>\nc", text)
}

func TestExpand_SingleRangeFetchPerDocument(t *testing.T) {
	// Given: two documents with surviving chunks
	store := newMemStore(map[string]int{"a": 40, "b": 40})
	e := newTestExpander(store, nil)
	scored := []ScoredChunk{scoredAt("a", 10, 5), scoredAt("a", 20, 4), scoredAt("b", 3, 4)}

	// When: expanding
	groups := e.Expand(context.Background(), scored)

	// Then: one group per document, ordered by score
	require.Len(t, groups, 2)
	assert.Equal(t, "a", groups[0].DocumentID)
	assert.Equal(t, 5, groups[0].Score)
	assert.Equal(t, []int{8, 9, 10, 11, 12, 18, 19, 20, 21, 22}, groups[0].OrderedSequenceIDs)
	assert.Equal(t, 1, strings.Count(groups[0].MergedText, DefaultGapMarker))
	assert.Equal(t, []int{1, 2, 3, 4, 5}, groups[1].OrderedSequenceIDs)

	// And: the final text came from one min..max query per document
	assert.Equal(t, []string{
		"a[18..22]", "a[8..12]", "a[8..22]",
		"b[1..5]", "b[1..5]",
	}, store.fetchCalls())
}

type failingAfter struct {
	*memStore
	allowed int
	calls   int
}

func (f *failingAfter) FetchRange(ctx context.Context, documentID string, start, end int) ([]Chunk, error) {
	f.calls++
	if f.calls > f.allowed {
		return nil, errors.New("connection reset")
	}
	return f.memStore.FetchRange(ctx, documentID, start, end)
}

func TestExpand_FallsBackToKnownTextsWhenRangeFetchFails(t *testing.T) {
	// Given: pass 2 succeeds, the final range fetch fails
	store := &failingAfter{memStore: newMemStore(map[string]int{"d": 30}), allowed: 1}
	e := NewExpansionEngine(store, nil, Config{FetchConcurrency: 1}, discardLogger())

	// When: expanding one chunk
	groups := e.Expand(context.Background(), []ScoredChunk{scoredAt("d", 5, 5)})

	// Then: the pass-2 texts are used without raising
	require.Len(t, groups, 1)
	assert.Equal(t, []int{3, 4, 5, 6, 7}, groups[0].OrderedSequenceIDs)
	assert.Equal(t, "chunk-003\nchunk-004\nchunk-005\nchunk-006\nchunk-007", groups[0].MergedText)
}

func TestExpand_AllFetchesFailKeepsChunkText(t *testing.T) {
	store := newMemStore(map[string]int{"d": 30})
	store.fetchErr = errors.New("down")
	e := newTestExpander(store, nil)

	groups := e.Expand(context.Background(), []ScoredChunk{scoredAt("d", 5, 4)})

	require.Len(t, groups, 1)
	assert.Equal(t, []int{5}, groups[0].OrderedSequenceIDs)
	assert.Equal(t, "chunk-005", groups[0].MergedText)
}

func TestSortGroups_ScoreThenRecencyThenID(t *testing.T) {
	older := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	groups := []DocumentGroup{
		{DocumentID: "c", Score: 4},
		{DocumentID: "b", Score: 4, Metadata: DocumentMetadata{PublishedAt: older}},
		{DocumentID: "z", Score: 5},
		{DocumentID: "a", Score: 4, Metadata: DocumentMetadata{PublishedAt: newer}},
		{DocumentID: "d", Score: 4},
	}

	sortGroups(groups)

	ids := make([]string, 0, len(groups))
	for _, g := range groups {
		ids = append(ids, g.DocumentID)
	}
	assert.Equal(t, []string{"z", "a", "b", "c", "d"}, ids)
}

func TestExpand_UsesMetadataForOrdering(t *testing.T) {
	store := newMemStore(map[string]int{"old": 10, "new": 10})
	store.meta["old"] = DocumentMetadata{Title: "2022 annual report", PublishedAt: time.Date(2022, 3, 1, 0, 0, 0, 0, time.UTC)}
	store.meta["new"] = DocumentMetadata{Title: "2024 annual report", PublishedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	e := newTestExpander(store, store)

	groups := e.Expand(context.Background(), []ScoredChunk{scoredAt("old", 2, 4), scoredAt("new", 2, 4)})

	require.Len(t, groups, 2)
	assert.Equal(t, "new", groups[0].DocumentID)
	assert.Equal(t, "2024 annual report", groups[0].Metadata.Title)
	assert.Equal(t, "new", groups[0].Metadata.DocumentID)
}
