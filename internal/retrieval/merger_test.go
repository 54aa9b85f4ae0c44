package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunksFor(documentID string, seqs ...int) []Chunk {
	chunks := make([]Chunk, 0, len(seqs))
	for _, s := range seqs {
		h := hit(documentID, s)
		chunks = append(chunks, Chunk{ID: h.ID, DocumentID: h.DocumentID, SequenceIndex: h.SequenceIndex, Text: h.Text})
	}
	return chunks
}

func TestMerge_DedupCountAndProvenance(t *testing.T) {
	tests := []struct {
		name    string
		vector  []Chunk
		keyword []Chunk
		shared  int
	}{
		{"disjoint", chunksFor("d", 1, 2), chunksFor("d", 3), 0},
		{"one shared", chunksFor("d", 1, 2, 3), chunksFor("d", 3, 4), 1},
		{"all shared", chunksFor("d", 1, 2), chunksFor("d", 2, 1), 2},
		{"empty keyword", chunksFor("d", 5), nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			merged := Merge(tt.vector, tt.keyword)

			assert.Len(t, merged, len(tt.vector)+len(tt.keyword)-tt.shared)
			seen := map[string]bool{}
			for _, c := range merged {
				assert.False(t, seen[c.ID], "duplicate id %s", c.ID)
				seen[c.ID] = true
			}
		})
	}
}

func TestMerge_SharedIDsCarryBothMethods(t *testing.T) {
	// Given: chunk 3 found by both backends
	merged := Merge(chunksFor("d", 1, 3), chunksFor("d", 3, 4))

	// Then: vector order first, then new keyword hits
	require.Len(t, merged, 3)
	assert.Equal(t, []string{"d#1", "d#3", "d#4"}, []string{merged[0].ID, merged[1].ID, merged[2].ID})
	assert.Equal(t, []SearchMethod{MethodVector, MethodKeyword}, merged[1].Provenance)
	assert.Equal(t, []SearchMethod{MethodVector}, merged[0].Provenance)
	assert.Equal(t, []SearchMethod{MethodKeyword}, merged[2].Provenance)
	assert.True(t, merged[1].HasMethod(MethodKeyword))
}

func TestMerge_IsStable(t *testing.T) {
	v := chunksFor("a", 7, 3, 9)
	k := chunksFor("a", 9, 1, 3)

	assert.Equal(t, Merge(v, k), Merge(v, k))
}

func TestMerge_EmptyInputsReturnEmptySlice(t *testing.T) {
	merged := Merge(nil, nil)
	assert.NotNil(t, merged)
	assert.Empty(t, merged)
}

func TestMerge_DoesNotMutateInputs(t *testing.T) {
	v := HitsToChunks([]RawHit{hit("d", 1)}, MethodVector)
	k := HitsToChunks([]RawHit{hit("d", 1)}, MethodKeyword)

	_ = Merge(v, k)

	assert.Equal(t, []SearchMethod{MethodVector}, v[0].Provenance)
	assert.Equal(t, []SearchMethod{MethodKeyword}, k[0].Provenance)
}
