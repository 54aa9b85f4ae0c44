package retrieval

// Merge combines vector and keyword hits into one list. Vector hits come
// first, then keyword hits, each in first-seen order. A chunk id seen more
// than once is emitted once with the union of provenance. Merge is pure and
// deterministic; empty inputs yield an empty, non-nil slice.
func Merge(vectorHits, keywordHits []Chunk) []Chunk {
	merged := make([]Chunk, 0, len(vectorHits)+len(keywordHits))
	index := make(map[string]int, len(vectorHits)+len(keywordHits))

	add := func(c Chunk, method SearchMethod) {
		if pos, ok := index[c.ID]; ok {
			for _, m := range c.Provenance {
				merged[pos].Provenance = appendMethod(merged[pos].Provenance, m)
			}
			merged[pos].Provenance = appendMethod(merged[pos].Provenance, method)
			return
		}
		out := c
		out.Provenance = nil
		for _, m := range c.Provenance {
			out.Provenance = appendMethod(out.Provenance, m)
		}
		out.Provenance = appendMethod(out.Provenance, method)
		index[c.ID] = len(merged)
		merged = append(merged, out)
	}

	for _, c := range vectorHits {
		add(c, MethodVector)
	}
	for _, c := range keywordHits {
		add(c, MethodKeyword)
	}
	return merged
}

func appendMethod(set []SearchMethod, m SearchMethod) []SearchMethod {
	for _, existing := range set {
		if existing == m {
			return set
		}
	}
	return append(set, m)
}

// HitsToChunks converts backend hits into chunks tagged with method.
func HitsToChunks(hits []RawHit, method SearchMethod) []Chunk {
	chunks := make([]Chunk, 0, len(hits))
	for _, h := range hits {
		chunks = append(chunks, Chunk{
			ID:            h.ID,
			DocumentID:    h.DocumentID,
			SequenceIndex: h.SequenceIndex,
			Text:          h.Text,
			PageRef:       h.PageRef,
			Provenance:    []SearchMethod{method},
		})
	}
	return chunks
}

// documentIDs returns the distinct document ids of chunks in order.
func documentIDs(chunks []Chunk) []string {
	ids := make([]string, 0, len(chunks))
	for _, c := range chunks {
		ids = append(ids, c.DocumentID)
	}
	return dedupStrings(ids)
}
