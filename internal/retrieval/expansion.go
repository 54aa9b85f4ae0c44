package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	frerrors "github.com/Aman-CERP/fundrag/internal/errors"
)

// Expansion windows around the original sequence index of a hit.
const (
	pass1Radius = 1
	pass2Radius = 2
)

// ExpansionEngine widens matched chunks with their neighbours and stitches
// surviving chunks into one excerpt per document.
type ExpansionEngine struct {
	store       ChunkRangeStore
	metadata    MetadataResolver
	timeout     time.Duration
	concurrency int
	gapMarker   string
	logger      *slog.Logger
}

// NewExpansionEngine creates an engine over store. metadata may be nil, in
// which case groups carry only their document id and date ordering is skipped.
func NewExpansionEngine(store ChunkRangeStore, metadata MetadataResolver, cfg Config, logger *slog.Logger) *ExpansionEngine {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &ExpansionEngine{
		store:       store,
		metadata:    metadata,
		timeout:     cfg.Timeouts.Fetch,
		concurrency: cfg.FetchConcurrency,
		gapMarker:   cfg.GapMarker,
		logger:      logger,
	}
}

// fetch runs one bounded range query. start is clipped at zero.
func (e *ExpansionEngine) fetch(ctx context.Context, documentID string, start, end int) ([]Chunk, error) {
	if start < 0 {
		start = 0
	}
	if end < start {
		return nil, nil
	}
	fctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	chunks, err := e.store.FetchRange(fctx, documentID, start, end)
	if err != nil {
		if fctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, frerrors.New(frerrors.ErrCodeBackendTimeout,
				fmt.Sprintf("range fetch %s[%d..%d] timed out", documentID, start, end), err)
		}
		return nil, frerrors.New(frerrors.ErrCodeFetchFailed,
			fmt.Sprintf("range fetch %s[%d..%d]", documentID, start, end), err)
	}
	return chunks, nil
}

// ExpandPass1 returns the text of the chunk and its immediate neighbours in
// sequence order. If the fetch fails the chunk's own text is returned.
func (e *ExpansionEngine) ExpandPass1(ctx context.Context, c Chunk) string {
	text, _ := e.pass1(ctx, c)
	return text
}

func (e *ExpansionEngine) pass1(ctx context.Context, c Chunk) (string, []Chunk) {
	k := c.SequenceIndex
	neighbours, err := e.fetch(ctx, c.DocumentID, k-pass1Radius, k+pass1Radius)
	if err != nil {
		e.logger.Debug("pass-1 expansion failed, using chunk text",
			slog.String("document_id", c.DocumentID),
			slog.Int("sequence_index", k),
			slog.String("error", err.Error()))
		return c.Text, []Chunk{c}
	}
	window := withCenter(neighbours, c)
	return joinTexts(window), window
}

// expandPass2 fills the ±2 window of sc around its original sequence index.
func (e *ExpansionEngine) expandPass2(ctx context.Context, sc *ScoredChunk) {
	k := sc.SequenceIndex
	neighbours, err := e.fetch(ctx, sc.DocumentID, k-pass2Radius, k+pass2Radius)
	if err != nil {
		e.logger.Debug("pass-2 expansion failed, using numeric window",
			slog.String("document_id", sc.DocumentID),
			slog.Int("sequence_index", k),
			slog.String("error", err.Error()))
		sc.Pass2IDs = nil
		for id := max(0, k-pass2Radius); id <= k+pass2Radius; id++ {
			sc.Pass2IDs = append(sc.Pass2IDs, id)
		}
		sc.ExpandedTextPass2 = sc.ExpandedTextPass1
		if sc.ExpandedTextPass2 == "" {
			sc.ExpandedTextPass2 = sc.Text
		}
		sc.known = append(append([]Chunk(nil), sc.known...), sc.Chunk)
		return
	}

	window := withCenter(neighbours, sc.Chunk)
	sc.Pass2IDs = make([]int, 0, len(window))
	for _, c := range window {
		sc.Pass2IDs = append(sc.Pass2IDs, c.SequenceIndex)
	}
	sc.ExpandedTextPass2 = joinTexts(window)
	sc.known = append(append([]Chunk(nil), sc.known...), window...)
}

// Expand runs pass 2 for every surviving chunk and merges them into one
// DocumentGroup per document, ordered by score, then recency, then id.
// It never fails; fetch errors degrade to the texts already known.
func (e *ExpansionEngine) Expand(ctx context.Context, scored []ScoredChunk) []DocumentGroup {
	if len(scored) == 0 {
		return []DocumentGroup{}
	}

	chunks := make([]ScoredChunk, len(scored))
	copy(chunks, scored)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i := range chunks {
		g.Go(func() error {
			e.expandPass2(gctx, &chunks[i])
			return nil
		})
	}
	_ = g.Wait()

	var order []string
	byDoc := make(map[string][]ScoredChunk)
	for _, sc := range chunks {
		if _, ok := byDoc[sc.DocumentID]; !ok {
			order = append(order, sc.DocumentID)
		}
		byDoc[sc.DocumentID] = append(byDoc[sc.DocumentID], sc)
	}

	groups := make([]DocumentGroup, len(order))
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, docID := range order {
		g.Go(func() error {
			groups[i] = e.buildGroup(gctx, docID, byDoc[docID])
			return nil
		})
	}
	_ = g.Wait()

	sortGroups(groups)
	return groups
}

func (e *ExpansionEngine) buildGroup(ctx context.Context, documentID string, scored []ScoredChunk) DocumentGroup {
	group := DocumentGroup{
		DocumentID: documentID,
		Metadata:   DocumentMetadata{DocumentID: documentID},
	}
	for _, sc := range scored {
		group.Score = max(group.Score, sc.RelevanceScore)
	}

	if e.metadata != nil {
		mctx, cancel := context.WithTimeout(ctx, e.timeout)
		meta, err := e.metadata.Metadata(mctx, documentID)
		cancel()
		if err == nil {
			meta.DocumentID = documentID
			group.Metadata = meta
		}
	}

	ids := ContinuityMerge(scored)
	if len(ids) == 0 {
		return group
	}

	texts, err := e.fetchTexts(ctx, documentID, ids)
	if err != nil {
		e.logger.Warn("range fetch failed, merging known chunk texts",
			slog.String("document_id", documentID),
			slog.Int("ids", len(ids)),
			slog.String("error", err.Error()))
		texts = knownTexts(scored)
	}

	group.OrderedSequenceIDs, group.MergedText = assemble(ids, texts, e.gapMarker)
	return group
}

// fetchTexts loads every id with a single range query spanning min..max.
func (e *ExpansionEngine) fetchTexts(ctx context.Context, documentID string, ids []int) (map[int]string, error) {
	lo, hi := ids[0], ids[0]
	for _, id := range ids {
		lo = min(lo, id)
		hi = max(hi, id)
	}
	chunks, err := e.fetch(ctx, documentID, lo, hi)
	if err != nil {
		return nil, err
	}
	wanted := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	texts := make(map[int]string, len(ids))
	for _, c := range chunks {
		if _, ok := wanted[c.SequenceIndex]; ok {
			texts[c.SequenceIndex] = c.Text
		}
	}
	return texts, nil
}

func knownTexts(scored []ScoredChunk) map[int]string {
	texts := make(map[int]string)
	for _, sc := range scored {
		for _, c := range sc.known {
			texts[c.SequenceIndex] = c.Text
		}
		texts[sc.SequenceIndex] = sc.Text
	}
	return texts
}

// ContinuityMerge orders the pass-2 windows of one document's chunks.
// Score-5 windows form the skeleton; score-4 windows are smart-filled into it.
func ContinuityMerge(scored []ScoredChunk) []int {
	var skeleton, fill []int
	for _, sc := range scored {
		switch {
		case sc.RelevanceScore >= MaxRelevanceScore:
			skeleton = append(skeleton, sc.Pass2IDs...)
		case sc.RelevanceScore >= MinRelevanceScore:
			fill = append(fill, sc.Pass2IDs...)
		}
	}
	return SmartFill(sortedUnique(skeleton), fill)
}

// SmartFill merges ids into skeleton. Ids already present are skipped. Runs
// of consecutive ids that touch the skeleton (directly or through other ids
// of the run) are inserted in sorted position; the remaining ids are appended
// after the skeleton in ascending order.
func SmartFill(skeleton, ids []int) []int {
	base := sortedUnique(skeleton)
	present := make(map[int]struct{}, len(base))
	for _, id := range base {
		present[id] = struct{}{}
	}

	var candidates []int
	for _, id := range sortedUnique(ids) {
		if _, ok := present[id]; !ok {
			candidates = append(candidates, id)
		}
	}

	var connected, independent []int
	for start := 0; start < len(candidates); {
		end := start
		for end+1 < len(candidates) && candidates[end+1] == candidates[end]+1 {
			end++
		}
		run := candidates[start : end+1]
		_, touchesBelow := present[run[0]-1]
		_, touchesAbove := present[run[len(run)-1]+1]
		if touchesBelow || touchesAbove {
			connected = append(connected, run...)
		} else {
			independent = append(independent, run...)
		}
		start = end + 1
	}

	result := sortedUnique(append(append([]int{}, base...), connected...))
	return append(result, independent...)
}

// assemble concatenates the texts of ids in order, dropping ids without text
// and placing the gap marker between kept ids that are not adjacent.
func assemble(ids []int, texts map[int]string, gapMarker string) ([]int, string) {
	kept := make([]int, 0, len(ids))
	var sb strings.Builder
	for _, id := range ids {
		text, ok := texts[id]
		if !ok {
			continue
		}
		if n := len(kept); n > 0 {
			if id != kept[n-1]+1 {
				sb.WriteString("\n")
				sb.WriteString(gapMarker)
			}
			sb.WriteString("\n")
		}
		sb.WriteString(text)
		kept = append(kept, id)
	}
	return kept, sb.String()
}

func sortGroups(groups []DocumentGroup) {
	sort.SliceStable(groups, func(i, j int) bool {
		a, b := groups[i], groups[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Metadata.PublishedAt.Equal(b.Metadata.PublishedAt) {
			return a.Metadata.PublishedAt.After(b.Metadata.PublishedAt)
		}
		return a.DocumentID < b.DocumentID
	})
}

// withCenter returns window sorted by sequence index with c present.
func withCenter(window []Chunk, c Chunk) []Chunk {
	out := make([]Chunk, 0, len(window)+1)
	hasCenter := false
	for _, w := range window {
		if w.SequenceIndex == c.SequenceIndex {
			hasCenter = true
		}
		out = append(out, w)
	}
	if !hasCenter {
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SequenceIndex < out[j].SequenceIndex })
	return out
}

func joinTexts(chunks []Chunk) string {
	texts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		texts = append(texts, c.Text)
	}
	return strings.Join(texts, "\n")
}

func sortedUnique(ids []int) []int {
	if len(ids) == 0 {
		return []int{}
	}
	out := append([]int(nil), ids...)
	sort.Ints(out)
	n := 1
	for i := 1; i < len(out); i++ {
		if out[i] != out[n-1] {
			out[n] = out[i]
			n++
		}
	}
	return out[:n]
}
