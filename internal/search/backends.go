package search

import (
	"context"
	"log/slog"
	"strings"

	"github.com/Aman-CERP/fundrag/internal/embed"
	frerrors "github.com/Aman-CERP/fundrag/internal/errors"
	"github.com/Aman-CERP/fundrag/internal/retrieval"
	"github.com/Aman-CERP/fundrag/internal/store"
)

// DefaultLimit is used when a search filter carries no limit.
const DefaultLimit = 15

var (
	_ retrieval.SearchBackend = (*VectorBackend)(nil)
	_ retrieval.SearchBackend = (*KeywordBackend)(nil)
)

// VectorBackend answers searches from the HNSW index.
type VectorBackend struct {
	vector   store.VectorStore
	embedder embed.Embedder
	meta     store.MetadataStore
	logger   *slog.Logger
}

// NewVectorBackend creates a vector search backend.
func NewVectorBackend(vector store.VectorStore, embedder embed.Embedder, meta store.MetadataStore, logger *slog.Logger) *VectorBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &VectorBackend{vector: vector, embedder: embedder, meta: meta, logger: logger}
}

// Search embeds query and returns the nearest chunks allowed by filter.
func (b *VectorBackend) Search(ctx context.Context, query string, filter retrieval.SearchFilter) ([]retrieval.RawHit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	keep, err := allowedDocuments(ctx, b.meta, filter)
	if err != nil {
		return nil, err
	}
	if keep != nil && keep.empty() {
		return nil, nil
	}

	vec, err := b.embedder.Embed(ctx, query)
	if err != nil {
		return nil, frerrors.New(frerrors.ErrCodeEmbeddingFailed, "failed to embed query", err)
	}
	results, err := b.vector.Search(ctx, vec, limitOf(filter), keep.fn())
	if err != nil {
		return nil, frerrors.New(frerrors.ErrCodeSearchFailed, "vector search failed", err)
	}

	ids := make([]string, len(results))
	scores := make(map[string]float64, len(results))
	for i, r := range results {
		ids[i] = r.ID
		scores[r.ID] = float64(r.Score)
	}
	return resolveHits(ctx, b.meta, ids, scores, b.logger)
}

// KeywordBackend answers searches from the BM25 index.
type KeywordBackend struct {
	bm25     store.BM25Index
	meta     store.MetadataStore
	expander *QueryExpander
	logger   *slog.Logger
}

// NewKeywordBackend creates a keyword search backend. A nil expander
// searches the question as written.
func NewKeywordBackend(bm25 store.BM25Index, meta store.MetadataStore, expander *QueryExpander, logger *slog.Logger) *KeywordBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &KeywordBackend{bm25: bm25, meta: meta, expander: expander, logger: logger}
}

// Search runs a BM25 query restricted by filter.
func (b *KeywordBackend) Search(ctx context.Context, query string, filter retrieval.SearchFilter) ([]retrieval.RawHit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	q := query
	if b.expander != nil {
		q = b.expander.Expand(query)
		if q != query {
			b.logger.Debug("keyword query expanded",
				slog.String("original", query),
				slog.String("expanded", q))
		}
	}

	results, err := b.bm25.Search(ctx, q, store.SearchFilter{
		DocumentID: filter.DocumentID,
		FundCode:   filter.FundCode,
	}, limitOf(filter))
	if err != nil {
		return nil, frerrors.New(frerrors.ErrCodeSearchFailed, "keyword search failed", err)
	}

	ids := make([]string, len(results))
	scores := make(map[string]float64, len(results))
	for i, r := range results {
		ids[i] = r.DocID
		scores[r.DocID] = r.Score
	}
	return resolveHits(ctx, b.meta, ids, scores, b.logger)
}

func limitOf(f retrieval.SearchFilter) int {
	if f.Limit > 0 {
		return f.Limit
	}
	return DefaultLimit
}

// resolveHits loads chunk text for ids in rank order. Ids without a chunk in
// the metadata store are index orphans and are skipped.
func resolveHits(ctx context.Context, meta store.MetadataStore, ids []string, scores map[string]float64, logger *slog.Logger) ([]retrieval.RawHit, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	chunks, err := meta.GetChunks(ctx, ids)
	if err != nil {
		return nil, frerrors.New(frerrors.ErrCodeFetchFailed, "failed to load search hits", err)
	}
	if orphans := len(ids) - len(chunks); orphans > 0 {
		logger.Debug("skipped orphaned index entries", slog.Int("count", orphans))
	}
	hits := make([]retrieval.RawHit, 0, len(chunks))
	for _, c := range chunks {
		hits = append(hits, retrieval.RawHit{
			ID:            c.ID,
			DocumentID:    c.DocumentID,
			SequenceIndex: c.Seq,
			Text:          c.Content,
			Score:         scores[c.ID],
			PageRef:       c.PageRef,
		})
	}
	return hits, nil
}

// docSet is the set of documents a vector search may return. A nil set
// allows every document.
type docSet map[string]bool

func (s docSet) empty() bool { return len(s) == 0 }

func (s docSet) fn() func(id string) bool {
	if s == nil {
		return nil
	}
	return func(id string) bool {
		doc, _, err := store.ParseChunkID(id)
		return err == nil && s[doc]
	}
}

// allowedDocuments turns a filter into a document set. The HNSW graph holds
// no attributes, so fund filters are resolved against the metadata store.
func allowedDocuments(ctx context.Context, meta store.MetadataStore, f retrieval.SearchFilter) (docSet, error) {
	switch {
	case f.DocumentID != "" && f.FundCode == "":
		return docSet{f.DocumentID: true}, nil
	case f.FundCode != "":
		docs, err := meta.ListDocuments(ctx, store.DocumentFilter{FundCode: f.FundCode})
		if err != nil {
			return nil, frerrors.New(frerrors.ErrCodeSearchFailed, "failed to resolve fund filter", err)
		}
		set := make(docSet, len(docs))
		for _, d := range docs {
			if f.DocumentID == "" || d.ID == f.DocumentID {
				set[d.ID] = true
			}
		}
		return set, nil
	default:
		return nil, nil
	}
}
