package search

import (
	"context"
	"time"

	"github.com/Aman-CERP/fundrag/internal/cache"
	frerrors "github.com/Aman-CERP/fundrag/internal/errors"
	"github.com/Aman-CERP/fundrag/internal/retrieval"
	"github.com/Aman-CERP/fundrag/internal/store"
)

var (
	_ retrieval.ChunkRangeStore  = (*ChunkStore)(nil)
	_ retrieval.DocumentReader   = (*ChunkStore)(nil)
	_ retrieval.SectionReader    = (*ChunkStore)(nil)
	_ retrieval.MetadataResolver = (*MetadataResolver)(nil)
)

// ChunkStore serves chunk ranges, full text and sections from the metadata
// store.
type ChunkStore struct {
	meta store.MetadataStore
}

// NewChunkStore wraps meta.
func NewChunkStore(meta store.MetadataStore) *ChunkStore {
	return &ChunkStore{meta: meta}
}

// FetchRange implements retrieval.ChunkRangeStore.
func (s *ChunkStore) FetchRange(ctx context.Context, documentID string, start, end int) ([]retrieval.Chunk, error) {
	chunks, err := s.meta.FetchRange(ctx, documentID, start, end)
	if err != nil {
		return nil, err
	}
	out := make([]retrieval.Chunk, len(chunks))
	for i, c := range chunks {
		out[i] = retrieval.Chunk{
			ID:            c.ID,
			DocumentID:    c.DocumentID,
			SequenceIndex: c.Seq,
			Text:          c.Content,
			PageRef:       c.PageRef,
		}
	}
	return out, nil
}

// FullText implements retrieval.DocumentReader.
func (s *ChunkStore) FullText(ctx context.Context, documentID string) (string, error) {
	return s.meta.FullText(ctx, documentID)
}

// ListSections implements retrieval.SectionReader.
func (s *ChunkStore) ListSections(ctx context.Context, documentID string) ([]retrieval.SectionRef, error) {
	sections, err := s.meta.ListSections(ctx, documentID)
	if err != nil {
		return nil, err
	}
	refs := make([]retrieval.SectionRef, len(sections))
	for i, sec := range sections {
		refs[i] = retrieval.SectionRef{ID: sec.ID, Title: sec.Title}
	}
	return refs, nil
}

// ReadSections implements retrieval.SectionReader.
func (s *ChunkStore) ReadSections(ctx context.Context, documentID string, ids []string) ([]retrieval.Section, error) {
	sections, err := s.meta.ReadSections(ctx, documentID, ids)
	if err != nil {
		return nil, err
	}
	out := make([]retrieval.Section, len(sections))
	for i, sec := range sections {
		out[i] = retrieval.Section{
			SectionRef: retrieval.SectionRef{ID: sec.ID, Title: sec.Title},
			Text:       sec.Content,
		}
	}
	return out, nil
}

// MetadataResolver looks up document metadata through a TTL cache.
// Unknown documents are an ErrDocumentNotFound error and are not cached.
type MetadataResolver struct {
	meta  store.MetadataStore
	cache *cache.Cache[string, retrieval.DocumentMetadata]
}

// NewMetadataResolver creates a resolver caching size entries for ttl.
func NewMetadataResolver(meta store.MetadataStore, size int, ttl time.Duration, opts ...cache.Option) *MetadataResolver {
	return &MetadataResolver{
		meta:  meta,
		cache: cache.New[string, retrieval.DocumentMetadata](size, ttl, opts...),
	}
}

// Metadata implements retrieval.MetadataResolver.
func (r *MetadataResolver) Metadata(ctx context.Context, documentID string) (retrieval.DocumentMetadata, error) {
	return r.cache.GetOrLoad(ctx, documentID, r.load)
}

// Invalidate drops every cached entry, after an ingest.
func (r *MetadataResolver) Invalidate() {
	r.cache.Purge()
}

func (r *MetadataResolver) load(ctx context.Context, documentID string) (retrieval.DocumentMetadata, error) {
	doc, err := r.meta.GetDocument(ctx, documentID)
	if err != nil {
		return retrieval.DocumentMetadata{}, err
	}
	if doc == nil {
		return retrieval.DocumentMetadata{}, frerrors.New(frerrors.ErrCodeDocumentNotFound,
			"document not found", nil).WithDetail("document_id", documentID)
	}
	return ToMetadata(doc), nil
}

// ToMetadata converts a stored document. An unrecognised kind is KindUnknown.
func ToMetadata(doc *store.Document) retrieval.DocumentMetadata {
	kind, _ := retrieval.ParseDocumentKind(doc.Kind)
	return retrieval.DocumentMetadata{
		DocumentID:  doc.ID,
		Title:       doc.Title,
		Kind:        kind,
		FundCode:    doc.FundCode,
		PublishedAt: doc.PublishedAt,
	}
}
