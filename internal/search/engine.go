// Package search connects the stores to the retrieval engine: it indexes
// documents into the metadata, keyword and vector stores, and exposes them
// as the search backends and readers the retrieval package consumes.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/Aman-CERP/fundrag/internal/embed"
	frerrors "github.com/Aman-CERP/fundrag/internal/errors"
	"github.com/Aman-CERP/fundrag/internal/store"
)

// ErrNilDependency is returned when a required store is nil.
var ErrNilDependency = errors.New("nil dependency")

// Engine owns the three stores and keeps them consistent. The metadata
// store is the source of truth: keyword and vector entries without a chunk
// row are ignored at search time.
type Engine struct {
	meta       store.MetadataStore
	bm25       store.BM25Index
	vector     store.VectorStore
	embedder   embed.Embedder
	vectorPath string
	expander   *QueryExpander
	logger     *slog.Logger

	// mu serialises index writes; searches go to the stores directly.
	mu sync.Mutex
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithVectorPath sets where Persist saves the vector index.
func WithVectorPath(path string) EngineOption {
	return func(e *Engine) { e.vectorPath = path }
}

// WithQueryExpander sets the keyword query expander.
func WithQueryExpander(x *QueryExpander) EngineOption {
	return func(e *Engine) { e.expander = x }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates an engine over the given stores.
func NewEngine(meta store.MetadataStore, bm25 store.BM25Index, vector store.VectorStore, embedder embed.Embedder, opts ...EngineOption) (*Engine, error) {
	switch {
	case meta == nil:
		return nil, fmt.Errorf("%w: metadata store is required", ErrNilDependency)
	case bm25 == nil:
		return nil, fmt.Errorf("%w: bm25 index is required", ErrNilDependency)
	case vector == nil:
		return nil, fmt.Errorf("%w: vector store is required", ErrNilDependency)
	case embedder == nil:
		return nil, fmt.Errorf("%w: embedder is required", ErrNilDependency)
	}
	e := &Engine{
		meta:     meta,
		bm25:     bm25,
		vector:   vector,
		embedder: embedder,
		logger:   slog.Default().With(slog.String("component", "search")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Metadata returns the metadata store.
func (e *Engine) Metadata() store.MetadataStore { return e.meta }

// VectorBackend returns the vector search backend.
func (e *Engine) VectorBackend() *VectorBackend {
	return NewVectorBackend(e.vector, e.embedder, e.meta, e.logger)
}

// KeywordBackend returns the keyword search backend.
func (e *Engine) KeywordBackend() *KeywordBackend {
	return NewKeywordBackend(e.bm25, e.meta, e.expander, e.logger)
}

// Chunks returns the chunk, full text and section reader.
func (e *Engine) Chunks() *ChunkStore { return NewChunkStore(e.meta) }

// IndexedDocument is a parsed document ready to index.
type IndexedDocument struct {
	Document *store.Document
	Chunks   []*store.Chunk
	Sections []*store.Section
}

// IndexDocument embeds and indexes one document, replacing any earlier
// version. Embedding runs outside the write lock so callers may index
// documents concurrently.
func (e *Engine) IndexDocument(ctx context.Context, d IndexedDocument) error {
	if d.Document == nil || d.Document.ID == "" {
		return frerrors.ValidationError("document id is required", nil)
	}
	if err := e.ValidateDimensions(ctx); err != nil {
		return err
	}

	texts := make([]string, len(d.Chunks))
	ids := make([]string, len(d.Chunks))
	docs := make([]*store.IndexDoc, len(d.Chunks))
	for i, c := range d.Chunks {
		texts[i] = c.Content
		ids[i] = c.ID
		docs[i] = &store.IndexDoc{ID: c.ID, DocumentID: c.DocumentID, FundCode: d.Document.FundCode, Content: c.Content}
	}
	vectors, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed %s: %w", d.Document.ID, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.removeFromIndexes(ctx, d.Document.ID)

	if err := e.bm25.Index(ctx, docs); err != nil {
		return frerrors.New(frerrors.ErrCodeIndexFailed, "keyword indexing failed", err).
			WithDetail("document_id", d.Document.ID)
	}
	if err := e.vector.Add(ctx, ids, vectors); err != nil {
		return frerrors.New(frerrors.ErrCodeIndexFailed, "vector indexing failed", err).
			WithDetail("document_id", d.Document.ID)
	}

	doc := *d.Document
	doc.ChunkCount = len(d.Chunks)
	doc.IndexedAt = time.Now().UTC()
	if err := e.meta.SaveDocument(ctx, &doc); err != nil {
		return fmt.Errorf("save document %s: %w", doc.ID, err)
	}
	if err := e.meta.ReplaceChunks(ctx, doc.ID, d.Chunks); err != nil {
		return fmt.Errorf("save chunks of %s: %w", doc.ID, err)
	}
	if err := e.meta.ReplaceSections(ctx, doc.ID, d.Sections); err != nil {
		return fmt.Errorf("save sections of %s: %w", doc.ID, err)
	}

	if err := e.storeEmbeddingInfo(ctx); err != nil {
		e.logger.Warn("failed to store embedding info", slog.String("error", err.Error()))
	}
	e.logger.Debug("document indexed",
		slog.String("document_id", doc.ID),
		slog.Int("chunks", len(d.Chunks)),
		slog.Int("sections", len(d.Sections)))
	return nil
}

// removeFromIndexes drops the keyword and vector entries of a document.
// Failures leave orphans, which searches skip.
func (e *Engine) removeFromIndexes(ctx context.Context, documentID string) {
	if err := e.bm25.DeleteDocument(ctx, documentID); err != nil {
		e.logger.Warn("keyword delete failed, orphans remain",
			slog.String("document_id", documentID),
			slog.String("error", err.Error()))
	}
	old, err := e.meta.FetchRange(ctx, documentID, 0, int(^uint(0)>>1))
	if err != nil || len(old) == 0 {
		return
	}
	ids := make([]string, len(old))
	for i, c := range old {
		ids[i] = c.ID
	}
	if err := e.vector.Delete(ctx, ids); err != nil {
		e.logger.Warn("vector delete failed, orphans remain",
			slog.String("document_id", documentID),
			slog.String("error", err.Error()))
	}
}

// DeleteDocument removes a document from every store. Only the metadata
// delete must succeed.
func (e *Engine) DeleteDocument(ctx context.Context, documentID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.removeFromIndexes(ctx, documentID)
	if err := e.meta.DeleteDocument(ctx, documentID); err != nil {
		return fmt.Errorf("delete document %s: %w", documentID, err)
	}
	return nil
}

func (e *Engine) storeEmbeddingInfo(ctx context.Context) error {
	if err := e.meta.SetState(ctx, store.StateKeyEmbeddingDimension, strconv.Itoa(e.embedder.Dimensions())); err != nil {
		return err
	}
	return e.meta.SetState(ctx, store.StateKeyEmbeddingModel, e.embedder.ModelName())
}

// ValidateDimensions fails when the index was built with an embedder of a
// different dimension. An index with no recorded dimension passes.
func (e *Engine) ValidateDimensions(ctx context.Context) error {
	stored, err := e.meta.GetState(ctx, store.StateKeyEmbeddingDimension)
	if err != nil || stored == "" {
		return nil
	}
	indexDim, err := strconv.Atoi(stored)
	if err != nil {
		e.logger.Warn("invalid stored embedding dimension", slog.String("value", stored))
		return nil
	}
	if current := e.embedder.Dimensions(); indexDim != current {
		model, _ := e.meta.GetState(ctx, store.StateKeyEmbeddingModel)
		return frerrors.New(frerrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("index has %d dimensions (%s), embedder has %d (%s)", indexDim, model, current, e.embedder.ModelName()), nil).
			WithSuggestion("Run 'fundrag ingest --force' to rebuild with the current embedder")
	}
	return nil
}

// Persist saves the vector index when a path is configured. The metadata
// and keyword stores write through.
func (e *Engine) Persist() error {
	if e.vectorPath == "" {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.vector.Save(e.vectorPath); err != nil {
		return frerrors.New(frerrors.ErrCodeIndexFailed, "failed to save vector index", err).
			WithDetail("path", e.vectorPath)
	}
	return nil
}

// EngineStats summarises index contents.
type EngineStats struct {
	Documents     int    `json:"documents"`
	Chunks        int    `json:"chunks"`
	Sections      int    `json:"sections"`
	KeywordDocs   int    `json:"keyword_docs"`
	Vectors       int    `json:"vectors"`
	EmbedderModel string `json:"embedder_model"`
	Dimensions    int    `json:"dimensions"`
}

// Stats returns index statistics.
func (e *Engine) Stats(ctx context.Context) (EngineStats, error) {
	st, err := e.meta.Stats(ctx)
	if err != nil {
		return EngineStats{}, err
	}
	out := EngineStats{
		Documents:     st.Documents,
		Chunks:        st.Chunks,
		Sections:      st.Sections,
		Vectors:       e.vector.Count(),
		EmbedderModel: e.embedder.ModelName(),
		Dimensions:    e.embedder.Dimensions(),
	}
	if ks := e.bm25.Stats(); ks != nil {
		out.KeywordDocs = ks.DocumentCount
	}
	return out, nil
}

// Close closes every store and the embedder.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	if err := e.bm25.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := e.vector.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := e.meta.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := e.embedder.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
