// Package store provides the persistence layer for ingested documents:
// document, chunk and section records (SQLite), the BM25 keyword index
// (Bleve or SQLite FTS5) and the HNSW vector index.
package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// State keys for the metadata store.
const (
	// StateKeyEmbeddingDimension stores the embedding dimension used for the vector index.
	StateKeyEmbeddingDimension = "embedding_dimension"
	// StateKeyEmbeddingModel stores the embedder model name used for the vector index.
	StateKeyEmbeddingModel = "embedding_model"
	// StateKeyLastIngest stores the RFC 3339 time of the last completed ingest.
	StateKeyLastIngest = "last_ingest"
)

// Document is an ingested disclosure document.
type Document struct {
	ID       string
	Title    string
	Kind     string // announcement, periodic_report, prospectus or empty
	FundCode string
	// PublishedAt is zero when unknown.
	PublishedAt time.Time
	SourcePath  string
	ContentHash string
	ChunkCount  int
	IndexedAt   time.Time
}

// Chunk is a contiguous piece of a document's text.
// Seq is dense per document, starting at 0.
type Chunk struct {
	ID         string
	DocumentID string
	Seq        int
	Content    string
	PageRef    string
}

// ChunkID builds the id of the seq-th chunk of a document.
func ChunkID(documentID string, seq int) string {
	return documentID + "#" + strconv.Itoa(seq)
}

// ParseChunkID splits an id built by ChunkID.
func ParseChunkID(id string) (documentID string, seq int, err error) {
	i := strings.LastIndexByte(id, '#')
	if i <= 0 {
		return "", 0, fmt.Errorf("malformed chunk id %q", id)
	}
	seq, err = strconv.Atoi(id[i+1:])
	if err != nil || seq < 0 {
		return "", 0, fmt.Errorf("malformed chunk id %q", id)
	}
	return id[:i], seq, nil
}

// Section is a titled part of a document (prospectus chapters).
// Content is empty in listings.
type Section struct {
	DocumentID string
	ID         string
	Ordinal    int
	Title      string
	Content    string
}

// DocumentFilter narrows ListDocuments. Empty fields match everything.
type DocumentFilter struct {
	FundCode string
	Kind     string
}

// Stats summarizes the metadata store.
type Stats struct {
	Documents int
	Chunks    int
	Sections  int
}

// MetadataStore persists documents, chunks and sections.
type MetadataStore interface {
	SaveDocument(ctx context.Context, doc *Document) error
	// GetDocument returns nil, nil when the document does not exist.
	GetDocument(ctx context.Context, id string) (*Document, error)
	ListDocuments(ctx context.Context, filter DocumentFilter) ([]*Document, error)
	DeleteDocument(ctx context.Context, id string) error

	// ReplaceChunks swaps all chunks of a document in one transaction.
	ReplaceChunks(ctx context.Context, documentID string, chunks []*Chunk) error
	// FetchRange returns chunks with start <= Seq <= end, ascending.
	FetchRange(ctx context.Context, documentID string, start, end int) ([]*Chunk, error)
	GetChunks(ctx context.Context, ids []string) ([]*Chunk, error)
	FullText(ctx context.Context, documentID string) (string, error)

	ReplaceSections(ctx context.Context, documentID string, sections []*Section) error
	ListSections(ctx context.Context, documentID string) ([]*Section, error)
	ReadSections(ctx context.Context, documentID string, ids []string) ([]*Section, error)

	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error
	Stats(ctx context.Context) (Stats, error)

	Close() error
}

// IndexDoc is a chunk as seen by the keyword index.
type IndexDoc struct {
	ID         string
	DocumentID string
	FundCode   string
	Content    string
}

// SearchFilter restricts keyword and vector searches. Empty fields match everything.
type SearchFilter struct {
	DocumentID string
	FundCode   string
}

// BM25Result is a keyword search hit.
type BM25Result struct {
	DocID        string
	Score        float64
	MatchedTerms []string
}

// IndexStats contains keyword index statistics.
type IndexStats struct {
	DocumentCount int
}

// BM25Config configures the keyword index.
type BM25Config struct {
	StopWords []string
}

// DefaultBM25Config returns the default stop words.
func DefaultBM25Config() BM25Config {
	return BM25Config{StopWords: DefaultStopWords}
}

// DefaultStopWords are high-frequency Chinese function words and English
// articles that carry no retrieval signal in disclosure text.
var DefaultStopWords = []string{
	"的", "了", "和", "是", "在", "及", "与", "或", "等", "其", "之", "为", "对", "由",
	"the", "a", "an", "of", "and", "or", "to", "in", "is", "for", "on", "by",
}

// BM25Index is a keyword index with document and fund filters.
type BM25Index interface {
	// Index adds or replaces documents.
	Index(ctx context.Context, docs []*IndexDoc) error
	Search(ctx context.Context, query string, filter SearchFilter, limit int) ([]*BM25Result, error)
	Delete(ctx context.Context, ids []string) error
	// DeleteDocument removes every chunk of a document.
	DeleteDocument(ctx context.Context, documentID string) error
	Stats() *IndexStats
	Close() error
}

// VectorResult is a nearest-neighbour hit.
type VectorResult struct {
	ID       string
	Distance float32
	Score    float32 // similarity in [0, 1]
}

// VectorStoreConfig configures the HNSW index.
type VectorStoreConfig struct {
	Dimensions int
	Metric     string // "cos" or "l2"
	M          int
	EfSearch   int
	// Model names the embedder that produced the vectors.
	Model string
}

// DefaultVectorStoreConfig returns cosine HNSW settings for dims dimensions.
func DefaultVectorStoreConfig(dims int) VectorStoreConfig {
	return VectorStoreConfig{Dimensions: dims, Metric: "cos", M: 16, EfSearch: 64}
}

// VectorStore is an approximate nearest-neighbour index.
type VectorStore interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	// Search returns at most k hits for which keep returns true.
	// A nil keep accepts every id.
	Search(ctx context.Context, query []float32, k int, keep func(id string) bool) ([]*VectorResult, error)
	Delete(ctx context.Context, ids []string) error
	Contains(id string) bool
	Count() int
	Save(path string) error
	Load(path string) error
	Close() error
}

// ErrDimensionMismatch is returned when vector dimensions don't match the index.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
