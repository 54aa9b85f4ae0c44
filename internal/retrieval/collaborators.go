package retrieval

import "context"

// SearchFilter narrows a backend search.
type SearchFilter struct {
	DocumentID string
	FundCode   string
	Limit      int
}

// SearchBackend is a vector or keyword search service.
type SearchBackend interface {
	Search(ctx context.Context, query string, filter SearchFilter) ([]RawHit, error)
}

// ChunkRangeStore returns the chunks of a document whose sequence index is in
// [start, end], ascending. Indexes outside the document are simply absent.
type ChunkRangeStore interface {
	FetchRange(ctx context.Context, documentID string, start, end int) ([]Chunk, error)
}

// RelevanceOracle rates how well text answers a question, 1 to 5.
// Errors wrap errors.ErrOracleUnavailable or errors.ErrOracleParse.
type RelevanceOracle interface {
	Score(ctx context.Context, question, text string) (int, error)
}

// Answer is an oracle-produced answer with the documents it cites.
type Answer struct {
	Text    string   `json:"answer"`
	Sources []string `json:"sources"`
}

// AnswerOracle synthesizes an answer from formatted content.
type AnswerOracle interface {
	Generate(ctx context.Context, question, content string) (Answer, error)
}

// Compensator is the simplified second attempt over content the answer
// oracle failed to synthesize.
type Compensator interface {
	Compensate(ctx context.Context, question, rawContent string) (Answer, error)
}

// AnswerFuser merges two independently found answers into one.
type AnswerFuser interface {
	Fuse(ctx context.Context, question string, a, b Answer) (Answer, error)
}

// SectionRef identifies a pre-partitioned section of a document.
type SectionRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Section is a section with its text.
type Section struct {
	SectionRef
	Text string
}

// SectionClassifier picks the sections likely to answer a question.
// An empty result means no section applies.
type SectionClassifier interface {
	Classify(ctx context.Context, question string, sections []SectionRef) ([]string, error)
}

// SectionReader reads the section index of a document.
type SectionReader interface {
	ListSections(ctx context.Context, documentID string) ([]SectionRef, error)
	ReadSections(ctx context.Context, documentID string, ids []string) ([]Section, error)
}

// DocumentReader returns the complete text of a document.
type DocumentReader interface {
	FullText(ctx context.Context, documentID string) (string, error)
}

// MetadataResolver looks up document metadata.
type MetadataResolver interface {
	Metadata(ctx context.Context, documentID string) (DocumentMetadata, error)
}
