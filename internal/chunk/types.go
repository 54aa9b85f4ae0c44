// Package chunk splits disclosure documents into retrievable chunks and
// titled sections.
package chunk

// Chunk size defaults, in runes.
const (
	DefaultChunkSize = 800
	MinChunkSize     = 100
)

// PageBreak separates pages in extracted document text.
const PageBreak = "\f"

// Piece is one chunk of a parsed document. Seq is dense from 0.
type Piece struct {
	Seq     int
	Text    string
	PageRef string // "p<N>" when the text has page breaks, else empty
}

// Section is a heading and the text under it, up to the next heading.
type Section struct {
	ID      string
	Ordinal int
	Title   string // heading path, e.g. "第七章 基金费用 > 一、管理费"
	Level   int
	Content string
}

// Document is the result of parsing one file.
type Document struct {
	Pieces   []Piece
	Sections []Section
}

// Options configures a Parser.
type Options struct {
	// ChunkSize is the target chunk length in runes.
	ChunkSize int
}
