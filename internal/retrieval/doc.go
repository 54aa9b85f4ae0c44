// Package retrieval implements the multi-strategy retrieval fusion engine.
//
// A question is answered by running one or more strategies against the
// indexed documents:
//
//   - hybrid: vector and keyword search merged and deduplicated, every hit
//     scored for relevance on its ±1 neighbourhood, survivors expanded to
//     ±2 and stitched into one gap-marked excerpt per document, then
//     answered by the answer oracle.
//   - fulltext: the whole text of one candidate document at a time, used
//     when hybrid fails for non-prospectus documents.
//   - section: classifier-selected sections of a prospectus.
//
// Prospectus questions run hybrid and section concurrently and fuse the two
// results. Every path terminates in a RetrievalResult whose FailureType tells
// the caller whether to retry, report "not found", or post-process RawContent.
//
// Storage, search, and LLM services are consumed through the interfaces in
// collaborators.go; this package holds no persistent state.
package retrieval
