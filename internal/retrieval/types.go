package retrieval

import (
	"fmt"
	"strings"
	"time"
)

// SearchMethod identifies the backend that produced a hit.
type SearchMethod string

const (
	MethodVector  SearchMethod = "vector"
	MethodKeyword SearchMethod = "keyword"
)

// Chunk is the smallest indexed unit of a document.
// SequenceIndex orders chunks within their document.
type Chunk struct {
	ID            string         `json:"id"`
	DocumentID    string         `json:"document_id"`
	SequenceIndex int            `json:"sequence_index"`
	Text          string         `json:"text"`
	PageRef       string         `json:"page_ref,omitempty"`
	Provenance    []SearchMethod `json:"provenance,omitempty"`
}

// HasMethod reports whether m is in the chunk's provenance.
func (c Chunk) HasMethod(m SearchMethod) bool {
	for _, p := range c.Provenance {
		if p == m {
			return true
		}
	}
	return false
}

// RawHit is a single search backend result.
type RawHit struct {
	ID            string
	DocumentID    string
	SequenceIndex int
	Text          string
	Score         float64
	PageRef       string
}

// ScoredChunk is a chunk that went through the relevance gate.
type ScoredChunk struct {
	Chunk
	RelevanceScore    int
	ExpandedTextPass1 string
	ExpandedTextPass2 string
	// Pass2IDs are the sequence indexes of the ±2 window that exist in the store.
	Pass2IDs []int

	// chunks fetched during expansion, used when the final range fetch fails
	known []Chunk
}

// DocumentKind classifies a document. It is resolved once, at ingestion or
// by a metadata lookup, and never re-derived from file names.
type DocumentKind int

const (
	KindUnknown DocumentKind = iota
	KindAnnouncement
	KindPeriodicReport
	// KindProspectus is the authoritative document type. Questions scoped to
	// a prospectus use the dual-path strategy and never fall back to fulltext.
	KindProspectus
)

var kindNames = map[DocumentKind]string{
	KindUnknown:        "unknown",
	KindAnnouncement:   "announcement",
	KindPeriodicReport: "periodic_report",
	KindProspectus:     "prospectus",
}

func (k DocumentKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// IsTerminal reports whether documents of this kind are authoritative.
func (k DocumentKind) IsTerminal() bool {
	return k == KindProspectus
}

// ParseDocumentKind parses a kind name. Empty input yields KindUnknown.
func ParseDocumentKind(s string) (DocumentKind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return KindUnknown, nil
	}
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return KindUnknown, fmt.Errorf("unknown document kind %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (k DocumentKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *DocumentKind) UnmarshalText(b []byte) error {
	parsed, err := ParseDocumentKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// DocumentMetadata is what the metadata lookup knows about a document.
type DocumentMetadata struct {
	DocumentID  string       `json:"document_id"`
	Title       string       `json:"title,omitempty"`
	Kind        DocumentKind `json:"kind"`
	FundCode    string       `json:"fund_code,omitempty"`
	PublishedAt time.Time    `json:"published_at,omitzero"`
}

// DocumentScope restricts a question to a document or a fund.
// The zero value searches everything.
type DocumentScope struct {
	DocumentID string
	FundCode   string
	Kind       DocumentKind
}

// DocumentGroup is the merged excerpt of one document.
type DocumentGroup struct {
	DocumentID         string
	Metadata           DocumentMetadata
	OrderedSequenceIDs []int
	MergedText         string
	// Score is the highest relevance score among contributing chunks.
	Score int
}

// Strategy names a retrieval strategy.
type Strategy string

const (
	StrategyHybrid   Strategy = "hybrid"
	StrategyFulltext Strategy = "fulltext"
	StrategySection  Strategy = "section"
)

// FailureType classifies how a retrieval ended. The empty value means found.
type FailureType string

const (
	FailureNone FailureType = ""
	// FailureRetryable is a transient backend failure with no usable content.
	FailureRetryable FailureType = "retryable"
	// FailureFinal is a confident "not found".
	FailureFinal FailureType = "final"
	// FailureNeedsCompensation means relevant content exists but synthesis
	// failed; RawContent carries the content.
	FailureNeedsCompensation FailureType = "needs_compensation"
	FailureCancelled         FailureType = "cancelled"
)

// RetrievalAttempt records one strategy run for diagnostics.
type RetrievalAttempt struct {
	Strategy    Strategy      `json:"strategy"`
	DocumentID  string        `json:"document_id,omitempty"`
	Outcome     string        `json:"outcome"`
	FailureType FailureType   `json:"failure_type,omitempty"`
	Detail      string        `json:"detail,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// RetrievalResult is the outcome of Retrieve.
// Build it with the constructors in result.go.
type RetrievalResult struct {
	Question    string             `json:"question"`
	Answer      string             `json:"answer,omitempty"`
	Sources     []string           `json:"sources"`
	IsFound     bool               `json:"is_found"`
	FailureType FailureType        `json:"failure_type,omitempty"`
	Reason      string             `json:"reason,omitempty"`
	RawContent  string             `json:"raw_content,omitempty"`
	Attempts    []RetrievalAttempt `json:"attempts,omitempty"`
}
