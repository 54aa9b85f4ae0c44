package mcp

import "github.com/Aman-CERP/fundrag/internal/retrieval"

// RetrieveInput is the input of the retrieve tool.
type RetrieveInput struct {
	Question   string `json:"question" jsonschema:"the question to answer from fund disclosure documents"`
	DocumentID string `json:"document_id,omitempty" jsonschema:"restrict retrieval to one document"`
	FundCode   string `json:"fund_code,omitempty" jsonschema:"restrict retrieval to one fund, e.g. 000001"`
	Kind       string `json:"kind,omitempty" jsonschema:"document kind when known: announcement, periodic_report or prospectus"`
}

// RetrieveOutput is the output of the retrieve tool.
type RetrieveOutput struct {
	Question    string          `json:"question"`
	Answer      string          `json:"answer,omitempty" jsonschema:"the answer, empty when nothing was found"`
	Sources     []string        `json:"sources" jsonschema:"ids of the documents the answer is drawn from"`
	IsFound     bool            `json:"is_found"`
	FailureType string          `json:"failure_type,omitempty" jsonschema:"retryable, final, needs_compensation or cancelled"`
	Reason      string          `json:"reason,omitempty" jsonschema:"why nothing was found"`
	RawContent  string          `json:"raw_content,omitempty" jsonschema:"relevant excerpts when answer synthesis failed"`
	Attempts    []AttemptOutput `json:"attempts,omitempty"`
}

// AttemptOutput is one strategy run.
type AttemptOutput struct {
	Strategy    string `json:"strategy"`
	DocumentID  string `json:"document_id,omitempty"`
	Outcome     string `json:"outcome"`
	FailureType string `json:"failure_type,omitempty"`
	Detail      string `json:"detail,omitempty"`
	DurationMS  int64  `json:"duration_ms"`
}

// ListDocumentsInput is the input of the list_documents tool.
type ListDocumentsInput struct {
	FundCode string `json:"fund_code,omitempty" jsonschema:"only documents of this fund"`
	Kind     string `json:"kind,omitempty" jsonschema:"only documents of this kind"`
	Limit    int    `json:"limit,omitempty" jsonschema:"maximum number of documents, default 50"`
}

// ListDocumentsOutput is the output of the list_documents tool.
type ListDocumentsOutput struct {
	Documents []DocumentOutput `json:"documents"`
	Total     int              `json:"total" jsonschema:"number of matching documents before the limit"`
}

// DocumentOutput describes one indexed document.
type DocumentOutput struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Kind        string `json:"kind,omitempty"`
	FundCode    string `json:"fund_code,omitempty"`
	PublishedAt string `json:"published_at,omitempty"`
	Chunks      int    `json:"chunks"`
	URI         string `json:"uri" jsonschema:"resource uri with the full text"`
}

// IndexStatusInput is the (empty) input of the index_status tool.
type IndexStatusInput struct{}

// IndexStatusOutput is the output of the index_status tool.
type IndexStatusOutput struct {
	Corpus     CorpusInfo    `json:"corpus"`
	Stats      IndexStats    `json:"stats"`
	Embeddings EmbeddingInfo `json:"embeddings"`
}

// IndexStats counts indexed content.
type IndexStats struct {
	Documents   int    `json:"documents"`
	Chunks      int    `json:"chunks"`
	Sections    int    `json:"sections"`
	KeywordDocs int    `json:"keyword_docs"`
	Vectors     int    `json:"vectors"`
	LastIngest  string `json:"last_ingest,omitempty"`
}

// EmbeddingInfo reports the configured and the active embedder.
type EmbeddingInfo struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`

	ActualModel      string `json:"actual_model"`
	Dimensions       int    `json:"dimensions"`
	IsFallbackActive bool   `json:"is_fallback_active"` // static hashing embedder
	SemanticQuality  string `json:"semantic_quality"`   // "high" or "low"
}

// ToRetrieveOutput converts an engine result.
func ToRetrieveOutput(r retrieval.RetrievalResult) RetrieveOutput {
	out := RetrieveOutput{
		Question:    r.Question,
		Answer:      r.Answer,
		Sources:     r.Sources,
		IsFound:     r.IsFound,
		FailureType: string(r.FailureType),
		Reason:      r.Reason,
		RawContent:  r.RawContent,
	}
	if out.Sources == nil {
		out.Sources = []string{}
	}
	for _, a := range r.Attempts {
		out.Attempts = append(out.Attempts, AttemptOutput{
			Strategy:    string(a.Strategy),
			DocumentID:  a.DocumentID,
			Outcome:     a.Outcome,
			FailureType: string(a.FailureType),
			Detail:      a.Detail,
			DurationMS:  a.Duration.Milliseconds(),
		})
	}
	return out
}
