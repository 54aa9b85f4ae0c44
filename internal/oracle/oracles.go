package oracle

import (
	"context"

	frerrors "github.com/Aman-CERP/fundrag/internal/errors"
	"github.com/Aman-CERP/fundrag/internal/retrieval"
)

const (
	relevanceMaxTokens  = 8
	classifierMaxTokens = 256
)

// Oracle names used in errors and logs.
const (
	NameRelevance    = "relevance"
	NameAnswer       = "answer"
	NameCompensation = "compensation"
	NameFusion       = "fusion"
	NameClassifier   = "section_classifier"
)

var (
	_ retrieval.RelevanceOracle   = (*RelevanceScorer)(nil)
	_ retrieval.AnswerOracle      = (*AnswerGenerator)(nil)
	_ retrieval.Compensator       = (*Compensator)(nil)
	_ retrieval.AnswerFuser       = (*Fuser)(nil)
	_ retrieval.SectionClassifier = (*SectionClassifier)(nil)
)

// RelevanceScorer rates chunk relevance 1 to 5.
type RelevanceScorer struct{ c *Client }

// NewRelevanceScorer creates a scorer on c.
func NewRelevanceScorer(c *Client) *RelevanceScorer { return &RelevanceScorer{c: c} }

// Score asks the model for a score and takes the first digit 1-5 of the reply.
func (s *RelevanceScorer) Score(ctx context.Context, question, text string) (int, error) {
	raw, err := s.c.complete(ctx, request{
		oracle:    NameRelevance,
		system:    relevanceSystemPrompt,
		user:      relevancePrompt(question, text),
		maxTokens: relevanceMaxTokens,
	})
	if err != nil {
		return 0, err
	}
	score, ok := ParseScore(raw)
	if !ok {
		return 0, frerrors.OracleParse(NameRelevance, raw)
	}
	return score, nil
}

// AnswerGenerator synthesizes JSON answers from formatted content.
type AnswerGenerator struct{ c *Client }

// NewAnswerGenerator creates an answer oracle on c.
func NewAnswerGenerator(c *Client) *AnswerGenerator { return &AnswerGenerator{c: c} }

// Generate answers question from content.
func (g *AnswerGenerator) Generate(ctx context.Context, question, content string) (retrieval.Answer, error) {
	return g.c.answer(ctx, request{
		oracle:   NameAnswer,
		system:   answerSystemPrompt,
		user:     answerPrompt(question, content),
		jsonMode: true,
	})
}

// Compensator retries a failed synthesis with a shorter extraction prompt.
type Compensator struct{ c *Client }

// NewCompensator creates a compensation oracle on c.
func NewCompensator(c *Client) *Compensator { return &Compensator{c: c} }

// Compensate extracts an answer from the raw formatted content.
func (p *Compensator) Compensate(ctx context.Context, question, rawContent string) (retrieval.Answer, error) {
	return p.c.answer(ctx, request{
		oracle: NameCompensation,
		system: compensationSystemPrompt,
		user:   answerPrompt(question, rawContent),
	})
}

// Fuser merges the answers of the hybrid and section paths.
type Fuser struct{ c *Client }

// NewFuser creates a fusion oracle on c.
func NewFuser(c *Client) *Fuser { return &Fuser{c: c} }

// Fuse merges a (hybrid) and b (section) into one answer.
func (f *Fuser) Fuse(ctx context.Context, question string, a, b retrieval.Answer) (retrieval.Answer, error) {
	return f.c.answer(ctx, request{
		oracle:   NameFusion,
		system:   fusionSystemPrompt,
		user:     fusionPrompt(question, a, b),
		jsonMode: true,
	})
}

// SectionClassifier picks prospectus sections for a question.
type SectionClassifier struct{ c *Client }

// NewSectionClassifier creates a classifier on c.
func NewSectionClassifier(c *Client) *SectionClassifier { return &SectionClassifier{c: c} }

// Classify returns the ids of the sections likely to answer question.
// Ids the model invents are dropped.
func (s *SectionClassifier) Classify(ctx context.Context, question string, sections []retrieval.SectionRef) ([]string, error) {
	if len(sections) == 0 {
		return nil, nil
	}
	raw, err := s.c.complete(ctx, request{
		oracle:    NameClassifier,
		system:    classifierSystemPrompt,
		user:      classifierPrompt(question, sections),
		jsonMode:  true,
		maxTokens: classifierMaxTokens,
	})
	if err != nil {
		return nil, err
	}
	ids, ok := ParseSectionIDs(raw, sections)
	if !ok {
		return nil, frerrors.OracleParse(NameClassifier, raw)
	}
	return ids, nil
}

func (c *Client) answer(ctx context.Context, req request) (retrieval.Answer, error) {
	raw, err := c.complete(ctx, req)
	if err != nil {
		return retrieval.Answer{}, err
	}
	a, ok := ParseAnswer(raw)
	if !ok {
		return retrieval.Answer{}, frerrors.OracleParse(req.oracle, raw)
	}
	return a, nil
}
