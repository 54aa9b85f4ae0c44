// Package validation runs question suites against a retriever and reports
// which questions were answered from the expected documents.
//
// A suite is a YAML file:
//
//	cases:
//	  - id: fee-rate
//	    question: 本基金的管理费率是多少
//	    document: fund-a-prospectus
//	    sources: [fund-a-prospectus]
//	    contains: ["1.5%"]
//	  - id: out-of-corpus
//	    question: 本基金的业绩比较基准是什么
//	    document: fund-a-notice
//	    unanswerable: true
package validation

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	frerrors "github.com/Aman-CERP/fundrag/internal/errors"
	"github.com/Aman-CERP/fundrag/internal/retrieval"
)

// Case is one question and what a correct result looks like.
type Case struct {
	ID       string `yaml:"id" json:"id"`
	Question string `yaml:"question" json:"question"`

	// Scope of the retrieval.
	Document string `yaml:"document,omitempty" json:"document,omitempty"`
	Fund     string `yaml:"fund,omitempty" json:"fund,omitempty"`
	Kind     string `yaml:"kind,omitempty" json:"kind,omitempty"`

	// Sources lists documents of which at least one must be cited.
	Sources []string `yaml:"sources,omitempty" json:"sources,omitempty"`
	// Contains lists substrings the answer must all include.
	Contains []string `yaml:"contains,omitempty" json:"contains,omitempty"`
	// Unanswerable expects no answer; a found answer fails the case.
	Unanswerable bool `yaml:"unanswerable,omitempty" json:"unanswerable,omitempty"`
}

// Scope converts the case scope for the retriever.
func (c Case) Scope() (retrieval.DocumentScope, error) {
	kind, err := retrieval.ParseDocumentKind(c.Kind)
	if err != nil {
		return retrieval.DocumentScope{}, err
	}
	return retrieval.DocumentScope{DocumentID: c.Document, FundCode: c.Fund, Kind: kind}, nil
}

// Suite is a list of cases.
type Suite struct {
	Cases []Case `yaml:"cases"`
}

// LoadSuite reads and validates a suite file.
func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read suite: %w", err)
	}
	var s Suite
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, frerrors.ValidationError("invalid suite file", err).WithDetail("path", path)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate requires at least one case, unique ids, questions and known
// kinds.
func (s *Suite) Validate() error {
	if len(s.Cases) == 0 {
		return frerrors.ValidationError("suite has no cases", nil)
	}
	seen := make(map[string]bool, len(s.Cases))
	for i, c := range s.Cases {
		if c.ID == "" {
			return frerrors.ValidationError(fmt.Sprintf("case %d has no id", i+1), nil)
		}
		if seen[c.ID] {
			return frerrors.ValidationError("duplicate case id "+c.ID, nil)
		}
		seen[c.ID] = true
		if c.Question == "" {
			return frerrors.ValidationError("case "+c.ID+" has no question", nil)
		}
		if _, err := c.Scope(); err != nil {
			return frerrors.ValidationError("case "+c.ID, err)
		}
		if c.Unanswerable && (len(c.Sources) > 0 || len(c.Contains) > 0) {
			return frerrors.ValidationError("case "+c.ID+" is unanswerable but lists expectations", nil)
		}
	}
	return nil
}
