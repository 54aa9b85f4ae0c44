package retrieval

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Relevance thresholds. The gate keeps only chunks scoring MinRelevanceScore
// or above; oracle failures score DefaultRelevanceScore, which is dropped.
const (
	MinRelevanceScore     = 4
	MaxRelevanceScore     = 5
	DefaultRelevanceScore = 3
)

// DefaultGapMarker separates non-adjacent chunks in merged text.
const DefaultGapMarker = "[gap]"

// Timeouts bound every external call made during a retrieval.
type Timeouts struct {
	Search time.Duration
	Fetch  time.Duration
	Score  time.Duration
	Answer time.Duration
}

// Config tunes the engine. Zero fields take the values of DefaultConfig.
type Config struct {
	// TopK is the number of hits requested from each search backend.
	TopK int
	// ScoreConcurrency bounds concurrent relevance oracle calls.
	ScoreConcurrency int
	// FetchConcurrency bounds concurrent range fetches.
	FetchConcurrency int
	// ScoreContentLimit truncates text sent to the relevance oracle (runes).
	ScoreContentLimit int
	// FulltextContentLimit truncates whole documents in the fulltext strategy (runes).
	FulltextContentLimit int
	// SectionContentLimit truncates section text in the section strategy (runes).
	SectionContentLimit int
	GapMarker           string
	// DisableDualPath sends prospectus questions through hybrid only
	// instead of running hybrid and section together.
	DisableDualPath bool
	Timeouts        Timeouts
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		TopK:                 15,
		ScoreConcurrency:     8,
		FetchConcurrency:     4,
		ScoreContentLimit:    3000,
		FulltextContentLimit: 60000,
		SectionContentLimit:  300000,
		GapMarker:            DefaultGapMarker,
		Timeouts: Timeouts{
			Search: 10 * time.Second,
			Fetch:  5 * time.Second,
			Score:  30 * time.Second,
			Answer: 120 * time.Second,
		},
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TopK <= 0 {
		c.TopK = d.TopK
	}
	if c.ScoreConcurrency <= 0 {
		c.ScoreConcurrency = d.ScoreConcurrency
	}
	if c.FetchConcurrency <= 0 {
		c.FetchConcurrency = d.FetchConcurrency
	}
	if c.ScoreContentLimit <= 0 {
		c.ScoreContentLimit = d.ScoreContentLimit
	}
	if c.FulltextContentLimit <= 0 {
		c.FulltextContentLimit = d.FulltextContentLimit
	}
	if c.SectionContentLimit <= 0 {
		c.SectionContentLimit = d.SectionContentLimit
	}
	if c.GapMarker == "" {
		c.GapMarker = d.GapMarker
	}
	if c.Timeouts.Search <= 0 {
		c.Timeouts.Search = d.Timeouts.Search
	}
	if c.Timeouts.Fetch <= 0 {
		c.Timeouts.Fetch = d.Timeouts.Fetch
	}
	if c.Timeouts.Score <= 0 {
		c.Timeouts.Score = d.Timeouts.Score
	}
	if c.Timeouts.Answer <= 0 {
		c.Timeouts.Answer = d.Timeouts.Answer
	}
	return c
}

// ErrNilDependency is returned when a required collaborator is nil.
var ErrNilDependency = errors.New("nil dependency")

// Dependencies are the collaborators of the orchestrator. Vector, Keyword,
// Chunks, Relevance and Answers are required; the rest enable optional
// behaviour (compensation, fusion, the section and fulltext strategies,
// scope kind resolution).
type Dependencies struct {
	Vector    SearchBackend
	Keyword   SearchBackend
	Chunks    ChunkRangeStore
	Relevance RelevanceOracle
	Answers   AnswerOracle

	Compensator Compensator
	Fuser       AnswerFuser
	Classifier  SectionClassifier
	Sections    SectionReader
	Documents   DocumentReader
	Metadata    MetadataResolver
}

func (d Dependencies) validate() error {
	required := []struct {
		name string
		ok   bool
	}{
		{"vector search backend", d.Vector != nil},
		{"keyword search backend", d.Keyword != nil},
		{"chunk range store", d.Chunks != nil},
		{"relevance oracle", d.Relevance != nil},
		{"answer oracle", d.Answers != nil},
	}
	for _, r := range required {
		if !r.ok {
			return fmt.Errorf("%w: %s is required", ErrNilDependency, r.name)
		}
	}
	return nil
}

// Recorder receives one event per completed retrieval.
type Recorder interface {
	RecordRetrieval(question string, result RetrievalResult, latency time.Duration)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRecorder attaches a telemetry recorder.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		o.recorder = r
	}
}

// WithQueryIDGenerator replaces the query id source, for tests.
func WithQueryIDGenerator(gen func() string) Option {
	return func(o *Orchestrator) {
		if gen != nil {
			o.newQueryID = gen
		}
	}
}
