package retrieval

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
)

// RelevanceGate scores chunks with the relevance oracle and keeps the ones
// that clear MinRelevanceScore. Scoring runs on a bounded worker pool shared
// by all queries, which caps concurrent oracle calls process-wide.
type RelevanceGate struct {
	oracle       RelevanceOracle
	expander     *ExpansionEngine
	pool         *ants.Pool
	timeout      time.Duration
	contentLimit int
	logger       *slog.Logger
}

// NewRelevanceGate creates a gate. expander may be nil, in which case chunks
// are scored on their own text instead of their ±1 neighbourhood.
// Call Release when done.
func NewRelevanceGate(oracle RelevanceOracle, expander *ExpansionEngine, cfg Config, logger *slog.Logger) (*RelevanceGate, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := ants.NewPool(cfg.ScoreConcurrency)
	if err != nil {
		return nil, err
	}
	return &RelevanceGate{
		oracle:       oracle,
		expander:     expander,
		pool:         pool,
		timeout:      cfg.Timeouts.Score,
		contentLimit: cfg.ScoreContentLimit,
		logger:       logger,
	}, nil
}

// Release frees the worker pool.
func (g *RelevanceGate) Release() {
	g.pool.Release()
}

// Score asks the oracle to rate text for question. Oracle errors, timeouts
// and out-of-range scores yield DefaultRelevanceScore. The only error
// returned is the cancellation of ctx.
func (g *RelevanceGate) Score(ctx context.Context, question, text string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	sctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	score, err := g.oracle.Score(sctx, question, truncateRunes(text, g.contentLimit))
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		g.logger.Warn("relevance oracle failed, using default score",
			slog.Int("default_score", DefaultRelevanceScore),
			slog.String("error", err.Error()))
		return DefaultRelevanceScore, nil
	}
	if score < 1 || score > MaxRelevanceScore {
		g.logger.Warn("relevance score out of range, using default score",
			slog.Int("score", score),
			slog.Int("default_score", DefaultRelevanceScore))
		return DefaultRelevanceScore, nil
	}
	return score, nil
}

// Filter expands every chunk to its ±1 neighbourhood, scores it, and returns
// the chunks scoring at least MinRelevanceScore in input order.
func (g *RelevanceGate) Filter(ctx context.Context, chunks []Chunk, question string) []ScoredChunk {
	scored := make([]ScoredChunk, len(chunks))

	var wg sync.WaitGroup
	for i, c := range chunks {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			scored[i] = g.scoreChunk(ctx, question, c)
		}
		if err := g.pool.Submit(task); err != nil {
			// pool released or overloaded; score inline
			task()
		}
	}
	wg.Wait()

	kept := make([]ScoredChunk, 0, len(scored))
	for _, sc := range scored {
		if sc.RelevanceScore >= MinRelevanceScore {
			kept = append(kept, sc)
		}
	}

	g.logger.Debug("relevance gate",
		slog.Int("candidates", len(chunks)),
		slog.Int("kept", len(kept)))
	return kept
}

func (g *RelevanceGate) scoreChunk(ctx context.Context, question string, c Chunk) ScoredChunk {
	sc := ScoredChunk{Chunk: c, ExpandedTextPass1: c.Text, known: []Chunk{c}}
	if g.expander != nil {
		sc.ExpandedTextPass1, sc.known = g.expander.pass1(ctx, c)
	}

	score, err := g.Score(ctx, question, sc.ExpandedTextPass1)
	if err != nil {
		// cancelled; a zero score drops the chunk
		return sc
	}
	sc.RelevanceScore = score
	return sc
}

// truncateRunes cuts s to at most limit runes. limit <= 0 disables it.
func truncateRunes(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}
