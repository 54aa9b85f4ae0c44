// Package telemetry records retrieval outcomes for tuning: how often
// questions are answered, which strategy answered them, latency, frequent
// terms and recently failed questions. All data stays local.
package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/fundrag/internal/retrieval"
	"github.com/Aman-CERP/fundrag/internal/store"
)

// Outcome is the reported result of one retrieval.
type Outcome string

const (
	OutcomeFound             Outcome = "found"
	OutcomeFinal             Outcome = "final"
	OutcomeRetryable         Outcome = "retryable"
	OutcomeNeedsCompensation Outcome = "needs_compensation"
	OutcomeCancelled         Outcome = "cancelled"
)

// OutcomeOf maps a result to its outcome.
func OutcomeOf(r retrieval.RetrievalResult) Outcome {
	if r.IsFound {
		return OutcomeFound
	}
	switch r.FailureType {
	case retrieval.FailureRetryable:
		return OutcomeRetryable
	case retrieval.FailureNeedsCompensation:
		return OutcomeNeedsCompensation
	case retrieval.FailureCancelled:
		return OutcomeCancelled
	default:
		return OutcomeFinal
	}
}

// LatencyBucket is a latency histogram bucket. Retrievals involve several
// LLM calls, so buckets are in seconds.
type LatencyBucket string

const (
	BucketLT1s  LatencyBucket = "lt1s"
	BucketLT5s  LatencyBucket = "lt5s"
	BucketLT15s LatencyBucket = "lt15s"
	BucketLT60s LatencyBucket = "lt60s"
	BucketGE60s LatencyBucket = "ge60s"
)

// LatencyToBucket converts a duration to its bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	switch {
	case d < time.Second:
		return BucketLT1s
	case d < 5*time.Second:
		return BucketLT5s
	case d < 15*time.Second:
		return BucketLT15s
	case d < time.Minute:
		return BucketLT60s
	default:
		return BucketGE60s
	}
}

// Event is one completed retrieval.
type Event struct {
	Question string
	Outcome  Outcome
	// Strategy is the strategy of the last attempt, empty if none ran.
	Strategy  retrieval.Strategy
	Sources   int
	Latency   time.Duration
	Timestamp time.Time
}

// EventFromResult builds an event from a retrieval result.
func EventFromResult(question string, r retrieval.RetrievalResult, latency time.Duration) Event {
	ev := Event{
		Question:  question,
		Outcome:   OutcomeOf(r),
		Sources:   len(r.Sources),
		Latency:   latency,
		Timestamp: time.Now(),
	}
	if n := len(r.Attempts); n > 0 {
		ev.Strategy = r.Attempts[n-1].Strategy
	}
	return ev
}

// CircularBuffer is a fixed-capacity FIFO buffer.
type CircularBuffer[T any] struct {
	mu    sync.RWMutex
	items []T
	head  int
	size  int
}

// NewCircularBuffer creates a buffer holding at most capacity items.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{items: make([]T, capacity)}
}

// Add appends item, evicting the oldest when full.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items[b.head] = item
	b.head = (b.head + 1) % len(b.items)
	if b.size < len(b.items) {
		b.size++
	}
}

// Items returns the buffered items, oldest first.
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]T, 0, b.size)
	start := (b.head - b.size + len(b.items)) % len(b.items)
	for i := 0; i < b.size; i++ {
		out = append(out, b.items[(start+i)%len(b.items)])
	}
	return out
}

// Size returns the number of buffered items.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

var termStopWords = store.BuildStopWordMap(store.DefaultStopWords)

// ExtractTerms returns the distinct index terms of a question: Latin words of
// three or more letters and Han bigrams.
func ExtractTerms(question string) []string {
	tokens := store.FilterStopWords(store.TokenizeText(question), termStopWords)
	seen := make(map[string]bool, len(tokens))
	var terms []string
	for _, t := range tokens {
		if seen[t] || (isASCII(t) && len(t) < 3) {
			continue
		}
		seen[t] = true
		terms = append(terms, t)
	}
	return terms
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

// TermCount is a term and its frequency.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// FailedQuestion is a question that was not answered.
type FailedQuestion struct {
	Question  string    `json:"question"`
	Outcome   Outcome   `json:"outcome"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is a point-in-time copy of the metrics.
type Snapshot struct {
	Outcomes            map[Outcome]int64            `json:"outcomes"`
	FoundByStrategy     map[retrieval.Strategy]int64 `json:"found_by_strategy"`
	TopTerms            []TermCount                  `json:"top_terms"`
	FailedQuestions     []FailedQuestion             `json:"failed_questions"`
	LatencyDistribution map[LatencyBucket]int64      `json:"latency_distribution"`
	TotalQueries        int64                        `json:"total_queries"`
	ExactRepeatCount    int64                        `json:"exact_repeat_count"`
	Since               time.Time                    `json:"since"`
}

// FoundRate returns the fraction of retrievals that found an answer.
func (s *Snapshot) FoundRate() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.Outcomes[OutcomeFound]) / float64(s.TotalQueries)
}

// Config configures a Metrics collector.
type Config struct {
	TopTermsCapacity        int
	FailedQuestionsCapacity int
	RecentQuestionsCapacity int
	// FlushInterval is how often pending counts are written to the store.
	// Zero disables the background flush.
	FlushInterval time.Duration
}

// DefaultConfig returns the collector defaults.
func DefaultConfig() Config {
	return Config{
		TopTermsCapacity:        200,
		FailedQuestionsCapacity: 100,
		RecentQuestionsCapacity: 500,
		FlushInterval:           time.Minute,
	}
}

// Metrics aggregates retrieval events in memory and periodically flushes
// the counts accumulated since the previous flush to a Store.
// It is safe for concurrent use and implements retrieval.Recorder.
type Metrics struct {
	mu sync.Mutex

	outcomes        map[Outcome]int64
	foundByStrategy map[retrieval.Strategy]int64
	latencies       map[LatencyBucket]int64
	topTerms        *lru.Cache[string, int64]
	failed          *CircularBuffer[FailedQuestion]
	recent          *lru.Cache[string, struct{}]
	total           int64
	repeats         int64
	since           time.Time

	pending Batch

	store  Store
	logger *slog.Logger
	ticker *time.Ticker
	stopCh chan struct{}
	closed bool
}

// Batch is the set of counts recorded between two flushes.
type Batch struct {
	Outcomes  map[Outcome]int64
	Latencies map[LatencyBucket]int64
	Terms     map[string]int64
	Failed    []FailedQuestion
}

func newBatch() Batch {
	return Batch{
		Outcomes:  make(map[Outcome]int64),
		Latencies: make(map[LatencyBucket]int64),
		Terms:     make(map[string]int64),
	}
}

func (b *Batch) merge(o Batch) {
	for k, v := range o.Outcomes {
		b.Outcomes[k] += v
	}
	for k, v := range o.Latencies {
		b.Latencies[k] += v
	}
	for k, v := range o.Terms {
		b.Terms[k] += v
	}
	b.Failed = append(o.Failed, b.Failed...)
}

func (b Batch) empty() bool {
	return len(b.Outcomes) == 0 && len(b.Latencies) == 0 && len(b.Terms) == 0 && len(b.Failed) == 0
}

var _ retrieval.Recorder = (*Metrics)(nil)

// New creates a collector. A nil store keeps metrics in memory only.
func New(st Store, cfg Config) *Metrics {
	d := DefaultConfig()
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = d.TopTermsCapacity
	}
	if cfg.FailedQuestionsCapacity <= 0 {
		cfg.FailedQuestionsCapacity = d.FailedQuestionsCapacity
	}
	if cfg.RecentQuestionsCapacity <= 0 {
		cfg.RecentQuestionsCapacity = d.RecentQuestionsCapacity
	}
	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	recent, _ := lru.New[string, struct{}](cfg.RecentQuestionsCapacity)

	m := &Metrics{
		outcomes:        make(map[Outcome]int64),
		foundByStrategy: make(map[retrieval.Strategy]int64),
		latencies:       make(map[LatencyBucket]int64),
		topTerms:        topTerms,
		failed:          NewCircularBuffer[FailedQuestion](cfg.FailedQuestionsCapacity),
		recent:          recent,
		since:           time.Now(),
		pending:         newBatch(),
		store:           st,
		logger:          slog.Default().With(slog.String("component", "telemetry")),
		stopCh:          make(chan struct{}),
	}
	if cfg.FlushInterval > 0 && st != nil {
		m.ticker = time.NewTicker(cfg.FlushInterval)
		go m.flushLoop()
	}
	return m
}

func (m *Metrics) flushLoop() {
	for {
		select {
		case <-m.ticker.C:
			if err := m.Flush(); err != nil {
				m.logger.Warn("telemetry flush failed", slog.String("error", err.Error()))
			}
		case <-m.stopCh:
			return
		}
	}
}

// RecordRetrieval implements retrieval.Recorder.
func (m *Metrics) RecordRetrieval(question string, result retrieval.RetrievalResult, latency time.Duration) {
	m.Record(EventFromResult(question, result, latency))
}

// Record adds one event.
func (m *Metrics) Record(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	m.total++
	m.outcomes[ev.Outcome]++
	m.pending.Outcomes[ev.Outcome]++
	if ev.Outcome == OutcomeFound && ev.Strategy != "" {
		m.foundByStrategy[ev.Strategy]++
	}

	bucket := LatencyToBucket(ev.Latency)
	m.latencies[bucket]++
	m.pending.Latencies[bucket]++

	for _, term := range ExtractTerms(ev.Question) {
		count, _ := m.topTerms.Get(term)
		m.topTerms.Add(term, count+1)
		m.pending.Terms[term]++
	}

	if ev.Outcome != OutcomeFound && ev.Outcome != OutcomeCancelled {
		fq := FailedQuestion{Question: ev.Question, Outcome: ev.Outcome, Timestamp: ev.Timestamp}
		m.failed.Add(fq)
		m.pending.Failed = append(m.pending.Failed, fq)
	}

	key := hashQuestion(ev.Question)
	if _, ok := m.recent.Get(key); ok {
		m.repeats++
	}
	m.recent.Add(key, struct{}{})
}

func hashQuestion(q string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(q))))
	return hex.EncodeToString(sum[:16])
}

// Snapshot returns a copy of the current metrics.
func (m *Metrics) Snapshot() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &Snapshot{
		Outcomes:            make(map[Outcome]int64, len(m.outcomes)),
		FoundByStrategy:     make(map[retrieval.Strategy]int64, len(m.foundByStrategy)),
		LatencyDistribution: make(map[LatencyBucket]int64, len(m.latencies)),
		FailedQuestions:     m.failed.Items(),
		TotalQueries:        m.total,
		ExactRepeatCount:    m.repeats,
		Since:               m.since,
	}
	for k, v := range m.outcomes {
		s.Outcomes[k] = v
	}
	for k, v := range m.foundByStrategy {
		s.FoundByStrategy[k] = v
	}
	for k, v := range m.latencies {
		s.LatencyDistribution[k] = v
	}
	for _, term := range m.topTerms.Keys() {
		if c, ok := m.topTerms.Peek(term); ok {
			s.TopTerms = append(s.TopTerms, TermCount{Term: term, Count: c})
		}
	}
	sort.SliceStable(s.TopTerms, func(i, j int) bool {
		if s.TopTerms[i].Count != s.TopTerms[j].Count {
			return s.TopTerms[i].Count > s.TopTerms[j].Count
		}
		return s.TopTerms[i].Term < s.TopTerms[j].Term
	})
	return s
}

// Flush writes the counts recorded since the last flush to the store in
// one transaction. On error the counts are kept for the next attempt.
func (m *Metrics) Flush() error {
	if m.store == nil {
		return nil
	}
	m.mu.Lock()
	b := m.pending
	m.pending = newBatch()
	m.mu.Unlock()

	if b.empty() {
		return nil
	}
	if err := m.store.SaveBatch(time.Now().Format("2006-01-02"), b); err != nil {
		m.mu.Lock()
		m.pending.merge(b)
		m.mu.Unlock()
		return err
	}
	return nil
}

// Close stops the background flush and flushes once more.
func (m *Metrics) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if m.ticker != nil {
		m.ticker.Stop()
		close(m.stopCh)
	}
	return m.Flush()
}
