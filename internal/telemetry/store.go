package telemetry

import (
	"database/sql"
	"fmt"
	"time"
)

// Store persists flushed metrics.
type Store interface {
	// SaveBatch adds the counts of b to the totals for date (YYYY-MM-DD).
	SaveBatch(date string, b Batch) error
	// OutcomeCounts sums outcome counts for dates in [from, to].
	OutcomeCounts(from, to string) (map[Outcome]int64, error)
	// LatencyCounts sums latency buckets for dates in [from, to].
	LatencyCounts(from, to string) (map[LatencyBucket]int64, error)
	// TopTerms returns the limit most frequent terms.
	TopTerms(limit int) ([]TermCount, error)
	// FailedQuestions returns the most recent failed questions, newest first.
	FailedQuestions(limit int) ([]FailedQuestion, error)
}

// maxFailedQuestions bounds the persisted failed question log.
const maxFailedQuestions = 500

const telemetrySchema = `
CREATE TABLE IF NOT EXISTS retrieval_outcome_stats (
	date    TEXT NOT NULL,
	outcome TEXT NOT NULL,
	count   INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (date, outcome)
);

CREATE TABLE IF NOT EXISTS retrieval_latency_stats (
	date   TEXT NOT NULL,
	bucket TEXT NOT NULL,
	count  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (date, bucket)
);

CREATE TABLE IF NOT EXISTS question_terms (
	term      TEXT PRIMARY KEY,
	count     INTEGER NOT NULL DEFAULT 0,
	last_seen TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_question_terms_count ON question_terms(count DESC);

CREATE TABLE IF NOT EXISTS failed_questions (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	question  TEXT NOT NULL,
	outcome   TEXT NOT NULL,
	timestamp TEXT NOT NULL
);
`

// SQLiteStore keeps telemetry tables in the metadata database.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates the telemetry tables on db if needed.
// The caller owns db.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if _, err := db.Exec(telemetrySchema); err != nil {
		return nil, fmt.Errorf("create telemetry schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// SaveBatch implements Store.
func (s *SQLiteStore) SaveBatch(date string, b Batch) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for o, n := range b.Outcomes {
		if _, err := tx.Exec(`
			INSERT INTO retrieval_outcome_stats (date, outcome, count) VALUES (?, ?, ?)
			ON CONFLICT(date, outcome) DO UPDATE SET count = count + excluded.count`,
			date, string(o), n); err != nil {
			return fmt.Errorf("save outcome count: %w", err)
		}
	}
	for bucket, n := range b.Latencies {
		if _, err := tx.Exec(`
			INSERT INTO retrieval_latency_stats (date, bucket, count) VALUES (?, ?, ?)
			ON CONFLICT(date, bucket) DO UPDATE SET count = count + excluded.count`,
			date, string(bucket), n); err != nil {
			return fmt.Errorf("save latency count: %w", err)
		}
	}
	now := time.Now().UTC().Format(time.RFC3339)
	for term, n := range b.Terms {
		if _, err := tx.Exec(`
			INSERT INTO question_terms (term, count, last_seen) VALUES (?, ?, ?)
			ON CONFLICT(term) DO UPDATE SET count = count + excluded.count, last_seen = excluded.last_seen`,
			term, n, now); err != nil {
			return fmt.Errorf("save term count: %w", err)
		}
	}
	for _, fq := range b.Failed {
		if _, err := tx.Exec(`INSERT INTO failed_questions (question, outcome, timestamp) VALUES (?, ?, ?)`,
			fq.Question, string(fq.Outcome), fq.Timestamp.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("save failed question: %w", err)
		}
	}
	if len(b.Failed) > 0 {
		if _, err := tx.Exec(`
			DELETE FROM failed_questions WHERE id NOT IN (
				SELECT id FROM failed_questions ORDER BY id DESC LIMIT ?
			)`, maxFailedQuestions); err != nil {
			return fmt.Errorf("trim failed questions: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// OutcomeCounts implements Store.
func (s *SQLiteStore) OutcomeCounts(from, to string) (map[Outcome]int64, error) {
	rows, err := s.db.Query(`
		SELECT outcome, SUM(count) FROM retrieval_outcome_stats
		WHERE date >= ? AND date <= ? GROUP BY outcome`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query outcome counts: %w", err)
	}
	defer rows.Close()

	out := make(map[Outcome]int64)
	for rows.Next() {
		var o string
		var n int64
		if err := rows.Scan(&o, &n); err != nil {
			return nil, fmt.Errorf("scan outcome count: %w", err)
		}
		out[Outcome(o)] = n
	}
	return out, rows.Err()
}

// LatencyCounts implements Store.
func (s *SQLiteStore) LatencyCounts(from, to string) (map[LatencyBucket]int64, error) {
	rows, err := s.db.Query(`
		SELECT bucket, SUM(count) FROM retrieval_latency_stats
		WHERE date >= ? AND date <= ? GROUP BY bucket`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query latency counts: %w", err)
	}
	defer rows.Close()

	out := make(map[LatencyBucket]int64)
	for rows.Next() {
		var b string
		var n int64
		if err := rows.Scan(&b, &n); err != nil {
			return nil, fmt.Errorf("scan latency count: %w", err)
		}
		out[LatencyBucket(b)] = n
	}
	return out, rows.Err()
}

// TopTerms implements Store.
func (s *SQLiteStore) TopTerms(limit int) ([]TermCount, error) {
	rows, err := s.db.Query(`SELECT term, count FROM question_terms ORDER BY count DESC, term LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top terms: %w", err)
	}
	defer rows.Close()

	var out []TermCount
	for rows.Next() {
		var tc TermCount
		if err := rows.Scan(&tc.Term, &tc.Count); err != nil {
			return nil, fmt.Errorf("scan term: %w", err)
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

// FailedQuestions implements Store.
func (s *SQLiteStore) FailedQuestions(limit int) ([]FailedQuestion, error) {
	rows, err := s.db.Query(`SELECT question, outcome, timestamp FROM failed_questions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query failed questions: %w", err)
	}
	defer rows.Close()

	var out []FailedQuestion
	for rows.Next() {
		var fq FailedQuestion
		var outcome, ts string
		if err := rows.Scan(&fq.Question, &outcome, &ts); err != nil {
			return nil, fmt.Errorf("scan failed question: %w", err)
		}
		fq.Outcome = Outcome(outcome)
		fq.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, fq)
	}
	return out, rows.Err()
}
