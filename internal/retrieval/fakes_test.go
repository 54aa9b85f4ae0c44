package retrieval

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func chunkText(seq int) string {
	return fmt.Sprintf("chunk-%03d", seq)
}

// memStore is an in-memory ChunkRangeStore, DocumentReader and MetadataResolver.
type memStore struct {
	mu       sync.Mutex
	docs     map[string]int // document id -> number of chunks
	meta     map[string]DocumentMetadata
	fetchErr error
	calls    []string
}

func newMemStore(docs map[string]int) *memStore {
	return &memStore{docs: docs, meta: map[string]DocumentMetadata{}}
}

func (m *memStore) FetchRange(_ context.Context, documentID string, start, end int) ([]Chunk, error) {
	m.mu.Lock()
	m.calls = append(m.calls, fmt.Sprintf("%s[%d..%d]", documentID, start, end))
	err := m.fetchErr
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	n := m.docs[documentID]
	var out []Chunk
	for i := max(start, 0); i <= end && i < n; i++ {
		out = append(out, Chunk{
			ID:            fmt.Sprintf("%s#%d", documentID, i),
			DocumentID:    documentID,
			SequenceIndex: i,
			Text:          chunkText(i),
		})
	}
	return out, nil
}

func (m *memStore) FullText(_ context.Context, documentID string) (string, error) {
	n, ok := m.docs[documentID]
	if !ok {
		return "", fmt.Errorf("document %s not found", documentID)
	}
	texts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		texts = append(texts, chunkText(i))
	}
	return strings.Join(texts, "\n"), nil
}

func (m *memStore) Metadata(_ context.Context, documentID string) (DocumentMetadata, error) {
	meta, ok := m.meta[documentID]
	if !ok {
		return DocumentMetadata{}, fmt.Errorf("no metadata for %s", documentID)
	}
	return meta, nil
}

func (m *memStore) fetchCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]string(nil), m.calls...)
	sort.Strings(out)
	return out
}

func hit(documentID string, seq int) RawHit {
	return RawHit{
		ID:            fmt.Sprintf("%s#%d", documentID, seq),
		DocumentID:    documentID,
		SequenceIndex: seq,
		Text:          chunkText(seq),
	}
}

type fakeBackend struct {
	mu    sync.Mutex
	hits  []RawHit
	err   error
	calls int
	last  SearchFilter
}

func (f *fakeBackend) Search(_ context.Context, _ string, filter SearchFilter) ([]RawHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = filter
	return f.hits, f.err
}

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// scoreByMarker scores text by the chunk markers it contains.
type scoreByMarker map[string]int

func (s scoreByMarker) Score(_ context.Context, _ string, text string) (int, error) {
	best := 1
	for marker, score := range s {
		if strings.Contains(text, marker) && score > best {
			best = score
		}
	}
	return best, nil
}

type relevanceFunc func(ctx context.Context, question, text string) (int, error)

func (f relevanceFunc) Score(ctx context.Context, question, text string) (int, error) {
	return f(ctx, question, text)
}

type fakeAnswers struct {
	mu       sync.Mutex
	answer   Answer
	err      error
	contents []string
	// byDocument answers only when content mentions the key
	byDocument map[string]Answer
}

func (f *fakeAnswers) Generate(_ context.Context, _ string, content string) (Answer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contents = append(f.contents, content)
	if f.err != nil {
		return Answer{}, f.err
	}
	if f.byDocument != nil {
		for doc, a := range f.byDocument {
			if strings.Contains(content, SourcePrefix+doc+"\n") {
				return a, nil
			}
		}
		return Answer{Text: "没有找到相关信息"}, nil
	}
	return f.answer, nil
}

func (f *fakeAnswers) lastContent() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.contents) == 0 {
		return ""
	}
	return f.contents[len(f.contents)-1]
}

type fakeCompensator struct {
	answer Answer
	err    error
	called bool
}

func (f *fakeCompensator) Compensate(_ context.Context, _ string, _ string) (Answer, error) {
	f.called = true
	return f.answer, f.err
}

type fakeFuser struct {
	answer Answer
	err    error
	// started, when set, is closed on the call and the fuser then waits for ctx
	started chan struct{}
}

func (f *fakeFuser) Fuse(ctx context.Context, _ string, _, _ Answer) (Answer, error) {
	if f.started != nil {
		close(f.started)
		<-ctx.Done()
		return Answer{}, ctx.Err()
	}
	return f.answer, f.err
}

type fakeSections struct {
	refs     []SectionRef
	sections map[string]string
	listErr  error
	// started, when set, is closed on the read and the read then waits for ctx
	started chan struct{}
}

func (f *fakeSections) ListSections(_ context.Context, _ string) ([]SectionRef, error) {
	return f.refs, f.listErr
}

func (f *fakeSections) ReadSections(ctx context.Context, _ string, ids []string) ([]Section, error) {
	if f.started != nil {
		close(f.started)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	out := make([]Section, 0, len(ids))
	for _, id := range ids {
		out = append(out, Section{SectionRef: SectionRef{ID: id, Title: id}, Text: f.sections[id]})
	}
	return out, nil
}

type fakeClassifier struct {
	ids []string
	err error
}

func (f *fakeClassifier) Classify(_ context.Context, _ string, _ []SectionRef) ([]string, error) {
	return f.ids, f.err
}

const goodAnswer = "The management fee is 0.5% of net assets per year."

func newTestOrchestrator(t *testing.T, deps Dependencies) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(deps, DefaultConfig(),
		WithLogger(discardLogger()),
		WithQueryIDGenerator(func() string { return "q-test" }))
	require.NoError(t, err)
	t.Cleanup(o.Close)
	return o
}
