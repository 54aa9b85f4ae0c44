package logging

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleLog = `{"time":"2026-03-01T10:00:00.000Z","level":"DEBUG","msg":"search merged","query_id":"q-1","merged":12}
{"time":"2026-03-01T10:00:01.000Z","level":"INFO","msg":"retrieval attempt","query_id":"q-1","strategy":"hybrid"}
not json at all
{"time":"2026-03-01T10:00:02.000Z","level":"WARN","msg":"range fetch failed","query_id":"q-2","document_id":"d7"}
{"time":"2026-03-01T10:00:03.000Z","level":"ERROR","msg":"retrieval panicked","query_id":"q-2"}
`

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fundrag.log")
	require.NoError(t, os.WriteFile(path, []byte(sampleLog), 0o644))
	return path
}

func TestViewer_Tail_Filters(t *testing.T) {
	path := writeSample(t)

	tests := []struct {
		name string
		cfg  ViewerConfig
		n    int
		want []string
	}{
		{"everything", ViewerConfig{}, 100, []string{"search merged", "retrieval attempt", "", "range fetch failed", "retrieval panicked"}},
		{"last two lines", ViewerConfig{}, 2, []string{"range fetch failed", "retrieval panicked"}},
		{"warn and above", ViewerConfig{Level: "warn"}, 100, []string{"range fetch failed", "retrieval panicked"}},
		{"one query", ViewerConfig{QueryID: "q-1"}, 100, []string{"search merged", "retrieval attempt"}},
		{"pattern", ViewerConfig{Pattern: regexp.MustCompile(`d7`)}, 100, []string{"range fetch failed"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := NewViewer(tt.cfg, &bytes.Buffer{}).Tail(path, tt.n)
			require.NoError(t, err)

			msgs := make([]string, 0, len(entries))
			for _, e := range entries {
				msgs = append(msgs, e.Msg)
			}
			assert.Equal(t, tt.want, msgs)
		})
	}
}

func TestViewer_Format(t *testing.T) {
	v := NewViewer(ViewerConfig{NoColor: true}, &bytes.Buffer{})
	e := ParseEntry(`{"time":"2026-03-01T10:00:02.5Z","level":"WARN","msg":"range fetch failed","query_id":"0f5c2a1e-9d7b","document_id":"d7","attempt":2}`)

	assert.Equal(t, "10:00:02.500 WARN  [0f5c2a1e] range fetch failed attempt=2 document_id=d7", v.Format(e))
	assert.Equal(t, "plain text", v.Format(ParseEntry("plain text")))
}

func TestViewer_Follow_StreamsAppendedLines(t *testing.T) {
	path := writeSample(t)
	v := NewViewer(ViewerConfig{Level: "info"}, &bytes.Buffer{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out := make(chan Entry, 4)
	done := make(chan error, 1)
	go func() { done <- v.Follow(ctx, path, out) }()

	// Give Follow time to seek to the end before appending.
	time.Sleep(200 * time.Millisecond)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(strings.Join([]string{
		`{"time":"2026-03-01T10:00:04Z","level":"DEBUG","msg":"skipped"}`,
		`{"time":"2026-03-01T10:00:05Z","level":"INFO","msg":"retrieval finished"}`,
	}, "\n") + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	select {
	case e := <-out:
		assert.Equal(t, "retrieval finished", e.Msg)
	case <-ctx.Done():
		t.Fatal("no entry followed")
	}
	cancel()
	assert.NoError(t, <-done)
}
