package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleLog = `{"time":"2024-06-10T09:00:00.000Z","level":"INFO","msg":"retrieval started","query_id":"aaaaaaaa-1111"}
{"time":"2024-06-10T09:00:01.000Z","level":"WARN","msg":"oracle reply unparseable","query_id":"aaaaaaaa-1111","oracle":"answer"}
{"time":"2024-06-10T09:00:02.000Z","level":"INFO","msg":"retrieval finished","query_id":"bbbbbbbb-2222"}
`

func writeLog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fundrag.log")
	require.NoError(t, os.WriteFile(path, []byte(sampleLog), 0o644))
	return path
}

func TestLogsCmd(t *testing.T) {
	isolate(t)
	path := writeLog(t)

	tests := []struct {
		name      string
		args      []string
		wantLines int
		want      string
	}{
		{"all", nil, 3, "retrieval finished"},
		{"last line", []string{"-n", "1"}, 1, "retrieval finished"},
		{"level", []string{"--level", "warn"}, 1, "oracle=answer"},
		{"query", []string{"--query", "aaaaaaaa-1111"}, 2, "[aaaaaaaa]"},
		{"filter", []string{"--filter", "unparseable"}, 1, "WARN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"logs", "--file", path, "--no-color"}, tt.args...)
			out, err := run(t, args...)
			require.NoError(t, err)

			lines := strings.Split(strings.TrimSpace(out), "\n")
			assert.Len(t, lines, tt.wantLines)
			assert.Contains(t, out, tt.want)
		})
	}
}

func TestLogsCmd_InvalidFilter(t *testing.T) {
	isolate(t)

	_, err := run(t, "logs", "--file", writeLog(t), "--filter", "(")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid filter pattern")
}

func TestLogsCmd_MissingFile(t *testing.T) {
	isolate(t)

	_, err := run(t, "logs", "--file", filepath.Join(t.TempDir(), "nope.log"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "log file not found")
}
