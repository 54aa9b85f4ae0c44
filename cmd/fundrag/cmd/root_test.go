package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/fundrag/internal/logging"
)

const prospectusText = `# 第一节 基金费用

本基金的管理费按前一日基金资产净值的1.5%年费率计提。托管费按0.25%年费率计提。

# 第二节 基金托管人

基金托管人为中国建设银行股份有限公司，住所位于北京市西城区。
`

const noticeText = `关于基金经理变更的公告

自2024年5月1日起，张三担任本基金基金经理。
`

// isolate points every user-level path at a temp directory.
func isolate(t *testing.T) {
	t.Helper()
	home := t.TempDir()
	t.Setenv(logging.HomeEnv, home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, "config"))
	t.Setenv("NO_COLOR", "1")
}

// newProject creates a project whose documents directory holds a
// prospectus and an announcement, and returns its path.
func newProject(t *testing.T) string {
	t.Helper()
	isolate(t)
	dir := t.TempDir()
	docs := filepath.Join(dir, "documents")
	require.NoError(t, os.MkdirAll(docs, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(docs, "fund-a-prospectus.md"), []byte(prospectusText), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(docs, "fund-a-notice.txt"), []byte(noticeText), 0o644))
	return dir
}

// run executes the root command with args and returns its output.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestRootCmd_ShowsHelp(t *testing.T) {
	isolate(t)

	out, err := run(t, "--help")

	require.NoError(t, err)
	assert.Contains(t, out, "fundrag")
	assert.Contains(t, out, "Usage:")
}

func TestRootCmd_NoArgsShowsHelp(t *testing.T) {
	isolate(t)

	out, err := run(t)

	require.NoError(t, err)
	assert.Contains(t, out, "Available Commands")
}

func TestRootCmd_ShowsVersion(t *testing.T) {
	isolate(t)

	out, err := run(t, "--version")

	require.NoError(t, err)
	assert.Contains(t, out, "fundrag version")
}

func TestRootCmd_HasSubcommands(t *testing.T) {
	// Given: a root command
	cmd := NewRootCmd()

	// When: listing its subcommands
	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}

	// Then: every command is present
	for _, want := range []string{"ask", "ingest", "serve", "documents", "status", "stats", "doctor", "eval", "config", "logs", "version"} {
		assert.Contains(t, names, want)
	}
}

func TestRootCmd_PersistentFlags(t *testing.T) {
	cmd := NewRootCmd()

	for _, name := range []string{"dir", "debug", "profile-cpu", "profile-mem", "profile-trace"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
	assert.Equal(t, ".", cmd.PersistentFlags().Lookup("dir").DefValue)
}

func TestRootCmd_LoadsDotEnv(t *testing.T) {
	// Given: a project whose .env moves the data directory
	dir := newProject(t)
	t.Setenv("FUNDRAG_DATA_DIR", "")
	require.NoError(t, os.Unsetenv("FUNDRAG_DATA_DIR"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("FUNDRAG_DATA_DIR=state\n"), 0o644))

	// When: showing the configuration
	out, err := run(t, "config", "show", "--json", "-C", dir)

	// Then: the .env value is in effect
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(dir, "state"))
}

func TestRootCmd_WritesProfiles(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	cpu := filepath.Join(dir, "cpu.prof")
	heap := filepath.Join(dir, "heap.prof")

	_, err := run(t, "version", "--profile-cpu", cpu, "--profile-mem", heap)

	require.NoError(t, err)
	assert.FileExists(t, cpu)
	assert.FileExists(t, heap)
}

func TestServeCmd_ShowsHelp(t *testing.T) {
	isolate(t)

	out, err := run(t, "serve", "--help")

	require.NoError(t, err)
	assert.True(t, strings.Contains(out, "MCP"))
	assert.Contains(t, out, "--transport")
}

func TestServeCmd_RequiresIndex(t *testing.T) {
	dir := newProject(t)

	_, err := run(t, "serve", "-C", dir)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no index found")
}
