// Package ui renders ingest progress: a bubbletea view on terminals and
// line-oriented text for pipes and CI.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// Stage is an ingest stage.
type Stage int

const (
	// StageManifest reads documents.yaml.
	StageManifest Stage = iota
	// StageIndexing parses, embeds and indexes documents.
	StageIndexing
	// StagePruning removes documents no longer in the manifest.
	StagePruning
	// StageSaving persists the vector index.
	StageSaving
	// StageComplete indicates ingestion is complete.
	StageComplete
)

// String returns the human-readable stage name.
func (s Stage) String() string {
	switch s {
	case StageManifest:
		return "Manifest"
	case StageIndexing:
		return "Indexing"
	case StagePruning:
		return "Pruning"
	case StageSaving:
		return "Saving"
	case StageComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// Icon returns the short stage tag for plain text output.
func (s Stage) Icon() string {
	switch s {
	case StageManifest:
		return "READ"
	case StageIndexing:
		return "INDEX"
	case StagePruning:
		return "PRUNE"
	case StageSaving:
		return "SAVE"
	case StageComplete:
		return "DONE"
	default:
		return "???"
	}
}

// ProgressEvent represents a progress update.
type ProgressEvent struct {
	Stage    Stage
	Current  int
	Total    int
	Document string
	Message  string
}

// ErrorEvent is a failure to ingest one document.
type ErrorEvent struct {
	Document string
	Err      error
	IsWarn   bool
}

// EmbedderInfo describes the embedder used for the run.
type EmbedderInfo struct {
	Model      string
	Dimensions int
}

// CompletionStats summarises an ingest run.
type CompletionStats struct {
	Documents int // indexed this run
	Skipped   int // unchanged since the last run
	Removed   int
	Chunks    int
	Sections  int
	Duration  time.Duration
	Errors    int
	Embedder  EmbedderInfo
}

// Renderer defines the interface for progress display.
type Renderer interface {
	Start(ctx context.Context) error
	UpdateProgress(event ProgressEvent)
	AddError(event ErrorEvent)
	Complete(stats CompletionStats)
	Stop() error
}

// Config configures the UI renderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
	// DocumentsDir is shown in the TUI header.
	DocumentsDir string
}

// ConfigOption is a function that modifies Config.
type ConfigOption func(*Config)

// WithForcePlain forces plain text output.
func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) {
		c.ForcePlain = force
	}
}

// WithNoColor disables color output.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) {
		c.NoColor = noColor
	}
}

// WithDocumentsDir sets the directory shown in the header.
func WithDocumentsDir(dir string) ConfigOption {
	return func(c *Config) {
		c.DocumentsDir = dir
	}
}

// NewConfig creates a Config writing to output.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{Output: output}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRenderer returns the TUI renderer on interactive terminals and the
// plain renderer for pipes, CI, or when plain output is forced.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain || !IsTTY(cfg.Output) || DetectCI() {
		return NewPlainRenderer(cfg)
	}
	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return tui
}

// IsTTY checks if output is a terminal.
func IsTTY(w io.Writer) bool {
	if w == nil {
		return false
	}
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// DetectNoColor checks if NO_COLOR environment variable is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI checks if running in a CI environment.
func DetectCI() bool {
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL"} {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}
