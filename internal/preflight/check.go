package preflight

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/Aman-CERP/fundrag/internal/app"
	"github.com/Aman-CERP/fundrag/internal/config"
	"github.com/Aman-CERP/fundrag/internal/embed"
	"github.com/Aman-CERP/fundrag/internal/index"
	"github.com/Aman-CERP/fundrag/internal/store"
)

// CheckStatus is the outcome of one check.
type CheckStatus int

const (
	StatusPass CheckStatus = iota
	StatusWarn
	StatusFail
)

// String returns PASS, WARN or FAIL.
func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the status by name.
func (s CheckStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CheckResult holds the result of a single check.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

// IsCritical reports a failed required check.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// EmbedderFactory builds the embedder under test.
type EmbedderFactory func(embed.Config) (embed.Embedder, error)

// Checker runs the checks for one configuration.
type Checker struct {
	cfg         *config.Config
	timeout     time.Duration
	newEmbedder EmbedderFactory
}

// Option configures a Checker.
type Option func(*Checker)

// WithTimeout bounds the embedder probe.
func WithTimeout(d time.Duration) Option {
	return func(c *Checker) {
		c.timeout = d
	}
}

// WithEmbedderFactory replaces embed.NewEmbedder.
func WithEmbedderFactory(f EmbedderFactory) Option {
	return func(c *Checker) {
		c.newEmbedder = f
	}
}

// New creates a Checker for cfg.
func New(cfg *config.Config, opts ...Option) *Checker {
	c := &Checker{
		cfg:         cfg,
		timeout:     10 * time.Second,
		newEmbedder: embed.NewEmbedder,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunAll runs every check in a fixed order.
func (c *Checker) RunAll(ctx context.Context) []CheckResult {
	dataDir := c.cfg.Paths.DataDir
	return []CheckResult{
		c.CheckDataDir(dataDir),
		c.CheckDiskSpace(dataDir),
		c.CheckFileDescriptors(),
		c.CheckDocuments(),
		c.CheckEmbedder(ctx),
		c.CheckIndex(),
		c.CheckLLM(),
	}
}

// HasCriticalFailures reports whether any required check failed.
func HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// Summary returns "failed", "ready_with_warnings" or "ready".
func Summary(results []CheckResult) string {
	warned := false
	for _, r := range results {
		if r.IsCritical() {
			return "failed"
		}
		if r.Status != StatusPass {
			warned = true
		}
	}
	if warned {
		return "ready_with_warnings"
	}
	return "ready"
}

// CheckDataDir creates the data directory if needed and verifies it is
// writable.
func (c *Checker) CheckDataDir(dataDir string) CheckResult {
	result := CheckResult{Name: "data_dir", Required: true}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot create %s: %v", dataDir, err)
		return result
	}
	f, err := os.CreateTemp(dataDir, ".doctor-*")
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("not writable: %v", err)
		return result
	}
	_ = f.Close()
	_ = os.Remove(f.Name())

	result.Status = StatusPass
	result.Message = dataDir
	return result
}

// CheckDocuments verifies the documents directory lists at least one
// document.
func (c *Checker) CheckDocuments() CheckResult {
	result := CheckResult{Name: "documents", Required: true}
	dir := c.cfg.Paths.DocumentsDir

	m, err := index.LoadManifest(dir)
	if err != nil {
		result.Status = StatusFail
		result.Message = err.Error()
		result.Details = "Set paths.documents_dir or pass --documents to ingest"
		return result
	}
	if len(m.Documents) == 0 {
		result.Status = StatusWarn
		result.Message = "no documents in " + dir
		result.Details = "Add .md or .txt files, or a " + index.ManifestFile
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%d documents in %s", len(m.Documents), dir)
	return result
}

// CheckEmbedder builds the configured embedder and embeds a probe text.
func (c *Checker) CheckEmbedder(ctx context.Context) CheckResult {
	result := CheckResult{Name: "embedder", Required: true}

	e, err := c.newEmbedder(app.EmbedConfig(c.cfg))
	if err != nil {
		result.Status = StatusFail
		result.Message = err.Error()
		return result
	}
	defer func() { _ = e.Close() }()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	vec, err := e.Embed(ctx, "基金管理费率")
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("%s: %v", e.ModelName(), err)
		result.Details = "Check embeddings.base_url and FUNDRAG_LLM_API_KEY"
		return result
	}
	if len(vec) != e.Dimensions() {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("%s returned %d dimensions, configured %d", e.ModelName(), len(vec), e.Dimensions())
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s (%d dimensions)", e.ModelName(), e.Dimensions())
	return result
}

// CheckIndex compares the saved vector index with the configured
// dimensions. A missing index only warns.
func (c *Checker) CheckIndex() CheckResult {
	result := CheckResult{Name: "index", Required: true}
	dataDir := c.cfg.Paths.DataDir

	if !app.IndexExists(dataDir) {
		result.Status = StatusWarn
		result.Message = "not built"
		result.Details = "Run 'fundrag ingest'"
		return result
	}
	info, err := store.ReadVectorIndexInfo(app.VectorPath(dataDir))
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("unreadable vector index: %v", err)
		result.Details = "Run 'fundrag ingest --force' to rebuild"
		return result
	}
	if info.Dimensions != 0 && info.Dimensions != c.cfg.Embeddings.Dimensions {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("index has %d dimensions, embedder is configured for %d", info.Dimensions, c.cfg.Embeddings.Dimensions)
		result.Details = "Run 'fundrag ingest --force' to rebuild"
		return result
	}
	if model := app.EmbedConfig(c.cfg).ModelName(); info.Model != "" && info.Model != model {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("index built with %s, embedder is %s", info.Model, model)
		result.Details = "Questions are embedded differently from the chunks; run 'fundrag ingest --force'"
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%d vectors in %s", info.Vectors, dataDir)
	return result
}

// CheckLLM validates the answer model settings. It never calls the model.
func (c *Checker) CheckLLM() CheckResult {
	result := CheckResult{Name: "llm", Required: false}
	llm := c.cfg.LLM

	u, err := url.Parse(llm.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("invalid base_url %q", llm.BaseURL)
		return result
	}
	if llm.APIKey == "" && !isLocalHost(u.Hostname()) {
		result.Status = StatusWarn
		result.Message = "no API key; ask and serve will fail"
		result.Details = "Set FUNDRAG_LLM_API_KEY in the environment or .env"
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s at %s", llm.Model, u.Host)
	return result
}

func isLocalHost(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}
