// Package config loads fundrag configuration.
//
// Values are layered, later layers winning:
//  1. defaults (NewConfig)
//  2. user config ($XDG_CONFIG_HOME/fundrag/config.yaml)
//  3. project config (.fundrag.yaml or .fundrag.yml in the working directory)
//  4. FUNDRAG_* environment variables
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	frerrors "github.com/Aman-CERP/fundrag/internal/errors"
)

// Config is the complete fundrag configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Paths      PathsConfig      `yaml:"paths" json:"paths"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Retrieval  RetrievalConfig  `yaml:"retrieval" json:"retrieval"`
	Timeouts   TimeoutsConfig   `yaml:"timeouts" json:"timeouts"`
	LLM        LLMConfig        `yaml:"llm" json:"llm"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Cache      CacheConfig      `yaml:"cache" json:"cache"`
	Ingest     IngestConfig     `yaml:"ingest" json:"ingest"`
	Server     ServerConfig     `yaml:"server" json:"server"`
}

// PathsConfig locates the index and the source documents.
type PathsConfig struct {
	// DataDir holds the SQLite store and the keyword and vector indexes.
	DataDir string `yaml:"data_dir" json:"data_dir"`
	// DocumentsDir holds documents.yaml and the document files.
	DocumentsDir string `yaml:"documents_dir" json:"documents_dir"`
}

// SearchConfig configures the two search backends.
type SearchConfig struct {
	// KeywordBackend is "bleve" (default) or "sqlite" (FTS5).
	KeywordBackend string `yaml:"keyword_backend" json:"keyword_backend"`
	TopK           int    `yaml:"top_k" json:"top_k"`
}

// RetrievalConfig tunes the retrieval engine.
type RetrievalConfig struct {
	ScoreConcurrency     int    `yaml:"score_concurrency" json:"score_concurrency"`
	FetchConcurrency     int    `yaml:"fetch_concurrency" json:"fetch_concurrency"`
	ScoreContentLimit    int    `yaml:"score_content_limit" json:"score_content_limit"`
	FulltextContentLimit int    `yaml:"fulltext_content_limit" json:"fulltext_content_limit"`
	SectionContentLimit  int    `yaml:"section_content_limit" json:"section_content_limit"`
	GapMarker            string `yaml:"gap_marker" json:"gap_marker"`
	// DualPath runs hybrid and section retrieval together on prospectuses.
	DualPath bool `yaml:"dual_path" json:"dual_path"`
}

// TimeoutsConfig bounds every external call.
type TimeoutsConfig struct {
	Search time.Duration `yaml:"search" json:"search"`
	Fetch  time.Duration `yaml:"fetch" json:"fetch"`
	Score  time.Duration `yaml:"score" json:"score"`
	Answer time.Duration `yaml:"answer" json:"answer"`
}

// LLMConfig configures the OpenAI-compatible chat endpoint used by every
// oracle.
type LLMConfig struct {
	BaseURL     string  `yaml:"base_url" json:"base_url"`
	Model       string  `yaml:"model" json:"model"`
	APIKey      string  `yaml:"api_key" json:"-"`
	Temperature float64 `yaml:"temperature" json:"temperature"`
	// MaxFailures consecutive failures open the circuit breaker for
	// ResetTimeout.
	MaxFailures  int           `yaml:"max_failures" json:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout" json:"reset_timeout"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "static" (offline hashing) or "openai".
	Provider   string `yaml:"provider" json:"provider"`
	Model      string `yaml:"model" json:"model"`
	BaseURL    string `yaml:"base_url" json:"base_url"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	CacheSize  int    `yaml:"cache_size" json:"cache_size"`
}

// CacheConfig configures the document metadata cache.
type CacheConfig struct {
	MetadataTTL  time.Duration `yaml:"metadata_ttl" json:"metadata_ttl"`
	MetadataSize int           `yaml:"metadata_size" json:"metadata_size"`
}

// IngestConfig configures document ingestion.
type IngestConfig struct {
	// ChunkSize is the target chunk length in runes.
	ChunkSize int `yaml:"chunk_size" json:"chunk_size"`
	Workers   int `yaml:"workers" json:"workers"`
	BatchSize int `yaml:"batch_size" json:"batch_size"`
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	// Transport is "stdio" or "http" (streamable HTTP on Addr).
	Transport string `yaml:"transport" json:"transport"`
	Addr      string `yaml:"addr" json:"addr"`
	LogLevel  string `yaml:"log_level" json:"log_level"`
}

// NewConfig returns the defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			DataDir:      ".fundrag",
			DocumentsDir: "documents",
		},
		Search: SearchConfig{
			KeywordBackend: "bleve",
			TopK:           15,
		},
		Retrieval: RetrievalConfig{
			ScoreConcurrency:     8,
			FetchConcurrency:     4,
			ScoreContentLimit:    3000,
			FulltextContentLimit: 60000,
			SectionContentLimit:  300000,
			GapMarker:            "[gap]",
			DualPath:             true,
		},
		Timeouts: TimeoutsConfig{
			Search: 10 * time.Second,
			Fetch:  5 * time.Second,
			Score:  30 * time.Second,
			Answer: 120 * time.Second,
		},
		LLM: LLMConfig{
			BaseURL:      "https://api.openai.com/v1",
			Model:        "gpt-4o-mini",
			MaxFailures:  5,
			ResetTimeout: 30 * time.Second,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "static",
			Model:      "text-embedding-3-small",
			Dimensions: 256,
			CacheSize:  1000,
		},
		Cache: CacheConfig{
			MetadataTTL:  10 * time.Minute,
			MetadataSize: 512,
		},
		Ingest: IngestConfig{
			ChunkSize: 800,
			Workers:   4,
			BatchSize: 32,
		},
		Server: ServerConfig{
			Transport: "stdio",
			Addr:      "127.0.0.1:8765",
			LogLevel:  "info",
		},
	}
}

// UserConfigPath returns $XDG_CONFIG_HOME/fundrag/config.yaml, or
// ~/.config/fundrag/config.yaml.
func UserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "fundrag", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "fundrag", "config.yaml")
	}
	return filepath.Join(home, ".config", "fundrag", "config.yaml")
}

// ProjectConfigNames are tried in order in the project directory.
var ProjectConfigNames = []string{".fundrag.yaml", ".fundrag.yml"}

// Load builds the configuration for a project directory.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if err := cfg.overlayFile(UserConfigPath()); err != nil {
		return nil, err
	}
	for _, name := range ProjectConfigNames {
		path := filepath.Join(dir, name)
		if !fileExists(path) {
			continue
		}
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
		break
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	cfg.resolvePaths(dir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// overlayFile decodes a YAML file over the current values. Keys missing
// from the file keep their current value, so an explicit `false` or `0`
// in the file wins over a default.
func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return frerrors.New(frerrors.ErrCodeConfigNotFound, "read config file "+path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return frerrors.ConfigError("parse config file "+path, err).
			WithSuggestion("check the YAML syntax; durations are written like 30s or 2m")
	}
	return nil
}

// envOverride applies one FUNDRAG_* variable.
type envOverride struct {
	name  string
	apply func(c *Config, v string) error
}

var envOverrides = []envOverride{
	{"FUNDRAG_DATA_DIR", func(c *Config, v string) error { c.Paths.DataDir = v; return nil }},
	{"FUNDRAG_DOCUMENTS_DIR", func(c *Config, v string) error { c.Paths.DocumentsDir = v; return nil }},
	{"FUNDRAG_KEYWORD_BACKEND", func(c *Config, v string) error { c.Search.KeywordBackend = strings.ToLower(v); return nil }},
	{"FUNDRAG_TOP_K", func(c *Config, v string) error { return setInt(&c.Search.TopK, v) }},
	{"FUNDRAG_SCORE_CONCURRENCY", func(c *Config, v string) error { return setInt(&c.Retrieval.ScoreConcurrency, v) }},
	{"FUNDRAG_DUAL_PATH", func(c *Config, v string) error { return setBool(&c.Retrieval.DualPath, v) }},
	{"FUNDRAG_ANSWER_TIMEOUT", func(c *Config, v string) error { return setDuration(&c.Timeouts.Answer, v) }},
	{"FUNDRAG_LLM_BASE_URL", func(c *Config, v string) error { c.LLM.BaseURL = v; return nil }},
	{"FUNDRAG_LLM_MODEL", func(c *Config, v string) error { c.LLM.Model = v; return nil }},
	{"FUNDRAG_LLM_API_KEY", func(c *Config, v string) error { c.LLM.APIKey = v; return nil }},
	{"FUNDRAG_EMBEDDINGS_PROVIDER", func(c *Config, v string) error { c.Embeddings.Provider = strings.ToLower(v); return nil }},
	{"FUNDRAG_EMBEDDINGS_MODEL", func(c *Config, v string) error { c.Embeddings.Model = v; return nil }},
	{"FUNDRAG_EMBEDDINGS_BASE_URL", func(c *Config, v string) error { c.Embeddings.BaseURL = v; return nil }},
	{"FUNDRAG_TRANSPORT", func(c *Config, v string) error { c.Server.Transport = strings.ToLower(v); return nil }},
	{"FUNDRAG_LOG_LEVEL", func(c *Config, v string) error { c.Server.LogLevel = strings.ToLower(v); return nil }},
}

// applyEnv applies FUNDRAG_* overrides. A malformed value is an error
// rather than being silently ignored.
func (c *Config) applyEnv(getenv func(string) string) error {
	for _, o := range envOverrides {
		v := strings.TrimSpace(getenv(o.name))
		if v == "" {
			continue
		}
		if err := o.apply(c, v); err != nil {
			return frerrors.ConfigError(fmt.Sprintf("invalid %s=%q", o.name, v), err)
		}
	}
	// The conventional variable is honoured when no fundrag-specific key is set.
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = getenv("OPENAI_API_KEY")
	}
	return nil
}

func setInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func setBool(dst *bool, v string) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}
	*dst = b
	return nil
}

func setDuration(dst *time.Duration, v string) error {
	d, err := time.ParseDuration(v)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

// resolvePaths makes relative paths relative to the project directory.
func (c *Config) resolvePaths(dir string) {
	if dir == "" {
		return
	}
	if c.Paths.DataDir != "" && !filepath.IsAbs(c.Paths.DataDir) {
		c.Paths.DataDir = filepath.Join(dir, c.Paths.DataDir)
	}
	if c.Paths.DocumentsDir != "" && !filepath.IsAbs(c.Paths.DocumentsDir) {
		c.Paths.DocumentsDir = filepath.Join(dir, c.Paths.DocumentsDir)
	}
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	check(oneOf(c.Search.KeywordBackend, "bleve", "sqlite"),
		"search.keyword_backend must be bleve or sqlite, got %q", c.Search.KeywordBackend)
	check(c.Search.TopK > 0, "search.top_k must be positive, got %d", c.Search.TopK)
	check(c.Retrieval.ScoreConcurrency > 0, "retrieval.score_concurrency must be positive, got %d", c.Retrieval.ScoreConcurrency)
	check(c.Retrieval.FetchConcurrency > 0, "retrieval.fetch_concurrency must be positive, got %d", c.Retrieval.FetchConcurrency)
	check(c.Retrieval.ScoreContentLimit > 0, "retrieval.score_content_limit must be positive")
	check(c.Retrieval.FulltextContentLimit > 0, "retrieval.fulltext_content_limit must be positive")
	check(c.Retrieval.SectionContentLimit > 0, "retrieval.section_content_limit must be positive")
	check(strings.TrimSpace(c.Retrieval.GapMarker) != "", "retrieval.gap_marker must not be blank")
	check(c.Timeouts.Search > 0 && c.Timeouts.Fetch > 0 && c.Timeouts.Score > 0 && c.Timeouts.Answer > 0,
		"timeouts must all be positive")
	check(c.LLM.Temperature >= 0 && c.LLM.Temperature <= 2, "llm.temperature must be within 0..2, got %g", c.LLM.Temperature)
	check(c.LLM.MaxFailures > 0, "llm.max_failures must be positive")
	check(oneOf(c.Embeddings.Provider, "static", "openai"),
		"embeddings.provider must be static or openai, got %q", c.Embeddings.Provider)
	check(c.Embeddings.Dimensions > 0, "embeddings.dimensions must be positive")
	check(c.Cache.MetadataSize > 0, "cache.metadata_size must be positive")
	check(c.Ingest.ChunkSize >= 100, "ingest.chunk_size must be at least 100, got %d", c.Ingest.ChunkSize)
	check(c.Ingest.Workers > 0 && c.Ingest.BatchSize > 0, "ingest.workers and ingest.batch_size must be positive")
	check(oneOf(c.Server.Transport, "stdio", "http"), "server.transport must be stdio or http, got %q", c.Server.Transport)
	check(c.Server.Transport != "http" || c.Server.Addr != "", "server.addr is required for the http transport")
	check(oneOf(c.Server.LogLevel, "debug", "info", "warn", "error"),
		"server.log_level must be debug, info, warn or error, got %q", c.Server.LogLevel)

	if len(problems) > 0 {
		return frerrors.ConfigError("invalid configuration: "+strings.Join(problems, "; "), nil)
	}
	return nil
}

// WriteYAML writes the configuration to path, creating its directory.
// The API key is never written.
func (c *Config) WriteYAML(path string) error {
	out := *c
	out.LLM.APIKey = ""
	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
