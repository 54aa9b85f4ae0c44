// Package app assembles fundrag from its configuration: the stores, the
// search engine, the LLM oracles and the retrieval orchestrator. Commands
// open an App, use the parts they need and close it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/tmc/langchaingo/llms"

	"github.com/Aman-CERP/fundrag/internal/config"
	"github.com/Aman-CERP/fundrag/internal/embed"
	frerrors "github.com/Aman-CERP/fundrag/internal/errors"
	"github.com/Aman-CERP/fundrag/internal/oracle"
	"github.com/Aman-CERP/fundrag/internal/retrieval"
	"github.com/Aman-CERP/fundrag/internal/search"
	"github.com/Aman-CERP/fundrag/internal/store"
	"github.com/Aman-CERP/fundrag/internal/telemetry"
)

// File names under paths.data_dir.
const (
	MetadataFile = "metadata.db"
	VectorFile   = "vectors.hnsw"
	KeywordBase  = "keyword"
)

// MetadataPath returns the SQLite database of dataDir.
func MetadataPath(dataDir string) string { return filepath.Join(dataDir, MetadataFile) }

// VectorPath returns the saved vector index of dataDir.
func VectorPath(dataDir string) string { return filepath.Join(dataDir, VectorFile) }

// KeywordPath returns the keyword index base path of dataDir. The backend
// appends its own extension.
func KeywordPath(dataDir string) string { return filepath.Join(dataDir, KeywordBase) }

// IndexExists reports whether dataDir holds a metadata database.
func IndexExists(dataDir string) bool {
	_, err := os.Stat(MetadataPath(dataDir))
	return err == nil
}

// App owns every long-lived component. It is safe for concurrent use once
// opened.
type App struct {
	Config   *config.Config
	Engine   *search.Engine
	Metadata *store.SQLiteStore
	Resolver *search.MetadataResolver

	logger   *slog.Logger
	inMemory bool
	model    ModelFactory

	mu           sync.Mutex
	orchestrator *retrieval.Orchestrator
	metrics      *telemetry.Metrics
}

// ModelFactory creates the chat model behind the oracles.
type ModelFactory func(cfg oracle.Config) (llms.Model, error)

// Option configures Open.
type Option func(*App)

// WithLogger sets the logger handed to every component.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithInMemory keeps every store in memory. Nothing is read from or written
// to paths.data_dir.
func WithInMemory() Option {
	return func(a *App) { a.inMemory = true }
}

// WithModelFactory replaces the OpenAI-compatible chat model.
func WithModelFactory(f ModelFactory) Option {
	return func(a *App) {
		if f != nil {
			a.model = f
		}
	}
}

// Open opens the stores under cfg.Paths.DataDir and builds the search
// engine. The oracles are built on first use by Retriever, so commands that
// never ask questions need no LLM configuration.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, frerrors.ConfigError("configuration is required", nil)
	}
	a := &App{
		Config: cfg,
		logger: slog.Default(),
		model:  oracle.NewOpenAIModel,
	}
	for _, opt := range opts {
		opt(a)
	}

	embedder, err := embed.NewEmbedder(EmbedConfig(cfg))
	if err != nil {
		return nil, frerrors.ConfigError("failed to create embedder", err).
			WithSuggestion("Check the embeddings section of .fundrag.yaml")
	}

	var metaPath, keywordPath, vectorPath string
	if !a.inMemory {
		dataDir := cfg.Paths.DataDir
		metaPath, keywordPath, vectorPath = MetadataPath(dataDir), KeywordPath(dataDir), VectorPath(dataDir)
	}

	var closers []func() error
	fail := func(err error) (*App, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		return nil, err
	}
	closers = append(closers, embedder.Close)

	meta, err := store.NewSQLiteStore(metaPath)
	if err != nil {
		return fail(fmt.Errorf("open metadata store: %w", err))
	}
	closers = append(closers, meta.Close)

	bm25, err := store.NewBM25IndexWithBackend(keywordPath, store.DefaultBM25Config(), cfg.Search.KeywordBackend)
	if err != nil {
		return fail(frerrors.New(frerrors.ErrCodeIndexFailed, "failed to open keyword index", err).
			WithDetail("backend", cfg.Search.KeywordBackend).
			WithSuggestion("The bleve index admits one process at a time; stop other fundrag processes or set search.keyword_backend to sqlite"))
	}
	closers = append(closers, bm25.Close)

	vector, err := openVectors(vectorPath, embedder, a.logger)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, vector.Close)

	engine, err := search.NewEngine(meta, bm25, vector, embedder,
		search.WithVectorPath(vectorPath),
		search.WithQueryExpander(search.NewQueryExpander()),
		search.WithLogger(a.logger.With(slog.String("component", "search"))))
	if err != nil {
		return fail(err)
	}
	if err := engine.ValidateDimensions(ctx); err != nil {
		return fail(err)
	}

	a.Engine = engine
	a.Metadata = meta
	a.Resolver = search.NewMetadataResolver(meta, cfg.Cache.MetadataSize, cfg.Cache.MetadataTTL)
	a.logger.Debug("app_opened",
		slog.String("data_dir", cfg.Paths.DataDir),
		slog.Bool("in_memory", a.inMemory),
		slog.String("keyword_backend", cfg.Search.KeywordBackend),
		slog.String("embedder", embedder.ModelName()))
	return a, nil
}

// openVectors creates the HNSW index and loads the saved one, if any. A
// saved index of another dimension is refused rather than rebuilt; one built
// by another model of the same dimension is loaded with a warning.
func openVectors(path string, embedder embed.Embedder, logger *slog.Logger) (*store.HNSWStore, error) {
	dims := embedder.Dimensions()
	if path != "" {
		saved, err := store.ReadVectorIndexInfo(path)
		if err != nil {
			return nil, frerrors.New(frerrors.ErrCodeCorruptIndex, "failed to read vector index", err).
				WithDetail("path", path).
				WithSuggestion("Run 'fundrag ingest --force' to rebuild the index")
		}
		if saved.Dimensions != 0 && saved.Dimensions != dims {
			return nil, frerrors.New(frerrors.ErrCodeDimensionMismatch, "vector index dimension differs from the embedder", nil).
				WithDetail("index_dimensions", fmt.Sprint(saved.Dimensions)).
				WithDetail("embedder_dimensions", fmt.Sprint(dims)).
				WithSuggestion("Restore the previous embeddings settings or remove the data directory and re-ingest")
		}
		if saved.Model != "" && saved.Model != embedder.ModelName() {
			logger.Warn("vector_index_model_changed",
				slog.String("index_model", saved.Model),
				slog.String("embedder_model", embedder.ModelName()))
		}
	}

	cfg := store.DefaultVectorStoreConfig(dims)
	cfg.Model = embedder.ModelName()
	vector, err := store.NewHNSWStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("create vector index: %w", err)
	}
	if path == "" {
		return vector, nil
	}
	if _, err := os.Stat(path); err == nil {
		if err := vector.Load(path); err != nil {
			_ = vector.Close()
			return nil, frerrors.New(frerrors.ErrCodeCorruptIndex, "failed to load vector index", err).
				WithDetail("path", path).
				WithSuggestion("Run 'fundrag ingest --force' to rebuild the index")
		}
	}
	return vector, nil
}

// Retriever returns the retrieval orchestrator, building the LLM oracles
// and the telemetry collector on first call.
func (a *App) Retriever() (*retrieval.Orchestrator, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.orchestrator != nil {
		return a.orchestrator, nil
	}

	cfg := a.Config
	oracleCfg := oracle.Config{
		BaseURL:      cfg.LLM.BaseURL,
		Model:        cfg.LLM.Model,
		APIKey:       cfg.LLM.APIKey,
		Temperature:  cfg.LLM.Temperature,
		MaxFailures:  cfg.LLM.MaxFailures,
		ResetTimeout: cfg.LLM.ResetTimeout,
	}
	model, err := a.model(oracleCfg)
	if err != nil {
		return nil, err
	}
	client := oracle.NewClient(model, oracleCfg, oracle.WithLogger(a.logger.With(slog.String("component", "oracle"))))

	var st telemetry.Store
	if !a.inMemory {
		sqlStore, err := telemetry.NewSQLiteStore(a.Metadata.DB())
		if err != nil {
			a.logger.Warn("telemetry store unavailable, metrics stay in memory", slog.String("error", err.Error()))
		} else {
			st = sqlStore
		}
	}
	metrics := telemetry.New(st, telemetry.DefaultConfig())

	chunks := a.Engine.Chunks()
	o, err := retrieval.NewOrchestrator(retrieval.Dependencies{
		Vector:      a.Engine.VectorBackend(),
		Keyword:     a.Engine.KeywordBackend(),
		Chunks:      chunks,
		Relevance:   oracle.NewRelevanceScorer(client),
		Answers:     oracle.NewAnswerGenerator(client),
		Compensator: oracle.NewCompensator(client),
		Fuser:       oracle.NewFuser(client),
		Classifier:  oracle.NewSectionClassifier(client),
		Sections:    chunks,
		Documents:   chunks,
		Metadata:    a.Resolver,
	}, RetrievalConfig(cfg),
		retrieval.WithLogger(a.logger.With(slog.String("component", "retrieval"))),
		retrieval.WithRecorder(metrics))
	if err != nil {
		_ = metrics.Close()
		return nil, err
	}
	a.orchestrator = o
	a.metrics = metrics
	return o, nil
}

// Metrics returns the telemetry collector, or nil before Retriever.
func (a *App) Metrics() *telemetry.Metrics {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.metrics
}

// EmbedConfig maps the configuration onto the embedder settings. The
// embeddings endpoint shares the LLM API key.
func EmbedConfig(cfg *config.Config) embed.Config {
	return embed.Config{
		Provider:   cfg.Embeddings.Provider,
		Model:      cfg.Embeddings.Model,
		BaseURL:    cfg.Embeddings.BaseURL,
		APIKey:     cfg.LLM.APIKey,
		Dimensions: cfg.Embeddings.Dimensions,
		BatchSize:  cfg.Ingest.BatchSize,
		CacheSize:  cfg.Embeddings.CacheSize,
	}
}

// RetrievalConfig maps the configuration onto the engine settings.
func RetrievalConfig(cfg *config.Config) retrieval.Config {
	r := cfg.Retrieval
	return retrieval.Config{
		TopK:                 cfg.Search.TopK,
		ScoreConcurrency:     r.ScoreConcurrency,
		FetchConcurrency:     r.FetchConcurrency,
		ScoreContentLimit:    r.ScoreContentLimit,
		FulltextContentLimit: r.FulltextContentLimit,
		SectionContentLimit:  r.SectionContentLimit,
		GapMarker:            r.GapMarker,
		DisableDualPath:      !r.DualPath,
		Timeouts: retrieval.Timeouts{
			Search: cfg.Timeouts.Search,
			Fetch:  cfg.Timeouts.Fetch,
			Score:  cfg.Timeouts.Score,
			Answer: cfg.Timeouts.Answer,
		},
	}
}

// Close flushes telemetry and closes every store.
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error
	if a.orchestrator != nil {
		a.orchestrator.Close()
	}
	if a.metrics != nil {
		if err := a.metrics.Close(); err != nil {
			errs = append(errs, fmt.Errorf("flush telemetry: %w", err))
		}
	}
	if err := a.Engine.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
