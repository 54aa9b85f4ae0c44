package embed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	frerrors "github.com/Aman-CERP/fundrag/internal/errors"
)

// OpenAIConfig configures an OpenAI-compatible embedding endpoint.
type OpenAIConfig struct {
	BaseURL string
	Model   string
	// APIKey may be empty for local servers that don't check it.
	APIKey     string
	Dimensions int
	BatchSize  int
	Retry      frerrors.RetryConfig
}

// OpenAIEmbedder calls an OpenAI-compatible embeddings API through langchaingo.
type OpenAIEmbedder struct {
	embedder embeddings.Embedder
	model    string
	dims     int
	retry    frerrors.RetryConfig
	logger   *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewOpenAIEmbedder creates an embedder for cfg.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	token := cfg.APIKey
	if token == "" {
		token = "none"
	}
	opts := []openai.Option{
		openai.WithToken(token),
		openai.WithEmbeddingModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, frerrors.New(frerrors.ErrCodeEmbeddingFailed, "failed to create embedding client", err)
	}
	return newOpenAIEmbedder(client, cfg)
}

// newOpenAIEmbedder wraps any langchaingo embedding client.
func newOpenAIEmbedder(client embeddings.EmbedderClient, cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("embedding dimensions must be positive, got %d", cfg.Dimensions)
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	e, err := embeddings.NewEmbedder(client,
		embeddings.WithStripNewLines(true),
		embeddings.WithBatchSize(batch))
	if err != nil {
		return nil, frerrors.New(frerrors.ErrCodeEmbeddingFailed, "failed to create embedder", err)
	}

	retry := cfg.Retry
	if retry.Multiplier == 0 {
		retry = frerrors.DefaultRetryConfig()
	}
	return &OpenAIEmbedder{
		embedder: e,
		model:    cfg.Model,
		dims:     cfg.Dimensions,
		retry:    retry,
		logger:   slog.Default().With(slog.String("component", "openai-embedder")),
	}, nil
}

// Embed generates the embedding of one text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts, retrying transient failures with backoff.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("embedder is closed")
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	attempt := 0
	vecs, err := frerrors.RetryWithResult(ctx, e.retry, func() ([][]float32, error) {
		attempt++
		out, err := e.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			e.logger.Warn("embedding request failed",
				slog.Int("attempt", attempt),
				slog.Int("texts", len(texts)),
				slog.String("error", err.Error()))
		}
		return out, err
	})
	if err != nil {
		return nil, frerrors.New(frerrors.ErrCodeEmbeddingFailed, "embedding request failed", err).
			WithDetail("model", e.model)
	}
	if len(vecs) != len(texts) {
		return nil, frerrors.New(frerrors.ErrCodeEmbeddingFailed,
			fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(vecs)), nil)
	}
	for _, v := range vecs {
		if len(v) != e.dims {
			return nil, frerrors.New(frerrors.ErrCodeDimensionMismatch,
				fmt.Sprintf("model %s returned %d dimensions, configured %d", e.model, len(v), e.dims), nil).
				WithSuggestion("Set embeddings.dimensions to the model's output size and re-ingest")
		}
	}
	return vecs, nil
}

// Dimensions returns the configured embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dims
}

// ModelName returns the embedding model.
func (e *OpenAIEmbedder) ModelName() string {
	return e.model
}

// Available reports whether the embedder is open. It does not probe the server.
func (e *OpenAIEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close marks the embedder closed.
func (e *OpenAIEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
