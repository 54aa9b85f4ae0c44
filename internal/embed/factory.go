package embed

import (
	"fmt"
	"log/slog"
	"strings"
)

// ProviderType names an embedding provider.
type ProviderType string

const (
	// ProviderStatic uses feature hashing; offline and deterministic.
	ProviderStatic ProviderType = "static"

	// ProviderOpenAI uses an OpenAI-compatible embeddings endpoint.
	ProviderOpenAI ProviderType = "openai"
)

// ParseProvider parses a provider name. Empty input is static.
func ParseProvider(s string) (ProviderType, error) {
	switch p := ProviderType(strings.ToLower(strings.TrimSpace(s))); p {
	case "", ProviderStatic:
		return ProviderStatic, nil
	case ProviderOpenAI:
		return p, nil
	default:
		return "", fmt.Errorf("unknown embedding provider %q (valid: static, openai)", s)
	}
}

// Config selects and configures an embedder.
type Config struct {
	Provider   string
	Model      string
	BaseURL    string
	APIKey     string
	Dimensions int
	BatchSize  int
	// CacheSize > 0 wraps the embedder in an LRU cache; 0 disables it.
	CacheSize int
}

// ModelName is the model name the embedder built from c reports, or "" for
// an unknown provider.
func (c Config) ModelName() string {
	provider, err := ParseProvider(c.Provider)
	switch {
	case err != nil:
		return ""
	case provider == ProviderStatic:
		return "static"
	default:
		return c.Model
	}
}

// NewEmbedder builds the embedder described by cfg.
// There is no silent fallback: a misconfigured openai provider is an error,
// because vectors from different models are not comparable.
func NewEmbedder(cfg Config) (Embedder, error) {
	provider, err := ParseProvider(cfg.Provider)
	if err != nil {
		return nil, err
	}

	var e Embedder
	switch provider {
	case ProviderOpenAI:
		if cfg.Model == "" {
			return nil, fmt.Errorf("openai embeddings need a model name")
		}
		e, err = NewOpenAIEmbedder(OpenAIConfig{
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			APIKey:     cfg.APIKey,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
		})
		if err != nil {
			return nil, err
		}
	default:
		e = NewStaticEmbedder(cfg.Dimensions)
	}

	slog.Debug("embedder_created",
		slog.String("provider", string(provider)),
		slog.String("model", e.ModelName()),
		slog.Int("dimensions", e.Dimensions()))

	if cfg.CacheSize > 0 {
		return NewCachedEmbedder(e, cfg.CacheSize), nil
	}
	return e, nil
}
