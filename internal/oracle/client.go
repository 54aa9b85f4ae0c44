// Package oracle implements the LLM-backed collaborators of the retrieval
// engine: relevance scoring, answer generation, compensation, answer fusion
// and section classification. All of them share one Client, which owns the
// langchaingo model and a circuit breaker.
package oracle

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	frerrors "github.com/Aman-CERP/fundrag/internal/errors"
)

// Config configures the chat model behind the oracles.
type Config struct {
	BaseURL string
	Model   string
	// APIKey may be empty for local OpenAI-compatible servers.
	APIKey       string
	Temperature  float64
	MaxFailures  int
	ResetTimeout time.Duration
}

// NewOpenAIModel creates a langchaingo chat model for cfg.
func NewOpenAIModel(cfg Config) (llms.Model, error) {
	if cfg.Model == "" {
		return nil, frerrors.ConfigError("llm.model is required", nil).
			WithSuggestion("Set llm.model in .fundrag.yaml or FUNDRAG_LLM_MODEL")
	}
	token := cfg.APIKey
	if token == "" {
		token = "none"
	}
	opts := []openai.Option{
		openai.WithToken(token),
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	m, err := openai.New(opts...)
	if err != nil {
		return nil, frerrors.ConfigError("failed to create llm client", err)
	}
	return m, nil
}

// Client sends prompts to a chat model. It is safe for concurrent use.
type Client struct {
	model       llms.Model
	breaker     *frerrors.CircuitBreaker
	temperature float64
	logger      *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithBreaker replaces the circuit breaker.
func WithBreaker(cb *frerrors.CircuitBreaker) ClientOption {
	return func(c *Client) {
		if cb != nil {
			c.breaker = cb
		}
	}
}

// NewClient wraps model. Temperature and breaker limits come from cfg.
func NewClient(model llms.Model, cfg Config, opts ...ClientOption) *Client {
	var cbOpts []frerrors.CircuitBreakerOption
	if cfg.MaxFailures > 0 {
		cbOpts = append(cbOpts, frerrors.WithMaxFailures(cfg.MaxFailures))
	}
	if cfg.ResetTimeout > 0 {
		cbOpts = append(cbOpts, frerrors.WithResetTimeout(cfg.ResetTimeout))
	}
	c := &Client{
		model:       model,
		breaker:     frerrors.NewCircuitBreaker("llm", cbOpts...),
		temperature: cfg.Temperature,
		logger:      slog.Default().With(slog.String("component", "oracle")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// request is one chat completion.
type request struct {
	oracle    string
	system    string
	user      string
	jsonMode  bool
	maxTokens int
}

// complete runs req through the breaker. Transport failures, an open circuit
// and empty replies are all ErrOracleUnavailable. Calls abandoned by a
// cancelled ctx do not count against the breaker.
func (c *Client) complete(ctx context.Context, req request) (string, error) {
	var messages []llms.MessageContent
	if req.system != "" {
		messages = append(messages, llms.MessageContent{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(req.system)},
		})
	}
	messages = append(messages, llms.MessageContent{
		Role:  llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{llms.TextPart(req.user)},
	})

	callOpts := []llms.CallOption{llms.WithTemperature(c.temperature)}
	if req.jsonMode {
		callOpts = append(callOpts, llms.WithJSONMode())
	}
	if req.maxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(req.maxTokens))
	}

	start := time.Now()
	text, err := frerrors.CircuitExecute(c.breaker, func() (string, error) {
		resp, err := c.model.GenerateContent(ctx, messages, callOpts...)
		if err != nil {
			// Cancellation is the caller's; deadlines still count.
			if errors.Is(ctx.Err(), context.Canceled) {
				return "", frerrors.NotCounted(err)
			}
			return "", err
		}
		if resp == nil || len(resp.Choices) == 0 {
			return "", errNoChoices
		}
		return resp.Choices[0].Content, nil
	})
	if err != nil {
		c.logger.Warn("oracle call failed",
			slog.String("oracle", req.oracle),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("circuit", c.breaker.State().String()),
			slog.String("error", err.Error()))
		return "", frerrors.OracleUnavailable(req.oracle, err)
	}

	c.logger.Debug("oracle call",
		slog.String("oracle", req.oracle),
		slog.Duration("elapsed", time.Since(start)),
		slog.Int("reply_len", len(text)))
	return strings.TrimSpace(text), nil
}

var errNoChoices = frerrors.New(frerrors.ErrCodeOracleUnavailable, "model returned no choices", nil)
