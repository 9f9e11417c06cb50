// Package llm is the gateway to the chat and embedding providers. Every
// model reference goes through an alias ("chat", "mini") so prompts never
// hardcode deployment names.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/urdimbre/urdimbre-go/internal/config"
	qerr "github.com/urdimbre/urdimbre-go/internal/errors"
)

// Provider identifies the backing LLM vendor.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
	ProviderNone   Provider = "none"
)

// Model aliases; requests name these, never deployments.
const (
	AliasChat = "chat"
	AliasMini = "mini"
)

// ChatMessage is one turn of a chat exchange.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatRequest shapes one completion call. Model is an alias or a literal
// deployment name.
type ChatRequest struct {
	Model       string
	Messages    []ChatMessage
	JSONMode    bool
	Temperature float32
	MaxTokens   int
}

// chatBackend is the vendor surface behind the gateway.
type chatBackend interface {
	Chat(ctx context.Context, req ChatRequest) (string, error)
	Embed(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// Client is the multi-provider gateway.
type Client struct {
	provider Provider
	backend  chatBackend
	limiter  *RateLimiter
	cfg      config.LLMConfig
	logger   *slog.Logger
	enabled  bool
}

// NewClient builds the gateway for the configured provider. A missing key
// yields a disabled client, not an error; callers check IsEnabled.
func NewClient(ctx context.Context, cfg config.LLMConfig, limiter *RateLimiter) (*Client, error) {
	logger := slog.Default().With("component", "llm")

	c := &Client{provider: ProviderNone, cfg: cfg, limiter: limiter, logger: logger}

	switch Provider(cfg.Provider) {
	case ProviderGemini:
		if cfg.GeminiKey == "" {
			logger.Warn("no gemini api key configured; llm features disabled")
			logger.Info("set GEMINI_API_KEY or run 'urd configure'")
			return c, nil
		}
		backend, err := newGeminiBackend(ctx, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create gemini client: %w", err)
		}
		c.provider = ProviderGemini
		c.backend = backend
		c.enabled = true
	case ProviderOpenAI, "":
		if cfg.OpenAIKey == "" {
			logger.Warn("no openai api key configured; llm features disabled")
			logger.Info("set OPENAI_API_KEY or run 'urd configure'")
			return c, nil
		}
		c.provider = ProviderOpenAI
		c.backend = newOpenAIBackend(cfg, logger)
		c.enabled = true
	default:
		return nil, qerr.Validationf("unknown llm provider %q", cfg.Provider)
	}

	logger.Info("llm client initialized", "provider", c.provider,
		"chat_model", cfg.ChatModel, "mini_model", cfg.MiniModel)
	return c, nil
}

// IsEnabled reports whether a provider is configured and ready.
func (c *Client) IsEnabled() bool {
	return c.enabled
}

// GetProvider returns the active provider.
func (c *Client) GetProvider() Provider {
	return c.provider
}

// ResolveModel maps an alias to its deployment name; literal names pass
// through untouched.
func (c *Client) ResolveModel(alias string) string {
	switch alias {
	case AliasChat, "":
		return c.cfg.ChatModel
	case AliasMini:
		return c.cfg.MiniModel
	default:
		return alias
	}
}

// isReasoningModel reports whether the model belongs to the family that
// rejects temperature and only accepts max_completion_tokens.
func (c *Client) isReasoningModel(model string) bool {
	return c.cfg.ReasoningPrefix != "" && strings.HasPrefix(model, c.cfg.ReasoningPrefix)
}

// Chat runs one completion through the active backend, applying the rate
// limiter first when one is attached.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (string, error) {
	if !c.enabled {
		return "", qerr.Persistent("llm client not enabled (no api key configured)", nil)
	}
	req.Model = c.ResolveModel(req.Model)

	if c.limiter != nil {
		estimated := int64(0)
		for _, m := range req.Messages {
			estimated += int64(len(m.Content) / 4)
		}
		if err := c.limiter.CheckAndIncrementWithRetry(ctx, estimated); err != nil {
			return "", fmt.Errorf("rate limit: %w", err)
		}
	}

	if c.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	out, err := c.backend.Chat(ctx, req)
	if err != nil {
		return "", err
	}
	return out, nil
}

// Complete is the plain system+user convenience wrapper.
func (c *Client) Complete(ctx context.Context, model, systemPrompt, userPrompt string) (string, error) {
	return c.Chat(ctx, ChatRequest{
		Model: model,
		Messages: []ChatMessage{
			{Role: RoleSystem, Content: systemPrompt},
			{Role: RoleUser, Content: userPrompt},
		},
		Temperature: 0.1,
		MaxTokens:   2000,
	})
}

// openaiBackend adapts the go-openai SDK.
type openaiBackend struct {
	client    *openai.Client
	reasoning func(model string) bool
	logger    *slog.Logger
}

func newOpenAIBackend(cfg config.LLMConfig, logger *slog.Logger) *openaiBackend {
	var client *openai.Client
	if cfg.OpenAIBase != "" {
		oc := openai.DefaultConfig(cfg.OpenAIKey)
		oc.BaseURL = cfg.OpenAIBase
		client = openai.NewClientWithConfig(oc)
	} else {
		client = openai.NewClient(cfg.OpenAIKey)
	}
	prefix := cfg.ReasoningPrefix
	return &openaiBackend{
		client: client,
		reasoning: func(model string) bool {
			return prefix != "" && strings.HasPrefix(model, prefix)
		},
		logger: logger,
	}
}

func (b *openaiBackend) Chat(ctx context.Context, req ChatRequest) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	oreq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
	}
	if b.reasoning(req.Model) {
		// The reasoning family rejects temperature and max_tokens.
		oreq.MaxCompletionTokens = req.MaxTokens
	} else {
		oreq.Temperature = req.Temperature
		oreq.MaxTokens = req.MaxTokens
	}
	if req.JSONMode {
		oreq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := b.client.CreateChatCompletion(ctx, oreq)
	if err != nil {
		return "", fmt.Errorf("openai completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}

	out := resp.Choices[0].Message.Content
	b.logger.Debug("openai completion",
		"model", req.Model,
		"response_length", len(out),
		"tokens_used", resp.Usage.TotalTokens)
	return out, nil
}

func (b *openaiBackend) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	resp, err := b.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d inputs", len(resp.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		out[d.Index] = d.Embedding
	}
	return out, nil
}
