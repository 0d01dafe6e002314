package llm

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"policyrag/internal/errs"
)

// GenerationConfig configures the generation client.
type GenerationConfig struct {
	BaseURL   string
	APIKeyEnv string
	Model     string
	Timeout   time.Duration
}

// GenerationClient produces text from a prompt through the hosted
// chat-completion endpoint.
type GenerationClient struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	log     *slog.Logger
}

func NewGenerationClient(cfg GenerationConfig, log *slog.Logger) (*GenerationClient, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, errs.Configf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	cc := openai.DefaultConfig(key)
	if cfg.BaseURL != "" {
		cc.BaseURL = cfg.BaseURL
	}
	return &GenerationClient{
		client:  openai.NewClientWithConfig(cc),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		log:     log.With("component", "generation"),
	}, nil
}

// Generate returns the model's trimmed output for the prompt. An
// empty result is valid; provider failures surface as external
// service errors after bounded retries.
func (c *GenerationClient) Generate(ctx context.Context, prompt string, maxOutputTokens int) (string, error) {
	c.log.Debug("generating", "prompt_chars", len(prompt), "max_output_tokens", maxOutputTokens)
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", errs.External("generate", ctx.Err())
			case <-time.After(retryDelay(attempt)):
			}
		}
		text, err := c.generateOnce(ctx, prompt, maxOutputTokens)
		if err != nil {
			lastErr = err
			continue
		}
		return text, nil
	}
	return "", errs.External("generate", lastErr)
}

func (c *GenerationClient) generateOnce(ctx context.Context, prompt string, maxOutputTokens int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.model,
		MaxTokens: maxOutputTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		// an empty completion is a valid response
		return "", nil
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
