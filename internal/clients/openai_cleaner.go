package clients

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/adverant/nexus/pdf2md/internal/errors"
	"github.com/adverant/nexus/pdf2md/internal/logging"
)

// OpenAICleaner talks to any OpenAI-compatible chat completions endpoint.
type OpenAICleaner struct {
	PromptBook
	client *openai.Client
	model  string
	stream bool
	logger *logging.Logger
}

// NewOpenAICleaner creates a cleaner. An empty baseURL uses the OpenAI API.
func NewOpenAICleaner(baseURL, model, apiKey string, prompts PromptBook) (*OpenAICleaner, error) {
	if model == "" {
		return nil, fmt.Errorf("openai model is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAICleaner{
		PromptBook: prompts,
		client:     openai.NewClientWithConfig(cfg),
		model:      model,
		logger:     logging.NewLogger("OpenAICleaner"),
	}, nil
}

// Provider implements Cleaner.
func (c *OpenAICleaner) Provider() Provider { return ProviderOpenAI }

// Chat implements Cleaner.
func (c *OpenAICleaner) Chat(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: strings.TrimSpace(prompt),
			},
		},
	}
	if c.stream {
		return c.chatStream(ctx, req, start)
	}
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}

	c.logger.Debug("Cleanup complete",
		"model", c.model,
		"promptLength", len(prompt),
		"totalTokens", resp.Usage.TotalTokens,
		"duration", time.Since(start))
	return resp.Choices[0].Message.Content, nil
}

func (c *OpenAICleaner) chatStream(ctx context.Context, req openai.ChatCompletionRequest, start time.Time) (string, error) {
	req.Stream = true
	stream, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion stream failed: %w", err)
	}
	defer stream.Close()

	var sb strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("chat completion stream failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		chunk := resp.Choices[0].Delta.Content
		c.logger.Debug("Cleanup chunk", "model", c.model, "chunk", chunk)
		sb.WriteString(chunk)
	}

	c.logger.Debug("Cleanup complete",
		"model", c.model,
		"promptLength", len(req.Messages[0].Content),
		"duration", time.Since(start))
	return sb.String(), nil
}
