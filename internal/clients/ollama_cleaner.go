package clients

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/schema"

	"github.com/adverant/nexus/pdf2md/internal/logging"
)

// OllamaCleaner talks to a local Ollama server.
type OllamaCleaner struct {
	PromptBook
	llm    llms.Model
	model  string
	stream bool
	logger *logging.Logger
}

// NewOllamaCleaner connects to serverURL using model.
func NewOllamaCleaner(serverURL, model string, prompts PromptBook) (*OllamaCleaner, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama model is required")
	}
	opts := []ollama.Option{ollama.WithModel(model)}
	if serverURL != "" {
		opts = append(opts, ollama.WithServerURL(serverURL))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama client: %w", err)
	}
	return &OllamaCleaner{
		PromptBook: prompts,
		llm:        llm,
		model:      model,
		logger:     logging.NewLogger("OllamaCleaner"),
	}, nil
}

// Provider implements Cleaner.
func (c *OllamaCleaner) Provider() Provider { return ProviderOllama }

// Chat implements Cleaner.
func (c *OllamaCleaner) Chat(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	var opts []llms.CallOption
	if c.stream {
		opts = append(opts, llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			c.logger.Debug("Cleanup chunk", "model", c.model, "chunk", string(chunk))
			return nil
		}))
	}
	completion, err := c.llm.GenerateContent(ctx, []llms.MessageContent{
		{
			Role:  schema.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart(strings.TrimSpace(prompt))},
		},
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("ollama chat failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("ollama returned no choices")
	}

	c.logger.Debug("Cleanup complete",
		"model", c.model,
		"promptLength", len(prompt),
		"duration", time.Since(start))
	return completion.Choices[0].Content, nil
}
