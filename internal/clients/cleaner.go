/**
 * Text cleanup collaborators
 *
 * A Cleaner sends one prompt to a language model and returns its answer.
 * Providers are chosen once, at construction, from configuration.
 */

package clients

import (
	"context"
	"fmt"
	"strings"

	"github.com/adverant/nexus/pdf2md/internal/errors"
	"github.com/adverant/nexus/pdf2md/internal/layout"
)

// Provider identifies a cleanup backend.
type Provider int

const (
	ProviderOllama Provider = iota
	ProviderOpenAI
)

// ParseProvider maps a configuration name onto a Provider. "gemini" is
// accepted as an OpenAI-compatible endpoint.
func ParseProvider(name string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "ollama":
		return ProviderOllama, nil
	case "openai", "gemini":
		return ProviderOpenAI, nil
	default:
		return 0, errors.NewConfigError("unsupported cleanup provider %q (want ollama or openai)", name)
	}
}

func (p Provider) String() string {
	if p == ProviderOpenAI {
		return "openai"
	}
	return "ollama"
}

// Task names a prompt family.
type Task int

const (
	// TaskClean needs kwarg "type", a region type.
	TaskClean Task = iota
	// TaskTranslate needs kwargs "current_language" and "target_language".
	TaskTranslate
)

// DefaultTranslateTemplate is the translation instruction.
const DefaultTranslateTemplate = "the following text is in {current_language}, please translate it to {target_language}"

// Cleaner is the text-cleanup capability shared by all providers.
type Cleaner interface {
	// Chat sends prompt as a single user message and returns the reply.
	Chat(ctx context.Context, prompt string) (string, error)
	// Prompt builds the instruction for task.
	Prompt(task Task, kwargs map[string]string) (string, error)
	Provider() Provider
}

// PromptBook holds the instructions every provider shares.
type PromptBook struct {
	Instructions      layout.InstructionTable
	TranslateTemplate string
}

// DefaultPromptBook returns the built-in prompts for a taxonomy.
func DefaultPromptBook(tax layout.Taxonomy) PromptBook {
	return PromptBook{
		Instructions:      layout.DefaultInstructions(tax),
		TranslateTemplate: DefaultTranslateTemplate,
	}
}

// Prompt implements Cleaner.Prompt.
func (b PromptBook) Prompt(task Task, kwargs map[string]string) (string, error) {
	switch task {
	case TaskClean:
		typ, ok := kwargs["type"]
		if !ok {
			return "", fmt.Errorf("clean prompt requires a region type")
		}
		return b.Instructions.Instruction(layout.Type(typ)), nil

	case TaskTranslate:
		from, to := kwargs["current_language"], kwargs["target_language"]
		if from == "" || to == "" {
			return "", fmt.Errorf("translate prompt requires current_language and target_language")
		}
		tmpl := b.TranslateTemplate
		if tmpl == "" {
			tmpl = DefaultTranslateTemplate
		}
		r := strings.NewReplacer("{current_language}", from, "{target_language}", to)
		return r.Replace(tmpl), nil

	default:
		return "", fmt.Errorf("unknown prompt task %d", task)
	}
}

// CleanerConfig configures NewCleaner.
type CleanerConfig struct {
	Provider Provider
	Prompts  PromptBook

	OllamaURL   string
	OllamaModel string

	OpenAIBaseURL string
	OpenAIModel   string
	OpenAIAPIKey  string

	// Stream requests a streamed completion. Chunks are logged at debug
	// level and the reply is returned once complete.
	Stream bool
}

// NewCleaner builds the configured provider.
func NewCleaner(cfg CleanerConfig) (Cleaner, error) {
	switch cfg.Provider {
	case ProviderOllama:
		c, err := NewOllamaCleaner(cfg.OllamaURL, cfg.OllamaModel, cfg.Prompts)
		if err != nil {
			return nil, err
		}
		c.stream = cfg.Stream
		return c, nil
	case ProviderOpenAI:
		c, err := NewOpenAICleaner(cfg.OpenAIBaseURL, cfg.OpenAIModel, cfg.OpenAIAPIKey, cfg.Prompts)
		if err != nil {
			return nil, err
		}
		c.stream = cfg.Stream
		return c, nil
	default:
		return nil, errors.NewConfigError("unsupported cleanup provider %d", cfg.Provider)
	}
}
