package processor

import (
	"context"
	"fmt"
	"strings"

	"github.com/adverant/nexus/pdf2md/internal/clients"
)

// Translate asks the cleaner to translate text from one language to
// another. Empty text is returned unchanged without a model call.
func Translate(ctx context.Context, cleaner clients.Cleaner, from, to, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}
	instruction, err := cleaner.Prompt(clients.TaskTranslate, map[string]string{
		"current_language": from,
		"target_language":  to,
	})
	if err != nil {
		return "", err
	}
	out, err := cleaner.Chat(ctx, instruction+"\n"+text)
	if err != nil {
		return "", fmt.Errorf("translate %s to %s: %w", from, to, err)
	}
	return out, nil
}
