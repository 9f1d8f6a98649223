package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/adverant/nexus/pdf2md/internal/clients"
	"github.com/adverant/nexus/pdf2md/internal/errors"
	"github.com/adverant/nexus/pdf2md/internal/layout"
)

// PromptOverrides is the PROMPTS_FILE document:
//
//	preamble: "..."
//	translate: "the following text is in {current_language}, ..."
//	instructions:
//	  title: "the following text is a title, please correct it:\n ##"
type PromptOverrides struct {
	Preamble     string            `yaml:"preamble"`
	Translate    string            `yaml:"translate"`
	Instructions map[string]string `yaml:"instructions"`
}

// LoadPromptOverrides reads and validates a prompts file against the
// taxonomy in use.
func LoadPromptOverrides(path string, tax layout.Taxonomy) (*PromptOverrides, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewConfigError("failed to read prompts file %s: %v", path, err)
	}

	var o PromptOverrides
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&o); err != nil {
		return nil, errors.NewConfigError("failed to parse prompts file %s: %v", path, err)
	}

	for name := range o.Instructions {
		if !tax.Contains(layout.Type(name)) {
			return nil, errors.NewConfigError("prompts file %s: %q is not a %s taxonomy type", path, name, tax)
		}
	}
	return &o, nil
}

// Apply returns book with the overrides applied.
func (o *PromptOverrides) Apply(book clients.PromptBook) clients.PromptBook {
	if o == nil {
		return book
	}
	book.Instructions = book.Instructions.WithOverrides(o.Preamble, o.Instructions)
	if o.Translate != "" {
		book.TranslateTemplate = o.Translate
	}
	return book
}

// PromptBook builds the prompt book for this configuration, applying
// PROMPTS_FILE when set.
func (c *Config) PromptBook() (clients.PromptBook, error) {
	tax := c.TaxonomyValue()
	book := clients.DefaultPromptBook(tax)
	if c.PromptsFile == "" {
		return book, nil
	}
	o, err := LoadPromptOverrides(c.PromptsFile, tax)
	if err != nil {
		return book, fmt.Errorf("prompt overrides: %w", err)
	}
	return o.Apply(book), nil
}
