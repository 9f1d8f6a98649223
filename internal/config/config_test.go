package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/adverant/nexus/pdf2md/internal/clients"
	"github.com/adverant/nexus/pdf2md/internal/errors"
	"github.com/adverant/nexus/pdf2md/internal/layout"
	"github.com/adverant/nexus/pdf2md/internal/processor"
)

func TestLoadConfig_Defaults(t *testing.T) {
	for _, k := range []string{"RASTERIZER", "TAXONOMY", "CROP_MODE", "CLEANUP_PROVIDER", "ZOOM", "STORE", "READING_ORDER", "QUEUE_MODE", "WORKER_CONCURRENCY"} {
		t.Setenv(k, "")
	}
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.TaxonomyValue() != layout.TaxonomyTen {
		t.Errorf("taxonomy = %v", cfg.TaxonomyValue())
	}
	if cfg.CropModeValue() != processor.CropHard {
		t.Errorf("crop mode = %v", cfg.CropModeValue())
	}
	if cfg.Zoom != 2 || cfg.ReadingOrder != ReadingOrderGeometric || cfg.Store != "sqlite" || cfg.Rasterizer != RasterizerFitz {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.ProcessingTimeout != 600000 {
		t.Errorf("timeout = %d", cfg.ProcessingTimeout)
	}
}

func TestLoadConfig_Env(t *testing.T) {
	t.Setenv("TAXONOMY", "five")
	t.Setenv("CROP_MODE", "masked")
	t.Setenv("ZOOM", "3.5")
	t.Setenv("RASTERIZER", "ghostscript")
	t.Setenv("SAVE_CLIPS", "yes")
	t.Setenv("STRICT_DROPS", "1")
	t.Setenv("WORKER_CONCURRENCY", "not-a-number")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.TaxonomyValue() != layout.TaxonomyFive || cfg.CropModeValue() != processor.CropMasked {
		t.Errorf("taxonomy/crop = %v/%v", cfg.TaxonomyValue(), cfg.CropModeValue())
	}
	if cfg.Zoom != 3.5 || !cfg.SaveClips || !cfg.StrictDrops || cfg.Rasterizer != RasterizerGhostscript {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.WorkerConcurrency != 2 {
		t.Errorf("unparseable int should fall back to default, got %d", cfg.WorkerConcurrency)
	}
}

func validConfig() *Config {
	return &Config{
		Taxonomy:           "ten",
		Rasterizer:         RasterizerFitz,
		CropMode:           "hard",
		CleanupProvider:    "ollama",
		Zoom:               2,
		ReadingOrder:       ReadingOrderGeometric,
		ReadingOrderMaxLen: 510,
		Store:              "sqlite",
		SQLitePath:         "x.db",
		QueueMode:          QueueAsynq,
		WorkerConcurrency:  2,
		MaxFileSize:        1 << 20,
		ProcessingTimeout:  60000,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"taxonomy", func(c *Config) { c.Taxonomy = "seven" }},
		{"crop mode", func(c *Config) { c.CropMode = "soft" }},
		{"rasterizer", func(c *Config) { c.Rasterizer = "poppler" }},
		{"provider", func(c *Config) { c.CleanupProvider = "anthropic" }},
		{"zoom low", func(c *Config) { c.Zoom = 0.5 }},
		{"zoom high", func(c *Config) { c.Zoom = 9 }},
		{"reading order", func(c *Config) { c.ReadingOrder = "learned" }},
		{"http order without url", func(c *Config) { c.ReadingOrder = ReadingOrderHTTP }},
		{"max len", func(c *Config) { c.ReadingOrderMaxLen = 0 }},
		{"store", func(c *Config) { c.Store = "mysql" }},
		{"postgres without url", func(c *Config) { c.Store = "postgres" }},
		{"queue mode", func(c *Config) { c.QueueMode = "kafka" }},
		{"concurrency", func(c *Config) { c.WorkerConcurrency = 0 }},
		{"timeout", func(c *Config) { c.ProcessingTimeout = 10 }},
	}
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if !errors.Is(err, errors.ErrConfig) {
				t.Fatalf("err = %v, want a config error", err)
			}
		})
	}
}

func TestIndexingEnabled(t *testing.T) {
	c := validConfig()
	if c.IndexingEnabled() {
		t.Error("indexing enabled without Qdrant")
	}
	c.QdrantURL, c.QdrantCollection, c.VoyageAPIKey = "localhost:6334", "frags", "key"
	if !c.IndexingEnabled() {
		t.Error("indexing disabled with Qdrant and Voyage configured")
	}
	c.Store = "none"
	if c.IndexingEnabled() {
		t.Error("indexing enabled without a job store")
	}
}

func writePrompts(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPromptBook_Overrides(t *testing.T) {
	path := writePrompts(t, `
preamble: "Be faithful. "
translate: "from {current_language} into {target_language}"
instructions:
  title: "fix this title:\n"
`)
	c := validConfig()
	c.PromptsFile = path

	book, err := c.PromptBook()
	if err != nil {
		t.Fatal(err)
	}
	if got := book.Instructions.Instruction(layout.TypeTitle); got != "Be faithful. fix this title:\n" {
		t.Errorf("title instruction = %q", got)
	}
	if got := book.Instructions.Instruction(layout.TypeText); !strings.HasPrefix(got, "Be faithful. the following text") {
		t.Errorf("text instruction = %q", got)
	}
	got, err := book.Prompt(clients.TaskTranslate, map[string]string{"current_language": "English", "target_language": "German"})
	if err != nil {
		t.Fatal(err)
	}
	if got != "from English into German" {
		t.Errorf("translate prompt = %q", got)
	}
}

func TestLoadPromptOverrides_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown type", "instructions:\n  sidebar: \"x\"\n"},
		{"unknown field", "prefix: \"x\"\n"},
		{"not yaml", "instructions: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadPromptOverrides(writePrompts(t, tt.body), layout.TaxonomyTen)
			if !errors.Is(err, errors.ErrConfig) {
				t.Fatalf("err = %v, want a config error", err)
			}
		})
	}
	if _, err := LoadPromptOverrides(filepath.Join(t.TempDir(), "missing.yaml"), layout.TaxonomyTen); err == nil {
		t.Error("missing file accepted")
	}
}

func TestPromptBook_NoFile(t *testing.T) {
	book, err := validConfig().PromptBook()
	if err != nil {
		t.Fatal(err)
	}
	if book.TranslateTemplate != clients.DefaultTranslateTemplate {
		t.Errorf("template = %q", book.TranslateTemplate)
	}
}
