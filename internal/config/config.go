/**
 * Configuration for the pdf2md worker and CLI
 *
 * Loads configuration from environment variables. The CLI overlays its
 * flags on the same struct and validates again.
 */

package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/adverant/nexus/pdf2md/internal/clients"
	"github.com/adverant/nexus/pdf2md/internal/errors"
	"github.com/adverant/nexus/pdf2md/internal/layout"
	"github.com/adverant/nexus/pdf2md/internal/order"
	"github.com/adverant/nexus/pdf2md/internal/processor"
	"github.com/adverant/nexus/pdf2md/internal/storage"
)

// Reading-order model backends.
const (
	ReadingOrderGeometric = "geometric"
	ReadingOrderHTTP      = "http"
)

// Page rasterizers.
const (
	RasterizerFitz        = "fitz"
	RasterizerGhostscript = "ghostscript"
)

// Queue backends for the worker.
const (
	QueueAsynq = "asynq"
	QueueList  = "list"
)

// Config holds worker configuration
type Config struct {
	// Layout and reading order
	Taxonomy           string
	LayoutDetectorURL  string
	ReadingOrder       string
	ReadingOrderURL    string
	ReadingOrderMaxLen int

	// Rasterization and crops
	Rasterizer     string
	GhostscriptBin string
	Zoom           float64
	CropMode       string
	ImagesDir      string
	SaveImages     bool
	ClipsDir       string
	SaveClips      bool
	MaxFileSize    int64

	// OCR and cleanup
	OCRLanguage     string
	StrictDrops     bool
	CleanupProvider string
	CleanupStream   bool
	OllamaURL       string
	OllamaModel     string
	OpenAIBaseURL   string
	OpenAIModel     string
	OpenAIAPIKey    string
	PromptsFile     string

	// Persistence
	Store            string
	SQLitePath       string
	DatabaseURL      string
	QdrantURL        string
	QdrantCollection string
	VoyageAPIKey     string
	ArtifactURL      string

	// Worker
	RedisURL          string
	QueueMode         string
	QueueName         string
	WorkerConcurrency int
	ProcessingTimeout int64 // milliseconds
	APIAddr           string

	LogLevel string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Taxonomy:           getEnvOrDefault("TAXONOMY", "ten"),
		LayoutDetectorURL:  getEnvOrDefault("LAYOUT_DETECTOR_URL", "http://localhost:8090"),
		ReadingOrder:       getEnvOrDefault("READING_ORDER", ReadingOrderGeometric),
		ReadingOrderURL:    getEnvOrDefault("READING_ORDER_URL", ""),
		ReadingOrderMaxLen: getEnvAsIntOrDefault("READING_ORDER_MAX_LEN", order.DefaultMaxLen),
		Rasterizer:         getEnvOrDefault("RASTERIZER", RasterizerFitz),
		GhostscriptBin:     getEnvOrDefault("GHOSTSCRIPT_BIN", "gs"),
		Zoom:               getEnvAsFloatOrDefault("ZOOM", 2),
		CropMode:           getEnvOrDefault("CROP_MODE", "hard"),
		ImagesDir:          getEnvOrDefault("IMAGES_DIR", "./data/images/"),
		SaveImages:         getEnvAsBoolOrDefault("SAVE_IMAGES", false),
		ClipsDir:           getEnvOrDefault("CLIPS_DIR", "./data/clips/"),
		SaveClips:          getEnvAsBoolOrDefault("SAVE_CLIPS", false),
		MaxFileSize:        getEnvAsInt64OrDefault("MAX_FILE_SIZE", 512<<20),
		OCRLanguage:        getEnvOrDefault("OCR_LANGUAGE", "eng"),
		StrictDrops:        getEnvAsBoolOrDefault("STRICT_DROPS", false),
		CleanupProvider:    getEnvOrDefault("CLEANUP_PROVIDER", "ollama"),
		CleanupStream:      getEnvAsBoolOrDefault("CLEANUP_STREAM", false),
		OllamaURL:          getEnvOrDefault("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel:        getEnvOrDefault("OLLAMA_MODEL", "gemma:2b"),
		OpenAIBaseURL:      getEnvOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIModel:        getEnvOrDefault("OPENAI_MODEL", "gemini-1.5-flash"),
		OpenAIAPIKey:       getEnvOrDefault("OPENAI_API_KEY", ""),
		PromptsFile:        getEnvOrDefault("PROMPTS_FILE", ""),
		Store:              getEnvOrDefault("STORE", storage.StoreSQLite),
		SQLitePath:         getEnvOrDefault("SQLITE_PATH", "./data/pdf2md.db"),
		DatabaseURL:        getEnvOrDefault("DATABASE_URL", ""),
		QdrantURL:          getEnvOrDefault("QDRANT_URL", ""),
		QdrantCollection:   getEnvOrDefault("QDRANT_COLLECTION", "pdf2md_fragments"),
		VoyageAPIKey:       getEnvOrDefault("VOYAGE_API_KEY", ""),
		ArtifactURL:        getEnvOrDefault("ARTIFACT_URL", ""),
		RedisURL:           getEnvOrDefault("REDIS_URL", "redis://localhost:6379"),
		QueueMode:          getEnvOrDefault("QUEUE_MODE", QueueAsynq),
		QueueName:          getEnvOrDefault("QUEUE_NAME", "pdf2md:jobs"),
		WorkerConcurrency:  getEnvAsIntOrDefault("WORKER_CONCURRENCY", 2),
		ProcessingTimeout:  getEnvAsInt64OrDefault("PROCESSING_TIMEOUT_MS", 600000), // 10 minutes
		APIAddr:            getEnvOrDefault("API_ADDR", ":8080"),
		LogLevel:           getEnvOrDefault("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if configuration is valid. Every failure is a
// CONFIG_INVALID error.
func (c *Config) Validate() error {
	if _, err := layout.ParseTaxonomy(c.Taxonomy); err != nil {
		return err
	}
	if _, err := processor.ParseCropMode(c.CropMode); err != nil {
		return err
	}
	if _, err := clients.ParseProvider(c.CleanupProvider); err != nil {
		return err
	}

	if c.Rasterizer != RasterizerFitz && c.Rasterizer != RasterizerGhostscript {
		return errors.NewConfigError("RASTERIZER must be fitz or ghostscript, got %q", c.Rasterizer)
	}
	if c.Zoom < 1 || c.Zoom > 8 {
		return errors.NewConfigError("ZOOM must be between 1 and 8, got %v", c.Zoom)
	}

	switch c.ReadingOrder {
	case ReadingOrderGeometric:
	case ReadingOrderHTTP:
		if c.ReadingOrderURL == "" {
			return errors.NewConfigError("READING_ORDER_URL is required when READING_ORDER=http")
		}
	default:
		return errors.NewConfigError("READING_ORDER must be geometric or http, got %q", c.ReadingOrder)
	}
	if c.ReadingOrderMaxLen < 1 {
		return errors.NewConfigError("READING_ORDER_MAX_LEN must be positive, got %d", c.ReadingOrderMaxLen)
	}

	switch c.Store {
	case storage.StoreNone:
	case storage.StoreSQLite:
		if c.SQLitePath == "" {
			return errors.NewConfigError("SQLITE_PATH is required when STORE=sqlite")
		}
	case storage.StorePostgres:
		if c.DatabaseURL == "" {
			return errors.NewConfigError("DATABASE_URL is required when STORE=postgres")
		}
	default:
		return errors.NewConfigError("STORE must be none, sqlite or postgres, got %q", c.Store)
	}

	if c.QueueMode != QueueAsynq && c.QueueMode != QueueList {
		return errors.NewConfigError("QUEUE_MODE must be asynq or list, got %q", c.QueueMode)
	}
	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return errors.NewConfigError("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}
	if c.MaxFileSize < 1024 {
		return errors.NewConfigError("MAX_FILE_SIZE must be at least 1KB, got %d", c.MaxFileSize)
	}
	if c.ProcessingTimeout < 1000 {
		return errors.NewConfigError("PROCESSING_TIMEOUT_MS must be at least 1000, got %d", c.ProcessingTimeout)
	}

	return nil
}

// TaxonomyValue returns the parsed taxonomy. Call after Validate.
func (c *Config) TaxonomyValue() layout.Taxonomy {
	t, _ := layout.ParseTaxonomy(c.Taxonomy)
	return t
}

// CropModeValue returns the parsed crop mode. Call after Validate.
func (c *Config) CropModeValue() processor.CropMode {
	m, _ := processor.ParseCropMode(c.CropMode)
	return m
}

// IndexingEnabled reports whether fragments are embedded into Qdrant.
func (c *Config) IndexingEnabled() bool {
	return c.QdrantURL != "" && c.QdrantCollection != "" && c.VoyageAPIKey != "" && c.Store != storage.StoreNone
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64OrDefault gets environment variable as int64 or returns default
func getEnvAsInt64OrDefault(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return defaultValue
	}
}
