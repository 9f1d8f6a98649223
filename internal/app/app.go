// Package app wires configuration into a ready document processor. Both
// the worker and the CLI build their pipeline here.
package app

import (
	"context"
	"fmt"

	"github.com/adverant/nexus/pdf2md/internal/clients"
	"github.com/adverant/nexus/pdf2md/internal/config"
	"github.com/adverant/nexus/pdf2md/internal/logging"
	"github.com/adverant/nexus/pdf2md/internal/order"
	"github.com/adverant/nexus/pdf2md/internal/processor"
	"github.com/adverant/nexus/pdf2md/internal/storage"
)

// Components is a built pipeline and the resources it owns.
type Components struct {
	Processor *processor.DocumentProcessor
	Storage   *storage.StorageManager
	// Embedder is set when fragment indexing is enabled.
	Embedder processor.Embedder
}

// Close releases the storage connections.
func (c *Components) Close() error {
	if c.Storage == nil {
		return nil
	}
	return c.Storage.Close()
}

// NewRasterizer returns the configured page rasterizer.
func NewRasterizer(cfg *config.Config) processor.Rasterizer {
	if cfg.Rasterizer == config.RasterizerGhostscript {
		return processor.NewGhostscriptRasterizer(cfg.GhostscriptBin)
	}
	return processor.NewFitzRasterizer()
}

// NewReadingOrderModel returns the configured order model.
func NewReadingOrderModel(cfg *config.Config) order.Model {
	if cfg.ReadingOrder == config.ReadingOrderHTTP {
		return clients.NewReadingOrderClient(cfg.ReadingOrderURL)
	}
	return order.NewGeometricModel(order.DefaultGeometricConfig())
}

// NewCleaner builds the cleanup provider with the configured prompts.
func NewCleaner(cfg *config.Config) (clients.Cleaner, error) {
	provider, err := clients.ParseProvider(cfg.CleanupProvider)
	if err != nil {
		return nil, err
	}
	prompts, err := cfg.PromptBook()
	if err != nil {
		return nil, err
	}
	return clients.NewCleaner(clients.CleanerConfig{
		Provider:      provider,
		Prompts:       prompts,
		OllamaURL:     cfg.OllamaURL,
		OllamaModel:   cfg.OllamaModel,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		OpenAIModel:   cfg.OpenAIModel,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		Stream:        cfg.CleanupStream,
	})
}

// Build connects every collaborator named by cfg.
func Build(ctx context.Context, cfg *config.Config) (*Components, error) {
	logger := logging.NewLogger("App")

	cleaner, err := NewCleaner(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create cleaner: %w", err)
	}
	prompts, err := cfg.PromptBook()
	if err != nil {
		return nil, err
	}

	ocr, err := processor.NewTesseractOCR(&processor.TesseractConfig{Language: cfg.OCRLanguage})
	if err != nil {
		return nil, fmt.Errorf("failed to create OCR engine: %w", err)
	}

	comps := &Components{}
	jobs, err := storage.OpenJobStore(ctx, cfg.Store, cfg.SQLitePath, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open job store: %w", err)
	}

	var embedder processor.Embedder
	if jobs != nil {
		var index *storage.QdrantClient
		if cfg.IndexingEnabled() {
			index, err = storage.NewQdrantClient(ctx, cfg.QdrantURL, cfg.QdrantCollection, storage.DefaultVectorSize)
			if err != nil {
				jobs.Close()
				return nil, fmt.Errorf("failed to connect to Qdrant: %w", err)
			}
			embedder, err = processor.NewEmbeddingClient(cfg.VoyageAPIKey)
			if err != nil {
				index.Close()
				jobs.Close()
				return nil, err
			}
		}
		comps.Storage, err = storage.NewStorageManager(jobs, index)
		if err != nil {
			jobs.Close()
			return nil, err
		}
		logger.Info("Job store ready", "store", cfg.Store, "indexing", index != nil)
	}

	var artifacts *clients.ArtifactClient
	if cfg.ArtifactURL != "" {
		artifacts = clients.NewArtifactClient(cfg.ArtifactURL)
	}

	tax := cfg.TaxonomyValue()
	proc, err := processor.NewDocumentProcessor(&processor.ProcessorConfig{
		Rasterizer:     NewRasterizer(cfg),
		Detector:       clients.NewLayoutClient(cfg.LayoutDetectorURL, tax),
		Decoder:        order.NewDecoder(NewReadingOrderModel(cfg), cfg.ReadingOrderMaxLen),
		Recognizer:     ocr,
		Cleaner:        cleaner,
		Instructions:   prompts.Instructions,
		CropMode:       cfg.CropModeValue(),
		Zoom:           cfg.Zoom,
		ImagesDir:      cfg.ImagesDir,
		SaveImages:     cfg.SaveImages,
		ClipsDir:       cfg.ClipsDir,
		SaveClips:      cfg.SaveClips,
		StrictDrops:    cfg.StrictDrops,
		MaxFileSize:    cfg.MaxFileSize,
		StorageManager: comps.Storage,
		Embedder:       embedder,
		ArtifactClient: artifacts,
	})
	if err != nil {
		comps.Close()
		return nil, fmt.Errorf("failed to initialize document processor: %w", err)
	}
	comps.Processor = proc
	comps.Embedder = embedder

	logger.Info("Pipeline ready",
		"taxonomy", tax,
		"readingOrder", cfg.ReadingOrder,
		"cropMode", cfg.CropMode,
		"cleanup", cleaner.Provider())
	return comps, nil
}
