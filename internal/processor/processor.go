/**
 * Document Processor for the pdf2md worker
 *
 * Converts a PDF into Markdown:
 * - Ghostscript rasterization
 * - Layout detection and reading-order decoding per page
 * - Region crops, Tesseract OCR and LLM cleanup per region
 * - Assembly, persistence, fragment indexing and artifact upload
 */

package processor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/adverant/nexus/pdf2md/internal/clients"
	"github.com/adverant/nexus/pdf2md/internal/errors"
	"github.com/adverant/nexus/pdf2md/internal/layout"
	"github.com/adverant/nexus/pdf2md/internal/logging"
	"github.com/adverant/nexus/pdf2md/internal/order"
	"github.com/adverant/nexus/pdf2md/internal/storage"
)

// DocumentProcessorInterface defines the interface for document processing
type DocumentProcessorInterface interface {
	ProcessDocument(ctx context.Context, req *ProcessRequest) (*ProcessResult, error)
	UpdateJobStatus(ctx context.Context, jobID string, status string, progress int, metadata map[string]interface{}) error
}

// ProcessorConfig holds processor configuration. Rasterizer, Detector,
// Decoder, Recognizer and Cleaner are required; the rest is optional.
type ProcessorConfig struct {
	Rasterizer   Rasterizer
	Detector     layout.Detector
	Decoder      *order.Decoder
	Recognizer   Recognizer
	Cleaner      clients.Cleaner
	Instructions layout.InstructionTable

	CropMode    CropMode
	Zoom        float64
	ImagesDir   string
	SaveImages  bool
	ClipsDir    string
	SaveClips   bool
	StrictDrops bool
	MaxFileSize int64

	StorageManager *storage.StorageManager
	Embedder       Embedder
	ArtifactClient *clients.ArtifactClient
}

// ProcessRequest represents a document processing request. The PDF comes
// from FileBuffer, FilePath or FileURL, in that order of preference.
type ProcessRequest struct {
	JobID      string
	Filename   string
	FileURL    string
	FilePath   string
	FileBuffer []byte
	// MaxPages limits conversion to the first pages; 0 converts all.
	MaxPages       int
	SourceLanguage string
	TargetLanguage string
	Metadata       map[string]interface{}
	Progress       ProgressFunc
}

// ProcessResult represents the processing result
type ProcessResult struct {
	JobID            string
	Document         *Document
	Markdown         string
	PageCount        int
	RegionCount      int
	DroppedRegions   int
	FailedRegions    int
	OCRErrors        int
	SkippedPages     []int
	FallbackPages    []int
	FragmentsIndexed int
	ArtifactID       string
	ProcessingTimeMs int64
}

// DocumentProcessor handles document processing
type DocumentProcessor struct {
	config         *ProcessorConfig
	storage        *storage.StorageManager
	artifactClient *clients.ArtifactClient
	logger         *logging.Logger
}

// NewDocumentProcessor creates a new document processor
func NewDocumentProcessor(cfg *ProcessorConfig) (*DocumentProcessor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	switch {
	case cfg.Rasterizer == nil:
		return nil, fmt.Errorf("rasterizer is required")
	case cfg.Detector == nil:
		return nil, fmt.Errorf("layout detector is required")
	case cfg.Decoder == nil:
		return nil, fmt.Errorf("reading order decoder is required")
	case cfg.Recognizer == nil:
		return nil, fmt.Errorf("recognizer is required")
	case cfg.Cleaner == nil:
		return nil, fmt.Errorf("cleaner is required")
	}
	if cfg.Instructions.Instructions == nil {
		cfg.Instructions = layout.DefaultInstructions(layout.TaxonomyTen)
	}

	logger := logging.NewLogger("DocumentProcessor")
	if cfg.StorageManager == nil {
		logger.Warn("No job store configured. Jobs and transcripts will not be persisted.")
	}
	if cfg.Embedder != nil && (cfg.StorageManager == nil || !cfg.StorageManager.Indexing()) {
		logger.Warn("Embedder configured without a fragment index. Fragments will not be indexed.")
	}

	return &DocumentProcessor{
		config:         cfg,
		storage:        cfg.StorageManager,
		artifactClient: cfg.ArtifactClient,
		logger:         logger,
	}, nil
}

// Cleaner returns the configured cleanup provider.
func (p *DocumentProcessor) Cleaner() clients.Cleaner {
	return p.config.Cleaner
}

// Storage returns the storage manager, or nil when none is configured.
func (p *DocumentProcessor) Storage() *storage.StorageManager {
	return p.storage
}

// Translate translates free text with the configured cleaner.
func (p *DocumentProcessor) Translate(ctx context.Context, from, to, text string) (string, error) {
	return Translate(ctx, p.config.Cleaner, from, to, text)
}

// ProcessDocument processes a document through the complete pipeline
func (p *DocumentProcessor) ProcessDocument(ctx context.Context, req *ProcessRequest) (*ProcessResult, error) {
	startTime := time.Now()
	log := p.logger.With("jobId", req.JobID)
	log.Printf("[Job %s] Starting PDF conversion (%s)", req.JobID, req.Filename)

	// Step 1: Load the PDF
	log.Printf("[Job %s] Step 1: Loading file", req.JobID)
	pdfPath, cleanup, err := p.loadFile(ctx, req)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	// Step 2: Rasterize
	log.Printf("[Job %s] Step 2: Rasterizing (zoom=%.1f, maxPages=%d)", req.JobID, p.config.Zoom, req.MaxPages)
	pages, err := p.config.Rasterizer.Rasterize(ctx, pdfPath, p.config.Zoom, req.MaxPages)
	if err != nil {
		return nil, errors.NewRasterizeError(req.JobID, err)
	}
	if len(pages) == 0 {
		return nil, errors.NewRasterizeError(req.JobID, fmt.Errorf("no pages rendered"))
	}
	if p.config.SaveImages {
		imagesDir := jobDir(p.config.ImagesDir, req.JobID)
		if err := SavePageImages(imagesDir, pages); err != nil {
			log.Warn("Failed to save page images", "dir", imagesDir, "error", err)
		}
	}
	p.reportStatus(ctx, req, storage.StatusProcessing, 5, map[string]interface{}{"pageCount": len(pages)})

	// Step 3: Per-page layout, extraction and text pipeline
	result := &ProcessResult{JobID: req.JobID, PageCount: len(pages)}
	doc := &Document{Filename: req.Filename}
	jp := p.newJobPipeline(req.JobID)

	for i, img := range pages {
		pageNum := i + 1
		log.Printf("[Job %s] Step 3: Page %d/%d", req.JobID, pageNum, len(pages))

		transcript, ok := p.processPage(ctx, req, jp, pageNum, img, result)
		if !ok {
			result.SkippedPages = append(result.SkippedPages, pageNum)
			continue
		}
		doc.Pages = append(doc.Pages, transcript)

		progress := 5 + int(float64(pageNum)/float64(len(pages))*85)
		p.reportStatus(ctx, req, storage.StatusProcessing, progress, nil)
	}

	// Step 4: Assemble
	log.Printf("[Job %s] Step 4: Assembling Markdown", req.JobID)
	result.Document = doc
	result.Markdown = doc.Markdown()

	// Step 5: Persist and index
	if p.storage != nil {
		log.Printf("[Job %s] Step 5: Storing transcript", req.JobID)
		if err := p.storeTranscript(ctx, req.JobID, doc, result); err != nil {
			log.Error("Failed to store transcript", "error", errors.NewStorageFailedError(req.JobID, err))
		}
	}

	// Step 6: Upload Markdown artifact
	if p.artifactClient != nil {
		log.Printf("[Job %s] Step 6: Uploading Markdown artifact", req.JobID)
		artifact, err := p.artifactClient.UploadMarkdown(ctx, req.JobID, markdownName(req.Filename), result.Markdown, map[string]interface{}{
			"pageCount":   result.PageCount,
			"regionCount": result.RegionCount,
		})
		if err != nil {
			log.Warn("Artifact upload failed", "error", err)
		} else {
			result.ArtifactID = artifact.ID
		}
	}

	result.ProcessingTimeMs = time.Since(startTime).Milliseconds()
	log.Printf("[Job %s] Conversion complete: pages=%d regions=%d failed=%d skipped=%d time=%dms",
		req.JobID, result.PageCount, result.RegionCount, result.FailedRegions, len(result.SkippedPages), result.ProcessingTimeMs)
	return result, nil
}

// jobPipeline is the per-job model holder and the stages bracketed by it.
// Concurrent jobs on one DocumentProcessor never share a holder.
type jobPipeline struct {
	holder    *ModelHolder
	analyzer  *LayoutAnalyzer
	extractor *Extractor
	clipsDir  string
}

func (p *DocumentProcessor) newJobPipeline(jobID string) *jobPipeline {
	holder := NewModelHolder(p.config.Detector, p.config.Decoder)
	return &jobPipeline{
		holder:    holder,
		analyzer:  NewLayoutAnalyzer(holder),
		extractor: NewExtractor(p.config.CropMode, holder),
		clipsDir:  jobDir(p.config.ClipsDir, jobID),
	}
}

// jobDir scopes an output directory to one job.
func jobDir(dir, jobID string) string {
	if jobID == "" {
		return dir
	}
	return filepath.Join(dir, jobID)
}

// processPage runs one page end to end. It returns false when the page
// had to be skipped.
func (p *DocumentProcessor) processPage(ctx context.Context, req *ProcessRequest, jp *jobPipeline, pageNum int, img image.Image, result *ProcessResult) (PageTranscript, bool) {
	layoutResult, err := jp.analyzer.AnalyzePage(ctx, pageNum, img)
	if err != nil {
		p.logger.Error("Skipping page", "jobId", req.JobID, "page", pageNum, "code", errors.CodeOf(err), "error", err)
		return PageTranscript{}, false
	}
	if layoutResult.FallbackOrder {
		result.FallbackPages = append(result.FallbackPages, pageNum)
	}

	clips, err := jp.extractor.Extract(img, layoutResult.Regions)
	if err != nil {
		jp.holder.Release()
		p.logger.Error("Skipping page", "jobId", req.JobID, "page", pageNum, "error", err)
		return PageTranscript{}, false
	}
	result.RegionCount += len(clips)

	pipeline := NewTextPipeline(PipelineConfig{
		Recognizer:     p.config.Recognizer,
		Cleaner:        p.config.Cleaner,
		Instructions:   p.config.Instructions,
		Holder:         jp.holder,
		ClipsDir:       jp.clipsDir,
		SaveClips:      p.config.SaveClips,
		StrictDrops:    p.config.StrictDrops,
		SourceLanguage: req.SourceLanguage,
		TargetLanguage: req.TargetLanguage,
		Progress:       req.Progress,
	})
	transcript := pipeline.Run(ctx, pageNum, clips)

	result.DroppedRegions += len(clips) - len(transcript.Fragments)
	result.OCRErrors += transcript.OCRErrors
	for _, f := range transcript.Fragments {
		if f.Status == StatusFailed {
			result.FailedRegions++
		}
	}
	return transcript, true
}

func (p *DocumentProcessor) storeTranscript(ctx context.Context, jobID string, doc *Document, result *ProcessResult) error {
	var (
		records []storage.FragmentRecord
		points  []*storage.FragmentPoint
		texts   []string
	)
	for _, page := range doc.Pages {
		for _, f := range page.Fragments {
			records = append(records, storage.FragmentRecord{
				Page:   page.Page,
				Region: f.Index,
				Type:   string(f.Type),
				Status: f.Status.String(),
				Text:   f.Text,
				Reason: f.Reason,
			})
			if f.Status == StatusOK && !layout.IsVisual(f.Type) {
				points = append(points, &storage.FragmentPoint{
					Page:   page.Page,
					Region: f.Index,
					Type:   string(f.Type),
					Text:   f.Text,
				})
				texts = append(texts, f.Text)
			}
		}
	}

	if p.config.Embedder != nil && p.storage.Indexing() && len(texts) > 0 {
		vectors, err := p.config.Embedder.EmbedBatch(ctx, texts)
		if err != nil {
			p.logger.Warn("Embedding failed, storing transcript without index", "jobId", jobID, "error", err)
			points = nil
		} else {
			for i, v := range vectors {
				points[i].Vector = v
			}
			result.FragmentsIndexed = len(points)
		}
	} else {
		points = nil
	}

	return p.storage.StoreTranscript(ctx, &storage.TranscriptInput{
		JobID:     jobID,
		Fragments: records,
		Points:    points,
	})
}

func (p *DocumentProcessor) reportStatus(ctx context.Context, req *ProcessRequest, status string, progress int, metadata map[string]interface{}) {
	if p.storage == nil || req.JobID == "" {
		return
	}
	if err := p.UpdateJobStatus(ctx, req.JobID, status, progress, metadata); err != nil {
		p.logger.Warn("Failed to update job status", "jobId", req.JobID, "error", err)
	}
}

// UpdateJobStatus updates job status in the database. Known metadata keys
// are lifted into their columns.
func (p *DocumentProcessor) UpdateJobStatus(ctx context.Context, jobID string, status string, progress int, metadata map[string]interface{}) error {
	if p.storage == nil {
		return nil
	}
	update := &storage.JobUpdate{
		JobID:    jobID,
		Status:   status,
		Progress: progress,
		Metadata: metadata,
	}

	if metadata != nil {
		if v, ok := metadata["filename"].(string); ok {
			update.Filename = v
		}
		if v, ok := metadata["pageCount"].(int); ok {
			update.PageCount = v
		}
		if v, ok := metadata["regionCount"].(int); ok {
			update.RegionCount = v
		}
		if v, ok := metadata["failedRegions"].(int); ok {
			update.FailedRegions = v
		}
		if v, ok := metadata["processingTime"].(int64); ok {
			update.ProcessingTimeMs = v
		}
		if v, ok := metadata["markdown"].(string); ok {
			update.Markdown = v
			delete(metadata, "markdown")
		}
		if v, ok := metadata["error"].(string); ok {
			update.ErrorCode = "PROCESSING_ERROR"
			if code, ok := metadata["errorCode"].(string); ok && code != "" {
				update.ErrorCode = code
			}
			update.ErrorMessage = v
		}
	}

	return p.storage.UpdateJobStatus(ctx, update)
}

// loadFile resolves the request to a PDF on disk. The returned cleanup
// removes any temporary copy.
func (p *DocumentProcessor) loadFile(ctx context.Context, req *ProcessRequest) (string, func(), error) {
	noop := func() {}

	if len(req.FileBuffer) == 0 && req.FilePath != "" {
		head, err := readHead(req.FilePath)
		if err != nil {
			return "", noop, fmt.Errorf("failed to read %s: %w", req.FilePath, err)
		}
		if !isPDF(head) {
			return "", noop, errors.NewUnsupportedFormatError(req.JobID, detectMimeTypeFromMagicBytes(head))
		}
		return req.FilePath, noop, nil
	}

	data := req.FileBuffer
	if len(data) == 0 {
		if req.FileURL == "" {
			return "", noop, fmt.Errorf("no file source provided (buffer, path or URL)")
		}
		var err error
		data, err = p.downloadFileFromURL(ctx, req.JobID, req.FileURL)
		if err != nil {
			return "", noop, fmt.Errorf("failed to download file: %w", err)
		}
	}
	if !isPDF(data) {
		return "", noop, errors.NewUnsupportedFormatError(req.JobID, detectMimeTypeFromMagicBytes(data))
	}

	dir, err := os.MkdirTemp("", "pdf2md-job-*")
	if err != nil {
		return "", noop, fmt.Errorf("create temp dir: %w", err)
	}
	cleanup := func() { os.RemoveAll(dir) }
	path := filepath.Join(dir, "input.pdf")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		cleanup()
		return "", noop, fmt.Errorf("write temp pdf: %w", err)
	}
	return path, cleanup, nil
}

// downloadFileFromURL downloads a file with exponential backoff retries.
func (p *DocumentProcessor) downloadFileFromURL(ctx context.Context, jobID string, fileURL string) ([]byte, error) {
	const (
		maxRetries       = 5
		initialBackoffMs = 1000
		maxBackoffMs     = 32000
	)

	client := &http.Client{Timeout: 10 * time.Minute}
	maxReadBytes := p.config.MaxFileSize
	if maxReadBytes <= 0 {
		maxReadBytes = 512 * 1024 * 1024
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		data, err := fetch(ctx, client, fileURL, maxReadBytes)
		if err == nil {
			p.logger.Debug("Download successful", "jobId", jobID, "attempt", attempt, "bytes", len(data))
			return data, nil
		}
		lastErr = err
		p.logger.Warn("Download attempt failed", "jobId", jobID, "attempt", attempt, "error", err)

		if attempt == maxRetries {
			break
		}
		backoffMs := initialBackoffMs * int(math.Pow(2, float64(attempt-1)))
		if backoffMs > maxBackoffMs {
			backoffMs = maxBackoffMs
		}
		select {
		case <-time.After(time.Duration(backoffMs) * time.Millisecond):
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled during retry backoff: %w", ctx.Err())
		}
	}

	return nil, fmt.Errorf("failed to download file after %d attempts: %w", maxRetries, lastErr)
}

func fetch(ctx context.Context, client *http.Client, url string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}
	if resp.ContentLength > limit {
		return nil, fmt.Errorf("file size exceeds maximum: %d > %d bytes", resp.ContentLength, limit)
	}
	return io.ReadAll(io.LimitReader(resp.Body, limit))
}

func readHead(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	head := make([]byte, 16)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	return head[:n], nil
}

func isPDF(data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF"))
}

// detectMimeTypeFromMagicBytes names common non-PDF uploads for error
// messages.
func detectMimeTypeFromMagicBytes(data []byte) string {
	switch {
	case isPDF(data):
		return "application/pdf"
	case bytes.HasPrefix(data, []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}):
		return "image/png"
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}):
		return "image/jpeg"
	case bytes.HasPrefix(data, []byte("GIF87a")), bytes.HasPrefix(data, []byte("GIF89a")):
		return "image/gif"
	case bytes.HasPrefix(data, []byte("PK\x03\x04")):
		return "application/zip"
	default:
		return "application/octet-stream"
	}
}

func markdownName(filename string) string {
	base := filepath.Base(filename)
	if base == "." || base == "/" || base == "" {
		base = "document.pdf"
	}
	return base[:len(base)-len(filepath.Ext(base))] + ".md"
}
