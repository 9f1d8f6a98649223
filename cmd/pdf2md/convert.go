package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/adverant/nexus/pdf2md/internal/app"
	"github.com/adverant/nexus/pdf2md/internal/config"
	"github.com/adverant/nexus/pdf2md/internal/errors"
	"github.com/adverant/nexus/pdf2md/internal/logging"
	"github.com/adverant/nexus/pdf2md/internal/processor"
	"github.com/adverant/nexus/pdf2md/internal/queue"
	"github.com/adverant/nexus/pdf2md/internal/storage"
)

var convertCmd = &cobra.Command{
	Use:   "convert [file.pdf...]",
	Short: "Convert PDF files to Markdown",
	Long: `Convert one or more PDF files. Each file is written next to the input as
<name>.md unless --output is given. With a single input, --output - writes
to stdout.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runConvert,
}

func init() {
	f := convertCmd.Flags()
	f.StringP("output", "o", "", "output file (single input) or directory")
	f.StringP("format", "f", "md", "output format: md or html")
	f.IntP("pages", "p", 0, "maximum number of pages to convert (0 = all)")
	f.String("source-language", "", "language of the document")
	f.StringP("target-language", "t", "", "translate each region into this language")
	f.String("taxonomy", "", "region taxonomy: ten or five")
	f.String("crop-mode", "", "region crop mode: hard or masked")
	f.String("provider", "", "cleanup provider: ollama or openai")
	f.String("model", "", "cleanup model name")
	f.String("reading-order", "", "reading-order model: geometric or http")
	f.String("rasterizer", "", "page rasterizer: fitz or ghostscript")
	f.Float64("zoom", 0, "rasterization zoom factor")
	f.Bool("save-images", false, "keep rasterized page images")
	f.String("images-dir", "", "directory for page images")
	f.Bool("save-clips", false, "keep per-region crops")
	f.String("clips-dir", "", "directory for region crops")
	f.Bool("strict", false, "drop regions whose type has no instruction")
	f.String("store", "", "job store: none, sqlite or postgres")

	rootCmd.AddCommand(convertCmd)
}

// applyConvertFlags overlays the flags the user set on cfg.
func applyConvertFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	strs := map[string]*string{
		"taxonomy":      &cfg.Taxonomy,
		"crop-mode":     &cfg.CropMode,
		"provider":      &cfg.CleanupProvider,
		"reading-order": &cfg.ReadingOrder,
		"rasterizer":    &cfg.Rasterizer,
		"images-dir":    &cfg.ImagesDir,
		"clips-dir":     &cfg.ClipsDir,
		"store":         &cfg.Store,
	}
	for name, dst := range strs {
		if f.Changed(name) {
			v, _ := f.GetString(name)
			*dst = v
		}
	}
	if f.Changed("model") {
		model, _ := f.GetString("model")
		if cfg.CleanupProvider == "openai" {
			cfg.OpenAIModel = model
		} else {
			cfg.OllamaModel = model
		}
	}
	if f.Changed("zoom") {
		cfg.Zoom, _ = f.GetFloat64("zoom")
	}
	if f.Changed("save-images") {
		cfg.SaveImages, _ = f.GetBool("save-images")
	}
	if f.Changed("save-clips") {
		cfg.SaveClips, _ = f.GetBool("save-clips")
	}
	if f.Changed("strict") {
		cfg.StrictDrops, _ = f.GetBool("strict")
	}
	return cfg.Validate()
}

func runConvert(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyConvertFlags(cmd, cfg); err != nil {
		return err
	}

	output, _ := cmd.Flags().GetString("output")
	format, _ := cmd.Flags().GetString("format")
	format = strings.ToLower(format)
	if format != "md" && format != "html" {
		return fmt.Errorf("unsupported format %q (want md or html)", format)
	}
	if output == "-" && len(args) > 1 {
		return fmt.Errorf("--output - needs exactly one input file")
	}
	maxPages, _ := cmd.Flags().GetInt("pages")
	sourceLang, _ := cmd.Flags().GetString("source-language")
	targetLang, _ := cmd.Flags().GetString("target-language")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	comps, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer comps.Close()

	logger := logging.NewLogger("CLI")
	for _, path := range args {
		dst := outputPath(path, output, format, len(args))
		if err := convertFile(ctx, comps.Processor, path, dst, format, &processor.ProcessRequest{
			MaxPages:       maxPages,
			SourceLanguage: sourceLang,
			TargetLanguage: targetLang,
		}, logger); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	return nil
}

func convertFile(ctx context.Context, proc *processor.DocumentProcessor, path, dst, format string, req *processor.ProcessRequest, logger *logging.Logger) error {
	req.JobID = uuid.New().String()
	req.FilePath = path
	req.Filename = filepath.Base(path)
	req.Progress = func(done, total int) {
		fmt.Fprintf(os.Stderr, "\r%s: region %d/%d", req.Filename, done, total)
		if done == total {
			fmt.Fprintln(os.Stderr)
		}
	}

	start := time.Now()
	_ = proc.UpdateJobStatus(ctx, req.JobID, storage.StatusProcessing, 0, map[string]interface{}{"filename": req.Filename})
	result, err := proc.ProcessDocument(ctx, req)
	if err != nil {
		_ = proc.UpdateJobStatus(ctx, req.JobID, storage.StatusFailed, 100, map[string]interface{}{
			"error":          err.Error(),
			"errorCode":      string(errors.CodeOf(err)),
			"processingTime": time.Since(start).Milliseconds(),
		})
		return err
	}
	_ = proc.UpdateJobStatus(ctx, req.JobID, storage.StatusCompleted, 100, queue.CompletedMetadata(result, time.Since(start)))

	text := result.Markdown
	if format == "html" {
		if text, err = processor.RenderHTML(text); err != nil {
			return err
		}
	}
	if dst == "-" {
		_, err = fmt.Fprint(os.Stdout, text)
		return err
	}
	if err := processor.WriteFile(dst, text); err != nil {
		return err
	}

	logger.Info("Converted document",
		"input", path,
		"output", dst,
		"pages", result.PageCount,
		"regions", result.RegionCount,
		"failedRegions", result.FailedRegions,
		"skippedPages", len(result.SkippedPages),
		"duration", time.Since(start).Round(time.Millisecond))
	return nil
}

// outputPath picks the destination for input. An explicit --output names
// the file for a single input and a directory for several.
func outputPath(input, output, format string, inputs int) string {
	name := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input)) + "." + format
	switch {
	case output == "":
		return filepath.Join(filepath.Dir(input), name)
	case output == "-":
		return output
	case inputs == 1 && !strings.HasSuffix(output, string(filepath.Separator)):
		if info, err := os.Stat(output); err != nil || !info.IsDir() {
			return output
		}
	}
	return filepath.Join(output, name)
}
