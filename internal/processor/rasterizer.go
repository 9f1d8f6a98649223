package processor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/gen2brain/go-fitz"
	"github.com/ledongthuc/pdf"

	"github.com/adverant/nexus/pdf2md/internal/logging"
)

// Rasterizer renders PDF pages to images.
type Rasterizer interface {
	// Rasterize renders the first maxPages pages (all when maxPages <= 0)
	// at 72·zoom dpi.
	Rasterize(ctx context.Context, pdfPath string, zoom float64, maxPages int) ([]image.Image, error)
}

// FitzRasterizer renders pages in-process with MuPDF.
type FitzRasterizer struct {
	logger *logging.Logger
}

// NewFitzRasterizer creates a MuPDF-backed rasterizer.
func NewFitzRasterizer() *FitzRasterizer {
	return &FitzRasterizer{logger: logging.NewLogger("Rasterizer")}
}

// Rasterize implements Rasterizer.
func (r *FitzRasterizer) Rasterize(ctx context.Context, pdfPath string, zoom float64, maxPages int) ([]image.Image, error) {
	doc, err := fitz.New(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	numPages, err := pageLimit(doc.NumPage(), maxPages)
	if err != nil {
		return nil, err
	}
	dpi := 72 * renderZoom(zoom)

	pages := make([]image.Image, 0, numPages)
	for i := 0; i < numPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := doc.ImageDPI(i, dpi)
		if err != nil {
			return nil, fmt.Errorf("render page %d: %w", i+1, err)
		}
		pages = append(pages, img)
	}

	r.logger.Info("PDF rasterized", "pages", len(pages), "dpi", int(dpi))
	return pages, nil
}

func pageLimit(numPages, maxPages int) (int, error) {
	if numPages == 0 {
		return 0, fmt.Errorf("pdf has no pages")
	}
	if maxPages > 0 && maxPages < numPages {
		return maxPages, nil
	}
	return numPages, nil
}

func renderZoom(zoom float64) float64 {
	if zoom <= 0 {
		return 2
	}
	return zoom
}

// GhostscriptRasterizer renders pages with the gs binary.
type GhostscriptRasterizer struct {
	binary string
	logger *logging.Logger
}

// NewGhostscriptRasterizer creates a rasterizer. An empty binary means "gs".
func NewGhostscriptRasterizer(binary string) *GhostscriptRasterizer {
	if binary == "" {
		binary = "gs"
	}
	return &GhostscriptRasterizer{
		binary: binary,
		logger: logging.NewLogger("Rasterizer"),
	}
}

// PageCount returns the number of pages in a PDF.
func PageCount(path string) (int, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open pdf for page count: %w", err)
	}
	defer f.Close()
	return r.NumPage(), nil
}

// Rasterize implements Rasterizer.
func (g *GhostscriptRasterizer) Rasterize(ctx context.Context, pdfPath string, zoom float64, maxPages int) ([]image.Image, error) {
	total, err := PageCount(pdfPath)
	if err != nil {
		return nil, err
	}
	numPages, err := pageLimit(total, maxPages)
	if err != nil {
		return nil, err
	}
	zoom = renderZoom(zoom)

	tempDir, err := os.MkdirTemp("", "pdf2md-render-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	dpi := int(72 * zoom)
	outputPattern := filepath.Join(tempDir, "page-%03d.png")
	cmd := exec.CommandContext(ctx, g.binary,
		"-dQUIET",
		"-dSAFER",
		"-dNOPAUSE",
		"-dBATCH",
		"-sDEVICE=png16m",
		fmt.Sprintf("-r%d", dpi),
		"-dFirstPage=1",
		fmt.Sprintf("-dLastPage=%d", numPages),
		fmt.Sprintf("-sOutputFile=%s", outputPattern),
		pdfPath,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ghostscript render failed: %w, stderr: %s", err, stderr.String())
	}

	pages := make([]image.Image, 0, numPages)
	for pageNum := 1; pageNum <= numPages; pageNum++ {
		pagePath := filepath.Join(tempDir, fmt.Sprintf("page-%03d.png", pageNum))
		img, err := readPNG(pagePath)
		if err != nil {
			return nil, fmt.Errorf("read rendered page %d: %w", pageNum, err)
		}
		pages = append(pages, img)
	}

	g.logger.Info("PDF rasterized", "pages", len(pages), "dpi", dpi)
	return pages, nil
}

func readPNG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return png.Decode(f)
}

// SavePageImages writes pages as <dir>/<idx>.png after emptying dir.
func SavePageImages(dir string, pages []image.Image) error {
	if len(pages) == 0 {
		return fmt.Errorf("no images found to save")
	}
	if err := resetDir(dir); err != nil {
		return err
	}
	for idx, img := range pages {
		if err := writePNG(filepath.Join(dir, fmt.Sprintf("%d.png", idx)), img); err != nil {
			return err
		}
	}
	return nil
}

func resetDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("list %s: %w", dir, err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return fmt.Errorf("clean %s: %w", dir, err)
		}
	}
	return nil
}

func writePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}
