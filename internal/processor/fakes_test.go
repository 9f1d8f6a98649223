package processor

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"strings"
	"sync"

	"github.com/adverant/nexus/pdf2md/internal/clients"
	"github.com/adverant/nexus/pdf2md/internal/layout"
)

// scriptedRecognizer returns its results in call order.
type scriptedRecognizer struct {
	mu      sync.Mutex
	results []OCRLines
	errs    []error
	calls   int
}

func (r *scriptedRecognizer) Recognize(ctx context.Context, img image.Image) (OCRLines, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.calls
	r.calls++
	if i < len(r.errs) && r.errs[i] != nil {
		return OCRLines{}, r.errs[i]
	}
	if i < len(r.results) {
		return r.results[i], nil
	}
	return OCRLines{}, nil
}

func lines(texts ...string) OCRLines {
	scores := make([]float64, len(texts))
	for i := range scores {
		scores[i] = 0.9
	}
	return OCRLines{Texts: texts, Scores: scores}
}

// echoCleaner strips the instruction and returns the text, failing on any
// prompt containing failOn.
type echoCleaner struct {
	clients.PromptBook
	mu      sync.Mutex
	prompts []string
	failOn  string
	reply   func(text string) string
}

func newEchoCleaner() *echoCleaner {
	return &echoCleaner{PromptBook: clients.DefaultPromptBook(layout.TaxonomyTen)}
}

func (c *echoCleaner) Chat(ctx context.Context, prompt string) (string, error) {
	c.mu.Lock()
	c.prompts = append(c.prompts, prompt)
	c.mu.Unlock()

	if c.failOn != "" && strings.Contains(prompt, c.failOn) {
		return "", fmt.Errorf("model unavailable")
	}
	text := prompt
	if i := strings.LastIndex(prompt, "\n"); i >= 0 {
		text = prompt[i+1:]
	}
	if c.reply != nil {
		return c.reply(text), nil
	}
	return text, nil
}

func (c *echoCleaner) Provider() clients.Provider { return clients.ProviderOllama }

type fakeDetector struct {
	regions [][]layout.Region
	errs    map[int]error
	calls   int
	health  error
}

func (d *fakeDetector) Detect(ctx context.Context, img image.Image) ([]layout.Region, error) {
	i := d.calls
	d.calls++
	if err, ok := d.errs[i]; ok {
		return nil, err
	}
	if i < len(d.regions) {
		out := make([]layout.Region, len(d.regions[i]))
		copy(out, d.regions[i])
		return out, nil
	}
	return nil, nil
}

func (d *fakeDetector) HealthCheck(ctx context.Context) error { return d.health }

// gatedDetector blocks its first Detect call until release is closed and
// returns one text region per call.
type gatedDetector struct {
	mu      sync.Mutex
	calls   int
	started chan struct{}
	release chan struct{}
}

func newGatedDetector() *gatedDetector {
	return &gatedDetector{started: make(chan struct{}), release: make(chan struct{})}
}

func (d *gatedDetector) Detect(ctx context.Context, img image.Image) ([]layout.Region, error) {
	d.mu.Lock()
	first := d.calls == 0
	d.calls++
	d.mu.Unlock()

	if first {
		close(d.started)
		select {
		case <-d.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return []layout.Region{region(layout.TypeText, 0, 0, 100, 100)}, nil
}

type fakeRasterizer struct {
	pages int
	err   error
}

func (r *fakeRasterizer) Rasterize(ctx context.Context, pdfPath string, zoom float64, maxPages int) ([]image.Image, error) {
	if r.err != nil {
		return nil, r.err
	}
	n := r.pages
	if maxPages > 0 && maxPages < n {
		n = maxPages
	}
	out := make([]image.Image, n)
	for i := range out {
		out[i] = testPage(1000, 1000)
	}
	return out, nil
}

// testPage returns a page whose pixel at (x,y) encodes x in red and y in
// green, modulo 256.
func testPage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 7, A: 255})
		}
	}
	return img
}

func region(typ layout.Type, x0, y0, x1, y1 int) layout.Region {
	return layout.Region{Type: typ, Box: layout.Box{XMin: x0, YMin: y0, XMax: x1, YMax: y1}, Score: 0.9}
}
