package processor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/adverant/nexus/pdf2md/internal/errors"
	"github.com/adverant/nexus/pdf2md/internal/layout"
	"github.com/adverant/nexus/pdf2md/internal/storage"
)

var fakePDF = []byte("%PDF-1.4\n%test\n")

func twoColumnPage() []layout.Region {
	return []layout.Region{
		region(layout.TypeText, 520, 100, 950, 900),
		region(layout.TypeTitle, 50, 20, 950, 80),
		region(layout.TypeText, 50, 100, 480, 900),
	}
}

func newTestProcessor(t *testing.T, det *fakeDetector, rec *scriptedRecognizer, cl *echoCleaner, mutate func(*ProcessorConfig)) *DocumentProcessor {
	t.Helper()
	cfg := &ProcessorConfig{
		Rasterizer:   &fakeRasterizer{pages: len(det.regions)},
		Detector:     det,
		Decoder:      geometricDecoder(),
		Recognizer:   rec,
		Cleaner:      cl,
		Instructions: layout.DefaultInstructions(layout.TaxonomyTen),
		ClipsDir:     "clips",
	}
	if mutate != nil {
		mutate(cfg)
	}
	p, err := NewDocumentProcessor(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestProcessDocument_TwoColumnPage(t *testing.T) {
	det := &fakeDetector{regions: [][]layout.Region{twoColumnPage()}}
	// OCR runs in reading order: title, left, right.
	rec := &scriptedRecognizer{results: []OCRLines{lines("A Title"), lines("left"), lines("right")}}
	cl := newEchoCleaner()
	cl.reply = func(text string) string { return strings.TrimPrefix(text, " ##") }
	p := newTestProcessor(t, det, rec, cl, nil)

	res, err := p.ProcessDocument(context.Background(), &ProcessRequest{
		JobID:      uuid.New().String(),
		Filename:   "paper.pdf",
		FileBuffer: fakePDF,
	})
	if err != nil {
		t.Fatal(err)
	}

	want := "A Title\n\nleft\n\nright"
	if res.Markdown != want {
		t.Errorf("markdown = %q, want %q", res.Markdown, want)
	}
	if res.PageCount != 1 || res.RegionCount != 3 {
		t.Errorf("pages/regions = %d/%d", res.PageCount, res.RegionCount)
	}
	if len(res.SkippedPages) != 0 || len(res.FallbackPages) != 0 {
		t.Errorf("skipped=%v fallback=%v", res.SkippedPages, res.FallbackPages)
	}
}

func TestProcessDocument_SkipsFailedPage(t *testing.T) {
	det := &fakeDetector{
		regions: [][]layout.Region{
			{region(layout.TypeText, 0, 0, 100, 100)},
			{region(layout.TypeText, 0, 0, 100, 100)},
			{region(layout.TypeFigure, 0, 0, 100, 100)},
		},
		errs: map[int]error{1: fmt.Errorf("detector timeout")},
	}
	rec := &scriptedRecognizer{results: []OCRLines{lines("page one")}}
	p := newTestProcessor(t, det, rec, newEchoCleaner(), nil)

	res, err := p.ProcessDocument(context.Background(), &ProcessRequest{JobID: "job-1", FileBuffer: fakePDF})
	if err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(res.SkippedPages) != "[2]" {
		t.Errorf("skipped = %v, want [2]", res.SkippedPages)
	}
	want := "page one\n\n![figure](clips/job-1/page-3-region-0.png)"
	if res.Markdown != want {
		t.Errorf("markdown = %q, want %q", res.Markdown, want)
	}
}

func TestProcessDocument_ConcurrentJobsKeepTheirModels(t *testing.T) {
	det := newGatedDetector()
	rec := &scriptedRecognizer{results: []OCRLines{lines("hello"), lines("hello")}}
	p := newTestProcessor(t, &fakeDetector{regions: [][]layout.Region{{}}}, rec, newEchoCleaner(), func(c *ProcessorConfig) {
		c.Detector = det
	})
	ctx := context.Background()

	type outcome struct {
		res *ProcessResult
		err error
	}
	first := make(chan outcome, 1)
	go func() {
		res, err := p.ProcessDocument(ctx, &ProcessRequest{JobID: "job-a", FileBuffer: fakePDF})
		first <- outcome{res, err}
	}()
	<-det.started

	// The second job runs start to finish while the first is mid-detection.
	second, err := p.ProcessDocument(ctx, &ProcessRequest{JobID: "job-b", FileBuffer: fakePDF})
	if err != nil {
		t.Fatal(err)
	}
	close(det.release)
	a := <-first
	if a.err != nil {
		t.Fatal(a.err)
	}

	for name, res := range map[string]*ProcessResult{"job-a": a.res, "job-b": second} {
		if len(res.SkippedPages) != 0 {
			t.Errorf("%s skipped pages %v", name, res.SkippedPages)
		}
		if res.Markdown != "hello" {
			t.Errorf("%s markdown = %q, want %q", name, res.Markdown, "hello")
		}
	}
}

func TestProcessDocument_OutputsAreJobScoped(t *testing.T) {
	root := t.TempDir()
	clipsDir := filepath.Join(root, "clips")
	imagesDir := filepath.Join(root, "images")
	det := &fakeDetector{regions: [][]layout.Region{
		{region(layout.TypeFigure, 0, 0, 100, 100)},
		{region(layout.TypeFigure, 0, 0, 100, 100)},
	}}
	p := newTestProcessor(t, det, &scriptedRecognizer{}, newEchoCleaner(), func(c *ProcessorConfig) {
		c.Rasterizer = &fakeRasterizer{pages: 1}
		c.ClipsDir = clipsDir
		c.SaveClips = true
		c.ImagesDir = imagesDir
		c.SaveImages = true
	})

	markdown := map[string]string{}
	for _, jobID := range []string{"job-a", "job-b"} {
		res, err := p.ProcessDocument(context.Background(), &ProcessRequest{JobID: jobID, FileBuffer: fakePDF})
		if err != nil {
			t.Fatal(err)
		}
		markdown[jobID] = res.Markdown
	}

	for _, jobID := range []string{"job-a", "job-b"} {
		clip := filepath.Join(clipsDir, jobID, "page-1-region-0.png")
		for _, path := range []string{clip, filepath.Join(imagesDir, jobID, "0.png")} {
			if _, err := os.Stat(path); err != nil {
				t.Errorf("%s: %v", jobID, err)
			}
		}
		want := "![figure](" + filepath.ToSlash(clip) + ")"
		if markdown[jobID] != want {
			t.Errorf("%s markdown = %q, want %q", jobID, markdown[jobID], want)
		}
	}
}

func TestProcessDocument_CountsRecognizerErrors(t *testing.T) {
	det := &fakeDetector{regions: [][]layout.Region{{
		region(layout.TypeText, 0, 0, 100, 100),
		region(layout.TypeText, 0, 200, 100, 300),
	}}}
	rec := &scriptedRecognizer{
		results: []OCRLines{lines("kept")},
		errs:    []error{nil, fmt.Errorf("tesseract crashed")},
	}
	p := newTestProcessor(t, det, rec, newEchoCleaner(), nil)

	res, err := p.ProcessDocument(context.Background(), &ProcessRequest{JobID: "job-3", FileBuffer: fakePDF})
	if err != nil {
		t.Fatal(err)
	}
	if res.OCRErrors != 1 || res.DroppedRegions != 1 {
		t.Errorf("ocr errors/dropped = %d/%d, want 1/1", res.OCRErrors, res.DroppedRegions)
	}
	if res.Markdown != "kept" {
		t.Errorf("markdown = %q", res.Markdown)
	}
}

func TestProcessDocument_CleanupFailureMarker(t *testing.T) {
	det := &fakeDetector{regions: [][]layout.Region{{
		region(layout.TypeText, 0, 0, 100, 100),
		region(layout.TypeText, 0, 200, 100, 300),
		region(layout.TypeText, 0, 400, 100, 500),
	}}}
	rec := &scriptedRecognizer{results: []OCRLines{lines("one"), lines("two"), lines("three")}}
	cl := newEchoCleaner()
	cl.failOn = "two"
	p := newTestProcessor(t, det, rec, cl, nil)

	res, err := p.ProcessDocument(context.Background(), &ProcessRequest{JobID: "job-2", FileBuffer: fakePDF})
	if err != nil {
		t.Fatal(err)
	}
	want := "one\n\n> **pdf2md error** (region 1, text): model unavailable\n\nthree"
	if res.Markdown != want {
		t.Errorf("markdown = %q, want %q", res.Markdown, want)
	}
	if res.FailedRegions != 1 {
		t.Errorf("failed = %d, want 1", res.FailedRegions)
	}
}

func TestProcessDocument_Errors(t *testing.T) {
	tests := []struct {
		name     string
		req      *ProcessRequest
		raster   error
		wantCode errors.ErrorCode
	}{
		{"not a pdf", &ProcessRequest{FileBuffer: []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}}, nil, errors.ErrorUnsupportedFormat},
		{"rasterize failure", &ProcessRequest{FileBuffer: fakePDF}, fmt.Errorf("gs: not found"), errors.ErrorRasterizeFailed},
		{"no source", &ProcessRequest{}, nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			det := &fakeDetector{regions: [][]layout.Region{{}}}
			p := newTestProcessor(t, det, &scriptedRecognizer{}, newEchoCleaner(), func(c *ProcessorConfig) {
				c.Rasterizer = &fakeRasterizer{pages: 1, err: tt.raster}
			})
			_, err := p.ProcessDocument(context.Background(), tt.req)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.CodeOf(err); got != tt.wantCode {
				t.Errorf("code = %q, want %q", got, tt.wantCode)
			}
		})
	}
}

func TestProcessDocument_PageLimitAndFilePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.pdf")
	if err := os.WriteFile(path, fakePDF, 0o600); err != nil {
		t.Fatal(err)
	}
	det := &fakeDetector{regions: [][]layout.Region{
		{region(layout.TypeFigure, 0, 0, 10, 10)},
		{region(layout.TypeFigure, 0, 0, 10, 10)},
		{region(layout.TypeFigure, 0, 0, 10, 10)},
	}}
	p := newTestProcessor(t, det, &scriptedRecognizer{}, newEchoCleaner(), nil)

	res, err := p.ProcessDocument(context.Background(), &ProcessRequest{FilePath: path, MaxPages: 2})
	if err != nil {
		t.Fatal(err)
	}
	if res.PageCount != 2 {
		t.Errorf("pages = %d, want 2", res.PageCount)
	}
}

func TestProcessDocument_PersistsTranscript(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatal(err)
	}
	sm, err := storage.NewStorageManager(store, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer sm.Close()

	det := &fakeDetector{regions: [][]layout.Region{twoColumnPage()}}
	rec := &scriptedRecognizer{results: []OCRLines{lines("t"), {}, lines("r")}}
	p := newTestProcessor(t, det, rec, newEchoCleaner(), func(c *ProcessorConfig) {
		c.StorageManager = sm
	})

	jobID := uuid.New().String()
	if _, err := p.ProcessDocument(ctx, &ProcessRequest{JobID: jobID, Filename: "a.pdf", FileBuffer: fakePDF}); err != nil {
		t.Fatal(err)
	}

	job, err := sm.GetJob(ctx, jobID)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != storage.StatusProcessing || job.Progress != 90 || job.PageCount != 1 {
		t.Errorf("job = %+v", job)
	}

	frags, err := sm.GetFragments(ctx, jobID)
	if err != nil {
		t.Fatal(err)
	}
	// The empty left column is dropped and never stored.
	if len(frags) != 2 || frags[0].Region != 0 || frags[1].Region != 2 {
		t.Errorf("fragments = %+v", frags)
	}
}

func TestNewDocumentProcessor_RequiresCollaborators(t *testing.T) {
	if _, err := NewDocumentProcessor(nil); err == nil {
		t.Error("nil config accepted")
	}
	if _, err := NewDocumentProcessor(&ProcessorConfig{}); err == nil {
		t.Error("empty config accepted")
	}
}

func TestMarkdownName(t *testing.T) {
	tests := map[string]string{
		"paper.pdf":         "paper.md",
		"/tmp/x/report.PDF": "report.md",
		"":                  "document.md",
	}
	for in, want := range tests {
		if got := markdownName(in); got != want {
			t.Errorf("markdownName(%q) = %q, want %q", in, got, want)
		}
	}
}
