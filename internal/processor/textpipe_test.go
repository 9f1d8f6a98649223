package processor

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/adverant/nexus/pdf2md/internal/layout"
	"github.com/adverant/nexus/pdf2md/internal/order"
)

func clipsOf(types ...layout.Type) []Clip {
	clips := make([]Clip, len(types))
	for i, typ := range types {
		clips[i] = Clip{Index: i, Type: typ, Image: image.NewRGBA(image.Rect(0, 0, 4, 4))}
	}
	return clips
}

func newPipeline(rec Recognizer, cl *echoCleaner, mutate func(*PipelineConfig)) *TextPipeline {
	cfg := PipelineConfig{
		Recognizer:   rec,
		Cleaner:      cl,
		Instructions: layout.DefaultInstructions(layout.TaxonomyTen),
		ClipsDir:     "clips",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewTextPipeline(cfg)
}

func TestTextPipeline_VisualRegionsSkipOCR(t *testing.T) {
	rec := &scriptedRecognizer{}
	cl := newEchoCleaner()
	p := newPipeline(rec, cl, nil)

	got := p.Run(context.Background(), 3, clipsOf(layout.TypeTable, layout.TypeFigure))

	if rec.calls != 0 {
		t.Errorf("recognizer called %d times, want 0", rec.calls)
	}
	if len(cl.prompts) != 0 {
		t.Errorf("cleaner called %d times, want 0", len(cl.prompts))
	}
	if len(got.Fragments) != 2 {
		t.Fatalf("got %d fragments, want 2", len(got.Fragments))
	}
	want := []string{
		"![table](clips/page-3-region-0.png)\n\n",
		"![figure](clips/page-3-region-1.png)\n\n",
	}
	for i, w := range want {
		if got.Fragments[i].Text != w {
			t.Errorf("fragment %d = %q, want %q", i, got.Fragments[i].Text, w)
		}
		if got.Fragments[i].Status != StatusOK {
			t.Errorf("fragment %d status = %v", i, got.Fragments[i].Status)
		}
	}
}

func TestTextPipeline_EmptyOCRDrops(t *testing.T) {
	tests := []struct {
		name   string
		strict bool
		rec    *scriptedRecognizer
	}{
		{"empty lines", false, &scriptedRecognizer{results: []OCRLines{{}}}},
		{"empty lines strict", true, &scriptedRecognizer{results: []OCRLines{{}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cl := newEchoCleaner()
			p := newPipeline(tt.rec, cl, func(c *PipelineConfig) { c.StrictDrops = tt.strict })

			got := p.Run(context.Background(), 1, clipsOf(layout.TypeText))
			if len(got.Fragments) != 0 {
				t.Errorf("got %d fragments, want 0", len(got.Fragments))
			}
			if len(cl.prompts) != 0 {
				t.Errorf("cleaner called for dropped region")
			}
			if got.OCRErrors != 0 {
				t.Errorf("ocr errors = %d, want 0", got.OCRErrors)
			}
		})
	}
}

func TestTextPipeline_RecognizerErrorsAreCounted(t *testing.T) {
	rec := &scriptedRecognizer{
		results: []OCRLines{lines("before"), {}, lines("after"), {}},
		errs:    []error{nil, fmt.Errorf("tesseract crashed"), nil, fmt.Errorf("bad image")},
	}
	cl := newEchoCleaner()
	p := newPipeline(rec, cl, nil)

	got := p.Run(context.Background(), 2, clipsOf(layout.TypeText, layout.TypeText, layout.TypeText, layout.TypeText))
	if got.OCRErrors != 2 {
		t.Errorf("ocr errors = %d, want 2", got.OCRErrors)
	}
	if len(got.Fragments) != 2 {
		t.Fatalf("got %d fragments, want 2", len(got.Fragments))
	}
	if got.Fragments[0].Text != "before\n\n" || got.Fragments[1].Text != "after\n\n" {
		t.Errorf("fragments = %+v", got.Fragments)
	}
	if got.Fragments[1].Index != 2 {
		t.Errorf("second kept index = %d, want 2", got.Fragments[1].Index)
	}
	if len(cl.prompts) != 2 {
		t.Errorf("cleaner called %d times, want 2", len(cl.prompts))
	}
}

func TestTextPipeline_JoinsAndCleans(t *testing.T) {
	rec := &scriptedRecognizer{results: []OCRLines{
		lines("Deep", "Layout"),
		lines("first line", "second line"),
	}}
	cl := newEchoCleaner()
	cl.reply = func(text string) string { return text }
	p := newPipeline(rec, cl, nil)

	got := p.Run(context.Background(), 1, clipsOf(layout.TypeTitle, layout.TypeText))

	instr := layout.DefaultInstructions(layout.TaxonomyTen)
	wantPrompts := []string{
		instr.Instruction(layout.TypeTitle) + "Deep Layout",
		instr.Instruction(layout.TypeText) + "first line\nsecond line",
	}
	if len(cl.prompts) != len(wantPrompts) {
		t.Fatalf("got %d prompts, want %d", len(cl.prompts), len(wantPrompts))
	}
	for i, w := range wantPrompts {
		if cl.prompts[i] != w {
			t.Errorf("prompt %d = %q, want %q", i, cl.prompts[i], w)
		}
	}
	if got.Fragments[1].Text != "second line\n\n" {
		t.Errorf("text fragment = %q", got.Fragments[1].Text)
	}
}

func TestTextPipeline_NormalizesBullets(t *testing.T) {
	rec := &scriptedRecognizer{results: []OCRLines{lines("x")}}
	cl := newEchoCleaner()
	cl.reply = func(string) string { return "• one\nâ€¢ two" }
	p := newPipeline(rec, cl, nil)

	got := p.Run(context.Background(), 1, clipsOf(layout.TypeText))
	want := "  * one\n  * two\n\n"
	if got.Fragments[0].Text != want {
		t.Errorf("got %q, want %q", got.Fragments[0].Text, want)
	}
}

func TestTextPipeline_FailureIsolation(t *testing.T) {
	rec := &scriptedRecognizer{results: []OCRLines{lines("alpha"), lines("beta"), lines("gamma")}}
	cl := newEchoCleaner()
	cl.failOn = "beta"
	p := newPipeline(rec, cl, nil)

	got := p.Run(context.Background(), 1, clipsOf(layout.TypeText, layout.TypeText, layout.TypeText))
	if len(got.Fragments) != 3 {
		t.Fatalf("got %d fragments, want 3", len(got.Fragments))
	}

	wantStatus := []Status{StatusOK, StatusFailed, StatusOK}
	for i, f := range got.Fragments {
		if f.Index != i {
			t.Errorf("fragment %d has index %d", i, f.Index)
		}
		if f.Status != wantStatus[i] {
			t.Errorf("fragment %d status = %v, want %v", i, f.Status, wantStatus[i])
		}
	}
	if got.Fragments[1].Reason == "" {
		t.Error("failed fragment has no reason")
	}
	if got.Fragments[0].Text != "alpha\n\n" || got.Fragments[2].Text != "gamma\n\n" {
		t.Errorf("neighbours = %q, %q", got.Fragments[0].Text, got.Fragments[2].Text)
	}
}

func TestTextPipeline_PreservesOrderAcrossKinds(t *testing.T) {
	rec := &scriptedRecognizer{results: []OCRLines{lines("a"), {}, lines("c")}}
	cl := newEchoCleaner()
	p := newPipeline(rec, cl, nil)

	clips := clipsOf(layout.TypeText, layout.TypeFigure, layout.TypeText, layout.TypeText)
	got := p.Run(context.Background(), 1, clips)

	var idx []int
	for _, f := range got.Fragments {
		idx = append(idx, f.Index)
	}
	// Region 2 is dropped (empty OCR); everything else keeps its position.
	want := []int{0, 1, 3}
	if fmt.Sprint(idx) != fmt.Sprint(want) {
		t.Errorf("indices = %v, want %v", idx, want)
	}
}

func TestTextPipeline_ReleasesHolderAndReportsProgress(t *testing.T) {
	holder := NewModelHolder(&fakeDetector{}, order.NewDecoder(order.NewGeometricModel(order.DefaultGeometricConfig()), 0))
	if err := holder.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	var progress [][2]int
	rec := &scriptedRecognizer{results: []OCRLines{lines("a"), lines("b")}}
	p := newPipeline(rec, newEchoCleaner(), func(c *PipelineConfig) {
		c.Holder = holder
		c.Progress = func(done, total int) { progress = append(progress, [2]int{done, total}) }
	})

	p.Run(context.Background(), 1, clipsOf(layout.TypeText, layout.TypeText))

	if holder.Ready() {
		t.Error("holder still acquired after Run")
	}
	if fmt.Sprint(progress) != "[[1 2] [2 2]]" {
		t.Errorf("progress = %v", progress)
	}
}

func TestTextPipeline_SavesClips(t *testing.T) {
	dir := t.TempDir()
	p := newPipeline(&scriptedRecognizer{}, newEchoCleaner(), func(c *PipelineConfig) {
		c.ClipsDir = dir
		c.SaveClips = true
	})

	got := p.Run(context.Background(), 2, clipsOf(layout.TypeFigure))

	path := filepath.Join(dir, "page-2-region-0.png")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("clip not written: %v", err)
	}
	if !strings.Contains(got.Fragments[0].Text, filepath.ToSlash(path)) {
		t.Errorf("placeholder %q does not point at %s", got.Fragments[0].Text, path)
	}
}

func TestTextPipeline_Translates(t *testing.T) {
	rec := &scriptedRecognizer{results: []OCRLines{lines("hello")}}
	cl := newEchoCleaner()
	cl.reply = func(text string) string { return "[" + text + "]" }
	p := newPipeline(rec, cl, func(c *PipelineConfig) { c.TargetLanguage = "French" })

	got := p.Run(context.Background(), 1, clipsOf(layout.TypeText))

	if len(cl.prompts) != 2 {
		t.Fatalf("got %d model calls, want clean + translate", len(cl.prompts))
	}
	if !strings.Contains(cl.prompts[1], "in English, please translate it to French") {
		t.Errorf("translate prompt = %q", cl.prompts[1])
	}
	if got.Fragments[0].Text != "[[hello]]\n\n" {
		t.Errorf("text = %q", got.Fragments[0].Text)
	}
}

func TestStatusString(t *testing.T) {
	for s, want := range map[Status]string{StatusOK: "ok", StatusDropped: "dropped", StatusFailed: "failed"} {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", s, s.String(), want)
		}
	}
}
