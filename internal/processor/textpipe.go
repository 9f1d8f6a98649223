package processor

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/adverant/nexus/pdf2md/internal/clients"
	"github.com/adverant/nexus/pdf2md/internal/errors"
	"github.com/adverant/nexus/pdf2md/internal/layout"
	"github.com/adverant/nexus/pdf2md/internal/logging"
)

// Status is the outcome of one region.
type Status int

const (
	StatusOK Status = iota
	// StatusDropped means OCR found nothing or failed. Dropped fragments
	// never reach a transcript.
	StatusDropped
	// StatusFailed means cleanup failed; Reason carries the cause.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusDropped:
		return "dropped"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Fragment is the text produced for one region.
type Fragment struct {
	Index  int         `json:"index"`
	Type   layout.Type `json:"type"`
	Status Status      `json:"status"`
	Text   string      `json:"text"`
	Reason string      `json:"reason,omitempty"`
}

// PageTranscript is the ordered fragments of one page.
type PageTranscript struct {
	Page      int        `json:"page"`
	Fragments []Fragment `json:"fragments"`
	// OCRErrors counts regions dropped because the recognizer failed, as
	// opposed to finding no text.
	OCRErrors int `json:"ocrErrors,omitempty"`
}

// ProgressFunc is called after each region with the number of regions done
// and the page total.
type ProgressFunc func(done, total int)

// PipelineConfig configures a TextPipeline.
type PipelineConfig struct {
	Recognizer   Recognizer
	Cleaner      clients.Cleaner
	Instructions layout.InstructionTable
	// Holder is released once a page's regions are processed. May be nil.
	Holder *ModelHolder

	ClipsDir    string
	SaveClips   bool
	StrictDrops bool

	// SourceLanguage and TargetLanguage enable per-fragment translation
	// when TargetLanguage is set.
	SourceLanguage string
	TargetLanguage string

	Progress ProgressFunc
}

// TextPipeline turns ordered clips into cleaned Markdown fragments.
type TextPipeline struct {
	cfg    PipelineConfig
	logger *logging.Logger
}

// NewTextPipeline creates a text pipeline.
func NewTextPipeline(cfg PipelineConfig) *TextPipeline {
	if cfg.SourceLanguage == "" {
		cfg.SourceLanguage = "English"
	}
	return &TextPipeline{
		cfg:    cfg,
		logger: logging.NewLogger("TextPipeline"),
	}
}

var bulletReplacer = strings.NewReplacer("â€¢", "  *", "•", "  *")

// NormalizeBullets rewrites bullet glyphs, including their mis-decoded
// form, as Markdown list markers.
func NormalizeBullets(s string) string {
	return bulletReplacer.Replace(s)
}

// ClipPath is where the clip for region idx of page is written, and what
// its placeholder links to.
func ClipPath(clipsDir string, page, idx int) string {
	return filepath.ToSlash(filepath.Join(clipsDir, fmt.Sprintf("page-%d-region-%d.png", page, idx)))
}

// Placeholder is the Markdown emitted for a visual region.
func Placeholder(typ layout.Type, path string) string {
	return fmt.Sprintf("![%s](%s)\n\n", typ, path)
}

// Run processes clips in order. Dropped regions are omitted; everything
// else keeps its relative position. The holder, if any, is released when
// Run returns.
func (p *TextPipeline) Run(ctx context.Context, page int, clips []Clip) PageTranscript {
	if p.cfg.Holder != nil {
		defer p.cfg.Holder.Release()
	}

	transcript := PageTranscript{Page: page, Fragments: make([]Fragment, 0, len(clips))}
	for n, clip := range clips {
		frag, ocrErr := p.process(ctx, page, clip)
		if ocrErr {
			transcript.OCRErrors++
		}
		if frag.Status != StatusDropped {
			transcript.Fragments = append(transcript.Fragments, frag)
		}
		if p.cfg.Progress != nil {
			p.cfg.Progress(n+1, len(clips))
		}
	}
	return transcript
}

// process handles one region. The flag reports a recognizer failure.
func (p *TextPipeline) process(ctx context.Context, page int, clip Clip) (Fragment, bool) {
	frag := Fragment{Index: clip.Index, Type: clip.Type}

	if layout.IsVisual(clip.Type) {
		path := ClipPath(p.cfg.ClipsDir, page, clip.Index)
		if p.cfg.SaveClips {
			if err := writePNG(filepath.FromSlash(path), clip.Image); err != nil {
				p.logger.Warn("Failed to save clip", "page", page, "region", clip.Index, "error", err)
			}
		}
		frag.Status = StatusOK
		frag.Text = Placeholder(clip.Type, path)
		return frag, false
	}

	lines, err := p.cfg.Recognizer.Recognize(ctx, clip.Image)
	if err != nil {
		err = errors.NewOCRFailedError(page, clip.Index, err)
		p.logger.Warn("Region dropped: recognizer failed", "page", page, "region", clip.Index, "type", clip.Type, "error", err)
		frag.Status = StatusDropped
		frag.Reason = err.Error()
		return frag, true
	}
	if lines.Empty() {
		frag.Status = StatusDropped
		kv := []interface{}{"page", page, "region", clip.Index, "type", clip.Type}
		if p.cfg.StrictDrops {
			p.logger.Warn("Region dropped: no OCR text", kv...)
		} else {
			p.logger.Debug("Region dropped: no OCR text", kv...)
		}
		return frag, false
	}
	p.logger.Debug("Region recognized", "page", page, "region", clip.Index, "lines", len(lines.Texts), "confidence", lines.Confidence())

	text := strings.TrimSpace(strings.Join(lines.Texts, p.cfg.Instructions.Separator(clip.Type)))

	instruction, err := p.cfg.Cleaner.Prompt(clients.TaskClean, map[string]string{"type": string(clip.Type)})
	if err != nil {
		return p.fail(frag, page, err), false
	}
	cleaned, err := p.cfg.Cleaner.Chat(ctx, instruction+text)
	if err != nil {
		return p.fail(frag, page, err), false
	}

	if p.cfg.TargetLanguage != "" {
		translated, err := Translate(ctx, p.cfg.Cleaner, p.cfg.SourceLanguage, p.cfg.TargetLanguage, cleaned)
		if err != nil {
			p.logger.Warn("Translation failed, keeping cleaned text", "page", page, "region", clip.Index, "error", err)
		} else {
			cleaned = translated
		}
	}

	frag.Status = StatusOK
	frag.Text = NormalizeBullets(cleaned) + "\n\n"
	return frag, false
}

func (p *TextPipeline) fail(frag Fragment, page int, cause error) Fragment {
	err := errors.NewCleanupError(string(frag.Type), cause)
	p.logger.Error("Region cleanup failed", "page", page, "region", frag.Index, "error", err)
	frag.Status = StatusFailed
	frag.Reason = cause.Error()
	return frag
}
