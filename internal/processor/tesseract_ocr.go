/**
 * Tesseract OCR - local region recognizer
 *
 * Recognizes one crop at a time and reports text line by line, the way
 * the text pipeline joins and cleans it.
 */

package processor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/adverant/nexus/pdf2md/internal/logging"
)

// TesseractOCR handles region OCR using Tesseract
type TesseractOCR struct {
	languages []string
	logger    *logging.Logger
}

// TesseractConfig holds Tesseract configuration
type TesseractConfig struct {
	// Language is a "+"-separated tesseract language list, e.g. "eng+chi_sim".
	Language string
}

// NewTesseractOCR creates a new Tesseract OCR instance
func NewTesseractOCR(cfg *TesseractConfig) (*TesseractOCR, error) {
	lang := cfg.Language
	if lang == "" {
		lang = "eng"
	}

	return &TesseractOCR{
		languages: strings.Split(lang, "+"),
		logger:    logging.NewLogger("TesseractOCR"),
	}, nil
}

// Recognize implements Recognizer.
func (t *TesseractOCR) Recognize(ctx context.Context, img image.Image) (OCRLines, error) {
	if err := ctx.Err(); err != nil {
		return OCRLines{}, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return OCRLines{}, fmt.Errorf("failed to encode crop: %w", err)
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(t.languages...); err != nil {
		return OCRLines{}, fmt.Errorf("failed to set languages: %w", err)
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return OCRLines{}, fmt.Errorf("failed to set image: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		// Line boxes are unavailable on some builds; plain text still works.
		t.logger.Debug("Line boxes unavailable, using plain text", "error", err)
		text, err := client.Text()
		if err != nil {
			return OCRLines{}, fmt.Errorf("tesseract OCR failed: %w", err)
		}
		return linesFromText(text), nil
	}

	var lines OCRLines
	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" {
			continue
		}
		lines.Texts = append(lines.Texts, text)
		lines.Scores = append(lines.Scores, b.Confidence/100.0)
	}
	return lines, nil
}

// linesFromText splits plain OCR output into non-blank lines. Scores are
// unknown and left empty.
func linesFromText(text string) OCRLines {
	var lines OCRLines
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines.Texts = append(lines.Texts, line)
		}
	}
	return lines
}
