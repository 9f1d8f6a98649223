/**
 * OCR Types - Shared data structures for region recognition
 */

package processor

import (
	"context"
	"image"
)

// Recognizer reads the text lines of one region crop. An empty result is a
// valid answer, not an error.
type Recognizer interface {
	Recognize(ctx context.Context, img image.Image) (OCRLines, error)
}

// OCRLines holds recognized lines with their per-line confidence in [0,1].
type OCRLines struct {
	Texts  []string
	Scores []float64
}

// Empty reports whether no text was recognized.
func (l OCRLines) Empty() bool {
	return len(l.Texts) == 0
}

// Confidence returns the mean line score, or 0 when there are no scores.
func (l OCRLines) Confidence() float64 {
	if len(l.Scores) == 0 {
		return 0
	}
	var sum float64
	for _, s := range l.Scores {
		sum += s
	}
	return sum / float64(len(l.Scores))
}
