package processor

import (
	"image"
	"strings"

	"golang.org/x/image/draw"

	"github.com/adverant/nexus/pdf2md/internal/errors"
	"github.com/adverant/nexus/pdf2md/internal/layout"
)

// CropMode selects how a region is cut out of its page.
type CropMode int

const (
	// CropHard copies the box into its own image.
	CropHard CropMode = iota
	// CropMasked keeps the full page size and zeroes every pixel outside
	// the box, which keeps neighbouring regions out of OCR while
	// preserving absolute coordinates.
	CropMasked
)

// ParseCropMode maps a configuration name onto a CropMode.
func ParseCropMode(name string) (CropMode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "hard":
		return CropHard, nil
	case "masked", "mask":
		return CropMasked, nil
	default:
		return 0, errors.NewConfigError("unsupported crop mode %q (want hard or masked)", name)
	}
}

func (m CropMode) String() string {
	if m == CropMasked {
		return "masked"
	}
	return "hard"
}

// Clip is one region cut out of a page, in reading order.
type Clip struct {
	Index int
	Type  layout.Type
	Box   layout.Box
	Image image.Image
}

// Extractor crops ordered regions out of a page image.
type Extractor struct {
	mode   CropMode
	holder *ModelHolder
}

// NewExtractor creates an extractor. holder may be nil when no offload
// protocol is in force.
func NewExtractor(mode CropMode, holder *ModelHolder) *Extractor {
	return &Extractor{mode: mode, holder: holder}
}

// Extract returns exactly one clip per region, in the order given.
func (e *Extractor) Extract(page image.Image, regions []layout.Region) ([]Clip, error) {
	if e.holder != nil && !e.holder.Ready() {
		return nil, ErrModelsReleased
	}

	clips := make([]Clip, len(regions))
	for i, r := range regions {
		clips[i] = Clip{
			Index: i,
			Type:  r.Type,
			Box:   r.Box,
			Image: e.crop(page, r.Box),
		}
	}
	return clips, nil
}

func (e *Extractor) crop(page image.Image, box layout.Box) image.Image {
	bounds := page.Bounds()
	rect := box.Rect().Add(bounds.Min).Intersect(bounds)

	if e.mode == CropMasked {
		dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		if !rect.Empty() {
			draw.Draw(dst, rect.Sub(bounds.Min), page, rect.Min, draw.Src)
		}
		return dst
	}

	if rect.Empty() {
		return image.NewRGBA(image.Rect(0, 0, 1, 1))
	}
	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(dst, dst.Bounds(), page, rect.Min, draw.Src)
	return dst
}
