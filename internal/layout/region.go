// Package layout holds the page-scoped region model shared by the
// detector, the reading-order decoder and the text pipeline.
package layout

import (
	"context"
	"fmt"
	"image"
)

// Box is an axis-aligned rectangle in page-pixel coordinates.
type Box struct {
	XMin int `json:"xmin"`
	YMin int `json:"ymin"`
	XMax int `json:"xmax"`
	YMax int `json:"ymax"`
}

func (b Box) Width() int  { return b.XMax - b.XMin }
func (b Box) Height() int { return b.YMax - b.YMin }

// Valid reports whether XMin<XMax and YMin<YMax.
func (b Box) Valid() bool {
	return b.XMin < b.XMax && b.YMin < b.YMax
}

// Rect converts the box into an image.Rectangle.
func (b Box) Rect() image.Rectangle {
	return image.Rect(b.XMin, b.YMin, b.XMax, b.YMax)
}

// Coords returns the box as the 4-tuple order used by reading-order models.
func (b Box) Coords() [4]int {
	return [4]int{b.XMin, b.YMin, b.XMax, b.YMax}
}

func (b Box) String() string {
	return fmt.Sprintf("(%d,%d,%d,%d)", b.XMin, b.YMin, b.XMax, b.YMax)
}

// Region is one detected layout element on a page.
type Region struct {
	Type  Type    `json:"type"`
	Box   Box     `json:"box"`
	Score float64 `json:"score"`
	// OrderRank is assigned by the reading-order decoder and is unique
	// within a page.
	OrderRank int `json:"order_rank"`
}

// Detector finds layout regions on a rasterized page. Boxes are returned in
// detector order with OrderRank unset.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]Region, error)
}

// Boxes returns the boxes of regions in order.
func Boxes(regions []Region) []Box {
	out := make([]Box, len(regions))
	for i, r := range regions {
		out[i] = r.Box
	}
	return out
}
