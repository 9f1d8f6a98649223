// Package order infers the reading order of the regions on one page.
//
// Boxes are first scaled into the 0-999 range the reading-order models
// expect, a Model scores every (box, rank) pair, and the Decoder turns those
// scores into a strict permutation. Pages are ordered independently.
package order

import (
	"fmt"

	"github.com/adverant/nexus/pdf2md/internal/layout"
)

// MaxCoord is the upper bound of a normalized coordinate.
const MaxCoord = 999

// NormalizedBox is (xmin, ymin, xmax, ymax) scaled into [0, MaxCoord].
type NormalizedBox [4]int

func (b NormalizedBox) Width() int  { return b[2] - b[0] }
func (b NormalizedBox) Height() int { return b[3] - b[1] }

// Normalize rescales a page's boxes with a single affine transform shared by
// every coordinate: the smallest of the 4·N values maps to 0 and the largest
// to MaxCoord, rounding down. When all values are equal every coordinate maps
// to 0.
func Normalize(boxes []layout.Box) ([]NormalizedBox, error) {
	if len(boxes) == 0 {
		return nil, fmt.Errorf("normalize: no boxes")
	}

	lo, hi := boxes[0].XMin, boxes[0].XMin
	for _, b := range boxes {
		for _, v := range b.Coords() {
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
	}

	out := make([]NormalizedBox, len(boxes))
	span := int64(hi - lo)
	if span == 0 {
		return out, nil
	}

	for i, b := range boxes {
		for j, v := range b.Coords() {
			out[i][j] = int(int64(v-lo) * MaxCoord / span)
		}
	}
	return out, nil
}
