package order

import (
	"context"
	"sort"
)

// GeometricConfig tunes GeometricModel.
type GeometricConfig struct {
	// SpanningThreshold is the minimum share of the page width a box must
	// cover to be read as full-width content (titles, abstracts, wide
	// figures) that interrupts the columns.
	SpanningThreshold float64
	// ColumnOverlap is the minimum horizontal overlap, as a share of the
	// narrower box, for two boxes to sit in the same column.
	ColumnOverlap float64
}

// DefaultGeometricConfig returns the default column heuristics.
func DefaultGeometricConfig() GeometricConfig {
	return GeometricConfig{
		SpanningThreshold: 0.7,
		ColumnOverlap:     0.5,
	}
}

// GeometricModel is an in-process reading-order model for left-to-right
// layouts. Full-width boxes split the page into horizontal bands; inside a
// band boxes are grouped into columns which are read left to right, each
// top to bottom.
//
// It emits logits peaked at the chosen rank so it can stand in for a learned
// model behind the same Decoder.
type GeometricModel struct {
	config GeometricConfig
}

// NewGeometricModel creates a geometric model with cfg.
func NewGeometricModel(cfg GeometricConfig) *GeometricModel {
	if cfg.SpanningThreshold <= 0 {
		cfg.SpanningThreshold = DefaultGeometricConfig().SpanningThreshold
	}
	if cfg.ColumnOverlap <= 0 {
		cfg.ColumnOverlap = DefaultGeometricConfig().ColumnOverlap
	}
	return &GeometricModel{config: cfg}
}

// HealthCheck always succeeds.
func (m *GeometricModel) HealthCheck(ctx context.Context) error { return nil }

// Logits implements Model.
func (m *GeometricModel) Logits(ctx context.Context, boxes []NormalizedBox) ([][]float64, error) {
	ranks := m.order(boxes)
	n := len(boxes)
	logits := make([][]float64, n)
	for i := range logits {
		row := make([]float64, n)
		for j := range row {
			d := j - ranks[i]
			if d < 0 {
				d = -d
			}
			row[j] = -float64(d)
		}
		logits[i] = row
	}
	return logits, nil
}

type column struct {
	x0, x1 int
	boxes  []int
}

// order returns the rank of every box.
func (m *GeometricModel) order(boxes []NormalizedBox) []int {
	n := len(boxes)
	if n == 0 {
		return nil
	}

	left, right := boxes[0][0], boxes[0][2]
	for _, b := range boxes {
		if b[0] < left {
			left = b[0]
		}
		if b[2] > right {
			right = b[2]
		}
	}
	pageWidth := float64(right - left)

	var spanning, flowing []int
	for i, b := range boxes {
		if pageWidth > 0 && float64(b.Width())/pageWidth >= m.config.SpanningThreshold {
			spanning = append(spanning, i)
		} else {
			flowing = append(flowing, i)
		}
	}
	sort.SliceStable(spanning, func(a, b int) bool {
		return boxes[spanning[a]][1] < boxes[spanning[b]][1]
	})

	// bands[k] holds flowing boxes below k spanning boxes.
	bands := make([][]int, len(spanning)+1)
	for _, i := range flowing {
		k := 0
		for _, s := range spanning {
			if boxes[s][1] <= boxes[i][1] {
				k++
			}
		}
		bands[k] = append(bands[k], i)
	}

	sequence := make([]int, 0, n)
	for k, band := range bands {
		sequence = append(sequence, m.readBand(boxes, band)...)
		if k < len(spanning) {
			sequence = append(sequence, spanning[k])
		}
	}

	ranks := make([]int, n)
	for r, i := range sequence {
		ranks[i] = r
	}
	return ranks
}

func (m *GeometricModel) readBand(boxes []NormalizedBox, band []int) []int {
	sorted := make([]int, len(band))
	copy(sorted, band)
	sort.SliceStable(sorted, func(a, b int) bool {
		ba, bb := boxes[sorted[a]], boxes[sorted[b]]
		if ba[0] != bb[0] {
			return ba[0] < bb[0]
		}
		return ba[1] < bb[1]
	})

	var cols []*column
	for _, i := range sorted {
		b := boxes[i]
		var target *column
		for _, c := range cols {
			if m.sameColumn(c, b) {
				target = c
				break
			}
		}
		if target == nil {
			target = &column{x0: b[0], x1: b[2]}
			cols = append(cols, target)
		}
		target.boxes = append(target.boxes, i)
		if b[0] < target.x0 {
			target.x0 = b[0]
		}
		if b[2] > target.x1 {
			target.x1 = b[2]
		}
	}

	sort.SliceStable(cols, func(a, b int) bool { return cols[a].x0 < cols[b].x0 })

	out := make([]int, 0, len(band))
	for _, c := range cols {
		sort.SliceStable(c.boxes, func(a, b int) bool {
			ba, bb := boxes[c.boxes[a]], boxes[c.boxes[b]]
			if ba[1] != bb[1] {
				return ba[1] < bb[1]
			}
			return ba[0] < bb[0]
		})
		out = append(out, c.boxes...)
	}
	return out
}

func (m *GeometricModel) sameColumn(c *column, b NormalizedBox) bool {
	lo, hi := c.x0, c.x1
	if b[0] > lo {
		lo = b[0]
	}
	if b[2] < hi {
		hi = b[2]
	}
	overlap := hi - lo
	if overlap <= 0 {
		return false
	}
	narrow := b.Width()
	if cw := c.x1 - c.x0; cw < narrow {
		narrow = cw
	}
	if narrow <= 0 {
		return true
	}
	return float64(overlap)/float64(narrow) >= m.config.ColumnOverlap
}
