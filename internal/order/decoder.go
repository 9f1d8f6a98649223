package order

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/adverant/nexus/pdf2md/internal/errors"
	"github.com/adverant/nexus/pdf2md/internal/layout"
	"github.com/adverant/nexus/pdf2md/internal/logging"
)

// DefaultMaxLen is the largest page the LayoutReader checkpoint accepts:
// 512 positions minus the CLS and SEP tokens.
const DefaultMaxLen = 510

// Model scores every box against every rank. Row i of the result holds the
// logits of box i over ranks 0..N-1; extra columns are ignored.
type Model interface {
	Logits(ctx context.Context, boxes []NormalizedBox) ([][]float64, error)
}

// Decoder turns Model logits into a permutation.
type Decoder struct {
	model  Model
	maxLen int
	logger *logging.Logger
}

// NewDecoder creates a decoder. maxLen <= 0 selects DefaultMaxLen.
func NewDecoder(model Model, maxLen int) *Decoder {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	return &Decoder{
		model:  model,
		maxLen: maxLen,
		logger: logging.NewLogger("ReadingOrder"),
	}
}

// MaxLen returns the largest page the decoder accepts.
func (d *Decoder) MaxLen() int { return d.maxLen }

// Model returns the underlying reading-order model.
func (d *Decoder) Model() Model { return d.model }

// Decode returns order where order[i] is the rank of box i.
//
// Pages larger than MaxLen are rejected with ErrOverCapacity. Model failures
// and malformed logits are reported as ErrDecode.
func (d *Decoder) Decode(ctx context.Context, boxes []NormalizedBox) ([]int, error) {
	n := len(boxes)
	if n == 0 {
		return nil, errors.NewDecodeError("no boxes to order")
	}
	if n > d.maxLen {
		return nil, errors.NewOverCapacityError(n, d.maxLen)
	}
	if n == 1 {
		return []int{0}, nil
	}

	logits, err := d.model.Logits(ctx, boxes)
	if err != nil {
		e := errors.NewDecodeError("reading order model failed")
		e.Cause = err
		return nil, e
	}

	return DecodeLogits(logits, n)
}

// RankRegions orders a page's regions. The returned slice is a copy of
// regions with OrderRank set, still in detector order.
//
// When the permutation cannot be produced the regions are ranked in detector
// order and the decode error is returned alongside them, so the caller can
// log the fallback and keep processing the page.
func (d *Decoder) RankRegions(ctx context.Context, regions []layout.Region) ([]layout.Region, error) {
	ranked := make([]layout.Region, len(regions))
	copy(ranked, regions)
	if len(ranked) == 0 {
		return ranked, nil
	}

	order, err := d.rank(ctx, ranked)
	if err != nil {
		for i := range ranked {
			ranked[i].OrderRank = i
		}
		return ranked, err
	}

	for i := range ranked {
		ranked[i].OrderRank = order[i]
	}
	d.logger.Debug("Reading order decoded", "regions", len(ranked))
	return ranked, nil
}

func (d *Decoder) rank(ctx context.Context, regions []layout.Region) ([]int, error) {
	boxes, err := Normalize(layout.Boxes(regions))
	if err != nil {
		return nil, errors.NewDecodeError(err.Error())
	}
	return d.Decode(ctx, boxes)
}

// DecodeLogits converts an N×N logit matrix into a permutation.
//
// Every box starts at its highest-scoring rank. While two or more boxes
// claim the same rank, the box with the higher logit for that rank keeps it
// (the lower index on ties) and the others advance to their next best rank.
func DecodeLogits(logits [][]float64, n int) ([]int, error) {
	if len(logits) != n {
		return nil, errors.NewDecodeError(fmt.Sprintf("expected %d logit rows, got %d", n, len(logits)))
	}

	// candidates[i] lists ranks for box i, best first.
	candidates := make([][]int, n)
	for i := 0; i < n; i++ {
		row := logits[i]
		if len(row) < n {
			return nil, errors.NewDecodeError(fmt.Sprintf("row %d has %d logits, need %d", i, len(row), n))
		}
		for j := 0; j < n; j++ {
			if math.IsNaN(row[j]) {
				return nil, errors.NewDecodeError(fmt.Sprintf("row %d column %d is NaN", i, j))
			}
		}
		ranks := make([]int, n)
		for j := range ranks {
			ranks[j] = j
		}
		sort.SliceStable(ranks, func(a, b int) bool {
			return row[ranks[a]] > row[ranks[b]]
		})
		candidates[i] = ranks
	}

	next := make([]int, n)
	order := make([]int, n)
	for i := range order {
		order[i] = candidates[i][0]
		next[i] = 1
	}

	// Each round at least one contested rank is settled for good, so n*n
	// rounds is a generous upper bound.
	for round := 0; round <= n*n; round++ {
		claims := make(map[int][]int)
		for i, r := range order {
			claims[r] = append(claims[r], i)
		}

		contested := make([]int, 0)
		for r, idxs := range claims {
			if len(idxs) > 1 {
				contested = append(contested, r)
			}
		}
		if len(contested) == 0 {
			if err := ValidatePermutation(order); err != nil {
				return nil, err
			}
			return order, nil
		}
		sort.Ints(contested)

		for _, r := range contested {
			idxs := claims[r]
			winner := idxs[0]
			for _, i := range idxs[1:] {
				if logits[i][r] > logits[winner][r] {
					winner = i
				}
			}
			for _, i := range idxs {
				if i == winner {
					continue
				}
				if next[i] >= n {
					return nil, errors.NewDecodeError(fmt.Sprintf("box %d exhausted its rank candidates", i))
				}
				order[i] = candidates[i][next[i]]
				next[i]++
			}
		}
	}

	return nil, errors.NewDecodeError("rank conflicts did not settle")
}

// ValidatePermutation reports whether order is a bijection on [0, len(order)).
func ValidatePermutation(order []int) error {
	seen := make([]bool, len(order))
	for i, r := range order {
		if r < 0 || r >= len(order) {
			return errors.NewDecodeError(fmt.Sprintf("rank %d of box %d out of range", r, i))
		}
		if seen[r] {
			return errors.NewDecodeError(fmt.Sprintf("rank %d assigned twice", r))
		}
		seen[r] = true
	}
	return nil
}
