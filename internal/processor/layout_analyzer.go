/**
 * Layout Analyzer for pdf2md
 *
 * Detects the regions of one rasterized page and puts them in reading
 * order. Detection failure skips the page; reading-order failure falls
 * back to detector order.
 */

package processor

import (
	"context"
	"image"

	"github.com/adverant/nexus/pdf2md/internal/errors"
	"github.com/adverant/nexus/pdf2md/internal/layout"
	"github.com/adverant/nexus/pdf2md/internal/logging"
	"github.com/adverant/nexus/pdf2md/internal/order"
)

// LayoutAnalyzer performs per-page layout analysis
type LayoutAnalyzer struct {
	holder *ModelHolder
	logger *logging.Logger
}

// LayoutResult is the ordered layout of one page.
type LayoutResult struct {
	Page int
	// Regions are sorted by OrderRank.
	Regions []layout.Region
	// FallbackOrder is set when the decoder failed and detector order is
	// used instead.
	FallbackOrder bool
}

// NewLayoutAnalyzer creates a new layout analyzer
func NewLayoutAnalyzer(holder *ModelHolder) *LayoutAnalyzer {
	return &LayoutAnalyzer{
		holder: holder,
		logger: logging.NewLogger("LayoutAnalyzer"),
	}
}

// AnalyzePage acquires the models, detects regions and orders them. On
// success the models are left acquired for extraction.
func (la *LayoutAnalyzer) AnalyzePage(ctx context.Context, page int, img image.Image) (*LayoutResult, error) {
	if err := la.holder.Acquire(ctx); err != nil {
		return nil, errors.NewDetectionError(page, err)
	}

	regions, err := la.holder.Detect(ctx, img)
	if err != nil {
		la.holder.Release()
		return nil, errors.NewDetectionError(page, err)
	}

	result := &LayoutResult{Page: page}
	if len(regions) == 0 {
		la.logger.Debug("No regions detected", "page", page)
		return result, nil
	}

	ranked, err := la.holder.Rank(ctx, regions)
	if err != nil {
		if !errors.Is(err, errors.ErrDecode) && !errors.Is(err, errors.ErrOverCapacity) {
			la.holder.Release()
			return nil, err
		}
		la.logger.Warn("Reading order unavailable, using detector order",
			"page", page, "regions", len(regions), "code", errors.CodeOf(err), "error", err)
		result.FallbackOrder = true
	}

	result.Regions = order.Sequence(ranked)
	la.logger.Debug("Page layout analyzed", "page", page, "regions", len(result.Regions))
	return result, nil
}
