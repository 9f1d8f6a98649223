package order

import (
	"sort"

	"github.com/adverant/nexus/pdf2md/internal/layout"
)

// Sequence returns a copy of regions sorted ascending by OrderRank.
func Sequence(regions []layout.Region) []layout.Region {
	out := make([]layout.Region, len(regions))
	copy(out, regions)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OrderRank < out[j].OrderRank
	})
	return out
}
