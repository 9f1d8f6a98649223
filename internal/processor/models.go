package processor

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/adverant/nexus/pdf2md/internal/errors"
	"github.com/adverant/nexus/pdf2md/internal/layout"
	"github.com/adverant/nexus/pdf2md/internal/logging"
	"github.com/adverant/nexus/pdf2md/internal/order"
)

// ErrModelsReleased is returned by detection and extraction between
// ModelHolder.Release and the next Acquire.
var ErrModelsReleased = errors.New("layout models released: call Acquire before the next page")

type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ModelHolder owns the layout detector and reading-order decoder and
// brackets their use. Acquire must be called before a page is detected and
// ranked; the text pipeline calls Release once a page's regions are
// extracted, so the cleanup model has the machine to itself.
type ModelHolder struct {
	mu       sync.Mutex
	loaded   bool
	detector layout.Detector
	decoder  *order.Decoder
	logger   *logging.Logger
}

// NewModelHolder creates a holder in the released state.
func NewModelHolder(detector layout.Detector, decoder *order.Decoder) *ModelHolder {
	return &ModelHolder{
		detector: detector,
		decoder:  decoder,
		logger:   logging.NewLogger("ModelHolder"),
	}
}

// Acquire loads the models, health-checking remote ones.
func (h *ModelHolder) Acquire(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.loaded {
		return nil
	}

	if hc, ok := h.detector.(healthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("layout detector unavailable: %w", err)
		}
	}
	if hc, ok := h.decoder.Model().(healthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("reading-order model unavailable: %w", err)
		}
	}

	h.loaded = true
	h.logger.Debug("Layout models acquired")
	return nil
}

// Release marks the models unloaded. Calling it twice is harmless.
func (h *ModelHolder) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.loaded {
		h.logger.Debug("Layout models released")
	}
	h.loaded = false
}

// Ready reports whether the models are acquired.
func (h *ModelHolder) Ready() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loaded
}

// Detect runs the layout detector.
func (h *ModelHolder) Detect(ctx context.Context, img image.Image) ([]layout.Region, error) {
	if !h.Ready() {
		return nil, ErrModelsReleased
	}
	return h.detector.Detect(ctx, img)
}

// Rank runs the reading-order decoder. See order.Decoder.RankRegions for
// the fallback contract.
func (h *ModelHolder) Rank(ctx context.Context, regions []layout.Region) ([]layout.Region, error) {
	if !h.Ready() {
		return nil, ErrModelsReleased
	}
	return h.decoder.RankRegions(ctx, regions)
}
