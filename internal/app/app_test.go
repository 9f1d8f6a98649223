package app

import (
	"testing"

	"github.com/adverant/nexus/pdf2md/internal/clients"
	"github.com/adverant/nexus/pdf2md/internal/config"
	"github.com/adverant/nexus/pdf2md/internal/order"
	"github.com/adverant/nexus/pdf2md/internal/processor"
)

func TestNewRasterizer(t *testing.T) {
	tests := []struct {
		name string
		kind string
		want func(processor.Rasterizer) bool
	}{
		{"fitz", config.RasterizerFitz, func(r processor.Rasterizer) bool {
			_, ok := r.(*processor.FitzRasterizer)
			return ok
		}},
		{"ghostscript", config.RasterizerGhostscript, func(r processor.Rasterizer) bool {
			_, ok := r.(*processor.GhostscriptRasterizer)
			return ok
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRasterizer(&config.Config{Rasterizer: tt.kind, GhostscriptBin: "gs"})
			if !tt.want(r) {
				t.Errorf("got %T", r)
			}
		})
	}
}

func TestNewReadingOrderModel(t *testing.T) {
	if _, ok := NewReadingOrderModel(&config.Config{ReadingOrder: config.ReadingOrderGeometric}).(*order.GeometricModel); !ok {
		t.Error("geometric config did not build the geometric model")
	}
	m := NewReadingOrderModel(&config.Config{ReadingOrder: config.ReadingOrderHTTP, ReadingOrderURL: "http://localhost:9"})
	if _, ok := m.(*clients.ReadingOrderClient); !ok {
		t.Errorf("http config built %T", m)
	}
}
