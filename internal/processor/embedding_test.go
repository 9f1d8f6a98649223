package processor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"unicode/utf8"
)

func voyageServer(t *testing.T, failBatches bool) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.Header.Get("Authorization") != "Bearer key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req voyageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if failBatches && len(req.Input) > 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}

		var resp voyageResponse
		resp.Model = req.Model
		for i := range req.Input {
			vec := make([]float32, voyageDimensions)
			vec[0] = float32(len(req.Input[i]))
			resp.Data = append(resp.Data, struct {
				Embedding []float32 `json:"embedding"`
				Index     int       `json:"index"`
			}{Embedding: vec, Index: i})
		}
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestEmbeddingClient_EmbedBatch(t *testing.T) {
	tests := []struct {
		name      string
		fail      bool
		wantCalls int32
	}{
		{"batch", false, 1},
		{"fallback to single", true, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, calls := voyageServer(t, tt.fail)
			c, err := NewEmbeddingClient("key")
			if err != nil {
				t.Fatal(err)
			}
			c.baseURL = srv.URL

			vecs, err := c.EmbedBatch(context.Background(), []string{"a", "bb", "ccc"})
			if err != nil {
				t.Fatal(err)
			}
			if len(vecs) != 3 {
				t.Fatalf("got %d vectors", len(vecs))
			}
			for i, v := range vecs {
				if v[0] != float32(i+1) {
					t.Errorf("vector %d out of order: %v", i, v[0])
				}
			}
			if got := atomic.LoadInt32(calls); got != tt.wantCalls {
				t.Errorf("calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestNewEmbeddingClient_RequiresKey(t *testing.T) {
	if _, err := NewEmbeddingClient(""); err == nil {
		t.Fatal("expected error without API key")
	}
}

func TestTruncateUTF8(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short", "abc", 5, "abc"},
		{"ascii", "abcdef", 4, "abcd"},
		{"two byte boundary", "aéé", 2, "a"},
		{"three byte rune", "x日本", 5, "x日"},
		{"four byte rune", "🙂🙂", 6, "🙂"},
		{"zero", "日", 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncateUTF8(tt.in, tt.n)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("invalid utf-8: %q", got)
			}
		})
	}
}

func TestEmbeddingClient_TruncatesOnRuneBoundary(t *testing.T) {
	srv, _ := voyageServer(t, false)
	c, err := NewEmbeddingClient("key")
	if err != nil {
		t.Fatal(err)
	}
	c.baseURL = srv.URL

	// "a" then two-byte runes, so byte voyageMaxChars lands mid-rune.
	text := "a" + strings.Repeat("é", voyageMaxChars/2+500)
	vecs, err := c.EmbedBatch(context.Background(), []string{text})
	if err != nil {
		t.Fatal(err)
	}
	if got := vecs[0][0]; got != float32(voyageMaxChars-1) {
		t.Errorf("sent %v bytes, want %d", got, voyageMaxChars-1)
	}
}
