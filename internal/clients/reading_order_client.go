package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/adverant/nexus/pdf2md/internal/logging"
	"github.com/adverant/nexus/pdf2md/internal/order"
)

// ReadingOrderClient queries a LayoutReader-style service for box/rank
// logits. The service is expected to strip the CLS row before answering.
type ReadingOrderClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

type readingOrderRequest struct {
	Boxes [][4]int `json:"boxes"`
}

type readingOrderResponse struct {
	Logits [][]float64 `json:"logits"`
	Model  string      `json:"model"`
	Error  string      `json:"error,omitempty"`
}

// NewReadingOrderClient creates a new reading-order model client
func NewReadingOrderClient(baseURL string) *ReadingOrderClient {
	return &ReadingOrderClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logging.NewLogger("ReadingOrderClient"),
	}
}

// Logits implements order.Model.
func (c *ReadingOrderClient) Logits(ctx context.Context, boxes []order.NormalizedBox) ([][]float64, error) {
	payload := readingOrderRequest{Boxes: make([][4]int, len(boxes))}
	for i, b := range boxes {
		payload.Boxes[i] = b
	}

	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/reading-order", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Source", "pdf2md")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request to reading-order model failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("reading-order model returned error status %d: %s", resp.StatusCode, string(body))
	}

	var out readingOrderResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("reading-order model failed: %s", out.Error)
	}

	c.logger.Debug("Reading-order logits received", "boxes", len(boxes), "rows", len(out.Logits), "model", out.Model)
	return out.Logits, nil
}

// HealthCheck verifies the reading-order service is available
func (c *ReadingOrderClient) HealthCheck(ctx context.Context) error {
	return getHealth(ctx, c.httpClient, c.baseURL+"/api/health")
}
