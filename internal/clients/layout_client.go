/**
 * Layout Client - region detection over HTTP
 *
 * Sends a rasterized page to a layout detection service and maps the
 * returned labels onto the configured taxonomy. Boxes come back in
 * detector order; reading order is decided locally.
 */

package clients

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"time"

	"github.com/adverant/nexus/pdf2md/internal/layout"
	"github.com/adverant/nexus/pdf2md/internal/logging"
)

// LayoutClient handles communication with the layout detection service
type LayoutClient struct {
	baseURL    string
	taxonomy   layout.Taxonomy
	httpClient *http.Client
	logger     *logging.Logger
}

// LayoutDetectRequest represents a request to detect page regions
type LayoutDetectRequest struct {
	Image    string `json:"image"`    // Base64 encoded PNG
	Format   string `json:"format"`   // always "base64"
	Taxonomy string `json:"taxonomy"` // "ten" or "five"
	JobID    string `json:"jobId,omitempty"`
}

// LayoutDetectResponse represents the response from the detection endpoint
type LayoutDetectResponse struct {
	Success bool             `json:"success"`
	Regions []DetectedRegion `json:"regions"`
	Message string           `json:"message"`
	// ModelUsed and ProcessingTime are informational
	ModelUsed      string `json:"modelUsed"`
	ProcessingTime int64  `json:"processingTime"` // milliseconds
}

// DetectedRegion is one region as emitted by the detector
type DetectedRegion struct {
	Type  string  `json:"type"`
	BBox  [4]int  `json:"bbox"` // xmin, ymin, xmax, ymax in page pixels
	Score float64 `json:"score"`
}

// NewLayoutClient creates a new layout detection client
func NewLayoutClient(baseURL string, taxonomy layout.Taxonomy) *LayoutClient {
	return &LayoutClient{
		baseURL:  baseURL,
		taxonomy: taxonomy,
		httpClient: &http.Client{
			Timeout: 120 * time.Second, // Detection on large pages can take time
		},
		logger: logging.NewLogger("LayoutClient"),
	}
}

// Detect implements layout.Detector.
func (c *LayoutClient) Detect(ctx context.Context, img image.Image) ([]layout.Region, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode page image: %w", err)
	}

	resp, err := c.DetectFromBytes(ctx, buf.Bytes())
	if err != nil {
		return nil, err
	}

	regions := make([]layout.Region, 0, len(resp.Regions))
	for _, r := range resp.Regions {
		box := layout.Box{XMin: r.BBox[0], YMin: r.BBox[1], XMax: r.BBox[2], YMax: r.BBox[3]}
		if !box.Valid() {
			c.logger.Warn("Skipping degenerate region", "type", r.Type, "box", box.String())
			continue
		}
		regions = append(regions, layout.Region{
			Type:  c.taxonomy.Normalize(r.Type),
			Box:   box,
			Score: r.Score,
		})
	}
	return regions, nil
}

// DetectFromBytes posts an encoded page image and returns the raw response
func (c *LayoutClient) DetectFromBytes(ctx context.Context, imageData []byte) (*LayoutDetectResponse, error) {
	req := &LayoutDetectRequest{
		Image:    base64.StdEncoding.EncodeToString(imageData),
		Format:   "base64",
		Taxonomy: c.taxonomy.String(),
	}

	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/layout/detect", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Source", "pdf2md")
	httpReq.Header.Set("X-Request-ID", fmt.Sprintf("layout-%d", time.Now().UnixNano()))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request to layout detector failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("layout detector returned error status %d: %s", resp.StatusCode, string(body))
	}

	var detectResp LayoutDetectResponse
	if err := json.Unmarshal(body, &detectResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if !detectResp.Success {
		return nil, fmt.Errorf("layout detection failed: %s", detectResp.Message)
	}

	c.logger.Debug("Layout detection complete",
		"modelUsed", detectResp.ModelUsed,
		"regions", len(detectResp.Regions),
		"processingTime", detectResp.ProcessingTime)

	return &detectResp, nil
}

// HealthCheck verifies the layout detector is available
func (c *LayoutClient) HealthCheck(ctx context.Context) error {
	return getHealth(ctx, c.httpClient, c.baseURL+"/api/health")
}

func getHealth(ctx context.Context, client *http.Client, endpoint string) error {
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("health check failed with status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}
