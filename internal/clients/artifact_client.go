/**
 * Artifact Client
 *
 * Uploads converted Markdown (and optionally its HTML rendering) to an
 * artifact store so a reviewer can open the result and locate any
 * region error markers.
 *
 * Upload flow:
 * 1. Processor assembles the document
 * 2. Client posts a multipart form to /api/files/upload
 * 3. Store returns an artifact ID and download URL
 * 4. Processor records the URL on the job
 */

package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/adverant/nexus/pdf2md/internal/logging"
)

// ArtifactClient handles communication with the artifact store
type ArtifactClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// ArtifactUploadRequest represents a file upload request
type ArtifactUploadRequest struct {
	FileBuffer    []byte                 // File content
	Filename      string                 // e.g. paper.md
	MimeType      string                 // e.g. text/markdown
	SourceService string                 // Service creating the artifact
	SourceID      string                 // Job ID
	TTLDays       int                    // 0 keeps the artifact indefinitely
	Metadata      map[string]interface{} // pages, failedRegions, ...
}

// Artifact describes a stored file
type Artifact struct {
	ID             string `json:"id"`
	Filename       string `json:"filename"`
	FileSize       int64  `json:"file_size"`
	MimeType       string `json:"mime_type"`
	StorageBackend string `json:"storage_backend"`
	DownloadURL    string `json:"download_url"`
	CreatedAt      string `json:"created_at"`
	ExpiresAt      string `json:"expires_at,omitempty"`
}

// ArtifactUploadResponse represents the response from uploading an artifact
type ArtifactUploadResponse struct {
	Success  bool     `json:"success"`
	Artifact Artifact `json:"artifact,omitempty"`
	Error    string   `json:"error,omitempty"`
	Message  string   `json:"message,omitempty"`
}

// NewArtifactClient creates a new artifact client
func NewArtifactClient(baseURL string) *ArtifactClient {
	return &ArtifactClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logging.NewLogger("ArtifactClient"),
	}
}

// HealthCheck verifies the artifact store is available
func (c *ArtifactClient) HealthCheck(ctx context.Context) error {
	return getHealth(ctx, c.httpClient, c.baseURL+"/health")
}

// UploadMarkdown stores a converted document for a job
func (c *ArtifactClient) UploadMarkdown(ctx context.Context, jobID, filename, markdown string, metadata map[string]interface{}) (*Artifact, error) {
	resp, err := c.UploadArtifact(ctx, &ArtifactUploadRequest{
		FileBuffer:    []byte(markdown),
		Filename:      filename,
		MimeType:      "text/markdown; charset=utf-8",
		SourceService: "pdf2md",
		SourceID:      jobID,
		Metadata:      metadata,
	})
	if err != nil {
		return nil, err
	}
	return &resp.Artifact, nil
}

// UploadArtifact uploads a file to the artifact store
func (c *ArtifactClient) UploadArtifact(ctx context.Context, req *ArtifactUploadRequest) (*ArtifactUploadResponse, error) {
	if len(req.FileBuffer) == 0 {
		return nil, fmt.Errorf("file buffer is required: received empty buffer")
	}

	if req.Filename == "" {
		return nil, fmt.Errorf("filename is required: received empty string")
	}

	if req.SourceID == "" {
		return nil, fmt.Errorf("source_id is required: identifies the job creating this artifact")
	}

	c.logger.Info("Uploading artifact",
		"filename", req.Filename,
		"size", len(req.FileBuffer),
		"mimeType", req.MimeType,
		"sourceId", req.SourceID)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", req.Filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file part: %w", err)
	}
	if _, err := part.Write(req.FileBuffer); err != nil {
		return nil, fmt.Errorf("failed to write file data to form: %w", err)
	}

	fields := map[string]string{
		"source_service": req.SourceService,
		"source_id":      req.SourceID,
		"mime_type":      req.MimeType,
	}
	if req.TTLDays > 0 {
		fields["ttl_days"] = fmt.Sprintf("%d", req.TTLDays)
	}
	if len(req.Metadata) > 0 {
		metadataJSON, err := json.Marshal(req.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal metadata to JSON: %w", err)
		}
		fields["metadata"] = string(metadataJSON)
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := writer.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("failed to write %s field: %w", k, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/files/upload", &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	startTime := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request to artifact storage failed after %v: %w", time.Since(startTime), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("artifact upload failed with HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var result ArtifactUploadResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse artifact upload response: %w (raw response: %s)", err, string(respBody))
	}

	if !result.Success {
		return nil, fmt.Errorf("artifact upload returned success=false: %s", result.Error)
	}

	if result.Artifact.ID == "" {
		return nil, fmt.Errorf("artifact upload succeeded but returned empty artifact ID")
	}

	c.logger.Info("Artifact uploaded",
		"id", result.Artifact.ID,
		"storage", result.Artifact.StorageBackend,
		"url", result.Artifact.DownloadURL,
		"duration", time.Since(startTime))

	return &result, nil
}
