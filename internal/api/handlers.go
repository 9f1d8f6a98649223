package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/adverant/nexus/pdf2md/internal/errors"
	"github.com/adverant/nexus/pdf2md/internal/processor"
	"github.com/adverant/nexus/pdf2md/internal/queue"
	"github.com/adverant/nexus/pdf2md/internal/storage"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 100
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: string(errors.CodeOf(err))})
}

// statusFor maps a pipeline error onto an HTTP status.
func statusFor(err error) int {
	switch errors.CodeOf(err) {
	case errors.ErrorUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case errors.ErrorRasterizeFailed:
		return http.StatusUnprocessableEntity
	case errors.ErrorProcessingTimeout:
		return http.StatusGatewayTimeout
	case errors.ErrorConfigInvalid:
		return http.StatusBadRequest
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":  "healthy",
		"queue":   s.config.Queue != nil,
		"search":  s.config.Search != nil && s.config.Embedder != nil,
		"version": "1",
	}
	if s.config.Jobs != nil {
		stats, err := s.config.Jobs.GetStats(r.Context())
		if err != nil {
			resp["status"] = "degraded"
			resp["storage"] = map[string]string{"error": err.Error()}
		} else {
			resp["storage"] = stats
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// uploadedFile reads the multipart "file" field.
func (s *Server) uploadedFile(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, "", fmt.Errorf("invalid multipart body: %w", err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, "", fmt.Errorf("missing \"file\" field: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read upload: %w", err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("uploaded file is empty")
	}
	return data, header.Filename, nil
}

type convertOptions struct {
	pages  int
	source string
	target string
	html   bool
}

func parseConvertOptions(r *http.Request) (convertOptions, error) {
	q := r.URL.Query()
	opts := convertOptions{
		source: q.Get("source_language"),
		target: q.Get("target_language"),
	}
	if v := q.Get("pages"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, fmt.Errorf("pages must be a non-negative integer, got %q", v)
		}
		opts.pages = n
	}
	switch strings.ToLower(q.Get("format")) {
	case "", "md", "markdown":
	case "html":
		opts.html = true
	default:
		return opts, fmt.Errorf("format must be markdown or html, got %q", q.Get("format"))
	}
	return opts, nil
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	opts, err := parseConvertOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	data, filename, err := s.uploadedFile(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	conv := s.config.Converter
	jobID := uuid.New().String()
	log := s.logger.With("jobId", jobID, "requestId", r.Header.Get("X-Request-Id"))

	ctx, cancel := context.WithTimeout(r.Context(), s.config.ProcessingTimeout)
	defer cancel()

	if err := conv.UpdateJobStatus(ctx, jobID, storage.StatusProcessing, 0, map[string]interface{}{
		"filename": filename,
	}); err != nil {
		log.Warn("Failed to record job", "error", err)
	}

	start := time.Now()
	res, err := conv.ProcessDocument(ctx, &processor.ProcessRequest{
		JobID:          jobID,
		Filename:       filename,
		FileBuffer:     data,
		MaxPages:       opts.pages,
		SourceLanguage: opts.source,
		TargetLanguage: opts.target,
	})
	if err != nil {
		log.Error("Conversion failed", "error", err)
		if updateErr := conv.UpdateJobStatus(context.Background(), jobID, storage.StatusFailed, 100, map[string]interface{}{
			"error":     err.Error(),
			"errorCode": string(errors.CodeOf(err)),
		}); updateErr != nil {
			log.Warn("Failed to record failure", "error", updateErr)
		}
		writeError(w, statusFor(err), err)
		return
	}
	if err := conv.UpdateJobStatus(ctx, jobID, storage.StatusCompleted, 100, queue.CompletedMetadata(res, time.Since(start))); err != nil {
		log.Warn("Failed to record completion", "error", err)
	}

	w.Header().Set("X-Job-Id", jobID)
	w.Header().Set("X-Page-Count", strconv.Itoa(res.PageCount))
	w.Header().Set("X-Failed-Regions", strconv.Itoa(res.FailedRegions))

	if opts.html {
		html, err := processor.RenderHTML(res.Markdown)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, html)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	io.WriteString(w, res.Markdown)
}

type translateRequest struct {
	Text           string `json:"text"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var req translateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.TargetLanguage == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("target_language is required"))
		return
	}
	if req.SourceLanguage == "" {
		req.SourceLanguage = "English"
	}

	out, err := s.config.Converter.Translate(r.Context(), req.SourceLanguage, req.TargetLanguage, req.Text)
	if err != nil {
		s.logger.Error("Translation failed", "error", err)
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": out})
}

type submitJobRequest struct {
	FileURL        string                 `json:"fileUrl"`
	Filename       string                 `json:"filename"`
	MaxPages       int                    `json:"maxPages"`
	SourceLanguage string                 `json:"sourceLanguage"`
	TargetLanguage string                 `json:"targetLanguage"`
	Metadata       map[string]interface{} `json:"metadata"`
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	if s.config.Queue == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("job queue is not configured"))
		return
	}

	job := &queue.JobData{JobID: uuid.New().String()}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		opts, err := parseConvertOptions(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		data, filename, err := s.uploadedFile(w, r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		job.FileBuffer, job.Filename = data, filename
		job.MaxPages, job.SourceLanguage, job.TargetLanguage = opts.pages, opts.source, opts.target
	} else {
		var req submitJobRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
			return
		}
		if req.FileURL == "" {
			writeError(w, http.StatusBadRequest, fmt.Errorf("fileUrl is required"))
			return
		}
		if req.MaxPages < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("maxPages must be non-negative"))
			return
		}
		job.FileURL, job.Filename, job.MaxPages = req.FileURL, req.Filename, req.MaxPages
		job.SourceLanguage, job.TargetLanguage, job.Metadata = req.SourceLanguage, req.TargetLanguage, req.Metadata
	}

	if err := s.config.Queue.Enqueue(r.Context(), job); err != nil {
		s.logger.Error("Failed to enqueue job", "jobId", job.JobID, "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": job.JobID, "status": storage.StatusQueued})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if s.config.Jobs == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("job store is not configured"))
		return
	}
	job, err := s.config.Jobs.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, storage.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleGetFragments(w http.ResponseWriter, r *http.Request) {
	if s.config.Jobs == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("job store is not configured"))
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := s.config.Jobs.GetJob(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	frags, err := s.config.Jobs.GetFragments(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if frags == nil {
		frags = []storage.FragmentRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobId": id, "fragments": frags})
}

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
	JobID string `json:"jobId"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.config.Search == nil || s.config.Embedder == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("fragment search is not configured"))
		return
	}
	var req searchRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("query is required"))
		return
	}
	if req.Limit <= 0 {
		req.Limit = defaultSearchLimit
	}
	if req.Limit > maxSearchLimit {
		req.Limit = maxSearchLimit
	}

	vecs, err := s.config.Embedder.EmbedBatch(r.Context(), []string{req.Query})
	if err != nil || len(vecs) != 1 {
		if err == nil {
			err = fmt.Errorf("embedder returned %d vectors", len(vecs))
		}
		writeError(w, http.StatusBadGateway, err)
		return
	}
	points, err := s.config.Search.SearchFragments(r.Context(), vecs[0], req.Limit, req.JobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if points == nil {
		points = []*storage.FragmentPoint{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": points})
}
