/**
 * HTTP API for the pdf2md worker
 *
 * POST /convert            multipart PDF in, Markdown (or HTML) out
 * POST /translate          translate free text with the cleanup model
 * POST /jobs               enqueue a conversion
 * GET  /jobs/{id}          job status and Markdown
 * GET  /jobs/{id}/fragments stored transcript
 * POST /search             vector search over indexed fragments
 * GET  /health
 */

package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/adverant/nexus/pdf2md/internal/logging"
	"github.com/adverant/nexus/pdf2md/internal/processor"
	"github.com/adverant/nexus/pdf2md/internal/queue"
	"github.com/adverant/nexus/pdf2md/internal/storage"
)

// Converter runs conversions and translations synchronously.
type Converter interface {
	processor.DocumentProcessorInterface
	Translate(ctx context.Context, from, to, text string) (string, error)
}

// Enqueuer submits jobs to the worker queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *queue.JobData) error
}

// JobReader reads persisted jobs.
type JobReader interface {
	GetJob(ctx context.Context, jobID string) (*storage.Job, error)
	GetFragments(ctx context.Context, jobID string) ([]storage.FragmentRecord, error)
	GetStats(ctx context.Context) (map[string]interface{}, error)
}

// FragmentSearcher runs vector search over indexed fragments.
type FragmentSearcher interface {
	SearchFragments(ctx context.Context, queryVector []float32, limit int, jobID string) ([]*storage.FragmentPoint, error)
}

// Config holds server dependencies. Only Converter is required; routes
// whose collaborator is nil answer 503.
type Config struct {
	Converter Converter
	Queue     Enqueuer
	Jobs      JobReader
	Search    FragmentSearcher
	Embedder  processor.Embedder

	MaxUploadSize     int64
	ProcessingTimeout time.Duration
}

// Server is the HTTP front end.
type Server struct {
	config *Config
	router chi.Router
	http   *http.Server
	logger *logging.Logger
}

// NewServer creates the router and registers every route.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil || cfg.Converter == nil {
		return nil, fmt.Errorf("converter is required")
	}
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = 512 << 20
	}
	if cfg.ProcessingTimeout <= 0 {
		cfg.ProcessingTimeout = queue.DefaultProcessingTimeout
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		config: cfg,
		router: r,
		logger: logging.NewLogger("API"),
	}
	s.RegisterHTTP(r)
	return s, nil
}

// RegisterHTTP registers the API routes on r.
func (s *Server) RegisterHTTP(r chi.Router) {
	r.Get("/health", s.handleHealth)
	r.Post("/convert", s.handleConvert)
	r.Post("/translate", s.handleTranslate)
	r.Post("/jobs", s.handleSubmitJob)
	r.Get("/jobs/{id}", s.handleGetJob)
	r.Get("/jobs/{id}/fragments", s.handleGetFragments)
	r.Post("/search", s.handleSearch)
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr until Shutdown. It blocks.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("HTTP API listening", "addr", addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown stops the listener, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	s.logger.Info("Stopping HTTP API")
	return s.http.Shutdown(ctx)
}
