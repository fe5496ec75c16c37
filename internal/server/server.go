// Package server provides the HTTP API for Kotae.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/models"
	"go.uber.org/zap"
)

// Ingester turns uploaded documents into stored fragments.
type Ingester interface {
	Ingest(ctx context.Context, docs []models.Document, owner string) *models.BatchReport
}

// Answerer answers a question from stored fragments.
type Answerer interface {
	Answer(ctx context.Context, question, owner string) (*models.AnsweredQuery, error)
}

// StatusReporter exposes fragment store statistics for the status endpoint.
type StatusReporter interface {
	Count(ctx context.Context) (int64, error)
	SourceCount(ctx context.Context) (int64, error)
	DiskUsageBytes() (int64, error)
}

// WatchService manages the inbox directories watched for new documents.
type WatchService interface {
	Directories() []string
	AddDirectory(path string, syncExisting bool) error
	RemoveDirectory(path string) error
}

// Server is the HTTP server for the Kotae API.
type Server struct {
	ingester Ingester
	answerer Answerer
	status   StatusReporter
	cfg      *config.Config
	logger   *zap.Logger
	server   *http.Server

	watch      WatchService
	configPath string
	configMu   sync.Mutex
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithWatch enables the watch directory endpoints. When configPath is set,
// directory changes are persisted to the config file.
func WithWatch(w WatchService, configPath string) Option {
	return func(s *Server) {
		s.watch = w
		s.configPath = configPath
	}
}

// NewServer creates a server with the given dependencies.
func NewServer(ing Ingester, ans Answerer, status StatusReporter, cfg *config.Config, opts ...Option) *Server {
	s := &Server{
		ingester: ing,
		answerer: ans,
		status:   status,
		cfg:      cfg,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the HTTP handler with all routes and middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.Server.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))

	r.Get("/", s.handleRoot)
	r.Get("/ping", s.handlePing)
	r.Get("/health", s.handleHealth)
	r.Get("/api/v1/status", s.handleStatus)

	r.Group(func(r chi.Router) {
		r.Use(identity(s.cfg.Auth, s.logger))
		r.Post("/upload", s.handleUpload)
		r.Post("/query", s.handleQuery)
		r.Get("/api/v1/watch/directories", s.handleWatchDirectoriesList)
		r.Post("/api/v1/watch/directories", s.handleWatchDirectoriesAdd)
		r.Delete("/api/v1/watch/directories", s.handleWatchDirectoriesRemove)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
