// Package api exposes the review studio over HTTP: document upload, session
// lifecycle and turns, exports, token usage and live updates.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/danilop/ai-doc-read-studio/internal/docstore"
	"github.com/danilop/ai-doc-read-studio/internal/live"
	"github.com/danilop/ai-doc-read-studio/internal/logging"
	"github.com/danilop/ai-doc-read-studio/internal/metrics"
	"github.com/danilop/ai-doc-read-studio/internal/orchestrator"
	"github.com/danilop/ai-doc-read-studio/internal/persona"
	"github.com/danilop/ai-doc-read-studio/internal/usage"
)

// DocumentStore is the document store as seen by the HTTP layer.
type DocumentStore interface {
	Put(filename, text string, size int64) (docstore.Document, error)
	Get(id string) (docstore.Document, error)
	List() ([]docstore.Document, error)
	Delete(id string) error
}

// UsageReporter answers token usage queries.
type UsageReporter interface {
	SessionSummary(ctx context.Context, sessionID string) (usage.SessionSummary, error)
	TotalSummary(ctx context.Context) (usage.TotalSummary, error)
}

// Server holds the handlers' dependencies.
type Server struct {
	orch          *orchestrator.Orchestrator
	docs          DocumentStore
	usage         UsageReporter
	hub           *live.Hub
	metrics       *metrics.Metrics
	templates     *persona.Catalog
	limits        docstore.Limits
	origins       map[string]bool
	version       string
	moderatorName string
	rateLimits    *RateLimits
	log           *zap.Logger
	now           func() time.Time
	started       time.Time
	upgrader      websocket.Upgrader
}

// Opts configures New.
type Opts struct {
	Orchestrator   *orchestrator.Orchestrator
	Documents      DocumentStore
	Usage          UsageReporter
	Hub            *live.Hub
	Metrics        *metrics.Metrics
	Templates      *persona.Catalog // nil disables the template routes
	Limits         docstore.Limits
	AllowedOrigins []string
	Version        string
	ModeratorName  string
	RateLimits     *RateLimits // nil disables rate limiting
	Logger         *zap.Logger
	Clock          func() time.Time
}

// New creates a Server.
func New(opts Opts) (*Server, error) {
	if opts.Orchestrator == nil {
		return nil, fmt.Errorf("api: orchestrator is required")
	}
	if opts.Documents == nil {
		return nil, fmt.Errorf("api: documents is required")
	}
	if opts.Usage == nil {
		return nil, fmt.Errorf("api: usage is required")
	}
	if opts.Hub == nil {
		return nil, fmt.Errorf("api: hub is required")
	}
	s := &Server{
		orch:          opts.Orchestrator,
		docs:          opts.Documents,
		usage:         opts.Usage,
		hub:           opts.Hub,
		metrics:       opts.Metrics,
		templates:     opts.Templates,
		limits:        opts.Limits,
		origins:       make(map[string]bool, len(opts.AllowedOrigins)),
		version:       opts.Version,
		moderatorName: opts.ModeratorName,
		rateLimits:    opts.RateLimits,
		log:           opts.Logger,
		now:           opts.Clock,
	}
	for _, o := range opts.AllowedOrigins {
		s.origins[o] = true
	}
	if s.log == nil {
		s.log = logging.Log
	}
	s.log = s.log.Named("api")
	if s.now == nil {
		s.now = time.Now
	}
	if s.version == "" {
		s.version = "1.0.0"
	}
	s.started = s.now()
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s, nil
}

// Handler builds the gin engine with every route registered.
func (s *Server) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger(), noCache(s.now), s.cors())
	s.registerRoutes(router)
	return router
}

// Start serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}

func (s *Server) startedStamp() string {
	return strconv.FormatInt(s.started.Unix(), 10)
}
