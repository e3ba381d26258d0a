package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"easyagent/internal/domain"
	"easyagent/internal/infra/config"
	"easyagent/internal/infra/middleware"
	"easyagent/internal/usecase"
)

// Server is the HTTP surface of the engine: synchronous chat, an SSE stream,
// pause resumption, and the capability listing.
type Server struct {
	engine   *usecase.Orchestrator
	registry *usecase.Registry
	store    domain.SessionStore // nil disables resume endpoints
	blobs    domain.BlobStore    // nil disables artifact endpoints
	logger   *slog.Logger
	cfg      config.GatewayConfig

	httpSrv   *http.Server
	boundAddr string
}

// NewServer creates a gateway server. store and blobs may be nil when the
// corresponding feature is disabled; their endpoints then report the feature
// as unavailable.
func NewServer(engine *usecase.Orchestrator, registry *usecase.Registry, store domain.SessionStore, blobs domain.BlobStore, cfg config.GatewayConfig, logger *slog.Logger) *Server {
	return &Server{
		engine:   engine,
		registry: registry,
		store:    store,
		blobs:    blobs,
		logger:   logger,
		cfg:      cfg,
	}
}

// routes assembles the mux and the middleware chain. ctx bounds the rate
// limiter's cleanup goroutine.
func (s *Server) routes(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("POST /chat/resume", s.handleResume)
	mux.HandleFunc("POST /chat/stream", s.handleChatStream)
	mux.HandleFunc("GET /agents", s.handleAgents)
	mux.HandleFunc("GET /agents/{name}", s.handleAgent)
	mux.HandleFunc("POST /blobs", s.handleBlobUpload)
	mux.HandleFunc("GET /blobs/{id}", s.handleBlobDownload)
	mux.HandleFunc("DELETE /blobs/{id}", s.handleBlobDelete)
	mux.HandleFunc("GET /health", s.handleHealth)

	var handler http.Handler = mux
	if s.cfg.RateLimit.Enabled {
		handler = middleware.RateLimit(ctx, s.cfg.RateLimit.RPS, s.cfg.RateLimit.Burst)(handler)
	}
	return middleware.SecurityHeaders(handler)
}

// Start begins serving. Blocks until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	handler := s.routes(ctx)

	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	s.boundAddr = listener.Addr().String()

	s.httpSrv = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("gateway started", "addr", s.boundAddr)

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the gateway server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}

// BoundAddr returns the actual address the server bound to. Only valid after
// Start.
func (s *Server) BoundAddr() string { return s.boundAddr }
