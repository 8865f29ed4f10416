// Package rest serves the read-only HTTP API.
package rest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/robalyx/chatrank/internal/rest/handler"
	"github.com/robalyx/chatrank/internal/rest/middleware/logging"
	restTypes "github.com/robalyx/chatrank/internal/rest/types"
	"github.com/robalyx/chatrank/internal/setup/config"
	"github.com/uptrace/bunrouter"
	"go.uber.org/zap"
)

// shutdownTimeout bounds graceful shutdown of in-flight requests.
const shutdownTimeout = 10 * time.Second

// Server implements the REST API service.
type Server struct {
	rankingHandler *handler.RankingHandler
	userHandler    *handler.UserHandler
	metrics        http.Handler
	logger         *zap.Logger
}

// NewServer creates a new REST API server.
func NewServer(
	rankingHandler *handler.RankingHandler,
	userHandler *handler.UserHandler,
	metrics http.Handler,
	logger *zap.Logger,
) *Server {
	return &Server{
		rankingHandler: rankingHandler,
		userHandler:    userHandler,
		metrics:        metrics,
		logger:         logger.Named("rest"),
	}
}

// Handler builds the routed, gzip-compressed handler.
func (s *Server) Handler() http.Handler {
	loggingMiddleware := logging.New(s.logger)

	router := bunrouter.New()

	router.Use(loggingMiddleware.AsRESTMiddleware).WithGroup("/v1", func(g *bunrouter.Group) {
		g.GET("/ranking", s.rankingHandler.GetRanking)
		g.GET("/users/:id/status", s.userHandler.GetStatus)
	})

	router.GET("/healthz", func(w http.ResponseWriter, _ bunrouter.Request) error {
		return bunrouter.JSON(w, restTypes.HealthResponse{Status: "ok"})
	})

	router.GET("/metrics", bunrouter.HTTPHandler(s.metrics))

	return gzhttp.GzipHandler(router)
}

// ListenAndServe serves the API on the configured address until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, cfg *config.API) error {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	return s.Serve(ctx, ln)
}

// Serve serves the API on ln until ctx is cancelled.
// Requests in flight at cancellation are given shutdownTimeout to complete.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("Starting REST API server", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("REST API server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down REST API server: %w", err)
	}

	s.logger.Info("REST API server stopped")

	return nil
}
