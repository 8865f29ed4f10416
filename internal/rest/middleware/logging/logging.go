// Package logging records every REST request.
package logging

import (
	"net/http"
	"time"

	"github.com/uptrace/bunrouter"
	"go.uber.org/zap"
)

// Middleware logs the route, status and duration of each request.
type Middleware struct {
	logger *zap.Logger
}

// New creates a new logging middleware.
func New(logger *zap.Logger) *Middleware {
	return &Middleware{
		logger: logger,
	}
}

// AsRESTMiddleware returns a bunrouter middleware handler.
func (m *Middleware) AsRESTMiddleware(next bunrouter.HandlerFunc) bunrouter.HandlerFunc {
	return func(w http.ResponseWriter, req bunrouter.Request) error {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		err := next(recorder, req)

		m.logger.Debug("Handled request",
			zap.String("method", req.Method),
			zap.String("route", req.Route()),
			zap.Int("status", recorder.status),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))

		return err
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
