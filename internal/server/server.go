// Package server implements the deskchat backend: REST endpoints, the
// realtime WebSocket hub and the assistant completion endpoint.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/avdwerff/deskchat/internal/llm"
)

// Turn aliases the completion history turn so callers can implement
// Responder without importing the llm package.
type Turn = llm.Turn

// Responder answers one assistant question. *llm.Model satisfies it.
type Responder interface {
	Respond(ctx context.Context, message string, history []Turn) (string, error)
}

// Server wires the store, hub and responder behind one HTTP listener.
type Server struct {
	logger    *slog.Logger
	store     Store
	hub       *Hub
	responder Responder

	httpServer *http.Server
}

// New creates a server on the given listen address.
func New(addr string, store Store, responder Responder, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		logger:    logger,
		store:     store,
		hub:       NewHub(logger),
		responder: responder,
	}

	r := mux.NewRouter()
	r.Use(loggingMiddleware(logger))
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/chat/ws", s.handleWS)
	r.HandleFunc("/chat/thread", s.handleOwnThread).Methods(http.MethodGet)
	r.HandleFunc("/chat/thread/{userId}", s.handleThreadByUser).Methods(http.MethodGet)
	r.HandleFunc("/chat/threads", s.handleThreads).Methods(http.MethodGet)
	r.HandleFunc("/ai/chat", s.handleAIChat).Methods(http.MethodPost)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the routed handler for httptest servers.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.httpServer.Addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(shutdownCtx)
}
