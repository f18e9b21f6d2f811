package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"trigger-vault-go/internal/executor"
)

// Server exposes the inbound trigger endpoint and a health probe.
type Server struct {
	server   *http.Server
	executor *executor.Executor
	logger   *zap.Logger
}

// NewServer creates the HTTP server for the trigger endpoint.
func NewServer(port int, exec *executor.Executor, logger *zap.Logger) *Server {
	s := &Server{
		executor: exec,
		logger:   logger.Named("server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/sltp-webhook", s.triggerHandler)
	mux.HandleFunc("/health", s.healthHandler)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start runs the HTTP server in a new goroutine.
func (s *Server) Start() {
	s.logger.Info("Starting HTTP server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("HTTP server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server...")
	return s.server.Shutdown(ctx)
}

// triggerHandler accepts one trigger and replies with the structured
// per-tenant breakdown. Business-level failure, including every tenant
// failing, is still a 200; non-2xx is reserved for malformed requests,
// authentication and internal faults.
func (s *Server) triggerHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var trigger executor.TriggerEvent
	if err := json.NewDecoder(r.Body).Decode(&trigger); err != nil {
		s.logger.Warn("Malformed trigger payload", zap.Error(err))
		http.Error(w, "malformed JSON body", http.StatusBadRequest)
		return
	}

	resp, err := s.executor.Execute(r.Context(), &trigger)
	if err != nil {
		if errors.Is(err, executor.ErrUnauthorized) {
			s.logger.Warn("Trigger rejected: secret mismatch",
				zap.String("symbol", trigger.Symbol),
				zap.String("remote", r.RemoteAddr))
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		s.logger.Error("Trigger execution failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("Failed to write trigger response", zap.Error(err))
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}
