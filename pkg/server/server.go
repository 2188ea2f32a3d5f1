package server

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/recibo-network/recibo-go/pkg/recibo"
)

// Server exposes the five public operations, the authorization-state query
// and the audit trail over HTTP. It carries no authentication logic of its
// own; every decision is the façade's.
type Server struct {
	facade     *recibo.Recibo
	logger     *zap.Logger
	limiter    *rate.Limiter
	httpServer *http.Server
}

// NewServer creates a server for the façade on the given port. rps bounds
// the accepted request rate; zero disables limiting.
func NewServer(facade *recibo.Recibo, port int, rps int, logger *zap.Logger) *Server {
	s := &Server{
		facade: facade,
		logger: logger,
	}
	if rps > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	}

	mux := http.NewServeMux()

	// Operations
	mux.HandleFunc("/msg", s.limit(s.handleSendMsg))
	mux.HandleFunc("/transfer", s.limit(s.handleTransferFrom))
	mux.HandleFunc("/permit", s.limit(s.handlePermit))
	mux.HandleFunc("/permit-transfer", s.limit(s.handlePermitAndTransfer))
	mux.HandleFunc("/transfer-authorization", s.limit(s.handleTransferWithAuthorization))

	// Administrative surface
	mux.HandleFunc("/admin/forwarder", s.limit(s.handleSetForwarder))

	// Read-only queries
	mux.HandleFunc("/authorization-state", s.limit(s.handleAuthorizationState))
	mux.HandleFunc("/events", s.limit(s.handleEvents))
	mux.HandleFunc("/events/root", s.limit(s.handleEventsRoot))
	mux.HandleFunc("/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	return s
}

// limit wraps a handler with the request rate limiter.
func (s *Server) limit(next http.HandlerFunc) http.HandlerFunc {
	if s.limiter == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

// Start starts the HTTP server in the background.
func (s *Server) Start() error {
	go func() {
		s.logger.Sugar().Infow("Starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Sugar().Errorw("HTTP server error", "error", err)
		}
	}()
	return nil
}

// Stop stops the HTTP server.
func (s *Server) Stop() error {
	return s.httpServer.Close()
}

// GetHandler returns the HTTP handler (for testing).
func (s *Server) GetHandler() http.Handler {
	return s.httpServer.Handler
}
