// Package server wires the prescription engine behind an HTTP API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/openrx-networks/rxcred/internal/config"
	"github.com/openrx-networks/rxcred/internal/engine"
	"github.com/openrx-networks/rxcred/internal/logger"
	"github.com/openrx-networks/rxcred/internal/server/middleware"
)

type Server struct {
	engine *engine.Engine
	config *config.ServerEnvironment
	logger *slog.Logger
	router *chi.Mux

	// signingJWK is the issuer's public signing key, published at the JWKS
	// endpoint so external verifiers can validate EdDSA proofs. Nil when
	// the service signs with a shared HMAC secret.
	signingJWK jwk.Key
}

func NewServer(
	eng *engine.Engine,
	cfg *config.ServerEnvironment,
	appLogger *slog.Logger,
	signingJWK jwk.Key,
) *Server {
	server := &Server{
		engine:     eng,
		config:     cfg,
		logger:     appLogger,
		router:     chi.NewRouter(),
		signingJWK: signingJWK,
	}

	server.setupMiddleware()
	server.registerRoutes()

	return server
}

func (s *Server) setupMiddleware() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(chimiddleware.Timeout(60 * time.Second))
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.SecurityHeaders(s.config.Environment))
	s.router.Use(middleware.RequestSizeLimit(s.config.MaxRequestBodyBytes))
	s.router.Use(middleware.RateLimit(s.config.RateLimitRPS, s.config.RateLimitBurst))
}

// requestLogger attaches a request-scoped logger carrying the request ID.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := chimiddleware.GetReqID(r.Context())
		reqLogger := s.logger.With(slog.String("request_id", requestID))
		ctx := logger.ContextWithRequestLogger(r.Context(), reqLogger)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) registerRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/version", s.handleVersion)
	s.router.Get("/.well-known/jwks.json", s.handleJWKS)

	s.router.Route("/v1", func(r chi.Router) {
		r.Post("/prescriptions", s.handleIssue)
		r.Get("/prescriptions", s.handleList)
		r.Post("/verifications", s.handleVerify)
		r.Post("/revocations", s.handleBulkRevoke)

		r.Route("/prescriptions/{prescriptionID}", func(r chi.Router) {
			r.Get("/", s.handleGet)
			r.Post("/activation", s.handleActivate)
			r.Post("/dispensings", s.handleDispense)
			r.Get("/eligibility", s.handleEligibility)
			r.Post("/revocation", s.handleRevoke)
			r.Delete("/revocation", s.handleRollbackRevocation)
			r.Get("/revocation/impact", s.handleRevocationImpact)
			r.Get("/audit", s.handleAuditTrail)
			r.Get("/audit/verification", s.handleAuditVerification)
		})
	})
}

// Start runs the HTTP server until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	serverAddr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	httpServer := &http.Server{
		Addr:         serverAddr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("service listening",
			slog.String("environment", s.config.Environment),
			slog.String("address", serverAddr))

		err := httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.config.ServerShutdownTimeout)
	defer shutdownCancel()

	s.logger.Info("shutting down HTTP server")

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("HTTP server shutdown error",
			slog.String("error", err.Error()))
		return fmt.Errorf("HTTP server shutdown failed: %w", err)
	}

	s.logger.Info("HTTP server shutdown complete")
	return nil
}

// Router exposes the configured router, used by the handler tests.
func (s *Server) Router() http.Handler {
	return s.router
}
