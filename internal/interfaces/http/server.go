// Package http serves the scanner's control API: scan jobs, regime,
// risk posture, cooldowns, and operational health.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/smcscan/smcscan/internal/telemetry"
)

type ctxKey int

const requestIDKey ctxKey = iota

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// ServerConfig controls the listener and per-request limits.
type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
}

// DefaultServerConfig binds loopback-only. HTTP_PORT overrides the port.
func DefaultServerConfig() ServerConfig {
	port := 8080
	if v := os.Getenv("HTTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 && p < 65536 {
			port = p
		}
	}
	return ServerConfig{
		Host:           "127.0.0.1",
		Port:           port,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		IdleTimeout:    60 * time.Second,
		RequestTimeout: 60 * time.Second,
	}
}

// Server owns the HTTP listener and router.
type Server struct {
	cfg      ServerConfig
	handlers *Handlers
	router   *mux.Router
	srv      *http.Server
}

// NewServer builds the router and verifies the port is free so start
// failures surface before the daemon reports ready.
func NewServer(cfg ServerConfig, handlers *Handlers) (*Server, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("http: port %d unavailable: %w", cfg.Port, err)
	}
	if err := ln.Close(); err != nil {
		return nil, fmt.Errorf("http: release port probe: %w", err)
	}

	s := &Server{cfg: cfg, handlers: handlers}
	s.router = s.buildRouter()
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s, nil
}

func (s *Server) buildRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.timeoutMiddleware)
	r.Use(s.corsMiddleware)

	r.HandleFunc("/health", s.handlers.Health).Methods(http.MethodGet)
	r.Handle("/metrics", telemetry.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(jsonContentType)
	api.HandleFunc("/scans", s.handlers.CreateScan).Methods(http.MethodPost)
	api.HandleFunc("/scans", s.handlers.ListScans).Methods(http.MethodGet)
	api.HandleFunc("/scans/{id}", s.handlers.GetScan).Methods(http.MethodGet)
	api.HandleFunc("/scans/{id}", s.handlers.CancelScan).Methods(http.MethodDelete)
	api.HandleFunc("/regime", s.handlers.Regime).Methods(http.MethodGet)
	api.HandleFunc("/risk", s.handlers.Risk).Methods(http.MethodGet)
	api.HandleFunc("/cooldowns", s.handlers.Cooldowns).Methods(http.MethodGet)
	// Symbols carry slashes (BTC/USDT), so the var spans segments.
	api.HandleFunc("/cooldowns/{symbol:.+}", s.handlers.ClearCooldown).Methods(http.MethodDelete)
	api.HandleFunc("/signals", s.handlers.Signals).Methods(http.MethodGet)
	api.HandleFunc("/scheduler", s.handlers.Scheduler).Methods(http.MethodGet)

	r.NotFoundHandler = jsonContentType(http.HandlerFunc(s.handlers.NotFound))
	return r
}

// Router exposes the handler tree for tests.
func (s *Server) Router() http.Handler { return s.router }

// Address is the listen address the server was configured with.
func (s *Server) Address() string { return s.srv.Addr }

// Start serves until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	log.Info().Str("addr", s.srv.Addr).Msg("http server listening")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http: serve: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("http server shutting down")
	return s.srv.Shutdown(ctx)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()[:8]
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWrapper{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		log.Debug().
			Str("request_id", requestIDFrom(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().
					Str("request_id", requestIDFrom(r.Context())).
					Str("path", r.URL.Path).
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Msg("http handler panic")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(ErrorResponse{
					Error:     "internal server error",
					Message:   "the request could not be completed",
					Code:      "internal_error",
					RequestID: requestIDFrom(r.Context()),
					Timestamp: time.Now().UTC(),
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && isLocalOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isLocalOrigin(origin string) bool {
	return strings.HasPrefix(origin, "http://localhost") ||
		strings.HasPrefix(origin, "http://127.0.0.1")
}

func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

type responseWrapper struct {
	http.ResponseWriter
	status int
}

func (rw *responseWrapper) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}
