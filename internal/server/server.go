// Package server implements the chunk-store HTTP service: the router over
// the fixed URL grammar, Basic-auth enforcement, and the small ambient
// surface (health check, Prometheus metrics) around the core chunk/root
// endpoints.
package server

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/time/rate"

	"mbackup/internal/auth"
	"mbackup/internal/logging"
	"mbackup/internal/store"
)

// Config holds server construction parameters.
type Config struct {
	Logger *slog.Logger
	Users  *auth.Users
	Store  *store.Store

	// RateLimit and RateBurst bound failed-auth attempts per source IP.
	// Zero RateLimit disables rate limiting.
	RateLimit rate.Limit
	RateBurst int
}

// Server is the chunk-store HTTP service.
type Server struct {
	logger    *slog.Logger
	users     *auth.Users
	store     *store.Store
	rl        *rateLimiter
	startTime time.Time
}

// New builds a Server. Call Handler to obtain the http.Handler to serve.
func New(cfg Config) *Server {
	logger := logging.Default(cfg.Logger)
	s := &Server{
		logger:    logger,
		users:     cfg.Users,
		store:     cfg.Store,
		startTime: time.Now(),
	}
	if cfg.RateLimit > 0 {
		s.rl = newRateLimiter(cfg.RateLimit, cfg.RateBurst)
	}
	return s
}

// Handler returns the full request handler: User-Agent audit logging, then
// the routed mux, wrapped in an h2c handler so HTTP/2 works over cleartext.
// Failed-auth rate limiting is applied per auth check (requireLevel,
// handleListChunks), not here, since it must count only rejected
// credentials and not ordinary authenticated traffic.
func (s *Server) Handler() http.Handler {
	mux := s.buildMux()
	wrapped := s.auditMiddleware(mux)
	return h2c.NewHandler(wrapped, &http2.Server{})
}

func (s *Server) buildMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/metrics", s.handleMetrics)

	mux.HandleFunc("GET /status/{bucket}", s.requireLevel(auth.Put, s.handleStatus))
	mux.HandleFunc("HEAD /chunks/{bucket}/{hash}", s.requireLevel(auth.Put, s.handleHeadChunk))
	mux.HandleFunc("GET /chunks/{bucket}/{hash}", s.requireLevel(auth.Get, s.handleGetChunk))
	mux.HandleFunc("PUT /chunks/{bucket}/{hash}", s.requireLevel(auth.Put, s.handlePutChunk))
	mux.HandleFunc("DELETE /chunks/{bucket}/{hash}", s.requireLevel(auth.Delete, s.handleDeleteChunk))
	mux.HandleFunc("DELETE /chunks/{bucket}", s.requireLevel(auth.Delete, s.handleBulkDeleteChunks))
	mux.HandleFunc("GET /chunks/{bucket}", s.handleListChunks)
	mux.HandleFunc("GET /roots/{bucket}", s.requireLevel(auth.Get, s.handleListRoots))
	mux.HandleFunc("PUT /roots/{bucket}/{host}", s.requireLevel(auth.Put, s.handlePutRoot))
	mux.HandleFunc("DELETE /roots/{bucket}/{id}", s.requireLevel(auth.Delete, s.handleDeleteRoot))
	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// requireLevel wraps a handler so it only runs when the authenticated
// caller's access level is at least required.
func (s *Server) requireLevel(required auth.Level, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		level, ok := s.users.Check(r)
		if !ok || level < required {
			s.rejectAuth(w, r)
			return
		}
		next(w, r)
	}
}

// handleListChunks requires Put, unless the request carries ?validate, in
// which case Get suffices.
func (s *Server) handleListChunks(w http.ResponseWriter, r *http.Request) {
	required := auth.Put
	if r.URL.Query().Has("validate") {
		required = auth.Get
	}
	level, ok := s.users.Check(r)
	if !ok || level < required {
		s.rejectAuth(w, r)
		return
	}
	s.doListChunks(w, r)
}

// rejectAuth answers a failed auth check. It is the only place a failed
// attempt is counted against the per-IP rate limiter, so ordinary
// authenticated traffic never spends a token — only repeated bad
// credentials from the same source IP do.
func (s *Server) rejectAuth(w http.ResponseWriter, r *http.Request) {
	if s.rl != nil && !s.rl.getLimiter(remoteIP(r)).Allow() {
		w.Header().Set("Retry-After", "1")
		http.Error(w, "too many failed authentication attempts", http.StatusTooManyRequests)
		return
	}
	auth.WriteUnauthorized(w)
}

func remoteIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
