package server

import (
	"net/http"

	"github.com/mileusna/useragent"
)

// auditMiddleware logs a structured line per request naming the parsed
// client agent. It never affects routing or response codes — User-Agent
// parsing here is audit-trail sugar, not a decision input.
func (s *Server) auditMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua := useragent.Parse(r.UserAgent())
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_ip", remoteIP(r),
			"client", ua.Name,
			"client_version", ua.Version,
			"os", ua.OS,
		)
		next.ServeHTTP(w, r)
	})
}
