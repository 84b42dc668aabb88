package server

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime"

	"mbackup/internal/backuperr"
)

// writeHTTPError maps an internal error to an HTTP status, writes the
// response, and logs file, line, status, and diagnostic for the failure —
// the one place server handlers turn internal errors into wire responses.
func (s *Server) writeHTTPError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	var be *backuperr.Error
	if errors.As(err, &be) && be.Kind == backuperr.Http {
		status = be.Status
	}

	_, file, line, _ := runtime.Caller(1)
	s.logger.Error("request failed",
		slog.Any("source", &slog.Source{File: file, Line: line}),
		"status", status,
		"method", r.Method,
		"path", r.URL.Path,
		"error", err,
	)

	http.Error(w, err.Error(), status)
}
