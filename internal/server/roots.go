package server

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"mbackup/internal/chunkmodel"
)

func (s *Server) handleListRoots(w http.ResponseWriter, r *http.Request) {
	bucket := r.PathValue("bucket")
	if !validHex64(bucket) {
		http.Error(w, "bad bucket", http.StatusBadRequest)
		return
	}
	roots, err := s.store.ListRoots(bucket)
	if err != nil {
		s.writeHTTPError(w, r, err)
		return
	}
	recs := make([]string, 0, len(roots))
	for _, root := range roots {
		recs = append(recs, fmt.Sprintf("%d\x00%s\x00%d\x00%s", root.ID, root.Host, root.Time, root.Hash))
	}
	w.Write([]byte(strings.Join(recs, "\x00\x00")))
}

func (s *Server) handlePutRoot(w http.ResponseWriter, r *http.Request) {
	bucket, host := r.PathValue("bucket"), r.PathValue("host")
	if !validHex64(bucket) {
		http.Error(w, "bad bucket", http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRootBody+1))
	if err != nil {
		http.Error(w, "read failed", http.StatusBadRequest)
		return
	}
	if len(body) > maxRootBody {
		http.Error(w, "body too large", http.StatusBadRequest)
		return
	}
	hash := strings.TrimSpace(string(body))
	if !chunkmodel.IsHex64(hash) {
		http.Error(w, "bad chunk hash", http.StatusBadRequest)
		return
	}

	if _, _, err := s.store.PutRoot(bucket, host, hash); err != nil {
		s.writeHTTPError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleDeleteRoot(w http.ResponseWriter, r *http.Request) {
	bucket, idStr := r.PathValue("bucket"), r.PathValue("id")
	if !validHex64(bucket) {
		http.Error(w, "bad bucket", http.StatusBadRequest)
		return
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Error(w, "bad root id", http.StatusBadRequest)
		return
	}
	ok, err := s.store.DeleteRoot(bucket, id)
	if err != nil {
		s.writeHTTPError(w, r, err)
		return
	}
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}
