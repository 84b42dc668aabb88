package server

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"mbackup/internal/chunkmodel"
)

const (
	maxChunkBody      = 1 << 30   // 1 GiB
	maxBulkDeleteBody = 256 << 20 // 256 MiB
	maxRootBody       = 10 << 20  // 10 MiB
)

func validHex64(s string) bool { return chunkmodel.IsHex64(s) }

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	bucket := r.PathValue("bucket")
	if !validHex64(bucket) {
		http.Error(w, "bad bucket", http.StatusBadRequest)
		return
	}
	t, err := s.store.Status(bucket)
	if err != nil {
		s.writeHTTPError(w, r, err)
		return
	}
	fmt.Fprintf(w, "%d", t)
}

func (s *Server) handleHeadChunk(w http.ResponseWriter, r *http.Request) {
	bucket, hash := r.PathValue("bucket"), r.PathValue("hash")
	if !validHex64(bucket) || !validHex64(hash) {
		http.Error(w, "bad identifier", http.StatusBadRequest)
		return
	}
	size, ok, err := s.store.Size(bucket, hash)
	if err != nil {
		s.writeHTTPError(w, r, err)
		return
	}
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleGetChunk(w http.ResponseWriter, r *http.Request) {
	bucket, hash := r.PathValue("bucket"), r.PathValue("hash")
	if !validHex64(bucket) || !validHex64(hash) {
		http.Error(w, "bad identifier", http.StatusBadRequest)
		return
	}
	data, ok, err := s.store.Fetch(bucket, hash)
	if err != nil {
		s.writeHTTPError(w, r, err)
		return
	}
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

func (s *Server) handlePutChunk(w http.ResponseWriter, r *http.Request) {
	bucket, hash := r.PathValue("bucket"), r.PathValue("hash")
	if !validHex64(bucket) || !validHex64(hash) {
		http.Error(w, "bad identifier", http.StatusBadRequest)
		return
	}
	if r.ContentLength > maxChunkBody {
		http.Error(w, "body too large", http.StatusBadRequest)
		return
	}
	body := http.MaxBytesReader(w, r.Body, maxChunkBody)
	if err := s.store.Insert(bucket, hash, body, r.ContentLength); err != nil {
		s.writeHTTPError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleDeleteChunk(w http.ResponseWriter, r *http.Request) {
	bucket, hash := r.PathValue("bucket"), r.PathValue("hash")
	if !validHex64(bucket) || !validHex64(hash) {
		http.Error(w, "bad identifier", http.StatusBadRequest)
		return
	}
	ok, err := s.store.DeleteOne(bucket, hash)
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

func (s *Server) handleBulkDeleteChunks(w http.ResponseWriter, r *http.Request) {
	bucket := r.PathValue("bucket")
	if !validHex64(bucket) {
		http.Error(w, "bad bucket", http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBulkDeleteBody+1))
	if err != nil {
		http.Error(w, "read failed", http.StatusBadRequest)
		return
	}
	if len(body) > maxBulkDeleteBody {
		http.Error(w, "body too large", http.StatusBadRequest)
		return
	}
	hashes := strings.Split(strings.TrimSuffix(string(body), "\x00"), "\x00")
	if len(hashes) == 1 && hashes[0] == "" {
		hashes = nil
	}
	for _, h := range hashes {
		if !validHex64(h) {
			http.Error(w, "bad hash in list", http.StatusBadRequest)
			return
		}
	}

	ok, err := s.store.DeleteMany(bucket, hashes)
	if !ok {
		if err != nil {
			s.writeHTTPError(w, r, err)
			return
		}
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) doListChunks(w http.ResponseWriter, r *http.Request) {
	bucket := r.PathValue("bucket")
	if !validHex64(bucket) {
		http.Error(w, "bad bucket", http.StatusBadRequest)
		return
	}
	validate := r.URL.Query().Has("validate")
	entries, err := s.store.List(bucket, validate)
	if err != nil {
		s.writeHTTPError(w, r, err)
		return
	}
	var sb strings.Builder
	for _, e := range entries {
		if validate {
			fmt.Fprintf(&sb, "%s %d %d\n", e.Hash, e.Size, e.OnDiskSize)
		} else {
			fmt.Fprintf(&sb, "%s %d\n", e.Hash, e.Size)
		}
	}
	w.Write([]byte(sb.String()))
}
