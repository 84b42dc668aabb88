package server

import (
	"fmt"
	"net/http"
	"time"
)

// handleMetrics serves a minimal Prometheus text-format exposition. This
// endpoint is unauthenticated, as is standard for scrape targets.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	fmt.Fprintf(w, "# HELP mbackup_up Whether the server process is running.\n")
	fmt.Fprintf(w, "# TYPE mbackup_up gauge\n")
	fmt.Fprintf(w, "mbackup_up 1\n")

	fmt.Fprintf(w, "# HELP mbackup_uptime_seconds Seconds since server start.\n")
	fmt.Fprintf(w, "# TYPE mbackup_uptime_seconds gauge\n")
	fmt.Fprintf(w, "mbackup_uptime_seconds %.0f\n", time.Since(s.startTime).Seconds())

	s.writeBucketMetrics(w)
}

// writeBucketMetrics emits the three per-bucket gauges, computed live from
// the store behind its existing mutex on every scrape rather than tracked
// separately, matching the teacher's per-vault metrics pattern.
func (s *Server) writeBucketMetrics(w http.ResponseWriter) {
	metrics, err := s.store.Metrics()
	if err != nil {
		s.logger.Error("failed to gather bucket metrics", "error", err)
		return
	}

	fmt.Fprintf(w, "# HELP mbackup_chunks_total Chunks stored per bucket.\n")
	fmt.Fprintf(w, "# TYPE mbackup_chunks_total gauge\n")
	for _, m := range metrics {
		fmt.Fprintf(w, "mbackup_chunks_total{bucket=%q} %d\n", m.Bucket, m.Chunks)
	}

	fmt.Fprintf(w, "# HELP mbackup_bytes_total Stored chunk bytes per bucket.\n")
	fmt.Fprintf(w, "# TYPE mbackup_bytes_total gauge\n")
	for _, m := range metrics {
		fmt.Fprintf(w, "mbackup_bytes_total{bucket=%q} %d\n", m.Bucket, m.Bytes)
	}

	// deletes is a UNIQUE(bucket) table holding only the latest bulk-delete
	// epoch per bucket, so this is 0 or 1, not a cumulative delete count.
	fmt.Fprintf(w, "# HELP mbackup_deletes_total Whether a bucket has a recorded delete epoch.\n")
	fmt.Fprintf(w, "# TYPE mbackup_deletes_total gauge\n")
	for _, m := range metrics {
		fmt.Fprintf(w, "mbackup_deletes_total{bucket=%q} %d\n", m.Bucket, m.DeleteCount)
	}
}
