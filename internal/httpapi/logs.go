package httpapi

import (
	"bufio"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/opengoat/opengoat/internal/apierrors"
	"github.com/opengoat/opengoat/internal/logreader"
)

// handleLogsStream serves GET /api/logs/stream?limit&level&search&follow,
// NDJSON framed, catch-up then follow (spec §6).
func (s *Server) handleLogsStream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := logreader.LogFilter{
		Level:  q.Get("level"),
		Search: q.Get("search"),
	}
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			filter.Limit = n
		}
	}
	if err := logreader.ValidateFilter(filter); err != nil {
		writeError(w, apierrors.Validation("invalid_log_filter", err.Error()))
		return
	}

	follow := q.Get("follow") == "true" || q.Get("follow") == "1"

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	bw := bufio.NewWriter(w)
	flusher, _ := w.(http.Flusher)

	send := func(entry logreader.LogEntry) error {
		line, err := json.Marshal(entry)
		if err != nil {
			return nil
		}
		if _, err := bw.Write(line); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
		if err := bw.Flush(); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	if !follow {
		resp := s.logs.ReadLogs(filter)
		for i := len(resp.Entries) - 1; i >= 0; i-- {
			if err := send(resp.Entries[i]); err != nil {
				return
			}
		}
		return
	}

	_ = s.logs.StreamLogs(r.Context(), filter, send)
}
