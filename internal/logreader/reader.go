// Package logreader provides unified log reading backing the
// GET /api/logs/stream endpoint (C12 HttpFacade). Log entries come from
// OpenGoat's own structured log output, captured into an in-process Ring
// by the slog.Handler this package also provides, rather than from an
// external host log service.
package logreader

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// LogEntry is one structured log line.
type LogEntry struct {
	Timestamp string         `json:"timestamp"`
	Level     string         `json:"level"`
	Source    string         `json:"source"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// LogFilter represents query parameters for log retrieval.
type LogFilter struct {
	Level  string // "debug", "info", "warn", "error"
	Search string // substring match in message
	Limit  int    // max entries (default 200, max 1000)
}

// LogResponse is the HTTP response for a log snapshot.
type LogResponse struct {
	Entries []LogEntry `json:"entries"`
	HasMore bool       `json:"hasMore"`
}

// DefaultLimit is the default number of log entries per page.
var DefaultLimit = envInt("LOG_RETRIEVAL_DEFAULT_LIMIT", 200)

// MaxLimit is the maximum number of log entries per page.
var MaxLimit = envInt("LOG_RETRIEVAL_MAX_LIMIT", 1000)

// Reader reads logs out of a Ring.
type Reader struct {
	ring *Ring
}

// NewReader creates a Reader backed by ring.
func NewReader(ring *Ring) *Reader {
	return &Reader{ring: ring}
}

// ReadLogs retrieves a snapshot of log entries matching filter, newest
// first.
func (r *Reader) ReadLogs(filter LogFilter) *LogResponse {
	limit := clampLimit(filter.Limit)

	entries := r.ring.Snapshot(0)
	if filter.Search != "" {
		entries = filterBySearch(entries, filter.Search)
	}
	if filter.Level != "" && filter.Level != "debug" {
		entries = filterByLevel(entries, filter.Level)
	}

	hasMore := len(entries) > limit
	if hasMore {
		entries = entries[:limit]
	}
	return &LogResponse{Entries: entries, HasMore: hasMore}
}

// SendFunc is called for each log entry during streaming.
type SendFunc func(entry LogEntry) error

// StreamLogs sends a catch-up batch of recent entries (oldest first), then
// blocks forwarding newly appended entries until ctx is cancelled or send
// returns an error. The two-phase shape (catch-up, then follow) matches
// the pack's log-streaming convention; only the underlying source changed.
func (r *Reader) StreamLogs(ctx context.Context, filter LogFilter, send SendFunc) error {
	resp := r.ReadLogs(filter)
	for i := len(resp.Entries) - 1; i >= 0; i-- {
		if err := send(resp.Entries[i]); err != nil {
			return err
		}
	}

	ch, unsubscribe := r.ring.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry, ok := <-ch:
			if !ok {
				return nil
			}
			if filter.Level != "" && filter.Level != "debug" {
				if levelOrder[entry.Level] < levelOrder[strings.ToLower(filter.Level)] {
					continue
				}
			}
			if filter.Search != "" && !strings.Contains(strings.ToLower(entry.Message), strings.ToLower(filter.Search)) {
				continue
			}
			if err := send(entry); err != nil {
				return err
			}
		}
	}
}

// Handler is a slog.Handler that captures every record into a Ring in
// addition to passing it through to next, so the process's own structured
// logs can be replayed over GET /api/logs/stream without a second log
// sink or external log shipper.
type Handler struct {
	next slog.Handler
	ring *Ring
}

// NewHandler wraps next, mirroring every record into ring.
func NewHandler(next slog.Handler, ring *Ring) *Handler {
	return &Handler{next: next, ring: ring}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, record slog.Record) error {
	meta := make(map[string]any, record.NumAttrs())
	record.Attrs(func(a slog.Attr) bool {
		meta[a.Key] = a.Value.Any()
		return true
	})
	h.ring.Append(LogEntry{
		Timestamp: record.Time.UTC().Format(time.RFC3339Nano),
		Level:     levelString(record.Level),
		Source:    "opengoatd",
		Message:   record.Message,
		Metadata:  meta,
	})
	return h.next.Handle(ctx, record)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{next: h.next.WithAttrs(attrs), ring: h.ring}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{next: h.next.WithGroup(name), ring: h.ring}
}

func levelString(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "error"
	case l >= slog.LevelWarn:
		return "warn"
	case l >= slog.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}

// ValidateFilter checks that filter fields contain safe, recognised values.
func ValidateFilter(f LogFilter) error {
	if f.Level != "" && !validLevels[strings.ToLower(f.Level)] {
		return fmt.Errorf("invalid level: must be one of debug, info, warn, error")
	}
	if len(f.Search) > maxSearchLength {
		return fmt.Errorf("search string too long (max %d)", maxSearchLength)
	}
	return nil
}

var validLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

const maxSearchLength = 1000

var levelOrder = map[string]int{
	"debug": 0,
	"info":  1,
	"warn":  2,
	"error": 3,
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

func filterByLevel(entries []LogEntry, minLevel string) []LogEntry {
	minOrd := levelOrder[strings.ToLower(minLevel)]
	var result []LogEntry
	for _, e := range entries {
		if levelOrder[e.Level] >= minOrd {
			result = append(result, e)
		}
	}
	return result
}

func filterBySearch(entries []LogEntry, search string) []LogEntry {
	lower := strings.ToLower(search)
	var result []LogEntry
	for _, e := range entries {
		if strings.Contains(strings.ToLower(e.Message), lower) {
			result = append(result, e)
		}
	}
	return result
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}
