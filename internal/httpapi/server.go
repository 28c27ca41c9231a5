// Package httpapi implements the HttpFacade (C12): the REST and NDJSON
// streaming surface in front of every other component. Route wiring and
// the CORS/JSON-response conventions follow the teacher's internal/server
// package; AuthGate sits in front of this package's handler as ordinary
// http.Handler middleware.
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/opengoat/opengoat/internal/agents"
	"github.com/opengoat/opengoat/internal/apierrors"
	"github.com/opengoat/opengoat/internal/authgate"
	"github.com/opengoat/opengoat/internal/authz"
	"github.com/opengoat/opengoat/internal/executor"
	"github.com/opengoat/opengoat/internal/logreader"
	"github.com/opengoat/opengoat/internal/providers"
	"github.com/opengoat/opengoat/internal/sessionstore"
	"github.com/opengoat/opengoat/internal/settings"
	"github.com/opengoat/opengoat/internal/skills"
	"github.com/opengoat/opengoat/internal/tasks"
)

// Version is the build version reported by GET /api/version. Overridden at
// build time via -ldflags, the way the teacher's sysinfo package reports
// its own build metadata.
var Version = "dev"

// Config bundles the facade's tunables.
type Config struct {
	AllowedOrigins []string
}

// Server is the HttpFacade: it owns no state of its own beyond wiring
// together every other component and exposing them over HTTP.
type Server struct {
	agents   *agents.Store
	sessions *sessionstore.Store
	tasks    *tasks.Store
	authz    *authz.Resolver
	settings *settings.Store
	exec     *executor.Executor
	registry *providers.Registry
	logs     *logreader.Reader
	skills   *skills.Catalog
	gate     *authgate.Gate

	cfg       Config
	startedAt time.Time
}

// New creates a Server wiring every component the facade dispatches to.
func New(
	agentStore *agents.Store,
	sessionStore *sessionstore.Store,
	taskStore *tasks.Store,
	authzResolver *authz.Resolver,
	settingsStore *settings.Store,
	exec *executor.Executor,
	registry *providers.Registry,
	logs *logreader.Reader,
	skillsCatalog *skills.Catalog,
	gate *authgate.Gate,
	cfg Config,
) *Server {
	return &Server{
		agents:    agentStore,
		sessions:  sessionStore,
		tasks:     taskStore,
		authz:     authzResolver,
		settings:  settingsStore,
		exec:      exec,
		registry:  registry,
		logs:      logs,
		skills:    skillsCatalog,
		gate:      gate,
		cfg:       cfg,
		startedAt: time.Now().UTC(),
	}
}

// Handler builds the complete HTTP handler: routes wrapped by AuthGate,
// wrapped by CORS.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.routes(mux)
	return corsMiddleware(s.gate.Middleware(mux), s.cfg.AllowedOrigins)
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/version", s.handleVersion)

	mux.HandleFunc("GET /api/auth/status", s.handleAuthStatus)
	mux.HandleFunc("POST /api/auth/login", s.handleAuthLogin)
	mux.HandleFunc("POST /api/auth/logout", s.handleAuthLogout)

	mux.HandleFunc("GET /api/openclaw/overview", s.handleOverview)

	mux.HandleFunc("POST /api/agents", s.handleCreateAgent)
	mux.HandleFunc("DELETE /api/agents/{id}", s.handleDeleteAgent)

	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("POST /api/sessions/remove", s.handleRemoveSession)
	mux.HandleFunc("POST /api/sessions/rename", s.handleRenameSession)
	mux.HandleFunc("GET /api/sessions/history", s.handleSessionHistory)
	mux.HandleFunc("POST /api/sessions/message", s.handleMessage)
	mux.HandleFunc("POST /api/sessions/message/stream", s.handleMessageStream)

	mux.HandleFunc("GET /api/tasks", s.handleListTasks)
	mux.HandleFunc("POST /api/tasks", s.handleCreateTask)
	mux.HandleFunc("POST /api/tasks/{id}/status", s.handleUpdateTaskStatus)
	mux.HandleFunc("POST /api/tasks/{id}/blocker", s.handleAddBlocker)
	mux.HandleFunc("POST /api/tasks/{id}/artifact", s.handleAddArtifact)
	mux.HandleFunc("POST /api/tasks/{id}/worklog", s.handleAddWorklog)
	mux.HandleFunc("POST /api/tasks/delete", s.handleDeleteTasks)

	mux.HandleFunc("GET /api/skills", s.handleSkills)

	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("POST /api/settings", s.handlePostSettings)

	mux.HandleFunc("GET /api/logs/stream", s.handleLogsStream)
}

// handleHealth reports liveness. It deliberately carries no dependency
// checks (DB ping, provider reachability): spec §4.12 treats health as a
// pure liveness probe, with readiness covered by /api/openclaw/overview.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startedAt).String(),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version": Version,
		"uptime":  time.Since(s.startedAt).String(),
	})
}

// writeJSON writes a successful JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeJSON decodes r's body into dst, writing a validation error and
// returning false on failure so handlers can `if !decodeJSON(...) { return }`.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, apierrors.Validation("invalid_body", fmt.Sprintf("invalid request body: %v", err)))
		return false
	}
	return true
}

// writeError writes err as the standard error envelope.
func writeError(w http.ResponseWriter, err error) {
	apierrors.WriteJSON(w, err)
}

// corsMiddleware mirrors the teacher's origin-matching CORS handler,
// including its wildcard-subdomain support.
func corsMiddleware(next http.Handler, allowedOrigins []string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowed := false

		for _, o := range allowedOrigins {
			if o == "*" || o == origin {
				allowed = true
				break
			}
			if strings.Contains(o, "*.") {
				wildcardIdx := strings.Index(o, "*.")
				prefix := o[:wildcardIdx]
				suffix := o[wildcardIdx+1:]
				if strings.HasPrefix(origin, prefix) && strings.HasSuffix(origin, suffix) {
					allowed = true
					break
				}
			}
		}

		if allowed {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
