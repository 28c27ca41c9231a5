package httpapi

import (
	"bufio"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/opengoat/opengoat/internal/apierrors"
	"github.com/opengoat/opengoat/internal/executor"
	"github.com/opengoat/opengoat/internal/streambroker"
)

// handleListSessions serves GET /api/sessions?agentId=...
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agentId")
	sessions, err := s.sessions.List(agentID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// handleRemoveSession serves POST /api/sessions/remove {agentId,sessionRef}.
func (s *Server) handleRemoveSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AgentID    string `json:"agentId"`
		SessionRef string `json:"sessionRef"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if err := s.sessions.Remove(body.SessionRef); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": body.SessionRef})
}

// handleRenameSession serves POST /api/sessions/rename {agentId,sessionRef,name}.
func (s *Server) handleRenameSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AgentID    string `json:"agentId"`
		SessionRef string `json:"sessionRef"`
		Name       string `json:"name"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if err := s.sessions.Rename(body.SessionRef, body.Name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"renamed": body.SessionRef})
}

// handleSessionHistory serves GET /api/sessions/history?agentId&sessionRef&limit.
func (s *Server) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	sessionRef := r.URL.Query().Get("sessionRef")
	if sessionRef == "" {
		writeError(w, apierrors.Validation("missing_session_ref", "sessionRef is required"))
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	entries, err := s.sessions.History(sessionRef, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// messageRequestBody is the shared decode target for both the non-stream
// and streaming message endpoints (spec §3 InvocationRequest).
type messageRequestBody struct {
	AgentID     string            `json:"agentId"`
	SessionRef  string            `json:"sessionRef"`
	ProjectPath string            `json:"projectPath"`
	Message     string            `json:"message"`
	Images      []imageBody       `json:"images"`
	Env         map[string]string `json:"env"`
}

type imageBody struct {
	DataURL   string `json:"dataUrl"`
	MediaType string `json:"mediaType"`
	Name      string `json:"name"`
}

// filteredImages keeps only image/* data URLs, per spec §3: "Images carry
// {dataUrl, mediaType, name?} and are filtered to image/* data URLs."
func filteredImages(in []imageBody) []executor.Image {
	out := make([]executor.Image, 0, len(in))
	for _, img := range in {
		if !strings.HasPrefix(img.MediaType, "image/") {
			continue
		}
		out = append(out, executor.Image{DataURL: img.DataURL, MediaType: img.MediaType, Name: img.Name})
	}
	return out
}

// resolveProviderID returns the agent's configured provider, falling back
// to the registry's default (spec §4.5: "DEFAULT_PROVIDER_ID is used when
// per-agent config omits a provider").
func (s *Server) resolveProviderID(agentID string) string {
	agent, err := s.agents.GetAgent(agentID)
	if err != nil || agent.ProviderID == "" {
		return ""
	}
	return agent.ProviderID
}

func (s *Server) startInvocation(r *http.Request, body messageRequestBody) (*streambroker.Invocation, error) {
	if body.AgentID == "" {
		return nil, apierrors.Validation("missing_agent_id", "agentId is required")
	}
	if body.SessionRef == "" {
		return nil, apierrors.Validation("missing_session_ref", "sessionRef is required")
	}
	providerID := s.resolveProviderID(body.AgentID)
	req := executor.Request{
		ProjectPath: body.ProjectPath,
		Message:     body.Message,
		Images:      filteredImages(body.Images),
		Env:         body.Env,
	}
	return s.exec.Invoke(r.Context(), providerID, body.AgentID, body.SessionRef, req), nil
}

// handleMessage serves POST /api/sessions/message: a non-streaming call
// that blocks for the invocation's terminal event (spec §6).
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var body messageRequestBody
	if !decodeJSON(w, r, &body) {
		return
	}
	inv, err := s.startInvocation(r, body)
	if err != nil {
		writeError(w, err)
		return
	}
	evt, err := inv.AwaitResult(r.Context())
	if err != nil {
		writeError(w, apierrors.Internal("invocation_interrupted", err))
		return
	}
	writeJSON(w, http.StatusOK, evt)
}

// handleMessageStream serves POST /api/sessions/message/stream: NDJSON
// framing of every StreamEvent the invocation publishes, one JSON object
// per line (spec §4.12/§6). The handler never writes a trailing newline
// without a complete JSON object preceding it.
func (s *Server) handleMessageStream(w http.ResponseWriter, r *http.Request) {
	var body messageRequestBody
	if !decodeJSON(w, r, &body) {
		return
	}
	inv, err := s.startInvocation(r, body)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	bw := bufio.NewWriter(w)

	for evt := range inv.Subscribe() {
		line, err := json.Marshal(evt)
		if err != nil {
			continue
		}
		bw.Write(line)
		bw.WriteByte('\n')
		bw.Flush()
		if flusher != nil {
			flusher.Flush()
		}
	}
}
