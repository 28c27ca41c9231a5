package httpapi

import (
	"net/http"

	"github.com/opengoat/opengoat/internal/agents"
	"github.com/opengoat/opengoat/internal/apierrors"
)

type agentView struct {
	ID           string `json:"id"`
	DisplayName  string `json:"displayName"`
	Type         string `json:"type"`
	ReportsTo    string `json:"reportsTo,omitempty"`
	Role         string `json:"role,omitempty"`
	ProviderID   string `json:"providerId,omitempty"`
	WorkspaceDir string `json:"workspaceDir"`
}

func toAgentView(a agents.Agent) agentView {
	return agentView{
		ID:           a.ID,
		DisplayName:  a.DisplayName,
		Type:         string(a.Type),
		ReportsTo:    a.ReportsTo,
		Role:         a.Role,
		ProviderID:   a.ProviderID,
		WorkspaceDir: a.WorkspaceDir,
	}
}

// handleOverview serves GET /api/openclaw/overview: the agent roster plus
// fleet-wide totals.
func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	all, err := s.agents.ListAgents()
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]agentView, 0, len(all))
	for _, a := range all {
		views = append(views, toAgentView(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agents": views,
		"totals": map[string]any{"agents": len(views)},
	})
}

// handleCreateAgent serves POST /api/agents: ensureAgent under the hood, so
// repeated calls with the same name are idempotent (spec §4.2).
func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name        string `json:"name"`
		DisplayName string `json:"displayName"`
		ReportsTo   string `json:"reportsTo"`
		Role        string `json:"role"`
		Type        string `json:"type"`
		ProviderID  string `json:"providerId"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	id, err := agents.NormalizeID(body.Name)
	if err != nil {
		writeError(w, err)
		return
	}

	agent, err := s.agents.EnsureAgent(id, agents.Traits{
		DisplayName: body.DisplayName,
		Type:        agents.Type(body.Type),
		ReportsTo:   body.ReportsTo,
		Role:        body.Role,
		ProviderID:  body.ProviderID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	s.authz.Refresh()

	writeJSON(w, http.StatusOK, toAgentView(agent))
}

// handleDeleteAgent serves DELETE /api/agents/{id}?force=true.
func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, apierrors.Validation("missing_agent_id", "agent id is required"))
		return
	}
	force := r.URL.Query().Get("force") == "true"

	if err := s.agents.DeleteAgent(id, force); err != nil {
		writeError(w, err)
		return
	}
	s.authz.Refresh()

	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}
