package httpapi

import "net/http"

// handleSkills serves GET /api/skills?agentId or ?global=true, returning the
// matching catalog of markdown skill documents (spec §6).
func (s *Server) handleSkills(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agentId")

	if agentID != "" {
		items, err := s.skills.ForAgent(agentID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"skills": items})
		return
	}

	items, err := s.skills.Global()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"skills": items})
}
