package httpapi

import "net/http"

func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	state, err := s.settings.Load()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authentication": map[string]any{
			"enabled":       state.Authentication.Enabled,
			"authenticated": s.gate.Username(r) != "",
		},
	})
}

func (s *Server) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	token, err := s.gate.Login(body.Username, body.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	s.gate.SetCookie(w, token)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleAuthLogout(w http.ResponseWriter, r *http.Request) {
	s.gate.ClearCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
