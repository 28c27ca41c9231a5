package httpapi

import (
	"net/http"

	"github.com/opengoat/opengoat/internal/settings"
)

func notificationTargetFrom(raw string) settings.NotificationTarget {
	switch settings.NotificationTarget(raw) {
	case settings.TargetCEOOnly:
		return settings.TargetCEOOnly
	default:
		return settings.TargetAllManagers
	}
}

func settingsChangeAuthParams(enabled bool, username, newPassword, currentPassword string) settings.ChangeAuthParams {
	return settings.ChangeAuthParams{
		Enabled:         enabled,
		Username:        username,
		NewPassword:     newPassword,
		CurrentPassword: currentPassword,
	}
}

type settingsView struct {
	TaskCronEnabled                 bool   `json:"taskCronEnabled"`
	NotifyManagersOfInactiveAgents  bool   `json:"notifyManagersOfInactiveAgents"`
	MaxInactivityMinutes            int    `json:"maxInactivityMinutes"`
	InactiveAgentNotificationTarget string `json:"inactiveAgentNotificationTarget"`
	AuthEnabled                     bool   `json:"authEnabled"`
	AuthUsername                    string `json:"authUsername,omitempty"`
	AuthHasPassword                 bool   `json:"authHasPassword"`
}

// handleGetSettings serves GET /api/settings. The password verifier never
// leaves the store: only whether one has been set.
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	cur, err := s.settings.Load()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settingsView{
		TaskCronEnabled:                 cur.TaskCronEnabled,
		NotifyManagersOfInactiveAgents:  cur.NotifyManagersOfInactiveAgents,
		MaxInactivityMinutes:            cur.MaxInactivityMinutes,
		InactiveAgentNotificationTarget: string(cur.InactiveAgentNotificationTarget),
		AuthEnabled:                     cur.Authentication.Enabled,
		AuthUsername:                   cur.Authentication.Username,
		AuthHasPassword:                cur.Authentication.HasPassword(),
	})
}

// handlePostSettings serves POST /api/settings. The plain fields in the
// body are applied and saved first; a body that also carries authUsername,
// newPassword, or an explicit authEnabled then goes through ChangeAuth so
// the password policy and current-password check apply (spec §4.13). A
// currentPassword on its own does not trigger ChangeAuth.
func (s *Server) handlePostSettings(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TaskCronEnabled                 *bool   `json:"taskCronEnabled"`
		NotifyManagersOfInactiveAgents  *bool   `json:"notifyManagersOfInactiveAgents"`
		MaxInactivityMinutes            *int    `json:"maxInactivityMinutes"`
		InactiveAgentNotificationTarget *string `json:"inactiveAgentNotificationTarget"`

		AuthEnabled     *bool  `json:"authEnabled"`
		AuthUsername    string `json:"authUsername"`
		NewPassword     string `json:"newPassword"`
		CurrentPassword string `json:"currentPassword"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	cur, err := s.settings.Load()
	if err != nil {
		writeError(w, err)
		return
	}
	if body.TaskCronEnabled != nil {
		cur.TaskCronEnabled = *body.TaskCronEnabled
	}
	if body.NotifyManagersOfInactiveAgents != nil {
		cur.NotifyManagersOfInactiveAgents = *body.NotifyManagersOfInactiveAgents
	}
	if body.MaxInactivityMinutes != nil {
		cur.MaxInactivityMinutes = *body.MaxInactivityMinutes
	}
	if body.InactiveAgentNotificationTarget != nil {
		cur.InactiveAgentNotificationTarget = notificationTargetFrom(*body.InactiveAgentNotificationTarget)
	}
	if err := s.settings.Save(cur); err != nil {
		writeError(w, err)
		return
	}

	if body.AuthEnabled != nil || body.NewPassword != "" || body.AuthUsername != "" {
		enabled := cur.Authentication.Enabled
		if body.AuthEnabled != nil {
			enabled = *body.AuthEnabled
		}
		username := body.AuthUsername
		if username == "" {
			username = cur.Authentication.Username
		}
		if changeErr := s.settings.ChangeAuth(settingsChangeAuthParams(enabled, username, body.NewPassword, body.CurrentPassword)); changeErr != nil {
			writeError(w, changeErr)
			return
		}
	}

	s.handleGetSettings(w, r)
}
