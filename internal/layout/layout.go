// Package layout resolves OpenGoat's on-disk directory layout (C1
// PathLayout). All derived paths are absolute; creating the directories
// themselves is left to the stores that own them, which create their
// directory lazily on first write.
package layout

import "path/filepath"

// Layout resolves every path OpenGoat persists state under, rooted at a
// single home directory.
type Layout struct {
	home string
}

// New resolves a Layout rooted at home. home is made absolute if it isn't
// already.
func New(home string) (*Layout, error) {
	abs, err := filepath.Abs(home)
	if err != nil {
		return nil, err
	}
	return &Layout{home: abs}, nil
}

// Home returns the root directory.
func (l *Layout) Home() string { return l.home }

// WorkspacesDir holds one directory per agent with that agent's workspace
// files (AGENTS.md, SOUL.md, ...).
func (l *Layout) WorkspacesDir() string { return filepath.Join(l.home, "workspaces") }

// WorkspaceDir returns the workspace directory for a single agent.
func (l *Layout) WorkspaceDir(agentID string) string { return filepath.Join(l.WorkspacesDir(), agentID) }

// OrganizationDir holds the org-wide markdown/config not specific to a
// single agent (e.g. the global BOOTSTRAP template).
func (l *Layout) OrganizationDir() string { return filepath.Join(l.home, "organization") }

// AgentsDir holds one directory per agent with that agent's internal
// runtime config (agents/<id>/config.json).
func (l *Layout) AgentsDir() string { return filepath.Join(l.home, "agents") }

// AgentConfigDir returns the internal config directory for a single agent.
func (l *Layout) AgentConfigDir(agentID string) string { return filepath.Join(l.AgentsDir(), agentID) }

// AgentConfigPath returns the per-agent runtime config file path.
func (l *Layout) AgentConfigPath(agentID string) string {
	return filepath.Join(l.AgentConfigDir(agentID), "config.json")
}

// SkillsDir holds the global skills catalog.
func (l *Layout) SkillsDir() string { return filepath.Join(l.home, "skills") }

// ProvidersDir holds one directory per provider with that provider's config.
func (l *Layout) ProvidersDir() string { return filepath.Join(l.home, "providers") }

// ProviderConfigPath returns the config file path for a single provider.
func (l *Layout) ProviderConfigPath(providerID string) string {
	return filepath.Join(l.ProvidersDir(), providerID, "config.json")
}

// SessionsDir holds one directory per session keyed by sessionKey.
func (l *Layout) SessionsDir() string { return filepath.Join(l.home, "sessions") }

// SessionDir returns the directory for a single session.
func (l *Layout) SessionDir(sessionKey string) string {
	return filepath.Join(l.SessionsDir(), SanitizeSessionKey(sessionKey))
}

// SessionTranscriptPath returns the append-only transcript file for a session.
func (l *Layout) SessionTranscriptPath(sessionKey string) string {
	return filepath.Join(l.SessionDir(sessionKey), "transcript.ndjson")
}

// SessionMetadataPath returns the metadata sidecar file for a session.
func (l *Layout) SessionMetadataPath(sessionKey string) string {
	return filepath.Join(l.SessionDir(sessionKey), "metadata.json")
}

// RunsDir holds optional provider invocation traces, one directory per run.
func (l *Layout) RunsDir() string { return filepath.Join(l.home, "runs") }

// RunDir returns the directory for a single run identified by its name
// (conventionally "<timestamp>-<uuid>").
func (l *Layout) RunDir(runName string) string { return filepath.Join(l.RunsDir(), runName) }

// GlobalConfigJSONPath is the global settings document (config.json).
func (l *Layout) GlobalConfigJSONPath() string { return filepath.Join(l.home, "config.json") }

// GlobalConfigMarkdownPath is the org-wide markdown doc describing the
// organization, edited by humans and read by agents as ambient context.
func (l *Layout) GlobalConfigMarkdownPath() string {
	return filepath.Join(l.OrganizationDir(), "ORGANIZATION.md")
}

// AgentsIndexJSONPath is the sorted, de-duplicated agent id index.
func (l *Layout) AgentsIndexJSONPath() string { return filepath.Join(l.home, "agents.json") }

// TaskDBPath is the embedded relational store backing file for TaskStore.
func (l *Layout) TaskDBPath() string { return filepath.Join(l.home, "boards.sqlite") }

// SanitizeSessionKey maps a sessionKey (which may contain a "kind:"
// prefix such as "project:" or "ui-agent:") to a filesystem-safe directory
// name by replacing path separators and colons with underscores.
func SanitizeSessionKey(sessionKey string) string {
	out := make([]rune, 0, len(sessionKey))
	for _, r := range sessionKey {
		switch r {
		case '/', '\\', ':':
			out = append(out, '_')
		default:
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return "_"
	}
	return string(out)
}
