// Package skills implements the skills catalog referenced by spec §6
// (GET /api/skills) and consumed by the InvocationExecutor's context
// assembly (spec §4.7): a flat collection of markdown documents, either
// global (shared by every agent) or scoped to a single agent's workspace.
package skills

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/opengoat/opengoat/internal/layout"
)

// Skill is a single catalog entry: a named markdown document.
type Skill struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Catalog reads skill documents from the filesystem.
type Catalog struct {
	layout *layout.Layout
}

// New creates a Catalog rooted at the given layout.
func New(l *layout.Layout) *Catalog {
	return &Catalog{layout: l}
}

// Global returns every markdown file directly under the shared skills
// directory, sorted by name.
func (c *Catalog) Global() ([]Skill, error) {
	return readDir(c.layout.SkillsDir())
}

// ForAgent returns every markdown file under an individual agent's
// workspace "skills" subdirectory (workspaces/<id>/skills/*.md), which
// lets an agent carry skills the global catalog doesn't, sorted by name.
func (c *Catalog) ForAgent(agentID string) ([]Skill, error) {
	return readDir(filepath.Join(c.layout.WorkspaceDir(agentID), "skills"))
}

func readDir(dir string) ([]Skill, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []Skill
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		out = append(out, Skill{
			Name:    strings.TrimSuffix(e.Name(), ".md"),
			Content: string(data),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// BuildPrompt renders a set of skills into the "## Skills" system-prompt
// section InvocationExecutor injects (spec §4.7), one "### <name>" heading
// per skill in catalog order.
func BuildPrompt(items []Skill) string {
	if len(items) == 0 {
		return ""
	}
	var b strings.Builder
	for i, s := range items {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("### ")
		b.WriteString(s.Name)
		b.WriteString("\n\n")
		b.WriteString(s.Content)
	}
	return b.String()
}
