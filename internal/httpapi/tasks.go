package httpapi

import (
	"net/http"
	"strconv"

	"github.com/opengoat/opengoat/internal/apierrors"
	"github.com/opengoat/opengoat/internal/authz"
	"github.com/opengoat/opengoat/internal/tasks"
)

type taskView struct {
	TaskID       string              `json:"taskId"`
	CreatedAt    string              `json:"createdAt"`
	UpdatedAt    string              `json:"updatedAt"`
	Owner        string              `json:"owner"`
	AssignedTo   string              `json:"assignedTo"`
	Title        string              `json:"title"`
	Description  string              `json:"description"`
	Status       string              `json:"status"`
	StatusReason string              `json:"statusReason,omitempty"`
	Project      string              `json:"project,omitempty"`
	Blockers     []string            `json:"blockers"`
	Artifacts    []string            `json:"artifacts"`
	Worklog      []tasks.WorklogEntry `json:"worklog"`
}

func toTaskView(t tasks.Task) taskView {
	return taskView{
		TaskID:       t.TaskID,
		CreatedAt:    t.CreatedAt.Format(rfc3339),
		UpdatedAt:    t.UpdatedAt.Format(rfc3339),
		Owner:        t.Owner,
		AssignedTo:   t.AssignedTo,
		Title:        t.Title,
		Description:  t.Description,
		Status:       string(t.Status),
		StatusReason: t.StatusReason,
		Project:      t.Project,
		Blockers:     t.Blockers,
		Artifacts:    t.Artifacts,
		Worklog:      t.Worklog,
	}
}

const rfc3339 = "2006-01-02T15:04:05.999999999Z07:00"

// taskRef adapts a tasks.Task into the minimal shape authz.Resolver checks.
func taskRef(t tasks.Task) authz.TaskRef {
	return authz.TaskRef{Owner: t.Owner, AssignedTo: t.AssignedTo}
}

// handleListTasks serves GET /api/tasks?assignee&limit. With neither query
// param it returns the full board; either narrows to listLatestTasks.
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	assignee := r.URL.Query().Get("assignee")
	limitRaw := r.URL.Query().Get("limit")
	if assignee == "" && limitRaw == "" {
		all, err := s.tasks.ListTasks()
		if err != nil {
			writeError(w, err)
			return
		}
		writeTaskList(w, all)
		return
	}

	limit := 0
	if limitRaw != "" {
		if n, err := parsePositiveInt(limitRaw); err == nil {
			limit = n
		}
	}
	all, err := s.tasks.ListLatestTasks(tasks.LatestOptions{Assignee: assignee, Limit: limit})
	if err != nil {
		writeError(w, err)
		return
	}
	writeTaskList(w, all)
}

func writeTaskList(w http.ResponseWriter, all []tasks.Task) {
	views := make([]taskView, 0, len(all))
	for _, t := range all {
		views = append(views, toTaskView(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": views})
}

func parsePositiveInt(raw string) (int, error) {
	return strconv.Atoi(raw)
}

// handleCreateTask serves POST /api/tasks {actorId,title,description,
// project,assignedTo,status,statusReason}.
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ActorID      string       `json:"actorId"`
		Title        string       `json:"title"`
		Description  string       `json:"description"`
		Project      string       `json:"project"`
		AssignedTo   string       `json:"assignedTo"`
		Status       tasks.Status `json:"status"`
		StatusReason string       `json:"statusReason"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.ActorID == "" {
		writeError(w, apierrors.Validation("missing_actor_id", "actorId is required"))
		return
	}

	draft := tasks.Draft{
		Title:        body.Title,
		Description:  body.Description,
		Project:      body.Project,
		AssignedTo:   body.AssignedTo,
		Status:       body.Status,
		StatusReason: body.StatusReason,
	}
	task, err := s.tasks.CreateTask(body.ActorID, draft, s.authz.AuthorizeAssignment)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskView(task))
}

func (s *Server) authorizeTask(actorID string, t tasks.Task) error {
	return s.authz.AuthorizeTask(actorID, taskRef(t))
}

// handleUpdateTaskStatus serves POST /api/tasks/{id}/status
// {actorId,status,reason?}.
func (s *Server) handleUpdateTaskStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body struct {
		ActorID string       `json:"actorId"`
		Status  tasks.Status `json:"status"`
		Reason  string       `json:"reason"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.ActorID == "" {
		writeError(w, apierrors.Validation("missing_actor_id", "actorId is required"))
		return
	}
	if err := s.tasks.UpdateTaskStatus(body.ActorID, id, body.Status, body.Reason, s.authorizeTask); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"taskId": id, "status": body.Status})
}

type contentBody struct {
	ActorID string `json:"actorId"`
	Content string `json:"content"`
}

func (s *Server) decodeContentBody(w http.ResponseWriter, r *http.Request) (string, contentBody, bool) {
	id := r.PathValue("id")
	var body contentBody
	if !decodeJSON(w, r, &body) {
		return "", body, false
	}
	if body.ActorID == "" {
		writeError(w, apierrors.Validation("missing_actor_id", "actorId is required"))
		return "", body, false
	}
	return id, body, true
}

// handleAddBlocker serves POST /api/tasks/{id}/blocker {actorId,content}.
func (s *Server) handleAddBlocker(w http.ResponseWriter, r *http.Request) {
	id, body, ok := s.decodeContentBody(w, r)
	if !ok {
		return
	}
	if err := s.tasks.AddBlocker(body.ActorID, id, body.Content, s.authorizeTask); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"taskId": id})
}

// handleAddArtifact serves POST /api/tasks/{id}/artifact {actorId,content}.
func (s *Server) handleAddArtifact(w http.ResponseWriter, r *http.Request) {
	id, body, ok := s.decodeContentBody(w, r)
	if !ok {
		return
	}
	if err := s.tasks.AddArtifact(body.ActorID, id, body.Content, s.authorizeTask); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"taskId": id})
}

// handleAddWorklog serves POST /api/tasks/{id}/worklog {actorId,content}.
func (s *Server) handleAddWorklog(w http.ResponseWriter, r *http.Request) {
	id, body, ok := s.decodeContentBody(w, r)
	if !ok {
		return
	}
	if err := s.tasks.AddWorklog(body.ActorID, id, body.Content, s.authorizeTask); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"taskId": id})
}

// handleDeleteTasks serves POST /api/tasks/delete {actorId,taskIds[]}.
func (s *Server) handleDeleteTasks(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ActorID string   `json:"actorId"`
		TaskIDs []string `json:"taskIds"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.ActorID == "" {
		writeError(w, apierrors.Validation("missing_actor_id", "actorId is required"))
		return
	}
	result, err := s.tasks.DeleteTasks(body.ActorID, body.TaskIDs, s.authorizeTask)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deletedTaskIds": result.DeletedTaskIDs,
		"deletedCount":   result.DeletedCount,
	})
}
