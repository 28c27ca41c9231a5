package tasks

import (
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func allow(actorID, assignedTo string) error { return nil }
func allowTask(actorID string, task Task) error { return nil }

func TestCreateTask_DefaultsAndValidation(t *testing.T) {
	s := newTestStore(t)

	task, err := s.CreateTask("ceo", Draft{Title: "ship it", AssignedTo: "eng"}, allow)
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if task.Status != StatusTodo {
		t.Errorf("Status = %q, want todo", task.Status)
	}
	if task.TaskID == "" {
		t.Error("expected non-empty TaskID")
	}

	if _, err := s.CreateTask("ceo", Draft{Title: ""}, allow); err == nil {
		t.Error("expected error for empty title")
	}

	if _, err := s.CreateTask("ceo", Draft{Title: "x", Status: StatusBlocked}, allow); err == nil {
		t.Error("expected error for blocked status without reason")
	}
}

func TestUpdateTaskStatus_RequiresReasonForBlocked(t *testing.T) {
	s := newTestStore(t)
	task, err := s.CreateTask("ceo", Draft{Title: "ship it"}, allow)
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	if err := s.UpdateTaskStatus("ceo", task.TaskID, StatusBlocked, "", allowTask); err == nil {
		t.Error("expected error updating to blocked without reason")
	}

	if err := s.UpdateTaskStatus("ceo", task.TaskID, StatusBlocked, "waiting on review", allowTask); err != nil {
		t.Fatalf("UpdateTaskStatus() error = %v", err)
	}

	got, err := s.GetTask(task.TaskID)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if got.Status != StatusBlocked || got.StatusReason != "waiting on review" {
		t.Errorf("got = %+v", got)
	}
}

func TestGetTask_CaseInsensitiveID(t *testing.T) {
	s := newTestStore(t)
	task, err := s.CreateTask("ceo", Draft{Title: "ship it"}, allow)
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	if _, err := s.GetTask(strings.ToUpper(task.TaskID)); err != nil {
		t.Fatalf("GetTask(upper) error = %v", err)
	}

	if _, err := s.GetTask("does-not-exist"); err == nil {
		t.Error("expected not_found error")
	}
}

func TestAppendSideTables(t *testing.T) {
	s := newTestStore(t)
	task, err := s.CreateTask("ceo", Draft{Title: "ship it"}, allow)
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	if err := s.AddBlocker("ceo", task.TaskID, "waiting on infra", allowTask); err != nil {
		t.Fatalf("AddBlocker() error = %v", err)
	}
	if err := s.AddArtifact("ceo", task.TaskID, "https://example.com/pr/1", allowTask); err != nil {
		t.Fatalf("AddArtifact() error = %v", err)
	}
	if err := s.AddWorklog("ceo", task.TaskID, "started work", allowTask); err != nil {
		t.Fatalf("AddWorklog() error = %v", err)
	}

	got, err := s.GetTask(task.TaskID)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if len(got.Blockers) != 1 || got.Blockers[0] != "waiting on infra" {
		t.Errorf("Blockers = %v", got.Blockers)
	}
	if len(got.Artifacts) != 1 {
		t.Errorf("Artifacts = %v", got.Artifacts)
	}
	if len(got.Worklog) != 1 || got.Worklog[0].Content != "started work" {
		t.Errorf("Worklog = %+v", got.Worklog)
	}
}

func TestDeleteTasks_DedupesAndSkipsMissing(t *testing.T) {
	s := newTestStore(t)
	task, err := s.CreateTask("ceo", Draft{Title: "ship it"}, allow)
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	result, err := s.DeleteTasks("ceo", []string{task.TaskID, task.TaskID, "nope"}, allowTask)
	if err != nil {
		t.Fatalf("DeleteTasks() error = %v", err)
	}
	if result.DeletedCount != 1 {
		t.Errorf("DeletedCount = %d, want 1", result.DeletedCount)
	}

	if _, err := s.GetTask(task.TaskID); err == nil {
		t.Error("expected task to be gone")
	}
}

func TestListLatestTasks_FiltersByAssigneeAndCapsLimit(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.CreateTask("ceo", Draft{Title: "a", AssignedTo: "eng"}, allow); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if _, err := s.CreateTask("ceo", Draft{Title: "b", AssignedTo: "design"}, allow); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	engOnly, err := s.ListLatestTasks(LatestOptions{Assignee: "eng"})
	if err != nil {
		t.Fatalf("ListLatestTasks() error = %v", err)
	}
	if len(engOnly) != 1 || engOnly[0].AssignedTo != "eng" {
		t.Errorf("engOnly = %+v", engOnly)
	}

	all, err := s.ListLatestTasks(LatestOptions{Limit: 1000})
	if err != nil {
		t.Fatalf("ListLatestTasks() error = %v", err)
	}
	if len(all) != 2 {
		t.Errorf("all = %d tasks, want 2", len(all))
	}
}

func TestListDoingTaskIDsOlderThan_Empty(t *testing.T) {
	s := newTestStore(t)
	task, err := s.CreateTask("ceo", Draft{Title: "a", Status: StatusTodo}, allow)
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if err := s.UpdateTaskStatus("ceo", task.TaskID, StatusDoing, "", allowTask); err != nil {
		t.Fatalf("UpdateTaskStatus() error = %v", err)
	}

	ids, err := s.ListDoingTaskIDsOlderThan(60)
	if err != nil {
		t.Fatalf("ListDoingTaskIDsOlderThan() error = %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("expected no tasks older than 60 minutes, got %v", ids)
	}

	ids, err = s.ListDoingTaskIDsOlderThan(0)
	if err != nil {
		t.Fatalf("ListDoingTaskIDsOlderThan(0) error = %v", err)
	}
	if len(ids) != 1 || ids[0] != task.TaskID {
		t.Errorf("ids = %v, want [%s]", ids, task.TaskID)
	}
}

func TestResetTaskStatusTimeout_RequiresMatchingStatus(t *testing.T) {
	s := newTestStore(t)
	task, err := s.CreateTask("ceo", Draft{Title: "a"}, allow)
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	if err := s.ResetTaskStatusTimeout(task.TaskID, StatusDoing); err == nil {
		t.Error("expected error resetting timeout for a task not in the given status")
	}
	if err := s.ResetTaskStatusTimeout(task.TaskID, StatusTodo); err != nil {
		t.Errorf("ResetTaskStatusTimeout() error = %v", err)
	}
}
