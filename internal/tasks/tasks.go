// Package tasks implements the TaskStore (C4): a SQLite-backed relational
// store of tasks, with schema migrations, worklog/blocker/artifact side
// tables, and the scheduler queries used to drive timeouts.
package tasks

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/opengoat/opengoat/internal/apierrors"
)

// Status is the enumerated set a task's status must belong to.
type Status string

const (
	StatusTodo    Status = "todo"
	StatusDoing   Status = "doing"
	StatusPending Status = "pending"
	StatusBlocked Status = "blocked"
	StatusDone    Status = "done"
)

func validStatus(s Status) bool {
	switch s {
	case StatusTodo, StatusDoing, StatusPending, StatusBlocked, StatusDone:
		return true
	}
	return false
}

func requiresReason(s Status) bool {
	return s == StatusBlocked || s == StatusPending
}

// WorklogEntry is one append-only entry of a task's worklog.
type WorklogEntry struct {
	CreatedAt time.Time `json:"createdAt"`
	CreatedBy string    `json:"createdBy"`
	Content   string    `json:"content"`
}

// Task is the persisted task record.
type Task struct {
	TaskID          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StatusUpdatedAt time.Time
	Owner           string
	AssignedTo      string
	Title           string
	Description     string
	Status          Status
	StatusReason    string
	Project         string
	Blockers        []string
	Artifacts       []string
	Worklog         []WorklogEntry
}

// Draft is the caller-supplied fields for CreateTask.
type Draft struct {
	Title        string
	Description  string
	Project      string
	AssignedTo   string
	Status       Status
	StatusReason string
}

// Store is the TaskStore. Commits are serialised through a process-wide
// mutex (spec §4.4/§5: "a single process-wide mutex around each commit").
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (creating if necessary) the SQLite database at path and runs
// migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL", path))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// migrate applies the schema in versioned steps tracked by a
// schema_version table, the same idiom as the teacher's
// persistence.Store.migrate (migrateV1/migrateV2 functions run in order,
// each recorded once applied). migrateV1 lays down the schema as it shipped
// before this migration existed (board_id plus a standalone project
// column, no updated_at); migrateV2 adds updated_at and backfills it;
// migrateV3 folds the legacy project column into board_id and drops it,
// then creates the indices (spec §4.4: "drop a legacy project column if
// present; add updated_at ... and backfill it ...; create all indices if
// missing").
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []func(*sql.DB) error{
		migrateV1,
		migrateV2,
		migrateV3,
	}

	for i := version; i < len(migrations); i++ {
		slog.Info("applying task store migration", "version", i+1)
		if err := migrations[i](s.db); err != nil {
			return fmt.Errorf("migration v%d: %w", i+1, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_version (version) VALUES (?)", i+1); err != nil {
			return fmt.Errorf("record migration v%d: %w", i+1, err)
		}
	}

	// Verify by re-reading PRAGMA table_info (spec §4.4: "verify by
	// re-reading PRAGMA table_info"): the legacy column must be gone and
	// updated_at must be present, or migration silently failed.
	hasProject, err := s.columnExists("tasks", "project")
	if err != nil {
		return fmt.Errorf("verify migration: %w", err)
	}
	if hasProject {
		return fmt.Errorf("verify migration: legacy project column still present after migration")
	}
	hasUpdatedAt, err := s.columnExists("tasks", "updated_at")
	if err != nil {
		return fmt.Errorf("verify migration: %w", err)
	}
	if !hasUpdatedAt {
		return fmt.Errorf("verify migration: updated_at column missing after migration")
	}
	return nil
}

// migrateV1 creates the schema as it shipped originally: board_id as a
// fixed 'default' board slot plus a separate project column, and no
// updated_at. Run unconditionally via CREATE TABLE IF NOT EXISTS, so it
// creates the tables in a fresh database and is a no-op against a genuine
// legacy one.
func migrateV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS tasks (
			task_id TEXT PRIMARY KEY,
			board_id TEXT NOT NULL DEFAULT 'default',
			created_at TEXT NOT NULL,
			status_updated_at TEXT NOT NULL,
			owner_agent_id TEXT NOT NULL,
			assigned_to_agent_id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			status_reason TEXT NOT NULL DEFAULT '',
			project TEXT NOT NULL DEFAULT ''
		);
		CREATE TABLE IF NOT EXISTS blockers (task_id TEXT NOT NULL, seq INTEGER NOT NULL, created_at TEXT NOT NULL, created_by TEXT NOT NULL, content TEXT NOT NULL, PRIMARY KEY (task_id, seq));
		CREATE TABLE IF NOT EXISTS artifacts (task_id TEXT NOT NULL, seq INTEGER NOT NULL, created_at TEXT NOT NULL, created_by TEXT NOT NULL, content TEXT NOT NULL, PRIMARY KEY (task_id, seq));
		CREATE TABLE IF NOT EXISTS worklog (task_id TEXT NOT NULL, seq INTEGER NOT NULL, created_at TEXT NOT NULL, created_by TEXT NOT NULL, content TEXT NOT NULL, PRIMARY KEY (task_id, seq));
	`)
	return err
}

// migrateV2 adds updated_at (spec §4.4: "add updated_at with a default
// empty string") and backfills it from status_updated_at or created_at for
// rows written before the column existed.
func migrateV2(db *sql.DB) error {
	exists, err := columnExistsDB(db, "tasks", "updated_at")
	if err != nil {
		return fmt.Errorf("check updated_at column: %w", err)
	}
	if !exists {
		if _, err := db.Exec(`ALTER TABLE tasks ADD COLUMN updated_at TEXT NOT NULL DEFAULT ''`); err != nil {
			return fmt.Errorf("add updated_at column: %w", err)
		}
	}
	if _, err := db.Exec(`
		UPDATE tasks SET updated_at =
			CASE WHEN status_updated_at IS NOT NULL AND status_updated_at != '' THEN status_updated_at ELSE created_at END
		WHERE updated_at IS NULL OR updated_at = ''
	`); err != nil {
		return fmt.Errorf("backfill updated_at: %w", err)
	}
	return nil
}

// migrateV3 drops the legacy project column (spec §4.4: "drop a legacy
// project column if present"), folding its value into board_id first so a
// task's free-form project label survives the drop, then creates the
// indices the logical schema names.
func migrateV3(db *sql.DB) error {
	exists, err := columnExistsDB(db, "tasks", "project")
	if err != nil {
		return fmt.Errorf("check project column: %w", err)
	}
	if exists {
		if _, err := db.Exec(`UPDATE tasks SET board_id = project WHERE project IS NOT NULL AND project != '' AND (board_id IS NULL OR board_id = '' OR board_id = 'default')`); err != nil {
			return fmt.Errorf("fold legacy project into board_id: %w", err)
		}
		if _, err := db.Exec(`ALTER TABLE tasks DROP COLUMN project`); err != nil {
			return fmt.Errorf("drop legacy project column: %w", err)
		}
	}

	for _, stmt := range []string{
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_assignee_created_at ON tasks(assigned_to_agent_id, created_at DESC)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

// columnExists checks PRAGMA table_info for a column via the store's db
// handle.
func (s *Store) columnExists(table, column string) (bool, error) {
	return columnExistsDB(s.db, table, column)
}

// columnExistsDB is the *sql.DB-scoped form columnExists wraps, so the
// versioned migration functions (which only have a *sql.DB) can use it too.
func columnExistsDB(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

func validateDraft(draft Draft) error {
	status := draft.Status
	if status == "" {
		status = StatusTodo
	}
	if !validStatus(status) {
		return apierrors.Validation("invalid_status", fmt.Sprintf("unknown task status %q", status))
	}
	if requiresReason(status) && strings.TrimSpace(draft.StatusReason) == "" {
		return apierrors.Validation("reason_required", fmt.Sprintf("Reason is required when task status is %q.", status))
	}
	if strings.TrimSpace(draft.Title) == "" {
		return apierrors.Validation("title_required", "task title is required")
	}
	return nil
}

// CreateTask inserts a new task owned by actorId. authorize is called with
// (actorId, draft.AssignedTo) before insertion; callers wire AuthzResolver
// through this hook so tasks stays decoupled from C10.
func (s *Store) CreateTask(actorID string, draft Draft, authorize func(actorID, assignedTo string) error) (Task, error) {
	if err := validateDraft(draft); err != nil {
		return Task{}, err
	}
	if authorize != nil {
		if err := authorize(actorID, draft.AssignedTo); err != nil {
			return Task{}, err
		}
	}

	status := draft.Status
	if status == "" {
		status = StatusTodo
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	taskID := uuid.NewString()
	nowStr := formatTime(now)

	_, err := s.db.Exec(
		`INSERT INTO tasks (task_id, board_id, created_at, updated_at, status_updated_at, owner_agent_id, assigned_to_agent_id, title, description, status, status_reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		taskID, draft.Project, nowStr, nowStr, nowStr, actorID, draft.AssignedTo, draft.Title, draft.Description, string(status), draft.StatusReason,
	)
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}

	return Task{
		TaskID:          taskID,
		CreatedAt:       now,
		UpdatedAt:       now,
		StatusUpdatedAt: now,
		Owner:           actorID,
		AssignedTo:      draft.AssignedTo,
		Title:           draft.Title,
		Description:     draft.Description,
		Status:          status,
		StatusReason:    draft.StatusReason,
		Project:         draft.Project,
	}, nil
}

// timeLayout is a fixed-width, zero-padded nanosecond timestamp. Unlike
// time.RFC3339Nano (which trims trailing fractional zeros to a variable
// width), this sorts correctly as a plain TEXT column: the cutoff queries
// in ListDoingTaskIDsOlderThan/ListByStatusOlderThan compare it lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t
	}
	// Fall back for rows written before timeLayout was fixed-width.
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// GetTask fetches a single task (case-insensitive id match) with its side
// tables populated.
func (s *Store) GetTask(taskID string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getTaskLocked(taskID)
}

func (s *Store) getTaskLocked(taskID string) (Task, error) {
	row := s.db.QueryRow(
		`SELECT task_id, created_at, updated_at, status_updated_at, owner_agent_id, assigned_to_agent_id, title, description, status, status_reason, board_id
		 FROM tasks WHERE task_id = ? COLLATE NOCASE`, taskID)

	var t Task
	var createdAt, updatedAt, statusUpdatedAt string
	var status string
	if err := row.Scan(&t.TaskID, &createdAt, &updatedAt, &statusUpdatedAt, &t.Owner, &t.AssignedTo, &t.Title, &t.Description, &status, &t.StatusReason, &t.Project); err != nil {
		if err == sql.ErrNoRows {
			return Task{}, apierrors.NotFound("task_not_found", fmt.Sprintf("task %q not found", taskID))
		}
		return Task{}, fmt.Errorf("get task: %w", err)
	}
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	t.StatusUpdatedAt = parseTime(statusUpdatedAt)
	t.Status = Status(status)

	var err error
	if t.Blockers, err = s.readSideTable(t.TaskID, "blockers"); err != nil {
		return Task{}, err
	}
	if t.Artifacts, err = s.readSideTable(t.TaskID, "artifacts"); err != nil {
		return Task{}, err
	}
	if t.Worklog, err = s.readWorklog(t.TaskID); err != nil {
		return Task{}, err
	}
	return t, nil
}

func (s *Store) readSideTable(taskID, table string) ([]string, error) {
	rows, err := s.db.Query(fmt.Sprintf("SELECT content FROM %s WHERE task_id = ? ORDER BY seq ASC", table), taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, err
		}
		out = append(out, content)
	}
	return out, rows.Err()
}

func (s *Store) readWorklog(taskID string) ([]WorklogEntry, error) {
	rows, err := s.db.Query("SELECT created_at, created_by, content FROM worklog WHERE task_id = ? ORDER BY seq ASC", taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []WorklogEntry
	for rows.Next() {
		var createdAt, createdBy, content string
		if err := rows.Scan(&createdAt, &createdBy, &content); err != nil {
			return nil, err
		}
		out = append(out, WorklogEntry{CreatedAt: parseTime(createdAt), CreatedBy: createdBy, Content: content})
	}
	return out, rows.Err()
}

// UpdateTaskStatus advances a task's status (after checking authz by
// calling authorize on the stored task) and bumps
// updated_at/status_updated_at.
func (s *Store) UpdateTaskStatus(actorID, taskID string, status Status, reason string, authorize func(actorID string, task Task) error) error {
	if !validStatus(status) {
		return apierrors.Validation("invalid_status", fmt.Sprintf("unknown task status %q", status))
	}
	if requiresReason(status) && strings.TrimSpace(reason) == "" {
		return apierrors.Validation("reason_required", fmt.Sprintf("Reason is required when task status is %q.", status))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	task, err := s.getTaskLocked(taskID)
	if err != nil {
		return err
	}
	if authorize != nil {
		if err := authorize(actorID, task); err != nil {
			return err
		}
	}

	now := formatTime(time.Now().UTC())
	_, err = s.db.Exec(
		"UPDATE tasks SET status = ?, status_reason = ?, updated_at = ?, status_updated_at = ? WHERE task_id = ? COLLATE NOCASE",
		string(status), reason, now, now, task.TaskID,
	)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return nil
}

// ResetTaskStatusTimeout bumps status_updated_at without changing status.
// The scheduler calls this after nudging a task via InvocationExecutor.
func (s *Store) ResetTaskStatusTimeout(taskID string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := formatTime(time.Now().UTC())
	res, err := s.db.Exec(
		"UPDATE tasks SET status_updated_at = ? WHERE task_id = ? COLLATE NOCASE AND status = ?",
		now, taskID, string(status),
	)
	if err != nil {
		return fmt.Errorf("reset status timeout: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apierrors.NotFound("task_not_found", fmt.Sprintf("task %q not found with status %q", taskID, status))
	}
	return nil
}

func (s *Store) appendSideEntry(actorID, taskID, table, content string, authorize func(actorID string, task Task) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, err := s.getTaskLocked(taskID)
	if err != nil {
		return err
	}
	if authorize != nil {
		if err := authorize(actorID, task); err != nil {
			return err
		}
	}

	var nextSeq int
	row := s.db.QueryRow(fmt.Sprintf("SELECT COALESCE(MAX(seq), -1) + 1 FROM %s WHERE task_id = ?", table), task.TaskID)
	if err := row.Scan(&nextSeq); err != nil {
		return fmt.Errorf("compute seq: %w", err)
	}

	now := formatTime(time.Now().UTC())
	if _, err := s.db.Exec(
		fmt.Sprintf("INSERT INTO %s (task_id, seq, created_at, created_by, content) VALUES (?, ?, ?, ?, ?)", table),
		task.TaskID, nextSeq, now, actorID, content,
	); err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	if _, err := s.db.Exec("UPDATE tasks SET updated_at = ? WHERE task_id = ? COLLATE NOCASE", now, task.TaskID); err != nil {
		return fmt.Errorf("touch updated_at: %w", err)
	}
	return nil
}

// AddBlocker appends a blocker entry.
func (s *Store) AddBlocker(actorID, taskID, content string, authorize func(actorID string, task Task) error) error {
	return s.appendSideEntry(actorID, taskID, "blockers", content, authorize)
}

// AddArtifact appends an artifact entry.
func (s *Store) AddArtifact(actorID, taskID, content string, authorize func(actorID string, task Task) error) error {
	return s.appendSideEntry(actorID, taskID, "artifacts", content, authorize)
}

// AddWorklog appends a worklog entry.
func (s *Store) AddWorklog(actorID, taskID, content string, authorize func(actorID string, task Task) error) error {
	return s.appendSideEntry(actorID, taskID, "worklog", content, authorize)
}

// DeleteResult is the return value of DeleteTasks.
type DeleteResult struct {
	DeletedTaskIDs []string
	DeletedCount   int
}

// DeleteTasks de-duplicates ids, applies authz per id, and deletes every
// task (and its side-table rows) the actor is authorized for.
func (s *Store) DeleteTasks(actorID string, ids []string, authorize func(actorID string, task Task) error) (DeleteResult, error) {
	seen := map[string]bool{}
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		key := strings.ToLower(id)
		if seen[key] {
			continue
		}
		seen[key] = true
		unique = append(unique, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result := DeleteResult{}
	for _, id := range unique {
		task, err := s.getTaskLocked(id)
		if err != nil {
			continue // already gone; not an error for bulk delete
		}
		if authorize != nil {
			if err := authorize(actorID, task); err != nil {
				return result, err
			}
		}
		for _, table := range []string{"blockers", "artifacts", "worklog"} {
			if _, err := s.db.Exec(fmt.Sprintf("DELETE FROM %s WHERE task_id = ? COLLATE NOCASE", table), task.TaskID); err != nil {
				return result, fmt.Errorf("delete %s: %w", table, err)
			}
		}
		if _, err := s.db.Exec("DELETE FROM tasks WHERE task_id = ? COLLATE NOCASE", task.TaskID); err != nil {
			return result, fmt.Errorf("delete task: %w", err)
		}
		result.DeletedTaskIDs = append(result.DeletedTaskIDs, task.TaskID)
		result.DeletedCount++
	}
	return result, nil
}

// ListTasks returns every task, newest first.
func (s *Store) ListTasks() ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT task_id FROM tasks ORDER BY created_at DESC, task_id ASC`)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Task, 0, len(ids))
	for _, id := range ids {
		t, err := s.getTaskLocked(id)
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// LatestOptions filters ListLatestTasks.
type LatestOptions struct {
	Assignee string
	Limit    int
}

// ListLatestTasks returns at most min(limit, 100) tasks ordered by
// createdAt desc (ties broken by task_id), optionally filtered by assignee.
func (s *Store) ListLatestTasks(opts LatestOptions) ([]Task, error) {
	limit := opts.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var rows *sql.Rows
	var err error
	if opts.Assignee != "" {
		rows, err = s.db.Query(
			`SELECT task_id FROM tasks WHERE assigned_to_agent_id = ? COLLATE NOCASE ORDER BY created_at DESC, task_id ASC LIMIT ?`,
			opts.Assignee, limit,
		)
	} else {
		rows, err = s.db.Query(`SELECT task_id FROM tasks ORDER BY created_at DESC, task_id ASC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Task, 0, len(ids))
	for _, id := range ids {
		t, err := s.getTaskLocked(id)
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// ListDoingTaskIDsOlderThan returns task ids with status='doing' whose
// status_updated_at is at least minutes old.
func (s *Store) ListDoingTaskIDsOlderThan(minutes int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := formatTime(time.Now().UTC().Add(-time.Duration(minutes) * time.Minute))
	rows, err := s.db.Query(
		"SELECT task_id FROM tasks WHERE status = ? AND status_updated_at <= ?",
		string(StatusDoing), cutoff,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListByStatusOlderThan returns task ids with the given status whose
// updated_at is at least minutes old. Used by the todo/blocked sweeps.
func (s *Store) ListByStatusOlderThan(status Status, minutes int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := formatTime(time.Now().UTC().Add(-time.Duration(minutes) * time.Minute))
	rows, err := s.db.Query(
		"SELECT task_id FROM tasks WHERE status = ? AND updated_at <= ?",
		string(status), cutoff,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
