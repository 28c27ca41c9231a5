// Package scheduler implements the TaskScheduler (C9): a cron-like loop
// that re-drives stuck or inactive work by re-sending synthesized messages
// through the InvocationExecutor. It is a process-wide singleton exposing
// explicit Start/Stop so tests can run it deterministically (spec §9).
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/opengoat/opengoat/internal/agents"
	"github.com/opengoat/opengoat/internal/executor"
	"github.com/opengoat/opengoat/internal/settings"
	"github.com/opengoat/opengoat/internal/streambroker"
	"github.com/opengoat/opengoat/internal/tasks"
)

// TaskLister is the subset of tasks.Store the scheduler needs.
type TaskLister interface {
	ListByStatusOlderThan(status tasks.Status, minutes int) ([]string, error)
	ListDoingTaskIDsOlderThan(minutes int) ([]string, error)
	ResetTaskStatusTimeout(taskID string, status tasks.Status) error
	GetTask(taskID string) (tasks.Task, error)
}

// AgentLister is the subset of agents.Store the scheduler needs.
type AgentLister interface {
	ListAgents() ([]agents.Agent, error)
}

// ActivityLookup is the subset of sessionstore.Store the scheduler needs to
// drive the inactivity sweep.
type ActivityLookup interface {
	LastAssistantMessageAtForAgent(agentID string) (time.Time, error)
}

// Invoker is the subset of executor.Executor the scheduler needs.
type Invoker interface {
	Invoke(ctx context.Context, providerID, agentID, sessionKey string, req executor.Request) *streambroker.Invocation
}

// SettingsLoader is the subset of settings.Store the scheduler needs.
type SettingsLoader interface {
	Load() (settings.Settings, error)
}

// Config bundles the scheduler's tunables. The three task-sweep thresholds
// are scheduler-level tunables (spec §4.9 says only "threshold derived
// from settings" for the doing sweep without naming a settings field);
// DESIGN.md records the decision to keep them as Config rather than adding
// undocumented fields to the Settings JSON document.
type Config struct {
	Interval              time.Duration
	TodoTimeoutMinutes    int
	BlockedTimeoutMinutes int
	DoingTimeoutMinutes   int
	DefaultProviderID     string
	SweepRateLimit        rate.Limit // nudges per second, across all sweeps
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.TodoTimeoutMinutes <= 0 {
		c.TodoTimeoutMinutes = 15
	}
	if c.BlockedTimeoutMinutes <= 0 {
		c.BlockedTimeoutMinutes = 15
	}
	if c.DoingTimeoutMinutes <= 0 {
		c.DoingTimeoutMinutes = 15
	}
	if c.DefaultProviderID == "" {
		c.DefaultProviderID = "openclaw"
	}
	if c.SweepRateLimit <= 0 {
		c.SweepRateLimit = 5
	}
	return c
}

// Scheduler is the TaskScheduler (C9).
type Scheduler struct {
	tasks      TaskLister
	agentsList AgentLister
	activity   ActivityLookup
	invoker    Invoker
	settings   SettingsLoader
	cfg        Config
	limiter    *rate.Limiter

	mu      sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// New creates a Scheduler. It does not start the loop; call Start.
func New(taskStore TaskLister, agentStore AgentLister, activity ActivityLookup, invoker Invoker, settingsStore SettingsLoader, cfg Config) *Scheduler {
	cfg = cfg.withDefaults()
	return &Scheduler{
		tasks:      taskStore,
		agentsList: agentStore,
		activity:   activity,
		invoker:    invoker,
		settings:   settingsStore,
		cfg:        cfg,
		limiter:    rate.NewLimiter(cfg.SweepRateLimit, 1),
	}
}

// Start begins the cron loop. It does not read settings itself:
// cmd/opengoatd calls it only when taskCronEnabled is set, and
// SettingsStore.OnCronToggle wires subsequent enable/disable without
// restarting the process. Calling Start while already running is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.loop(ctx, s.stopCh, s.doneCh)
}

// Stop halts the cron loop and waits for the current tick to finish.
// Calling Stop when not running is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	stopCh, doneCh := s.stopCh, s.doneCh
	s.running = false
	s.mu.Unlock()

	close(stopCh)
	<-doneCh
}

func (s *Scheduler) loop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs the four sweeps in order, skipping any remaining sweep if the
// tick has already overrun into the next tick boundary (spec §4.9: "each
// sweep is skipped if the previous one overruns into the next tick
// boundary").
func (s *Scheduler) tick(ctx context.Context) {
	deadline := time.Now().Add(s.cfg.Interval)

	cfg, err := s.settings.Load()
	if err != nil {
		slog.Error("scheduler: failed to load settings", "error", err)
		return
	}

	sweeps := []func(context.Context, settings.Settings){
		s.todoSweep,
		s.blockedSweep,
		s.doingTimeoutSweep,
		s.inactivitySweep,
	}
	for _, sweep := range sweeps {
		if time.Now().After(deadline) {
			slog.Warn("scheduler: tick overran, skipping remaining sweeps")
			return
		}
		sweep(ctx, cfg)
	}
}

func (s *Scheduler) nudge(ctx context.Context, agentID, sessionKey, message string) {
	if err := s.limiter.Wait(ctx); err != nil {
		return
	}
	inv := s.invoker.Invoke(ctx, s.cfg.DefaultProviderID, agentID, sessionKey, executor.Request{Message: message})
	if _, err := inv.AwaitResult(ctx); err != nil {
		slog.Warn("scheduler: nudge invocation did not complete", "agent", agentID, "error", err)
	}
}

// todoSweep nudges the assignee of every stale todo task (spec §4.9.1).
func (s *Scheduler) todoSweep(ctx context.Context, _ settings.Settings) {
	ids, err := s.tasks.ListByStatusOlderThan(tasks.StatusTodo, s.cfg.TodoTimeoutMinutes)
	if err != nil {
		slog.Error("scheduler: todo sweep query failed", "error", err)
		return
	}
	for _, id := range ids {
		task, err := s.tasks.GetTask(id)
		if err != nil || task.AssignedTo == "" {
			continue
		}
		s.nudge(ctx, task.AssignedTo, taskSessionKey(task.AssignedTo), fmt.Sprintf("Status check on task %s", task.TaskID))
		if err := s.tasks.ResetTaskStatusTimeout(task.TaskID, tasks.StatusTodo); err != nil {
			slog.Error("scheduler: failed to reset todo timeout", "task", task.TaskID, "error", err)
		}
	}
}

// blockedSweep nudges the owner (reporting parent) of every stale blocked
// task with its statusReason (spec §4.9.2).
func (s *Scheduler) blockedSweep(ctx context.Context, _ settings.Settings) {
	ids, err := s.tasks.ListByStatusOlderThan(tasks.StatusBlocked, s.cfg.BlockedTimeoutMinutes)
	if err != nil {
		slog.Error("scheduler: blocked sweep query failed", "error", err)
		return
	}
	for _, id := range ids {
		task, err := s.tasks.GetTask(id)
		if err != nil || task.Owner == "" {
			continue
		}
		message := fmt.Sprintf("Task %s is blocked: %s", task.TaskID, task.StatusReason)
		s.nudge(ctx, task.Owner, taskSessionKey(task.Owner), message)
		if err := s.tasks.ResetTaskStatusTimeout(task.TaskID, tasks.StatusBlocked); err != nil {
			slog.Error("scheduler: failed to reset blocked timeout", "task", task.TaskID, "error", err)
		}
	}
}

// doingTimeoutSweep nudges the assignee of every task that has sat in
// "doing" past the threshold and resets its timeout (spec §4.9.3).
func (s *Scheduler) doingTimeoutSweep(ctx context.Context, _ settings.Settings) {
	ids, err := s.tasks.ListDoingTaskIDsOlderThan(s.cfg.DoingTimeoutMinutes)
	if err != nil {
		slog.Error("scheduler: doing sweep query failed", "error", err)
		return
	}
	for _, id := range ids {
		task, err := s.tasks.GetTask(id)
		if err != nil || task.AssignedTo == "" {
			continue
		}
		s.nudge(ctx, task.AssignedTo, taskSessionKey(task.AssignedTo), fmt.Sprintf("Status check on task %s", task.TaskID))
		if err := s.tasks.ResetTaskStatusTimeout(task.TaskID, tasks.StatusDoing); err != nil {
			slog.Error("scheduler: failed to reset doing timeout", "task", task.TaskID, "error", err)
		}
	}
}

// inactivitySweep notifies a manager when one of their reportees has gone
// quiet for longer than maxInactivityMinutes (spec §4.9.4). The "last
// activity" definition is recorded in SPEC_FULL.md's Open Question
// decisions: the most recent assistant transcript entry.
func (s *Scheduler) inactivitySweep(ctx context.Context, cfg settings.Settings) {
	if !cfg.NotifyManagersOfInactiveAgents {
		return
	}
	all, err := s.agentsList.ListAgents()
	if err != nil {
		slog.Error("scheduler: inactivity sweep failed to list agents", "error", err)
		return
	}
	threshold := time.Duration(cfg.MaxInactivityMinutes) * time.Minute

	for _, agent := range all {
		if agent.ReportsTo == "" {
			continue // root agent has no manager to notify
		}
		lastActive, err := s.activity.LastAssistantMessageAtForAgent(agent.ID)
		if err != nil || lastActive.IsZero() {
			continue
		}
		if time.Since(lastActive) < threshold {
			continue
		}

		target := agent.ReportsTo
		if cfg.InactiveAgentNotificationTarget == settings.TargetCEOOnly {
			if agent.ReportsTo != agents.DefaultRootID {
				continue
			}
			target = agents.DefaultRootID
		}

		message := fmt.Sprintf("Agent %s has been inactive for over %d minutes.", agent.ID, cfg.MaxInactivityMinutes)
		s.nudge(ctx, target, taskSessionKey(target), message)
	}
}

// taskSessionKey is the session key scheduler-driven nudges use, keyed per
// target agent so repeated nudges to the same agent serialize through the
// normal per-session executor mutex (spec §4.9: "all scheduler-driven
// invocations reuse the normal executor path").
func taskSessionKey(targetAgentID string) string {
	return fmt.Sprintf("ui-agent:%s:scheduler", targetAgentID)
}
