package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/opengoat/opengoat/internal/agents"
	"github.com/opengoat/opengoat/internal/executor"
	"github.com/opengoat/opengoat/internal/settings"
	"github.com/opengoat/opengoat/internal/streambroker"
	"github.com/opengoat/opengoat/internal/tasks"
)

type fakeTasks struct {
	mu             sync.Mutex
	todo           []string
	blocked        []string
	doing          []string
	tasksByID      map[string]tasks.Task
	resetCalls     []string
}

func (f *fakeTasks) ListByStatusOlderThan(status tasks.Status, minutes int) ([]string, error) {
	switch status {
	case tasks.StatusTodo:
		return f.todo, nil
	case tasks.StatusBlocked:
		return f.blocked, nil
	}
	return nil, nil
}

func (f *fakeTasks) ListDoingTaskIDsOlderThan(minutes int) ([]string, error) {
	return f.doing, nil
}

func (f *fakeTasks) ResetTaskStatusTimeout(taskID string, status tasks.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetCalls = append(f.resetCalls, taskID)
	return nil
}

func (f *fakeTasks) GetTask(taskID string) (tasks.Task, error) {
	return f.tasksByID[taskID], nil
}

type fakeAgentLister struct {
	list []agents.Agent
}

func (f fakeAgentLister) ListAgents() ([]agents.Agent, error) { return f.list, nil }

type fakeActivity struct {
	lastActive map[string]time.Time
}

func (f fakeActivity) LastAssistantMessageAtForAgent(agentID string) (time.Time, error) {
	return f.lastActive[agentID], nil
}

type recordedNudge struct {
	agentID string
	message string
}

type fakeInvoker struct {
	mu      sync.Mutex
	nudges  []recordedNudge
}

func (f *fakeInvoker) Invoke(ctx context.Context, providerID, agentID, sessionKey string, req executor.Request) *streambroker.Invocation {
	f.mu.Lock()
	f.nudges = append(f.nudges, recordedNudge{agentID: agentID, message: req.Message})
	f.mu.Unlock()

	inv := streambroker.NewInvocation()
	inv.Publish(streambroker.StreamEvent{Kind: streambroker.EventResult, Result: &streambroker.Result{Code: 0}})
	return inv
}

type fakeSettings struct {
	settings.Settings
}

func (f fakeSettings) Load() (settings.Settings, error) { return f.Settings, nil }

func TestTodoSweep_NudgesAssigneeAndResetsTimeout(t *testing.T) {
	ft := &fakeTasks{
		todo: []string{"t1"},
		tasksByID: map[string]tasks.Task{
			"t1": {TaskID: "t1", AssignedTo: "eng"},
		},
	}
	inv := &fakeInvoker{}
	s := New(ft, fakeAgentLister{}, fakeActivity{}, inv, fakeSettings{}, Config{SweepRateLimit: 1000})

	s.todoSweep(context.Background(), settings.Settings{})

	if len(inv.nudges) != 1 || inv.nudges[0].agentID != "eng" {
		t.Fatalf("nudges = %+v, want one nudge to eng", inv.nudges)
	}
	if len(ft.resetCalls) != 1 || ft.resetCalls[0] != "t1" {
		t.Fatalf("resetCalls = %v, want [t1]", ft.resetCalls)
	}
}

func TestBlockedSweep_NudgesOwnerWithReason(t *testing.T) {
	ft := &fakeTasks{
		blocked: []string{"t2"},
		tasksByID: map[string]tasks.Task{
			"t2": {TaskID: "t2", Owner: "cto", StatusReason: "waiting on design review"},
		},
	}
	inv := &fakeInvoker{}
	s := New(ft, fakeAgentLister{}, fakeActivity{}, inv, fakeSettings{}, Config{SweepRateLimit: 1000})

	s.blockedSweep(context.Background(), settings.Settings{})

	if len(inv.nudges) != 1 || inv.nudges[0].agentID != "cto" {
		t.Fatalf("nudges = %+v, want one nudge to cto", inv.nudges)
	}
	if !contains(inv.nudges[0].message, "waiting on design review") {
		t.Errorf("message = %q, want it to mention the block reason", inv.nudges[0].message)
	}
}

func TestDoingTimeoutSweep_NudgesAssigneeAndResets(t *testing.T) {
	ft := &fakeTasks{
		doing: []string{"t3"},
		tasksByID: map[string]tasks.Task{
			"t3": {TaskID: "t3", AssignedTo: "eng"},
		},
	}
	inv := &fakeInvoker{}
	s := New(ft, fakeAgentLister{}, fakeActivity{}, inv, fakeSettings{}, Config{SweepRateLimit: 1000})

	s.doingTimeoutSweep(context.Background(), settings.Settings{})

	if len(inv.nudges) != 1 {
		t.Fatalf("nudges = %+v, want 1", inv.nudges)
	}
	if len(ft.resetCalls) != 1 || ft.resetCalls[0] != "t3" {
		t.Fatalf("resetCalls = %v, want [t3]", ft.resetCalls)
	}
}

func TestInactivitySweep_SkipsWhenDisabled(t *testing.T) {
	ft := &fakeTasks{}
	al := fakeAgentLister{list: []agents.Agent{{ID: "eng", ReportsTo: "cto"}}}
	act := fakeActivity{lastActive: map[string]time.Time{"eng": time.Now().Add(-10 * time.Hour)}}
	inv := &fakeInvoker{}
	s := New(ft, al, act, inv, fakeSettings{}, Config{SweepRateLimit: 1000})

	s.inactivitySweep(context.Background(), settings.Settings{NotifyManagersOfInactiveAgents: false})

	if len(inv.nudges) != 0 {
		t.Fatalf("expected no nudges when disabled, got %+v", inv.nudges)
	}
}

func TestInactivitySweep_AllManagers_NotifiesDirectManager(t *testing.T) {
	ft := &fakeTasks{}
	al := fakeAgentLister{list: []agents.Agent{{ID: "eng", ReportsTo: "cto"}}}
	act := fakeActivity{lastActive: map[string]time.Time{"eng": time.Now().Add(-10 * time.Hour)}}
	inv := &fakeInvoker{}
	s := New(ft, al, act, inv, fakeSettings{}, Config{SweepRateLimit: 1000})

	cfg := settings.Settings{
		NotifyManagersOfInactiveAgents:  true,
		MaxInactivityMinutes:            60,
		InactiveAgentNotificationTarget: settings.TargetAllManagers,
	}
	s.inactivitySweep(context.Background(), cfg)

	if len(inv.nudges) != 1 || inv.nudges[0].agentID != "cto" {
		t.Fatalf("nudges = %+v, want one nudge to cto", inv.nudges)
	}
}

func TestInactivitySweep_CEOOnly_SkipsNonDirectReportee(t *testing.T) {
	ft := &fakeTasks{}
	al := fakeAgentLister{list: []agents.Agent{{ID: "eng", ReportsTo: "cto"}}}
	act := fakeActivity{lastActive: map[string]time.Time{"eng": time.Now().Add(-10 * time.Hour)}}
	inv := &fakeInvoker{}
	s := New(ft, al, act, inv, fakeSettings{}, Config{SweepRateLimit: 1000})

	cfg := settings.Settings{
		NotifyManagersOfInactiveAgents:  true,
		MaxInactivityMinutes:            60,
		InactiveAgentNotificationTarget: settings.TargetCEOOnly,
	}
	s.inactivitySweep(context.Background(), cfg)

	if len(inv.nudges) != 0 {
		t.Fatalf("expected no nudges (eng does not report directly to ceo), got %+v", inv.nudges)
	}
}

func TestInactivitySweep_CEOOnly_NotifiesCEOForDirectReportee(t *testing.T) {
	ft := &fakeTasks{}
	al := fakeAgentLister{list: []agents.Agent{{ID: "cto", ReportsTo: agents.DefaultRootID}}}
	act := fakeActivity{lastActive: map[string]time.Time{"cto": time.Now().Add(-10 * time.Hour)}}
	inv := &fakeInvoker{}
	s := New(ft, al, act, inv, fakeSettings{}, Config{SweepRateLimit: 1000})

	cfg := settings.Settings{
		NotifyManagersOfInactiveAgents:  true,
		MaxInactivityMinutes:            60,
		InactiveAgentNotificationTarget: settings.TargetCEOOnly,
	}
	s.inactivitySweep(context.Background(), cfg)

	if len(inv.nudges) != 1 || inv.nudges[0].agentID != agents.DefaultRootID {
		t.Fatalf("nudges = %+v, want one nudge to %s", inv.nudges, agents.DefaultRootID)
	}
}

func TestStartStop_IsDeterministicAndIdempotent(t *testing.T) {
	ft := &fakeTasks{}
	inv := &fakeInvoker{}
	s := New(ft, fakeAgentLister{}, fakeActivity{}, inv, fakeSettings{Settings: settings.DefaultSettings()}, Config{Interval: time.Hour, SweepRateLimit: 1000})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	s.Start(ctx) // no-op, must not deadlock or double-start
	s.Stop()
	s.Stop() // no-op
}

func TestTick_SkipsRemainingSweepsPastDeadline(t *testing.T) {
	ft := &fakeTasks{
		todo: []string{"t1"},
		tasksByID: map[string]tasks.Task{
			"t1": {TaskID: "t1", AssignedTo: "eng"},
		},
	}
	inv := &fakeInvoker{}
	s := New(ft, fakeAgentLister{}, fakeActivity{}, inv, fakeSettings{Settings: settings.DefaultSettings()}, Config{
		Interval:       time.Nanosecond,
		SweepRateLimit: 1000,
	})

	time.Sleep(time.Millisecond) // tick sets its own deadline to now+1ns, already past at its first sweep check
	s.tick(context.Background())

	if len(inv.nudges) != 0 {
		t.Fatalf("expected all sweeps skipped once the deadline has passed, got %+v", inv.nudges)
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}
