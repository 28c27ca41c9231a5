// Package authz implements the AuthzResolver (C10): given the agent
// reporting graph, it computes the set of agents reachable from a given
// actor (the actor plus every transitive reportee) and uses that set to
// gate task mutations.
package authz

import (
	"fmt"
	"sync"

	"github.com/opengoat/opengoat/internal/agents"
	"github.com/opengoat/opengoat/internal/apierrors"
)

// AgentLister is the subset of agents.Store the resolver needs. Declared as
// an interface so tests can substitute a fixed agent graph without
// touching the filesystem.
type AgentLister interface {
	ListAgents() ([]agents.Agent, error)
}

// snapshot is an immutable view of the reporting graph: for each agent id,
// the set of its direct reportees.
type snapshot struct {
	children map[string][]string
	exists   map[string]bool
}

// Resolver computes reachable-reportee sets for task authorization. It
// memoises the computed set per actor against a single snapshot of the
// agent graph; call Refresh after the graph changes, since until then
// Reachable keeps answering from the cached snapshot.
type Resolver struct {
	lister AgentLister

	mu       sync.Mutex
	snap     *snapshot
	memo     map[string]map[string]bool
}

// New creates a Resolver reading the agent graph through lister.
func New(lister AgentLister) *Resolver {
	return &Resolver{lister: lister}
}

// Refresh discards the cached snapshot and memoised results, forcing the
// next Reachable call to rebuild the graph from lister. Callers that
// mutate the agent graph (create/delete) should call this afterwards.
func (r *Resolver) Refresh() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap = nil
	r.memo = nil
}

func (r *Resolver) snapshotLocked() (*snapshot, error) {
	if r.snap != nil {
		return r.snap, nil
	}
	all, err := r.lister.ListAgents()
	if err != nil {
		return nil, fmt.Errorf("list agents for authz snapshot: %w", err)
	}
	snap := &snapshot{
		children: make(map[string][]string, len(all)),
		exists:   make(map[string]bool, len(all)),
	}
	for _, a := range all {
		snap.exists[a.ID] = true
		if a.ReportsTo != "" {
			snap.children[a.ReportsTo] = append(snap.children[a.ReportsTo], a.ID)
		}
	}
	r.snap = snap
	r.memo = make(map[string]map[string]bool)
	return snap, nil
}

// Reachable returns {actorID} union the transitive closure of actorID's
// reportees under reportsTo^-1, per spec §4.10. The result is memoised
// against the current snapshot.
func (r *Resolver) Reachable(actorID string) (map[string]bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap, err := r.snapshotLocked()
	if err != nil {
		return nil, err
	}
	if cached, ok := r.memo[actorID]; ok {
		return cached, nil
	}

	set := map[string]bool{actorID: true}
	queue := []string{actorID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, child := range snap.children[cur] {
			if !set[child] {
				set[child] = true
				queue = append(queue, child)
			}
		}
	}
	r.memo[actorID] = set
	return set, nil
}

const assignMessage = "Agents can only assign tasks to themselves or their reportees (direct or indirect)."

// AuthorizeAssignment verifies actorID may assign a task to assignedTo:
// assignedTo must lie in actorID's reachable-reportee set (spec §4.10).
// An empty assignedTo (self-assignment deferred to caller default) is
// always allowed.
func (r *Resolver) AuthorizeAssignment(actorID, assignedTo string) error {
	if assignedTo == "" || assignedTo == actorID {
		return nil
	}
	reachable, err := r.Reachable(actorID)
	if err != nil {
		return err
	}
	if !reachable[assignedTo] {
		return apierrors.Authorization("cross_tree_assignment", assignMessage)
	}
	return nil
}

// TaskRef is the minimal task shape AuthorizeTask needs: owner and
// assignee. tasks.Task satisfies this via the two accessor fields passed
// directly by callers.
type TaskRef struct {
	Owner      string
	AssignedTo string
}

// AuthorizeTask verifies actorID may update/add-entries-to/delete a task:
// the rule is that owner OR assignee must lie in actorID's reachable set
// (spec §4.10).
func (r *Resolver) AuthorizeTask(actorID string, task TaskRef) error {
	reachable, err := r.Reachable(actorID)
	if err != nil {
		return err
	}
	if reachable[task.Owner] || reachable[task.AssignedTo] {
		return nil
	}
	return apierrors.Authorization("cross_tree_task_access", "actor is not authorized to act on this task")
}
