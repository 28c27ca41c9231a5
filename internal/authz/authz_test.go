package authz

import (
	"testing"

	"github.com/opengoat/opengoat/internal/agents"
)

type fixedLister struct {
	agents []agents.Agent
}

func (f fixedLister) ListAgents() ([]agents.Agent, error) { return f.agents, nil }

func org() fixedLister {
	return fixedLister{agents: []agents.Agent{
		{ID: "ceo"},
		{ID: "cto", ReportsTo: "ceo"},
		{ID: "qa", ReportsTo: "ceo"},
		{ID: "eng", ReportsTo: "cto"},
	}}
}

func TestReachable_TransitiveClosure(t *testing.T) {
	r := New(org())
	set, err := r.Reachable("ceo")
	if err != nil {
		t.Fatalf("Reachable() error = %v", err)
	}
	for _, id := range []string{"ceo", "cto", "qa", "eng"} {
		if !set[id] {
			t.Errorf("expected %q reachable from ceo", id)
		}
	}
}

func TestReachable_Leaf(t *testing.T) {
	r := New(org())
	set, err := r.Reachable("eng")
	if err != nil {
		t.Fatalf("Reachable() error = %v", err)
	}
	if len(set) != 1 || !set["eng"] {
		t.Errorf("expected only eng reachable from eng, got %v", set)
	}
}

func TestAuthorizeAssignment_CrossTreeRejected(t *testing.T) {
	r := New(org())
	// cto may not assign to qa: qa reports directly to ceo, not reachable from cto.
	err := r.AuthorizeAssignment("cto", "qa")
	if err == nil {
		t.Fatal("expected cross-tree assignment to be rejected")
	}
	if err.Error() != assignMessage {
		t.Errorf("error = %q, want %q", err.Error(), assignMessage)
	}
}

func TestAuthorizeAssignment_ReporteeAllowed(t *testing.T) {
	r := New(org())
	if err := r.AuthorizeAssignment("cto", "eng"); err != nil {
		t.Errorf("expected cto -> eng assignment allowed, got %v", err)
	}
}

func TestAuthorizeAssignment_Self(t *testing.T) {
	r := New(org())
	if err := r.AuthorizeAssignment("eng", "eng"); err != nil {
		t.Errorf("self-assignment should always be allowed: %v", err)
	}
}

func TestAuthorizeTask_OwnerOrAssigneeReachable(t *testing.T) {
	r := New(org())
	if err := r.AuthorizeTask("ceo", TaskRef{Owner: "eng", AssignedTo: "eng"}); err != nil {
		t.Errorf("ceo should reach eng's task: %v", err)
	}
	if err := r.AuthorizeTask("qa", TaskRef{Owner: "eng", AssignedTo: "eng"}); err == nil {
		t.Error("qa should not reach eng's task")
	}
}

func TestRefresh_PicksUpGraphChanges(t *testing.T) {
	lister := org()
	r := New(lister)
	if _, err := r.Reachable("qa"); err != nil {
		t.Fatal(err)
	}
	// Mutate the underlying graph and refresh.
	lister.agents = append(lister.agents, agents.Agent{ID: "intern", ReportsTo: "qa"})
	r.lister = lister
	r.Refresh()

	set, err := r.Reachable("qa")
	if err != nil {
		t.Fatal(err)
	}
	if !set["intern"] {
		t.Error("expected intern to be reachable from qa after refresh")
	}
}
