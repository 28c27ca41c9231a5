// Package providers implements the ProviderRegistry (C5): named provider
// factories and the capability descriptors ProviderAdapter and
// InvocationExecutor use to decide how to drive a given provider.
package providers

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/opengoat/opengoat/internal/apierrors"
)

// Kind distinguishes how a provider is invoked.
type Kind string

const (
	KindCLI  Kind = "cli"
	KindHTTP Kind = "http"
)

// Capabilities declares what a provider supports.
type Capabilities struct {
	Agent       bool
	Model       bool
	Auth        bool
	Passthrough bool
	Reportees   bool
	AgentCreate bool
	AgentDelete bool
}

// InvokeOptions carries the per-call arguments passed to Provider.Invoke.
type InvokeOptions struct {
	AgentID      string
	SessionKey   string
	Cwd          string
	SystemPrompt string
	Message      string
	Env          map[string]string
	Args         []string

	// OnStdout/OnStderr, when set, let a CLI-backed provider forward
	// output chunks to the caller as they're produced instead of only at
	// completion (InvocationExecutor uses this to emit stdout/stderr
	// progress events).
	OnStdout func(chunk string)
	OnStderr func(chunk string)
}

// InvokeResult is the outcome of a single provider invocation.
type InvokeResult struct {
	Code              int
	Stdout            string
	Stderr            string
	ProviderSessionID string
}

// Provider is a named, pluggable backend for agent invocations.
type Provider struct {
	ID           string
	Kind         Kind
	Capabilities Capabilities

	Invoke       func(ctx context.Context, opts InvokeOptions) (InvokeResult, error)
	InvokeAuth   func(ctx context.Context, opts InvokeOptions) (InvokeResult, error)
	CreateAgent  func(ctx context.Context, agentID string) error
	DeleteAgent  func(ctx context.Context, agentID string) error

	// GatewayFallback, if set, is the gateway-RPC "agent" call invoked by
	// InvocationExecutor when Invoke fails with ProviderCommandNotFoundError
	// (spec §4.7 policy 3): "fall back to the gateway RPC path ... if the
	// provider declares it, reusing the same arguments."
	GatewayFallback func(ctx context.Context, opts InvokeOptions) (InvokeResult, error)
}

// DefaultProviderID is used when a per-agent config omits a provider.
const DefaultProviderID = "openclaw"

// Registry holds named provider factories, resolved lazily so a provider's
// construction (e.g. opening a gateway connection) happens only once it is
// actually needed.
type Registry struct {
	mu        sync.Mutex
	factories map[string]func() (Provider, error)
	resolved  map[string]Provider
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]func() (Provider, error)),
		resolved:  make(map[string]Provider),
	}
}

// Register installs a named provider factory. Re-registering an id replaces
// it (and drops any already-resolved instance) so tests can swap providers
// in and out.
func (r *Registry) Register(id string, factory func() (Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[id] = factory
	delete(r.resolved, id)
}

// Get resolves a provider by id, constructing it on first use and caching
// the result.
func (r *Registry) Get(id string) (Provider, error) {
	if id == "" {
		id = DefaultProviderID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.resolved[id]; ok {
		return p, nil
	}
	factory, ok := r.factories[id]
	if !ok {
		return Provider{}, apierrors.NotFound("provider_not_found", fmt.Sprintf("provider %q is not registered", id))
	}
	p, err := factory()
	if err != nil {
		return Provider{}, apierrors.ProviderFailure("provider_init_failed", fmt.Sprintf("provider %q failed to initialize", id), err)
	}
	r.resolved[id] = p
	return p, nil
}

// List returns the ids of every registered provider, sorted.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
