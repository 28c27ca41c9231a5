// Package executor implements the InvocationExecutor (C7): it serialises
// concurrent invocations per (agent, session), assembles the provider
// invocation context, streams progress through a StreamBroker, and
// implements the three explicit retry/fallback policies spec §4.7 names.
package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/opengoat/opengoat/internal/agents"
	"github.com/opengoat/opengoat/internal/apierrors"
	"github.com/opengoat/opengoat/internal/layout"
	"github.com/opengoat/opengoat/internal/provideradapter"
	"github.com/opengoat/opengoat/internal/providers"
	"github.com/opengoat/opengoat/internal/sessionstore"
	"github.com/opengoat/opengoat/internal/streambroker"
)

// bootstrapFiles is the fixed set of workspace files concatenated into the
// system prompt for agent-capable CLI providers (spec §4.7 "Context
// assembly"), in the order the teacher's bootstrap scaffolding writes them.
var bootstrapFiles = []string{"AGENTS.md", "SOUL.md", "IDENTITY.md", "BOOTSTRAP.md"}

// Image is a caller-attached image, filtered to image/* data URLs by the
// HTTP facade before it reaches the executor.
type Image struct {
	DataURL   string
	MediaType string
	Name      string
}

// Request is the transient InvocationRequest (spec §3).
type Request struct {
	ProjectPath          string
	Message              string
	Images               []Image
	Env                  map[string]string
	SkillsPromptOverride string
	SkillsCatalog        string
}

// AgentLookup is the subset of agents.Store the executor needs.
type AgentLookup interface {
	GetAgent(id string) (agents.Agent, error)
}

// SessionAppender is the subset of sessionstore.Store the executor needs.
type SessionAppender interface {
	Append(sessionKey string, entry sessionstore.TranscriptEntry) (sessionstore.Metadata, error)
}

// Config bundles the executor's tunables.
type Config struct {
	BootstrapMaxChars  int
	ProviderTimeout    time.Duration
	GatewayFrameTimeout time.Duration
	SessionLockMaxWait time.Duration
	CancelGrace        time.Duration
}

func (c Config) withDefaults() Config {
	if c.BootstrapMaxChars <= 0 {
		c.BootstrapMaxChars = 24000
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = 15 * time.Minute
	}
	if c.SessionLockMaxWait <= 0 {
		c.SessionLockMaxWait = 10 * time.Second
	}
	if c.CancelGrace <= 0 {
		c.CancelGrace = 5 * time.Second
	}
	return c
}

// Executor is the InvocationExecutor (C7).
type Executor struct {
	agents   AgentLookup
	sessions SessionAppender
	registry *providers.Registry
	layout   *layout.Layout
	cfg      Config

	mu      sync.Mutex
	mutexes map[string]*sync.Mutex
}

// New creates an Executor.
func New(agentStore AgentLookup, sessionStore SessionAppender, registry *providers.Registry, l *layout.Layout, cfg Config) *Executor {
	return &Executor{
		agents:   agentStore,
		sessions: sessionStore,
		registry: registry,
		layout:   l,
		cfg:      cfg.withDefaults(),
		mutexes:  make(map[string]*sync.Mutex),
	}
}

// sessionMutex returns the per-(agentId,sessionKey) mutex, creating it on
// first use. This map is the serialisation mechanism spec §4.7 requires:
// "at-most-one concurrent provider call per session... calls against
// different sessions... run in parallel."
func (e *Executor) sessionMutex(agentID, sessionKey string) *sync.Mutex {
	key := agentID + "\x00" + sessionKey
	e.mu.Lock()
	defer e.mu.Unlock()
	if m, ok := e.mutexes[key]; ok {
		return m
	}
	m := &sync.Mutex{}
	e.mutexes[key] = m
	return m
}

// Invoke starts an invocation and returns its StreamBroker immediately; the
// invocation runs on a background goroutine and publishes events to the
// broker as it progresses. The caller subscribes or calls AwaitResult to
// observe the outcome.
func (e *Executor) Invoke(ctx context.Context, providerID, agentID, sessionKey string, req Request) *streambroker.Invocation {
	inv := streambroker.NewInvocation()
	go e.run(ctx, inv, providerID, agentID, sessionKey, req)
	return inv
}

func (e *Executor) progress(inv *streambroker.Invocation, phase streambroker.Phase, message string) {
	inv.Publish(streambroker.StreamEvent{
		Kind:      streambroker.EventProgress,
		Phase:     phase,
		Message:   message,
		Timestamp: time.Now().UTC().UnixMilli(),
	})
}

func (e *Executor) run(ctx context.Context, inv *streambroker.Invocation, providerID, agentID, sessionKey string, req Request) {
	e.progress(inv, streambroker.PhaseQueued, "queued")

	mutex := e.sessionMutex(agentID, sessionKey)
	mutex.Lock()
	defer mutex.Unlock()

	e.progress(inv, streambroker.PhaseRunStarted, "run started")

	agent, err := e.agents.GetAgent(agentID)
	if err != nil {
		e.fail(ctx, inv, err)
		return
	}

	provider, err := e.registry.Get(providerID)
	if err != nil {
		e.fail(ctx, inv, err)
		return
	}

	opts := e.buildInvokeOptions(agent, provider, req)
	opts.SessionKey = sessionKey
	opts.OnStdout = func(chunk string) {
		e.progress(inv, streambroker.PhaseStdout, chunk)
	}
	opts.OnStderr = func(chunk string) {
		e.progress(inv, streambroker.PhaseStderr, chunk)
	}

	e.progress(inv, streambroker.PhaseProviderInvocationStarted, "provider invocation started")

	result, err := e.invokeWithRecovery(ctx, inv, provider, opts)
	if err != nil {
		e.fail(ctx, inv, err)
		return
	}

	e.progress(inv, streambroker.PhaseProviderInvocationComplete, "provider invocation completed")

	if writeErr := e.writeBackHistory(sessionKey, req, result); writeErr != nil {
		e.fail(ctx, inv, writeErr)
		return
	}

	e.progress(inv, streambroker.PhaseRunCompleted, "run completed")
	inv.Publish(streambroker.StreamEvent{
		Kind:       streambroker.EventResult,
		Timestamp:  time.Now().UTC().UnixMilli(),
		AgentID:    agentID,
		SessionRef: sessionKey,
		Output:     result.Stdout,
		Result: &streambroker.Result{
			Code:   result.Code,
			Stdout: result.Stdout,
			Stderr: result.Stderr,
		},
	})
}

// fail publishes the terminal error event. If ctx was cancelled, the
// message is normalised to "cancelled" regardless of the underlying error,
// per spec §5: "A cancelled invocation still emits a final
// error{error:"cancelled"}."
func (e *Executor) fail(ctx context.Context, inv *streambroker.Invocation, err error) {
	message := err.Error()
	if ctx.Err() != nil {
		message = "cancelled"
	}
	inv.Publish(streambroker.StreamEvent{Kind: streambroker.EventError, Error: message, Timestamp: time.Now().UTC().UnixMilli()})
}

// buildInvokeOptions assembles the provider-call arguments, per spec §4.7
// "Context assembly": agent-capable providers that are CLI-kind or receive
// no SkillsPromptOverride get a system prompt built from the
// workspace bootstrap files plus a Skills section, and cwd set to the
// workspace directory; other providers get the caller's cwd and no prompt.
func (e *Executor) buildInvokeOptions(agent agents.Agent, provider providers.Provider, req Request) providers.InvokeOptions {
	opts := providers.InvokeOptions{
		AgentID:    agent.ID,
		SessionKey: "",
		Cwd:        req.ProjectPath,
		Message:    req.Message,
		Env:        req.Env,
	}

	assembleContext := provider.Capabilities.Agent && (provider.Kind == providers.KindCLI || req.SkillsPromptOverride == "")
	if !assembleContext {
		return opts
	}

	opts.Cwd = agent.WorkspaceDir
	opts.SystemPrompt = e.buildSystemPrompt(agent, req)
	return opts
}

func (e *Executor) buildSystemPrompt(agent agents.Agent, req Request) string {
	var b strings.Builder
	for _, name := range bootstrapFiles {
		data, err := os.ReadFile(filepath.Join(agent.WorkspaceDir, name))
		if err != nil {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(string(data))
	}

	skills := req.SkillsPromptOverride
	if skills == "" {
		skills = req.SkillsCatalog
	}
	if skills != "" {
		b.WriteString("\n\n## Skills\n\n")
		b.WriteString(skills)
	}

	prompt := b.String()
	max := e.cfg.BootstrapMaxChars
	if max > 0 && len(prompt) > max {
		prompt = prompt[:max]
	}
	return prompt
}

// invokeWithRecovery applies the three explicit retry/fallback policies
// from spec §4.7 around a single adapter call. Each policy gets at most
// one retry, kept separate per the design note in spec §9 ("keep these
// explicit ... not merged into a single generic retry loop").
func (e *Executor) invokeWithRecovery(ctx context.Context, inv *streambroker.Invocation, provider providers.Provider, opts providers.InvokeOptions) (providers.InvokeResult, error) {
	result, err := e.callProvider(ctx, provider, opts)
	if err == nil {
		return result, nil
	}

	switch failure := err.(type) {
	case *provideradapter.UvCwdFailure:
		// spec §4.7 policy 1: synthesise a progress{phase=stderr} event
		// before the single permitted restart + re-invocation.
		e.progress(inv, streambroker.PhaseStderr, "restarting gateway")
		if restartErr := provideradapter.RestartGateway(ctx, e.layout.Home()); restartErr != nil {
			return providers.InvokeResult{}, restartErr
		}
		return e.callProvider(ctx, provider, opts)

	case *provideradapter.SessionLockContention:
		wait := failure.RetryWait
		if wait <= 0 || wait > e.cfg.SessionLockMaxWait {
			wait = e.cfg.SessionLockMaxWait
		}
		e.heartbeatWait(ctx, inv, wait)
		return e.callProvider(ctx, provider, opts)

	case *provideradapter.ProviderCommandNotFoundError:
		if provider.GatewayFallback == nil {
			return providers.InvokeResult{}, err
		}
		return provider.GatewayFallback(ctx, opts)

	default:
		return providers.InvokeResult{}, err
	}
}

// callProvider invokes the provider's Invoke function. Any non-zero exit
// code that isn't one of the classified adapter errors is returned as a
// successful (from the executor's point of view) InvokeResult with
// Code != 0: it is data, not an exception (spec §7).
func (e *Executor) callProvider(ctx context.Context, provider providers.Provider, opts providers.InvokeOptions) (providers.InvokeResult, error) {
	if provider.Invoke == nil {
		return providers.InvokeResult{}, apierrors.Internal("provider_missing_invoke", fmt.Errorf("provider %q has no Invoke function", provider.ID))
	}
	return provider.Invoke(ctx, opts)
}

// heartbeatWait blocks for wait (capped at the configured session-lock max
// wait), emitting a heartbeat progress event every second, per spec §4.7
// policy 2 ("wait for a bounded back-off (≤10s)... emit a heartbeat every
// second").
func (e *Executor) heartbeatWait(ctx context.Context, inv *streambroker.Invocation, wait time.Duration) {
	if wait > e.cfg.SessionLockMaxWait {
		wait = e.cfg.SessionLockMaxWait
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			return
		case <-ticker.C:
			e.progress(inv, streambroker.PhaseHeartbeat, "waiting for session lock")
		}
	}
}

// writeBackHistory appends the user message and assistant output to the
// session transcript, regardless of exit code (spec §4.7 "History
// write-back").
func (e *Executor) writeBackHistory(sessionKey string, req Request, result providers.InvokeResult) error {
	now := time.Now().UTC().UnixMilli()
	if _, err := e.sessions.Append(sessionKey, sessionstore.TranscriptEntry{
		Type: sessionstore.EntryMessage, Role: sessionstore.RoleUser, Content: req.Message, Timestamp: now,
	}); err != nil {
		return fmt.Errorf("append user transcript entry: %w", err)
	}
	if _, err := e.sessions.Append(sessionKey, sessionstore.TranscriptEntry{
		Type: sessionstore.EntryMessage, Role: sessionstore.RoleAssistant, Content: result.Stdout, Timestamp: now,
	}); err != nil {
		return fmt.Errorf("append assistant transcript entry: %w", err)
	}
	return nil
}
