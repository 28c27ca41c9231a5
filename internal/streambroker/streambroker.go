// Package streambroker implements the StreamBroker (C8): per-invocation,
// back-pressured channels of StreamEvent carrying progress/result/error
// records to subscribers, with a late-join replay buffer.
package streambroker

import (
	"context"
	"sync"
)

// EventKind enumerates the kinds of StreamEvent a broker carries: the
// progress/result/error union from spec §3.
type EventKind string

const (
	EventProgress EventKind = "progress"
	EventResult   EventKind = "result"
	EventError    EventKind = "error"
)

// Phase enumerates every progress phase spec §3 names: the invocation
// state machine transitions (queued..run_completed) plus the
// stdout/stderr/heartbeat phases that ride the same "progress" event kind.
type Phase string

const (
	PhaseQueued                     Phase = "queued"
	PhaseRunStarted                 Phase = "run_started"
	PhaseProviderInvocationStarted  Phase = "provider_invocation_started"
	PhaseProviderInvocationComplete Phase = "provider_invocation_completed"
	PhaseRunCompleted               Phase = "run_completed"
	PhaseStdout                     Phase = "stdout"
	PhaseStderr                     Phase = "stderr"
	PhaseHeartbeat                  Phase = "heartbeat"
)

// Result carries a provider invocation's outcome, nested under a "result"
// StreamEvent per spec §3.
type Result struct {
	Code   int    `json:"code"`
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// StreamEvent is one line of an invocation's event stream: the tagged
// union of progress/result/error records from spec §3. Timestamp is
// milliseconds since epoch, matching the on-disk transcript convention.
type StreamEvent struct {
	Kind      EventKind `json:"type"`
	Phase     Phase     `json:"phase,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp int64     `json:"timestamp,omitempty"`

	AgentID    string `json:"agentId,omitempty"`
	SessionRef string `json:"sessionRef,omitempty"`
	Output     string `json:"output,omitempty"`
	Result     *Result `json:"result,omitempty"`

	Error string `json:"error,omitempty"`
}

func (e StreamEvent) terminal() bool {
	return e.Kind == EventResult || e.Kind == EventError
}

// noisy reports whether e is one of the high-volume progress phases
// (stdout, stderr, heartbeat) eligible for the back-pressure drop/coalesce
// policy, as opposed to a state-machine phase transition, which spec §4.8
// says must never be dropped.
func (e StreamEvent) noisy() bool {
	return e.Kind == EventProgress && (e.Phase == PhaseStdout || e.Phase == PhaseStderr || e.Phase == PhaseHeartbeat)
}

func (e StreamEvent) coalescable() bool {
	return e.Kind == EventProgress && (e.Phase == PhaseStdout || e.Phase == PhaseStderr)
}

// queueCapacity is the per-invocation bounded queue size (spec §4.8: "≈
// 256 events").
const queueCapacity = 256

// replayCapacity is how many recent events a late-joining subscriber can
// see, grounded on the teacher's acp/session_host.go messageBuf.
const replayCapacity = 64

// Invocation is a single invocation's event broker. One Invocation is
// created per InvocationExecutor.Invoke call.
type Invocation struct {
	mu       sync.Mutex
	buffer   []StreamEvent
	subs     []chan StreamEvent
	closed   bool
	resultCh chan StreamEvent
}

// NewInvocation creates an Invocation broker.
func NewInvocation() *Invocation {
	return &Invocation{resultCh: make(chan StreamEvent, 1)}
}

// Publish delivers an event to every current subscriber, applying the
// back-pressure policy when a subscriber's queue is full: heartbeats are
// dropped first, then consecutive stdout/stderr events of the same kind
// are coalesced. Phase-transition progress events and terminal events are
// never dropped as they are published: against a full queue the oldest
// queued event gives way to them.
func (inv *Invocation) Publish(evt StreamEvent) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if inv.closed {
		return
	}

	inv.buffer = append(inv.buffer, evt)
	if len(inv.buffer) > replayCapacity {
		inv.buffer = inv.buffer[len(inv.buffer)-replayCapacity:]
	}

	for _, sub := range inv.subs {
		inv.deliver(sub, evt)
	}

	if evt.terminal() {
		inv.resultCh <- evt
		inv.closeLocked()
	}
}

// deliver sends evt to sub, applying back-pressure if the channel is full.
// Caller holds inv.mu.
func (inv *Invocation) deliver(sub chan StreamEvent, evt StreamEvent) {
	select {
	case sub <- evt:
		return
	default:
	}

	if evt.noisy() {
		if inv.dropOldestHeartbeat(sub) {
			select {
			case sub <- evt:
				return
			default:
			}
		}
	}

	if evt.coalescable() {
		if inv.coalesceLast(sub, evt) {
			return
		}
	}

	// Last resort for a terminal event or a state-machine phase transition
	// against a completely full queue: block briefly isn't safe here (holds
	// inv.mu), so drain one slot. These must never be dropped; stdout,
	// stderr, and heartbeat phases (evt.noisy()) are the ones that may be.
	if evt.terminal() || (evt.Kind == EventProgress && !evt.noisy()) {
		select {
		case <-sub:
		default:
		}
		select {
		case sub <- evt:
		default:
		}
	}
}

// dropOldestHeartbeat removes a single buffered heartbeat event from sub,
// if any, to make room. It must drain and refill since channels don't
// support random access.
func (inv *Invocation) dropOldestHeartbeat(sub chan StreamEvent) bool {
	n := len(sub)
	dropped := false
	drained := make([]StreamEvent, 0, n)
	for i := 0; i < n; i++ {
		e := <-sub
		if !dropped && e.Kind == EventProgress && e.Phase == PhaseHeartbeat {
			dropped = true
			continue
		}
		drained = append(drained, e)
	}
	for _, e := range drained {
		sub <- e
	}
	return dropped
}

// coalesceLast merges evt into the most recent buffered event of the same
// kind and phase, if there is one, rather than enqueueing a separate event.
func (inv *Invocation) coalesceLast(sub chan StreamEvent, evt StreamEvent) bool {
	n := len(sub)
	if n == 0 {
		return false
	}
	drained := make([]StreamEvent, 0, n)
	for i := 0; i < n; i++ {
		drained = append(drained, <-sub)
	}
	merged := false
	last := &drained[len(drained)-1]
	if last.Kind == evt.Kind && last.Phase == evt.Phase {
		last.Message += evt.Message
		merged = true
	}
	for _, e := range drained {
		select {
		case sub <- e:
		default:
		}
	}
	if !merged {
		select {
		case sub <- evt:
			merged = true
		default:
		}
	}
	return merged
}

func (inv *Invocation) closeLocked() {
	if inv.closed {
		return
	}
	inv.closed = true
	for _, sub := range inv.subs {
		close(sub)
	}
	inv.subs = nil
}

// Subscribe returns a channel of events, seeded with the replay buffer so
// a late joiner sees recent history before live events. The channel closes
// once the terminal event has been delivered.
func (inv *Invocation) Subscribe() <-chan StreamEvent {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	sub := make(chan StreamEvent, queueCapacity)
	for _, evt := range inv.buffer {
		select {
		case sub <- evt:
		default:
		}
	}
	if inv.closed {
		close(sub)
		return sub
	}
	inv.subs = append(inv.subs, sub)
	return sub
}

// AwaitResult blocks until the terminal event (result or error) is
// published, or ctx is cancelled.
func (inv *Invocation) AwaitResult(ctx context.Context) (StreamEvent, error) {
	select {
	case evt := <-inv.resultCh:
		inv.resultCh <- evt // allow a second AwaitResult caller to observe it too
		return evt, nil
	case <-ctx.Done():
		return StreamEvent{}, ctx.Err()
	}
}
