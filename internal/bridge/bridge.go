package bridge

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"voxmail/internal/agentrt"
	"voxmail/internal/logging"
	"voxmail/internal/tools"
	"voxmail/internal/voice"
)

// UIDashboardEvent is what the live call-graph UI consumes: the raw backend
// event plus the affected graph node, if any.
type UIDashboardEvent struct {
	TaskID string        `json:"taskId"`
	Event  agentrt.Event `json:"event"`
	Node   *Node         `json:"node,omitempty"`
}

// UISubscriber receives dashboard events in emission order.
type UISubscriber func(ev UIDashboardEvent)

// Bridge wires the voice layer to the backend runtime for one tenant. The
// flow per turn is unidirectional: voice -> bridge -> backend -> events ->
// voice + dashboard.
type Bridge struct {
	Runtime  *agentrt.Runtime
	Voice    voice.Narrator
	Bundle   *tools.Bundle
	Runner   agentrt.Runner
	Options  agentrt.Options
	Resolver *tools.TimeResolver

	mu          sync.Mutex
	scratchpads *agentrt.Scratchpads
	graph       *CallGraph
	toolCalls   []tools.CallRecord
	subscriber  UISubscriber
}

// New builds a Bridge. runtime and runner must be set; narrator may be a
// mock in tests.
func New(runtime *agentrt.Runtime, narrator voice.Narrator, bundle *tools.Bundle, runner agentrt.Runner, opts agentrt.Options) *Bridge {
	return &Bridge{
		Runtime:     runtime,
		Voice:       narrator,
		Bundle:      bundle,
		Runner:      runner,
		Options:     opts,
		Resolver:    tools.NewTimeResolver(nil),
		scratchpads: agentrt.NewScratchpads(),
		graph:       NewCallGraph(),
	}
}

// SubscribeUI registers the dashboard subscriber for subsequent turns.
func (b *Bridge) SubscribeUI(fn UISubscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscriber = fn
}

// ProcessUserRequest runs one user turn: acknowledge, run the backend agent,
// narrate every event in order, and close with a final summary.
func (b *Bridge) ProcessUserRequest(ctx context.Context, userInput string) (string, error) {
	taskID := uuid.NewString()

	if err := b.Voice.Acknowledge(userInput); err != nil {
		logging.Log.WithError(err).Warn("acknowledgement failed")
	}

	graph := NewCallGraph()
	b.mu.Lock()
	b.graph = graph
	sub := b.subscriber
	b.mu.Unlock()

	run := b.Runtime.RunBackendAgent(ctx, b.Bundle, userInput, b.Options, agentrt.Deps{
		Runner:     b.Runner,
		Scratchpad: b.scratchpads.For(b.Bundle.GrantID),
		Resolver:   b.Resolver,
		Recorder: func(rec tools.CallRecord) {
			b.mu.Lock()
			b.toolCalls = append(b.toolCalls, rec)
			b.mu.Unlock()
		},
	})

	for ev := range run.Events {
		node := graph.Apply(ev)
		b.Voice.Narrate(taskID, ev)
		if sub != nil {
			sub(UIDashboardEvent{TaskID: taskID, Event: ev, Node: node})
		}
	}

	result, err := run.Result()
	if err != nil {
		if ferr := b.Voice.FinalSummary(taskID, "I hit an error processing that."); ferr != nil {
			logging.Log.WithError(ferr).Warn("final summary failed")
		}
		return "", err
	}
	if ferr := b.Voice.FinalSummary(taskID, result); ferr != nil {
		logging.Log.WithError(ferr).Warn("final summary failed")
	}
	return result, nil
}

// GetCallGraph returns the latest turn's call graph.
func (b *Bridge) GetCallGraph() *CallGraph {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.graph
}

// GetScratchpads returns the per-tenant scratchpad registry.
func (b *Bridge) GetScratchpads() *agentrt.Scratchpads {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.scratchpads
}

// ToolCalls returns every recorded tool invocation, oldest first.
func (b *Bridge) ToolCalls() []tools.CallRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]tools.CallRecord, len(b.toolCalls))
	copy(out, b.toolCalls)
	return out
}
