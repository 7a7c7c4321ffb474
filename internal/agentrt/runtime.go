package agentrt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"voxmail/internal/logging"
	"voxmail/internal/tools"
)

// Options tune one backend run.
type Options struct {
	Model    string
	MaxSteps int
}

// Deps carries the injectable collaborators. Runner must be set; Recorder
// and Scratchpad may be nil.
type Deps struct {
	Runner     Runner
	Recorder   tools.Recorder
	Scratchpad *Scratchpad
	Resolver   *tools.TimeResolver
}

// Runner executes a specialist against a tool registry and returns the
// final answer text. The registry already emits tool lifecycle events.
type Runner interface {
	Run(ctx context.Context, spec *Specialist, reg tools.Registry, opts Options, input string, hint string) (string, error)
}

// Run is one in-flight backend agent run. Events is finite and ordered; it
// is closed when the run completes, after which Result returns.
type Run struct {
	Events <-chan Event

	done   chan struct{}
	result string
	err    error
}

// Result blocks until the run finishes.
func (r *Run) Result() (string, error) {
	<-r.done
	return r.result, r.err
}

// Runtime hosts the router and specialists.
type Runtime struct {
	Specialists []Specialist
}

// NewRuntime builds a runtime over the given specialists (defaults when
// empty).
func NewRuntime(specialists []Specialist) *Runtime {
	if len(specialists) == 0 {
		specialists = DefaultSpecialists()
	}
	return &Runtime{Specialists: specialists}
}

// RunBackendAgent routes the utterance to a specialist and executes it,
// streaming lifecycle events. The bundle scopes tools to one tenant.
func (rt *Runtime) RunBackendAgent(ctx context.Context, bundle *tools.Bundle, userInput string, opts Options, deps Deps) *Run {
	events := make(chan Event, 64)
	run := &Run{Events: events, done: make(chan struct{})}

	go func() {
		defer close(run.done)
		defer close(events)

		emit := func(ev Event) {
			ev.Timestamp = time.Now()
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		}

		emit(Event{Type: EventAgentStarted, AgentID: RouterAgentID})

		spec := Route(rt.Specialists, userInput)
		if spec == nil {
			run.err = fmt.Errorf("no specialists configured")
			emit(Event{Type: EventAgentCompleted, AgentID: RouterAgentID, Error: run.err.Error()})
			return
		}
		emit(Event{Type: EventAgentHandoff, AgentID: RouterAgentID, ToAgentID: spec.AgentID()})
		emit(Event{Type: EventAgentStarted, AgentID: spec.AgentID()})

		// Resolve relative-time phrases before any tool executes; the label
		// is surfaced as a progress event and the range handed to the runner.
		hint := ""
		if deps.Resolver != nil {
			if tr := deps.Resolver.Resolve(userInput); tr != nil {
				hint = fmt.Sprintf("When filtering by date use {\"$gte\": %d, \"$lte\": %d} (%s).", tr.Gte, tr.Lte, tr.Label)
				emit(Event{Type: EventProgressUpdate, AgentID: spec.AgentID(), Message: "interpreting time range as " + tr.Label})
			}
		}
		if deps.Scratchpad != nil {
			if sctx := deps.Scratchpad.ContextText(8); sctx != "" {
				hint += "\n" + sctx
			}
		}

		reg := rt.toolRegistry(bundle, spec, deps, emit)

		result, err := deps.Runner.Run(ctx, spec, reg, opts, userInput, hint)
		if err != nil {
			run.err = err
			logging.Log.WithField("agent", spec.AgentID()).WithError(err).Error("backend agent run failed")
			emit(Event{Type: EventAgentCompleted, AgentID: spec.AgentID(), Error: err.Error()})
			emit(Event{Type: EventAgentCompleted, AgentID: RouterAgentID, Error: err.Error()})
			return
		}
		run.result = result
		emit(Event{Type: EventAgentCompleted, AgentID: spec.AgentID(), Result: result})
		emit(Event{Type: EventAgentCompleted, AgentID: RouterAgentID, Result: result})
	}()

	return run
}

// toolRegistry scopes the bundle's tools to the specialist and wires event
// emission, call recording, and the scratchpad around every dispatch.
func (rt *Runtime) toolRegistry(bundle *tools.Bundle, spec *Specialist, deps Deps, emit func(Event)) tools.Registry {
	base := tools.FilteredRegistry(tools.NewEmailRegistry(bundle), spec.Tools)
	return &eventingRegistry{
		base:    base,
		agentID: spec.AgentID(),
		emit:    emit,
		deps:    deps,
	}
}

type eventingRegistry struct {
	base    tools.Registry
	agentID string
	emit    func(Event)
	deps    Deps
}

func (r *eventingRegistry) Register(t tools.Tool)   { r.base.Register(t) }
func (r *eventingRegistry) Schemas() []tools.Schema { return r.base.Schemas() }

func (r *eventingRegistry) Dispatch(ctx context.Context, name string, raw json.RawMessage) ([]byte, error) {
	callID := uuid.NewString()
	start := time.Now()
	r.emit(Event{Type: EventToolStarted, AgentID: r.agentID, Tool: name, CallID: callID})

	payload, err := r.base.Dispatch(ctx, name, raw)

	summary := SummarizePayload(payload)
	ev := Event{Type: EventToolCompleted, AgentID: r.agentID, Tool: name, CallID: callID, Summary: summary}
	if err != nil {
		ev.Error = err.Error()
	}
	r.emit(ev)

	if r.deps.Scratchpad != nil {
		r.deps.Scratchpad.Add(name, summary)
	}
	if r.deps.Recorder != nil {
		rec := tools.CallRecord{
			ID:            uuid.NewString(),
			CallID:        callID,
			Name:          name,
			AgentID:       r.agentID,
			Parameters:    raw,
			Result:        payload,
			Duration:      time.Since(start),
			Timestamp:     start,
			FilterSummary: tools.SummarizeFilters(raw),
		}
		if err != nil {
			rec.Error = err.Error()
		}
		r.deps.Recorder(rec)
	}
	return payload, err
}
