// Package tools defines the named capabilities the agents can call: the
// contracts, the dispatch registry, call recording, and relative-time
// resolution of user utterances.
package tools

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Tool is an executable capability the agent can call.
type Tool interface {
	Name() string
	JSONSchema() map[string]any
	Call(ctx context.Context, raw json.RawMessage) (any, error)
}

// Schema is the provider-facing description of one tool.
type Schema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Registry keeps track of tools and dispatches calls by name.
type Registry interface {
	Schemas() []Schema
	Dispatch(ctx context.Context, name string, raw json.RawMessage) ([]byte, error)
	Register(t Tool)
}

type defaultRegistry struct {
	byName map[string]Tool
}

// NewRegistry returns a basic in-memory registry.
func NewRegistry() Registry {
	return &defaultRegistry{byName: make(map[string]Tool)}
}

func (r *defaultRegistry) Register(t Tool) { r.byName[t.Name()] = t }

func (r *defaultRegistry) Schemas() []Schema {
	out := make([]Schema, 0, len(r.byName))
	for name, t := range r.byName {
		schema := t.JSONSchema()
		out = append(out, Schema{
			Name:        name,
			Description: strFrom(schema["description"]),
			Parameters:  mapFrom(schema["parameters"]),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *defaultRegistry) Dispatch(ctx context.Context, name string, raw json.RawMessage) ([]byte, error) {
	t := r.byName[name]
	if t == nil {
		return []byte(`{"error":"tool not found"}`), nil
	}
	val, err := t.Call(ctx, raw)
	if err != nil {
		b, _ := json.Marshal(map[string]any{"ok": false, "error": err.Error()})
		return b, nil
	}
	b, _ := json.Marshal(val)
	return b, nil
}

// FilteredRegistry exposes only the allowed subset of a base registry.
func FilteredRegistry(base Registry, allow []string) Registry {
	set := make(map[string]bool, len(allow))
	for _, a := range allow {
		set[a] = true
	}
	return &filteredRegistry{base: base, allow: set}
}

type filteredRegistry struct {
	base  Registry
	allow map[string]bool
}

func (r *filteredRegistry) Register(t Tool) { r.base.Register(t) }

func (r *filteredRegistry) Schemas() []Schema {
	var out []Schema
	for _, s := range r.base.Schemas() {
		if r.allow[s.Name] {
			out = append(out, s)
		}
	}
	return out
}

func (r *filteredRegistry) Dispatch(ctx context.Context, name string, raw json.RawMessage) ([]byte, error) {
	if !r.allow[name] {
		return []byte(`{"error":"tool not found"}`), nil
	}
	return r.base.Dispatch(ctx, name, raw)
}

// CallRecord identifies one tool invocation in the call graph.
type CallRecord struct {
	ID            string          `json:"id"`
	CallID        string          `json:"callId"`
	Name          string          `json:"name"`
	AgentID       string          `json:"agentId,omitempty"`
	ParentNodeID  string          `json:"parentNodeId,omitempty"`
	GraphNodeID   string          `json:"graphNodeId,omitempty"`
	Depth         int             `json:"depth"`
	Parameters    json.RawMessage `json:"parameters,omitempty"`
	FilterSummary string          `json:"filterSummary,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`
	Duration      time.Duration   `json:"duration"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Recorder receives one CallRecord per dispatch.
type Recorder func(rec CallRecord)

type recordingRegistry struct {
	base Registry
	on   Recorder
}

// NewRecordingRegistry wraps a Registry and reports every Dispatch to on.
func NewRecordingRegistry(base Registry, on Recorder) Registry {
	if base == nil {
		base = NewRegistry()
	}
	return &recordingRegistry{base: base, on: on}
}

func (r *recordingRegistry) Register(t Tool)   { r.base.Register(t) }
func (r *recordingRegistry) Schemas() []Schema { return r.base.Schemas() }

func (r *recordingRegistry) Dispatch(ctx context.Context, name string, raw json.RawMessage) ([]byte, error) {
	start := time.Now()
	payload, err := r.base.Dispatch(ctx, name, raw)
	if r.on != nil {
		rec := CallRecord{
			ID:         uuid.NewString(),
			CallID:     uuid.NewString(),
			Name:       name,
			Parameters: raw,
			Result:     payload,
			Duration:   time.Since(start),
			Timestamp:  start,
		}
		if err != nil {
			rec.Error = err.Error()
		}
		rec.FilterSummary = SummarizeFilters(raw)
		r.on(rec)
	}
	return payload, err
}

// SummarizeFilters renders the filters field of a parameter payload for
// display ("unread=true date>=...").
func SummarizeFilters(raw json.RawMessage) string {
	var params struct {
		Filters map[string]any `json:"filters"`
	}
	if err := json.Unmarshal(raw, &params); err != nil || len(params.Filters) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params.Filters))
	for k := range params.Filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := ""
	for _, k := range keys {
		if out != "" {
			out += " "
		}
		b, _ := json.Marshal(params.Filters[k])
		out += k + "=" + string(b)
	}
	return out
}

func strFrom(v any) string         { s, _ := v.(string); return s }
func mapFrom(v any) map[string]any { m, _ := v.(map[string]any); return m }
