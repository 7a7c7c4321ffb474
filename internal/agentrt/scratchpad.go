package agentrt

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ScratchpadEntry is one remembered tool outcome.
type ScratchpadEntry struct {
	Tool      string    `json:"tool"`
	Summary   string    `json:"summary"`
	Timestamp time.Time `json:"timestamp"`
}

// Scratchpad retains per-tenant tool summaries across turns so later turns
// can reference earlier findings without recomputation.
type Scratchpad struct {
	mu      sync.Mutex
	entries []ScratchpadEntry
}

// Add appends one entry.
func (s *Scratchpad) Add(tool, summary string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, ScratchpadEntry{Tool: tool, Summary: summary, Timestamp: time.Now()})
}

// Entries returns a snapshot.
func (s *Scratchpad) Entries() []ScratchpadEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScratchpadEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// ContextText renders the most recent entries for inclusion in a system
// prompt; empty when nothing is remembered.
func (s *Scratchpad) ContextText(limit int) string {
	entries := s.Entries()
	if len(entries) == 0 {
		return ""
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	var b strings.Builder
	b.WriteString("Earlier findings this session:\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "- %s: %s\n", e.Tool, e.Summary)
	}
	return b.String()
}

// SummarizePayload compresses a tool result payload to a short "k=v" line
// ("total=5, matches=3"). Unknown shapes fall back to a length note.
func SummarizePayload(payload []byte) string {
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		return fmt.Sprintf("%d bytes", len(payload))
	}
	var parts []string
	for _, k := range []string{"total", "count", "considered", "ok", "job_id", "duplicate", "error"} {
		if v, ok := m[k]; ok {
			parts = append(parts, fmt.Sprintf("%s=%v", k, v))
		}
	}
	if results, ok := m["results"].([]any); ok {
		parts = append(parts, fmt.Sprintf("matches=%d", len(results)))
	}
	if groups, ok := m["groups"].([]any); ok {
		parts = append(parts, fmt.Sprintf("groups=%d", len(groups)))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%d bytes", len(payload))
	}
	return strings.Join(parts, ", ")
}

// Scratchpads is the per-tenant scratchpad registry.
type Scratchpads struct {
	mu   sync.Mutex
	byID map[string]*Scratchpad
}

// NewScratchpads builds an empty registry.
func NewScratchpads() *Scratchpads {
	return &Scratchpads{byID: make(map[string]*Scratchpad)}
}

// For returns the tenant's scratchpad, creating it on first use.
func (s *Scratchpads) For(grantID string) *Scratchpad {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[grantID]; !ok {
		s.byID[grantID] = &Scratchpad{}
	}
	return s.byID[grantID]
}
