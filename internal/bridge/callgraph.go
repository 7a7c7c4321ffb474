// Package bridge orchestrates one user turn: acknowledge, run the backend
// agent, fan events out to narration and the UI dashboard, and keep the
// call-graph tree.
package bridge

import (
	"sync"
	"time"

	"voxmail/internal/agentrt"
)

// NodeKind enumerates call-graph node kinds.
type NodeKind string

// Node kinds.
const (
	KindAgent NodeKind = "agent"
	KindTask  NodeKind = "task"
	KindTool  NodeKind = "tool"
)

// NodeStatus enumerates node states. Transitions are
// pending -> in_progress -> (completed | error).
type NodeStatus string

// Node statuses.
const (
	StatusPending    NodeStatus = "pending"
	StatusInProgress NodeStatus = "in_progress"
	StatusCompleted  NodeStatus = "completed"
	StatusError      NodeStatus = "error"
)

// Node is one call-graph vertex.
type Node struct {
	ID        string     `json:"id"`
	Kind      NodeKind   `json:"kind"`
	ParentID  string     `json:"parentId,omitempty"`
	Label     string     `json:"label"`
	Status    NodeStatus `json:"status"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
}

// CallGraph is the tree of agent and tool nodes for one turn, rooted at the
// router agent.
type CallGraph struct {
	mu           sync.Mutex
	nodes        map[string]*Node
	order        []string
	currentAgent string
}

// NewCallGraph builds an empty graph.
func NewCallGraph() *CallGraph {
	return &CallGraph{nodes: make(map[string]*Node)}
}

// Apply folds one backend event into the tree and returns the affected
// node's snapshot (nil when the event maps to no node).
func (g *CallGraph) Apply(ev agentrt.Event) *Node {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch ev.Type {
	case agentrt.EventAgentStarted:
		n := g.nodes[ev.AgentID]
		if n == nil {
			n = g.add(&Node{
				ID:        ev.AgentID,
				Kind:      KindAgent,
				ParentID:  g.parentForAgent(ev.AgentID),
				Label:     ev.AgentID,
				Status:    StatusPending,
				StartedAt: ev.Timestamp,
			})
		}
		n.Status = StatusInProgress
		g.currentAgent = ev.AgentID
		return snapshot(n)

	case agentrt.EventAgentHandoff:
		return snapshot(g.add(&Node{
			ID:        ev.ToAgentID,
			Kind:      KindAgent,
			ParentID:  ev.AgentID,
			Label:     ev.ToAgentID,
			Status:    StatusPending,
			StartedAt: ev.Timestamp,
		}))

	case agentrt.EventToolStarted:
		return snapshot(g.add(&Node{
			ID:        ev.CallID,
			Kind:      KindTool,
			ParentID:  g.currentAgent,
			Label:     ev.Tool,
			Status:    StatusInProgress,
			StartedAt: ev.Timestamp,
		}))

	case agentrt.EventToolCompleted:
		n := g.nodes[ev.CallID]
		if n == nil {
			return nil
		}
		g.finish(n, ev.Error, ev.Timestamp)
		return snapshot(n)

	case agentrt.EventAgentCompleted:
		n := g.nodes[ev.AgentID]
		if n == nil {
			return nil
		}
		g.finish(n, ev.Error, ev.Timestamp)
		if n.ParentID != "" {
			g.currentAgent = n.ParentID
		}
		return snapshot(n)
	}
	return nil
}

func (g *CallGraph) parentForAgent(agentID string) string {
	if agentID == agentrt.RouterAgentID || len(g.order) == 0 {
		return ""
	}
	return agentrt.RouterAgentID
}

func (g *CallGraph) add(n *Node) *Node {
	if existing, ok := g.nodes[n.ID]; ok {
		return existing
	}
	g.nodes[n.ID] = n
	g.order = append(g.order, n.ID)
	return n
}

func (g *CallGraph) finish(n *Node, errText string, at time.Time) {
	if errText != "" {
		n.Status = StatusError
	} else {
		n.Status = StatusCompleted
	}
	ended := at
	n.EndedAt = &ended
}

// Nodes returns the nodes in creation order.
func (g *CallGraph) Nodes() []Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, *g.nodes[id])
	}
	return out
}

// Root returns the router node, or nil before the run starts.
func (g *CallGraph) Root() *Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	return snapshot(g.nodes[agentrt.RouterAgentID])
}

// Children returns the child nodes of the given id in creation order.
func (g *CallGraph) Children(id string) []Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []Node
	for _, nid := range g.order {
		if g.nodes[nid].ParentID == id {
			out = append(out, *g.nodes[nid])
		}
	}
	return out
}

func snapshot(n *Node) *Node {
	if n == nil {
		return nil
	}
	c := *n
	return &c
}
