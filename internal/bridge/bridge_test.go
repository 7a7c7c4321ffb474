package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxmail/internal/agentrt"
	"voxmail/internal/tools"
)

// mockNarrator records the narration sequence without a real session.
type mockNarrator struct {
	mu    sync.Mutex
	lines []string
}

func (m *mockNarrator) Acknowledge(_ string) error {
	m.record("ack")
	return nil
}

func (m *mockNarrator) Narrate(_ string, ev agentrt.Event) {
	m.record("event:" + string(ev.Type))
}

func (m *mockNarrator) FinalSummary(_ string, result string) error {
	m.record("final:" + result)
	return nil
}

func (m *mockNarrator) Pause()                {}
func (m *mockNarrator) Resume()               {}
func (m *mockNarrator) PrioritizeTask(string) {}
func (m *mockNarrator) PrioritizeLatest()     {}
func (m *mockNarrator) SetSession(any)        {}
func (m *mockNarrator) Disconnect()           {}

func (m *mockNarrator) record(s string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines = append(m.lines, s)
}

func (m *mockNarrator) Lines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.lines))
	copy(out, m.lines)
	return out
}

// toolCallingRunner dispatches one tool, then answers.
type toolCallingRunner struct {
	tool   string
	result string
	err    error
}

func (r *toolCallingRunner) Run(ctx context.Context, _ *agentrt.Specialist, reg tools.Registry, _ agentrt.Options, _ string, _ string) (string, error) {
	if r.tool != "" {
		_, _ = reg.Dispatch(ctx, r.tool, json.RawMessage(`{}`))
	}
	return r.result, r.err
}

func newBridge(runner agentrt.Runner) (*Bridge, *mockNarrator) {
	narrator := &mockNarrator{}
	b := New(agentrt.NewRuntime(nil), narrator, &tools.Bundle{GrantID: "g1"}, runner, agentrt.Options{})
	return b, narrator
}

func TestProcessUserRequestNarrationOrder(t *testing.T) {
	b, narrator := newBridge(&toolCallingRunner{tool: "search_emails", result: "Found 3 invoices."})

	result, err := b.ProcessUserRequest(context.Background(), "search for invoices")
	require.NoError(t, err)
	assert.Equal(t, "Found 3 invoices.", result)

	// Exactly: acknowledgement, one narration per event in order, final
	// summary. No interleaving.
	require.Equal(t, []string{
		"ack",
		"event:agent_started",
		"event:agent_handoff",
		"event:agent_started",
		"event:tool_started",
		"event:tool_completed",
		"event:agent_completed",
		"event:agent_completed",
		"final:Found 3 invoices.",
	}, narrator.Lines())
}

func TestProcessUserRequestBuildsCallGraph(t *testing.T) {
	b, _ := newBridge(&toolCallingRunner{tool: "search_emails", result: "ok"})

	_, err := b.ProcessUserRequest(context.Background(), "find the contract email")
	require.NoError(t, err)

	graph := b.GetCallGraph()
	root := graph.Root()
	require.NotNil(t, root)
	assert.Equal(t, agentrt.RouterAgentID, root.ID)
	assert.Equal(t, KindAgent, root.Kind)
	assert.Equal(t, StatusCompleted, root.Status)
	require.NotNil(t, root.EndedAt)

	specialists := graph.Children(root.ID)
	require.Len(t, specialists, 1)
	assert.Equal(t, "email-ops", specialists[0].ID)
	assert.Equal(t, StatusCompleted, specialists[0].Status)

	toolNodes := graph.Children(specialists[0].ID)
	require.Len(t, toolNodes, 1)
	assert.Equal(t, KindTool, toolNodes[0].Kind)
	assert.Equal(t, "search_emails", toolNodes[0].Label)
	assert.Equal(t, StatusCompleted, toolNodes[0].Status)
	require.NotNil(t, toolNodes[0].EndedAt)
}

func TestProcessUserRequestFansOutToUI(t *testing.T) {
	b, _ := newBridge(&toolCallingRunner{tool: "search_emails", result: "ok"})

	var mu sync.Mutex
	var uiEvents []UIDashboardEvent
	b.SubscribeUI(func(ev UIDashboardEvent) {
		mu.Lock()
		uiEvents = append(uiEvents, ev)
		mu.Unlock()
	})

	_, err := b.ProcessUserRequest(context.Background(), "find mail")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, uiEvents, 7, "one dashboard event per backend event")
	assert.Equal(t, agentrt.EventAgentStarted, uiEvents[0].Event.Type)
	require.NotNil(t, uiEvents[3].Node)
	assert.Equal(t, KindTool, uiEvents[3].Node.Kind)
	assert.Equal(t, StatusInProgress, uiEvents[3].Node.Status)
	assert.Equal(t, StatusCompleted, uiEvents[4].Node.Status)
}

func TestProcessUserRequestErrorPath(t *testing.T) {
	b, narrator := newBridge(&toolCallingRunner{err: errors.New("provider down")})

	_, err := b.ProcessUserRequest(context.Background(), "find mail")
	require.Error(t, err)

	lines := narrator.Lines()
	assert.Equal(t, "final:I hit an error processing that.", lines[len(lines)-1],
		"user hears a generic error, never the provider message")
	for _, l := range lines {
		assert.NotContains(t, l, "provider down")
	}
}

func TestToolCallsRecorded(t *testing.T) {
	b, _ := newBridge(&toolCallingRunner{tool: "count_emails", result: "ok"})

	_, err := b.ProcessUserRequest(context.Background(), "how many emails")
	require.NoError(t, err)

	calls := b.ToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "count_emails", calls[0].Name)
	assert.Equal(t, "insight", calls[0].AgentID)
}

func TestScratchpadAccumulatesAcrossTurns(t *testing.T) {
	b, _ := newBridge(&toolCallingRunner{tool: "count_emails", result: "ok"})

	_, err := b.ProcessUserRequest(context.Background(), "how many emails")
	require.NoError(t, err)
	_, err = b.ProcessUserRequest(context.Background(), "how many emails")
	require.NoError(t, err)

	pad := b.GetScratchpads().For("g1")
	assert.Len(t, pad.Entries(), 2)
}
