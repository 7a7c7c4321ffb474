package voice

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxmail/internal/agentrt"
)

// recordingSession records spoken lines.
type recordingSession struct {
	mu    sync.Mutex
	lines []string
}

func (s *recordingSession) Speak(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, text)
	return nil
}

func (s *recordingSession) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.lines))
	copy(out, s.lines)
	return out
}

func TestQueueFIFO(t *testing.T) {
	var mu sync.Mutex
	var got []string
	q := NewNarrationQueue(ModeSerialize, func(text string) error {
		mu.Lock()
		got = append(got, text)
		mu.Unlock()
		return nil
	})
	defer q.Close()

	for _, s := range []string{"one", "two", "three"} {
		q.Enqueue("t1", s)
	}
	q.Flush()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"one", "two", "three"}, got)
}

func TestQueuePauseResume(t *testing.T) {
	var mu sync.Mutex
	var got []string
	q := NewNarrationQueue(ModeSerialize, func(text string) error {
		mu.Lock()
		got = append(got, text)
		mu.Unlock()
		return nil
	})
	defer q.Close()

	q.Pause()
	q.Enqueue("t1", "held")
	assert.NotEmpty(t, q.Pending())

	q.Resume()
	q.Flush()
	mu.Lock()
	assert.Equal(t, []string{"held"}, got)
	mu.Unlock()
}

func TestQueuePrioritizeDropsOlderTasks(t *testing.T) {
	q := NewNarrationQueue(ModePrioritize, func(string) error { return nil })
	defer q.Close()

	q.Pause()
	q.Enqueue("old", "a")
	q.Enqueue("old", "b")
	q.Enqueue("new", "c")
	q.PrioritizeLatest()

	pending := q.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "new", pending[0].TaskID)
}

func TestQueuePrioritizeIsNoopInSerializeMode(t *testing.T) {
	q := NewNarrationQueue(ModeSerialize, func(string) error { return nil })
	defer q.Close()

	q.Pause()
	q.Enqueue("old", "a")
	q.Enqueue("new", "b")
	q.PrioritizeLatest()
	assert.Len(t, q.Pending(), 2)
}

func TestLayerSpeaksThroughSession(t *testing.T) {
	l := NewLayer(ModeSerialize)
	session := &recordingSession{}
	l.SetSession(session)

	require.NoError(t, l.Acknowledge("how many emails do I have?"))
	l.Narrate("t1", agentrt.Event{Type: agentrt.EventToolStarted, Tool: "count_emails"})
	l.Narrate("t1", agentrt.Event{Type: agentrt.EventToolCompleted, Tool: "count_emails", Summary: "total=12"})
	require.NoError(t, l.FinalSummary("t1", "You have 12 emails."))

	lines := session.Lines()
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "count")
	assert.Equal(t, "Counting matching messages.", lines[1])
	assert.Contains(t, lines[2], "total=12")
	assert.Equal(t, "You have 12 emails.", lines[3])
}

func TestLayerWithoutSessionDoesNotBlock(t *testing.T) {
	l := NewLayer(ModeSerialize)
	require.NoError(t, l.Acknowledge("hello"))
	l.Narrate("t1", agentrt.Event{Type: agentrt.EventProgressUpdate, Message: "working"})
	require.NoError(t, l.FinalSummary("t1", "done"))
	l.Disconnect()
}

// Sessions exposing different subsets of teardown methods.
type closeOnly struct{ closed bool }

func (s *closeOnly) Close() error { s.closed = true; return nil }

type disposeOnly struct{ disposed bool }

func (s *disposeOnly) Dispose() error { s.disposed = true; return nil }

type failingCloseWithDisconnect struct {
	disconnected bool
}

func (s *failingCloseWithDisconnect) Close() error      { return errors.New("close broken") }
func (s *failingCloseWithDisconnect) Disconnect() error { s.disconnected = true; return nil }

type noTeardown struct{}

func TestShutdownMethodOrder(t *testing.T) {
	c := &closeOnly{}
	Shutdown(c)
	assert.True(t, c.closed)

	// Only dispose exists: dispose still runs.
	d := &disposeOnly{}
	Shutdown(d)
	assert.True(t, d.disposed)

	// close fails: falls through to disconnect.
	f := &failingCloseWithDisconnect{}
	Shutdown(f)
	assert.True(t, f.disconnected)

	// No methods at all: returns without panicking.
	Shutdown(noTeardown{})
	Shutdown(nil)
}

func TestDisconnectReleasesSession(t *testing.T) {
	l := NewLayer(ModeSerialize)
	c := &closeOnly{}
	l.SetSession(c)
	l.Disconnect()
	assert.True(t, c.closed)
}

func TestFormatEventCoversLifecycle(t *testing.T) {
	assert.NotEmpty(t, FormatEvent(agentrt.Event{Type: agentrt.EventAgentStarted, AgentID: "router"}))
	assert.Contains(t, FormatEvent(agentrt.Event{Type: agentrt.EventAgentHandoff, ToAgentID: "insight"}), "insight")
	assert.NotEmpty(t, FormatEvent(agentrt.Event{Type: agentrt.EventToolStarted, Tool: "mystery_tool"}))
	assert.Equal(t, "halfway there", FormatEvent(agentrt.Event{Type: agentrt.EventProgressUpdate, Message: "halfway there"}))
	assert.Equal(t, "I hit an error processing that.",
		FormatEvent(agentrt.Event{Type: agentrt.EventAgentCompleted, AgentID: "router", Error: "boom"}))
	assert.Empty(t, FormatEvent(agentrt.Event{Type: agentrt.EventAgentCompleted, AgentID: "router", Result: "ok"}))
}

func TestAcknowledgementIsShort(t *testing.T) {
	for _, u := range []string{"how many emails", "what's urgent", "sync my inbox", "read my mail"} {
		ack := acknowledgement(u)
		assert.NotEmpty(t, ack)
		assert.LessOrEqual(t, len([]rune(ack)), 120, "acknowledgement stays brief for %q", u)
	}
}
