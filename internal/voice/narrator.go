package voice

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"voxmail/internal/agentrt"
	"voxmail/internal/logging"
)

// Narrator is the capability set the bridge depends on. The realtime
// implementation and the test mock are substitutable behind it.
type Narrator interface {
	Acknowledge(utterance string) error
	Narrate(taskID string, ev agentrt.Event)
	FinalSummary(taskID, result string) error
	Pause()
	Resume()
	PrioritizeTask(taskID string)
	PrioritizeLatest()
	SetSession(session any)
	Disconnect()
}

// Layer is the production Narrator over a realtime speech session.
type Layer struct {
	mu      sync.Mutex
	session any
	queue   *NarrationQueue
}

// NewLayer builds a Layer in the given mode with no session attached yet.
func NewLayer(mode Mode) *Layer {
	l := &Layer{}
	l.queue = NewNarrationQueue(mode, l.speak)
	return l
}

// SetSession attaches (or replaces) the realtime session. Tests inject a
// mock here.
func (l *Layer) SetSession(session any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.session = session
}

// speaker is the capability a session needs for the layer to talk.
type speaker interface {
	Speak(ctx context.Context, text string) error
}

func (l *Layer) speak(text string) error {
	l.mu.Lock()
	session := l.session
	l.mu.Unlock()
	if session == nil {
		return nil
	}
	if sp, ok := session.(speaker); ok {
		return sp.Speak(context.Background(), text)
	}
	return nil
}

// Acknowledge speaks a short confirmation before any backend work begins.
// It bypasses the queue so it is always first.
func (l *Layer) Acknowledge(utterance string) error {
	return l.speak(acknowledgement(utterance))
}

func acknowledgement(utterance string) string {
	lc := strings.ToLower(utterance)
	switch {
	case strings.Contains(lc, "how many"), strings.Contains(lc, "count"):
		return "Let me count that for you. One moment."
	case strings.Contains(lc, "urgent"), strings.Contains(lc, "priority"), strings.Contains(lc, "triage"):
		return "Checking what needs your attention. Give me a second."
	case strings.Contains(lc, "sync"), strings.Contains(lc, "backfill"):
		return "Starting that sync now. I'll tell you when it's moving."
	default:
		return "On it. Let me check your mail."
	}
}

// Narrate enqueues the narration string for one backend event.
func (l *Layer) Narrate(taskID string, ev agentrt.Event) {
	text := FormatEvent(ev)
	if text == "" {
		return
	}
	l.queue.Enqueue(taskID, text)
}

// FinalSummary enqueues the closing narration and waits for the queue to
// drain so the summary is the last thing spoken for the task.
func (l *Layer) FinalSummary(taskID, result string) error {
	text := strings.TrimSpace(result)
	if text == "" {
		text = "Done. Nothing further to report."
	}
	l.queue.Enqueue(taskID, text)
	l.queue.Flush()
	return nil
}

// Pause suspends narration delivery.
func (l *Layer) Pause() { l.queue.Pause() }

// Resume restarts narration delivery.
func (l *Layer) Resume() { l.queue.Resume() }

// PrioritizeTask drops pending narrations from other tasks.
func (l *Layer) PrioritizeTask(taskID string) { l.queue.PrioritizeTask(taskID) }

// PrioritizeLatest keeps only the newest task's pending narrations.
func (l *Layer) PrioritizeLatest() { l.queue.PrioritizeLatest() }

// Disconnect tears the session down. Close methods are tried in order and
// individual failures swallowed so one missing method never prevents
// teardown.
func (l *Layer) Disconnect() {
	l.queue.Close()

	l.mu.Lock()
	session := l.session
	l.session = nil
	l.mu.Unlock()

	Shutdown(session)
}

type closerSession interface{ Close() error }
type disconnecterSession interface{ Disconnect() error }
type disposerSession interface{ Dispose() error }

// Shutdown tries close, disconnect, and dispose on the session, in order,
// stopping at the first that succeeds. A failing or missing method never
// prevents teardown; a session exposing none of them is released as-is.
func Shutdown(session any) {
	if session == nil {
		return
	}
	if c, ok := session.(closerSession); ok {
		if err := c.Close(); err == nil {
			return
		} else {
			logging.Log.WithError(err).Debug("session close failed")
		}
	}
	if d, ok := session.(disconnecterSession); ok {
		if err := d.Disconnect(); err == nil {
			return
		} else {
			logging.Log.WithError(err).Debug("session disconnect failed")
		}
	}
	if d, ok := session.(disposerSession); ok {
		if err := d.Dispose(); err != nil {
			logging.Log.WithError(err).Debug("session dispose failed")
		}
	}
}

// FormatEvent renders the canonical narration string for one event type.
// Unknown types produce nothing.
func FormatEvent(ev agentrt.Event) string {
	switch ev.Type {
	case agentrt.EventAgentStarted:
		if ev.AgentID == agentrt.RouterAgentID {
			return "Thinking about the best way to answer that."
		}
		return fmt.Sprintf("The %s agent is on it.", ev.AgentID)
	case agentrt.EventAgentHandoff:
		return fmt.Sprintf("Handing this to the %s agent.", ev.ToAgentID)
	case agentrt.EventToolStarted:
		return toolStartedLine(ev.Tool)
	case agentrt.EventToolCompleted:
		if ev.Error != "" {
			return "That step hit a snag; trying to recover."
		}
		if ev.Summary != "" {
			return fmt.Sprintf("Got results back: %s.", ev.Summary)
		}
		return "Got results back."
	case agentrt.EventProgressUpdate:
		return ev.Message
	case agentrt.EventAgentCompleted:
		if ev.Error != "" && ev.AgentID == agentrt.RouterAgentID {
			return "I hit an error processing that."
		}
		// The final summary narration covers the success case.
		return ""
	default:
		return ""
	}
}

func toolStartedLine(tool string) string {
	switch tool {
	case "search_emails":
		return "Searching your email now."
	case "list_unread_messages":
		return "Pulling up your unread messages."
	case "list_recent_emails":
		return "Looking at your most recent mail."
	case "triage_recent_emails":
		return "Triaging your latest messages for urgency."
	case "list_contacts":
		return "Checking your contacts."
	case "list_events":
		return "Checking your calendar."
	case "sync_start":
		return "Kicking off a mailbox sync."
	case "backfill_start":
		return "Starting the historical backfill."
	case "aggregate_emails":
		return "Crunching the numbers across your mailbox."
	case "analyze_emails":
		return "Reading through the matches."
	case "count_emails":
		return "Counting matching messages."
	default:
		return fmt.Sprintf("Running %s.", tool)
	}
}
