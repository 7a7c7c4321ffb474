// Package voice is the narration layer over a realtime speech session. It
// only speaks: it acknowledges utterances, narrates backend events in order,
// and emits final summaries. All mailbox work happens behind the bridge.
package voice

import (
	"sync"

	"voxmail/internal/logging"
)

// Mode selects the queue discipline.
type Mode string

// Queue modes: serialize drains strictly FIFO; prioritize drops pending
// items older than a newly prioritized task.
const (
	ModeSerialize  Mode = "serialize"
	ModePrioritize Mode = "prioritize"
)

// Item is one queued narration.
type Item struct {
	TaskID string
	Text   string
}

// Speaker delivers one narration to the underlying session.
type Speaker func(text string) error

// NarrationQueue serializes narrations so they never interleave
// mid-sentence. A single drain goroutine owns delivery order.
type NarrationQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    []Item
	mode     Mode
	paused   bool
	closed   bool
	inFlight bool

	speak Speaker
	done  chan struct{}
}

// NewNarrationQueue starts a queue draining into speak. mode defaults to
// serialize.
func NewNarrationQueue(mode Mode, speak Speaker) *NarrationQueue {
	if mode == "" {
		mode = ModeSerialize
	}
	q := &NarrationQueue{mode: mode, speak: speak, done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.drain()
	return q
}

// Enqueue appends one narration.
func (q *NarrationQueue) Enqueue(taskID, text string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, Item{TaskID: taskID, Text: text})
	q.cond.Broadcast()
}

// Pause stops delivery; queued items are retained.
func (q *NarrationQueue) Pause() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = true
}

// Resume restarts delivery.
func (q *NarrationQueue) Resume() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = false
	q.cond.Broadcast()
}

// PrioritizeTask drops pending items that do not belong to taskID. Only
// meaningful in prioritize mode; a no-op under serialize.
func (q *NarrationQueue) PrioritizeTask(taskID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.mode != ModePrioritize {
		return
	}
	kept := q.items[:0]
	for _, it := range q.items {
		if it.TaskID == taskID {
			kept = append(kept, it)
		}
	}
	q.items = kept
	q.cond.Broadcast()
}

// PrioritizeLatest keeps only the newest task's pending items.
func (q *NarrationQueue) PrioritizeLatest() {
	q.mu.Lock()
	latest := ""
	if n := len(q.items); n > 0 {
		latest = q.items[n-1].TaskID
	}
	q.mu.Unlock()
	if latest != "" {
		q.PrioritizeTask(latest)
	}
}

// Pending returns a snapshot of undelivered items.
func (q *NarrationQueue) Pending() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item, len(q.items))
	copy(out, q.items)
	return out
}

// Close stops the drain goroutine after pending items are dropped.
func (q *NarrationQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.cond.Broadcast()
	q.mu.Unlock()
	<-q.done
}

// Flush blocks until every currently queued item has been delivered.
func (q *NarrationQueue) Flush() {
	q.mu.Lock()
	for (len(q.items) > 0 || q.inFlight) && !q.closed {
		q.cond.Wait()
	}
	q.mu.Unlock()
}

func (q *NarrationQueue) drain() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for (len(q.items) == 0 || q.paused) && !q.closed {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return
		}
		item := q.items[0]
		q.items = q.items[1:]
		q.inFlight = true
		q.mu.Unlock()

		if q.speak != nil {
			if err := q.speak(item.Text); err != nil {
				logging.Log.WithError(err).Warn("narration delivery failed")
			}
		}

		q.mu.Lock()
		q.inFlight = false
		q.cond.Broadcast()
		q.mu.Unlock()
	}
}
