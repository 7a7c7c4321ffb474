// Package queue carries ingestion jobs from the dispatcher to the workers.
// Messages are keyed by grant id so one tenant's jobs always land on the
// same partition and are consumed by exactly one worker at a time.
package queue

import "context"

// Job is the queue envelope of one ingestion run.
type Job struct {
	JobID      string `json:"job_id"`
	GrantID    string `json:"grant_id"`
	Kind       string `json:"kind"`
	SinceEpoch int64  `json:"since_epoch"`
	Max        int    `json:"max"`
	Attempt    int    `json:"attempt"`
}

// Publisher enqueues jobs.
type Publisher interface {
	Publish(ctx context.Context, job Job) error
}

// DeadLetterer records a job that exhausted its delivery attempts.
type DeadLetterer interface {
	PublishDeadLetter(ctx context.Context, job Job, lastErr string) error
}

// Handler processes one delivered job. A returned error leaves re-delivery
// policy to the handler itself; the consumer commits regardless (the worker
// runs its own retry/dead-letter loop before returning).
type Handler func(ctx context.Context, job Job) error

// Consumer delivers jobs to a handler until the context is canceled.
type Consumer interface {
	Consume(ctx context.Context, handler Handler) error
}
