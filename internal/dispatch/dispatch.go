package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"voxmail/internal/logging"
	"voxmail/internal/queue"
	"voxmail/internal/store"
)

// Caps and defaults for ingestion pacing.
const (
	MaxJobSize      = 10000
	DefaultMonths   = 6
	WebhookDeltaMax = 200
	dedupeWindow    = 60 * time.Second
	monthSeconds    = 30 * 24 * 60 * 60
)

// Dispatcher creates job records and enqueues them. Duplicate submissions
// for the same (grantId, kind, since) within the dedupe window are dropped.
type Dispatcher struct {
	Store  *store.Store
	Queue  queue.Publisher
	Dedupe DedupeStore

	DeltaMax       int
	BackfillMonths int

	// now is swapped in tests.
	now func() time.Time
}

// New builds a Dispatcher with defaults applied.
func New(st *store.Store, q queue.Publisher, dedupe DedupeStore) *Dispatcher {
	if dedupe == nil {
		dedupe = NewMemoryDedupeStore()
	}
	return &Dispatcher{
		Store:          st,
		Queue:          q,
		Dedupe:         dedupe,
		DeltaMax:       MaxJobSize,
		BackfillMonths: DefaultMonths,
		now:            time.Now,
	}
}

func (d *Dispatcher) clock() time.Time {
	if d.now != nil {
		return d.now()
	}
	return time.Now()
}

// EnqueueBackfill creates and enqueues a backfill from now - months·30d.
// Returns the job record, or nil when the submission was a duplicate.
func (d *Dispatcher) EnqueueBackfill(ctx context.Context, grantID string, months, max int) (*store.JobRecord, error) {
	if grantID == "" {
		return nil, fmt.Errorf("grantId is required")
	}
	if months <= 0 {
		months = d.BackfillMonths
	}
	if max <= 0 || max > MaxJobSize {
		max = MaxJobSize
	}
	since := d.clock().Unix() - int64(months)*monthSeconds
	return d.enqueue(ctx, grantID, store.KindBackfill, since, max)
}

// EnqueueDelta creates and enqueues a delta from the tenant checkpoint.
// Returns the job record, or nil when the submission was a duplicate.
func (d *Dispatcher) EnqueueDelta(ctx context.Context, grantID string, max int) (*store.JobRecord, error) {
	if grantID == "" {
		return nil, fmt.Errorf("grantId is required")
	}
	window := d.DeltaMax
	if window <= 0 || window > MaxJobSize {
		window = MaxJobSize
	}
	if max <= 0 || max > window {
		max = window
	}
	since, err := d.Store.GetCheckpoint(grantID)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	return d.enqueue(ctx, grantID, store.KindDelta, since, max)
}

func (d *Dispatcher) enqueue(ctx context.Context, grantID, kind string, since int64, max int) (*store.JobRecord, error) {
	key := fmt.Sprintf("dispatch:%s:%s:%d", grantID, kind, since)
	fresh, err := d.Dedupe.Claim(ctx, key, dedupeWindow)
	if err != nil {
		// A broken dedupe store must not block ingestion; duplicate jobs are
		// idempotent downstream.
		logging.Log.WithError(err).Warn("dedupe claim failed, enqueueing anyway")
		fresh = true
	}
	if !fresh {
		logging.Log.WithField("grant_id", grantID).WithField("kind", kind).Debug("duplicate submission suppressed")
		return nil, nil
	}

	rec := store.JobRecord{
		JobID:      uuid.NewString(),
		GrantID:    grantID,
		Kind:       kind,
		Status:     store.StatusQueued,
		SinceEpoch: since,
		Max:        max,
		StartedAt:  d.clock().Unix(),
	}
	if err := d.Store.CreateJob(rec); err != nil {
		return nil, fmt.Errorf("create job record: %w", err)
	}
	if err := d.Queue.Publish(ctx, queue.Job{
		JobID:      rec.JobID,
		GrantID:    rec.GrantID,
		Kind:       rec.Kind,
		SinceEpoch: rec.SinceEpoch,
		Max:        rec.Max,
	}); err != nil {
		return nil, fmt.Errorf("publish job: %w", err)
	}
	logging.Log.WithField("grant_id", grantID).WithField("job_id", rec.JobID).WithField("kind", kind).Info("job enqueued")
	return &rec, nil
}

// HandleWebhook enqueues a small delta for verified message events. Returns
// whether a job was enqueued.
func (d *Dispatcher) HandleWebhook(ctx context.Context, ev *WebhookEvent) (bool, error) {
	if !ev.TriggersDelta() || ev.Data.GrantID == "" {
		return false, nil
	}
	rec, err := d.EnqueueDelta(ctx, ev.Data.GrantID, WebhookDeltaMax)
	if err != nil {
		return false, err
	}
	return rec != nil, nil
}

// EnqueueDeltasForAllGrants runs one delta per known tenant (timer path).
func (d *Dispatcher) EnqueueDeltasForAllGrants(ctx context.Context) {
	grants, err := d.Store.ListGrants()
	if err != nil {
		logging.Log.WithError(err).Error("enumerating grants for delta timer")
		return
	}
	for _, g := range grants {
		if _, err := d.EnqueueDelta(ctx, g, 0); err != nil {
			logging.Log.WithField("grant_id", g).WithError(err).Error("timer delta enqueue failed")
		}
	}
}
