package dispatch

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"voxmail/internal/logging"
)

// DefaultSchedule fires at the top of each hour (six-field, seconds first).
const DefaultSchedule = "0 0 * * * *"

// Timer periodically enqueues a delta for every known tenant.
type Timer struct {
	cron *cron.Cron
}

// StartTimer schedules the delta sweep. An empty schedule uses the default;
// runOnStartup fires one sweep immediately.
func StartTimer(ctx context.Context, d *Dispatcher, schedule string, runOnStartup bool) (*Timer, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	c := cron.New(cron.WithSeconds())
	if _, err := c.AddFunc(schedule, func() {
		d.EnqueueDeltasForAllGrants(ctx)
	}); err != nil {
		return nil, fmt.Errorf("invalid delta timer schedule %q: %w", schedule, err)
	}
	c.Start()
	logging.Log.WithField("schedule", schedule).Info("delta timer started")

	if runOnStartup {
		go d.EnqueueDeltasForAllGrants(ctx)
	}
	return &Timer{cron: c}, nil
}

// Stop halts the schedule; running sweeps finish.
func (t *Timer) Stop() {
	if t != nil && t.cron != nil {
		t.cron.Stop()
	}
}
