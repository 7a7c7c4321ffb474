package dispatch

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxmail/internal/queue"
	"voxmail/internal/store"
)

func newDispatcher(t *testing.T) (*Dispatcher, *queue.MemoryQueue, *store.Store) {
	t.Helper()
	st, err := store.New(t.TempDir())
	require.NoError(t, err)
	q := queue.NewMemoryQueue(16)
	d := New(st, q, NewMemoryDedupeStore())
	d.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return d, q, st
}

func drain(t *testing.T, q *queue.MemoryQueue) []queue.Job {
	t.Helper()
	var out []queue.Job
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = q.Consume(ctx, func(_ context.Context, job queue.Job) error {
		out = append(out, job)
		return nil
	})
	return out
}

func TestEnqueueBackfill(t *testing.T) {
	d, q, st := newDispatcher(t)

	rec, err := d.EnqueueBackfill(context.Background(), "g1", 2, 0)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, store.KindBackfill, rec.Kind)
	assert.Equal(t, MaxJobSize, rec.Max)
	assert.EqualValues(t, 1_700_000_000-2*monthSeconds, rec.SinceEpoch)

	persisted, err := st.GetJob(rec.JobID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusQueued, persisted.Status)

	jobs := drain(t, q)
	require.Len(t, jobs, 1)
	assert.Equal(t, rec.JobID, jobs[0].JobID)
	assert.Equal(t, "g1", jobs[0].GrantID)
}

func TestEnqueueDeltaReadsCheckpointAndCaps(t *testing.T) {
	d, q, st := newDispatcher(t)
	require.NoError(t, st.SetCheckpoint("g1", 12345))

	rec, err := d.EnqueueDelta(context.Background(), "g1", 99999)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.EqualValues(t, 12345, rec.SinceEpoch)
	assert.Equal(t, MaxJobSize, rec.Max, "max capped to the delta window")

	jobs := drain(t, q)
	require.Len(t, jobs, 1)
}

func TestDuplicateSubmissionSuppressed(t *testing.T) {
	d, q, _ := newDispatcher(t)

	first, err := d.EnqueueBackfill(context.Background(), "g1", 1, 100)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := d.EnqueueBackfill(context.Background(), "g1", 1, 100)
	require.NoError(t, err)
	assert.Nil(t, second, "same (grant, kind, since) within the window is a duplicate")

	jobs := drain(t, q)
	assert.Len(t, jobs, 1)
}

func TestEnqueueRequiresGrant(t *testing.T) {
	d, _, _ := newDispatcher(t)
	_, err := d.EnqueueBackfill(context.Background(), "", 1, 10)
	assert.Error(t, err)
	_, err = d.EnqueueDelta(context.Background(), "", 10)
	assert.Error(t, err)
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"type":"message.created","data":{"grant_id":"g1"}}`)
	sig := sign("topsecret", body)

	assert.True(t, VerifySignature("topsecret", body, sig))
	assert.False(t, VerifySignature("topsecret", body, sign("othersecret", body)))
	assert.False(t, VerifySignature("topsecret", []byte("tampered"), sig))
	assert.False(t, VerifySignature("topsecret", body, "not-hex!"))
	assert.False(t, VerifySignature("", body, sig))
	assert.False(t, VerifySignature("topsecret", body, ""))
}

func TestHandleWebhook(t *testing.T) {
	d, q, _ := newDispatcher(t)

	ev, err := ParseWebhook([]byte(`{"type":"message.created","data":{"grant_id":"g1"}}`))
	require.NoError(t, err)
	enqueued, err := d.HandleWebhook(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, enqueued)

	// Non-message events are ignored.
	ev2, err := ParseWebhook([]byte(`{"type":"grant.expired","data":{"grant_id":"g1"}}`))
	require.NoError(t, err)
	enqueued, err = d.HandleWebhook(context.Background(), ev2)
	require.NoError(t, err)
	assert.False(t, enqueued)

	jobs := drain(t, q)
	require.Len(t, jobs, 1)
	assert.Equal(t, store.KindDelta, jobs[0].Kind)
	assert.Equal(t, WebhookDeltaMax, jobs[0].Max)
}

func TestEnqueueDeltasForAllGrants(t *testing.T) {
	d, q, st := newDispatcher(t)
	require.NoError(t, st.SetCheckpoint("g1", 1))
	require.NoError(t, st.SetCheckpoint("g2", 2))

	d.EnqueueDeltasForAllGrants(context.Background())

	jobs := drain(t, q)
	grants := map[string]bool{}
	for _, j := range jobs {
		grants[j.GrantID] = true
		assert.Equal(t, store.KindDelta, j.Kind)
	}
	assert.True(t, grants["g1"])
	assert.True(t, grants["g2"])
}

func TestMemoryDedupeExpiry(t *testing.T) {
	s := NewMemoryDedupeStore()
	nowVal := time.Unix(0, 0)
	s.now = func() time.Time { return nowVal }

	ok, err := s.Claim(context.Background(), "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = s.Claim(context.Background(), "k", time.Minute)
	assert.False(t, ok)

	nowVal = nowVal.Add(2 * time.Minute)
	ok, _ = s.Claim(context.Background(), "k", time.Minute)
	assert.True(t, ok, "expired claims are reusable")
}
