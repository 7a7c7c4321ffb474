package ingest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxmail/internal/embedding"
	"voxmail/internal/mail"
	"voxmail/internal/queue"
	"voxmail/internal/store"
	"voxmail/internal/vecstore"
)

type fakeMail struct {
	pages []*mail.MessagePage
	errs  []error
	calls int
}

func (f *fakeMail) ListMessagesPage(_ context.Context, _ mail.ListMessagesOptions) (*mail.MessagePage, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.pages) {
		return f.pages[i], nil
	}
	return &mail.MessagePage{}, nil
}

type fakeDense struct{ calls int }

func (f *fakeDense) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 2, 3}
	}
	return out, nil
}

type fakeSparse struct{}

func (fakeSparse) EmbedTexts(_ context.Context, texts []string) ([]embedding.SparseVector, error) {
	out := make([]embedding.SparseVector, len(texts))
	for i := range out {
		out[i] = embedding.SparseVector{Indices: []uint32{1}, Values: []float32{0.5}}
	}
	return out, nil
}

type fakeVectors struct {
	mu      sync.Mutex
	records []vecstore.Record
}

func (f *fakeVectors) Upsert(_ context.Context, records []vecstore.Record, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, records...)
	return nil
}

func (f *fakeVectors) byType(t string) []vecstore.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []vecstore.Record
	for _, r := range f.records {
		if r.Metadata["type"] == t {
			out = append(out, r)
		}
	}
	return out
}

type fakeRollups struct{}

func (fakeRollups) RollupText(_ context.Context, scope, label string, texts []string) (string, error) {
	return fmt.Sprintf("%s rollup for %s over %d messages", scope, label, len(texts)), nil
}

func newWorker(t *testing.T, m *fakeMail) (*Worker, *fakeVectors, *store.Store, *queue.MemoryQueue) {
	t.Helper()
	st, err := store.New(t.TempDir())
	require.NoError(t, err)
	vecs := &fakeVectors{}
	dlq := queue.NewMemoryQueue(8)
	w := &Worker{
		Mail:        m,
		Dense:       &fakeDense{},
		Sparse:      fakeSparse{},
		Vectors:     vecs,
		Store:       st,
		Rollups:     fakeRollups{},
		DeadLetters: dlq,
		MaxDelivery: 3,
		sleep:       func(time.Duration) {},
	}
	return w, vecs, st, dlq
}

func message(id, thread string, date int64) mail.Message {
	return mail.Message{
		ID: id, ThreadID: thread, Subject: "subject " + id,
		From: mail.Address{Email: "sender@example.com"},
		Date: date, BodyText: "body of " + id, Snippet: "body of " + id,
	}
}

func TestRunHappyPath(t *testing.T) {
	m := &fakeMail{pages: []*mail.MessagePage{
		{Messages: []mail.Message{message("m1", "t1", 100), message("m2", "t1", 200)}, NextCursor: "p2"},
		{Messages: []mail.Message{message("m3", "t2", 150)}},
	}}
	w, vecs, st, _ := newWorker(t, m)

	job := queue.Job{JobID: "j1", GrantID: "g1", Kind: store.KindBackfill, Max: 100}
	require.NoError(t, st.CreateJob(store.JobRecord{JobID: "j1", GrantID: "g1", Kind: store.KindBackfill}))
	require.NoError(t, w.Run(context.Background(), job))

	rec, err := st.GetJob("j1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusSucceeded, rec.Status)
	assert.Equal(t, 3, rec.Processed)
	assert.NotZero(t, rec.CompletedAt)

	cp, err := st.GetCheckpoint("g1")
	require.NoError(t, err)
	assert.EqualValues(t, 200, cp, "checkpoint is the max message date")

	msgs := vecs.byType(vecstore.TypeMessage)
	require.Len(t, msgs, 3)
	assert.Equal(t, "m1#0", msgs[0].ID)
	for _, r := range msgs {
		assert.Equal(t, "g1", r.Metadata["grant_id"])
		assert.NotNil(t, r.SparseValues)
		assert.Equal(t, "example.com", r.Metadata["from_domain"])
	}

	// Rollups cover every touched scope.
	assert.NotEmpty(t, vecs.byType(vecstore.TypeThread))
	assert.NotEmpty(t, vecs.byType(vecstore.TypeThreadDay))
	weeks := vecs.byType(vecstore.TypeThreadWeek)
	require.NotEmpty(t, weeks)
	assert.NotEmpty(t, weeks[0].Metadata["bucket"])

	// Summary persisted on disk and overwritten in place.
	text, err := st.ReadSummary("g1", "thread", "t1")
	require.NoError(t, err)
	assert.Contains(t, text, "thread rollup")
}

func TestRunSkipsEmptyBodies(t *testing.T) {
	empty := message("m1", "t1", 100)
	empty.BodyText = "   "
	m := &fakeMail{pages: []*mail.MessagePage{{Messages: []mail.Message{empty}}}}
	w, vecs, st, _ := newWorker(t, m)
	require.NoError(t, st.CreateJob(store.JobRecord{JobID: "j1", GrantID: "g1", Kind: store.KindDelta}))

	require.NoError(t, w.Run(context.Background(), queue.Job{JobID: "j1", GrantID: "g1", Kind: store.KindDelta, Max: 10}))
	assert.Empty(t, vecs.records, "no chunks, no upsert")

	cp, err := st.GetCheckpoint("g1")
	require.NoError(t, err)
	assert.EqualValues(t, 100, cp, "page still advances the checkpoint")
}

func TestRunRetriesTransientThenSucceeds(t *testing.T) {
	m := &fakeMail{
		errs: []error{
			&mail.APIError{Status: 502, Body: "bad gateway"},
			&mail.APIError{Status: 503, Body: "unavailable"},
		},
		pages: []*mail.MessagePage{nil, nil, {Messages: []mail.Message{message("m1", "t1", 100)}}},
	}
	w, _, st, _ := newWorker(t, m)
	require.NoError(t, st.CreateJob(store.JobRecord{JobID: "j1", GrantID: "g1", Kind: store.KindDelta}))

	require.NoError(t, w.Run(context.Background(), queue.Job{JobID: "j1", GrantID: "g1", Kind: store.KindDelta, Max: 10}))
	rec, err := st.GetJob("j1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusSucceeded, rec.Status)
	assert.Equal(t, 2, rec.Attempt)
}

func TestRunAuthFailureIsFatal(t *testing.T) {
	m := &fakeMail{errs: []error{&mail.APIError{Status: 401, Body: "expired grant"}}}
	w, _, st, _ := newWorker(t, m)
	require.NoError(t, st.CreateJob(store.JobRecord{JobID: "j1", GrantID: "g1", Kind: store.KindDelta}))

	err := w.Run(context.Background(), queue.Job{JobID: "j1", GrantID: "g1", Kind: store.KindDelta, Max: 10})
	require.Error(t, err)

	rec, gerr := st.GetJob("j1")
	require.NoError(t, gerr)
	assert.Equal(t, store.StatusFailed, rec.Status)
	assert.Contains(t, rec.Error, "expired grant")
	assert.Equal(t, 0, rec.Attempt, "fatal errors are not retried")

	cp, _ := st.GetCheckpoint("g1")
	assert.Zero(t, cp, "checkpoint untouched on failure")
}

func TestRunDeadLettersAfterMaxDelivery(t *testing.T) {
	m := &fakeMail{errs: []error{
		&mail.APIError{Status: 500, Body: "e"},
		&mail.APIError{Status: 500, Body: "e"},
		&mail.APIError{Status: 500, Body: "e"},
		&mail.APIError{Status: 500, Body: "e"},
	}}
	w, _, st, dlq := newWorker(t, m)
	require.NoError(t, st.CreateJob(store.JobRecord{JobID: "j1", GrantID: "g1", Kind: store.KindDelta}))

	err := w.Run(context.Background(), queue.Job{JobID: "j1", GrantID: "g1", Kind: store.KindDelta, Max: 10})
	require.Error(t, err)

	rec, gerr := st.GetJob("j1")
	require.NoError(t, gerr)
	assert.Equal(t, store.StatusDeadlettered, rec.Status)
	assert.Equal(t, 3, rec.Attempt)

	letters := dlq.DeadLetters()
	require.Len(t, letters, 1)
	assert.Equal(t, "j1", letters[0].Job.JobID)
}

func TestRunZeroMessagePageTerminates(t *testing.T) {
	m := &fakeMail{pages: []*mail.MessagePage{{Messages: nil, NextCursor: "ignored"}}}
	w, _, st, _ := newWorker(t, m)
	require.NoError(t, st.CreateJob(store.JobRecord{JobID: "j1", GrantID: "g1", Kind: store.KindDelta}))

	require.NoError(t, w.Run(context.Background(), queue.Job{JobID: "j1", GrantID: "g1", Kind: store.KindDelta, Max: 100}))
	assert.Equal(t, 1, m.calls, "empty page ends the job even below max")
}

func TestCheckpointNeverDecreases(t *testing.T) {
	m := &fakeMail{pages: []*mail.MessagePage{{Messages: []mail.Message{message("m1", "t1", 50)}}}}
	w, _, st, _ := newWorker(t, m)
	require.NoError(t, st.SetCheckpoint("g1", 500))
	require.NoError(t, st.CreateJob(store.JobRecord{JobID: "j1", GrantID: "g1", Kind: store.KindDelta}))

	require.NoError(t, w.Run(context.Background(), queue.Job{JobID: "j1", GrantID: "g1", Kind: store.KindDelta, Max: 10}))
	cp, err := st.GetCheckpoint("g1")
	require.NoError(t, err)
	assert.EqualValues(t, 500, cp)
}

func TestReingestionProducesSameIDs(t *testing.T) {
	page := &mail.MessagePage{Messages: []mail.Message{message("m1", "t1", 100)}}
	m := &fakeMail{pages: []*mail.MessagePage{page}}
	w, vecs, st, _ := newWorker(t, m)
	require.NoError(t, st.CreateJob(store.JobRecord{JobID: "j1", GrantID: "g1", Kind: store.KindDelta}))
	require.NoError(t, w.Run(context.Background(), queue.Job{JobID: "j1", GrantID: "g1", Kind: store.KindDelta, Max: 10}))

	firstIDs := map[string]bool{}
	for _, r := range vecs.records {
		firstIDs[r.ID] = true
	}

	m2 := &fakeMail{pages: []*mail.MessagePage{page}}
	w.Mail = m2
	require.NoError(t, st.CreateJob(store.JobRecord{JobID: "j2", GrantID: "g1", Kind: store.KindDelta}))
	require.NoError(t, w.Run(context.Background(), queue.Job{JobID: "j2", GrantID: "g1", Kind: store.KindDelta, Max: 10}))

	for _, r := range vecs.records {
		assert.True(t, firstIDs[r.ID], "re-ingestion reuses stable id %s", r.ID)
	}
}
