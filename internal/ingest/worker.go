package ingest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"voxmail/internal/embedding"
	"voxmail/internal/logging"
	"voxmail/internal/mail"
	"voxmail/internal/queue"
	"voxmail/internal/store"
	"voxmail/internal/summarize"
	"voxmail/internal/vecstore"
)

// DefaultMaxDelivery is how many attempts a job gets before dead-lettering.
const DefaultMaxDelivery = 10

const defaultPageSize = 100

// MailLister is the slice of the mail adapter the worker needs.
type MailLister interface {
	ListMessagesPage(ctx context.Context, opt mail.ListMessagesOptions) (*mail.MessagePage, error)
}

// DenseEmbedder produces dense vectors for a batch of texts.
type DenseEmbedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// SparseEmbedder produces sparse vectors for a batch of texts.
type SparseEmbedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([]embedding.SparseVector, error)
}

// VectorWriter is the slice of the vector store the worker needs.
type VectorWriter interface {
	Upsert(ctx context.Context, records []vecstore.Record, namespace string) error
}

// Rollupper produces rollup summary text for a scope.
type Rollupper interface {
	RollupText(ctx context.Context, scope, label string, texts []string) (string, error)
}

// Worker runs ingestion jobs. Sparse may be nil when no sparse index is
// configured; Rollups may be nil to disable hierarchical summaries.
type Worker struct {
	Mail    MailLister
	Dense   DenseEmbedder
	Sparse  SparseEmbedder
	Vectors VectorWriter
	Store   *store.Store
	Rollups Rollupper

	DeadLetters queue.DeadLetterer

	PageSize    int
	MaxDelivery int

	// sleep is swapped in tests to skip real backoff waits.
	sleep func(time.Duration)
}

func (w *Worker) pageSize() int {
	if w.PageSize > 0 {
		return w.PageSize
	}
	return defaultPageSize
}

func (w *Worker) maxDelivery() int {
	if w.MaxDelivery > 0 {
		return w.MaxDelivery
	}
	return DefaultMaxDelivery
}

func (w *Worker) wait(d time.Duration) {
	if w.sleep != nil {
		w.sleep(d)
		return
	}
	time.Sleep(d)
}

// newBackOff returns the retry schedule: base 2s, factor 2, cap 60s,
// ±25% jitter.
func newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.Multiplier = 2
	b.MaxInterval = 60 * time.Second
	b.RandomizationFactor = 0.25
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Run processes one job to a terminal state. Retryable failures are retried
// in place with exponential backoff until MaxDelivery attempts, then the job
// is dead-lettered. Fatal failures (auth, validation) fail the job at once.
// The checkpoint is only advanced for pages that fully succeeded.
func (w *Worker) Run(ctx context.Context, job queue.Job) error {
	lock := w.Store.Lock(job.GrantID, job.Kind)
	lock.Lock()
	defer lock.Unlock()

	log := logging.Log.WithField("grant_id", job.GrantID).WithField("job_id", job.JobID).WithField("kind", job.Kind)

	if _, err := w.Store.GetJob(job.JobID); err == store.ErrNotFound {
		_ = w.Store.CreateJob(store.JobRecord{
			JobID: job.JobID, GrantID: job.GrantID, Kind: job.Kind,
			SinceEpoch: job.SinceEpoch, Max: job.Max,
			Status: store.StatusQueued, StartedAt: time.Now().Unix(),
		})
	}
	w.patchStatus(job.JobID, store.StatusRunning, "")

	bo := newBackOff()
	attempt := job.Attempt
	for {
		err := w.runOnce(ctx, job)
		if err == nil {
			w.finish(job.JobID, store.StatusSucceeded, "")
			log.Info("job succeeded")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if mail.IsAuth(err) || !mail.IsRetryable(err) {
			w.finish(job.JobID, store.StatusFailed, err.Error())
			log.WithError(err).Error("job failed fatally")
			return err
		}

		attempt++
		a := attempt
		_, _ = w.Store.UpdateJob(job.JobID, store.JobPatch{Attempt: &a})
		if attempt >= w.maxDelivery() {
			w.finish(job.JobID, store.StatusDeadlettered, err.Error())
			if w.DeadLetters != nil {
				if dlErr := w.DeadLetters.PublishDeadLetter(ctx, job, err.Error()); dlErr != nil {
					log.WithError(dlErr).Warn("dead letter publish failed")
				}
			}
			log.WithError(err).WithField("attempt", attempt).Error("job dead-lettered")
			return err
		}

		d := bo.NextBackOff()
		log.WithError(err).WithField("attempt", attempt).WithField("backoff", d.String()).Warn("retryable failure, backing off")
		w.wait(d)
	}
}

func (w *Worker) patchStatus(jobID, status, errText string) {
	patch := store.JobPatch{Status: &status}
	if errText != "" {
		patch.Error = &errText
	}
	if _, err := w.Store.UpdateJob(jobID, patch); err != nil {
		logging.Log.WithField("job_id", jobID).WithError(err).Warn("job status update failed")
	}
}

func (w *Worker) finish(jobID, status, errText string) {
	now := time.Now().Unix()
	patch := store.JobPatch{Status: &status, CompletedAt: &now}
	if errText != "" {
		patch.Error = &errText
	}
	if _, err := w.Store.UpdateJob(jobID, patch); err != nil {
		logging.Log.WithField("job_id", jobID).WithError(err).Warn("job completion update failed")
	}
}

// runOnce walks pages until max is reached, a page comes back empty, or the
// provider returns no next cursor.
func (w *Worker) runOnce(ctx context.Context, job queue.Job) error {
	processed := 0
	indexed := 0
	cursor := ""

	for {
		remaining := job.Max - processed
		if job.Max > 0 && remaining <= 0 {
			return nil
		}
		limit := w.pageSize()
		if job.Max > 0 && remaining < limit {
			limit = remaining
		}

		page, err := w.Mail.ListMessagesPage(ctx, mail.ListMessagesOptions{
			GrantID:       job.GrantID,
			Limit:         limit,
			PageToken:     cursor,
			ReceivedAfter: job.SinceEpoch,
		})
		if err != nil {
			return err
		}
		if len(page.Messages) == 0 {
			return nil
		}

		pageVectors, err := w.indexPage(ctx, job.GrantID, page.Messages)
		if err != nil {
			return err
		}

		// Upserts for the page precede the checkpoint advance.
		var maxDate int64
		for _, m := range page.Messages {
			if m.Date > maxDate {
				maxDate = m.Date
			}
		}
		if err := w.advanceCheckpoint(job.GrantID, maxDate); err != nil {
			return err
		}

		processed += len(page.Messages)
		indexed += pageVectors
		p, iv := processed, indexed
		if _, err := w.Store.UpdateJob(job.JobID, store.JobPatch{Processed: &p, IndexedVectors: &iv}); err != nil {
			logging.Log.WithField("job_id", job.JobID).WithError(err).Warn("job progress update failed")
		}

		if page.NextCursor == "" {
			return nil
		}
		cursor = page.NextCursor
	}
}

// advanceCheckpoint moves the tenant checkpoint to max(current, epoch); it
// never decreases.
func (w *Worker) advanceCheckpoint(grantID string, epoch int64) error {
	current, err := w.Store.GetCheckpoint(grantID)
	if err != nil {
		return err
	}
	if epoch <= current {
		return nil
	}
	return w.Store.SetCheckpoint(grantID, epoch)
}

// indexPage embeds and upserts one page of messages, then recomputes the
// rollups whose buckets the page touched. Returns the number of vectors
// written.
func (w *Worker) indexPage(ctx context.Context, grantID string, msgs []mail.Message) (int, error) {
	var texts []string
	var records []vecstore.Record

	for i := range msgs {
		m := &msgs[i]
		if strings.TrimSpace(m.BodyText) == "" {
			continue
		}
		for _, c := range SplitText(m.BodyText) {
			texts = append(texts, c.Text)
			records = append(records, vecstore.Record{
				ID:       ChunkID(m.ID, c.Index),
				Metadata: messageMetadata(grantID, m),
			})
		}
	}
	if len(records) == 0 {
		return 0, nil
	}

	dense, err := w.Dense.EmbedTexts(ctx, texts)
	if err != nil {
		return 0, err
	}
	var sparse []embedding.SparseVector
	if w.Sparse != nil {
		sparse, err = w.Sparse.EmbedTexts(ctx, texts)
		if err != nil {
			return 0, err
		}
	}
	for i := range records {
		records[i].Values = dense[i]
		if sparse != nil && len(sparse[i].Indices) > 0 {
			sv := sparse[i]
			records[i].SparseValues = &sv
		}
	}

	if err := w.Vectors.Upsert(ctx, records, grantID); err != nil {
		return 0, err
	}

	rollups, err := w.rollupDirty(ctx, grantID, msgs)
	if err != nil {
		return len(records), err
	}
	return len(records) + rollups, nil
}

func messageMetadata(grantID string, m *mail.Message) map[string]any {
	to := make([]string, 0, len(m.To))
	for _, a := range m.To {
		to = append(to, a.Email)
	}
	return map[string]any{
		"type":            vecstore.TypeMessage,
		"grant_id":        grantID,
		"email_id":        m.ID,
		"thread_id":       m.ThreadID,
		"subject":         m.Subject,
		"from":            m.From.Email,
		"from_domain":     m.FromDomain(),
		"to":              to,
		"date":            m.Date,
		"date_created":    time.Unix(m.Date, 0).UTC().Format(time.RFC3339),
		"snippet":         m.Snippet,
		"has_attachments": m.HasAttachments,
		"unread":          m.Unread,
	}
}

type rollupKey struct {
	scope    string
	threadID string
	bucket   string
}

// rollupDirty recomputes the thread/day/week/month rollups whose buckets
// received new messages, writes them to the summary tree, and embeds them.
func (w *Worker) rollupDirty(ctx context.Context, grantID string, msgs []mail.Message) (int, error) {
	if w.Rollups == nil {
		return 0, nil
	}

	dirty := make(map[rollupKey][]*mail.Message)
	for i := range msgs {
		m := &msgs[i]
		if m.ThreadID == "" || strings.TrimSpace(m.BodyText) == "" {
			continue
		}
		for _, scope := range []string{summarize.ScopeThread, summarize.ScopeDay, summarize.ScopeWeek, summarize.ScopeMonth} {
			key := rollupKey{scope: scope, threadID: m.ThreadID, bucket: summarize.BucketFor(scope, m.Date)}
			dirty[key] = append(dirty[key], m)
		}
	}
	if len(dirty) == 0 {
		return 0, nil
	}

	keys := make([]rollupKey, 0, len(dirty))
	for k := range dirty {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].scope != keys[j].scope {
			return keys[i].scope < keys[j].scope
		}
		if keys[i].threadID != keys[j].threadID {
			return keys[i].threadID < keys[j].threadID
		}
		return keys[i].bucket < keys[j].bucket
	})

	var records []vecstore.Record
	for _, key := range keys {
		sources := dirty[key]
		texts := make([]string, 0, len(sources))
		var maxDate int64
		for _, m := range sources {
			texts = append(texts, fmt.Sprintf("%s — %s", m.Subject, m.Snippet))
			if m.Date > maxDate {
				maxDate = m.Date
			}
		}

		label := key.bucket
		if label == "" {
			label = key.threadID
		}
		text, err := w.Rollups.RollupText(ctx, key.scope, label, texts)
		if err != nil {
			return len(records), err
		}
		if text == "" {
			continue
		}

		storeBucket := key.bucket
		if key.scope == summarize.ScopeThread {
			storeBucket = key.threadID
		}
		if err := w.Store.WriteSummary(grantID, key.scope, storeBucket, text); err != nil {
			return len(records), err
		}

		meta := map[string]any{
			"type":         key.scope,
			"grant_id":     grantID,
			"thread_id":    key.threadID,
			"date":         maxDate,
			"date_created": time.Unix(maxDate, 0).UTC().Format(time.RFC3339),
			"snippet":      mail.Snippet(text, 160),
		}
		if key.bucket != "" {
			meta["bucket"] = key.bucket
		}
		records = append(records, vecstore.Record{
			ID:       rollupID(key),
			Metadata: meta,
		})
	}
	if len(records) == 0 {
		return 0, nil
	}

	texts := make([]string, len(records))
	for i, r := range records {
		texts[i] = r.Metadata["snippet"].(string)
	}
	dense, err := w.Dense.EmbedTexts(ctx, texts)
	if err != nil {
		return 0, err
	}
	for i := range records {
		records[i].Values = dense[i]
	}
	if err := w.Vectors.Upsert(ctx, records, grantID); err != nil {
		return 0, err
	}
	return len(records), nil
}

func rollupID(key rollupKey) string {
	if key.bucket == "" {
		return fmt.Sprintf("%s:%s", key.scope, key.threadID)
	}
	return fmt.Sprintf("%s:%s:%s", key.scope, key.threadID, key.bucket)
}
