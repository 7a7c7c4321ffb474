// Package store persists per-tenant checkpoints, job records, and summary
// rollups on disk. All writes go through a temp file and rename so readers
// always observe a previously committed state.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"voxmail/internal/logging"
)

// Job kinds.
const (
	KindBackfill = "backfill"
	KindDelta    = "delta"
)

// Job statuses. Transitions are one-way:
// queued -> running -> (succeeded | failed | deadlettered).
const (
	StatusQueued       = "queued"
	StatusRunning      = "running"
	StatusSucceeded    = "succeeded"
	StatusFailed       = "failed"
	StatusDeadlettered = "deadlettered"
)

// ErrNotFound is returned when the requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// JobRecord is the durable status document of one ingestion job.
type JobRecord struct {
	JobID          string `json:"jobId"`
	GrantID        string `json:"grantId"`
	Kind           string `json:"kind"`
	Status         string `json:"status"`
	SinceEpoch     int64  `json:"sinceEpoch"`
	Max            int    `json:"max"`
	Processed      int    `json:"processed"`
	IndexedVectors int    `json:"indexedVectors"`
	Attempt        int    `json:"attempt"`
	StartedAt      int64  `json:"startedAt"`
	CompletedAt    int64  `json:"completedAt,omitempty"`
	Error          string `json:"error,omitempty"`
}

// JobPatch mutates a subset of JobRecord fields; nil fields are untouched.
type JobPatch struct {
	Status         *string
	Processed      *int
	IndexedVectors *int
	Attempt        *int
	CompletedAt    *int64
	Error          *string
}

type checkpointFile struct {
	LastSeenEpoch int64 `json:"lastSeenDateEpochSeconds"`
}

// Store is the disk-backed state store. One Store instance per process; the
// advisory locks it hands out are process-wide.
type Store struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New opens (and creates if needed) a store rooted at dir.
func New(dir string) (*Store, error) {
	for _, sub := range []string{"grants", "jobs"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("store init %s: %w", sub, err)
		}
	}
	return &Store{root: dir, locks: make(map[string]*sync.Mutex)}, nil
}

// Lock returns the advisory mutex for (grantID, kind), creating it on first
// use. Two workers on the same tenant+kind serialize through it.
func (s *Store) Lock(grantID, kind string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := grantID + "/" + kind
	if _, ok := s.locks[key]; !ok {
		s.locks[key] = &sync.Mutex{}
	}
	return s.locks[key]
}

func (s *Store) grantDir(grantID string) string {
	return filepath.Join(s.root, "grants", sanitize(grantID))
}

func (s *Store) checkpointPath(grantID string) string {
	return filepath.Join(s.grantDir(grantID), "checkpoint.json")
}

func (s *Store) jobPath(jobID string) string {
	return filepath.Join(s.root, "jobs", sanitize(jobID)+".json")
}

func (s *Store) summaryPath(grantID, scope, bucket string) string {
	return filepath.Join(s.grantDir(grantID), "summaries", sanitize(scope), sanitize(bucket)+".txt")
}

// GetCheckpoint reads the tenant's last ingested epoch; 0 when none exists.
func (s *Store) GetCheckpoint(grantID string) (int64, error) {
	var cp checkpointFile
	err := readJSON(s.checkpointPath(grantID), &cp)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return cp.LastSeenEpoch, nil
}

// SetCheckpoint writes the tenant checkpoint atomically.
func (s *Store) SetCheckpoint(grantID string, epoch int64) error {
	return writeJSONAtomic(s.checkpointPath(grantID), checkpointFile{LastSeenEpoch: epoch})
}

// CreateJob persists a new job record. The record must carry a JobID.
func (s *Store) CreateJob(rec JobRecord) error {
	if rec.JobID == "" {
		return errors.New("store: job record without jobId")
	}
	if rec.Status == "" {
		rec.Status = StatusQueued
	}
	return writeJSONAtomic(s.jobPath(rec.JobID), rec)
}

// GetJob reads one job record.
func (s *Store) GetJob(jobID string) (*JobRecord, error) {
	var rec JobRecord
	err := readJSON(s.jobPath(jobID), &rec)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpdateJob applies a patch to a job record. Status transitions are one-way;
// a patch attempting to move a terminal record back is rejected.
func (s *Store) UpdateJob(jobID string, patch JobPatch) (*JobRecord, error) {
	rec, err := s.GetJob(jobID)
	if err != nil {
		return nil, err
	}
	if patch.Status != nil {
		if !validTransition(rec.Status, *patch.Status) {
			return nil, fmt.Errorf("store: invalid job status transition %s -> %s", rec.Status, *patch.Status)
		}
		rec.Status = *patch.Status
	}
	if patch.Processed != nil {
		rec.Processed = *patch.Processed
	}
	if patch.IndexedVectors != nil {
		rec.IndexedVectors = *patch.IndexedVectors
	}
	if patch.Attempt != nil {
		rec.Attempt = *patch.Attempt
	}
	if patch.CompletedAt != nil {
		rec.CompletedAt = *patch.CompletedAt
	}
	if patch.Error != nil {
		rec.Error = *patch.Error
	}
	if err := writeJSONAtomic(s.jobPath(jobID), *rec); err != nil {
		return nil, err
	}
	return rec, nil
}

var statusRank = map[string]int{
	StatusQueued:       0,
	StatusRunning:      1,
	StatusSucceeded:    2,
	StatusFailed:       2,
	StatusDeadlettered: 2,
}

func validTransition(from, to string) bool {
	fr, ok1 := statusRank[from]
	tr, ok2 := statusRank[to]
	if !ok1 || !ok2 {
		return false
	}
	if from == to {
		return true
	}
	// Terminal states never change.
	if fr == 2 {
		return false
	}
	return tr > fr
}

// ListJobs returns up to limit job records for the grant, newest first.
func (s *Store) ListJobs(grantID string, limit int) ([]JobRecord, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "jobs"))
	if err != nil {
		return nil, err
	}
	var out []JobRecord
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		var rec JobRecord
		if err := readJSON(filepath.Join(s.root, "jobs", e.Name()), &rec); err != nil {
			logging.Log.WithField("file", e.Name()).WithError(err).Warn("skipping unreadable job record")
			continue
		}
		if rec.GrantID != grantID {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt != out[j].StartedAt {
			return out[i].StartedAt > out[j].StartedAt
		}
		return out[i].JobID > out[j].JobID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ReadSummary reads a persisted rollup; ErrNotFound when absent.
func (s *Store) ReadSummary(grantID, scope, bucket string) (string, error) {
	b, err := os.ReadFile(s.summaryPath(grantID, scope, bucket))
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// WriteSummary persists a rollup, overwriting any previous text for the
// same (scope, bucket).
func (s *Store) WriteSummary(grantID, scope, bucket, text string) error {
	path := s.summaryPath(grantID, scope, bucket)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return writeAtomic(path, []byte(text))
}

// ListGrants enumerates tenants known to this store.
func (s *Store) ListGrants() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "grants"))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// PurgeCounts reports what a tenant purge removed.
type PurgeCounts struct {
	Summaries int `json:"summaries"`
	Jobs      int `json:"jobs"`
}

// PurgeGrant removes the tenant's checkpoint, summaries, and job records.
func (s *Store) PurgeGrant(grantID string) (PurgeCounts, error) {
	var counts PurgeCounts

	sumDir := filepath.Join(s.grantDir(grantID), "summaries")
	_ = filepath.WalkDir(sumDir, func(path string, d os.DirEntry, err error) error {
		if err == nil && d != nil && !d.IsDir() {
			counts.Summaries++
		}
		return nil
	})
	if err := os.RemoveAll(s.grantDir(grantID)); err != nil {
		return counts, fmt.Errorf("purge grant dir: %w", err)
	}

	entries, err := os.ReadDir(filepath.Join(s.root, "jobs"))
	if err != nil {
		return counts, err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.root, "jobs", e.Name())
		var rec JobRecord
		if err := readJSON(path, &rec); err != nil || rec.GrantID != grantID {
			continue
		}
		if err := os.Remove(path); err == nil {
			counts.Jobs++
		}
	}
	return counts, nil
}

func readJSON(path string, out any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func writeJSONAtomic(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return writeAtomic(path, b)
}

// writeAtomic writes to a temp file in the target directory then renames it
// into place.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// sanitize keeps ids filesystem-safe.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', 0:
			return '_'
		}
		return r
	}, s)
}
