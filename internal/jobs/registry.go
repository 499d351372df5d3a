// Package jobs owns the in-memory job record table: one record per
// submission, forward-only status transitions, monotonic progress, and
// per-record subscriber channels for status streaming.
package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"transcription-scheduler/internal/models"
)

// ErrNotFound is returned for unknown job IDs.
var ErrNotFound = errors.New("job not found")

// Registry maps job IDs to records and tracks which fingerprint currently
// has an in-flight (pending or running) job, enforcing at most one.
type Registry struct {
	mu         sync.RWMutex
	records    map[string]*Record
	active     map[string]string // fingerprint -> job id while pending/running
	onTerminal func(models.Job)
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		records: make(map[string]*Record),
		active:  make(map[string]string),
	}
}

// SetOnTerminal installs a hook invoked (asynchronously) with the final
// snapshot of every job that reaches a terminal status.
func (r *Registry) SetOnTerminal(fn func(models.Job)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onTerminal = fn
}

// Create inserts a new pending record and claims the fingerprint slot.
// The caller must have checked Active first, under its own submission lock.
func (r *Registry) Create(fingerprint, priority string, input models.Input, opts models.Options) *Record {
	now := time.Now().UTC()
	rec := &Record{
		reg:  r,
		refs: 1,
		job: models.Job{
			ID:          uuid.New().String(),
			Fingerprint: fingerprint,
			Priority:    priority,
			Status:      models.StatusPending,
			Input:       input,
			Options:     opts,
			CreatedAt:   now,
		},
	}
	r.mu.Lock()
	r.records[rec.job.ID] = rec
	r.active[fingerprint] = rec.job.ID
	r.mu.Unlock()
	return rec
}

// CreateCompleted mints an already-terminal record for a cache hit. It never
// touches the active map or the queue.
func (r *Registry) CreateCompleted(fingerprint, priority string, input models.Input, opts models.Options, result models.Result) *Record {
	now := time.Now().UTC()
	res := result
	rec := &Record{
		reg:  r,
		refs: 1,
		job: models.Job{
			ID:          uuid.New().String(),
			Fingerprint: fingerprint,
			Priority:    priority,
			Status:      models.StatusCompleted,
			Progress:    100,
			Input:       input,
			Options:     opts,
			CreatedAt:   now,
			FinishedAt:  &now,
			Result:      &res,
		},
	}
	r.mu.Lock()
	r.records[rec.job.ID] = rec
	r.mu.Unlock()
	return rec
}

// Get returns the record for an ID.
func (r *Registry) Get(id string) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	return rec, ok
}

// Active returns the in-flight record for a fingerprint, if any.
func (r *Registry) Active(fingerprint string) (*Record, bool) {
	r.mu.RLock()
	id, ok := r.active[fingerprint]
	if !ok {
		r.mu.RUnlock()
		return nil, false
	}
	rec := r.records[id]
	r.mu.RUnlock()
	return rec, rec != nil
}

// Snapshot returns a copy of the job for an ID.
func (r *Registry) Snapshot(id string) (models.Job, error) {
	rec, ok := r.Get(id)
	if !ok {
		return models.Job{}, ErrNotFound
	}
	return rec.Snapshot(), nil
}

// Counts tallies records by status, for stats and the health endpoint.
func (r *Registry) Counts() map[string]int {
	r.mu.RLock()
	recs := make([]*Record, 0, len(r.records))
	for _, rec := range r.records {
		recs = append(recs, rec)
	}
	r.mu.RUnlock()

	out := make(map[string]int)
	for _, rec := range recs {
		out[rec.Snapshot().Status]++
	}
	return out
}

// releaseActive frees the fingerprint slot if it still points at id.
func (r *Registry) releaseActive(fingerprint, id string) {
	r.mu.Lock()
	if cur, ok := r.active[fingerprint]; ok && cur == id {
		delete(r.active, fingerprint)
	}
	r.mu.Unlock()
}

func (r *Registry) terminalHook() func(models.Job) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.onTerminal
}

// Record is one job plus its runtime bookkeeping: the coalesced subscriber
// count, the cancel function for the running attempt, and status listeners.
type Record struct {
	mu     sync.Mutex
	reg    *Registry
	job    models.Job
	refs   int
	cancel context.CancelFunc
	subs   []chan models.Job
}

// Snapshot returns a copy of the current job state.
func (rec *Record) Snapshot() models.Job {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.job
}

// ID returns the immutable job id.
func (rec *Record) ID() string {
	return rec.job.ID
}

// AddRef notes another coalesced submitter waiting on this job.
func (rec *Record) AddRef() {
	rec.mu.Lock()
	rec.refs++
	rec.mu.Unlock()
}

// Cancel detaches one subscriber. The underlying job is only flagged for
// cancellation once every coalesced subscriber has cancelled. It reports
// whether the job was still in a cancellable (pending or running) state.
func (rec *Record) Cancel() bool {
	rec.mu.Lock()
	if models.IsTerminal(rec.job.Status) {
		rec.mu.Unlock()
		return false
	}
	rec.refs--
	if rec.refs > 0 {
		rec.mu.Unlock()
		return true
	}
	changed := !rec.job.CancelRequested
	rec.job.CancelRequested = true
	cancel := rec.cancel
	if changed {
		rec.notifyLocked()
	}
	rec.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return true
}

// CancelRequested reports whether the cancel flag is set.
func (rec *Record) CancelRequested() bool {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.job.CancelRequested
}

// MarkRunning transitions pending -> running and installs the attempt's
// cancel function. Returns false if the job is no longer startable.
func (rec *Record) MarkRunning(cancel context.CancelFunc) bool {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.job.CancelRequested || !models.ValidTransition(rec.job.Status, models.StatusRunning) {
		return false
	}
	now := time.Now().UTC()
	rec.job.Status = models.StatusRunning
	rec.job.StartedAt = &now
	rec.cancel = cancel
	rec.notifyLocked()
	return true
}

// IncAttempt bumps the attempt counter and returns the new value.
func (rec *Record) IncAttempt() int {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.job.Attempts++
	return rec.job.Attempts
}

// SetProgress applies a monotonic progress update; lower values are ignored.
func (rec *Record) SetProgress(pct int) {
	if pct < 0 {
		return
	}
	if pct > 100 {
		pct = 100
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.job.Status != models.StatusRunning || pct <= rec.job.Progress {
		return
	}
	rec.job.Progress = pct
	rec.notifyLocked()
}

// Complete transitions to completed and stores the result.
func (rec *Record) Complete(result models.Result) bool {
	res := result
	return rec.finish(models.StatusCompleted, func(j *models.Job) {
		j.Progress = 100
		j.Result = &res
	})
}

// Fail transitions to failed and records the classified error. Progress made
// before the failure is preserved for diagnostics.
func (rec *Record) Fail(jobErr *models.JobError) bool {
	return rec.finish(models.StatusFailed, func(j *models.Job) {
		j.Error = jobErr
	})
}

// MarkCancelled transitions to cancelled from pending or running.
func (rec *Record) MarkCancelled() bool {
	return rec.finish(models.StatusCancelled, nil)
}

func (rec *Record) finish(status string, mutate func(*models.Job)) bool {
	rec.mu.Lock()
	if !models.ValidTransition(rec.job.Status, status) {
		rec.mu.Unlock()
		return false
	}
	now := time.Now().UTC()
	rec.job.Status = status
	rec.job.FinishedAt = &now
	if mutate != nil {
		mutate(&rec.job)
	}
	rec.cancel = nil
	rec.notifyLocked()
	for _, ch := range rec.subs {
		close(ch)
	}
	rec.subs = nil
	snap := rec.job
	rec.mu.Unlock()

	rec.reg.releaseActive(snap.Fingerprint, snap.ID)
	if fn := rec.reg.terminalHook(); fn != nil {
		go fn(snap)
	}
	return true
}

// Subscribe returns a channel of status snapshots. The stream begins with
// the current state and is closed after the terminal snapshot is delivered.
// Slow consumers lose intermediate snapshots, never the terminal one.
func (rec *Record) Subscribe() <-chan models.Job {
	ch := make(chan models.Job, 16)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	ch <- rec.job
	if models.IsTerminal(rec.job.Status) {
		close(ch)
		return ch
	}
	rec.subs = append(rec.subs, ch)
	return ch
}

// notifyLocked pushes the current snapshot to subscribers, dropping the
// oldest queued snapshot when a buffer is full.
func (rec *Record) notifyLocked() {
	for _, ch := range rec.subs {
		select {
		case ch <- rec.job:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- rec.job:
			default:
			}
		}
	}
}
