// Package scheduler is the composition root of the transcription core: it
// owns the job registry, the priority queue, the worker pool, the resource
// guard, and the result cache, and exposes the submit/cancel/status/result
// surface the host calls. One instance is built at process start with
// injected configuration; there is no ambient global state.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"transcription-scheduler/internal/cache"
	"transcription-scheduler/internal/config"
	"transcription-scheduler/internal/fingerprint"
	"transcription-scheduler/internal/history"
	"transcription-scheduler/internal/jobs"
	"transcription-scheduler/internal/models"
	"transcription-scheduler/internal/queue"
	"transcription-scheduler/internal/resource"
	"transcription-scheduler/internal/telemetry"
	"transcription-scheduler/internal/transcribe"
	"transcription-scheduler/internal/worker"
)

// ErrNotFound is returned for unknown job IDs.
var ErrNotFound = jobs.ErrNotFound

// ErrNotReady is returned by Result while a job is still pending or running.
var ErrNotReady = errors.New("result not ready")

// ErrCancelled is returned by Result for a cancelled job.
var ErrCancelled = errors.New("job cancelled")

// Scheduler coordinates submissions, dedup, dispatch, and lifecycle.
type Scheduler struct {
	cfg      config.Config
	registry *jobs.Registry
	queue    *queue.Queue
	pool     *worker.Pool
	cache    cache.Cache
	guard    *resource.Guard
	history  *history.Recorder

	// submitMu makes fingerprint-check + cache-check + enqueue atomic so at
	// most one job per fingerprint is ever in flight.
	submitMu sync.Mutex

	mu         sync.Mutex
	started    bool
	stopped    bool
	baseCancel context.CancelFunc
	sweepStop  chan struct{}
	sweepDone  chan struct{}
}

// New wires a scheduler. recorder may be nil to disable history.
func New(cfg config.Config, c cache.Cache, hooks resource.Hooks, t transcribe.Transcriber, recorder *history.Recorder) *Scheduler {
	reg := jobs.NewRegistry()
	q := queue.New()
	g := resource.NewGuard(hooks, cfg.ResourceMaxHolders, cfg.ResourceIdleAfter)
	s := &Scheduler{
		cfg:      cfg,
		registry: reg,
		queue:    q,
		cache:    c,
		guard:    g,
		history:  recorder,
	}
	s.pool = worker.New(cfg, q, reg, g, c, t)
	reg.SetOnTerminal(s.onTerminal)
	return s
}

// Start launches the workers and the cache sweep timer.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	ctx, cancel := context.WithCancel(context.Background())
	s.baseCancel = cancel
	s.pool.Start(ctx)

	s.sweepStop = make(chan struct{})
	s.sweepDone = make(chan struct{})
	go s.sweepLoop()
	log.Printf("scheduler started: workers=%d resource_ceiling=%d job_timeout=%s",
		s.cfg.WorkerCount, s.cfg.ResourceMaxHolders, s.cfg.JobTimeout)
}

func (s *Scheduler) sweepLoop() {
	defer close(s.sweepDone)
	interval := s.cfg.CacheSweep
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.sweepStop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			n, err := s.cache.EvictExpired(ctx)
			cancel()
			if err != nil {
				log.Printf("scheduler: cache sweep: %v", err)
			} else if n > 0 {
				log.Printf("scheduler: cache sweep evicted %d entries", n)
			}
		}
	}
}

// Shutdown stops the scheduler. With drain, queued jobs are executed before
// workers exit; without, queued jobs are cancelled and running jobs get their
// contexts cancelled. ctx bounds how long to wait for workers.
func (s *Scheduler) Shutdown(ctx context.Context, drain bool) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	s.queue.Close(drain)
	if !drain {
		for _, id := range s.queue.Remaining() {
			if rec, ok := s.registry.Get(id); ok && rec.MarkCancelled() {
				telemetry.CancelledCounter.Inc()
			}
		}
		s.baseCancel()
	}

	done := make(chan struct{})
	go func() {
		s.pool.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		s.baseCancel()
		err = fmt.Errorf("shutdown: %w", ctx.Err())
		<-done
	}

	s.baseCancel()
	close(s.sweepStop)
	<-s.sweepDone
	s.guard.Close()
	s.history.Close()
	log.Printf("scheduler stopped (drain=%v)", drain)
	return err
}

// Submit registers a transcription request and returns a job ID. Identical
// in-flight requests coalesce onto one job; previously completed identical
// requests are answered from the cache with a synthesized completed job.
func (s *Scheduler) Submit(ctx context.Context, input models.Input, opts models.Options, priority string) (string, error) {
	if priority == "" {
		priority = models.PriorityNormal
	}
	if _, ok := models.PriorityIndex(priority); !ok {
		return "", models.NewJobError(models.KindInvalidInput, "unknown priority %q", priority)
	}
	if input.Path == "" && input.SHA256 == "" {
		return "", models.NewJobError(models.KindInvalidInput, "input has neither path nor content hash")
	}
	contentHash := input.SHA256
	if contentHash == "" {
		var err error
		contentHash, err = fingerprint.HashFile(input.Path)
		if err != nil {
			return "", models.NewJobError(models.KindInvalidInput, "%v", err)
		}
		input.SHA256 = contentHash
	}
	fp := fingerprint.Compute(contentHash, opts)

	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	if rec, ok := s.registry.Active(fp); ok {
		// A job can race to terminal between lookup and attach; only
		// coalesce onto one that is still in flight.
		if !models.IsTerminal(rec.Snapshot().Status) {
			rec.AddRef()
			telemetry.CoalescedCounter.Inc()
			return rec.ID(), nil
		}
	}

	if result, hit, err := s.cache.Get(ctx, fp); err != nil {
		log.Printf("scheduler: cache get %s: %v", fp, err)
	} else if hit {
		rec := s.registry.CreateCompleted(fp, priority, input, opts, result)
		telemetry.CacheHitCounter.Inc()
		return rec.ID(), nil
	}

	rec := s.registry.Create(fp, priority, input, opts)
	if err := s.queue.Enqueue(rec.ID(), priority); err != nil {
		rec.MarkCancelled()
		return "", fmt.Errorf("submit: %w", err)
	}
	telemetry.SubmitCounter.Inc()
	telemetry.QueueDepthGauge.Set(float64(s.queue.Len()))
	s.audit(rec.ID(), "submitted", fmt.Sprintf("priority=%s fingerprint=%s", priority, fp))
	return rec.ID(), nil
}

// Cancel requests cancellation. It reports whether the job was still in a
// cancellable state. When several submitters share a coalesced job, each
// cancel detaches one of them; the underlying work stops only after the last
// detaches. The transition itself is asynchronous; poll Status to observe it.
func (s *Scheduler) Cancel(id string) (bool, error) {
	rec, ok := s.registry.Get(id)
	if !ok {
		return false, ErrNotFound
	}
	cancelled := rec.Cancel()
	if cancelled {
		s.audit(id, "cancel_requested", "")
	}
	return cancelled, nil
}

// Status returns a snapshot of the job record.
func (s *Scheduler) Status(id string) (models.Job, error) {
	return s.registry.Snapshot(id)
}

// Result returns the completed result, the job's classified error if it
// failed, ErrCancelled if it was cancelled, or ErrNotReady otherwise.
func (s *Scheduler) Result(id string) (models.Result, error) {
	snap, err := s.registry.Snapshot(id)
	if err != nil {
		return models.Result{}, err
	}
	switch snap.Status {
	case models.StatusCompleted:
		return *snap.Result, nil
	case models.StatusFailed:
		return models.Result{}, snap.Error
	case models.StatusCancelled:
		return models.Result{}, ErrCancelled
	default:
		return models.Result{}, ErrNotReady
	}
}

// Subscribe returns a finite stream of status snapshots for a job, starting
// with the current state and ending after the terminal snapshot.
func (s *Scheduler) Subscribe(id string) (<-chan models.Job, error) {
	rec, ok := s.registry.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Subscribe(), nil
}

// Stats summarizes scheduler state for health reporting.
type Stats struct {
	QueueDepth int            `json:"queue_depth"`
	ByStatus   map[string]int `json:"by_status"`
	Loaded     bool           `json:"resource_loaded"`
	InUse      int            `json:"resource_in_use"`
}

// Stats returns a point-in-time summary.
func (s *Scheduler) Stats() Stats {
	return Stats{
		QueueDepth: s.queue.Len(),
		ByStatus:   s.registry.Counts(),
		Loaded:     s.guard.Loaded(),
		InUse:      s.guard.InUse(),
	}
}

// Guard exposes the resource guard for administrative operations.
func (s *Scheduler) Guard() *resource.Guard {
	return s.guard
}

// onTerminal archives finished jobs; invoked asynchronously by the registry.
func (s *Scheduler) onTerminal(job models.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.history.RecordTerminal(ctx, job); err != nil {
		log.Printf("scheduler: record history for %s: %v", job.ID, err)
	}
	detail := ""
	if job.Error != nil {
		detail = job.Error.Error()
	}
	if err := s.history.AppendAudit(ctx, job.ID, job.Status, detail); err != nil {
		log.Printf("scheduler: audit %s: %v", job.ID, err)
	}
}

func (s *Scheduler) audit(jobID, event, detail string) {
	if s.history == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.history.AppendAudit(ctx, jobID, event, detail); err != nil {
			log.Printf("scheduler: audit %s: %v", jobID, err)
		}
	}()
}
