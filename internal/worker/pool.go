// Package worker runs the fixed pool of goroutines that turn queued job IDs
// into transcription calls: dequeue, acquire the model guard, invoke the
// external function, record the outcome. A fault in one job never takes a
// worker down.
package worker

import (
	"context"
	"errors"
	"log"
	"math"
	"math/rand"
	"sync"
	"time"

	"transcription-scheduler/internal/cache"
	"transcription-scheduler/internal/config"
	"transcription-scheduler/internal/jobs"
	"transcription-scheduler/internal/models"
	"transcription-scheduler/internal/queue"
	"transcription-scheduler/internal/resource"
	"transcription-scheduler/internal/telemetry"
	"transcription-scheduler/internal/transcribe"
)

// Pool executes queued jobs with bounded concurrency.
type Pool struct {
	cfg         config.Config
	queue       *queue.Queue
	registry    *jobs.Registry
	guard       *resource.Guard
	cache       cache.Cache
	transcriber transcribe.Transcriber
	wg          sync.WaitGroup
}

// New wires a pool; Start launches the workers.
func New(cfg config.Config, q *queue.Queue, reg *jobs.Registry, g *resource.Guard, c cache.Cache, t transcribe.Transcriber) *Pool {
	return &Pool{cfg: cfg, queue: q, registry: reg, guard: g, cache: c, transcriber: t}
}

// Start launches the worker goroutines. They exit when the queue closes.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.WorkerCount; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		jobID, ok := p.queue.Dequeue()
		if !ok {
			return
		}
		telemetry.QueueDepthGauge.Set(float64(p.queue.Len()))
		p.process(ctx, jobID)
	}
}

// process drives one job from dequeue to a terminal status. All errors are
// captured on the record; nothing propagates out of the loop.
func (p *Pool) process(ctx context.Context, jobID string) {
	rec, ok := p.registry.Get(jobID)
	if !ok {
		log.Printf("worker: dequeued unknown job %s", jobID)
		return
	}
	if rec.CancelRequested() {
		if rec.MarkCancelled() {
			telemetry.CancelledCounter.Inc()
		}
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !rec.MarkRunning(cancel) {
		if rec.MarkCancelled() {
			telemetry.CancelledCounter.Inc()
		}
		return
	}
	telemetry.RunningGauge.Inc()
	defer telemetry.RunningGauge.Dec()

	snap := rec.Snapshot()
	req := transcribe.Request{Input: snap.Input, Options: snap.Options}

	var lastErr *models.JobError
	for {
		attempt := rec.IncAttempt()
		result, jerr := p.attempt(jobCtx, rec, req)
		if jerr == nil {
			if rec.CancelRequested() {
				// The external call finished anyway; discard its result.
				if rec.MarkCancelled() {
					telemetry.CancelledCounter.Inc()
				}
				return
			}
			// Cache before the terminal transition: the transition frees the
			// fingerprint for resubmission, and a resubmit must find either
			// the in-flight job or the cached result, never neither.
			if err := p.cache.Put(context.Background(), snap.Fingerprint, result); err != nil {
				log.Printf("worker: cache put %s: %v", snap.Fingerprint, err)
			}
			if rec.Complete(result) {
				telemetry.CompletedCounter.Inc()
			}
			return
		}

		if jobCtx.Err() != nil {
			// Cancelled mid-flight (subscriber cancel or pool abort).
			if rec.MarkCancelled() {
				telemetry.CancelledCounter.Inc()
			}
			return
		}

		lastErr = jerr
		if attempt >= p.cfg.MaxAttempts || !jerr.Retryable(attempt) {
			break
		}
		telemetry.RetryCounter.Inc()
		wait := backoffWithJitter(p.cfg.BackoffInitial, p.cfg.BackoffMax, attempt)
		log.Printf("worker: job %s attempt %d failed (%s), retrying in %s", snap.ID, attempt, jerr.Kind, wait)
		timer := time.NewTimer(wait)
		select {
		case <-jobCtx.Done():
			timer.Stop()
			if rec.MarkCancelled() {
				telemetry.CancelledCounter.Inc()
			}
			return
		case <-timer.C:
		}
	}

	if rec.Fail(lastErr) {
		telemetry.FailedCounter.Inc()
	}
}

// attempt performs a single guarded invocation of the external function.
func (p *Pool) attempt(ctx context.Context, rec *jobs.Record, req transcribe.Request) (models.Result, *models.JobError) {
	lease, err := p.guard.Acquire(ctx)
	if err != nil {
		var jerr *models.JobError
		if errors.As(err, &jerr) {
			return models.Result{}, jerr
		}
		return models.Result{}, models.NewJobError(models.KindExecutionFailure, "acquire resource: %v", err)
	}
	defer lease.Release()
	telemetry.ResourceGauge.Inc()
	defer telemetry.ResourceGauge.Dec()

	callCtx := ctx
	if p.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.cfg.JobTimeout)
		defer cancel()
	}

	result, err := p.invoke(callCtx, req, rec)
	if err == nil {
		return result, nil
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return models.Result{}, models.NewJobError(models.KindTimeout,
			"transcription exceeded %s", p.cfg.JobTimeout)
	}
	var jerr *models.JobError
	if errors.As(err, &jerr) {
		return models.Result{}, jerr
	}
	return models.Result{}, models.NewJobError(models.KindExecutionFailure, "%v", err)
}

// invoke calls the transcriber with panic isolation; a panicking external
// function becomes a classified execution failure.
func (p *Pool) invoke(ctx context.Context, req transcribe.Request, rec *jobs.Record) (result models.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = models.NewJobError(models.KindExecutionFailure, "transcriber panic: %v", r)
		}
	}()
	return p.transcriber.Transcribe(ctx, req, rec.SetProgress)
}

// backoffWithJitter grows the wait exponentially, capped at max, with up to
// 50% random jitter to avoid thundering retries.
func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max {
		wait = max
	}
	half := wait / 2
	if half <= 0 {
		return wait
	}
	return half + time.Duration(rand.Int63n(int64(half)))
}
