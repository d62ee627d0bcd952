// Package orchestrator runs translation jobs on a bounded worker pool.
// Admission happens through a fixed-depth queue so bursts surface
// backpressure instead of unbounded goroutines. Workers are supervised:
// a panic marks the job failed and the worker keeps serving. Every job
// carries a deadline; lapsing it yields the timeout terminal state.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pkt.systems/doctrans/internal/audit"
	"pkt.systems/doctrans/internal/clock"
	"pkt.systems/doctrans/internal/docstore"
	"pkt.systems/doctrans/internal/jobs"
	"pkt.systems/doctrans/internal/svcfields"
	"pkt.systems/doctrans/internal/translate"
	"pkt.systems/pslog"
)

// ErrQueueFull signals the admission queue is at capacity.
var ErrQueueFull = errors.New("orchestrator: admission queue full")

const (
	// DefaultWorkers bounds concurrent translations.
	DefaultWorkers = 4
	// DefaultQueueDepth bounds jobs accepted but not yet running.
	DefaultQueueDepth = 32
	// DefaultPollInterval paces operation status polling.
	DefaultPollInterval = 5 * time.Second
	// DefaultJobTimeout bounds one job end to end.
	DefaultJobTimeout = 30 * time.Minute

	// pollFailureBudget is how many consecutive status poll errors a
	// job tolerates before it is failed.
	pollFailureBudget = 5
)

// Config controls the pool.
type Config struct {
	Workers      int
	QueueDepth   int
	PollInterval time.Duration
	JobTimeout   time.Duration
	Clock        clock.Clock
	Logger       pslog.Logger
	Audit        *audit.Log
}

// Orchestrator owns the worker pool and drives jobs through the
// registry state machine.
type Orchestrator struct {
	cfg        Config
	store      *docstore.Store
	translator translate.Translator
	registry   *jobs.Registry
	clk        clock.Clock
	logger     pslog.Logger
	auditLog   *audit.Log

	queue chan string
	stop  chan struct{}
	wg    sync.WaitGroup

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	closed  bool
}

// New builds and starts the pool.
func New(store *docstore.Store, translator translate.Translator, registry *jobs.Registry, cfg Config) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultQueueDepth
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultJobTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:        cfg,
		store:      store,
		translator: translator,
		registry:   registry,
		clk:        cfg.Clock,
		logger:     svcfields.WithSubsystem(cfg.Logger, "doctrans.orchestrator"),
		auditLog:   cfg.Audit,
		queue:      make(chan string, cfg.QueueDepth),
		stop:       make(chan struct{}),
		baseCtx:    ctx,
		baseCancel: cancel,
		cancels:    make(map[string]context.CancelFunc),
	}
	for i := 0; i < cfg.Workers; i++ {
		o.wg.Add(1)
		go o.worker()
	}
	return o
}

// Submit admits a job: the registry record is created first so a
// worker that drains the queue always finds it, then a queue slot is
// claimed. A full queue backs the record out and rejects, leaving no
// trace. The returned snapshot carries the assigned deadline.
func (o *Orchestrator) Submit(job jobs.Job) (jobs.Job, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return jobs.Job{}, ErrQueueFull
	}
	o.mu.Unlock()
	if job.Deadline.IsZero() {
		job.Deadline = o.clk.Now().UTC().Add(o.cfg.JobTimeout)
	}
	if err := o.registry.Create(job); err != nil {
		return jobs.Job{}, err
	}
	select {
	case o.queue <- job.ID:
	default:
		o.registry.Remove(job.ID)
		return jobs.Job{}, ErrQueueFull
	}
	stored, _ := o.registry.Get(job.ID)
	return stored, nil
}

// Cancel moves the job to cancelled and interrupts its worker if one is
// processing it. Terminal jobs return jobs.ErrTerminal.
func (o *Orchestrator) Cancel(ctx context.Context, id string) (jobs.Job, error) {
	job, err := o.registry.Transition(id, jobs.StatusCancelled, nil)
	if err != nil {
		return job, err
	}
	o.record(ctx, audit.ActionJobCancelled, "job_id", id)
	o.mu.Lock()
	cancel := o.cancels[id]
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return job, nil
}

// Close stops intake, interrupts in-flight jobs and waits for workers.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.mu.Unlock()
	close(o.stop)
	o.baseCancel()
	o.wg.Wait()
}

func (o *Orchestrator) worker() {
	defer o.wg.Done()
	for {
		select {
		case <-o.stop:
			return
		case id := <-o.queue:
			o.runJob(id)
		}
	}
}

func (o *Orchestrator) runJob(id string) {
	defer func() {
		if r := recover(); r != nil {
			if o.logger != nil {
				o.logger.Error("orchestrator.worker.panic", svcfields.KeyJobID, id, "panic", fmt.Sprint(r))
			}
			o.failJob(id, "worker_crashed")
		}
	}()

	job, ok := o.registry.Get(id)
	if !ok || job.Status != jobs.StatusPending {
		// cancelled while queued
		return
	}

	ctx, cancel := context.WithCancel(o.baseCtx)
	o.mu.Lock()
	o.cancels[id] = cancel
	o.mu.Unlock()
	defer func() {
		cancel()
		o.mu.Lock()
		delete(o.cancels, id)
		o.mu.Unlock()
	}()

	if _, err := o.registry.Transition(id, jobs.StatusRunning, nil); err != nil {
		return
	}
	o.record(ctx, audit.ActionJobStarted,
		"job_id", id, "source_blob", job.SourceBlob, "target_language", job.TargetLanguage)
	if o.logger != nil {
		o.logger.Info("orchestrator.job.started", svcfields.KeyJobID, id,
			"source_blob", job.SourceBlob, "target_language", job.TargetLanguage)
	}

	sourceURL, targetURL, err := o.store.TranslationPair(ctx, job.SourceBlob, job.TargetBlob)
	if err != nil {
		o.failJob(id, fmt.Sprintf("sign blob urls: %v", err))
		return
	}
	ref, err := o.translator.Start(ctx, translate.BatchRequest{
		SourceURL:      sourceURL.URL,
		TargetURL:      targetURL.URL,
		TargetLanguage: job.TargetLanguage,
		SourceLanguage: job.SourceLanguage,
	})
	if err != nil {
		o.failJob(id, fmt.Sprintf("start batch: %v", err))
		return
	}
	if _, err := o.registry.Update(id, func(j *jobs.Job) { j.OperationID = ref.ID }); err != nil {
		// cancelled between start and first update
		return
	}

	o.pollUntilDone(ctx, id, job.Deadline, ref.ID)
}

func (o *Orchestrator) pollUntilDone(ctx context.Context, id string, deadline time.Time, opID string) {
	failures := 0
	for {
		if !deadline.IsZero() && o.clk.Now().After(deadline) {
			if _, err := o.registry.Transition(id, jobs.StatusTimeout, func(j *jobs.Job) {
				j.ErrorMessage = "deadline exceeded"
			}); err == nil {
				o.record(ctx, audit.ActionJobTimeout, "job_id", id, "operation_id", opID)
				if o.logger != nil {
					o.logger.Warn("orchestrator.job.timeout", svcfields.KeyJobID, id)
				}
			}
			return
		}

		status, err := o.translator.Status(ctx, opID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			if failures >= pollFailureBudget {
				o.failJob(id, fmt.Sprintf("operation status: %v", err))
				return
			}
		} else {
			failures = 0
			if _, err := o.registry.Update(id, func(j *jobs.Job) {
				j.DocumentsTotal = status.DocumentsTotal
				j.DocumentsCompleted = status.DocumentsCompleted
				j.DocumentsFailed = status.DocumentsFailed
			}); err != nil {
				// job went terminal underneath us (cancelled)
				return
			}
			if status.Done {
				if status.Succeeded {
					if _, err := o.registry.Transition(id, jobs.StatusCompleted, nil); err == nil && o.logger != nil {
						o.logger.Info("orchestrator.job.completed", svcfields.KeyJobID, id,
							"documents", status.DocumentsTotal)
					}
				} else {
					msg := status.Error
					if msg == "" {
						msg = "batch ended in state " + status.State
					}
					o.failJob(id, msg)
				}
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-o.clk.After(o.cfg.PollInterval):
		}
	}
}

func (o *Orchestrator) failJob(id, msg string) {
	if _, err := o.registry.Transition(id, jobs.StatusFailed, func(j *jobs.Job) {
		j.ErrorMessage = msg
	}); err != nil {
		return
	}
	o.record(context.Background(), audit.ActionJobFailed, "job_id", id, "error", msg)
	if o.logger != nil {
		o.logger.Warn("orchestrator.job.failed", svcfields.KeyJobID, id, "error", msg)
	}
}

func (o *Orchestrator) record(ctx context.Context, action audit.Action, details ...any) {
	if o.auditLog != nil {
		o.auditLog.Record(ctx, action, details...)
	}
}
