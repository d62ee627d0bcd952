package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"pkt.systems/doctrans/internal/audit"
	"pkt.systems/doctrans/internal/docstore"
	"pkt.systems/doctrans/internal/jobs"
	"pkt.systems/doctrans/internal/storage/memory"
	"pkt.systems/doctrans/internal/translate"
	"pkt.systems/doctrans/internal/uuidv7"
	"pkt.systems/pslog"
)

// fakeTranslator drives jobs through configurable outcomes.
type fakeTranslator struct {
	startErr   error
	panicStart atomic.Bool
	blockStart chan struct{} // when set, Start blocks until closed
	neverDone  bool
	failBatch  bool
	statusErr  error

	starts atomic.Int64
	polls  atomic.Int64
}

func (f *fakeTranslator) Start(ctx context.Context, req translate.BatchRequest) (translate.OperationRef, error) {
	f.starts.Add(1)
	if f.panicStart.Load() {
		panic("translator exploded")
	}
	if f.blockStart != nil {
		select {
		case <-f.blockStart:
		case <-ctx.Done():
			return translate.OperationRef{}, ctx.Err()
		}
	}
	if f.startErr != nil {
		return translate.OperationRef{}, f.startErr
	}
	return translate.OperationRef{ID: fmt.Sprintf("op-%d", f.starts.Load())}, nil
}

func (f *fakeTranslator) Status(ctx context.Context, opID string) (translate.OperationStatus, error) {
	f.polls.Add(1)
	if f.statusErr != nil {
		return translate.OperationStatus{}, f.statusErr
	}
	if f.neverDone {
		return translate.OperationStatus{ID: opID, State: "Running", DocumentsTotal: 1}, nil
	}
	if f.failBatch {
		return translate.OperationStatus{
			ID: opID, State: "Failed", Done: true,
			DocumentsTotal: 1, DocumentsFailed: 1,
			Error: "InvalidRequest: bad source",
		}, nil
	}
	return translate.OperationStatus{
		ID: opID, State: "Succeeded", Done: true, Succeeded: true,
		DocumentsTotal: 1, DocumentsCompleted: 1,
	}, nil
}

func (f *fakeTranslator) Languages(context.Context) (map[string]translate.Language, error) {
	return map[string]translate.Language{"de": {Name: "German"}}, nil
}

func (f *fakeTranslator) Ping(context.Context) error { return nil }

type fixture struct {
	orch     *Orchestrator
	registry *jobs.Registry
	audit    *audit.Log
	store    *docstore.Store
}

func newFixture(t *testing.T, translator translate.Translator, cfg Config) *fixture {
	t.Helper()
	logger := pslog.NewStructured(io.Discard)
	backend := memory.New()
	auditLog := audit.New(logger)
	store := docstore.New(backend, docstore.Config{Logger: logger, Audit: auditLog})
	if err := store.EnsureContainers(context.Background()); err != nil {
		t.Fatalf("ensure containers: %v", err)
	}
	registry := jobs.NewRegistry(nil)
	cfg.Logger = logger
	cfg.Audit = auditLog
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Millisecond
	}
	orch := New(store, translator, registry, cfg)
	t.Cleanup(orch.Close)
	return &fixture{orch: orch, registry: registry, audit: auditLog, store: store}
}

func newJob(target string) jobs.Job {
	return jobs.Job{
		ID:              uuidv7.New(),
		SourceContainer: docstore.DefaultSourceContainer,
		SourceBlob:      "20240101_010203_deadbeef_invoice.pdf",
		TargetContainer: docstore.DefaultTargetContainer,
		TargetBlob:      "translated_20240101_010203_deadbeef_invoice.pdf",
		TargetLanguage:  target,
	}
}

func waitForStatus(t *testing.T, reg *jobs.Registry, id string, want jobs.Status) jobs.Job {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if job, ok := reg.Get(id); ok && job.Status == want {
			return job
		}
		time.Sleep(2 * time.Millisecond)
	}
	job, _ := reg.Get(id)
	t.Fatalf("job %s stuck in %s, want %s (error=%q)", id, job.Status, want, job.ErrorMessage)
	return jobs.Job{}
}

func TestJobCompletes(t *testing.T) {
	ft := &fakeTranslator{}
	fx := newFixture(t, ft, Config{Workers: 2})

	job, err := fx.orch.Submit(newJob("de"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if job.Deadline.IsZero() {
		t.Fatalf("expected deadline assigned at submit")
	}
	done := waitForStatus(t, fx.registry, job.ID, jobs.StatusCompleted)
	if done.DocumentsCompleted != done.DocumentsTotal || done.DocumentsTotal != 1 {
		t.Fatalf("unexpected counts: %+v", done)
	}
	if done.OperationID == "" {
		t.Fatalf("expected operation id recorded")
	}

	var sawStart bool
	for _, e := range fx.audit.Tail(0) {
		if e.Action == audit.ActionJobStarted {
			sawStart = true
		}
	}
	if !sawStart {
		t.Fatalf("expected translation_job_started audit entry")
	}
}

func TestBatchFailureMarksFailed(t *testing.T) {
	ft := &fakeTranslator{failBatch: true}
	fx := newFixture(t, ft, Config{})

	job, err := fx.orch.Submit(newJob("fr"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	failed := waitForStatus(t, fx.registry, job.ID, jobs.StatusFailed)
	if !strings.Contains(failed.ErrorMessage, "InvalidRequest") {
		t.Fatalf("expected batch error surfaced, got %q", failed.ErrorMessage)
	}
}

func TestQueueFullRejectsWithoutRecord(t *testing.T) {
	block := make(chan struct{})
	ft := &fakeTranslator{blockStart: block}
	fx := newFixture(t, ft, Config{Workers: 1, QueueDepth: 1})

	first, err := fx.orch.Submit(newJob("de"))
	if err != nil {
		t.Fatalf("submit first: %v", err)
	}
	// wait until the single worker picked up the first job
	deadline := time.Now().Add(2 * time.Second)
	for ft.starts.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	second, err := fx.orch.Submit(newJob("de"))
	if err != nil {
		t.Fatalf("submit second: %v", err)
	}
	overflow := newJob("de")
	if _, err := fx.orch.Submit(overflow); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected queue full, got %v", err)
	}
	if _, ok := fx.registry.Get(overflow.ID); ok {
		t.Fatalf("rejected job must not leave a record")
	}

	close(block)
	waitForStatus(t, fx.registry, first.ID, jobs.StatusCompleted)
	waitForStatus(t, fx.registry, second.ID, jobs.StatusCompleted)
}

// Workers park on the queue, so the registry record must exist before
// the id is enqueued or a freshly woken worker would drop the job on
// the floor. Hammering submissions at idle workers catches that race.
func TestEveryAdmittedJobRuns(t *testing.T) {
	ft := &fakeTranslator{}
	fx := newFixture(t, ft, Config{Workers: 8, QueueDepth: 64})

	const n = 40
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		job, err := fx.orch.Submit(newJob("de"))
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		ids = append(ids, job.ID)
	}
	for _, id := range ids {
		waitForStatus(t, fx.registry, id, jobs.StatusCompleted)
	}
	if got := ft.starts.Load(); got != n {
		t.Fatalf("expected %d translations started, got %d", n, got)
	}
}

func TestDuplicateSubmitRejected(t *testing.T) {
	ft := &fakeTranslator{}
	fx := newFixture(t, ft, Config{Workers: 1})

	job := newJob("de")
	if _, err := fx.orch.Submit(job); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := fx.orch.Submit(job); !errors.Is(err, jobs.ErrDuplicate) {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}
	waitForStatus(t, fx.registry, job.ID, jobs.StatusCompleted)
}

func TestCancelRunningJob(t *testing.T) {
	ft := &fakeTranslator{neverDone: true}
	fx := newFixture(t, ft, Config{PollInterval: time.Hour})

	job, err := fx.orch.Submit(newJob("sv"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitForStatus(t, fx.registry, job.ID, jobs.StatusRunning)

	cancelled, err := fx.orch.Cancel(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != jobs.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
	if _, err := fx.orch.Cancel(context.Background(), job.ID); !errors.Is(err, jobs.ErrTerminal) {
		t.Fatalf("expected terminal on second cancel, got %v", err)
	}
}

func TestCancelQueuedJobNeverRuns(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	ft := &fakeTranslator{blockStart: block}
	fx := newFixture(t, ft, Config{Workers: 1, QueueDepth: 2})

	if _, err := fx.orch.Submit(newJob("de")); err != nil {
		t.Fatalf("submit blocker: %v", err)
	}
	queued, err := fx.orch.Submit(newJob("de"))
	if err != nil {
		t.Fatalf("submit queued: %v", err)
	}
	cancelled, err := fx.orch.Cancel(context.Background(), queued.ID)
	if err != nil {
		t.Fatalf("cancel queued: %v", err)
	}
	if cancelled.Status != jobs.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
}

func TestDeadlineYieldsTimeout(t *testing.T) {
	ft := &fakeTranslator{neverDone: true}
	fx := newFixture(t, ft, Config{JobTimeout: 20 * time.Millisecond, PollInterval: 2 * time.Millisecond})

	job, err := fx.orch.Submit(newJob("de"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	timedOut := waitForStatus(t, fx.registry, job.ID, jobs.StatusTimeout)
	if timedOut.Status == jobs.StatusFailed {
		t.Fatalf("timeout must be distinct from failed")
	}
	if timedOut.ErrorMessage != "deadline exceeded" {
		t.Fatalf("unexpected error message %q", timedOut.ErrorMessage)
	}
}

func TestWorkerPanicMarksJobFailedAndPoolSurvives(t *testing.T) {
	ft := &fakeTranslator{}
	ft.panicStart.Store(true)
	fx := newFixture(t, ft, Config{Workers: 1})

	job, err := fx.orch.Submit(newJob("de"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	crashed := waitForStatus(t, fx.registry, job.ID, jobs.StatusFailed)
	if crashed.ErrorMessage != "worker_crashed" {
		t.Fatalf("expected worker_crashed, got %q", crashed.ErrorMessage)
	}

	// same single worker must still serve new jobs
	ft.panicStart.Store(false)
	next, err := fx.orch.Submit(newJob("de"))
	if err != nil {
		t.Fatalf("submit after crash: %v", err)
	}
	waitForStatus(t, fx.registry, next.ID, jobs.StatusCompleted)
}

func TestStatusPollFailureBudget(t *testing.T) {
	ft := &fakeTranslator{statusErr: errors.New("boom")}
	fx := newFixture(t, ft, Config{PollInterval: time.Millisecond})

	job, err := fx.orch.Submit(newJob("de"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	failed := waitForStatus(t, fx.registry, job.ID, jobs.StatusFailed)
	if !strings.Contains(failed.ErrorMessage, "operation status") {
		t.Fatalf("expected poll failure surfaced, got %q", failed.ErrorMessage)
	}
}
