package jobs

import (
	"errors"
	"sync"
	"testing"
	"time"

	"pkt.systems/doctrans/internal/clock"
	"pkt.systems/doctrans/internal/uuidv7"
)

func newTestRegistry() (*Registry, *clock.Manual) {
	clk := clock.NewManual(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	return NewRegistry(clk), clk
}

func TestCreateRejectsDuplicates(t *testing.T) {
	reg, _ := newTestRegistry()
	job := Job{ID: uuidv7.New(), TargetLanguage: "de"}
	if err := reg.Create(job); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := reg.Create(job); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestTransitionStateMachine(t *testing.T) {
	reg, clk := newTestRegistry()
	id := uuidv7.New()
	if err := reg.Create(Job{ID: id, TargetLanguage: "fr"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	created, _ := reg.Get(id)
	if created.Status != StatusPending {
		t.Fatalf("expected pending, got %s", created.Status)
	}

	clk.Advance(time.Second)
	running, err := reg.Transition(id, StatusRunning, nil)
	if err != nil {
		t.Fatalf("pending->running: %v", err)
	}
	if !running.UpdatedAt.After(created.UpdatedAt) {
		t.Fatalf("UpdatedAt did not move on transition")
	}

	// running -> pending is not part of the machine
	if _, err := reg.Transition(id, StatusPending, nil); !errors.Is(err, ErrBadTransition) {
		t.Fatalf("expected bad transition, got %v", err)
	}

	done, err := reg.Transition(id, StatusCompleted, func(j *Job) {
		j.DocumentsTotal = 1
		j.DocumentsCompleted = 1
	})
	if err != nil {
		t.Fatalf("running->completed: %v", err)
	}
	if done.Progress() != 100 {
		t.Fatalf("expected 100%% progress, got %v", done.Progress())
	}

	// terminal states absorb
	if _, err := reg.Transition(id, StatusCancelled, nil); !errors.Is(err, ErrTerminal) {
		t.Fatalf("expected terminal error, got %v", err)
	}
	if _, err := reg.Update(id, func(j *Job) { j.ErrorMessage = "x" }); !errors.Is(err, ErrTerminal) {
		t.Fatalf("expected terminal error from update, got %v", err)
	}
}

func TestTimeoutIsDistinctTerminalState(t *testing.T) {
	reg, _ := newTestRegistry()
	id := uuidv7.New()
	if err := reg.Create(Job{ID: id, TargetLanguage: "sv"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := reg.Transition(id, StatusRunning, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	job, err := reg.Transition(id, StatusTimeout, nil)
	if err != nil {
		t.Fatalf("running->timeout: %v", err)
	}
	if job.Status != StatusTimeout || job.Status == StatusFailed {
		t.Fatalf("expected timeout status, got %s", job.Status)
	}
	if !job.Status.Terminal() {
		t.Fatalf("timeout must be terminal")
	}
}

func TestListNewestFirst(t *testing.T) {
	reg, clk := newTestRegistry()
	var ids []string
	for i := 0; i < 5; i++ {
		id := uuidv7.New()
		ids = append(ids, id)
		if err := reg.Create(Job{ID: id, TargetLanguage: "en"}); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		clk.Advance(time.Minute)
	}
	got := reg.List(3)
	if len(got) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(got))
	}
	if got[0].ID != ids[4] || got[2].ID != ids[2] {
		t.Fatalf("expected newest first, got %v", []string{got[0].ID, got[1].ID, got[2].ID})
	}
}

func TestConcurrentTransitionsSingleWinner(t *testing.T) {
	reg, _ := newTestRegistry()
	id := uuidv7.New()
	if err := reg.Create(Job{ID: id, TargetLanguage: "en"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := reg.Transition(id, StatusRunning, nil); err != nil {
		t.Fatalf("start: %v", err)
	}

	var wg sync.WaitGroup
	wins := make(chan Status, 3)
	for _, to := range []Status{StatusCompleted, StatusCancelled, StatusTimeout} {
		wg.Add(1)
		go func(to Status) {
			defer wg.Done()
			if _, err := reg.Transition(id, to, nil); err == nil {
				wins <- to
			}
		}(to)
	}
	wg.Wait()
	close(wins)
	var winners []Status
	for w := range wins {
		winners = append(winners, w)
	}
	if len(winners) != 1 {
		t.Fatalf("expected exactly one winning transition, got %v", winners)
	}
	job, _ := reg.Get(id)
	if job.Status != winners[0] {
		t.Fatalf("final status %s does not match winner %s", job.Status, winners[0])
	}
}

func TestProgressZeroTotal(t *testing.T) {
	if p := (Job{}).Progress(); p != 0 {
		t.Fatalf("expected 0 progress, got %v", p)
	}
	j := Job{DocumentsTotal: 4, DocumentsCompleted: 1}
	if p := j.Progress(); p != 25 {
		t.Fatalf("expected 25, got %v", p)
	}
}

func TestProgressClamped(t *testing.T) {
	over := Job{DocumentsTotal: 2, DocumentsCompleted: 3}
	if p := over.Progress(); p != 100 {
		t.Fatalf("expected clamp to 100, got %v", p)
	}
	under := Job{DocumentsTotal: 2, DocumentsCompleted: -1}
	if p := under.Progress(); p != 0 {
		t.Fatalf("expected clamp to 0, got %v", p)
	}
}

func TestRemoveBacksOutRecord(t *testing.T) {
	reg, _ := newTestRegistry()
	id := uuidv7.New()
	if err := reg.Create(Job{ID: id, TargetLanguage: "de"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if !reg.Remove(id) {
		t.Fatalf("expected removal of existing record")
	}
	if _, ok := reg.Get(id); ok {
		t.Fatalf("record should be gone")
	}
	if reg.Remove(id) {
		t.Fatalf("second remove must report nothing removed")
	}
}
