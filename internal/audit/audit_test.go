package audit

import (
	"context"
	"io"
	"testing"
	"time"

	"pkt.systems/doctrans/internal/clock"
	"pkt.systems/pslog"
)

func newTestLog(opts ...Option) *Log {
	logger := pslog.NewStructured(io.Discard)
	return New(logger, opts...)
}

func TestRecordAssignsIDAndTimestamp(t *testing.T) {
	clk := clock.NewManual(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	log := newTestLog(WithClock(clk))

	entry := log.Record(context.Background(), ActionDocumentUploaded, "blob", "a.pdf")
	if entry.ID == "" {
		t.Fatal("expected entry id")
	}
	if !entry.Time.Equal(clk.Now()) {
		t.Fatalf("expected clock timestamp, got %v", entry.Time)
	}
	if entry.Action != ActionDocumentUploaded {
		t.Fatalf("unexpected action %q", entry.Action)
	}

	other := log.Record(context.Background(), ActionBlobDeleted)
	if other.ID == entry.ID {
		t.Fatal("expected unique entry ids")
	}
}

func TestTailBoundedOldestFirst(t *testing.T) {
	log := newTestLog(WithTailSize(3))

	actions := []Action{
		ActionContainerCreated,
		ActionDocumentUploaded,
		ActionDownloadURLGenerated,
		ActionJobStarted,
		ActionJobFailed,
	}
	for _, a := range actions {
		log.Record(context.Background(), a)
	}

	tail := log.Tail(0)
	if len(tail) != 3 {
		t.Fatalf("expected tail bounded to 3, got %d", len(tail))
	}
	want := actions[len(actions)-3:]
	for i, e := range tail {
		if e.Action != want[i] {
			t.Fatalf("tail[%d] = %q, want %q", i, e.Action, want[i])
		}
	}

	last := log.Tail(1)
	if len(last) != 1 || last[0].Action != ActionJobFailed {
		t.Fatalf("expected most recent entry, got %+v", last)
	}
}
