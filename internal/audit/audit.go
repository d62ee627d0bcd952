// Package audit is the append-only side channel for security-relevant
// actions. Entries go to the structured log under the audit subsystem
// and into a bounded in-memory tail used by diagnostics and tests.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/xid"

	"pkt.systems/doctrans/internal/clock"
	"pkt.systems/doctrans/internal/svcfields"
	"pkt.systems/pslog"
)

// Action identifies what happened.
type Action string

const (
	ActionContainerCreated     Action = "container_created"
	ActionDocumentUploaded     Action = "document_uploaded"
	ActionDownloadURLGenerated Action = "download_url_generated"
	ActionDownloadRequested    Action = "document_download_requested"
	ActionBlobDeleted          Action = "blob_deleted"
	ActionBlobCopied           Action = "blob_copied"
	// ActionURLIssued records every capability URL issuance with its
	// scope, permissions and expiry.
	ActionURLIssued Action = "capability_url_issued"
	// ActionSharedKeySigning flags an issuance signed with the account
	// key rather than a user delegation key. Lower trust; watch for it.
	ActionSharedKeySigning Action = "shared_key_signing_used"
	ActionJobStarted           Action = "translation_job_started"
	ActionJobCancelled         Action = "translation_job_cancelled"
	ActionJobFailed            Action = "translation_job_failed"
	ActionJobTimeout           Action = "translation_job_timeout"
)

// Entry is one recorded action. Details hold alternating key/value
// pairs as handed to Record.
type Entry struct {
	ID      string
	Time    time.Time
	Action  Action
	Details []any
}

// Log records actions. The zero value is not usable; use New.
type Log struct {
	logger pslog.Logger
	clk    clock.Clock

	mu   sync.Mutex
	tail []Entry
	max  int
}

// Option tweaks a Log.
type Option func(*Log)

// WithClock injects the timestamp source.
func WithClock(clk clock.Clock) Option {
	return func(l *Log) { l.clk = clk }
}

// WithTailSize bounds the in-memory tail. Defaults to 256 entries.
func WithTailSize(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.max = n
		}
	}
}

// New returns a Log writing through the given logger.
func New(logger pslog.Logger, opts ...Option) *Log {
	l := &Log{
		logger: svcfields.WithSubsystem(logger, "doctrans.audit"),
		clk:    clock.Real{},
		max:    256,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record appends an entry. Never log capability URLs here; record that
// a URL was issued, not the URL itself.
func (l *Log) Record(_ context.Context, action Action, details ...any) Entry {
	entry := Entry{
		ID:      xid.New().String(),
		Time:    l.clk.Now().UTC(),
		Action:  action,
		Details: details,
	}
	if l.logger != nil {
		fields := append([]any{"audit_id", entry.ID, "action", string(action)}, details...)
		l.logger.Info("audit.record", fields...)
	}
	l.mu.Lock()
	l.tail = append(l.tail, entry)
	if len(l.tail) > l.max {
		l.tail = l.tail[len(l.tail)-l.max:]
	}
	l.mu.Unlock()
	return entry
}

// Tail returns up to n most recent entries, oldest first.
func (l *Log) Tail(n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || n > len(l.tail) {
		n = len(l.tail)
	}
	out := make([]Entry, n)
	copy(out, l.tail[len(l.tail)-n:])
	return out
}
