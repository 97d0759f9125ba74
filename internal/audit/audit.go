// Package audit defines the append-only history of dispatch and session
// lifecycle events. It exists purely for operators after the fact — it is
// never read back to replay or reconstruct process state, so an empty or
// unreachable audit store never affects correctness (spec.md's
// queue-persistence Non-goal; see SPEC_FULL.md's Non-goals section).
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DispatchRecord is written once per successful dispatch.
type DispatchRecord struct {
	CorrelationID  uuid.UUID
	TaskProblem    string
	TaskLanguage   string
	JudgeID        string
	DispatchedAt   time.Time
	ThroughputKBps *float64 // set when OFTP moved data for this task
}

// SessionEvent is written at each judge lifecycle milestone: connected,
// handshake failed, disconnected, or a task reaching a terminal outcome.
type SessionEvent struct {
	CorrelationID uuid.UUID
	JudgeID       string
	Kind          string
	Detail        string
	At            time.Time
}

// Log is the sink both the dispatcher and the session driver write to.
// Rows are only inserted, except that UpdateDispatchThroughput back-fills
// the throughput of an existing dispatch record. Implementations must make writes best-effort from the
// caller's perspective: a failing audit write is logged, never session-
// or dispatch-fatal (SPEC_FULL.md §4.6).
type Log interface {
	RecordDispatch(ctx context.Context, rec DispatchRecord) error
	RecordSessionEvent(ctx context.Context, ev SessionEvent) error

	// UpdateDispatchThroughput back-fills ThroughputKBps on the dispatch
	// record identified by correlationID, once OFTP has actually moved data
	// for that task. A no-op (not an error) if no such record exists, since
	// most tasks never trigger NEED_FILE.
	UpdateDispatchThroughput(ctx context.Context, correlationID uuid.UUID, kbPerSec float64) error

	Close() error
}

// Nop discards everything. Used when no audit DSN is configured.
type Nop struct{}

func (Nop) RecordDispatch(context.Context, DispatchRecord) error   { return nil }
func (Nop) RecordSessionEvent(context.Context, SessionEvent) error { return nil }
func (Nop) UpdateDispatchThroughput(context.Context, uuid.UUID, float64) error {
	return nil
}
func (Nop) Close() error { return nil }
