package audit

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/orzoj-cluster/judged/internal/model"
)

// SessionSink adapts a Log to session.EventSink. Writes are best-effort:
// a failure is logged and never returned to the caller, since audit
// failures must not be session-fatal (SPEC_FULL.md §4.7).
type SessionSink struct {
	Log Log
}

func (s SessionSink) JudgeConnected(judgeID string, answers map[string]string) {
	detail := ""
	for q, a := range answers {
		detail += q + "=" + a + ";"
	}
	s.write(SessionEvent{CorrelationID: uuid.New(), JudgeID: judgeID, Kind: "connected", Detail: detail, At: time.Now()})
}

func (s SessionSink) JudgeHandshakeFailed(judgeID, reason string) {
	s.write(SessionEvent{CorrelationID: uuid.New(), JudgeID: judgeID, Kind: "handshake_failed", Detail: reason, At: time.Now()})
}

func (s SessionSink) JudgeDisconnected(judgeID string) {
	s.write(SessionEvent{CorrelationID: uuid.New(), JudgeID: judgeID, Kind: "disconnected", At: time.Now()})
}

func (s SessionSink) TaskFinished(judgeID string, task model.Task, outcome string) {
	s.write(SessionEvent{
		CorrelationID: uuid.New(), JudgeID: judgeID, Kind: "task_" + outcome,
		Detail: task.Problem + "/" + task.Language, At: time.Now(),
	})
}

// DataTransferred back-fills the throughput observed for task's NEED_FILE
// transfer onto the dispatch record it was dispatched under. Tasks that
// never left the dispatcher's candidate scan (CorrelationID still the zero
// UUID — shouldn't happen for anything reaching the wire, but defensive
// here since this is keyed lookup, not an insert) are skipped.
func (s SessionSink) DataTransferred(judgeID string, task model.Task, kbPerSec float64) {
	if task.CorrelationID == uuid.Nil {
		return
	}
	if err := s.Log.UpdateDispatchThroughput(context.Background(), task.CorrelationID, kbPerSec); err != nil {
		log.Printf("audit: update dispatch throughput: %v", err)
	}
}

func (s SessionSink) write(ev SessionEvent) {
	if err := s.Log.RecordSessionEvent(context.Background(), ev); err != nil {
		log.Printf("audit: record session event: %v", err)
	}
}

// DispatchSink adapts a Log to dispatch.EventSink.
type DispatchSink struct {
	Log Log
}

func (s DispatchSink) TaskDispatched(correlationID uuid.UUID, task model.Task, judgeID string) {
	rec := DispatchRecord{
		CorrelationID: correlationID,
		TaskProblem:   task.Problem,
		TaskLanguage:  task.Language,
		JudgeID:       judgeID,
		DispatchedAt:  time.Now(),
	}
	if err := s.Log.RecordDispatch(context.Background(), rec); err != nil {
		log.Printf("audit: record dispatch: %v", err)
	}
}

func (s DispatchSink) NoJudgeQualifies(task model.Task) {
	s.write(SessionEvent{
		CorrelationID: uuid.New(), Kind: "no_judge_qualifies",
		Detail: task.Problem + "/" + task.Language, At: time.Now(),
	})
}

func (s DispatchSink) write(ev SessionEvent) {
	if err := s.Log.RecordSessionEvent(context.Background(), ev); err != nil {
		log.Printf("audit: record session event: %v", err)
	}
}
