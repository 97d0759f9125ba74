// Package model holds the data types shared across the dispatch and
// session layers: Task, the judge record, and the case/problem result
// payloads forwarded to the web frontend (spec.md §3).
package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/orzoj-cluster/judged/internal/queue"
)

// TaskQueue is a judge's assigned FIFO of tasks (spec.md §4.5).
type TaskQueue = queue.Queue[Task]

// Task is one submission awaiting judgment. Immutable once created, except
// for CorrelationID, which the dispatcher stamps on at the moment it wins
// the candidate judge's lock (see dispatch.Dispatcher.enqueueOnCandidate).
type Task struct {
	Problem        string // also the on-disk directory name under DataDir
	Language       string
	Source         string // the submitted program
	InputFilename  string // empty ⇒ use stdin
	OutputFilename string // empty ⇒ use stdout

	// CorrelationID ties this task's OFTP throughput, if any, back to the
	// audit record written at dispatch time. Zero until dispatched.
	CorrelationID uuid.UUID
}

// CaseResult is read off the wire after REPORT_CASE and forwarded to the
// web frontend unchanged. Its exact field layout is not part of the core
// protocol (spec.md §3); this is this implementation's concrete choice —
// see SPEC_FULL.md §3.
type CaseResult struct {
	Verdict  string
	TimeMS   uint32
	MemoryKB uint32
	Message  string
}

// ProbResult is read off the wire after REPORT_JUDGE_FINISH.
type ProbResult struct {
	Verdict string
	Score   uint32
	Message string
}

// Judge is one connected worker. LanguagesSupported is only safe to mutate
// from the owning session driver; Queue is internally synchronized, with
// the dispatcher putting onto it and the session driver taking from it.
// The registry guards only the map that holds *Judge pointers, not the
// pointees (spec.md §4.4).
type Judge struct {
	ID                 string
	LanguagesSupported map[string]bool
	Queue              *TaskQueue
	ConnectedAt        time.Time

	// currentTask is the task popped from Queue and currently being driven
	// through the wire protocol, if any. Owned exclusively by the session
	// driver serving this judge; the registry and dispatcher never read it.
	currentTask *Task
}

// SetCurrentTask records t as in flight, or clears it when t is nil.
func (j *Judge) SetCurrentTask(t *Task) { j.currentTask = t }

// CurrentTask returns the task in flight, or nil if none.
func (j *Judge) CurrentTask() *Task { return j.currentTask }

// NewJudge allocates a Judge record with an empty assigned queue.
func NewJudge(id string) *Judge {
	return &Judge{
		ID:                 id,
		LanguagesSupported: make(map[string]bool),
		Queue:              queue.New[Task](),
		ConnectedAt:        time.Now(),
	}
}

// Supports reports whether the judge declared support for lang.
func (j *Judge) Supports(lang string) bool {
	return j.LanguagesSupported[lang]
}
