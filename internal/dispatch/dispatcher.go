package dispatch

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/orzoj-cluster/judged/internal/model"
	"github.com/orzoj-cluster/judged/internal/queue"
	"github.com/orzoj-cluster/judged/internal/registry"
	"github.com/orzoj-cluster/judged/internal/webapi"
)

// EventSink receives dispatch-lifecycle notifications for audit/hub
// fan-out. Both methods must be cheap and non-blocking.
type EventSink interface {
	TaskDispatched(correlationID uuid.UUID, task model.Task, judgeID string)
	NoJudgeQualifies(task model.Task)
}

// MultiSink fans each event out to every sink in the slice, in order.
type MultiSink []EventSink

func (m MultiSink) TaskDispatched(correlationID uuid.UUID, task model.Task, judgeID string) {
	for _, s := range m {
		s.TaskDispatched(correlationID, task, judgeID)
	}
}

func (m MultiSink) NoJudgeQualifies(task model.Task) {
	for _, s := range m {
		s.NoJudgeQualifies(task)
	}
}

// NopSink discards every event. The zero value is ready to use.
type NopSink struct{}

func (NopSink) TaskDispatched(uuid.UUID, model.Task, string) {}
func (NopSink) NoJudgeQualifies(model.Task)                  {}

// Dispatcher pops tasks off the shared queue and assigns each to the
// capable, online judge with the shortest assigned queue (spec.md §4.6).
type Dispatcher struct {
	reg    *registry.Registry
	shared *queue.Queue[model.Task]
	web    webapi.Client
	sink   EventSink
}

// NewDispatcher returns a Dispatcher drawing from shared and dispatching
// against reg. sink may be nil, in which case events are discarded.
func NewDispatcher(reg *registry.Registry, shared *queue.Queue[model.Task], web webapi.Client, sink EventSink) *Dispatcher {
	if sink == nil {
		sink = NopSink{}
	}
	return &Dispatcher{reg: reg, shared: shared, web: web, sink: sink}
}

// Run blocks, dispatching tasks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, ok := d.shared.Get(ctx, time.Second)
		if !ok {
			continue
		}
		d.dispatch(ctx, task)
	}
}

// dispatch selects a capable judge and enqueues task onto it, or reports
// no-judge to the web frontend if none qualify. The candidate selection
// and the enqueue are separated by a lock-free scan followed by a
// lock-held re-check (spec.md §9): the scan picks a candidate id under no
// lock (cheap, tolerant of staleness), then WithLock re-resolves that id
// against the live map and enqueues in the same critical section, so a
// concurrent session cleanup removing the judge cannot race the enqueue.
//
// If the candidate vanished between selection and the locked re-check, the
// task is returned to the head of the shared queue (spec.md §4.6) rather
// than retried here, so the already ctx-aware Run loop governs shutdown
// latency instead of an unbounded internal retry.
func (d *Dispatcher) dispatch(ctx context.Context, task model.Task) {
	candidateID, found := d.selectCandidate(task.Language)
	if !found {
		if err := d.web.ReportNoJudge(ctx, task); err != nil {
			log.Printf("dispatch: report_no_judge: %v", err)
		}
		d.sink.NoJudgeQualifies(task)
		return
	}

	if !d.enqueueOnCandidate(candidateID, task) {
		d.shared.PutFront(task)
	}
}

// enqueueOnCandidate re-resolves candidateID against the live registry under
// lock and, if it is still present, enqueues task onto it and notifies the
// sink. It reports whether the enqueue happened, so dispatch can requeue the
// task to the head of the shared queue on a lost race.
func (d *Dispatcher) enqueueOnCandidate(candidateID string, task model.Task) (dispatched bool) {
	correlationID := uuid.New()
	d.reg.WithLock(func(byID map[string]*model.Judge) {
		j, stillPresent := byID[candidateID]
		if !stillPresent {
			return
		}
		t := task
		t.CorrelationID = correlationID
		j.Queue.Put(t)
		dispatched = true
	})
	if dispatched {
		d.sink.TaskDispatched(correlationID, task, candidateID)
	}
	return dispatched
}

// selectCandidate scans a point-in-time snapshot of the registry for the
// judge supporting lang with the shortest assigned queue. It holds no lock
// across the scan; staleness is resolved by dispatch's re-check.
func (d *Dispatcher) selectCandidate(lang string) (judgeID string, found bool) {
	best := -1
	for _, j := range d.reg.Snapshot() {
		if !j.Supports(lang) {
			continue
		}
		n := j.Queue.Len()
		if !found || n < best {
			found = true
			best = n
			judgeID = j.ID
		}
	}
	return judgeID, found
}
