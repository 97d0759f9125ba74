package webapi

import (
	"context"
	"sync"

	"github.com/orzoj-cluster/judged/internal/model"
)

// ReportEvent records one call to a Fake's Report* methods, for tests that
// need to assert on what the session driver or dispatcher told the web
// frontend.
type ReportEvent struct {
	Kind   string
	Task   model.Task
	Reason string
	Judge  string
	Case   model.CaseResult
	Prob   model.ProbResult
}

// Fake is an in-memory Client for session and dispatch tests. Tasks queued
// with PushTask are handed out in FIFO order by FetchTask; every Report*
// call is appended to Events, and RegisterNewJudge/RemoveJudge add and
// delete entries in Judges.
type Fake struct {
	mu sync.Mutex

	pending  []model.Task
	queries  []string
	Events   []ReportEvent
	Judges   map[string]map[string]string // judge id -> answers
	FailNext error                        // if set, the next call returns this error and clears it
}

// NewFake returns an empty Fake with no pending tasks and no configured
// query list.
func NewFake() *Fake {
	return &Fake{Judges: make(map[string]map[string]string)}
}

// PushTask enqueues t to be returned by a future FetchTask call.
func (f *Fake) PushTask(t model.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, t)
}

// SetQueryList configures what GetQueryList returns.
func (f *Fake) SetQueryList(q []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = q
}

func (f *Fake) takeFailure() error {
	if f.FailNext != nil {
		err := f.FailNext
		f.FailNext = nil
		return err
	}
	return nil
}

func (f *Fake) FetchTask(ctx context.Context) (model.Task, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return model.Task{}, false, err
	}
	if len(f.pending) == 0 {
		return model.Task{}, false, nil
	}
	t := f.pending[0]
	f.pending = f.pending[1:]
	return t, true, nil
}

func (f *Fake) record(ev ReportEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return err
	}
	f.Events = append(f.Events, ev)
	return nil
}

func (f *Fake) ReportNoJudge(ctx context.Context, task model.Task) error {
	return f.record(ReportEvent{Kind: "no_judge", Task: task})
}

func (f *Fake) ReportNoData(ctx context.Context, task model.Task) error {
	return f.record(ReportEvent{Kind: "no_data", Task: task})
}

func (f *Fake) ReportError(ctx context.Context, task model.Task, reason string) error {
	return f.record(ReportEvent{Kind: "error", Task: task, Reason: reason})
}

func (f *Fake) ReportCompiling(ctx context.Context, task model.Task, judgeID string) error {
	return f.record(ReportEvent{Kind: "compiling", Task: task, Judge: judgeID})
}

func (f *Fake) ReportCompileSuccess(ctx context.Context, task model.Task) error {
	return f.record(ReportEvent{Kind: "compile_success", Task: task})
}

func (f *Fake) ReportCompileFailure(ctx context.Context, task model.Task, reason string) error {
	return f.record(ReportEvent{Kind: "compile_failure", Task: task, Reason: reason})
}

func (f *Fake) ReportCaseResult(ctx context.Context, task model.Task, result model.CaseResult) error {
	return f.record(ReportEvent{Kind: "case_result", Task: task, Case: result})
}

func (f *Fake) ReportProbResult(ctx context.Context, task model.Task, result model.ProbResult) error {
	return f.record(ReportEvent{Kind: "prob_result", Task: task, Prob: result})
}

func (f *Fake) GetQueryList(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return nil, err
	}
	return f.queries, nil
}

func (f *Fake) RegisterNewJudge(ctx context.Context, judge *model.Judge, answers map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return err
	}
	f.Judges[judge.ID] = answers
	return nil
}

func (f *Fake) RemoveJudge(ctx context.Context, judge *model.Judge) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return err
	}
	delete(f.Judges, judge.ID)
	return nil
}
