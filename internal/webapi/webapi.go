// Package webapi defines the contract the session driver and dispatcher
// consume to talk to the external web frontend (spec.md §4.8), plus a
// concrete HTTP implementation and an in-memory fake for tests.
package webapi

import (
	"context"
	"fmt"

	"github.com/orzoj-cluster/judged/internal/model"
)

// WebError wraps any failure from a Client call — a non-2xx response, a
// transport error, or a malformed body. The session driver treats it as
// session-fatal for the judge it was serving (spec.md §7).
type WebError struct {
	Op  string
	Err error
}

func (e *WebError) Error() string { return fmt.Sprintf("webapi: %s: %v", e.Op, e.Err) }
func (e *WebError) Unwrap() error { return e.Err }

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &WebError{Op: op, Err: err}
}

// Client is the contract the core consumes from the web frontend (spec.md
// §4.8). Every method may fail with a *WebError.
type Client interface {
	// FetchTask returns the next pending submission, or (Task{}, false, nil)
	// when none is pending.
	FetchTask(ctx context.Context) (task model.Task, ok bool, err error)

	ReportNoJudge(ctx context.Context, task model.Task) error
	ReportNoData(ctx context.Context, task model.Task) error
	ReportError(ctx context.Context, task model.Task, reason string) error
	ReportCompiling(ctx context.Context, task model.Task, judgeID string) error
	ReportCompileSuccess(ctx context.Context, task model.Task) error
	ReportCompileFailure(ctx context.Context, task model.Task, reason string) error
	ReportCaseResult(ctx context.Context, task model.Task, result model.CaseResult) error
	ReportProbResult(ctx context.Context, task model.Task, result model.ProbResult) error

	// GetQueryList returns the system-info query strings (e.g. "cpuinfo",
	// "meminfo") the server asks every newly-handshaking judge.
	GetQueryList(ctx context.Context) ([]string, error)
	// RegisterNewJudge announces a judge that has completed the handshake,
	// along with its answers to the query list.
	RegisterNewJudge(ctx context.Context, judge *model.Judge, answers map[string]string) error
	RemoveJudge(ctx context.Context, judge *model.Judge) error
}
