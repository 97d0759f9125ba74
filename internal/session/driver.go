// Package session implements the per-judge connection state machine:
// handshake, serve-loop, and the per-task wire protocol (spec.md §4.7).
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/orzoj-cluster/judged/internal/datahash"
	"github.com/orzoj-cluster/judged/internal/model"
	"github.com/orzoj-cluster/judged/internal/oftp"
	"github.com/orzoj-cluster/judged/internal/proto"
	"github.com/orzoj-cluster/judged/internal/queue"
	"github.com/orzoj-cluster/judged/internal/registry"
	"github.com/orzoj-cluster/judged/internal/webapi"
	"github.com/orzoj-cluster/judged/internal/wire"
)

// EventSink receives lifecycle notifications for audit/hub fan-out. All
// methods must be cheap and non-blocking; Driver does not wait for them.
type EventSink interface {
	JudgeConnected(judgeID string, answers map[string]string)
	JudgeHandshakeFailed(judgeID, reason string)
	JudgeDisconnected(judgeID string)
	TaskFinished(judgeID string, task model.Task, outcome string)

	// DataTransferred reports observed OFTP throughput for a NEED_FILE
	// transfer made while driving task, keyed by task.CorrelationID so the
	// audit trail's dispatch record can be updated after the fact.
	DataTransferred(judgeID string, task model.Task, kbPerSec float64)
}

// MultiSink fans each event out to every sink in the slice, in order.
type MultiSink []EventSink

func (m MultiSink) JudgeConnected(judgeID string, answers map[string]string) {
	for _, s := range m {
		s.JudgeConnected(judgeID, answers)
	}
}

func (m MultiSink) JudgeHandshakeFailed(judgeID, reason string) {
	for _, s := range m {
		s.JudgeHandshakeFailed(judgeID, reason)
	}
}

func (m MultiSink) JudgeDisconnected(judgeID string) {
	for _, s := range m {
		s.JudgeDisconnected(judgeID)
	}
}

func (m MultiSink) TaskFinished(judgeID string, task model.Task, outcome string) {
	for _, s := range m {
		s.TaskFinished(judgeID, task, outcome)
	}
}

func (m MultiSink) DataTransferred(judgeID string, task model.Task, kbPerSec float64) {
	for _, s := range m {
		s.DataTransferred(judgeID, task, kbPerSec)
	}
}

// NopSink discards every event. The zero value is ready to use.
type NopSink struct{}

func (NopSink) JudgeConnected(string, map[string]string)  {}
func (NopSink) JudgeHandshakeFailed(string, string)       {}
func (NopSink) JudgeDisconnected(string)                  {}
func (NopSink) TaskFinished(string, model.Task, string)   {}
func (NopSink) DataTransferred(string, model.Task, float64) {}

// Config bounds the driver's behavior in ways spec.md names as
// configuration (§6) rather than fixed constants.
type Config struct {
	IDMaxLen       int
	DataDir        string
	CompileMaxTime time.Duration
	OFTPChunkSize  int
}

// Driver owns one accepted connection end to end: handshake, serve-loop,
// and cleanup. One Driver per connection; Run must be called exactly once.
type Driver struct {
	conn   *wire.Conn
	reg    *registry.Registry
	shared *queue.Queue[model.Task]
	web    webapi.Client
	sink   EventSink
	cfg    Config

	judge *model.Judge
}

// New constructs a Driver for an accepted connection. sink may be nil, in
// which case events are discarded.
func New(conn *wire.Conn, reg *registry.Registry, shared *queue.Queue[model.Task], web webapi.Client, sink EventSink, cfg Config) *Driver {
	if sink == nil {
		sink = NopSink{}
	}
	return &Driver{conn: conn, reg: reg, shared: shared, web: web, sink: sink, cfg: cfg}
}

// Run drives the connection to completion: handshake, then the serve-loop
// until ctx is cancelled or a session-fatal error occurs, then cleanup.
// Run always returns nil; session-fatal conditions are logged, not
// propagated, matching spec.md §7's "silent cleanup" for transport errors
// and "log warning" for the other three kinds.
func (d *Driver) Run(ctx context.Context) error {
	defer d.conn.Close()

	ok, err := d.handshake(ctx)
	if err != nil {
		d.logSessionFatal(err)
	}
	if !ok {
		return nil
	}

	defer d.cleanup()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		task, got := d.judge.Queue.Get(ctx, time.Second)
		if !got {
			continue
		}

		d.judge.SetCurrentTask(&task)
		err := d.runTask(ctx, task)
		if err != nil {
			d.logSessionFatal(err)
			return nil
		}
		d.judge.SetCurrentTask(nil)
	}
}

// handshake runs spec.md §4.7's handshake phase. ok is false if the
// connection was terminated during handshake (duplicate id, bad version,
// id too long, or a transport failure) and Run must not proceed to the
// serve-loop.
func (d *Driver) handshake(ctx context.Context) (ok bool, err error) {
	tag, err := d.conn.ReadMsg(0)
	if err != nil {
		return false, &TransportError{Op: "read hello tag", Err: err}
	}
	if tag != proto.Hello {
		return false, &ProtocolError{Context: "handshake", Tag: tag}
	}

	id, err := d.conn.ReadStr(0)
	if err != nil {
		return false, &TransportError{Op: "read id", Err: err}
	}
	version, err := d.conn.ReadU32(0)
	if err != nil {
		return false, &TransportError{Op: "read protocol version", Err: err}
	}
	n, err := d.conn.ReadU32(0)
	if err != nil {
		return false, &TransportError{Op: "read language count", Err: err}
	}
	langs := make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		lang, err := d.conn.ReadStr(0)
		if err != nil {
			return false, &TransportError{Op: "read language", Err: err}
		}
		langs = append(langs, lang)
	}

	if len(id) > d.cfg.IDMaxLen {
		_ = d.conn.WriteMsg(proto.IDTooLong)
		d.sink.JudgeHandshakeFailed(id, "id too long")
		return false, nil
	}

	// Duplicate check only — no insert. The registry entry is created
	// only after RegisterNewJudge succeeds (spec.md §4.7 step 7), so a
	// judge that fails partway through the handshake (bad version, a
	// query-loop transport error, a web-frontend error) never occupies a
	// registry slot the dispatcher could enqueue a task onto and then
	// lose (spec.md §3: "protocol version mismatch ⇒ the judge never
	// enters the registry").
	if d.reg.Contains(id) {
		_ = d.conn.WriteMsg(proto.DuplicatedID)
		d.sink.JudgeHandshakeFailed(id, "duplicated id")
		return false, nil
	}

	if version != proto.Version {
		_ = d.conn.WriteMsg(proto.Error)
		d.sink.JudgeHandshakeFailed(id, "protocol version mismatch")
		return false, nil
	}

	if err := d.conn.WriteMsg(proto.ConnectOK); err != nil {
		return false, &TransportError{Op: "write connect_ok", Err: err}
	}

	queries, err := d.web.GetQueryList(ctx)
	if err != nil {
		return false, &WebError{Op: "get_query_list", Err: err}
	}

	answers := make(map[string]string, len(queries))
	for _, q := range queries {
		if err := d.conn.WriteMsg(proto.QueryInfo); err != nil {
			return false, &TransportError{Op: "write query_info", Err: err}
		}
		if err := d.conn.WriteStr(q); err != nil {
			return false, &TransportError{Op: "write query string", Err: err}
		}
		ansTag, err := d.conn.ReadMsg(0)
		if err != nil {
			return false, &TransportError{Op: "read ans_query tag", Err: err}
		}
		if ansTag != proto.AnsQuery {
			return false, &ProtocolError{Context: "query loop", Tag: ansTag}
		}
		ans, err := d.conn.ReadStr(0)
		if err != nil {
			return false, &TransportError{Op: "read answer", Err: err}
		}
		answers[q] = ans
	}

	judge := model.NewJudge(id)
	for _, l := range langs {
		judge.LanguagesSupported[l] = true
	}

	if err := d.web.RegisterNewJudge(ctx, judge, answers); err != nil {
		return false, &WebError{Op: "register_new_judge", Err: err}
	}

	if !d.reg.Insert(judge) {
		// Another connection registered this id between our check above
		// and this insert. Undo the web registration and reject this one
		// as the loser of that race.
		if rerr := d.web.RemoveJudge(ctx, judge); rerr != nil {
			log.Printf("session: remove_judge for %s after lost duplicate race: %v", id, rerr)
		}
		_ = d.conn.WriteMsg(proto.DuplicatedID)
		d.sink.JudgeHandshakeFailed(id, "duplicated id")
		return false, nil
	}

	d.judge = judge
	d.sink.JudgeConnected(id, answers)
	return true, nil
}

// runTask executes spec.md §4.7's task protocol for a single popped task.
// A returned error is always session-fatal; per-task failures (no data,
// data rejected, compile failure) are reported to the web frontend and
// runTask returns nil so the serve-loop continues.
func (d *Driver) runTask(ctx context.Context, task model.Task) error {
	manifest, err := datahash.Manifest(filepath.Join(d.cfg.DataDir, task.Problem))
	if err != nil {
		if werr := d.web.ReportNoData(ctx, task); werr != nil {
			return &WebError{Op: "report_no_data", Err: werr}
		}
		d.sink.TaskFinished(d.judge.ID, task, "no_data")
		return nil
	}

	if err := d.conn.WriteMsg(proto.PrepareData); err != nil {
		return &TransportError{Op: "write prepare_data", Err: err}
	}
	if err := d.conn.WriteStr(task.Problem); err != nil {
		return &TransportError{Op: "write problem", Err: err}
	}
	if err := d.conn.WriteU32(uint32(len(manifest))); err != nil {
		return &TransportError{Op: "write manifest length", Err: err}
	}
	for name, digest := range manifest {
		if err := d.conn.WriteStr(name); err != nil {
			return &TransportError{Op: "write manifest filename", Err: err}
		}
		if err := d.conn.WriteStr(digest.String()); err != nil {
			return &TransportError{Op: "write manifest sha1", Err: err}
		}
	}

dataPhase:
	for {
		tag, err := d.conn.ReadMsg(0)
		if err != nil {
			return &TransportError{Op: "read data phase tag", Err: err}
		}
		switch tag {
		case proto.DataComputingSHA1:
			continue
		case proto.DataError:
			reason, err := d.conn.ReadStr(0)
			if err != nil {
				return &TransportError{Op: "read data_error reason", Err: err}
			}
			if werr := d.web.ReportError(ctx, task, fmt.Sprintf("data error: %q", reason)); werr != nil {
				return &WebError{Op: "report_error", Err: werr}
			}
			d.sink.TaskFinished(d.judge.ID, task, "data_error")
			return nil
		case proto.NeedFile:
			filename, err := d.conn.ReadStr(0)
			if err != nil {
				return &TransportError{Op: "read need_file filename", Err: err}
			}
			path := filepath.Join(d.cfg.DataDir, task.Problem, filename)
			kbPerSec, err := oftp.Send(d.conn, path, d.cfg.OFTPChunkSize)
			if err != nil {
				return &TransferError{Path: path, Err: err}
			}
			d.sink.DataTransferred(d.judge.ID, task, kbPerSec)
			continue
		case proto.DataOK:
			break dataPhase
		default:
			return &ProtocolError{Context: "data phase", Tag: tag}
		}
	}

	ncase, err := d.conn.ReadU32(0)
	if err != nil {
		return &TransportError{Op: "read ncase", Err: err}
	}
	caseTL := make([]uint32, ncase)
	for i := range caseTL {
		tl, err := d.conn.ReadU32(0)
		if err != nil {
			return &TransportError{Op: "read case time limit", Err: err}
		}
		caseTL[i] = tl
	}

	if err := d.conn.WriteMsg(proto.StartJudge); err != nil {
		return &TransportError{Op: "write start_judge", Err: err}
	}
	if err := d.conn.WriteStr(task.Language); err != nil {
		return &TransportError{Op: "write language", Err: err}
	}
	if err := d.conn.WriteStr(task.Source); err != nil {
		return &TransportError{Op: "write source", Err: err}
	}
	if err := d.conn.WriteStr(task.InputFilename); err != nil {
		return &TransportError{Op: "write input filename", Err: err}
	}
	if err := d.conn.WriteStr(task.OutputFilename); err != nil {
		return &TransportError{Op: "write output filename", Err: err}
	}

	for {
		tag, err := d.conn.ReadMsg(0)
		if err != nil {
			return &TransportError{Op: "read start phase tag", Err: err}
		}
		if tag == proto.StartJudgeWait {
			continue
		}
		if tag == proto.StartJudgeOK {
			break
		}
		return &ProtocolError{Context: "start phase", Tag: tag}
	}

	if err := d.web.ReportCompiling(ctx, task, d.judge.ID); err != nil {
		return &WebError{Op: "report_compiling", Err: err}
	}

	compileTag, err := d.conn.ReadMsg(d.cfg.CompileMaxTime)
	if err != nil {
		return &TransportError{Op: "read compile result", Err: err}
	}
	switch compileTag {
	case proto.CompileSucceed:
		if err := d.web.ReportCompileSuccess(ctx, task); err != nil {
			return &WebError{Op: "report_compile_success", Err: err}
		}
	case proto.CompileFail:
		reason, err := d.conn.ReadStr(0)
		if err != nil {
			return &TransportError{Op: "read compile fail reason", Err: err}
		}
		if werr := d.web.ReportCompileFailure(ctx, task, reason); werr != nil {
			return &WebError{Op: "report_compile_failure", Err: werr}
		}
		d.sink.TaskFinished(d.judge.ID, task, "compile_fail")
		return nil
	default:
		if werr := d.web.ReportError(ctx, task, fmt.Sprintf("unexpected tag %d after start_judge", compileTag)); werr != nil {
			return &WebError{Op: "report_error", Err: werr}
		}
		return &ProtocolError{Context: "compile phase", Tag: compileTag}
	}

	for i := uint32(0); i < ncase; i++ {
		tag, err := d.conn.ReadMsg(0)
		if err != nil {
			return &TransportError{Op: "read report_case tag", Err: err}
		}
		if tag != proto.ReportCase {
			return &ProtocolError{Context: "case reporting", Tag: tag}
		}
		result, err := readCaseResult(d.conn)
		if err != nil {
			return &TransportError{Op: "read case result", Err: err}
		}
		if err := d.web.ReportCaseResult(ctx, task, result); err != nil {
			return &WebError{Op: "report_case_result", Err: err}
		}
	}

	finishTag, err := d.conn.ReadMsg(0)
	if err != nil {
		return &TransportError{Op: "read report_judge_finish tag", Err: err}
	}
	if finishTag != proto.ReportJudgeFinish {
		return &ProtocolError{Context: "finish reporting", Tag: finishTag}
	}
	prob, err := readProbResult(d.conn)
	if err != nil {
		return &TransportError{Op: "read prob result", Err: err}
	}
	if err := d.web.ReportProbResult(ctx, task, prob); err != nil {
		return &WebError{Op: "report_prob_result", Err: err}
	}

	d.sink.TaskFinished(d.judge.ID, task, "finished")
	return nil
}

// cleanup runs spec.md §4.7's unconditional cleanup phase.
func (d *Driver) cleanup() {
	if d.judge == nil {
		return
	}
	if t := d.judge.CurrentTask(); t != nil {
		d.shared.Put(*t)
	}
	d.reg.Remove(d.judge.ID)
	if err := d.web.RemoveJudge(context.Background(), d.judge); err != nil {
		log.Printf("session: remove_judge for %s: %v", d.judge.ID, err)
	}
	for _, t := range d.judge.Queue.Drain() {
		d.shared.Put(t)
	}
	d.sink.JudgeDisconnected(d.judge.ID)
}

func (d *Driver) logSessionFatal(err error) {
	var transport *TransportError
	var protoErr *ProtocolError
	var webErr *WebError
	var xferErr *TransferError
	switch {
	case errors.As(err, &transport):
		log.Printf("session: %s: transport error: %v", d.judgeID(), err)
	case errors.As(err, &protoErr):
		log.Printf("session: %s: protocol violation: %v", d.judgeID(), err)
		_ = d.conn.WriteMsg(proto.Error)
	case errors.As(err, &webErr):
		log.Printf("session: %s: web error: %v", d.judgeID(), err)
		_ = d.conn.WriteMsg(proto.Error)
	case errors.As(err, &xferErr):
		log.Printf("session: %s: transfer error: %v", d.judgeID(), err)
	default:
		log.Printf("session: %s: unexpected error: %v", d.judgeID(), err)
	}
}

func (d *Driver) judgeID() string {
	if d.judge == nil {
		return "<unregistered>"
	}
	return d.judge.ID
}
