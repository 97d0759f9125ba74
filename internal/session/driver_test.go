package session

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/orzoj-cluster/judged/internal/model"
	"github.com/orzoj-cluster/judged/internal/oftp"
	"github.com/orzoj-cluster/judged/internal/proto"
	"github.com/orzoj-cluster/judged/internal/queue"
	"github.com/orzoj-cluster/judged/internal/registry"
	"github.com/orzoj-cluster/judged/internal/webapi"
	"github.com/orzoj-cluster/judged/internal/wire"
)

// eventRecorder is a session.EventSink that hands every call off to a
// buffered channel, so tests can synchronize on driver progress instead of
// sleeping.
type eventRecorder struct {
	connected       chan string
	handshakeFailed chan string
	disconnected    chan string
	finished        chan string
	transferred     chan float64
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{
		connected:       make(chan string, 8),
		handshakeFailed: make(chan string, 8),
		disconnected:    make(chan string, 8),
		finished:        make(chan string, 8),
		transferred:     make(chan float64, 8),
	}
}

func (r *eventRecorder) JudgeConnected(judgeID string, _ map[string]string) { r.connected <- judgeID }
func (r *eventRecorder) JudgeHandshakeFailed(judgeID, _ string)             { r.handshakeFailed <- judgeID }
func (r *eventRecorder) JudgeDisconnected(judgeID string)                  { r.disconnected <- judgeID }
func (r *eventRecorder) TaskFinished(_ string, _ model.Task, outcome string) {
	r.finished <- outcome
}
func (r *eventRecorder) DataTransferred(_ string, _ model.Task, kbPerSec float64) {
	r.transferred <- kbPerSec
}

func testConfig(dataDir string) Config {
	return Config{IDMaxLen: 20, DataDir: dataDir, CompileMaxTime: time.Second, OFTPChunkSize: 4096}
}

// sendHello writes a HELLO message in the shape the handshake expects.
func sendHello(t *testing.T, conn *wire.Conn, id string, version uint32, langs []string) {
	t.Helper()
	if err := conn.WriteMsg(proto.Hello); err != nil {
		t.Fatalf("write hello tag: %v", err)
	}
	if err := conn.WriteStr(id); err != nil {
		t.Fatalf("write id: %v", err)
	}
	if err := conn.WriteU32(version); err != nil {
		t.Fatalf("write version: %v", err)
	}
	if err := conn.WriteU32(uint32(len(langs))); err != nil {
		t.Fatalf("write lang count: %v", err)
	}
	for _, l := range langs {
		if err := conn.WriteStr(l); err != nil {
			t.Fatalf("write lang %q: %v", l, err)
		}
	}
}

// answerQueries answers n QUERY_INFO/ANS_QUERY round-trips with a fixed
// answer, as a handshaking judge would.
func answerQueries(t *testing.T, conn *wire.Conn, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		tag, err := conn.ReadMsg(0)
		if err != nil {
			t.Fatalf("read query_info tag: %v", err)
		}
		if tag != proto.QueryInfo {
			t.Fatalf("expected QUERY_INFO, got tag %d", tag)
		}
		if _, err := conn.ReadStr(0); err != nil {
			t.Fatalf("read query string: %v", err)
		}
		if err := conn.WriteMsg(proto.AnsQuery); err != nil {
			t.Fatalf("write ans_query tag: %v", err)
		}
		if err := conn.WriteStr("X"); err != nil {
			t.Fatalf("write answer: %v", err)
		}
	}
}

func waitForJudge(t *testing.T, reg *registry.Registry, id string, timeout time.Duration) *model.Judge {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, j := range reg.Snapshot() {
			if j.ID == id {
				return j
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("judge %s never appeared in registry", id)
	return nil
}

func recvString(t *testing.T, ch <-chan string, timeout time.Duration, what string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for %s", what)
		return ""
	}
}

// readManifestMessage reads a PREPARE_DATA message's problem + manifest entries,
// as a handshaking judge would, returning the filenames seen.
func readManifestMessage(t *testing.T, conn *wire.Conn) (problem string, files []string) {
	t.Helper()
	tag, err := conn.ReadMsg(0)
	if err != nil {
		t.Fatalf("read prepare_data tag: %v", err)
	}
	if tag != proto.PrepareData {
		t.Fatalf("expected PREPARE_DATA, got tag %d", tag)
	}
	problem, err = conn.ReadStr(0)
	if err != nil {
		t.Fatalf("read problem: %v", err)
	}
	n, err := conn.ReadU32(0)
	if err != nil {
		t.Fatalf("read manifest length: %v", err)
	}
	for i := uint32(0); i < n; i++ {
		name, err := conn.ReadStr(0)
		if err != nil {
			t.Fatalf("read manifest filename: %v", err)
		}
		if _, err := conn.ReadStr(0); err != nil {
			t.Fatalf("read manifest sha1: %v", err)
		}
		files = append(files, name)
	}
	return problem, files
}

// Scenario 1 (spec.md §8): happy path, single case.
func TestScenario1HappyPathSingleCase(t *testing.T) {
	dataDir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dataDir, "p"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dataDir, "p", "a.in"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	reg := registry.New()
	shared := queue.New[model.Task]()
	web := webapi.NewFake()
	web.SetQueryList([]string{"cpuinfo", "meminfo"})
	sink := newEventRecorder()

	serverConn, judgeConn := net.Pipe()
	defer serverConn.Close()
	defer judgeConn.Close()

	driver := New(wire.New(serverConn), reg, shared, web, sink, testConfig(dataDir))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go driver.Run(ctx)

	jc := wire.New(judgeConn)
	sendHello(t, jc, "j1", proto.Version, []string{"cpp"})

	tag, err := jc.ReadMsg(0)
	if err != nil {
		t.Fatalf("read connect_ok: %v", err)
	}
	if tag != proto.ConnectOK {
		t.Fatalf("expected CONNECT_OK, got %d", tag)
	}
	answerQueries(t, jc, 2)

	recvString(t, sink.connected, time.Second, "judge connected event")
	judge := waitForJudge(t, reg, "j1", time.Second)

	task := model.Task{Problem: "p", Language: "cpp", Source: "int main(){}"}
	judge.Queue.Put(task)

	_, files := readManifestMessage(t, jc)
	if len(files) != 1 || files[0] != "a.in" {
		t.Fatalf("manifest files = %v, want [a.in]", files)
	}
	if err := jc.WriteMsg(proto.DataOK); err != nil {
		t.Fatalf("write data_ok: %v", err)
	}
	if err := jc.WriteU32(1); err != nil {
		t.Fatalf("write ncase: %v", err)
	}
	if err := jc.WriteU32(1000); err != nil {
		t.Fatalf("write case tl: %v", err)
	}

	startTag, err := jc.ReadMsg(0)
	if err != nil || startTag != proto.StartJudge {
		t.Fatalf("expected START_JUDGE, got tag=%d err=%v", startTag, err)
	}
	for i := 0; i < 4; i++ {
		if _, err := jc.ReadStr(0); err != nil {
			t.Fatalf("read start_judge field %d: %v", i, err)
		}
	}
	if err := jc.WriteMsg(proto.StartJudgeOK); err != nil {
		t.Fatalf("write start_judge_ok: %v", err)
	}

	if err := jc.WriteMsg(proto.CompileSucceed); err != nil {
		t.Fatalf("write compile_succeed: %v", err)
	}

	if err := jc.WriteMsg(proto.ReportCase); err != nil {
		t.Fatalf("write report_case tag: %v", err)
	}
	if err := WriteCaseResult(jc, model.CaseResult{Verdict: "AC", TimeMS: 5, MemoryKB: 128, Message: ""}); err != nil {
		t.Fatalf("write case result: %v", err)
	}

	if err := jc.WriteMsg(proto.ReportJudgeFinish); err != nil {
		t.Fatalf("write report_judge_finish tag: %v", err)
	}
	if err := WriteProbResult(jc, model.ProbResult{Verdict: "AC", Score: 100, Message: ""}); err != nil {
		t.Fatalf("write prob result: %v", err)
	}

	recvString(t, sink.finished, time.Second, "task finished event")

	kinds := make([]string, len(web.Events))
	for i, ev := range web.Events {
		kinds[i] = ev.Kind
	}
	want := []string{"compiling", "compile_success", "case_result", "prob_result"}
	if len(kinds) != len(want) {
		t.Fatalf("web events = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("web event[%d] = %s, want %s", i, kinds[i], want[i])
		}
	}
}

// Scenario 2 (spec.md §8): duplicate id.
func TestScenario2DuplicateID(t *testing.T) {
	dataDir := t.TempDir()
	reg := registry.New()
	shared := queue.New[model.Task]()
	web := webapi.NewFake()
	web.SetQueryList(nil)
	sink := newEventRecorder()

	serverConn1, judgeConn1 := net.Pipe()
	defer serverConn1.Close()
	defer judgeConn1.Close()
	driver1 := New(wire.New(serverConn1), reg, shared, web, sink, testConfig(dataDir))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go driver1.Run(ctx)

	jc1 := wire.New(judgeConn1)
	sendHello(t, jc1, "j1", proto.Version, []string{"cpp"})
	tag1, err := jc1.ReadMsg(0)
	if err != nil || tag1 != proto.ConnectOK {
		t.Fatalf("driver1 expected CONNECT_OK, got tag=%d err=%v", tag1, err)
	}
	waitForJudge(t, reg, "j1", time.Second)

	serverConn2, judgeConn2 := net.Pipe()
	defer serverConn2.Close()
	defer judgeConn2.Close()
	driver2 := New(wire.New(serverConn2), reg, shared, web, sink, testConfig(dataDir))
	go driver2.Run(ctx)

	jc2 := wire.New(judgeConn2)
	sendHello(t, jc2, "j1", proto.Version, []string{"cpp"})
	tag2, err := jc2.ReadMsg(0)
	if err != nil {
		t.Fatalf("read driver2 reply: %v", err)
	}
	if tag2 != proto.DuplicatedID {
		t.Fatalf("expected DUPLICATED_ID, got tag %d", tag2)
	}

	count := 0
	for _, j := range reg.Snapshot() {
		if j.ID == "j1" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("registry has %d entries for j1, want 1", count)
	}
}

// Scenario 3 (spec.md §8): judge reports NEED_FILE before DATA_OK, server
// streams the file via OFTP on the same connection.
func TestScenario3NeedFileTriggersOFTP(t *testing.T) {
	dataDir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dataDir, "p"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dataDir, "p", "a.in"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	reg := registry.New()
	shared := queue.New[model.Task]()
	web := webapi.NewFake()
	web.SetQueryList(nil)
	sink := newEventRecorder()

	serverConn, judgeConn := net.Pipe()
	defer serverConn.Close()
	defer judgeConn.Close()

	driver := New(wire.New(serverConn), reg, shared, web, sink, testConfig(dataDir))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go driver.Run(ctx)

	jc := wire.New(judgeConn)
	sendHello(t, jc, "j1", proto.Version, []string{"cpp"})
	if tag, err := jc.ReadMsg(0); err != nil || tag != proto.ConnectOK {
		t.Fatalf("expected CONNECT_OK, got tag=%d err=%v", tag, err)
	}
	recvString(t, sink.connected, time.Second, "judge connected event")
	judge := waitForJudge(t, reg, "j1", time.Second)

	judge.Queue.Put(model.Task{Problem: "p", Language: "cpp", Source: "x"})

	readManifestMessage(t, jc)

	if err := jc.WriteMsg(proto.NeedFile); err != nil {
		t.Fatalf("write need_file tag: %v", err)
	}
	if err := jc.WriteStr("a.in"); err != nil {
		t.Fatalf("write need_file filename: %v", err)
	}

	var received bytes.Buffer
	if err := oftp.Receive(jc, &received); err != nil {
		t.Fatalf("oftp.Receive: %v", err)
	}
	if received.String() != "hi" {
		t.Fatalf("received %q, want %q", received.String(), "hi")
	}

	select {
	case kbPerSec := <-sink.transferred:
		if kbPerSec <= 0 {
			t.Errorf("DataTransferred reported %f KB/s, want > 0", kbPerSec)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for DataTransferred event")
	}

	if err := jc.WriteMsg(proto.DataOK); err != nil {
		t.Fatalf("write data_ok: %v", err)
	}
	if err := jc.WriteU32(0); err != nil {
		t.Fatalf("write ncase: %v", err)
	}

	startTag, err := jc.ReadMsg(0)
	if err != nil || startTag != proto.StartJudge {
		t.Fatalf("expected START_JUDGE after OFTP, got tag=%d err=%v", startTag, err)
	}
}

// Scenario 4 (spec.md §8): judge rejects the data with DATA_ERROR; the
// session continues (it does not terminate).
func TestScenario4DataError(t *testing.T) {
	dataDir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dataDir, "p"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dataDir, "p", "a.in"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	reg := registry.New()
	shared := queue.New[model.Task]()
	web := webapi.NewFake()
	web.SetQueryList(nil)
	sink := newEventRecorder()

	serverConn, judgeConn := net.Pipe()
	defer serverConn.Close()
	defer judgeConn.Close()

	driver := New(wire.New(serverConn), reg, shared, web, sink, testConfig(dataDir))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go driver.Run(ctx)

	jc := wire.New(judgeConn)
	sendHello(t, jc, "j1", proto.Version, []string{"cpp"})
	if tag, err := jc.ReadMsg(0); err != nil || tag != proto.ConnectOK {
		t.Fatalf("expected CONNECT_OK, got tag=%d err=%v", tag, err)
	}
	recvString(t, sink.connected, time.Second, "judge connected event")
	judge := waitForJudge(t, reg, "j1", time.Second)

	judge.Queue.Put(model.Task{Problem: "p", Language: "cpp", Source: "x"})
	readManifestMessage(t, jc)

	if err := jc.WriteMsg(proto.DataError); err != nil {
		t.Fatalf("write data_error tag: %v", err)
	}
	if err := jc.WriteStr("checksum mismatch"); err != nil {
		t.Fatalf("write reason: %v", err)
	}

	outcome := recvString(t, sink.finished, time.Second, "data_error outcome")
	if outcome != "data_error" {
		t.Fatalf("outcome = %s, want data_error", outcome)
	}
	if len(web.Events) != 1 || web.Events[0].Kind != "error" {
		t.Fatalf("web events = %v, want one 'error' event", web.Events)
	}

	// Session continues: registry still has j1.
	if !reg.Contains("j1") {
		t.Fatal("j1 should still be registered after a per-task data error")
	}
}

// Scenario 5 (spec.md §8): mid-task disconnect requeues the in-flight
// task exactly once and removes the judge from the registry.
func TestScenario5MidTaskDisconnectRequeues(t *testing.T) {
	dataDir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dataDir, "p"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dataDir, "p", "a.in"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	reg := registry.New()
	shared := queue.New[model.Task]()
	web := webapi.NewFake()
	web.SetQueryList(nil)
	sink := newEventRecorder()

	serverConn, judgeConn := net.Pipe()
	defer serverConn.Close()

	driver := New(wire.New(serverConn), reg, shared, web, sink, testConfig(dataDir))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go driver.Run(ctx)

	jc := wire.New(judgeConn)
	sendHello(t, jc, "j1", proto.Version, []string{"cpp"})
	if tag, err := jc.ReadMsg(0); err != nil || tag != proto.ConnectOK {
		t.Fatalf("expected CONNECT_OK, got tag=%d err=%v", tag, err)
	}
	recvString(t, sink.connected, time.Second, "judge connected event")
	judge := waitForJudge(t, reg, "j1", time.Second)

	task := model.Task{Problem: "p", Language: "cpp", Source: "x"}
	judge.Queue.Put(task)

	readManifestMessage(t, jc)
	if err := jc.WriteMsg(proto.DataOK); err != nil {
		t.Fatalf("write data_ok: %v", err)
	}
	if err := jc.WriteU32(0); err != nil {
		t.Fatalf("write ncase: %v", err)
	}
	if startTag, err := jc.ReadMsg(0); err != nil || startTag != proto.StartJudge {
		t.Fatalf("expected START_JUDGE, got tag=%d err=%v", startTag, err)
	}
	for i := 0; i < 4; i++ {
		if _, err := jc.ReadStr(0); err != nil {
			t.Fatalf("read start_judge field %d: %v", i, err)
		}
	}

	// The judge disconnects instead of replying START_JUDGE_OK.
	judgeConn.Close()

	recvString(t, sink.disconnected, time.Second, "judge disconnected event")

	got, ok := shared.Get(context.Background(), time.Second)
	if !ok {
		t.Fatal("expected the in-flight task to be requeued onto the shared queue")
	}
	if got != task {
		t.Fatalf("requeued task = %+v, want %+v", got, task)
	}
	if reg.Contains("j1") {
		t.Fatal("j1 should be removed from the registry after a mid-task disconnect")
	}
}

// Scenario: id too long is rejected before the judge ever enters the
// registry (spec.md §3 invariant, §4.7 step 2).
func TestHandshakeRejectsOverlongID(t *testing.T) {
	dataDir := t.TempDir()
	reg := registry.New()
	shared := queue.New[model.Task]()
	web := webapi.NewFake()
	sink := newEventRecorder()

	serverConn, judgeConn := net.Pipe()
	defer serverConn.Close()
	defer judgeConn.Close()

	cfg := testConfig(dataDir)
	cfg.IDMaxLen = 4
	driver := New(wire.New(serverConn), reg, shared, web, sink, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go driver.Run(ctx)

	jc := wire.New(judgeConn)
	sendHello(t, jc, "way-too-long-id", proto.Version, nil)

	tag, err := jc.ReadMsg(0)
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if tag != proto.IDTooLong {
		t.Fatalf("expected ID_TOO_LONG, got tag %d", tag)
	}
	if reg.Contains("way-too-long-id") {
		t.Fatal("overlong id must never enter the registry")
	}
}

// Scenario: protocol version mismatch is terminal and the judge never
// enters the registry (spec.md §3 invariant).
func TestHandshakeRejectsVersionMismatch(t *testing.T) {
	dataDir := t.TempDir()
	reg := registry.New()
	shared := queue.New[model.Task]()
	web := webapi.NewFake()
	sink := newEventRecorder()

	serverConn, judgeConn := net.Pipe()
	defer serverConn.Close()
	defer judgeConn.Close()

	driver := New(wire.New(serverConn), reg, shared, web, sink, testConfig(dataDir))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go driver.Run(ctx)

	jc := wire.New(judgeConn)
	sendHello(t, jc, "j1", 0x1, []string{"cpp"})

	tag, err := jc.ReadMsg(0)
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if tag != proto.Error {
		t.Fatalf("expected ERROR, got tag %d", tag)
	}
	if reg.Contains("j1") {
		t.Fatal("j1 must not remain registered after a version mismatch")
	}
}
