// Package hub broadcasts judge-cluster lifecycle events to connected
// operator dashboards over WebSocket. It mirrors the outbound event
// shape of the teacher's overseer.Client (a flat, type-tagged JSON
// envelope) but runs the server side of the connection instead of the
// client side, since here the cluster coordinator is the event source and
// operators are the subscribers.
package hub

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/orzoj-cluster/judged/internal/model"
)

// Event is the envelope broadcast to every connected dashboard.
type Event struct {
	Type           string    `json:"type"`
	CorrelationID  uuid.UUID `json:"correlation_id,omitempty"`
	JudgeID        string    `json:"judge_id,omitempty"`
	TaskProblem    string    `json:"task_problem,omitempty"`
	TaskLanguage   string    `json:"task_language,omitempty"`
	Detail         string    `json:"detail,omitempty"`
	ThroughputKBps float64   `json:"throughput_kbps,omitempty"`
	TS             time.Time `json:"ts"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub fans Events out to every currently-connected WebSocket client. The
// zero value is not usable; construct with New.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]chan Event
}

// New returns an empty Hub.
func New() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]chan Event)}
}

// Broadcast fans ev out to every connected client. Slow clients are
// dropped rather than allowed to block the broadcaster.
func (h *Hub) Broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.clients {
		select {
		case ch <- ev:
		default:
			log.Printf("hub: dropping slow client %s", conn.RemoteAddr())
			delete(h.clients, conn)
			close(ch)
			conn.Close()
		}
	}
}

// ServeHTTP upgrades the request to a WebSocket and streams Events to it
// until the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("hub: upgrade: %v", err)
		return
	}

	ch := make(chan Event, 64)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
	}()

	for ev := range ch {
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}
}

// SessionSink adapts Hub to session.EventSink.
type SessionSink struct{ Hub *Hub }

func (s SessionSink) JudgeConnected(judgeID string, answers map[string]string) {
	detail, _ := json.Marshal(answers)
	s.Hub.Broadcast(Event{Type: "judge_connected", JudgeID: judgeID, Detail: string(detail), TS: time.Now()})
}

func (s SessionSink) JudgeHandshakeFailed(judgeID, reason string) {
	s.Hub.Broadcast(Event{Type: "judge_handshake_failed", JudgeID: judgeID, Detail: reason, TS: time.Now()})
}

func (s SessionSink) JudgeDisconnected(judgeID string) {
	s.Hub.Broadcast(Event{Type: "judge_disconnected", JudgeID: judgeID, TS: time.Now()})
}

func (s SessionSink) TaskFinished(judgeID string, task model.Task, outcome string) {
	s.Hub.Broadcast(Event{
		Type: "task_finished", JudgeID: judgeID,
		TaskProblem: task.Problem, TaskLanguage: task.Language,
		Detail: outcome, TS: time.Now(),
	})
}

func (s SessionSink) DataTransferred(judgeID string, task model.Task, kbPerSec float64) {
	s.Hub.Broadcast(Event{
		Type: "data_transferred", CorrelationID: task.CorrelationID, JudgeID: judgeID,
		TaskProblem: task.Problem, TaskLanguage: task.Language,
		ThroughputKBps: kbPerSec, TS: time.Now(),
	})
}

// DispatchSink adapts Hub to dispatch.EventSink.
type DispatchSink struct{ Hub *Hub }

func (s DispatchSink) TaskDispatched(correlationID uuid.UUID, task model.Task, judgeID string) {
	s.Hub.Broadcast(Event{
		Type: "task_dispatched", CorrelationID: correlationID, JudgeID: judgeID,
		TaskProblem: task.Problem, TaskLanguage: task.Language, TS: time.Now(),
	})
}

func (s DispatchSink) NoJudgeQualifies(task model.Task) {
	s.Hub.Broadcast(Event{
		Type: "no_judge_qualifies", TaskProblem: task.Problem, TaskLanguage: task.Language, TS: time.Now(),
	})
}
