// Package adminhttp exposes a small operator surface: a health check, a
// point-in-time judge registry snapshot, and the admin WebSocket feed
// upgrade endpoint. Routing follows the teacher's router.go (vanilla
// net/http, Go 1.22+ method-prefixed patterns).
package adminhttp

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/orzoj-cluster/judged/internal/hub"
	"github.com/orzoj-cluster/judged/internal/registry"
)

// Deps holds the dependencies the admin surface reads from.
type Deps struct {
	Registry   *registry.Registry
	Hub        *hub.Hub // nil → /admin/feed is not registered
	AdminToken string
}

// New builds the admin HTTP handler. Every route except /healthz requires
// the admin bearer token.
func New(d Deps) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", healthz)

	guard := requireToken(d.AdminToken)
	mux.Handle("GET /admin/judges", guard(http.HandlerFunc(judges(d))))
	if d.Hub != nil {
		mux.Handle("GET /admin/feed", guard(http.HandlerFunc(d.Hub.ServeHTTP)))
	}

	return mux
}

func healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type judgeView struct {
	ID                 string    `json:"id"`
	LanguagesSupported []string  `json:"languages_supported"`
	QueueLength        int       `json:"queue_length"`
	ConnectedAt        time.Time `json:"connected_at"`
}

func judges(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot := d.Registry.Snapshot()
		views := make([]judgeView, 0, len(snapshot))
		for _, j := range snapshot {
			langs := make([]string, 0, len(j.LanguagesSupported))
			for l := range j.LanguagesSupported {
				langs = append(langs, l)
			}
			views = append(views, judgeView{
				ID:                 j.ID,
				LanguagesSupported: langs,
				QueueLength:        j.Queue.Len(),
				ConnectedAt:        j.ConnectedAt,
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(views)
	}
}
