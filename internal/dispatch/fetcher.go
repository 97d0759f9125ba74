// Package dispatch implements the single fetcher and single dispatcher
// activities that move tasks from the web frontend onto the shared queue
// and from the shared queue onto a capable judge's assigned queue
// (spec.md §4.5, §4.6).
package dispatch

import (
	"context"
	"log"
	"time"

	"github.com/orzoj-cluster/judged/internal/model"
	"github.com/orzoj-cluster/judged/internal/queue"
	"github.com/orzoj-cluster/judged/internal/webapi"
)

// Fetcher polls the web frontend for pending tasks and pushes them onto
// the shared queue, once per RefreshInterval, until ctx is cancelled.
type Fetcher struct {
	web             webapi.Client
	shared          *queue.Queue[model.Task]
	refreshInterval time.Duration
}

// NewFetcher returns a Fetcher that polls web every refreshInterval and
// pushes fetched tasks onto shared.
func NewFetcher(web webapi.Client, shared *queue.Queue[model.Task], refreshInterval time.Duration) *Fetcher {
	return &Fetcher{web: web, shared: shared, refreshInterval: refreshInterval}
}

// Run blocks, fetching tasks until ctx is cancelled.
func (f *Fetcher) Run(ctx context.Context) {
	ticker := time.NewTicker(f.refreshInterval)
	defer ticker.Stop()

	for {
		f.drain(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// drain pulls tasks from the web frontend until it reports none pending,
// pushing each onto the shared queue (spec.md §4.5: "drain the web
// frontend synchronously … then sleep").
func (f *Fetcher) drain(ctx context.Context) {
	for {
		task, ok, err := f.web.FetchTask(ctx)
		if err != nil {
			log.Printf("dispatch: fetch task: %v", err)
			return
		}
		if !ok {
			return
		}
		f.shared.Put(task)
	}
}
