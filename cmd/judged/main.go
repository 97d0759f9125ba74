package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/orzoj-cluster/judged/internal/adminhttp"
	"github.com/orzoj-cluster/judged/internal/audit"
	auditpg "github.com/orzoj-cluster/judged/internal/audit/postgres"
	"github.com/orzoj-cluster/judged/internal/config"
	"github.com/orzoj-cluster/judged/internal/dispatch"
	"github.com/orzoj-cluster/judged/internal/hub"
	"github.com/orzoj-cluster/judged/internal/model"
	"github.com/orzoj-cluster/judged/internal/queue"
	"github.com/orzoj-cluster/judged/internal/registry"
	"github.com/orzoj-cluster/judged/internal/session"
	"github.com/orzoj-cluster/judged/internal/webapi"
	"github.com/orzoj-cluster/judged/internal/webauth"
	"github.com/orzoj-cluster/judged/internal/wire"
)

var version = "dev"

func main() {
	fmt.Printf("judged %s\n", version)

	cfgPath := os.Getenv("JUDGED_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	data := cfg.Get()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Audit log (optional — graceful degradation if AUDIT_DSN not set).
	var auditLog audit.Log = audit.Nop{}
	if data.AuditDSN != "" {
		pg, err := auditpg.Open(ctx, data.AuditDSN)
		if err != nil {
			log.Fatalf("audit: %v", err)
		}
		defer pg.Close()
		auditLog = pg
		log.Println("audit: connected")
	} else {
		log.Println("audit_dsn not set; audit trail disabled")
	}

	// Admin WebSocket feed (optional).
	var h *hub.Hub
	if data.HubAddr != "" {
		h = hub.New()
	}

	// Web frontend client (required — this core cannot run without one).
	if data.WebBaseURL == "" {
		log.Fatal("web_base_url is required")
	}
	issuer := webauth.New([]byte(data.WebJWTSecret), "judged")
	webClient := webapi.NewHTTPClient(data.WebBaseURL, data.WebTimeoutDuration(), issuer)

	reg := registry.New()
	shared := queue.New[model.Task]()

	sessionSinks := session.MultiSink{audit.SessionSink{Log: auditLog}}
	dispatchSinks := dispatch.MultiSink{audit.DispatchSink{Log: auditLog}}
	if h != nil {
		sessionSinks = append(sessionSinks, hub.SessionSink{Hub: h})
		dispatchSinks = append(dispatchSinks, hub.DispatchSink{Hub: h})
	}

	fetcher := dispatch.NewFetcher(webClient, shared, data.RefreshIntervalDuration())
	dispatcher := dispatch.NewDispatcher(reg, shared, webClient, dispatchSinks)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); fetcher.Run(ctx) }()
	go func() { defer wg.Done(); dispatcher.Run(ctx) }()

	sessionCfg := session.Config{
		IDMaxLen:       data.JudgeIDMaxLen,
		DataDir:        data.DataDir,
		CompileMaxTime: data.CompileMaxTimeDuration(),
		OFTPChunkSize:  data.OFTPChunkSize,
	}

	ln, err := net.Listen("tcp", data.ListenAddr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		acceptLoop(ctx, ln, reg, shared, webClient, sessionSinks, sessionCfg)
	}()

	var adminSrv *http.Server
	if data.HubAddr != "" {
		adminSrv = &http.Server{
			Addr: data.HubAddr,
			Handler: adminhttp.New(adminhttp.Deps{
				Registry:   reg,
				Hub:        h,
				AdminToken: data.AdminToken,
			}),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Printf("admin http listening on %s", data.HubAddr)
			if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("admin http: %v", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("shutting down…")
	cancel()
	_ = ln.Close()

	if adminSrv != nil {
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := adminSrv.Shutdown(shutCtx); err != nil {
			log.Printf("admin http shutdown: %v", err)
		}
		shutCancel()
	}

	wg.Wait()
}

// acceptLoop accepts connections until ctx is cancelled or the listener is
// closed, spawning one session driver goroutine per connection.
func acceptLoop(ctx context.Context, ln net.Listener, reg *registry.Registry, shared *queue.Queue[model.Task], web webapi.Client, sink session.EventSink, cfg session.Config) {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("accept: %v", err)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			driver := session.New(wire.New(conn), reg, shared, web, sink, cfg)
			_ = driver.Run(ctx)
		}()
	}
}
