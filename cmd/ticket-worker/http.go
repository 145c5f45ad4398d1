package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/vnahornyi/check-uz-tickets/config"
	"github.com/vnahornyi/check-uz-tickets/internal/queue/notifyqueue"
	"github.com/vnahornyi/check-uz-tickets/internal/services/reconciler"
	"github.com/vnahornyi/check-uz-tickets/internal/services/trackworker"
)

type workerHTTPOpts struct {
	httpAddr    string
	swaggerPath string
	onListen    func(httpAddr string)

	worker     *trackworker.Worker
	reconciler *reconciler.Reconciler
	queue      *notifyqueue.Queue
	cfg        *config.Config
}

func runWorkerHTTPServer(ctx context.Context, opts workerHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8082"
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		out := map[string]any{}
		if opts.worker != nil {
			out["worker"] = opts.worker.Stats()
		}
		if opts.reconciler != nil {
			out["reconciler"] = opts.reconciler.Stats()
		}
		_ = json.NewEncoder(w).Encode(out)
	})

	// Диагностика очереди уведомлений: read-only, состояние не трогает.
	r.Get("/counts", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.queue == nil {
			_, _ = w.Write([]byte(`{"error":"queue not wired"}`))
			return
		}
		counts, err := opts.queue.Counts(r.Context())
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		_ = json.NewEncoder(w).Encode(counts)
	})

	r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.cfg == nil {
			_, _ = w.Write([]byte(`{"error":"config not wired"}`))
			return
		}
		// Секреты не отдаём; только операционные настройки воркера.
		out := map[string]any{
			"trackIntervalSeconds":  opts.cfg.Tracker.TrackIntervalSeconds,
			"resetNotifiedHours":    opts.cfg.Tracker.ResetNotifiedHours,
			"absentCooldownMinutes": opts.cfg.Tracker.AbsentCooldownMinutes,
			"workerConcurrency":     opts.cfg.Tracker.WorkerConcurrency,
			"rateLimitPerMinute":    opts.cfg.Tracker.WorkerRateLimitPerMinute,
			"checkerNavAttempts":    opts.cfg.Tracker.CheckerNavAttempts,
		}
		_ = json.NewEncoder(w).Encode(out)
	})

	r.Post("/trigger", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.reconciler == nil {
			_, _ = w.Write([]byte(`{"error":"reconciler not wired"}`))
			return
		}
		opts.reconciler.Trigger()
		_, _ = w.Write([]byte(`{"triggered":true}`))
	})

	// Swagger поднимаем только если файл задан (cachebuster как в остальных сервисах).
	if opts.swaggerPath != "" {
		r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			http.ServeFile(w, r, opts.swaggerPath)
		})

		swaggerURL := "/swagger.json"
		if fi, err := os.Stat(opts.swaggerPath); err == nil {
			swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
		}
		r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))
	}

	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	return srv.Serve(lis)
}
