// Command butler runs a single butler process: its MCP tool server, its
// ephemeral session spawner, and its scheduled-task ticker, all sharing one
// Postgres schema (spec.md §1: "each butler is an independent process").
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/butlerhub/switchboard/common/environment"
	"github.com/butlerhub/switchboard/common/version"
	"github.com/butlerhub/switchboard/internal/config"
	"github.com/butlerhub/switchboard/internal/control"
	"github.com/butlerhub/switchboard/internal/mcpserver"
	"github.com/butlerhub/switchboard/internal/observability"
	"github.com/butlerhub/switchboard/internal/scheduler"
	"github.com/butlerhub/switchboard/internal/spawner"
	"github.com/butlerhub/switchboard/internal/store"
	"github.com/butlerhub/switchboard/internal/supervisor"
)

// tickInterval bounds how often the scheduler re-evaluates due tasks; cron
// specs resolve to minute resolution, so a sub-minute tick never misses a
// firing window.
const tickInterval = 15 * time.Second

func main() {
	observability.Setup(environment.StringOr("LOG_LEVEL", "info"), environment.StringOr("LOG_FORMAT", "text"))

	cfgPath := environment.StringOr("BUTLER_CONFIG", "/etc/switchboard/butler.toml")
	cfg, err := config.LoadButler(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	slog.Info("butler starting", "version", version.Version, "butler", cfg.Name)

	st, err := store.Open(environment.StringOr("DATABASE_DSN", cfg.DatabaseDSN))
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	queue, err := spawner.NewQueue(environment.StringOr("REDIS_URL", cfg.RedisURL))
	if err != nil {
		fmt.Fprintf(os.Stderr, "open queue: %v\n", err)
		os.Exit(1)
	}
	defer queue.Close()

	runtime, err := spawner.NewDockerRuntime()
	if err != nil {
		fmt.Fprintf(os.Stderr, "open docker runtime: %v\n", err)
		os.Exit(1)
	}

	metricsReg := prometheus.NewRegistry()
	metrics := spawner.NewMetrics(metricsReg)

	sp := spawner.New(queue, st, runtime, metrics)

	mcpPath := cfg.MCPPath
	if mcpPath == "" {
		mcpPath = "/mcp"
	}
	sp.Register(spawner.ButlerConfig{
		Butler:                cfg.Name,
		MaxConcurrentSessions: cfg.Spawner.MaxConcurrentSessions,
		MaxQueueDepth:         cfg.Spawner.MaxQueueDepth,
		Image:                 cfg.Spawner.Image,
		MCPEndpoint:           fmt.Sprintf("http://localhost:%d%s", cfg.Port, mcpPath),
		AllowedTools:          cfg.Spawner.AllowedTools,
	})

	if err := seedScheduledTasks(context.Background(), st, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "seed scheduled tasks: %v\n", err)
		os.Exit(1)
	}

	// dispatch_mode "job" tasks dispatch in-process domain jobs, which are
	// vertical specialist logic spec.md §1 places out of scope; passing a
	// nil JobRunner leaves those tasks failing loudly (Manager.dispatch
	// returns "no job runner configured") instead of firing silently.
	schedMgr := scheduler.NewManager(st.DB(), cfg.Name, sp, nil)

	mcpServer := mcpserver.New(cfg.Name, st, schedMgr, sp, mcpserver.NewLogNotifier(), nil, nil)

	mux := http.NewServeMux()
	mux.Handle(mcpPath, mcpServer)
	mux.Handle("/metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{ErrorHandling: promhttp.ContinueOnError}))

	addr := fmt.Sprintf(":%d", cfg.Port)
	httpServer := &http.Server{Addr: addr, Handler: mux, ReadTimeout: 30 * time.Second, WriteTimeout: 30 * time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sup := supervisor.New(
		supervisor.Unit{Name: "spawner:" + cfg.Name, Run: func(ctx context.Context) error { return sp.Run(ctx, cfg.Name) }},
		supervisor.Unit{Name: "scheduler:" + cfg.Name, Run: func(ctx context.Context) error { return tickLoop(ctx, schedMgr) }},
	)
	go sup.Run(ctx)

	go func() {
		slog.Info("butler listening", "butler", cfg.Name, "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("butler http server error", "butler", cfg.Name, "err", err)
		}
	}()

	controlServer := control.New(environment.StringOr("CONTROL_ADDR", cfg.ControlAddr), control.Handlers{
		Name:      cfg.Name,
		Version:   version.Version,
		StartedAt: time.Now(),
		QueueDepths: func() map[string]int64 {
			depth, err := queue.Depth(context.Background(), cfg.Name)
			if err != nil {
				return nil
			}
			return map[string]int64{cfg.Name: depth}
		},
	})
	if err := controlServer.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "start control server: %v\n", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	slog.Info("butler shutting down", "butler", cfg.Name)

	cancel()
	controlServer.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
}

// seedScheduledTasks creates each butler.toml-declared task on startup,
// computing its first next_run_at the same way Manager.fireOne advances a
// fired task's schedule forward. A task whose name already exists (a
// restart, not a first boot) is left untouched.
func seedScheduledTasks(ctx context.Context, st *store.Store, cfg config.Butler) error {
	for _, t := range cfg.ScheduledTasks {
		sched, err := scheduler.ParseSpec(t.Spec)
		if err != nil {
			return fmt.Errorf("scheduled task %q: %w", t.Name, err)
		}
		id, err := scheduler.NewTaskID()
		if err != nil {
			return fmt.Errorf("mint task id for %q: %w", t.Name, err)
		}
		next := sched.Next(time.Now())
		rec := store.ScheduledTask{
			ID:           id,
			Name:         t.Name,
			Spec:         t.Spec,
			DispatchMode: store.DispatchMode(t.DispatchMode),
			Enabled:      true,
		}
		if t.Prompt != "" {
			rec.Prompt.String, rec.Prompt.Valid = t.Prompt, true
		}
		if t.JobName != "" {
			rec.JobName.String, rec.JobName.Valid = t.JobName, true
		}
		if !next.IsZero() {
			rec.NextRunAt.Time, rec.NextRunAt.Valid = next, true
		}
		if err := st.CreateScheduledTask(ctx, cfg.Name, rec); err != nil {
			slog.Warn("seed scheduled task: skipping (likely already exists)", "butler", cfg.Name, "task", t.Name, "err", err)
		}
	}
	return nil
}

func tickLoop(ctx context.Context, mgr *scheduler.Manager) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := mgr.Tick(ctx); err != nil {
				slog.Error("scheduler: tick failed", "err", err)
			}
		}
	}
}
