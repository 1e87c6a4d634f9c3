// Command switchboard runs the Switchboard: the single ingress every
// connector submits to, which dedupes, triages, classifies, and routes
// envelopes to the butler fleet (spec.md §1, §4.3).
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

	"github.com/butlerhub/switchboard/common/environment"
	"github.com/butlerhub/switchboard/common/version"
	"github.com/butlerhub/switchboard/internal/config"
	"github.com/butlerhub/switchboard/internal/control"
	"github.com/butlerhub/switchboard/internal/dedupe"
	"github.com/butlerhub/switchboard/internal/envelope"
	"github.com/butlerhub/switchboard/internal/llm"
	"github.com/butlerhub/switchboard/internal/mcp"
	"github.com/butlerhub/switchboard/internal/mcpserver"
	"github.com/butlerhub/switchboard/internal/observability"
	"github.com/butlerhub/switchboard/internal/registry"
	"github.com/butlerhub/switchboard/internal/store"
	"github.com/butlerhub/switchboard/internal/switchboard"
)

func main() {
	observability.Setup(environment.StringOr("LOG_LEVEL", "info"), environment.StringOr("LOG_FORMAT", "text"))
	slog.Info("switchboard starting", "version", version.Version)

	cfgPath := environment.StringOr("SWITCHBOARD_CONFIG", "/etc/switchboard/switchboard.toml")
	cfg, err := config.LoadSwitchboard(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	st, err := store.Open(environment.StringOr("DATABASE_DSN", cfg.DatabaseDSN))
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	validator, err := envelope.NewValidator()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build envelope validator: %v\n", err)
		os.Exit(1)
	}

	reg := registry.New(st)
	entries := make([]store.ButlerRegistration, 0, len(cfg.Butlers))
	for _, b := range cfg.Butlers {
		entries = append(entries, store.ButlerRegistration{Name: b.Name, EndpointURL: b.EndpointURL, Description: b.Description, Modules: b.Modules})
	}
	if err := reg.Discover(context.Background(), entries); err != nil {
		fmt.Fprintf(os.Stderr, "discover butlers: %v\n", err)
		os.Exit(1)
	}

	dial := func(endpoint string) *mcp.Client { return mcp.NewClient(endpoint, 30*time.Second) }
	provider := llm.NewFromEnv(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model)
	classifier := switchboard.NewClassifier(provider, reg, st, dial)
	router := switchboard.NewRouter(reg, st, dial)
	dedupeCore := dedupe.New(st.DB())

	pipeline := &switchboard.Pipeline{
		Dedupe:     dedupeCore,
		Store:      st,
		Classifier: classifier,
	}

	ingress := switchboard.NewIngressServer(pipeline, reg, validator)

	routeServer := mcpserver.New("switchboard", st, nil, nil, nil, router, nil)

	mux := http.NewServeMux()
	ingress.Mount(mux)
	mux.Handle("/mcp", routeServer)

	addr := fmt.Sprintf(":%d", cfg.Port)
	if cfg.Port == 0 {
		addr = environment.StringOr("SWITCHBOARD_ADDR", ":8780")
	}
	httpServer := &http.Server{Addr: addr, Handler: mux, ReadTimeout: 30 * time.Second, WriteTimeout: 30 * time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		slog.Info("switchboard listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("switchboard http server error", "err", err)
		}
	}()

	controlServer := control.New(environment.StringOr("CONTROL_ADDR", cfg.ControlAddr), control.Handlers{
		Name:      "switchboard",
		Version:   version.Version,
		StartedAt: time.Now(),
	})
	if err := controlServer.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "start control server: %v\n", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	slog.Info("switchboard shutting down")

	cancel()
	controlServer.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
}
