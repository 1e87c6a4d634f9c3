// Command connector runs one connector instance: it tails a source, submits
// envelopes to the Switchboard's ingress RPC surface, checkpoints its cursor,
// and heartbeats on a fixed interval (spec.md §1, §4.2). Each connector is
// its own process invocation, so it is configured entirely from the
// environment rather than a shared butler.toml-style file.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/butlerhub/switchboard/common/environment"
	"github.com/butlerhub/switchboard/common/version"
	"github.com/butlerhub/switchboard/internal/connector"
	"github.com/butlerhub/switchboard/internal/control"
	"github.com/butlerhub/switchboard/internal/observability"
)

func main() {
	observability.Setup(environment.StringOr("LOG_LEVEL", "info"), environment.StringOr("LOG_FORMAT", "text"))

	connectorType, err := environment.RequiredString("CONNECTOR_TYPE")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	endpointIdentity, err := environment.RequiredString("ENDPOINT_IDENTITY")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	sourcePath, err := environment.RequiredString("SOURCE_FILE")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	switchboardURL, err := environment.RequiredString("SWITCHBOARD_URL")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	checkpointPath := environment.StringOr("CHECKPOINT_PATH", "/var/lib/switchboard/"+connectorType+".checkpoint")

	slog.Info("connector starting", "version", version.Version, "connector_type", connectorType, "endpoint_identity", endpointIdentity)

	checkpoint, err := connector.OpenCheckpointStore(checkpointPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open checkpoint store: %v\n", err)
		os.Exit(1)
	}
	defer checkpoint.Close()

	checkpointKey := connectorType + ":" + endpointIdentity
	startCursor, err := checkpoint.Load(checkpointKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load checkpoint: %v\n", err)
		os.Exit(1)
	}

	source, err := connector.NewFileSource(sourcePath, startCursor)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open source: %v\n", err)
		os.Exit(1)
	}
	defer source.Close()

	client := connector.NewHTTPIngressClient(switchboardURL, 10*time.Second)

	rt := connector.New(connector.Config{
		ConnectorType:     connectorType,
		EndpointIdentity:  endpointIdentity,
		InstanceID:        environment.StringOr("INSTANCE_ID", connectorType+"-1"),
		Version:           version.Version,
		MaxInflight:       connector.DefaultMaxInflight,
		HeartbeatInterval: 60 * time.Second,
		RateLimit:         rate.Inf,
		CheckpointKey:     checkpointKey,
	}, source, client, checkpoint)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := rt.Run(ctx); err != nil {
			slog.Error("connector: run loop exited", "connector_type", connectorType, "err", err)
		}
	}()

	controlServer := control.New(environment.StringOr("CONTROL_ADDR", ":8790"), control.Handlers{
		Name:      connectorType,
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
	slog.Info("connector shutting down", "connector_type", connectorType)

	cancel()
	controlServer.Stop()
}
