// Command localops-worker consumes runs.execute messages and drives
// approved runs through the sandbox to completion.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/localops/localops/internal/adapter/apievents"
	lonats "github.com/localops/localops/internal/adapter/nats"
	"github.com/localops/localops/internal/adapter/otel"
	"github.com/localops/localops/internal/adapter/postgres"
	"github.com/localops/localops/internal/config"
	"github.com/localops/localops/internal/logger"
	"github.com/localops/localops/internal/port/messagequeue"
	"github.com/localops/localops/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logCfg := cfg.Logging
	logCfg.Service = logCfg.Service + "-worker"
	slog.SetDefault(logger.New(logCfg))

	slog.Info("config loaded",
		"nats_url", cfg.NATS.URL,
		"sandbox_image", cfg.Sandbox.Image,
		"artifact_root", cfg.Artifact.Root,
	)

	ctx := context.Background()

	shutdownMetrics, err := otel.InitMeterProvider(ctx, logCfg.Service)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() { _ = shutdownMetrics(context.Background()) }()

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	queue, err := lonats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()

	// --- Orchestrator ---

	store := postgres.NewStore(pool)
	sink := apievents.NewClient(cfg.API.BaseURL, cfg.API.Key)
	runner := service.NewDockerRunner()
	artifacts := service.NewArtifactWriter(cfg.Artifact.Root, store)
	orch := service.NewOrchestrator(store, sink, runner, artifacts, cfg.Sandbox.Image, metrics)

	// A malformed payload is logged and acked, never NAKed: redelivery
	// cannot fix it and would poison the consumer.
	handler := func(ctx context.Context, subject string, data []byte) error {
		if err := messagequeue.Validate(subject, data); err != nil {
			slog.Error("dropping invalid message", "subject", subject, "error", err)
			return nil
		}
		var payload messagequeue.ExecuteRunPayload
		if err := json.Unmarshal(data, &payload); err != nil || payload.RunID == "" {
			slog.Error("dropping malformed execute payload", "error", err)
			return nil
		}
		orch.ExecuteRun(ctx, payload.RunID)
		return nil
	}

	unsubscribe, err := queue.Subscribe(ctx, messagequeue.SubjectRunExecute, handler)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer unsubscribe()

	slog.Info("worker started", "subject", messagequeue.SubjectRunExecute)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)
	<-done

	slog.Info("shutting down worker")
	if err := queue.Drain(); err != nil {
		slog.Error("queue drain failed", "error", err)
	}
	return nil
}
