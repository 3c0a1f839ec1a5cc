// Package main provides the opsflow worker: it consumes trigger events, resumes
// delayed runs and recovers runs abandoned by dead workers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/opsflow/pkg/cmd"
	"github.com/dukex/opsflow/pkg/eventbus"
	"github.com/dukex/opsflow/pkg/log"
	"github.com/dukex/opsflow/pkg/otelhelper"
	"github.com/dukex/opsflow/pkg/workflow"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

const serviceName = "opsflow-worker"

func main() {
	command := &cli.Command{
		Name:                  serviceName,
		EnableShellCompletion: true,
		Usage:                 "Execute, resume and recover workflow runs",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.DurationFlag{
				Name:    "resume-interval",
				Usage:   "How often due WAITING runs are resumed",
				Value:   5 * time.Second,
				Sources: cli.EnvVars("RESUME_INTERVAL"),
			},
			&cli.DurationFlag{
				Name:    "recovery-interval",
				Usage:   "How often stale RUNNING runs are looked for",
				Value:   time.Minute,
				Sources: cli.EnvVars("RECOVERY_INTERVAL"),
			},
			&cli.DurationFlag{
				Name:    "stale-after",
				Usage:   "Heartbeat age after which a RUNNING run is recovered; keep it above the longest step timeout",
				Value:   5 * time.Minute,
				Sources: cli.EnvVars("STALE_AFTER"),
			},
			&cli.IntFlag{
				Name:    "resume-batch",
				Usage:   "Runs resumed or recovered per tick",
				Value:   workflow.DefaultBatchSize,
				Sources: cli.EnvVars("RESUME_BATCH"),
			},
			&cli.IntFlag{
				Name:    "concurrency",
				Usage:   "Runs advanced in parallel per tick",
				Value:   workflow.DefaultConcurrency,
				Sources: cli.EnvVars("WORKER_CONCURRENCY"),
			},
			&cli.StringFlag{
				Name:    "seed-definitions",
				Usage:   "Directory whose definitions/*.yaml are copied into the store at startup",
				Sources: cli.EnvVars("SEED_DEFINITIONS"),
			},
		}, cmd.EngineFlags()...),
		Action: run,
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	_, err := log.Setup(command.String("log-level"), command.String("log-format"))
	if err != nil {
		return err
	}

	workerID := command.String("worker-id")
	if workerID == "" {
		workerID = "worker-" + uuid.NewString()[:8]
	}

	logger := log.WithModule(serviceName).With("worker_id", workerID)

	logger.InfoContext(ctx, "Initializing opsflow worker")

	shutdown, err := otelhelper.Setup(ctx, serviceName, command.Bool("otel-enabled"))
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}

	defer func() {
		err := shutdown(context.WithoutCancel(ctx))
		if err != nil {
			logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
		}
	}()

	engine, err := cmd.NewEngine(ctx, logger, cmd.EngineConfigFromCommand(serviceName, workerID, command))
	if err != nil {
		return err
	}
	defer engine.Close(context.WithoutCancel(ctx))

	if dir := command.String("seed-definitions"); dir != "" {
		count, err := cmd.SeedDefinitions(ctx, logger, engine.Persistence, engine.Registry, dir)
		if err != nil {
			return err
		}

		logger.InfoContext(ctx, "Seeded workflow definitions", "count", count)
	}

	batch := command.Int("resume-batch")
	concurrency := command.Int("concurrency")

	var subscriber eventbus.EventSubscriber
	if engine.EventBus != nil {
		subscriber = engine.EventBus
	}

	worker := NewWorkerManager(
		workerID,
		logger,
		subscriber,
		engine.Dispatcher,
		workflow.NewResumer(logger, engine.Orchestrator, batch, concurrency),
		workflow.NewRecovery(logger, engine.Orchestrator, command.Duration("stale-after"), batch, concurrency),
		WorkerConfig{
			ResumeInterval:   command.Duration("resume-interval"),
			RecoveryInterval: command.Duration("recovery-interval"),
		},
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return worker.Start(ctx)
}
