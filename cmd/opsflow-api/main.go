// Package main provides the opsflow API server: event dispatch and the run
// history and control endpoints.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dukex/opsflow/pkg/cmd"
	"github.com/dukex/opsflow/pkg/log"
	"github.com/dukex/opsflow/pkg/otelhelper"
	"github.com/dukex/opsflow/pkg/services"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

const (
	serviceName = "opsflow-api"
	defaultPort = 9091
)

func main() {
	command := &cli.Command{
		Name:                  serviceName,
		Usage:                 "Dispatch events and inspect workflow runs",
		EnableShellCompletion: true,
		Flags: append([]cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
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

	logger := log.WithModule("api")

	logger.InfoContext(ctx, "Initializing opsflow API")

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

	// Runs dispatched over HTTP execute in this process until they finish or suspend.
	workerID := "api-" + uuid.NewString()[:8]

	engine, err := cmd.NewEngine(ctx, logger, cmd.EngineConfigFromCommand(serviceName, workerID, command))
	if err != nil {
		return err
	}
	defer engine.Close(context.WithoutCancel(ctx))

	runs := services.NewRuns(engine.Persistence, engine.Dispatcher, engine.Orchestrator)

	err = NewAPI(logger, runs).Start(command.Int("port"))
	if err != nil {
		logger.ErrorContext(ctx, "API server stopped", "error", err)

		return err
	}

	return nil
}
