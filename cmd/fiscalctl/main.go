package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/fiscalbridge/internal/app"
	"github.com/odyssey-erp/fiscalbridge/internal/cli"
	"github.com/odyssey-erp/fiscalbridge/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := cli.NewRootCommand(open)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fiscalctl:", err)
		stop()
		os.Exit(cli.GetExitCode(err))
	}
}

// open connects to the queue for queue-only commands and builds the full
// pipeline for inline ones.
func open(ctx context.Context, inline bool) (*cli.Env, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, err
	}
	logger := app.NewLogger(cfg)

	if inline {
		rt, err := app.Build(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return &cli.Env{Pipeline: rt.Service, Close: rt.Close}, nil
	}

	redisOpt, err := cfg.RedisOpt()
	if err != nil {
		return nil, err
	}
	client, err := jobs.NewClient(redisOpt)
	if err != nil {
		return nil, err
	}
	inspector := asynq.NewInspector(redisOpt)
	return &cli.Env{
		Queue:     client,
		Inspector: inspector,
		Close: func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
			if err := client.Close(); err != nil {
				logger.Warn("queue client close", slog.Any("error", err))
			}
		},
	}, nil
}
