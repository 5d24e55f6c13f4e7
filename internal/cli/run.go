package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/park285/cheese-lichess-bot/internal/botbuilder"
	"github.com/park285/cheese-lichess-bot/internal/obslog"
)

func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Listen for challenges and play games until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runBot(ctx, rootOpts)
		},
	}
}

func runBot(ctx context.Context, opts *RootOptions) error {
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	deps, err := botbuilder.New(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Warn("shutdown_close_failed", zap.Error(err))
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return deps.Dispatcher.Listen(gctx) })
	if deps.Challenger != nil {
		g.Go(func() error { return deps.Challenger.Run(gctx) })
	}

	logger.Info("bot_started")
	err = g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		logger.Info("bot_stopped")
		return nil
	}
	return err
}
