package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/park285/cheese-lichess-bot/internal/botbuilder"
	"github.com/park285/cheese-lichess-bot/internal/obslog"
)

const checkTimeout = 15 * time.Second

func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the token, the engine and the cooldown store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), checkTimeout)
			defer cancel()
			return runCheck(ctx, rootOpts, cmd.OutOrStdout())
		},
	}
}

func runCheck(ctx context.Context, opts *RootOptions, out io.Writer) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	deps, err := botbuilder.New(cfg, obslog.L())
	if err != nil {
		return err
	}
	defer deps.Close()

	failed := 0
	report := func(name string, err error, detail string) {
		if err != nil {
			failed++
			fmt.Fprintf(out, "%-8s FAIL %v\n", name, err)
			return
		}
		fmt.Fprintf(out, "%-8s ok   %s\n", name, detail)
	}

	acc, err := deps.Client.Account(ctx)
	if err != nil {
		report("account", err, "")
	} else {
		report("account", nil, acc.Username)
	}
	report("engine", deps.CheckEngine(ctx), cfg.EngineMode+"/"+deps.Engine.Preset().Name)
	report("store", deps.Cooldown.Ping(ctx), fmt.Sprintf("%T", deps.Cooldown))

	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}
