// Package cli holds the cheese-bot command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/park285/cheese-lichess-bot/internal/config"
	"github.com/park285/cheese-lichess-bot/internal/obslog"
)

// RootOptions holds flags shared by every subcommand.
type RootOptions struct {
	ConfigFile string
	LogLevel   string

	// load is swapped in tests.
	load func() (*config.AppConfig, error)
}

var setenv = os.Setenv

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{load: config.Load}

	cmd := &cobra.Command{
		Use:           "cheese-bot",
		Short:         "Cheese lichess bot",
		Long:          "Plays lichess games as a bot account: accepts challenges, follows each game stream and answers with engine moves.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.initLogging()
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "", "YAML config overlay (same as CONFIG_FILE)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level override (debug|info|warn|error)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewCheckCommand(opts))
	return cmd
}

func (o *RootOptions) initLogging() error {
	lopts := obslog.OptionsFromEnv()
	if o.LogLevel != "" {
		lopts.Level = o.LogLevel
	}
	logger, err := obslog.Build(lopts)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	obslog.Replace(logger)
	return nil
}

// loadConfig applies --config before the environment is read.
func (o *RootOptions) loadConfig() (*config.AppConfig, error) {
	if o.ConfigFile != "" {
		if err := setenv("CONFIG_FILE", o.ConfigFile); err != nil {
			return nil, err
		}
	}
	cfg, err := o.load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	obslog.L().Info("config_loaded",
		zap.String("lichess", cfg.LichessBaseURL),
		zap.String("engine_mode", cfg.EngineMode),
		zap.String("preset", cfg.EnginePreset),
		zap.Int("max_games", cfg.MaxConcurrentGames),
		zap.Bool("random_match", cfg.AllowRandomMatch))
	return cfg, nil
}
