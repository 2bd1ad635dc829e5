package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"weightsvc/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// env carries what every subcommand needs once flags are parsed.
type env struct {
	v      *viper.Viper
	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	e := &env{v: config.New()}

	root := &cobra.Command{
		Use:           "weightsvc",
		Short:         "Weight measurement ingestion service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := bindFlags(e.v, cmd.Flags()); err != nil {
				return err
			}
			cfg, err := config.Load(e.v)
			if err != nil {
				return err
			}
			e.cfg = cfg
			e.logger, err = newLogger(cfg)
			if err != nil {
				return err
			}
			slog.SetDefault(e.logger)
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.String("store-driver", "", "persistence backend: postgres, sqlite or memory")
	flags.String("cache-driver", "", "cache backend: redis, memory or none")
	flags.String("log-level", "", "debug, info, warn or error")
	flags.String("log-format", "", "text or json")

	root.AddCommand(newServeCmd(e), newWorkerCmd(e), newEnqueueCmd(e))
	return root
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
}
