// Copyright 2024-2026 Aiku AI

package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.mau.fi/util/exzerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aiku/spacebar-bridge/pkg/config"
	"github.com/aiku/spacebar-bridge/pkg/pairstore"
)

func newRunCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start relaying messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup(flags)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log.Info().
				Str("version", Tag).
				Str("commit", Commit).
				Str("built", BuildTime).
				Int("bridges", len(cfg.Bridges)).
				Msg("Starting spacebar-bridge")
			err = run(ctx, cfg, *log)
			if err != nil {
				log.WithLevel(zerolog.FatalLevel).Err(err).Msg("Bridge stopped with error")
				return err
			}
			log.Info().Msg("Bridge stopped")
			return nil
		},
	}
}

func newSweepCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired message pairs from both stores and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup(flags)
			if err != nil {
				return err
			}
			return sweep(cmd.Context(), cfg, *log)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "spacebar-bridge %s (commit %s, built %s)\n", Tag, Commit, BuildTime)
		},
	}
}

func newExampleConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "example-config",
		Short: "Print the example config",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprint(cmd.OutOrStdout(), config.ExampleConfig)
		},
	}
}

func setup(flags *rootFlags) (*config.Config, *zerolog.Logger, error) {
	cfg, err := config.Load(flags.configPath, !flags.noUpdate)
	if err != nil {
		return nil, nil, err
	}
	log, err := cfg.Logging.Compile()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	exzerolog.SetupDefaults(log)
	return cfg, log, nil
}

func sweep(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	stores, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer stores.close(log)

	var errs []error
	for _, named := range stores.all() {
		sweeper, err := newSweeper(cfg, named, log)
		if err != nil {
			return err
		}
		if !sweeper.Enabled() {
			log.Info().Str("store", named.name).Msg("Cleanup is disabled, nothing to sweep")
			continue
		}
		result, err := sweeper.RunOnce(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s store: %w", named.name, err))
			continue
		}
		log.Info().Str("store", named.name).Int("removed", result.Total()).Msg("Sweep finished")
	}
	return errors.Join(errs...)
}

func newSweeper(cfg *config.Config, named namedStore, log zerolog.Logger) (*pairstore.Sweeper, error) {
	sweeper, err := pairstore.NewSweeper(named.store, named.name, pairstore.SweeperOptions{
		CleanupDays:      cfg.Database.CleanupDays,
		PairLifetimeDays: cfg.Database.PairLifetimeDays,
		Cron:             cfg.Database.CleanupCron,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s sweeper: %w", named.name, err)
	}
	return sweeper, nil
}

// runAll runs fns until the first error or until all return.
func runAll(ctx context.Context, fns ...func(context.Context) error) error {
	eg, egCtx := errgroup.WithContext(ctx)
	for _, fn := range fns {
		eg.Go(func() error { return fn(egCtx) })
	}
	return eg.Wait()
}
