package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zeusync/crdtsync/internal/config"
	"github.com/zeusync/crdtsync/internal/core/observability/log"
	"github.com/zeusync/crdtsync/internal/injector"
)

type serveOptions struct {
	configPath string
	addr       string
}

func NewServeCommand(_ *RootOptions) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:          "serve",
		Short:        "Run the scene server",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if opts.addr != "" {
				cfg.Server.Addr = opts.addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	cmd.Flags().StringVar(&opts.addr, "addr", "", "listen address, overrides the config")

	return cmd
}

// runServe blocks until ctx is cancelled, then stops the server and persists
// every open scene.
func runServe(ctx context.Context, cfg config.Config) error {
	app, cleanup, err := injector.InitializeApp(cfg)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	defer cleanup()
	defer func() { _ = app.Logger.Sync() }()

	app.Logger.Info("Starting",
		log.String("addr", cfg.Server.Addr),
		log.Bool("shared_pool", cfg.Pool.Shared),
		log.Bool("snapshots", cfg.Snapshot.Path != ""),
		log.Any("known_components", cfg.State.KnownComponents),
		log.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout),
	)
	if err := app.Server.Start(ctx); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := app.Server.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("stop server: %w", err))
	}
	if err := app.Hub.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	app.Logger.Info("Shutdown complete", log.Int("errors", len(errs)))
	return errors.Join(errs...)
}
