// File: cmd/serve.go
package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/pilot-engine/internal/api"
	"github.com/xkilldash9x/pilot-engine/internal/observability"
)

func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the decision engine HTTP API",
		Long: `Starts the HTTP API used by browser runners: session start, decide, report
and verify, plus operator endpoints for sessions, routing and the model catalog.
The model catalog is refreshed in the background.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}
			return runServe(ctx, cfg.Server().ListenAddr, observability.GetLogger())
		},
	}
	serveCmd.Flags().StringP("listen", "l", "", "listen address (overrides server.listen_addr)")
	return serveCmd
}

// runServe starts the API and the catalog refresher and blocks until ctx is
// cancelled or either of them fails.
func runServe(ctx context.Context, addr string, logger *zap.Logger) error {
	cfg, err := configFromContext(ctx)
	if err != nil {
		return err
	}
	comps, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer comps.Shutdown()

	handlers := api.NewHandlers(logger, comps.engine, comps.evaluator, comps.tracker, comps.optimizer, comps.refresher)
	serverCfg := cfg.Server()
	serverCfg.ListenAddr = addr
	server := api.NewServer(serverCfg, handlers, comps.registry, logger)

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Catalog().Enabled {
		g.Go(func() error {
			if err := comps.refresher.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	} else {
		logger.Info("Catalog refresh disabled; routing uses configured and cached models only")
	}
	g.Go(func() error {
		return server.Run(gctx)
	})

	logger.Info("Decision engine ready", zap.String("address", addr), zap.String("version", Version))
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Decision engine stopped.")
	return nil
}
