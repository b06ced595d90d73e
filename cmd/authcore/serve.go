package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pyroalert/authcore/httpapi"
	promexport "github.com/pyroalert/authcore/metrics/export/prometheus"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		dev           bool
		addr          string
		sweepInterval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if dev && cfg.StorageDriver == "postgres" {
				return errDevStorage
			}
			if addr != "" {
				cfg.HTTPAddr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := bootstrap(ctx, cfg, dev)
			if err != nil {
				return err
			}
			defer rt.Close()

			deps := httpapi.Deps{
				Engine:         rt.engine,
				Logger:         rt.logger,
				CORSOrigins:    cfg.CORSOrigins(),
				RequestTimeout: cfg.Timeout(),
				TrustProxy:     cfg.TrustProxy,
			}
			if cfg.MetricsEnabled {
				deps.Metrics = promexport.NewPrometheusExporter(rt.engine).Handler()
			}
			srv, err := httpapi.New(deps)
			if err != nil {
				return err
			}

			if sweepInterval > 0 {
				go runSweeper(ctx, rt, sweepInterval)
			}
			return srv.ListenAndServe(ctx, cfg.HTTPAddr)
		},
	}

	cmd.Flags().BoolVar(&dev, "dev", false, "use an in-memory redis instead of configured storage")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides HTTP_ADDR)")
	cmd.Flags().DurationVar(&sweepInterval, "sweep-interval", time.Hour, "interval for deleting expired refresh tokens, 0 disables")
	return cmd
}

func runSweeper(ctx context.Context, rt *runtime, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := rt.engine.SweepExpiredTokens(ctx)
			if err != nil {
				rt.logger.Warn("refresh token sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				rt.logger.Info("expired refresh tokens deleted", zap.Int("count", n))
			}
		}
	}
}
