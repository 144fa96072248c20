package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"backup-sentinel/internal/listener"
	"backup-sentinel/internal/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Consume backup-ready messages and run the detection pipeline",
	Long: `Run the long-lived worker. Backup-ready messages are pulled from the
configured Pub/Sub subscription and each one is driven through export
confirmation, inspection, compromise verification and restoration.

The Prometheus endpoint is served when metrics.enabled is set. SIGINT or
SIGTERM stops pulling; events already in flight are finished first.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Errorf("Startup failed: %v", err)
		return err
	}
	defer a.Close()

	if !cfg.PubSub.Enabled && !cfg.Metrics.Enabled {
		logger.Warn("neither pubsub nor metrics is enabled, nothing to serve")
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.ListenAddress, a.registry)
		g.Go(func() error {
			logger.Infof("Serving metrics on %s", cfg.Metrics.ListenAddress)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if cfg.PubSub.Enabled {
		source, err := listener.NewPubSubSource(ctx, cfg.PubSub.PubSubConfig)
		if err != nil {
			stop()
			g.Wait()
			return err
		}
		l := listener.New(source, a.orchestrator, cfg.PubSub.Config, a.metrics, logger)
		g.Go(func() error {
			return l.Run(gctx)
		})
	}

	err = g.Wait()
	logger.Info("Shutdown complete")
	return err
}
