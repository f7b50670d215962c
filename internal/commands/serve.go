package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tallyline/tallyline/internal/alert"
	"github.com/tallyline/tallyline/internal/config"
	"github.com/tallyline/tallyline/internal/ledger"
	"github.com/tallyline/tallyline/internal/observability"
	"github.com/tallyline/tallyline/internal/pipeline"
	"github.com/tallyline/tallyline/internal/queue"
	"github.com/tallyline/tallyline/internal/server"
	"github.com/tallyline/tallyline/internal/sweeper"
	"github.com/tallyline/tallyline/pkg/types"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the Tallyline ingestion server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx := context.Background()
	logger := slog.Default()

	st, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}
	if err := st.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	if err := seedMachines(ctx, st, cfg.Machines); err != nil {
		return err
	}

	// Alerts
	dispatcher, err := alert.NewDispatcher(cfg.Alerts, logger)
	if err != nil {
		return fmt.Errorf("creating alert dispatcher: %w", err)
	}

	// Observability
	var obsCfg types.ObservabilityConfig
	if cfg.Observability != nil {
		obsCfg = *cfg.Observability
	}
	shutdownMetrics, err := observability.Init(ctx, obsCfg)
	if err != nil {
		return fmt.Errorf("initializing metrics export: %w", err)
	}

	// Ledger reconciler and ingestion pipeline
	rec := ledger.New(st)
	rec.SetLogger(logger)

	p := pipeline.New(st, rec, dispatcher.AlertFunc())
	p.SetLogger(logger)

	// Queued reconcile mode with optional SQS transport.
	var sqsQueue *queue.SQSQueue
	if cfg.Reconcile != nil && cfg.Reconcile.Mode == types.ReconcileQueued {
		var enq pipeline.Enqueuer
		if cfg.Reconcile.QueueURL != "" {
			sqsQueue, err = queue.NewSQS(ctx, cfg.Reconcile.QueueURL, cfg.Reconcile.Region)
			if err != nil {
				return fmt.Errorf("connecting to reconcile queue: %w", err)
			}
			enq = sqsQueue
		}
		p.SetReconcileMode(types.ReconcileQueued, enq)
	}

	// Sweeper
	sw := sweeper.New(st, rec, dispatcher.AlertFunc(), logger, sweeperConfig(cfg))
	if sqsQueue != nil {
		sw.SetQueue(sqsQueue)
	}
	sw.Start(ctx)

	// Server
	var srvCfg types.ServerConfig
	if cfg.Server != nil {
		srvCfg = *cfg.Server
	}
	if srvCfg.Addr == "" {
		srvCfg.Addr = ":3000"
	}
	srv := server.New(srvCfg, p, st, anomalyConfig(cfg))

	color.Green("Tallyline listening on %s (provider: %s)", srvCfg.Addr, cfg.Provider)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		color.Yellow("\nReceived %s, shutting down...", sig)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		sw.Stop(shutdownCtx)
		if err := srv.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		_ = shutdownMetrics(shutdownCtx)
		_ = st.Stop(shutdownCtx)
		color.Green("Server stopped gracefully")
		return nil
	}
}
