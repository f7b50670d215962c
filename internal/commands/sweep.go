package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tallyline/tallyline/internal/alert"
	"github.com/tallyline/tallyline/internal/config"
	"github.com/tallyline/tallyline/internal/ledger"
	"github.com/tallyline/tallyline/internal/sweeper"
)

// NewSweepCmd creates the sweep command: a one-shot reconcile-and-scan pass,
// useful from cron or after restoring a backend from backup.
func NewSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one reconcile and anomaly-scan pass over all machines",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd.Context())
		},
	}
}

func runSweep(ctx context.Context) error {
	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.Default()

	st, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}
	if err := st.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}
	defer func() { _ = st.Stop(ctx) }()

	dispatcher, err := alert.NewDispatcher(cfg.Alerts, logger)
	if err != nil {
		return fmt.Errorf("creating alert dispatcher: %w", err)
	}

	rec := ledger.New(st)
	rec.SetLogger(logger)

	sw := sweeper.New(st, rec, dispatcher.AlertFunc(), logger, sweeperConfig(cfg))
	sw.Sweep(ctx)

	color.Green("Sweep complete")
	return nil
}
