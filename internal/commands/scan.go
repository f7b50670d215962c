package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tallyline/tallyline/internal/anomaly"
	"github.com/tallyline/tallyline/internal/config"
	"github.com/tallyline/tallyline/internal/store"
	"github.com/tallyline/tallyline/pkg/types"
)

const scanWindow = 500

// NewScanCmd creates the scan command.
func NewScanCmd() *cobra.Command {
	var machineID string

	cmd := &cobra.Command{
		Use:   "scan [machine-id]",
		Short: "Scan production logs for anomalies",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				machineID = args[0]
			}
			return runScan(machineID)
		},
	}
	return cmd
}

func runScan(machineID string) error {
	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	st, err := newStore(context.Background(), cfg)
	if err != nil {
		return fmt.Errorf("creating store: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := st.Start(ctx); err != nil {
		return fmt.Errorf("connecting to store: %w", err)
	}
	defer func() { _ = st.Stop(ctx) }()

	var machines []types.Machine
	if machineID != "" {
		m, err := st.GetMachine(ctx, machineID)
		if err != nil {
			return fmt.Errorf("getting machine %s: %w", machineID, err)
		}
		machines = []types.Machine{*m}
	} else {
		machines, err = st.ListMachines(ctx)
		if err != nil {
			return fmt.Errorf("listing machines: %w", err)
		}
	}

	if len(machines) == 0 {
		fmt.Println("No machines registered.")
		return nil
	}

	baseCfg := anomalyConfig(cfg)
	defaultCycle := time.Duration(0)
	if cfg.Anomaly != nil && cfg.Anomaly.DefaultCycleSeconds > 0 {
		defaultCycle = time.Duration(cfg.Anomaly.DefaultCycleSeconds) * time.Second
	}

	total := 0
	for _, m := range machines {
		findings, err := scanMachine(ctx, st, m, baseCfg, defaultCycle)
		if err != nil {
			return err
		}
		printFindings(m.MachineID, findings)
		total += len(findings)
	}

	fmt.Println()
	if total == 0 {
		color.Green("No anomalies found across %d machine(s)", len(machines))
	} else {
		color.Yellow("%d anomaly finding(s) across %d machine(s)", total, len(machines))
	}
	return nil
}

func scanMachine(ctx context.Context, st store.Store, m types.Machine, cfg anomaly.Config, defaultCycle time.Duration) ([]types.Anomaly, error) {
	if m.ExpectedCycleSeconds > 0 {
		cfg.ExpectedCycle = time.Duration(m.ExpectedCycleSeconds) * time.Second
	} else {
		cfg.ExpectedCycle = defaultCycle
	}

	entries, err := st.ListLogEntries(ctx, m.MachineID, scanWindow)
	if err != nil {
		return nil, fmt.Errorf("listing log entries for %s: %w", m.MachineID, err)
	}
	return anomaly.Scan(m.MachineID, entries, cfg), nil
}

func printFindings(machineID string, findings []types.Anomaly) {
	bold := color.New(color.Bold)
	_, _ = bold.Printf("%s\n", machineID)

	if len(findings) == 0 {
		fmt.Printf("  %s\n", color.GreenString("clean"))
		return
	}
	for _, a := range findings {
		kindStr := color.YellowString(string(a.Kind))
		if a.Kind == types.AnomalyClockInvalid {
			kindStr = color.RedString(string(a.Kind))
		}
		fmt.Printf("  %-14s %s .. %s  %s\n",
			kindStr,
			a.WindowStart.Format(time.RFC3339),
			a.WindowEnd.Format(time.RFC3339),
			a.Detail)
	}
}
