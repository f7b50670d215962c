package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tallyline/tallyline/internal/commands"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "tallyline",
		Short: "Production-event ingestion and stock-ledger reconciliation",
		Long: `Tallyline ingests raw pulse counts from factory-floor machine controllers,
resolves the product being produced per lane, splits multi-lane counts,
persists each signal exactly once, and propagates signed inventory deltas
into an append-only stock ledger. Duplicate deliveries, buffered uploads,
and drifting device clocks are tolerated without double-counting.`,
		Version: version,
	}

	root.AddCommand(
		commands.NewInitCmd(),
		commands.NewServeCmd(),
		commands.NewSweepCmd(),
		commands.NewScanCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
