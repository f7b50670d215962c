package commands

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const initDockerTimeout = 60 * time.Second

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	var skipValkey bool

	cmd := &cobra.Command{
		Use:   "init [project-name]",
		Short: "Initialize a new Tallyline project",
		Long:  "Creates project scaffolding and optionally starts a local Valkey container.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(args[0], skipValkey)
		},
	}

	cmd.Flags().BoolVar(&skipValkey, "skip-valkey", false, "Skip starting Valkey container")
	return cmd
}

func runInit(projectName string, skipValkey bool) error {
	bold := color.New(color.Bold)

	_, _ = bold.Printf("Initializing Tallyline project: %s\n", projectName)

	if err := os.MkdirAll(projectName, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", projectName, err)
	}

	configPath := filepath.Join(projectName, "tallyline.yaml")
	configContent := `provider: redis
redis:
  addr: localhost:6379
  keyPrefix: "tallyline:"
server:
  addr: ":3000"
reconcile:
  mode: sync
sweep:
  intervalSeconds: 30
anomaly:
  gapFactor: 1.6
  burstWindowSeconds: 2
  burstMinCount: 3
  defaultCycleSeconds: 60
alerts:
  - type: console
machines:
  - machineId: T1.2-M01
    name: Example press
    laneCount: 2
    expectedCycleSeconds: 90
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	color.Green("  ✓ Project scaffolded")

	if !skipValkey {
		if err := startValkey(); err != nil {
			color.Yellow("  ⚠ Valkey setup skipped: %v", err)
			color.Yellow("    Run manually: docker run -d --name tallyline-valkey -p 6379:6379 valkey/valkey:8")
		} else {
			color.Green("  ✓ Valkey container started")
		}
	} else {
		color.Yellow("  → Valkey setup skipped (--skip-valkey)")
	}

	fmt.Println()
	_, _ = bold.Println("Next steps:")
	fmt.Printf("  cd %s\n", projectName)
	fmt.Println("  tallyline serve")
	fmt.Println(`  curl -X POST localhost:3000/api/set-product -d '{"machine_id":"T1.2-M01","lane_id":1,"product_sku":"WIDGET-A"}'`)
	fmt.Println(`  curl -X POST localhost:3000/api/alarm -d '{"machine_id":"T1.2-M01"}'`)
	return nil
}

func startValkey() error {
	if _, err := exec.LookPath("docker"); err != nil {
		return fmt.Errorf("docker not found in PATH")
	}

	checkCmd := exec.Command("docker", "inspect", "tallyline-valkey")
	if checkCmd.Run() == nil {
		startCmd := exec.Command("docker", "start", "tallyline-valkey")
		if err := startCmd.Run(); err != nil {
			return fmt.Errorf("starting existing container: %w", err)
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), initDockerTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "docker", "run", "-d",
		"--name", "tallyline-valkey",
		"-p", "6379:6379",
		"valkey/valkey:8",
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	return cmd.Run()
}
