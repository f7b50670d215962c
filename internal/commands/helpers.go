// Package commands implements the CLI subcommands for the tallyline binary.
package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tallyline/tallyline/internal/anomaly"
	"github.com/tallyline/tallyline/internal/store"
	ddbstore "github.com/tallyline/tallyline/internal/store/dynamodb"
	pgstore "github.com/tallyline/tallyline/internal/store/postgres"
	redisstore "github.com/tallyline/tallyline/internal/store/redis"
	"github.com/tallyline/tallyline/internal/sweeper"
	"github.com/tallyline/tallyline/pkg/types"
)

// newStore creates the configured storage backend.
func newStore(ctx context.Context, cfg *types.ProjectConfig) (store.Store, error) {
	switch cfg.Provider {
	case "redis":
		rc, ok := cfg.Redis.(*redisstore.Config)
		if !ok || rc == nil {
			return nil, fmt.Errorf("redis config is required when provider is redis")
		}
		return redisstore.New(rc), nil
	case "dynamodb":
		dc, ok := cfg.DynamoDB.(*ddbstore.Config)
		if !ok || dc == nil {
			return nil, fmt.Errorf("dynamodb config is required when provider is dynamodb")
		}
		return ddbstore.New(dc)
	case "postgres":
		pc, ok := cfg.Postgres.(*pgstore.Config)
		if !ok || pc == nil {
			return nil, fmt.Errorf("postgres config is required when provider is postgres")
		}
		return pgstore.New(ctx, pc.DSN)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

// seedMachines registers the machines listed in tallyline.yaml. Existing
// registrations are overwritten; the registry is declarative config, not
// state.
func seedMachines(ctx context.Context, st store.Store, machines []types.Machine) error {
	for _, m := range machines {
		existing, err := st.GetMachine(ctx, m.MachineID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("checking machine %s: %w", m.MachineID, err)
		}
		if existing != nil {
			m.CreatedAt = existing.CreatedAt
		} else {
			m.CreatedAt = time.Now().UTC()
		}
		if err := st.RegisterMachine(ctx, m); err != nil {
			return fmt.Errorf("registering machine %s: %w", m.MachineID, err)
		}
	}
	return nil
}

// anomalyConfig translates the yaml anomaly section into detector thresholds.
func anomalyConfig(cfg *types.ProjectConfig) anomaly.Config {
	out := anomaly.Config{}
	if cfg.Anomaly == nil {
		return out
	}
	out.GapFactor = cfg.Anomaly.GapFactor
	if cfg.Anomaly.BurstWindowSeconds > 0 {
		out.BurstWindow = time.Duration(cfg.Anomaly.BurstWindowSeconds) * time.Second
	}
	out.BurstMinCount = cfg.Anomaly.BurstMinCount
	return out
}

// sweeperConfig translates the yaml sweep/anomaly sections.
func sweeperConfig(cfg *types.ProjectConfig) sweeper.Config {
	out := sweeper.Config{Anomaly: anomalyConfig(cfg)}
	if cfg.Sweep != nil {
		if cfg.Sweep.IntervalSeconds > 0 {
			out.Interval = time.Duration(cfg.Sweep.IntervalSeconds) * time.Second
		}
		out.Concurrency = cfg.Sweep.MachineConcurrency
		out.ScanWindow = cfg.Sweep.ScanWindow
	}
	if cfg.Anomaly != nil && cfg.Anomaly.DefaultCycleSeconds > 0 {
		out.DefaultCycle = time.Duration(cfg.Anomaly.DefaultCycleSeconds) * time.Second
	}
	return out
}
