package commands

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallyline/tallyline/internal/testutil"
	"github.com/tallyline/tallyline/pkg/types"
)

func TestSeedMachinesPreservesCreatedAt(t *testing.T) {
	st := testutil.NewMockStore()
	ctx := context.Background()

	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, st.RegisterMachine(ctx, types.Machine{
		MachineID: "T1.2-M01",
		LaneCount: 1,
		CreatedAt: created,
	}))

	seed := []types.Machine{
		{MachineID: "T1.2-M01", LaneCount: 2, ExpectedCycleSeconds: 90},
		{MachineID: "T1.2-M02", LaneCount: 1},
	}
	require.NoError(t, seedMachines(ctx, st, seed))

	m1, err := st.GetMachine(ctx, "T1.2-M01")
	require.NoError(t, err)
	assert.Equal(t, 2, m1.LaneCount, "seed overwrites lane layout")
	assert.Equal(t, created, m1.CreatedAt, "seed keeps original registration time")

	m2, err := st.GetMachine(ctx, "T1.2-M02")
	require.NoError(t, err)
	assert.False(t, m2.CreatedAt.IsZero())
}

func TestSweeperConfigTranslation(t *testing.T) {
	cfg := &types.ProjectConfig{
		Sweep: &types.SweepConfig{
			IntervalSeconds:    45,
			MachineConcurrency: 8,
			ScanWindow:         200,
		},
		Anomaly: &types.AnomalyConfig{
			GapFactor:           2.0,
			BurstWindowSeconds:  3,
			BurstMinCount:       5,
			DefaultCycleSeconds: 120,
		},
	}

	out := sweeperConfig(cfg)
	assert.Equal(t, 45*time.Second, out.Interval)
	assert.Equal(t, 8, out.Concurrency)
	assert.Equal(t, 200, out.ScanWindow)
	assert.Equal(t, 120*time.Second, out.DefaultCycle)
	assert.Equal(t, 2.0, out.Anomaly.GapFactor)
	assert.Equal(t, 3*time.Second, out.Anomaly.BurstWindow)
	assert.Equal(t, 5, out.Anomaly.BurstMinCount)
}

func TestSweeperConfigDefaultsWhenUnset(t *testing.T) {
	out := sweeperConfig(&types.ProjectConfig{})
	assert.Zero(t, out.Interval, "zero here; sweeper applies its own default")
	assert.Zero(t, out.Anomaly.GapFactor)
}
