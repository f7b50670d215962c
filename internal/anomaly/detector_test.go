package anomaly

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallyline/tallyline/pkg/types"
)

var base = time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)

func entriesAt(offsets ...time.Duration) []types.ProductionLogEntry {
	out := make([]types.ProductionLogEntry, len(offsets))
	for i, off := range offsets {
		out[i] = types.ProductionLogEntry{
			MachineID: "T1.2-M01",
			EventTime: base.Add(off),
			Count:     1,
		}
	}
	return out
}

func cfg() Config {
	return Config{ExpectedCycle: 5 * time.Minute}
}

func TestScan_SteadyStreamIsClean(t *testing.T) {
	entries := entriesAt(0, 5*time.Minute, 10*time.Minute, 15*time.Minute)
	assert.Empty(t, Scan("T1.2-M01", entries, cfg()))
}

func TestScan_MissedCycle(t *testing.T) {
	// 20 minute hole against a 5 minute cycle with factor 1.6 (8m threshold).
	entries := entriesAt(0, 5*time.Minute, 25*time.Minute, 30*time.Minute)
	anomalies := Scan("T1.2-M01", entries, cfg())
	require.Len(t, anomalies, 1)
	assert.Equal(t, types.AnomalyMissedCycle, anomalies[0].Kind)
	assert.Equal(t, base.Add(5*time.Minute), anomalies[0].WindowStart)
	assert.Equal(t, base.Add(25*time.Minute), anomalies[0].WindowEnd)
}

func TestScan_BufferedBurstReclassifiesGap(t *testing.T) {
	// 40 minute gap, then 5 entries inside 2 seconds: a controller flushing
	// its buffer after reconnection, not lost production.
	entries := entriesAt(
		0,
		40*time.Minute,
		40*time.Minute+400*time.Millisecond,
		40*time.Minute+800*time.Millisecond,
		40*time.Minute+1200*time.Millisecond,
		40*time.Minute+1600*time.Millisecond,
	)
	anomalies := Scan("T1.2-M01", entries, cfg())
	require.Len(t, anomalies, 1)
	assert.Equal(t, types.AnomalyBufferedBurst, anomalies[0].Kind)
	assert.Equal(t, base, anomalies[0].WindowStart)
	assert.Equal(t, base.Add(40*time.Minute), anomalies[0].WindowEnd)
}

func TestScan_ShortBurstStaysMissedCycle(t *testing.T) {
	// Only two rapid entries after the gap: under the burst minimum.
	entries := entriesAt(
		0,
		40*time.Minute,
		40*time.Minute+time.Second,
	)
	anomalies := Scan("T1.2-M01", entries, cfg())
	require.Len(t, anomalies, 1)
	assert.Equal(t, types.AnomalyMissedCycle, anomalies[0].Kind)
}

func TestScan_ClockInvalidRuns(t *testing.T) {
	entries := entriesAt(0, 5*time.Minute, 10*time.Minute, 15*time.Minute)
	entries[1].ClockCorrected = true
	entries[2].ClockCorrected = true

	anomalies := Scan("T1.2-M01", entries, cfg())
	require.Len(t, anomalies, 1)
	assert.Equal(t, types.AnomalyClockInvalid, anomalies[0].Kind)
	assert.Equal(t, entries[1].EventTime, anomalies[0].WindowStart)
	assert.Equal(t, entries[2].EventTime, anomalies[0].WindowEnd)
	assert.Contains(t, anomalies[0].Detail, "2 entries")
}

func TestScan_ClockInvalidIndependentOfGaps(t *testing.T) {
	entries := entriesAt(0, 25*time.Minute)
	entries[0].ClockCorrected = true

	anomalies := Scan("T1.2-M01", entries, cfg())
	require.Len(t, anomalies, 2)
	assert.Equal(t, types.AnomalyMissedCycle, anomalies[0].Kind)
	assert.Equal(t, types.AnomalyClockInvalid, anomalies[1].Kind)
}

func TestScan_NoCycleTimeSkipsGapAnalysis(t *testing.T) {
	entries := entriesAt(0, 3*time.Hour)
	anomalies := Scan("T1.2-M01", entries, Config{})
	assert.Empty(t, anomalies)
}
