// Package anomaly implements the read-only anomaly scan over a machine's
// production log stream. The scan is a pure function of the ordered log
// slice: it holds no state, is safe to re-run, and its findings are
// advisory only.
package anomaly

import (
	"fmt"
	"time"

	"github.com/tallyline/tallyline/pkg/types"
)

// Config holds the scan thresholds.
type Config struct {
	// ExpectedCycle is the nominal inter-pulse interval for the machine.
	ExpectedCycle time.Duration
	// GapFactor scales ExpectedCycle into the missed-cycle threshold.
	GapFactor float64
	// BurstWindow is the inter-arrival ceiling that counts toward a burst.
	BurstWindow time.Duration
	// BurstMinCount is the minimum run length that reclassifies the
	// preceding gap as a buffered upload.
	BurstMinCount int
}

// Defaults for unset Config fields.
const (
	DefaultGapFactor     = 1.6
	DefaultBurstWindow   = 2 * time.Second
	DefaultBurstMinCount = 3
)

func (c Config) withDefaults() Config {
	if c.GapFactor <= 0 {
		c.GapFactor = DefaultGapFactor
	}
	if c.BurstWindow <= 0 {
		c.BurstWindow = DefaultBurstWindow
	}
	if c.BurstMinCount <= 0 {
		c.BurstMinCount = DefaultBurstMinCount
	}
	return c
}

// Scan walks entries (ordered by event time) and reports anomalies.
//
// A gap wider than ExpectedCycle×GapFactor is a MissedCycle — unless it is
// immediately followed by BurstMinCount or more entries packed inside
// BurstWindow of each other. A burst like that is a controller flushing its
// buffer after reconnecting: the data exists, only the timestamps are
// upload-time, so the gap is reported as BufferedBurst instead.
//
// Runs of clock-corrected entries are reported as ClockInvalid, one anomaly
// per run, independent of the gap analysis.
func Scan(machineID string, entries []types.ProductionLogEntry, cfg Config) []types.Anomaly {
	cfg = cfg.withDefaults()

	var anomalies []types.Anomaly
	anomalies = append(anomalies, scanGaps(machineID, entries, cfg)...)
	anomalies = append(anomalies, scanClock(machineID, entries)...)
	return anomalies
}

func scanGaps(machineID string, entries []types.ProductionLogEntry, cfg Config) []types.Anomaly {
	if cfg.ExpectedCycle <= 0 || len(entries) < 2 {
		return nil
	}
	threshold := time.Duration(float64(cfg.ExpectedCycle) * cfg.GapFactor)

	var out []types.Anomaly
	for i := 1; i < len(entries); i++ {
		gap := entries[i].EventTime.Sub(entries[i-1].EventTime)
		if gap <= threshold {
			continue
		}

		kind := types.AnomalyMissedCycle
		detail := fmt.Sprintf("gap %s exceeds %s", gap.Round(time.Second), threshold.Round(time.Second))
		if n := burstLength(entries, i, cfg.BurstWindow); n >= cfg.BurstMinCount {
			kind = types.AnomalyBufferedBurst
			detail = fmt.Sprintf("%d entries within %s after a %s gap; timestamps are upload-time", n, cfg.BurstWindow, gap.Round(time.Second))
		}
		out = append(out, types.Anomaly{
			MachineID:   machineID,
			Kind:        kind,
			WindowStart: entries[i-1].EventTime,
			WindowEnd:   entries[i].EventTime,
			Detail:      detail,
		})
	}
	return out
}

// burstLength counts the run of entries starting at index start whose
// inter-arrival stays under window. The entry ending the gap counts as the
// first element of the run.
func burstLength(entries []types.ProductionLogEntry, start int, window time.Duration) int {
	n := 1
	for i := start + 1; i < len(entries); i++ {
		if entries[i].EventTime.Sub(entries[i-1].EventTime) >= window {
			break
		}
		n++
	}
	return n
}

func scanClock(machineID string, entries []types.ProductionLogEntry) []types.Anomaly {
	var out []types.Anomaly
	for i := 0; i < len(entries); {
		if !entries[i].ClockCorrected {
			i++
			continue
		}
		j := i
		for j < len(entries) && entries[j].ClockCorrected {
			j++
		}
		out = append(out, types.Anomaly{
			MachineID:   machineID,
			Kind:        types.AnomalyClockInvalid,
			WindowStart: entries[i].EventTime,
			WindowEnd:   entries[j-1].EventTime,
			Detail:      fmt.Sprintf("%d entries stored with corrected timestamps", j-i),
		})
		i = j
	}
	return out
}
