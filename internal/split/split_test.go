package split

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallyline/tallyline/pkg/types"
)

func lanes(skus ...string) []types.ActiveAssignment {
	out := make([]types.ActiveAssignment, len(skus))
	for i, sku := range skus {
		out[i] = types.ActiveAssignment{MachineID: "T1.2-M01", LaneID: i + 1, ProductSKU: sku}
	}
	return out
}

func TestSplit_SingleLaneTakesAll(t *testing.T) {
	shares := Split(7, lanes("SKU-A"), nil)
	require.Len(t, shares, 1)
	assert.Equal(t, 1, shares[0].LaneID)
	assert.Equal(t, "SKU-A", shares[0].SKU)
	assert.Equal(t, 7, shares[0].Count)
}

func TestSplit_EvenTwoLanes(t *testing.T) {
	shares := Split(2, lanes("SKU-A", "SKU-B"), nil)
	require.Len(t, shares, 2)
	assert.Equal(t, 1, shares[0].Count)
	assert.Equal(t, 1, shares[1].Count)
	assert.Equal(t, "SKU-A", shares[0].SKU)
	assert.Equal(t, "SKU-B", shares[1].SKU)
}

func TestSplit_RemainderToFirstLane(t *testing.T) {
	shares := Split(1, lanes("SKU-A", "SKU-B"), nil)
	require.Len(t, shares, 1, "zero share for lane B must be dropped")
	assert.Equal(t, "SKU-A", shares[0].SKU)
	assert.Equal(t, 1, shares[0].Count)

	shares = Split(5, lanes("SKU-A", "SKU-B"), nil)
	require.Len(t, shares, 2)
	assert.Equal(t, 3, shares[0].Count)
	assert.Equal(t, 2, shares[1].Count)
}

func TestSplit_ExplicitLaneNoSplitting(t *testing.T) {
	lane := 2
	shares := Split(4, lanes("SKU-A", "SKU-B"), &lane)
	require.Len(t, shares, 1)
	assert.Equal(t, 2, shares[0].LaneID)
	assert.Equal(t, "SKU-B", shares[0].SKU)
	assert.Equal(t, 4, shares[0].Count)
}

func TestSplit_ExplicitUnassignedLaneDegradesToUnknown(t *testing.T) {
	lane := 9
	shares := Split(3, lanes("SKU-A", "SKU-B"), &lane)
	require.Len(t, shares, 1)
	assert.Equal(t, 9, shares[0].LaneID)
	assert.Equal(t, types.UnknownSKU, shares[0].SKU)
	assert.Equal(t, 3, shares[0].Count)
}

func TestSplit_ZeroAndNegativePulse(t *testing.T) {
	assert.Empty(t, Split(0, lanes("SKU-A"), nil))
	assert.Empty(t, Split(-1, lanes("SKU-A", "SKU-B"), nil))
}

func TestSplit_Conservation(t *testing.T) {
	// Sum of shares must equal the pulse count for every count/lane shape.
	for laneCount := 1; laneCount <= 6; laneCount++ {
		skus := make([]string, laneCount)
		for i := range skus {
			skus[i] = "SKU"
		}
		assignments := lanes(skus...)
		for pulse := 0; pulse <= 50; pulse++ {
			shares := Split(pulse, assignments, nil)
			assert.Equal(t, pulse, Total(shares), "pulse=%d lanes=%d", pulse, laneCount)
			for _, s := range shares {
				assert.Greater(t, s.Count, 0, "zero shares must be dropped")
			}
		}
	}
}
