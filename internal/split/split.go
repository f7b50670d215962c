// Package split converts one raw pulse count into per-lane production
// shares using a snapshot of the active lane assignments.
package split

import "github.com/tallyline/tallyline/pkg/types"

// Share is one lane's portion of a raw pulse count.
type Share struct {
	LaneID int
	SKU    string
	Count  int
}

// Split divides pulseCount across the resolved lane assignments.
//
// With a single lane the whole count goes to it. With multiple lanes and no
// explicit lane from the device, the count is divided evenly with integer
// division and the remainder goes to the first lane in assignment order —
// a deterministic tie-break, not a claim about hardware semantics. When the
// device names a lane explicitly the whole count is attributed to it.
//
// Zero-count shares are dropped. The sum of returned counts always equals
// pulseCount.
func Split(pulseCount int, assignments []types.ActiveAssignment, explicitLane *int) []Share {
	if pulseCount <= 0 || len(assignments) == 0 {
		return nil
	}

	if explicitLane != nil {
		return []Share{{
			LaneID: *explicitLane,
			SKU:    skuForLane(assignments, *explicitLane),
			Count:  pulseCount,
		}}
	}

	if len(assignments) == 1 {
		a := assignments[0]
		return []Share{{LaneID: a.LaneID, SKU: a.ProductSKU, Count: pulseCount}}
	}

	per := pulseCount / len(assignments)
	rem := pulseCount % len(assignments)

	shares := make([]Share, 0, len(assignments))
	for i, a := range assignments {
		count := per
		if i == 0 {
			count += rem
		}
		if count == 0 {
			continue
		}
		shares = append(shares, Share{LaneID: a.LaneID, SKU: a.ProductSKU, Count: count})
	}
	return shares
}

// skuForLane finds the assignment for an explicitly named lane, falling back
// to the sentinel SKU when the lane carries no assignment. The count is
// still attributed rather than rejected.
func skuForLane(assignments []types.ActiveAssignment, laneID int) string {
	for _, a := range assignments {
		if a.LaneID == laneID {
			return a.ProductSKU
		}
	}
	return types.UnknownSKU
}

// Total sums the counts over a set of shares.
func Total(shares []Share) int {
	total := 0
	for _, s := range shares {
		total += s.Count
	}
	return total
}
