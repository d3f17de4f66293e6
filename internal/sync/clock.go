// Package sync implements the multi-device synchronization engine: vector
// clock conflict detection for entries and last-write-wins resolution for
// memories and tags.
package sync

// Ordering is the causal relationship between two vector clocks.
type Ordering int

const (
	// OrderEqual: the clocks are identical as maps.
	OrderEqual Ordering = iota
	// OrderGreater: the first clock dominates the second.
	OrderGreater
	// OrderLess: the second clock dominates the first.
	OrderLess
	// OrderConcurrent: neither clock dominates; the edits happened
	// independently and must be merged.
	OrderConcurrent
)

func (o Ordering) String() string {
	switch o {
	case OrderEqual:
		return "equal"
	case OrderGreater:
		return "greater"
	case OrderLess:
		return "less"
	default:
		return "concurrent"
	}
}

// CompareClocks classifies the relationship between two vector clocks.
// Absent device coordinates default to zero.
func CompareClocks(a, b map[string]int64) Ordering {
	aGreater := false
	bGreater := false

	for device, av := range a {
		bv := b[device]
		if av > bv {
			aGreater = true
		} else if av < bv {
			bGreater = true
		}
	}
	for device, bv := range b {
		if _, seen := a[device]; seen {
			continue
		}
		if bv > 0 {
			bGreater = true
		}
	}

	switch {
	case aGreater && bGreater:
		return OrderConcurrent
	case aGreater:
		return OrderGreater
	case bGreater:
		return OrderLess
	default:
		return OrderEqual
	}
}

// MergeClocks combines two vector clocks coordinate-wise by taking the max
// per device. Merging a clock with itself yields an equal clock.
func MergeClocks(a, b map[string]int64) map[string]int64 {
	merged := make(map[string]int64, len(a)+len(b))
	for device, v := range a {
		merged[device] = v
	}
	for device, v := range b {
		if v > merged[device] {
			merged[device] = v
		}
	}
	return merged
}
