package sync

import (
	"reflect"
	"testing"
)

func TestCompareClocksEqual(t *testing.T) {
	a := map[string]int64{"A": 1, "B": 2}
	b := map[string]int64{"A": 1, "B": 2}
	if got := CompareClocks(a, b); got != OrderEqual {
		t.Errorf("expected equal, got %s", got)
	}
	// A clock compared against itself is never concurrent.
	if got := CompareClocks(a, a); got != OrderEqual {
		t.Errorf("self comparison: expected equal, got %s", got)
	}
}

func TestCompareClocksDominance(t *testing.T) {
	a := map[string]int64{"A": 2, "B": 1}
	b := map[string]int64{"A": 1, "B": 1}
	if got := CompareClocks(a, b); got != OrderGreater {
		t.Errorf("expected greater, got %s", got)
	}
	if got := CompareClocks(b, a); got != OrderLess {
		t.Errorf("expected less, got %s", got)
	}
}

func TestCompareClocksAbsentKeysDefaultZero(t *testing.T) {
	a := map[string]int64{"A": 1}
	b := map[string]int64{}
	if got := CompareClocks(a, b); got != OrderGreater {
		t.Errorf("expected greater, got %s", got)
	}
	// Zero-valued coordinates carry no information.
	c := map[string]int64{"A": 1, "B": 0}
	if got := CompareClocks(a, c); got != OrderEqual {
		t.Errorf("expected equal with explicit zero, got %s", got)
	}
}

func TestCompareClocksConcurrent(t *testing.T) {
	a := map[string]int64{"A": 1, "B": 0}
	b := map[string]int64{"A": 0, "B": 1}
	if got := CompareClocks(a, b); got != OrderConcurrent {
		t.Errorf("expected concurrent, got %s", got)
	}
	if got := CompareClocks(b, a); got != OrderConcurrent {
		t.Errorf("expected concurrent (symmetric), got %s", got)
	}
}

func TestCompareClocksTransitivity(t *testing.T) {
	// Dominance is a partial order: A > B and B > C implies A > C.
	a := map[string]int64{"A": 3, "B": 3}
	b := map[string]int64{"A": 2, "B": 3}
	c := map[string]int64{"A": 2, "B": 1}
	if CompareClocks(a, b) != OrderGreater || CompareClocks(b, c) != OrderGreater {
		t.Fatal("test premise broken: expected a > b > c")
	}
	if got := CompareClocks(a, c); got != OrderGreater {
		t.Errorf("transitivity violated: expected greater, got %s", got)
	}
}

func TestMergeClocks(t *testing.T) {
	a := map[string]int64{"A": 1, "B": 0}
	b := map[string]int64{"A": 0, "B": 1}
	merged := MergeClocks(a, b)
	want := map[string]int64{"A": 1, "B": 1}
	if !reflect.DeepEqual(merged, want) {
		t.Errorf("merged = %v, want %v", merged, want)
	}
}

func TestMergeClocksIdempotent(t *testing.T) {
	a := map[string]int64{"A": 4, "B": 2}
	merged := MergeClocks(a, a)
	if CompareClocks(merged, a) != OrderEqual {
		t.Errorf("merging a clock with itself should be equal, got %v", merged)
	}
}
