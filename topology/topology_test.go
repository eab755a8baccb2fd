package topology

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func triangle(threshold float64) *Graph {
	g := New(threshold)
	g.AddLink(Port{DPID: 1, Number: 1}, Port{DPID: 2, Number: 1}) // A-B
	g.AddLink(Port{DPID: 2, Number: 2}, Port{DPID: 3, Number: 1}) // B-C
	g.AddLink(Port{DPID: 1, Number: 2}, Port{DPID: 3, Number: 2}) // A-C
	return g
}

func TestWeightForUtilization(t *testing.T) {
	require.Equal(t, 500.0, weightForUtilization(0, 0.9))
	require.Equal(t, 1000.0, weightForUtilization(0.9, 0.9))
	require.Equal(t, 1000.0, weightForUtilization(0.95, 0.9))
	got := weightForUtilization(0.5, 0.9)
	require.InDelta(t, 499-(0.9-0.5), got, 1e-9)
}

// Scenario 1 (spec.md §8): idle triangle, all u=0. route(A,C) should
// take the direct link both ways, with no route change.
func TestScenarioIdleTriangle(t *testing.T) {
	g := triangle(0.9)

	baseline := g.BaselinePath(1, 3)
	fplf := g.FPLFPath(1, 3, 4)

	require.True(t, baseline.Equal(fplf), "idle triangle must not reroute")
	require.Equal(t, []uint64{1, 3}, fplf.Dpids())
}

// Scenario 2 (spec.md §8): congested shortcut. u(A,C)=0.95 (>= T),
// u(A,B)=u(B,C)=0.1. A priority-4 (VIDEO) flow must reroute via B.
func TestScenarioCongestedShortcut(t *testing.T) {
	g := triangle(0.9)
	g.SetUtilization(1, 2, 0.95) // A's port toward C
	g.SetUtilization(3, 2, 0.95) // C's port toward A
	g.SetUtilization(1, 1, 0.1)  // A's port toward B
	g.SetUtilization(2, 1, 0.1)
	g.SetUtilization(2, 2, 0.1)
	g.SetUtilization(3, 1, 0.1)

	baseline := g.BaselinePath(1, 3)
	fplf := g.FPLFPath(1, 3, 4)

	require.Equal(t, []uint64{1, 3}, baseline.Dpids())
	require.Equal(t, []uint64{1, 2, 3}, fplf.Dpids())
	require.False(t, baseline.Equal(fplf), "route_changed must be true")
}

// Scenario 3 (spec.md §8): priority inversion. Low utilisation direct
// link beats a pair of moderately-loaded links even at low priority.
func TestScenarioPriorityInversion(t *testing.T) {
	g := triangle(0.9)
	g.SetUtilization(1, 2, 0.02)
	g.SetUtilization(3, 2, 0.02)
	g.SetUtilization(1, 1, 0.5)
	g.SetUtilization(2, 1, 0.5)
	g.SetUtilization(2, 2, 0.5)
	g.SetUtilization(3, 1, 0.5)

	baseline := g.BaselinePath(1, 3)
	fplf := g.FPLFPath(1, 3, 1) // FTP, priority 1

	require.True(t, baseline.Equal(fplf), "low priority must not be rerouted off a lightly used direct link")
	require.Equal(t, []uint64{1, 3}, fplf.Dpids())
}

func TestAdjustedWeightScalesByPriority(t *testing.T) {
	cases := []struct {
		priority int
		scale    float64
	}{
		{1, 1.0},
		{2, 0.75},
		{3, 0.5},
		{4, 0.25},
		{0, 1.0}, // UNKNOWN behaves like priority 1
	}
	for _, c := range cases {
		got := AdjustedWeight(500, c.priority)
		require.InDelta(t, 500*c.scale, got, 1e-9)
	}
}

func TestEmptyGraphNoRoute(t *testing.T) {
	g := New(0.9)
	g.AddSwitch(1)
	g.AddSwitch(2)
	path := g.FPLFPath(1, 2, 1)
	require.Nil(t, path)
}

func TestRemoveLinkInvalidatesPath(t *testing.T) {
	g := triangle(0.9)
	g.RemoveLink(1, 3)

	fplf := g.FPLFPath(1, 3, 1)
	require.Equal(t, []uint64{1, 2, 3}, fplf.Dpids(), "must route around the removed direct link")
}

func TestSnapshotIsStableUnderConcurrentReads(t *testing.T) {
	g := triangle(0.9)
	snap1 := g.Snapshot()
	g.SetUtilization(1, 1, 0.3)
	snap2 := g.Snapshot()

	if diff := cmp.Diff(snap1, snap2); diff == "" {
		t.Fatal("expected snapshots to differ after a utilization update")
	}
}

func TestMonitorFirstSampleIsZero(t *testing.T) {
	g := New(0.9)
	g.AddLink(Port{DPID: 1, Number: 1}, Port{DPID: 2, Number: 1})
	mon := NewMonitor(g, 1.0)

	mon.Sample(1, 1, 1000, 0, 100)
	snap := g.Snapshot()
	require.Len(t, snap.Links, 1)
	require.Equal(t, 0.0, snap.Links[0].Utilization)

	// Second sample establishes a delta.
	mon.Sample(1, 1, 1000+12_500_000, 0, 100) // 12.5MB over 1s => 100Mbps on a 100Mbps link => u=1
	snap = g.Snapshot()
	require.InDelta(t, 1.0, snap.Links[0].Utilization, 1e-6)
}
