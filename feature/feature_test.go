package feature

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ofcontrol/fplf/capture"
)

func writeSnapshot(t *testing.T, dir string, name string, packets []capture.Packet) string {
	t.Helper()
	b, err := json.Marshal(packets)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, b, 0o644))
	return path
}

func TestAggregatorGroupsBothDirectionsIntoOneFlow(t *testing.T) {
	agg := NewAggregator()
	agg.Add(capture.Packet{Timestamp: 100, SrcIP: "10.0.0.1", DstIP: "10.0.0.2", SrcPort: 5000, DstPort: 80, Protocol: "tcp", Length: 60})
	agg.Add(capture.Packet{Timestamp: 101, SrcIP: "10.0.0.2", DstIP: "10.0.0.1", SrcPort: 80, DstPort: 5000, Protocol: "tcp", Length: 1400})
	agg.Add(capture.Packet{Timestamp: 102, SrcIP: "10.0.0.1", DstIP: "10.0.0.2", SrcPort: 5000, DstPort: 80, Protocol: "tcp", Length: 60})

	rows := agg.Rows()
	require.Len(t, rows, 1, "both directions of the conversation must collapse to a single flow")

	r := rows[0]
	require.Equal(t, 3, r.TotalPackets)
	require.Equal(t, 2, r.FwdPackets)
	require.Equal(t, 1, r.BwdPackets)
	require.Equal(t, int64(1400), r.BwdBytes)
	require.Equal(t, float64(2), r.DurationSecs)
}

func TestAggregatorSkipsPacketsWithoutIPLayer(t *testing.T) {
	agg := NewAggregator()
	agg.Add(capture.Packet{Timestamp: 1, Protocol: "unknown", Length: 60})
	require.Empty(t, agg.Rows())
}

func TestFlowWithOnePacketStillEmitsARow(t *testing.T) {
	agg := NewAggregator()
	agg.Add(capture.Packet{Timestamp: 1, SrcIP: "10.0.0.1", DstIP: "10.0.0.2", SrcPort: 1, DstPort: 2, Protocol: "udp", Length: 40})

	rows := agg.Rows()
	require.Len(t, rows, 1)
	require.Equal(t, 1, rows[0].TotalPackets)
	require.Zero(t, rows[0].SizeStd)
	require.Zero(t, rows[0].IAMean)
}

func TestExtractFilesIngestsSnapshotsInOrder(t *testing.T) {
	dir := t.TempDir()
	first := writeSnapshot(t, dir, "captured_packets_1.json", []capture.Packet{
		{Timestamp: 1, SrcIP: "10.0.0.1", DstIP: "10.0.0.2", SrcPort: 1, DstPort: 2, Protocol: "tcp", Length: 60},
	})
	second := writeSnapshot(t, dir, "captured_packets_2.json", []capture.Packet{
		{Timestamp: 2, SrcIP: "10.0.0.2", DstIP: "10.0.0.1", SrcPort: 2, DstPort: 1, Protocol: "tcp", Length: 80},
	})

	rows, err := ExtractFiles([]string{first, second})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, 2, rows[0].TotalPackets)
}

func TestDirectionalSizeAndInterArrivalStatsAreComputedSeparately(t *testing.T) {
	agg := NewAggregator()
	// forward: 100,104 (ia=4); backward: 101,103 (ia=2); merged ia would
	// sort to 100,101,103,104 (deltas 1,2,1) and must not leak into the
	// per-direction fields.
	agg.Add(capture.Packet{Timestamp: 100, SrcIP: "10.0.0.1", DstIP: "10.0.0.2", SrcPort: 5000, DstPort: 80, Protocol: "tcp", Length: 60})
	agg.Add(capture.Packet{Timestamp: 101, SrcIP: "10.0.0.2", DstIP: "10.0.0.1", SrcPort: 80, DstPort: 5000, Protocol: "tcp", Length: 1000})
	agg.Add(capture.Packet{Timestamp: 103, SrcIP: "10.0.0.2", DstIP: "10.0.0.1", SrcPort: 80, DstPort: 5000, Protocol: "tcp", Length: 2000})
	agg.Add(capture.Packet{Timestamp: 104, SrcIP: "10.0.0.1", DstIP: "10.0.0.2", SrcPort: 5000, DstPort: 80, Protocol: "tcp", Length: 100})

	rows := agg.Rows()
	require.Len(t, rows, 1)
	r := rows[0]

	require.Equal(t, float64(60), r.FwdSizeMin)
	require.Equal(t, float64(100), r.FwdSizeMax)
	require.Equal(t, float64(1000), r.BwdSizeMin)
	require.Equal(t, float64(2000), r.BwdSizeMax)

	require.Equal(t, float64(4), r.FwdIAMean)
	require.Equal(t, float64(4), r.FwdIAMin)
	require.Equal(t, float64(4), r.FwdIAMax)
	require.Equal(t, float64(2), r.BwdIAMean)
	require.Equal(t, float64(2), r.BwdIAMin)
	require.Equal(t, float64(2), r.BwdIAMax)

	require.InDelta(t, 4.0/3.0, r.IAMean, 1e-9, "the overall ia_mean still merges both directions")
	require.Equal(t, float64(1), r.IAMin)
	require.Equal(t, float64(2), r.IAMax)
}

func TestCanonicalKeyIsOrderIndependent(t *testing.T) {
	kFwd, fwd := canonicalKey("10.0.0.1", 100, "10.0.0.2", 200, "tcp")
	kBwd, bwd := canonicalKey("10.0.0.2", 200, "10.0.0.1", 100, "tcp")
	require.Equal(t, kFwd, kBwd)
	require.True(t, fwd)
	require.False(t, bwd)
}
