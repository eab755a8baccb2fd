package installer

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ofcontrol/fplf/hostmap"
	"github.com/ofcontrol/fplf/openflow"
	"github.com/ofcontrol/fplf/topology"
)

type sentFlowMod struct {
	dpid uint64
	fm   openflow.FlowMod
}

type fakeSender struct {
	flowMods   []sentFlowMod
	packetOuts []uint64
	failOn     uint64 // dpid to always fail SendFlowMod for
	failOnceOn uint64 // dpid whose first SendFlowMod call fails, then succeeds
	attempts   map[uint64]int
}

func (f *fakeSender) SendFlowMod(_ context.Context, dpid uint64, fm openflow.FlowMod) error {
	if f.attempts == nil {
		f.attempts = make(map[uint64]int)
	}
	f.attempts[dpid]++

	if dpid == f.failOnceOn && f.attempts[dpid] == 1 {
		return context.DeadlineExceeded
	}
	if dpid == f.failOn {
		return context.DeadlineExceeded
	}
	f.flowMods = append(f.flowMods, sentFlowMod{dpid: dpid, fm: fm})
	return nil
}

func (f *fakeSender) SendPacketOut(_ context.Context, dpid uint64, _ openflow.PacketOut) error {
	f.packetOuts = append(f.packetOuts, dpid)
	return nil
}

func mac(t *testing.T, s string) net.HardwareAddr {
	t.Helper()
	m, err := net.ParseMAC(s)
	require.NoError(t, err)
	return m
}

func samplePath() topology.Path {
	return topology.Path{
		{DPID: 1, EgressPort: 1, Neighbor: 2, ReturnPort: 9},
		{DPID: 2, EgressPort: 2, Neighbor: 3, ReturnPort: 8},
	}
}

func TestInstallIssuesPacketOutThenForwardThenReverse(t *testing.T) {
	sender := &fakeSender{}
	inst := New(sender, nil)

	srcMAC := mac(t, "00:00:00:00:00:01")
	dstMAC := mac(t, "00:00:00:00:00:02")
	srcLoc := hostmap.Location{DPID: 1, Port: 5}
	dstLoc := hostmap.Location{DPID: 3, Port: 7}

	err := inst.Install(context.Background(), srcMAC, dstMAC, srcLoc, dstLoc, openflow.Match{}, samplePath(), []byte("frame"))
	require.NoError(t, err)

	require.Equal(t, []uint64{1}, sender.packetOuts)

	// 3 forward legs (hop0 at dpid 1, hop1 at dpid 2, terminal at dpid 3),
	// then 3 reverse legs (terminal at dpid 1, hop0's neighbor 2, hop1's neighbor 3).
	require.Len(t, sender.flowMods, 6)

	// Forward legs: dpid 1 (egress 1), dpid 2 (egress 2), dpid 3 (egress 7, host-facing).
	require.Equal(t, uint64(1), sender.flowMods[0].dpid)
	require.Equal(t, uint64(2), sender.flowMods[1].dpid)
	require.Equal(t, uint64(3), sender.flowMods[2].dpid)

	// Reverse legs installed in reverse order: last leg first.
	// reverseLegs = [srcLoc(dpid1,port5), hop0.Neighbor=2/ReturnPort=9, hop1.Neighbor=3/ReturnPort=8]
	// installed n=len-1..0: dpid 3 first, then dpid 2, then dpid 1.
	require.Equal(t, uint64(3), sender.flowMods[3].dpid)
	require.Equal(t, uint64(2), sender.flowMods[4].dpid)
	require.Equal(t, uint64(1), sender.flowMods[5].dpid)
}

func TestInstallStopsOnFailureAndReportsPartial(t *testing.T) {
	sender := &fakeSender{failOn: 2}
	inst := New(sender, nil)

	srcLoc := hostmap.Location{DPID: 1, Port: 5}
	dstLoc := hostmap.Location{DPID: 3, Port: 7}

	err := inst.Install(context.Background(),
		mac(t, "00:00:00:00:00:01"), mac(t, "00:00:00:00:00:02"),
		srcLoc, dstLoc, openflow.Match{}, samplePath(), []byte("frame"))
	require.Error(t, err)
	require.Len(t, sender.flowMods, 1, "only the first forward leg should have succeeded")
	require.Equal(t, 2, sender.attempts[2], "a failing flow_mod must be retried exactly once before giving up")
}

func TestInstallRetriesOnceThenSucceeds(t *testing.T) {
	sender := &fakeSender{failOnceOn: 2}
	inst := New(sender, nil)

	srcLoc := hostmap.Location{DPID: 1, Port: 5}
	dstLoc := hostmap.Location{DPID: 3, Port: 7}

	err := inst.Install(context.Background(),
		mac(t, "00:00:00:00:00:01"), mac(t, "00:00:00:00:00:02"),
		srcLoc, dstLoc, openflow.Match{}, samplePath(), []byte("frame"))
	require.NoError(t, err, "a flow_mod that succeeds on retry must not fail the whole install")
	require.Len(t, sender.flowMods, 6, "all legs must eventually be installed once the retry succeeds")
	require.Equal(t, 3, sender.attempts[2], "dpid 2 must have been attempted three times: the failing send plus its retry, then its reverse leg")
}

func TestRerouteDeletesOldOnlyEgress(t *testing.T) {
	sender := &fakeSender{}
	inst := New(sender, nil)

	oldPath := topology.Path{
		{DPID: 1, EgressPort: 1, Neighbor: 4, ReturnPort: 9},
		{DPID: 4, EgressPort: 2, Neighbor: 3, ReturnPort: 8},
	}
	newPath := samplePath()

	srcLoc := hostmap.Location{DPID: 1, Port: 5}
	dstLoc := hostmap.Location{DPID: 3, Port: 7}

	err := inst.Reroute(context.Background(),
		mac(t, "00:00:00:00:00:01"), mac(t, "00:00:00:00:00:02"),
		srcLoc, dstLoc, openflow.Match{}, oldPath, newPath)
	require.NoError(t, err)

	var deletes int
	for _, fm := range sender.flowMods {
		if fm.fm.Command == openflow.FlowDeleteStrict {
			deletes++
			require.Equal(t, uint64(4), fm.dpid, "only the switch that left the path should have its stale egress deleted")
		}
	}
	require.Equal(t, 1, deletes)
}
