// Package installer turns a computed topology.Path into FLOW_MOD/
// PACKET_OUT traffic against the switches along it (spec.md §4.7).
//
// Sequential per-switch command issuance with first-failure
// short-circuiting, and logging the dpid an operation concerns,
// follows the same shape as cherry's device.Manager request handlers
// (handleFeaturesReplyMessage's per-port loop that aborts and returns
// on the first error) — generalized here from "configure every port"
// to "install every hop".
package installer

import (
	"context"
	"fmt"
	"net"

	"github.com/ofcontrol/fplf/ctlerr"
	"github.com/ofcontrol/fplf/hostmap"
	"github.com/ofcontrol/fplf/internal/logging"
	"github.com/ofcontrol/fplf/openflow"
	"github.com/ofcontrol/fplf/topology"
)

// leg is one (dpid, egress port) FLOW_MOD target, whether it's a
// switch-to-switch hop or the terminal switch's host-facing port.
type leg struct {
	dpid       uint64
	egressPort uint32
}

// forwardLegs expands path into the full ordered list of forward-rule
// targets: one per inter-switch hop, plus the final switch's
// host-facing egress toward dstLoc (spec.md §4.7: "install a forward
// rule on each dpN").
func forwardLegs(path topology.Path, dstLoc hostmap.Location) []leg {
	legs := make([]leg, 0, len(path)+1)
	for _, h := range path {
		legs = append(legs, leg{dpid: h.DPID, egressPort: h.EgressPort})
	}
	legs = append(legs, leg{dpid: dstLoc.DPID, egressPort: dstLoc.Port})
	return legs
}

// reverseLegs is the mirror of forwardLegs for the return direction:
// the terminal switch's host-facing egress toward srcLoc, followed by
// each hop's return leg, walked source-ward.
func reverseLegs(path topology.Path, srcLoc hostmap.Location) []leg {
	legs := make([]leg, 0, len(path)+1)
	legs = append(legs, leg{dpid: srcLoc.DPID, egressPort: srcLoc.Port})
	for _, h := range path {
		legs = append(legs, leg{dpid: h.Neighbor, egressPort: h.ReturnPort})
	}
	return legs
}

// TableID is the single flow table this controller uses (spec.md §4.1,
// §4.7 never mentions table pipelining).
const TableID uint8 = 0

// FlowPriority is the priority assigned to installed forward/reverse
// rules, placed above the table-miss entry (spec.md §4.7).
const FlowPriority uint16 = 100

// Sender abstracts sending an OpenFlow message to a connected switch.
// The controller's per-switch IO worker implements this; installer
// never holds a socket itself so it stays trivially testable with a
// fake.
type Sender interface {
	SendFlowMod(ctx context.Context, dpid uint64, fm openflow.FlowMod) error
	SendPacketOut(ctx context.Context, dpid uint64, po openflow.PacketOut) error
}

// Installer issues the FLOW_MODs/PACKET_OUTs that realize a routed
// path (spec.md §4.7).
type Installer struct {
	Sender Sender
	log    *logging.Component
}

// New creates an Installer that sends through sender.
func New(sender Sender, log *logging.Component) *Installer {
	return &Installer{Sender: sender, log: log}
}

// forwardMatch builds the match all forward-direction FLOW_MODs for this
// flow share: eth_src/eth_dst, plus any finer L4 fields the
// classifier requested (spec.md §4.7: "match on (eth_src, eth_dst) —
// or on (eth_type, ip_src, ip_dst, l4_proto, sport, dport) if the
// classifier requested a finer match").
func forwardMatch(srcMAC, dstMAC net.HardwareAddr, fine openflow.Match) openflow.Match {
	m := fine
	m.EthSrc = srcMAC
	m.EthDst = dstMAC
	return m
}

// reverseMatch swaps the src/dst fields of m for the return direction
// (spec.md §4.7: "the system does not split directions").
func reverseMatch(m openflow.Match) openflow.Match {
	rev := m
	rev.EthSrc, rev.EthDst = m.EthDst, m.EthSrc
	rev.IPv4Src, rev.IPv4Dst = m.IPv4Dst, m.IPv4Src
	rev.TCPSrc, rev.TCPDst = m.TCPDst, m.TCPSrc
	rev.UDPSrc, rev.UDPDst = m.UDPDst, m.UDPSrc
	return rev
}

// sendFlowMod issues fm against dpid, retrying exactly once on failure
// before giving up (spec.md §4.1: "a write failure on FLOW_MOD is
// retried once; on second failure the path decision is logged and the
// packet is dropped"; §4.7 echoes the same contract for the
// installer).
func (i *Installer) sendFlowMod(ctx context.Context, dpid uint64, fm openflow.FlowMod) error {
	err := i.Sender.SendFlowMod(ctx, dpid, fm)
	if err == nil {
		return nil
	}
	if i.log != nil {
		i.log.Warn("installer: flow_mod to dpid=%d failed, retrying once: %v", dpid, err)
	}
	return i.Sender.SendFlowMod(ctx, dpid, fm)
}

func flowModFor(command openflow.FlowModCommand, match openflow.Match, egressPort uint32) openflow.FlowMod {
	return openflow.FlowMod{
		TableID:     TableID,
		Command:     command,
		Priority:    FlowPriority,
		BufferID:    openflow.NoBuffer,
		IdleTimeout: openflow.DefaultIdleTimeout,
		HardTimeout: openflow.DefaultHardTimeout,
		Match:       match,
		Instructions: [][]byte{
			openflow.InstructionApplyActions(openflow.ActionOutput(egressPort)),
		},
	}
}

// Install installs a brand-new path: PACKET_OUT for the triggering
// packet first, then forward rules hop by hop, then reverse rules in
// reverse order (spec.md §4.7).
func (i *Installer) Install(ctx context.Context, srcMAC, dstMAC net.HardwareAddr, srcLoc, dstLoc hostmap.Location, fineMatch openflow.Match, path topology.Path, triggering []byte) error {
	fwd := forwardMatch(srcMAC, dstMAC, fineMatch)
	rev := reverseMatch(fwd)

	firstPort := dstLoc.Port
	if len(path) > 0 {
		firstPort = path[0].EgressPort
	}
	if err := i.Sender.SendPacketOut(ctx, srcLoc.DPID, openflow.DirectPacketOut(firstPort, triggering)); err != nil {
		if i.log != nil {
			i.log.Warn("installer: packet_out to dpid=%d failed: %v", srcLoc.DPID, err)
		}
	}

	fwdLegs := forwardLegs(path, dstLoc)
	revLegs := reverseLegs(path, srcLoc)
	total := len(fwdLegs) + len(revLegs)

	for n, l := range fwdLegs {
		fm := flowModFor(openflow.FlowAdd, fwd, l.egressPort)
		if err := i.sendFlowMod(ctx, l.dpid, fm); err != nil {
			return i.partialFailure(n, total, l.dpid, err)
		}
	}

	for n := len(revLegs) - 1; n >= 0; n-- {
		l := revLegs[n]
		fm := flowModFor(openflow.FlowAdd, rev, l.egressPort)
		if err := i.sendFlowMod(ctx, l.dpid, fm); err != nil {
			return i.partialFailure(len(fwdLegs)+(len(revLegs)-1-n), len(fwdLegs)+len(revLegs), l.dpid, err)
		}
	}

	return nil
}

// partialFailure logs a partial-install warning and returns an
// ErrInstallFailed error; the caller stops at the failing hop.
// Already-installed hops are not rolled back, and no retry of the
// remaining hops is scheduled.
func (i *Installer) partialFailure(succeeded, total int, dpid uint64, err error) error {
	if i.log != nil {
		i.log.Warn("installer: partial install (%d/%d) failed at dpid=%d: %v", succeeded, total, dpid, err)
	}
	return fmt.Errorf("installer: %w: dpid=%d after %d/%d hops: %v", ctlerr.ErrInstallFailed, dpid, succeeded, total, err)
}

// Reroute installs the new path's forward+reverse rules using
// MODIFY_STRICT in ingress-first order (to avoid a black hole where a
// packet reaches a switch that already points "the new way" but the
// next hop still forwards the old way), then deletes egress rules on
// switches that have left the path (spec.md §4.7 reroute semantics).
func (i *Installer) Reroute(ctx context.Context, srcMAC, dstMAC net.HardwareAddr, srcLoc, dstLoc hostmap.Location, fineMatch openflow.Match, oldPath, newPath topology.Path) error {
	fwd := forwardMatch(srcMAC, dstMAC, fineMatch)
	rev := reverseMatch(fwd)

	fwdLegs := forwardLegs(newPath, dstLoc)
	revLegs := reverseLegs(newPath, srcLoc)
	total := len(fwdLegs) + len(revLegs)

	for n, l := range fwdLegs {
		fm := flowModFor(openflow.FlowModifyStrict, fwd, l.egressPort)
		if err := i.sendFlowMod(ctx, l.dpid, fm); err != nil {
			return i.partialFailure(n, total, l.dpid, err)
		}
	}

	for n := len(revLegs) - 1; n >= 0; n-- {
		l := revLegs[n]
		fm := flowModFor(openflow.FlowModifyStrict, rev, l.egressPort)
		if err := i.sendFlowMod(ctx, l.dpid, fm); err != nil {
			return i.partialFailure(len(fwdLegs)+(len(revLegs)-1-n), total, l.dpid, err)
		}
	}

	newDpids := make(map[uint64]bool, len(fwdLegs))
	for _, l := range fwdLegs {
		newDpids[l.dpid] = true
	}
	for _, l := range forwardLegs(oldPath, dstLoc) {
		if newDpids[l.dpid] {
			continue
		}
		del := flowModFor(openflow.FlowDeleteStrict, fwd, l.egressPort)
		del.OutPort = l.egressPort
		if err := i.sendFlowMod(ctx, l.dpid, del); err != nil && i.log != nil {
			i.log.Warn("installer: cleanup delete on dpid=%d failed: %v", l.dpid, err)
		}
	}

	return nil
}
