// Package router implements the route() operation (spec.md §4.6): it
// joins the host map, classification table, and topology graph to
// produce both a baseline and an FPLF path for a given (src_mac,
// dst_mac) pair, and flags whether FPLF diverged from the baseline.
//
// The join-three-lookups-then-decide shape mirrors cherry's l2switch
// Coordinator.OnPacketIn, which resolves a destination's location
// before deciding whether to flood or forward; here a third lookup
// (classification) is added to pick the edge weighting.
package router

import (
	"net"

	"github.com/ofcontrol/fplf/classify"
	"github.com/ofcontrol/fplf/ctlerr"
	"github.com/ofcontrol/fplf/hostmap"
	"github.com/ofcontrol/fplf/topology"
)

// Result is the outcome of a successful route() call.
type Result struct {
	SrcLocation hostmap.Location
	DstLocation hostmap.Location
	SameSwitch  bool

	Class      classify.Class
	Priority   int
	Confidence float64

	Baseline     topology.Path
	Path         topology.Path
	RouteChanged bool
}

// Router ties the host map, classification reloader, and topology
// graph together, per spec.md §4.6.
type Router struct {
	Hosts   *hostmap.Table
	Classes *classify.Reloader
	Graph   *topology.Graph
}

// New creates a Router over the given components.
func New(hosts *hostmap.Table, classes *classify.Reloader, graph *topology.Graph) *Router {
	return &Router{Hosts: hosts, Classes: classes, Graph: graph}
}

// Route resolves a path for a flow from srcMAC to dstMAC (spec.md
// §4.6 steps 1-6).
//
// If either MAC is unresolvable, it returns ctlerr.ErrUnknownHost: the
// caller (the compute worker) is expected to fall back to flooding on
// the ingress switch rather than treat this as fatal (spec.md §4.6
// step 1, §7).
func (r *Router) Route(srcMAC, dstMAC net.HardwareAddr) (*Result, error) {
	srcLoc, err := r.Hosts.Locate(srcMAC)
	if err != nil {
		return nil, err
	}
	dstLoc, err := r.Hosts.Locate(dstMAC)
	if err != nil {
		return nil, err
	}

	res := &Result{SrcLocation: srcLoc, DstLocation: dstLoc}

	if srcLoc.DPID == dstLoc.DPID {
		res.SameSwitch = true
		return res, nil
	}

	cls, priority, confidence := r.classify(srcMAC, dstMAC)
	res.Class = cls
	res.Priority = priority
	res.Confidence = confidence

	res.Baseline = r.Graph.BaselinePath(srcLoc.DPID, dstLoc.DPID)
	res.Path = r.Graph.FPLFPath(srcLoc.DPID, dstLoc.DPID, priority)
	if res.Path == nil {
		return nil, ctlerr.ErrNoRoute
	}

	res.RouteChanged = !res.Baseline.Equal(res.Path)
	return res, nil
}

// classify resolves the (src_host, dst_host) classification record
// for srcMAC/dstMAC, falling back to ClassUnknown/priority 0 when
// either host id is unseeded or the table has no matching record
// (spec.md §4.6 step 3, §7 ClassifierUnavailable).
func (r *Router) classify(srcMAC, dstMAC net.HardwareAddr) (classify.Class, int, float64) {
	srcHost, ok1 := r.Hosts.HostID(srcMAC)
	dstHost, ok2 := r.Hosts.HostID(dstMAC)
	if !ok1 || !ok2 || r.Classes == nil {
		return classify.ClassUnknown, 0, 0
	}

	tbl := r.Classes.Table()
	rec, ok := tbl.Lookup(srcHost, dstHost)
	if !ok {
		return classify.ClassUnknown, 0, 0
	}
	return rec.Class, rec.Class.Priority(), rec.Confidence
}
