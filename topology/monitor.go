package topology

import "sync"

// portSample is the previous observation for one switch port, used to
// compute Δbytes across a sampling interval (spec.md §4.4).
type portSample struct {
	bytes uint64
	valid bool
}

// Monitor turns periodic port-stats replies into link utilisation
// updates on a Graph. It owns the "previous sample" state per
// (dpid, port); the Graph owns the derived utilisation/weight.
//
// Monitor is driven by the controller's stats-poller worker (spec.md
// §5): one sampling round calls BeginRound, then Sample for every port
// on every connected switch. Each Sample writes its port's u straight
// into the graph, which keeps a link's u as the max of its two
// endpoints' within the round (spec.md §4.4).
type Monitor struct {
	mu       sync.Mutex
	prev     map[uint64]map[uint32]portSample
	graph    *Graph
	interval float64 // seconds
}

// NewMonitor creates a Monitor that samples graph's links every
// intervalSeconds.
func NewMonitor(graph *Graph, intervalSeconds float64) *Monitor {
	return &Monitor{
		prev:     make(map[uint64]map[uint32]portSample),
		graph:    graph,
		interval: intervalSeconds,
	}
}

// BeginRound resets the graph's per-round high-water mark so this
// round's Sample calls don't inherit a stale max from a prior round.
func (m *Monitor) BeginRound() {
	m.graph.ResetUtilizationRound()
}

// Sample folds one port's counters into the link that port belongs to.
// txBytes+rxBytes is the cumulative counter from the switch's PORT_STATS
// reply; capacityMbps is the capacity u is measured against (the
// controller passes Config.DefaultLinkCapacityMbps for every port, not
// the Capacity stored on the link's ports). On the first
// sample for a port (no prior observation), u is defined as 0 and no
// weight is emitted, per spec.md §4.4.
func (m *Monitor) Sample(dpid uint64, port uint32, txBytes, rxBytes uint64, capacityMbps float64) {
	m.mu.Lock()
	if _, ok := m.prev[dpid]; !ok {
		m.prev[dpid] = make(map[uint32]portSample)
	}
	prior, had := m.prev[dpid][port]
	total := txBytes + rxBytes
	m.prev[dpid][port] = portSample{bytes: total, valid: true}
	m.mu.Unlock()

	if !had || !prior.valid {
		return
	}

	var delta uint64
	if total > prior.bytes {
		delta = total - prior.bytes
	}

	mbps := (float64(delta) * 8) / (m.interval * 1e6)
	u := mbps / capacityMbps
	if u > 1 {
		u = 1
	}
	if u < 0 {
		u = 0
	}

	m.graph.SetUtilization(dpid, port, u)
}

// ForgetSwitch drops cached samples for a disconnected switch so a
// future reconnect starts fresh (spec.md §4.1 on_switch_down).
func (m *Monitor) ForgetSwitch(dpid uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.prev, dpid)
}
