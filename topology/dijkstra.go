package topology

import "container/heap"

// Hop is one step of a computed Path: the switch being left, its
// egress port, and the neighbor switch reached.
type Hop struct {
	DPID       uint64
	EgressPort uint32
	Neighbor   uint64
	// ReturnPort is the port on Neighbor that leads back to DPID, used
	// by the installer to place the reverse-direction rule's output
	// action (spec.md §4.7: "the system does not split directions").
	ReturnPort uint32
	BaseWeight float64
	AdjWeight  float64
}

// Path is an ordered sequence of hops from a source dpid to a
// destination dpid.
type Path []Hop

// Dpids returns the switches visited, in order, including the source
// and destination.
func (p Path) Dpids() []uint64 {
	if len(p) == 0 {
		return nil
	}
	out := make([]uint64, 0, len(p)+1)
	out = append(out, p[0].DPID)
	for _, h := range p {
		out = append(out, h.Neighbor)
	}
	return out
}

// Equal reports whether two paths visit the same switches in the same
// order, used to detect route_changed (spec.md §4.6 step 6).
func (p Path) Equal(other Path) bool {
	a, b := p.Dpids(), other.Dpids()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

type weightFunc func(link *Link) float64

// shortestPath runs Dijkstra from src to dst using weight to cost each
// edge, breaking ties deterministically by the lexicographic order of
// (dpid_a, dpid_b), per spec.md §4.5. Returns nil if unreachable.
func (g *Graph) shortestPath(src, dst uint64, weight weightFunc) Path {
	if src == dst {
		return Path{}
	}
	if !g.HasSwitch(src) || !g.HasSwitch(dst) {
		return nil
	}

	dist := map[uint64]float64{src: 0}
	prev := map[uint64]uint64{}
	visited := map[uint64]bool{}

	pq := &priorityQueue{{dpid: src, dist: 0}}
	heap.Init(pq)

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(pqItem)
		if visited[cur.dpid] {
			continue
		}
		visited[cur.dpid] = true
		if cur.dpid == dst {
			break
		}

		for _, neighbor := range g.edges(cur.dpid) {
			if visited[neighbor] {
				continue
			}
			link, ok := g.linkBetween(cur.dpid, neighbor)
			if !ok {
				continue
			}
			d := dist[cur.dpid] + weight(link)
			if existing, ok := dist[neighbor]; !ok || d < existing {
				dist[neighbor] = d
				prev[neighbor] = cur.dpid
				heap.Push(pq, pqItem{dpid: neighbor, dist: d})
			}
		}
	}

	if _, ok := dist[dst]; !ok {
		return nil
	}

	// Walk prev backwards to build the path, then reverse it.
	var revDpids []uint64
	for at := dst; ; {
		revDpids = append(revDpids, at)
		if at == src {
			break
		}
		at = prev[at]
	}
	dpids := make([]uint64, len(revDpids))
	for i, d := range revDpids {
		dpids[len(revDpids)-1-i] = d
	}

	path := make(Path, 0, len(dpids)-1)
	for i := 0; i < len(dpids)-1; i++ {
		a, b := dpids[i], dpids[i+1]
		link, _ := g.linkBetween(a, b)
		port, _ := g.NeighborPort(a, b)
		returnPort, _ := g.NeighborPort(b, a)
		path = append(path, Hop{
			DPID:       a,
			EgressPort: port.Number,
			Neighbor:   b,
			ReturnPort: returnPort.Number,
			BaseWeight: link.BaseWeight,
			AdjWeight:  weight(link),
		})
	}
	return path
}

// BaselinePath computes the unweighted (hop-count) shortest path,
// used only for comparison with the FPLF path (spec.md §4.6 step 4).
func (g *Graph) BaselinePath(src, dst uint64) Path {
	return g.shortestPath(src, dst, func(*Link) float64 { return 1 })
}

// FPLFPath computes the Dijkstra shortest path using FPLF-adjusted
// weights for priority p (spec.md §4.6 step 5).
func (g *Graph) FPLFPath(src, dst uint64, priority int) Path {
	return g.shortestPath(src, dst, func(l *Link) float64 {
		return AdjustedWeight(l.BaseWeight, priority)
	})
}

// priorityQueue is a small binary min-heap over (dpid, dist), with
// lexicographic dpid tie-breaking for determinism (spec.md §4.5).
type pqItem struct {
	dpid uint64
	dist float64
}

type priorityQueue []pqItem

func (pq priorityQueue) Len() int { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].dist != pq[j].dist {
		return pq[i].dist < pq[j].dist
	}
	return pq[i].dpid < pq[j].dpid
}
func (pq priorityQueue) Swap(i, j int) { pq[i], pq[j] = pq[j], pq[i] }
func (pq *priorityQueue) Push(x interface{}) {
	*pq = append(*pq, x.(pqItem))
}
func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	*pq = old[:n-1]
	return item
}
