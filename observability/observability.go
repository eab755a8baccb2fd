// Package observability exposes the read-only endpoint spec.md §5
// mentions in passing ("an observability endpoint" receiving copies
// of the graph). It never mutates controller state: every handler
// takes a frozen snapshot from the component it reports on and
// serves that.
//
// The metrics/mux split mirrors the rest of the retrieval pack's
// daemons (grimm-is-flywall's internal/ebpf/metrics + internal/api):
// a small typed Metrics struct of prometheus.Counter/Gauge values
// registered once, and a gorilla/mux router wiring handlers to paths,
// rather than the bare net/http ServeMux the teacher never needed
// because it is a library, not a daemon.
package observability

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ofcontrol/fplf/hostmap"
	"github.com/ofcontrol/fplf/topology"
)

// Metrics holds every counter/gauge this controller exports. All of
// them are written from the compute worker or the capture/install
// paths and only ever read by the Prometheus scrape handler.
type Metrics struct {
	CaptureDrops    prometheus.Counter
	InstallFailures prometheus.Counter
	ReroutesTotal   prometheus.Counter
	SwitchesUp      prometheus.Gauge
	HostMapSize     prometheus.Gauge
	LinkUtilization *prometheus.GaugeVec
}

// NewMetrics builds a Metrics registered against reg. Passing
// prometheus.NewRegistry() (rather than the global DefaultRegisterer)
// keeps repeated test construction from panicking on duplicate
// registration, the way flywall's per-test metrics collectors do.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		CaptureDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fplf_capture_drops_total",
			Help: "Packets dropped by the capture ring for lack of room.",
		}),
		InstallFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fplf_install_failures_total",
			Help: "FLOW_MOD operations that failed after retry.",
		}),
		ReroutesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fplf_reroutes_total",
			Help: "Routed flows moved off the path previously installed for them.",
		}),
		SwitchesUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fplf_switches_connected",
			Help: "Currently connected OpenFlow switches.",
		}),
		HostMapSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fplf_hostmap_entries",
			Help: "Entries in the seeded/learned host map.",
		}),
		LinkUtilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fplf_link_utilization",
			Help: "Last-sampled utilisation (0-1) of each link, keyed by its endpoints.",
		}, []string{"dpid_a", "dpid_b"}),
	}
	reg.MustRegister(m.CaptureDrops, m.InstallFailures, m.ReroutesTotal, m.SwitchesUp, m.HostMapSize, m.LinkUtilization)
	return m
}

// RefreshLinkUtilization replaces the LinkUtilization gauge vector's
// values with the current graph snapshot. Called once per stats
// polling round, from the compute worker, so readers of /metrics
// never observe a link missing mid-update.
func (m *Metrics) RefreshLinkUtilization(snap topology.Snapshot) {
	m.LinkUtilization.Reset()
	for _, l := range snap.Links {
		m.LinkUtilization.WithLabelValues(dpidLabel(l.A.DPID), dpidLabel(l.B.DPID)).Set(l.Utilization)
	}
}

// topologyView is the JSON shape served at /topology: a frozen copy of
// the graph plus the sizes of the other compute-worker-owned tables,
// never the live structures themselves.
type topologyView struct {
	Threshold   float64    `json:"threshold"`
	Links       []linkView `json:"links"`
	HostMapSize int        `json:"host_map_size"`
}

type linkView struct {
	DPIDA       uint64  `json:"dpid_a"`
	PortA       uint32  `json:"port_a"`
	DPIDB       uint64  `json:"dpid_b"`
	PortB       uint32  `json:"port_b"`
	Utilization float64 `json:"utilization"`
	BaseWeight  float64 `json:"base_weight"`
}

// Server is the HTTP surface: /metrics (Prometheus) and /topology (a
// JSON graph snapshot), read-only and outside the control path.
type Server struct {
	graph   *topology.Graph
	hosts   *hostmap.Table
	metrics *Metrics
	router  *mux.Router
}

// NewServer wires handlers into a gorilla/mux router, the same
// registration style as flywall's EBPFStatsHandlers.RegisterRoutes.
func NewServer(graph *topology.Graph, hosts *hostmap.Table, metrics *Metrics, reg *prometheus.Registry) *Server {
	s := &Server{graph: graph, hosts: hosts, metrics: metrics, router: mux.NewRouter()}
	s.router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods("GET")
	s.router.HandleFunc("/topology", s.handleTopology).Methods("GET")
	return s
}

// ServeHTTP makes Server usable directly as an http.Handler, e.g.
// behind http.ListenAndServe.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleTopology(w http.ResponseWriter, r *http.Request) {
	snap := s.graph.Snapshot()
	view := topologyView{
		Threshold:   snap.Threshold,
		HostMapSize: s.hosts.Size(),
	}
	for _, l := range snap.Links {
		view.Links = append(view.Links, linkView{
			DPIDA: l.A.DPID, PortA: l.A.Number,
			DPIDB: l.B.DPID, PortB: l.B.Number,
			Utilization: l.Utilization, BaseWeight: l.BaseWeight,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(view)
}

func dpidLabel(dpid uint64) string {
	return strconv.FormatUint(dpid, 10)
}
