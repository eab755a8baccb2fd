package router

import (
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ofcontrol/fplf/classify"
	"github.com/ofcontrol/fplf/ctlerr"
	"github.com/ofcontrol/fplf/hostmap"
	"github.com/ofcontrol/fplf/topology"
)

const seedFile = `
00:00:00:00:00:01 1 1 h1
00:00:00:00:00:02 3 1 h2
`

const classCSV = `flow_id,src_host,dst_host,src_ip,dst_ip,src_port,dst_port,protocol,traffic_type,confidence,total_packets,total_bytes,flow_duration,packets_per_second
1,h1,h2,10.0.0.1,10.0.0.2,5000,5004,udp,VIDEO,0.95,10,1000,1.0,10
`

func triangleGraph(threshold float64) *topology.Graph {
	g := topology.New(threshold)
	g.AddLink(topology.Port{DPID: 1, Number: 1}, topology.Port{DPID: 2, Number: 1})
	g.AddLink(topology.Port{DPID: 2, Number: 2}, topology.Port{DPID: 3, Number: 1})
	g.AddLink(topology.Port{DPID: 1, Number: 2}, topology.Port{DPID: 3, Number: 2})
	return g
}

func mustMAC(t *testing.T, s string) net.HardwareAddr {
	t.Helper()
	mac, err := net.ParseMAC(s)
	require.NoError(t, err)
	return mac
}

func newRouter(t *testing.T, threshold float64) *Router {
	t.Helper()
	hosts := hostmap.New(nil)
	require.NoError(t, hosts.Load(strings.NewReader(seedFile)))

	tbl, err := classify.Load(strings.NewReader(classCSV))
	require.NoError(t, err)
	reloader := classify.NewReloader("")
	reloader.Store(tbl)

	return &Router{Hosts: hosts, Classes: reloader, Graph: triangleGraph(threshold)}
}

func TestRouteUnknownHostFallsBackToFlood(t *testing.T) {
	r := newRouter(t, 0.9)
	_, err := r.Route(mustMAC(t, "00:00:00:00:00:01"), mustMAC(t, "aa:bb:cc:dd:ee:ff"))
	require.ErrorIs(t, err, ctlerr.ErrUnknownHost)
}

func TestRouteSameSwitchShortcut(t *testing.T) {
	r := newRouter(t, 0.9)
	hosts := hostmap.New(nil)
	require.NoError(t, hosts.Load(strings.NewReader(`
00:00:00:00:00:01 1 1 h1
00:00:00:00:00:03 1 2 h3
`)))
	r.Hosts = hosts

	res, err := r.Route(mustMAC(t, "00:00:00:00:00:01"), mustMAC(t, "00:00:00:00:00:03"))
	require.NoError(t, err)
	require.True(t, res.SameSwitch)
}

func TestRouteVideoReroutesAroundCongestion(t *testing.T) {
	r := newRouter(t, 0.9)
	r.Graph.SetUtilization(1, 2, 0.95)
	r.Graph.SetUtilization(3, 2, 0.95)
	r.Graph.SetUtilization(1, 1, 0.1)
	r.Graph.SetUtilization(2, 1, 0.1)
	r.Graph.SetUtilization(2, 2, 0.1)
	r.Graph.SetUtilization(3, 1, 0.1)

	res, err := r.Route(mustMAC(t, "00:00:00:00:00:01"), mustMAC(t, "00:00:00:00:00:02"))
	require.NoError(t, err)
	require.Equal(t, classify.ClassVideo, res.Class)
	require.Equal(t, 4, res.Priority)
	require.True(t, res.RouteChanged)
	require.Equal(t, []uint64{1, 2, 3}, res.Path.Dpids())
}
