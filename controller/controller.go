package controller

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ofcontrol/fplf/capture"
	"github.com/ofcontrol/fplf/classify"
	"github.com/ofcontrol/fplf/config"
	"github.com/ofcontrol/fplf/ctlerr"
	"github.com/ofcontrol/fplf/hostmap"
	"github.com/ofcontrol/fplf/installer"
	"github.com/ofcontrol/fplf/internal/logging"
	"github.com/ofcontrol/fplf/observability"
	"github.com/ofcontrol/fplf/openflow"
	"github.com/ofcontrol/fplf/router"
	"github.com/ofcontrol/fplf/topology"
)

// eventQueueSize bounds the compute worker's inbox (spec.md §5: "all
// cross-component communication is by message passing over bounded
// queues").
const eventQueueSize = 4096

// event is anything the compute worker processes, in arrival order.
type event struct {
	kind      eventKind
	dpid      uint64
	ports     []openflow.Port
	packetIn  openflow.PacketIn
	portStats []openflow.PortStatsEntry
}

type eventKind int

const (
	eventSwitchUp eventKind = iota
	eventSwitchDown
	eventPacketIn
	eventPortStats
)

// Controller is the top-level process: it owns every stateful
// component and runs the worker set described in spec.md §5.
type Controller struct {
	cfg config.Config
	log *logging.Logger

	graph     *topology.Graph
	hosts     *hostmap.Table
	classes   *classify.Reloader
	monitor   *topology.Monitor
	router    *router.Router
	installer *installer.Installer
	capture   *capture.Ring

	metrics   *observability.Metrics
	obsServer *observability.Server
	lastDrops int64

	mu       sync.RWMutex
	sessions map[uint64]*Session

	// paths tracks the last path installed per (src,dst) MAC
	// pair so a later Route call can detect a reroute (spec.md §4.7).
	pathsMu sync.Mutex
	paths   map[flowKey]topology.Path

	events chan event
}

type flowKey struct {
	src, dst string
}

// New builds a Controller from cfg. Callers must call LoadState before
// Run to seed the host map and classification table.
func New(cfg config.Config, log *logging.Logger) *Controller {
	graph := topology.New(cfg.CongestionThreshold)
	hosts := hostmap.New(log.With("hostmap"))
	classes := classify.NewReloader(cfg.ClassificationCSV)
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	c := &Controller{
		cfg:       cfg,
		log:       log,
		graph:     graph,
		hosts:     hosts,
		classes:   classes,
		monitor:   topology.NewMonitor(graph, cfg.SamplingIntervalSeconds),
		router:    router.New(hosts, classes, graph),
		capture:   capture.NewRing(capture.Config{Dir: cfg.SnapshotDir, MaxSize: cfg.CaptureMaxSize, FlushEvery: cfg.CaptureFlushEvery}, log.With("capture")),
		metrics:   metrics,
		sessions:  make(map[uint64]*Session),
		paths:     make(map[flowKey]topology.Path),
		events:    make(chan event, eventQueueSize),
	}
	c.installer = installer.New(c, log.With("installer"))
	c.obsServer = observability.NewServer(graph, hosts, metrics, registry)
	return c
}

// LoadState performs the initial host-map and classification-table
// loads (spec.md §4.3: "injected into the learning table before any
// traffic arrives").
func (c *Controller) LoadState() error {
	if err := c.hosts.LoadFile(c.cfg.HostMapPath); err != nil {
		return err
	}
	if c.cfg.ClassificationCSV != "" {
		if err := c.classes.Reload(); err != nil {
			c.log.Warn("controller: initial classification load failed: %v", err)
		}
	}
	return nil
}

// SendFlowMod implements installer.Sender by forwarding to the
// session owning dpid.
func (c *Controller) SendFlowMod(ctx context.Context, dpid uint64, fm openflow.FlowMod) error {
	sess, ok := c.session(dpid)
	if !ok {
		return &ctlerr.SwitchError{DPID: dpid, Err: ctlerr.ErrSwitchGone}
	}
	return sess.SendFlowMod(ctx, dpid, fm)
}

// SendPacketOut implements installer.Sender.
func (c *Controller) SendPacketOut(ctx context.Context, dpid uint64, po openflow.PacketOut) error {
	sess, ok := c.session(dpid)
	if !ok {
		return &ctlerr.SwitchError{DPID: dpid, Err: ctlerr.ErrSwitchGone}
	}
	return sess.SendPacketOut(ctx, dpid, po)
}

func (c *Controller) session(dpid uint64) (*Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[dpid]
	return s, ok
}

// Run starts the listener and every periodic worker, blocking until
// ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", c.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("controller: listen %s: %w", c.cfg.ListenAddr, err)
	}
	defer ln.Close()

	c.capture.RunFlusher()
	defer c.capture.Stop()

	var wg sync.WaitGroup
	wg.Add(4)
	go func() { defer wg.Done(); c.computeLoop(ctx) }()
	go func() { defer wg.Done(); c.statsPollerLoop(ctx) }()
	go func() { defer wg.Done(); c.classificationReloadLoop(ctx) }()
	go func() { defer wg.Done(); c.acceptLoop(ctx, ln) }()

	if c.cfg.ObservabilityAddr != "" {
		obsSrv := &http.Server{Addr: c.cfg.ObservabilityAddr, Handler: c.obsServer}
		go func() {
			if err := obsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				c.log.Warn("controller: observability server: %v", err)
			}
		}()
		go func() {
			<-ctx.Done()
			obsSrv.Close()
		}()
	}

	<-ctx.Done()
	wg.Wait()
	return nil
}

func (c *Controller) acceptLoop(ctx context.Context, ln net.Listener) {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("controller: accept: %v", err)
			continue
		}
		go c.handleConn(ctx, conn)
	}
}

// handleConn is the IO worker for one switch connection: handshake,
// then a read loop that only ever translates wire messages into
// events and hands them to the compute worker (spec.md §5, §4.1).
func (c *Controller) handleConn(ctx context.Context, conn net.Conn) {
	sess := newSession(conn, c.log.With("session"))
	defer sess.Close()

	fr, err := sess.handshake()
	if err != nil {
		c.log.Warn("controller: handshake from %s failed: %v", conn.RemoteAddr(), err)
		return
	}
	dpid := fr.DatapathID

	c.mu.Lock()
	c.sessions[dpid] = sess
	c.mu.Unlock()

	if err := sess.requestPortDesc(); err != nil {
		c.log.Warn("controller: port_desc request to dpid=%d failed: %v", dpid, err)
	}

	c.enqueue(event{kind: eventSwitchUp, dpid: dpid})

	sess.readLoop(func(msg rawMessage) {
		c.dispatch(dpid, msg)
	})

	c.mu.Lock()
	if c.sessions[dpid] == sess {
		delete(c.sessions, dpid)
	}
	c.mu.Unlock()
	c.monitor.ForgetSwitch(dpid)
	c.enqueue(event{kind: eventSwitchDown, dpid: dpid})
}

// dispatch translates a decoded message into a compute-worker event.
// It never blocks on anything but the bounded event channel (spec.md
// §5).
func (c *Controller) dispatch(dpid uint64, msg rawMessage) {
	switch msg.header.Type {
	case openflow.TypePacketIn:
		pi, err := openflow.UnmarshalPacketIn(msg.body)
		if err != nil {
			c.log.Warn("controller: malformed packet_in from dpid=%d: %v", dpid, err)
			return
		}
		c.enqueue(event{kind: eventPacketIn, dpid: dpid, packetIn: pi})
	case openflow.TypeMultipartReply:
		typ, body, err := openflow.MultipartReplyType(msg.body)
		if err != nil {
			return
		}
		switch typ {
		case openflow.MultipartPortDesc:
			ports, _ := openflow.UnmarshalPorts(body)
			c.enqueue(event{kind: eventSwitchUp, dpid: dpid, ports: ports})
		case openflow.MultipartPortStats:
			stats, _ := openflow.UnmarshalPortStats(body)
			c.enqueue(event{kind: eventPortStats, dpid: dpid, portStats: stats})
		}
	}
}

func (c *Controller) enqueue(e event) {
	select {
	case c.events <- e:
	default:
		c.log.Warn("controller: event queue full, dropping %v event for dpid=%d", e.kind, e.dpid)
	}
}

// computeLoop is the single-threaded compute worker: it owns the
// graph, host map, and router, and processes events strictly in
// arrival order (spec.md §5).
func (c *Controller) computeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-c.events:
			c.handleEvent(ctx, e)
		}
	}
}

func (c *Controller) handleEvent(ctx context.Context, e event) {
	switch e.kind {
	case eventSwitchUp:
		c.onSwitchUp(ctx, e.dpid)
	case eventSwitchDown:
		c.onSwitchDown(e.dpid)
	case eventPacketIn:
		c.onPacketIn(ctx, e.dpid, e.packetIn)
	case eventPortStats:
		c.onPortStats(e.dpid, e.portStats)
	}
}

// onSwitchUp installs the table-miss entry and re-seeds the host map
// for this dpid (spec.md §4.1 on_switch_up).
func (c *Controller) onSwitchUp(ctx context.Context, dpid uint64) {
	c.graph.AddSwitch(dpid)
	c.hosts.ReseedSwitch(dpid)
	if err := c.hosts.LoadFileForSwitch(c.cfg.HostMapPath, dpid); err != nil {
		c.log.Warn("controller: re-seed host map on switch up failed: %v", err)
	}
	c.metrics.SwitchesUp.Set(float64(len(c.graph.Devices())))
	c.metrics.HostMapSize.Set(float64(c.hosts.Size()))

	sess, ok := c.session(dpid)
	if !ok {
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, c.cfg.OperationBudget)
	defer cancel()
	if err := sess.SendFlowMod(opCtx, dpid, openflow.TableMissFlowMod(installer.TableID)); err != nil {
		c.log.Warn("controller: table-miss install on dpid=%d failed: %v", dpid, err)
	}
}

// onSwitchDown removes dpid from the topology, per spec.md §4.1
// on_switch_down.
func (c *Controller) onSwitchDown(dpid uint64) {
	c.graph.RemoveSwitch(dpid)
	c.metrics.SwitchesUp.Set(float64(len(c.graph.Devices())))
}

// onPortStats folds a sampling round's port counters into the graph
// (spec.md §4.4).
func (c *Controller) onPortStats(dpid uint64, entries []openflow.PortStatsEntry) {
	for _, e := range entries {
		c.monitor.Sample(dpid, e.PortNo, e.TxBytes, e.RxBytes, c.cfg.DefaultLinkCapacityMbps)
	}
	c.metrics.RefreshLinkUtilization(c.graph.Snapshot())
}

// onPacketIn resolves, routes, and installs a flow for a PACKET_IN,
// or floods/drops per spec.md §4.6 and §7.
func (c *Controller) onPacketIn(ctx context.Context, dpid uint64, pi openflow.PacketIn) {
	if pi.Match.EthSrc != nil {
		if inPort, ok := pi.InPort(); ok {
			c.hosts.Learn(pi.Match.EthSrc, dpid, inPort)
		}
		if pi.Match.IPv4Src != nil {
			c.hosts.LearnIP(pi.Match.EthSrc, pi.Match.IPv4Src)
		}
	}
	if decoded, err := capture.Decode(dpid, firstOr(pi), time.Now(), pi.Data); err == nil {
		c.capture.Push(decoded)
	}

	if pi.Match.EthSrc == nil || pi.Match.EthDst == nil {
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, c.cfg.OperationBudget)
	defer cancel()
	// trace ties every log line produced while servicing this
	// PACKET_IN together, so a slow/cancelled operation can be found
	// across the router, installer, and session log lines it spans.
	trace := uuid.NewString()

	result, err := c.router.Route(pi.Match.EthSrc, pi.Match.EthDst)
	if err != nil {
		inPort, _ := pi.InPort()
		if ctlerr.IsUnknownHost(err) {
			if sErr := c.SendPacketOut(opCtx, dpid, openflow.FloodPacketOut(inPort, pi.Data)); sErr != nil {
				c.log.Warn("controller: [%s] flood packet_out on dpid=%d failed: %v", trace, dpid, sErr)
			}
			return
		}
		// NoRoute: drop and let the next PACKET_IN retry (spec.md §7).
		c.log.Warn("controller: [%s] route(%s,%s) failed: %v", trace, pi.Match.EthSrc, pi.Match.EthDst, err)
		return
	}

	// A same-switch flow still gets a single-hop path installed (spec.md
	// §4.6 step 2, §8: "the installed flow set at any switch s on the
	// path has exactly one rule..."); result.Path is empty in this
	// case, and installer.Install/forwardLegs/reverseLegs degenerate an
	// empty path to the terminal switch's single host-facing leg,
	// packet_out included.

	key := flowKey{src: pi.Match.EthSrc.String(), dst: pi.Match.EthDst.String()}
	c.pathsMu.Lock()
	oldPath, hadOld := c.paths[key]
	c.paths[key] = result.Path
	c.pathsMu.Unlock()

	fineMatch := openflow.Match{}
	if hadOld && !oldPath.Equal(result.Path) {
		c.metrics.ReroutesTotal.Inc()
		if err := c.installer.Reroute(opCtx, pi.Match.EthSrc, pi.Match.EthDst, result.SrcLocation, result.DstLocation, fineMatch, oldPath, result.Path); err != nil {
			c.metrics.InstallFailures.Inc()
			c.log.Warn("controller: [%s] reroute(%s,%s) failed: %v", trace, pi.Match.EthSrc, pi.Match.EthDst, err)
		}
		return
	}
	if err := c.installer.Install(opCtx, pi.Match.EthSrc, pi.Match.EthDst, result.SrcLocation, result.DstLocation, fineMatch, result.Path, pi.Data); err != nil {
		c.metrics.InstallFailures.Inc()
		c.log.Warn("controller: [%s] install(%s,%s) failed: %v", trace, pi.Match.EthSrc, pi.Match.EthDst, err)
	}
}

func firstOr(pi openflow.PacketIn) uint32 {
	p, _ := pi.InPort()
	return p
}

// statsPollerLoop periodically requests PORT_STATS from every
// connected switch (spec.md §4.4, §5).
func (c *Controller) statsPollerLoop(ctx context.Context) {
	interval := time.Duration(c.cfg.SamplingIntervalSeconds * float64(time.Second))
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.monitor.BeginRound()
			c.mu.RLock()
			sessions := make([]*Session, 0, len(c.sessions))
			for _, s := range c.sessions {
				sessions = append(sessions, s)
			}
			c.mu.RUnlock()
			for _, s := range sessions {
				if err := s.requestPortStats(); err != nil {
					c.log.Warn("controller: port_stats request to dpid=%d failed: %v", s.DPID(), err)
				}
			}

			if drops := c.capture.Drops(); drops > c.lastDrops {
				c.metrics.CaptureDrops.Add(float64(drops - c.lastDrops))
				c.lastDrops = drops
			}
		}
	}
}

// classificationReloadLoop periodically reloads the classification
// table (spec.md §5: "every 10s").
func (c *Controller) classificationReloadLoop(ctx context.Context) {
	interval := c.cfg.ClassificationReloadEvery
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.cfg.ClassificationCSV == "" {
				continue
			}
			if err := c.classes.Reload(); err != nil {
				c.log.Warn("controller: classification reload failed: %v", err)
			}
		}
	}
}
