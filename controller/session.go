// Package controller wires every other package into a running
// OpenFlow 1.3 control plane: one IO worker per connected switch, a
// single-threaded compute worker, and the periodic stats/capture/
// reload workers described in spec.md §5.
//
// Session is the IO worker: it owns exactly one switch's TCP
// connection, mirroring the teacher's ovsdb jsonrpc.Conn — a mutex
// around the writer, a decode loop feeding a channel — generalized
// here from a JSON-RPC Conn to a raw OpenFlow header/body Conn.
package controller

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/ofcontrol/fplf/ctlerr"
	"github.com/ofcontrol/fplf/internal/logging"
	"github.com/ofcontrol/fplf/openflow"
)

// rawMessage is one decoded OpenFlow message as handed from a
// Session's read loop to the compute worker.
type rawMessage struct {
	dpid   uint64
	header openflow.Header
	body   []byte
}

// Session is one switch's OpenFlow TCP connection.
type Session struct {
	conn net.Conn
	r    *bufio.Reader

	writeMu sync.Mutex
	xid     atomic.Uint32

	dpid atomic.Uint64
	log  *logging.Component

	closeOnce sync.Once
	closed    chan struct{}
}

func newSession(conn net.Conn, log *logging.Component) *Session {
	return &Session{
		conn:   conn,
		r:      bufio.NewReader(conn),
		log:    log,
		closed: make(chan struct{}),
	}
}

// DPID returns the session's negotiated datapath id, or 0 before the
// handshake completes.
func (s *Session) DPID() uint64 {
	return s.dpid.Load()
}

// Close tears down the underlying connection, idempotently.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.conn.Close()
	})
	return err
}

func (s *Session) nextXid() uint32 {
	return s.xid.Add(1)
}

// writeMessage frames typ/body behind an OpenFlow header and writes it
// atomically with respect to other writers on this session (spec.md
// §4.1: install_flow/packet_out are called concurrently from the
// compute worker and the stats poller).
func (s *Session) writeMessage(typ openflow.MessageType, body []byte) error {
	select {
	case <-s.closed:
		return &ctlerr.SwitchError{DPID: s.DPID(), Err: ctlerr.ErrSwitchGone}
	default:
	}

	h := openflow.Header{
		Version: openflow.Version,
		Type:    typ,
		Length:  uint16(openflow.HeaderLen + len(body)),
		Xid:     s.nextXid(),
	}
	hb, err := h.MarshalBinary()
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.conn.Write(hb); err != nil {
		return fmt.Errorf("openflow: write header: %w", err)
	}
	if len(body) > 0 {
		if _, err := s.conn.Write(body); err != nil {
			return fmt.Errorf("openflow: write body: %w", err)
		}
	}
	return nil
}

// SendFlowMod implements installer.Sender.
func (s *Session) SendFlowMod(_ context.Context, dpid uint64, fm openflow.FlowMod) error {
	if s.DPID() != dpid {
		return &ctlerr.SwitchError{DPID: dpid, Err: ctlerr.ErrSwitchGone}
	}
	body, err := fm.MarshalBinary()
	if err != nil {
		return err
	}
	return s.writeMessage(openflow.TypeFlowMod, body)
}

// SendPacketOut implements installer.Sender.
func (s *Session) SendPacketOut(_ context.Context, dpid uint64, po openflow.PacketOut) error {
	if s.DPID() != dpid {
		return &ctlerr.SwitchError{DPID: dpid, Err: ctlerr.ErrSwitchGone}
	}
	body, err := po.MarshalBinary()
	if err != nil {
		return err
	}
	return s.writeMessage(openflow.TypePacketOut, body)
}

// requestPortStats sends a MULTIPART(PORT_STATS) request for every
// port, used by the stats poller (spec.md §4.4).
func (s *Session) requestPortStats() error {
	body := openflow.MultipartRequest(openflow.MultipartPortStats, openflow.PortStatsRequestBody(openflow.AllPorts))
	return s.writeMessage(openflow.TypeMultipartRequest, body)
}

func (s *Session) requestPortDesc() error {
	body := openflow.MultipartRequest(openflow.MultipartPortDesc, nil)
	return s.writeMessage(openflow.TypeMultipartRequest, body)
}

func (s *Session) sendHello() error {
	return s.writeMessage(openflow.TypeHello, nil)
}

func (s *Session) sendFeaturesRequest() error {
	return s.writeMessage(openflow.TypeFeaturesRequest, nil)
}

// handshake performs HELLO + FEATURES_REQUEST/REPLY and sets the
// session's dpid, per spec.md §4.1.
func (s *Session) handshake() (openflow.FeaturesReply, error) {
	if err := s.sendHello(); err != nil {
		return openflow.FeaturesReply{}, err
	}
	hello, err := s.readMessage()
	if err != nil {
		return openflow.FeaturesReply{}, err
	}
	if hello.header.Type != openflow.TypeHello {
		return openflow.FeaturesReply{}, fmt.Errorf("%w: expected HELLO, got %s", ctlerr.ErrProtocol, hello.header.Type)
	}
	if err := openflow.NegotiateVersion(hello.header.Version); err != nil {
		return openflow.FeaturesReply{}, fmt.Errorf("%w: %v", ctlerr.ErrProtocol, err)
	}

	if err := s.sendFeaturesRequest(); err != nil {
		return openflow.FeaturesReply{}, err
	}
	reply, err := s.readMessage()
	if err != nil {
		return openflow.FeaturesReply{}, err
	}
	if reply.header.Type != openflow.TypeFeaturesReply {
		return openflow.FeaturesReply{}, fmt.Errorf("%w: expected FEATURES_REPLY, got %s", ctlerr.ErrProtocol, reply.header.Type)
	}
	fr, err := openflow.UnmarshalFeaturesReply(reply.body)
	if err != nil {
		return openflow.FeaturesReply{}, fmt.Errorf("%w: %v", ctlerr.ErrProtocol, err)
	}
	s.dpid.Store(fr.DatapathID)
	return fr, nil
}

// readMessage blocks for the next full OpenFlow message on the wire.
func (s *Session) readMessage() (rawMessage, error) {
	hb := make([]byte, openflow.HeaderLen)
	if _, err := io.ReadFull(s.r, hb); err != nil {
		return rawMessage{}, err
	}
	var h openflow.Header
	if err := h.UnmarshalBinary(hb); err != nil {
		return rawMessage{}, fmt.Errorf("%w: %v", ctlerr.ErrProtocol, err)
	}
	if h.Length < openflow.HeaderLen {
		return rawMessage{}, fmt.Errorf("%w: header length %d too small", ctlerr.ErrProtocol, h.Length)
	}
	bodyLen := int(h.Length) - openflow.HeaderLen
	body := make([]byte, bodyLen)
	if bodyLen > 0 {
		if _, err := io.ReadFull(s.r, body); err != nil {
			return rawMessage{}, err
		}
	}
	return rawMessage{dpid: s.DPID(), header: h, body: body}, nil
}

// readLoop decodes messages until the connection fails, handing each
// to dispatch. It never blocks on anything but the socket read itself
// (spec.md §5: "handlers may not block on external I/O").
func (s *Session) readLoop(dispatch func(rawMessage)) {
	for {
		msg, err := s.readMessage()
		if err != nil {
			if s.log != nil {
				s.log.Debug("session dpid=%d read loop exiting: %v", s.DPID(), err)
			}
			return
		}
		dispatch(msg)
	}
}
