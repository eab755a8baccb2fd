package controller

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ofcontrol/fplf/openflow"
)

// fakeSwitch answers a handshake from the other end of a net.Pipe the
// way a real OpenFlow switch would: HELLO, then a FEATURES_REPLY
// carrying dpid.
func fakeSwitch(t *testing.T, conn net.Conn, dpid uint64) {
	t.Helper()
	go func() {
		hb := make([]byte, openflow.HeaderLen)
		if _, err := conn.Read(hb); err != nil {
			return
		}
		writeHeaderAndBody(conn, openflow.TypeHello, nil)

		fb := make([]byte, openflow.HeaderLen)
		if _, err := conn.Read(fb); err != nil {
			return
		}
		body := make([]byte, 24)
		body[7] = byte(dpid) // DatapathID big-endian, low byte is enough for small test dpids
		writeHeaderAndBody(conn, openflow.TypeFeaturesReply, body)
	}()
}

func writeHeaderAndBody(conn net.Conn, typ openflow.MessageType, body []byte) {
	h := openflow.Header{Version: openflow.Version, Type: typ, Length: uint16(openflow.HeaderLen + len(body))}
	hb, _ := h.MarshalBinary()
	conn.Write(hb)
	if len(body) > 0 {
		conn.Write(body)
	}
}

func TestSessionHandshakeStoresDPID(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	fakeSwitch(t, server, 7)

	sess := newSession(client, nil)
	fr, err := sess.handshake()
	require.NoError(t, err)
	require.Equal(t, uint64(7), fr.DatapathID)
	require.Equal(t, uint64(7), sess.DPID())
}

func TestSessionSendFlowModRejectsWrongDPID(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	fakeSwitch(t, server, 7)

	sess := newSession(client, nil)
	_, err := sess.handshake()
	require.NoError(t, err)

	err = sess.SendFlowMod(context.Background(), 99, openflow.FlowMod{})
	require.Error(t, err)
}

func TestSessionCloseIsIdempotentAndFailsPendingWrites(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	sess := newSession(client, nil)
	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close())

	err := sess.writeMessage(openflow.TypeHello, nil)
	require.Error(t, err)
}

func TestSessionReadLoopDispatchesPacketIn(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	sess := newSession(client, nil)

	received := make(chan rawMessage, 1)
	go sess.readLoop(func(m rawMessage) {
		received <- m
	})

	go func() {
		body := make([]byte, packetInBodyForTest())
		writeHeaderAndBody(server, openflow.TypePacketIn, body)
	}()

	select {
	case m := <-received:
		require.Equal(t, openflow.TypePacketIn, m.header.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatched message")
	}
}

// packetInBodyForTest returns a minimal well-formed PACKET_IN body: the
// 16-byte fixed header, a wildcard OXM match header (4 bytes, length
// field set to 4 meaning no OXM TLVs), and 2 bytes of padding.
func packetInBodyForTest() int {
	return 16 + 4 + 2
}
