package openflow

import (
	"net"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestMatchRoundTrip(t *testing.T) {
	inPort := uint32(3)
	ethType := uint16(0x0800)
	ipProto := uint8(6)
	tcpDst := uint16(22)

	src, err := net.ParseMAC("00:00:00:00:00:01")
	require.NoError(t, err)
	dst, err := net.ParseMAC("00:00:00:00:00:02")
	require.NoError(t, err)

	m := Match{
		InPort:  &inPort,
		EthSrc:  src,
		EthDst:  dst,
		EthType: &ethType,
		IPProto: &ipProto,
		IPv4Src: net.ParseIP("10.0.0.1"),
		IPv4Dst: net.ParseIP("10.0.0.2"),
		TCPDst:  &tcpDst,
	}

	enc, err := m.MarshalBinary()
	require.NoError(t, err)
	require.Equal(t, 0, len(enc)%8, "match must be padded to 8 bytes")

	got, consumed, err := UnmarshalMatch(enc)
	require.NoError(t, err)
	require.Equal(t, len(enc), consumed)

	if diff := cmp.Diff(m.EthSrc, got.EthSrc); diff != "" {
		t.Errorf("eth_src mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, *m.InPort, *got.InPort)
	require.Equal(t, *m.EthType, *got.EthType)
	require.Equal(t, *m.IPProto, *got.IPProto)
	require.True(t, m.IPv4Src.Equal(got.IPv4Src))
	require.True(t, m.IPv4Dst.Equal(got.IPv4Dst))
	require.Equal(t, *m.TCPDst, *got.TCPDst)
}

func TestMatchWildcard(t *testing.T) {
	var m Match
	require.True(t, m.IsWildcard())

	enc, err := m.MarshalBinary()
	require.NoError(t, err)
	require.Equal(t, 8, len(enc))

	got, _, err := UnmarshalMatch(enc)
	require.NoError(t, err)
	require.True(t, got.IsWildcard())
}

func TestMatchRejectsUnsupportedField(t *testing.T) {
	// Field 99 does not exist in our supported set.
	b := make([]byte, 8)
	b[1] = 1 // type = OXM (matchTypeOXM)
	b[3] = 8 // length = 8 (4-byte header + one 4-byte TLV)
	b[4] = 0x80
	b[5] = 0x00
	b[6] = 99 << 1
	b[7] = 0

	_, _, err := UnmarshalMatch(b)
	require.Error(t, err)
}
