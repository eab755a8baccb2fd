package capture

import (
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/require"
)

func tcpFrame(t *testing.T) []byte {
	t.Helper()
	eth := layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x00, 0x00, 0x00, 0x00, 0x01},
		DstMAC:       net.HardwareAddr{0x00, 0x00, 0x00, 0x00, 0x00, 0x02},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		TOS:      0,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.IPv4(10, 0, 0, 1),
		DstIP:    net.IPv4(10, 0, 0, 2),
	}
	tcp := layers.TCP{
		SrcPort: 5555,
		DstPort: 22,
		SYN:     true,
		Window:  65535,
	}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(&ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, &eth, &ip, &tcp))
	return buf.Bytes()
}

func TestDecodeTCP(t *testing.T) {
	raw := tcpFrame(t)
	p, err := Decode(1, 3, time.Unix(100, 0), raw)
	require.NoError(t, err)
	require.Equal(t, uint64(1), p.DPID)
	require.Equal(t, uint32(3), p.InPort)
	require.Equal(t, "tcp", p.Protocol)
	require.Equal(t, "10.0.0.1", p.SrcIP)
	require.Equal(t, "10.0.0.2", p.DstIP)
	require.Equal(t, uint16(5555), p.SrcPort)
	require.Equal(t, uint16(22), p.DstPort)
	require.Equal(t, uint8(1<<1), p.TCPFlags) // SYN only
}

func TestRingFlushOnSize(t *testing.T) {
	dir := t.TempDir()
	r := NewRing(Config{Dir: dir, MaxSize: 3, FlushEvery: time.Hour}, nil)

	for i := 0; i < 4; i++ {
		r.Push(Packet{Timestamp: int64(i)})
	}

	require.Equal(t, 1, r.Len(), "one packet should remain after the size-triggered flush")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	var flushed []Packet
	require.NoError(t, json.Unmarshal(data, &flushed))
	require.Len(t, flushed, 3)
}

func TestRingFlushWritesNothingWhenEmpty(t *testing.T) {
	dir := t.TempDir()
	r := NewRing(DefaultConfig(dir), nil)
	require.NoError(t, r.Flush())

	entries, err := os.ReadDir(dir)
	if err == nil {
		require.Len(t, entries, 0)
	}
}

func TestRingDropsWhenFlushCannotMakeRoom(t *testing.T) {
	// Use a directory path that can't be created (a file, not a dir) so
	// writeSnapshot fails and Push must fall back to dropping instead
	// of blocking.
	base := t.TempDir()
	blocker := filepath.Join(base, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	badDir := filepath.Join(blocker, "nested")

	r := NewRing(Config{Dir: badDir, MaxSize: 1, FlushEvery: time.Hour}, nil)
	r.Push(Packet{Timestamp: 1})
	r.Push(Packet{Timestamp: 2})

	require.Equal(t, int64(1), r.Drops())
}
