package hostmap

import (
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const sample = `# mac dpid port [host_id]
00:00:00:00:00:01 1 1 h1
00:00:00:00:00:02 1 2 h2
not a valid line
00:00:00:00:00:03 bad-dpid 3 h3
00:00:00:00:00:04 1 4
`

func TestLoadAndLocate(t *testing.T) {
	tbl := New(nil)
	require.NoError(t, tbl.Load(strings.NewReader(sample)))
	require.Equal(t, 3, tbl.Size())

	mac1, _ := net.ParseMAC("00:00:00:00:00:01")
	loc, err := tbl.Locate(mac1)
	require.NoError(t, err)
	require.Equal(t, uint64(1), loc.DPID)
	require.Equal(t, uint32(1), loc.Port)

	hostID, ok := tbl.HostID(mac1)
	require.True(t, ok)
	require.Equal(t, "h1", hostID)

	mac4, _ := net.ParseMAC("00:00:00:00:00:04")
	_, ok = tbl.HostID(mac4)
	require.False(t, ok, "host with no symbolic id has none")

	macUnknown, _ := net.ParseMAC("aa:aa:aa:aa:aa:aa")
	_, err = tbl.Locate(macUnknown)
	require.Error(t, err)
}

func TestLearnIgnoresPortMismatch(t *testing.T) {
	tbl := New(nil)
	require.NoError(t, tbl.Load(strings.NewReader(sample)))

	mac1, _ := net.ParseMAC("00:00:00:00:00:01")
	tbl.Learn(mac1, 1, 99) // different port than seeded

	loc, err := tbl.Locate(mac1)
	require.NoError(t, err)
	require.Equal(t, uint32(1), loc.Port, "seeded port must win over a mismatched observation")
}

func TestLearnNewHost(t *testing.T) {
	tbl := New(nil)
	mac, _ := net.ParseMAC("00:00:00:00:00:ff")
	tbl.Learn(mac, 2, 5)

	loc, err := tbl.Locate(mac)
	require.NoError(t, err)
	require.Equal(t, uint64(2), loc.DPID)
	require.Equal(t, uint32(5), loc.Port)
}

func TestReseedSwitch(t *testing.T) {
	tbl := New(nil)
	require.NoError(t, tbl.Load(strings.NewReader(sample)))
	tbl.ReseedSwitch(1)
	require.Equal(t, 0, tbl.Size())
}

func TestLoadFileForSwitchDoesNotWipeOtherSwitchesEntries(t *testing.T) {
	tbl := New(nil)
	require.NoError(t, tbl.Load(strings.NewReader(
		"00:00:00:00:00:01 1 1 h1\n00:00:00:00:00:02 2 1 h2\n",
	)))

	// dpid 2 reactively learns a host that isn't in the seed file.
	mac3, _ := net.ParseMAC("00:00:00:00:00:03")
	tbl.Learn(mac3, 2, 9)

	path := filepath.Join(t.TempDir(), "hosts.txt")
	require.NoError(t, os.WriteFile(path, []byte("00:00:00:00:00:01 1 1 h1\n00:00:00:00:00:02 2 1 h2\n"), 0o644))

	// dpid 1 reconnects: reseed scoped to dpid 1 only.
	tbl.ReseedSwitch(1)
	require.NoError(t, tbl.LoadFileForSwitch(path, 1))

	mac1, _ := net.ParseMAC("00:00:00:00:00:01")
	_, err := tbl.Locate(mac1)
	require.NoError(t, err, "dpid 1's own entry must be re-seeded from file")

	_, err = tbl.Locate(mac3)
	require.NoError(t, err, "dpid 2's reactively-learned entry must survive dpid 1's reconnect")

	mac2, _ := net.ParseMAC("00:00:00:00:00:02")
	_, err = tbl.Locate(mac2)
	require.NoError(t, err, "dpid 2's file-seeded entry must survive dpid 1's reconnect")
}

func TestLoadSeedsIPIndexFromOptionalFifthField(t *testing.T) {
	tbl := New(nil)
	require.NoError(t, tbl.Load(strings.NewReader(
		"00:00:00:00:00:01 1 1 h1 10.0.0.1\n00:00:00:00:00:02 1 2 h2 not-an-ip\n",
	)))

	hostID, ok := tbl.HostIDByIP(net.ParseIP("10.0.0.1"))
	require.True(t, ok)
	require.Equal(t, "h1", hostID)

	_, ok = tbl.HostIDByIP(net.ParseIP("10.0.0.2"))
	require.False(t, ok, "malformed ip field must be skipped, not seeded")
}
