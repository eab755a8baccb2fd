package classify

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleCSV = `flow_id,src_host,dst_host,src_ip,dst_ip,src_port,dst_port,protocol,traffic_type,confidence,total_packets,total_bytes,flow_duration,packets_per_second
1,h1,h2,10.0.0.1,10.0.0.2,5000,22,tcp,SSH,0.98,120,45000,1.2,100
2,h3,h4,10.0.0.3,10.0.0.4,5001,443,tcp,HTTP,0.7,40,8000,0.5,80
`

func TestLoadAndLookup(t *testing.T) {
	tbl, err := Load(strings.NewReader(sampleCSV))
	require.NoError(t, err)

	rec, ok := tbl.Lookup("h1", "h2")
	require.True(t, ok)
	require.Equal(t, ClassSSH, rec.Class)
	require.Equal(t, 3, rec.Class.Priority())

	// Reverse direction must be synthesised.
	rev, ok := tbl.Lookup("h2", "h1")
	require.True(t, ok)
	require.Equal(t, ClassSSH, rev.Class)

	_, ok = tbl.Lookup("h5", "h6")
	require.False(t, ok)
}

func TestUnknownClassHasZeroPriority(t *testing.T) {
	require.Equal(t, 0, ClassUnknown.Priority())
	require.Equal(t, "UNKNOWN", ClassUnknown.String())
}

func TestMissingColumnRejected(t *testing.T) {
	_, err := Load(strings.NewReader("a,b,c\n1,2,3\n"))
	require.Error(t, err)
}

func TestClassPriorityOrdering(t *testing.T) {
	require.Equal(t, 4, ClassVideo.Priority())
	require.Equal(t, 3, ClassSSH.Priority())
	require.Equal(t, 2, ClassHTTP.Priority())
	require.Equal(t, 1, ClassFTP.Priority())
}
