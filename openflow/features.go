package openflow

import "encoding/binary"

// Capability bits this controller cares about (ofp_capabilities).
const (
	CapPortStats uint32 = 1 << 2
)

// FeaturesReply is the decoded body of an OFPT_FEATURES_REPLY, the
// handshake message that names the switch (spec.md §4.1).
type FeaturesReply struct {
	DatapathID   uint64
	NBuffers     uint32
	NTables      uint8
	Capabilities uint32
}

const featuresReplyLen = 24

// UnmarshalFeaturesReply decodes an OFPT_FEATURES_REPLY body.
func UnmarshalFeaturesReply(b []byte) (FeaturesReply, error) {
	var f FeaturesReply
	if len(b) < featuresReplyLen {
		return f, errShort("features_reply", len(b), featuresReplyLen)
	}
	f.DatapathID = binary.BigEndian.Uint64(b[0:8])
	f.NBuffers = binary.BigEndian.Uint32(b[8:12])
	f.NTables = b[12]
	f.Capabilities = binary.BigEndian.Uint32(b[16:20])
	return f, nil
}

func errShort(what string, got, want int) error {
	return &shortMessageError{what: what, got: got, want: want}
}

type shortMessageError struct {
	what     string
	got, want int
}

func (e *shortMessageError) Error() string {
	return "openflow: short " + e.what
}

// Port describes one switch port, decoded from an OFPMP_PORT_DESC
// reply (spec.md §3 Port).
type Port struct {
	PortNo uint32
	HWAddr [6]byte
	Name   string
	// Down reflects the OFPPS_LINK_DOWN bit of ofp_port_state
	// (§4.2).
	Down bool
}

const portDescEntryLen = 64

// UnmarshalPorts decodes a sequence of ofp_port entries from a
// MULTIPART(PORT_DESC) reply body.
func UnmarshalPorts(b []byte) ([]Port, error) {
	var ports []Port
	for len(b) >= portDescEntryLen {
		var p Port
		p.PortNo = binary.BigEndian.Uint32(b[0:4])
		copy(p.HWAddr[:], b[8:14])
		name := b[16:32]
		end := 0
		for end < len(name) && name[end] != 0 {
			end++
		}
		p.Name = string(name[:end])
		state := binary.BigEndian.Uint32(b[36:40])
		p.Down = state&1 != 0 // OFPPS_LINK_DOWN
		ports = append(ports, p)
		b = b[portDescEntryLen:]
	}
	return ports, nil
}
