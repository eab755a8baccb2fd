package openflow

import "encoding/binary"

// Multipart types this controller speaks (ofp_multipart_type).
const (
	MultipartPortStats uint16 = 4
	MultipartPortDesc  uint16 = 13
)

// AllPorts requests statistics for every port (OFPP_ANY in a
// port-stats request).
const AllPorts uint32 = 0xffffffff

const multipartHeaderLen = 8

// MultipartRequest builds a MULTIPART_REQUEST body for the given type.
// body carries the type-specific request payload (empty for PORT_DESC,
// the port number for PORT_STATS).
func MultipartRequest(typ uint16, body []byte) []byte {
	h := make([]byte, multipartHeaderLen)
	binary.BigEndian.PutUint16(h[0:2], typ)
	// flags, pad: zero
	return append(h, body...)
}

// PortStatsRequestBody builds the body of a PORT_STATS multipart
// request scoped to a single port (or AllPorts).
func PortStatsRequestBody(port uint32) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint32(b[0:4], port)
	return b
}

// PortStatsEntry is one port's counters from a PORT_STATS reply
// (spec.md §3 Port, §4.2 link monitor).
type PortStatsEntry struct {
	PortNo   uint32
	RxBytes  uint64
	TxBytes  uint64
}

const portStatsEntryLen = 112

// MultipartReplyType reports the type field of a decoded multipart
// reply header, and returns the remaining body.
func MultipartReplyType(b []byte) (uint16, []byte, error) {
	if len(b) < multipartHeaderLen {
		return 0, nil, errShort("multipart_reply", len(b), multipartHeaderLen)
	}
	typ := binary.BigEndian.Uint16(b[0:2])
	return typ, b[multipartHeaderLen:], nil
}

// UnmarshalPortStats decodes a sequence of ofp_port_stats entries.
func UnmarshalPortStats(b []byte) ([]PortStatsEntry, error) {
	var entries []PortStatsEntry
	for len(b) >= portStatsEntryLen {
		var e PortStatsEntry
		e.PortNo = binary.BigEndian.Uint32(b[0:4])
		e.RxBytes = binary.BigEndian.Uint64(b[24:32])
		e.TxBytes = binary.BigEndian.Uint64(b[32:40])
		entries = append(entries, e)
		b = b[portStatsEntryLen:]
	}
	return entries, nil
}
