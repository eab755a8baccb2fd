package openflow

import (
	"encoding/binary"
	"fmt"
)

// PacketInReason explains why a switch punted a packet (ofp_packet_in_reason).
type PacketInReason uint8

const (
	ReasonNoMatch    PacketInReason = 0
	ReasonAction     PacketInReason = 1
	ReasonInvalidTTL PacketInReason = 2
)

// PacketIn is a decoded PACKET_IN body.
type PacketIn struct {
	BufferID uint32
	TotalLen uint16
	Reason   PacketInReason
	TableID  uint8
	Cookie   uint64
	Match    Match
	Data     []byte
}

const packetInFixedLen = 16 // buffer_id, total_len, reason, table_id, cookie

// UnmarshalPacketIn decodes a PACKET_IN message body.
func UnmarshalPacketIn(b []byte) (PacketIn, error) {
	var p PacketIn
	if len(b) < packetInFixedLen {
		return p, fmt.Errorf("openflow: short packet_in: %d bytes", len(b))
	}
	p.BufferID = binary.BigEndian.Uint32(b[0:4])
	p.TotalLen = binary.BigEndian.Uint16(b[4:6])
	p.Reason = PacketInReason(b[6])
	p.TableID = b[7]
	p.Cookie = binary.BigEndian.Uint64(b[8:16])

	rest := b[packetInFixedLen:]
	match, consumed, err := UnmarshalMatch(rest)
	if err != nil {
		return p, fmt.Errorf("openflow: decode packet_in match: %w", err)
	}
	p.Match = match

	rest = rest[consumed:]
	// Two bytes of padding follow the match per the spec, then the
	// Ethernet frame.
	if len(rest) < 2 {
		return p, fmt.Errorf("openflow: truncated packet_in after match")
	}
	p.Data = append([]byte(nil), rest[2:]...)

	return p, nil
}

// InPort returns the ingress port carried in the packet_in match, or
// (0, false) if it is somehow absent.
func (p PacketIn) InPort() (uint32, bool) {
	if p.Match.InPort == nil {
		return 0, false
	}
	return *p.Match.InPort, true
}

// PacketOut is a PACKET_OUT message body.
type PacketOut struct {
	BufferID uint32
	InPort   uint32
	Actions  [][]byte
	Data     []byte
}

// MarshalBinary encodes the PACKET_OUT body.
func (p PacketOut) MarshalBinary() ([]byte, error) {
	var actions []byte
	for _, a := range p.Actions {
		actions = append(actions, a...)
	}

	b := make([]byte, 16)
	binary.BigEndian.PutUint32(b[0:4], p.BufferID)
	binary.BigEndian.PutUint32(b[4:8], p.InPort)
	binary.BigEndian.PutUint16(b[8:10], uint16(len(actions)))
	// 6 bytes padding

	out := append(b, actions...)
	out = append(out, p.Data...)
	return out, nil
}

// FloodPacketOut builds a PACKET_OUT that floods data out of every
// port except inPort (§4.3 unknown-host fallback, §4.6 step 1).
func FloodPacketOut(inPort uint32, data []byte) PacketOut {
	return PacketOut{
		BufferID: NoBuffer,
		InPort:   inPort,
		Actions:  [][]byte{ActionOutput(FloodPort)},
		Data:     data,
	}
}

// DirectPacketOut builds a PACKET_OUT that sends data out a single
// egress port, used to avoid losing the triggering packet of a newly
// routed flow (§4.1 packet_out, §4.7).
func DirectPacketOut(egressPort uint32, data []byte) PacketOut {
	return PacketOut{
		BufferID: NoBuffer,
		InPort:   ControllerPort,
		Actions:  [][]byte{ActionOutput(egressPort)},
		Data:     data,
	}
}
