package openflow

import (
	"encoding/binary"
	"fmt"
	"net"
)

// OXM field numbers from the OpenFlow basic match class (ofp_oxm_ofb_match_fields).
// Only the fields this controller's match granularity needs (§4.7, §6) are
// implemented; any other field number is rejected rather than silently
// ignored (an explicit SPEC_FULL.md decision, see DESIGN.md).
const (
	oxmClassOpenflowBasic uint16 = 0x8000

	oxmFieldInPort  uint8 = 0
	oxmFieldEthDst  uint8 = 3
	oxmFieldEthSrc  uint8 = 4
	oxmFieldEthType uint8 = 5
	oxmFieldIPProto uint8 = 10
	oxmFieldIPv4Src uint8 = 11
	oxmFieldIPv4Dst uint8 = 12
	oxmFieldTCPSrc  uint8 = 13
	oxmFieldTCPDst  uint8 = 14
	oxmFieldUDPSrc  uint8 = 15
	oxmFieldUDPDst  uint8 = 16
)

const matchTypeOXM uint16 = 1

// A Match describes the fields a FLOW_MOD or PACKET_IN match narrows
// on. Every field is optional; nil/zero-value pointers mean "don't
// care". This mirrors the teacher's Match/parseMatch split (ovs/ovs.go,
// ovs/matchparser.go) where each wildcard-able field has its own
// constructor, except here the fields are collected on one struct
// because OF1.3 OXM TLVs are positional, not textual.
type Match struct {
	InPort   *uint32
	EthSrc   net.HardwareAddr
	EthDst   net.HardwareAddr
	EthType  *uint16
	IPProto  *uint8
	IPv4Src  net.IP
	IPv4Dst  net.IP
	TCPSrc   *uint16
	TCPDst   *uint16
	UDPSrc   *uint16
	UDPDst   *uint16
}

// IsWildcard reports whether m has no fields set (a match-all, used for
// table-miss and bulk flow removal).
func (m Match) IsWildcard() bool {
	return m.InPort == nil && m.EthSrc == nil && m.EthDst == nil &&
		m.EthType == nil && m.IPProto == nil && m.IPv4Src == nil &&
		m.IPv4Dst == nil && m.TCPSrc == nil && m.TCPDst == nil &&
		m.UDPSrc == nil && m.UDPDst == nil
}

func appendOXM(b []byte, field uint8, payload []byte) []byte {
	tlv := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint16(tlv[0:2], oxmClassOpenflowBasic)
	tlv[2] = field << 1
	tlv[3] = byte(len(payload))
	copy(tlv[4:], payload)
	return append(b, tlv...)
}

// MarshalBinary encodes the match as an ofp_match header followed by
// its OXM TLVs, padded to a multiple of 8 bytes as OF1.3 requires.
func (m Match) MarshalBinary() ([]byte, error) {
	var body []byte

	if m.InPort != nil {
		p := make([]byte, 4)
		binary.BigEndian.PutUint32(p, *m.InPort)
		body = appendOXM(body, oxmFieldInPort, p)
	}
	if m.EthSrc != nil {
		if len(m.EthSrc) != 6 {
			return nil, fmt.Errorf("openflow: eth_src must be 6 bytes")
		}
		body = appendOXM(body, oxmFieldEthSrc, []byte(m.EthSrc))
	}
	if m.EthDst != nil {
		if len(m.EthDst) != 6 {
			return nil, fmt.Errorf("openflow: eth_dst must be 6 bytes")
		}
		body = appendOXM(body, oxmFieldEthDst, []byte(m.EthDst))
	}
	if m.EthType != nil {
		p := make([]byte, 2)
		binary.BigEndian.PutUint16(p, *m.EthType)
		body = appendOXM(body, oxmFieldEthType, p)
	}
	if m.IPProto != nil {
		body = appendOXM(body, oxmFieldIPProto, []byte{*m.IPProto})
	}
	if m.IPv4Src != nil {
		ip4 := m.IPv4Src.To4()
		if ip4 == nil {
			return nil, fmt.Errorf("openflow: ipv4_src is not an IPv4 address")
		}
		body = appendOXM(body, oxmFieldIPv4Src, []byte(ip4))
	}
	if m.IPv4Dst != nil {
		ip4 := m.IPv4Dst.To4()
		if ip4 == nil {
			return nil, fmt.Errorf("openflow: ipv4_dst is not an IPv4 address")
		}
		body = appendOXM(body, oxmFieldIPv4Dst, []byte(ip4))
	}
	if m.TCPSrc != nil {
		p := make([]byte, 2)
		binary.BigEndian.PutUint16(p, *m.TCPSrc)
		body = appendOXM(body, oxmFieldTCPSrc, p)
	}
	if m.TCPDst != nil {
		p := make([]byte, 2)
		binary.BigEndian.PutUint16(p, *m.TCPDst)
		body = appendOXM(body, oxmFieldTCPDst, p)
	}
	if m.UDPSrc != nil {
		p := make([]byte, 2)
		binary.BigEndian.PutUint16(p, *m.UDPSrc)
		body = appendOXM(body, oxmFieldUDPSrc, p)
	}
	if m.UDPDst != nil {
		p := make([]byte, 2)
		binary.BigEndian.PutUint16(p, *m.UDPDst)
		body = appendOXM(body, oxmFieldUDPDst, p)
	}

	header := make([]byte, 4)
	binary.BigEndian.PutUint16(header[0:2], matchTypeOXM)
	binary.BigEndian.PutUint16(header[2:4], uint16(4+len(body)))

	out := append(header, body...)
	for len(out)%8 != 0 {
		out = append(out, 0)
	}
	return out, nil
}

// UnmarshalMatch decodes an ofp_match (header + OXM TLVs) from b and
// returns the number of bytes consumed (including padding), so callers
// can continue parsing the rest of a message.
func UnmarshalMatch(b []byte) (Match, int, error) {
	var m Match
	if len(b) < 4 {
		return m, 0, fmt.Errorf("openflow: short match header")
	}
	typ := binary.BigEndian.Uint16(b[0:2])
	length := binary.BigEndian.Uint16(b[2:4])
	if typ != matchTypeOXM {
		return m, 0, fmt.Errorf("openflow: unsupported match type %d", typ)
	}
	if int(length) > len(b) {
		return m, 0, fmt.Errorf("openflow: match length %d exceeds buffer", length)
	}

	body := b[4:length]
	for len(body) > 0 {
		if len(body) < 4 {
			return m, 0, fmt.Errorf("openflow: truncated OXM TLV")
		}
		field := body[2] >> 1
		l := int(body[3])
		if len(body) < 4+l {
			return m, 0, fmt.Errorf("openflow: truncated OXM TLV payload")
		}
		payload := body[4 : 4+l]

		switch field {
		case oxmFieldInPort:
			v := binary.BigEndian.Uint32(payload)
			m.InPort = &v
		case oxmFieldEthSrc:
			mac := make(net.HardwareAddr, 6)
			copy(mac, payload)
			m.EthSrc = mac
		case oxmFieldEthDst:
			mac := make(net.HardwareAddr, 6)
			copy(mac, payload)
			m.EthDst = mac
		case oxmFieldEthType:
			v := binary.BigEndian.Uint16(payload)
			m.EthType = &v
		case oxmFieldIPProto:
			v := payload[0]
			m.IPProto = &v
		case oxmFieldIPv4Src:
			m.IPv4Src = net.IP(append([]byte(nil), payload...))
		case oxmFieldIPv4Dst:
			m.IPv4Dst = net.IP(append([]byte(nil), payload...))
		case oxmFieldTCPSrc:
			v := binary.BigEndian.Uint16(payload)
			m.TCPSrc = &v
		case oxmFieldTCPDst:
			v := binary.BigEndian.Uint16(payload)
			m.TCPDst = &v
		case oxmFieldUDPSrc:
			v := binary.BigEndian.Uint16(payload)
			m.UDPSrc = &v
		case oxmFieldUDPDst:
			v := binary.BigEndian.Uint16(payload)
			m.UDPDst = &v
		default:
			return m, 0, fmt.Errorf("openflow: unsupported OXM field %d", field)
		}

		body = body[4+l:]
	}

	total := int(length)
	for total%8 != 0 {
		total++
	}
	return m, total, nil
}
