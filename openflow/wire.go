// Package openflow implements the slice of the OpenFlow 1.3 wire
// protocol this controller needs: HELLO, FEATURES request/reply,
// MULTIPART (port description, port stats), FLOW_MOD, PACKET_IN and
// PACKET_OUT. It favors explicit encoding/binary marshaling over the
// unsafe-cast approach the teacher's ovsnl package uses for Linux
// generic netlink headers (ovsnl/client.go's headerBytes/parseHeader) —
// OpenFlow messages cross a TCP socket to switches we don't control,
// so the wire format is validated field by field rather than cast.
package openflow

import (
	"encoding/binary"
	"fmt"
)

// Version is the OpenFlow protocol version this controller speaks.
const Version uint8 = 0x04 // OpenFlow 1.3

// MessageType identifies the body that follows a Header.
type MessageType uint8

// Message types used by this controller. Numbering matches the
// OpenFlow 1.3 wire specification (ofp_type).
const (
	TypeHello            MessageType = 0
	TypeError            MessageType = 1
	TypeEchoRequest      MessageType = 2
	TypeEchoReply        MessageType = 3
	TypeFeaturesRequest  MessageType = 5
	TypeFeaturesReply    MessageType = 6
	TypePacketIn         MessageType = 10
	TypeFlowRemoved      MessageType = 11
	TypePortStatus       MessageType = 12
	TypePacketOut        MessageType = 13
	TypeFlowMod          MessageType = 14
	TypeMultipartRequest MessageType = 18
	TypeMultipartReply   MessageType = 19
	TypeBarrierRequest   MessageType = 20
	TypeBarrierReply     MessageType = 21
)

func (t MessageType) String() string {
	switch t {
	case TypeHello:
		return "HELLO"
	case TypeError:
		return "ERROR"
	case TypeEchoRequest:
		return "ECHO_REQUEST"
	case TypeEchoReply:
		return "ECHO_REPLY"
	case TypeFeaturesRequest:
		return "FEATURES_REQUEST"
	case TypeFeaturesReply:
		return "FEATURES_REPLY"
	case TypePacketIn:
		return "PACKET_IN"
	case TypeFlowRemoved:
		return "FLOW_REMOVED"
	case TypePortStatus:
		return "PORT_STATUS"
	case TypePacketOut:
		return "PACKET_OUT"
	case TypeFlowMod:
		return "FLOW_MOD"
	case TypeMultipartRequest:
		return "MULTIPART_REQUEST"
	case TypeMultipartReply:
		return "MULTIPART_REPLY"
	case TypeBarrierRequest:
		return "BARRIER_REQUEST"
	case TypeBarrierReply:
		return "BARRIER_REPLY"
	default:
		return fmt.Sprintf("TYPE(%d)", uint8(t))
	}
}

// HeaderLen is the fixed size of an OpenFlow message header.
const HeaderLen = 8

// A Header prefixes every OpenFlow message on the wire.
type Header struct {
	Version uint8
	Type    MessageType
	Length  uint16
	Xid     uint32
}

// MarshalBinary encodes the header.
func (h Header) MarshalBinary() ([]byte, error) {
	b := make([]byte, HeaderLen)
	b[0] = h.Version
	b[1] = uint8(h.Type)
	binary.BigEndian.PutUint16(b[2:4], h.Length)
	binary.BigEndian.PutUint32(b[4:8], h.Xid)
	return b, nil
}

// UnmarshalBinary decodes the header from exactly HeaderLen bytes.
func (h *Header) UnmarshalBinary(b []byte) error {
	if len(b) < HeaderLen {
		return fmt.Errorf("openflow: short header: %d bytes", len(b))
	}
	h.Version = b[0]
	h.Type = MessageType(b[1])
	h.Length = binary.BigEndian.Uint16(b[2:4])
	h.Xid = binary.BigEndian.Uint32(b[4:8])
	return nil
}

// A HelloMessage is the first message exchanged on a new connection.
// This controller advertises only Version (no bitmap elements); it
// accepts any peer whose Version is >= 0x04.
type HelloMessage struct {
	Version uint8
}

// MarshalBinary encodes a bare HELLO with no elements, which is legal
// per the spec and sufficient since this controller only ever speaks
// OF 1.3.
func (m HelloMessage) MarshalBinary() ([]byte, error) {
	return nil, nil
}

// NegotiateVersion returns an error if peerVersion cannot interoperate
// with this controller's Version.
func NegotiateVersion(peerVersion uint8) error {
	if peerVersion < Version {
		return fmt.Errorf("openflow: unsupported peer version 0x%x, need >= 0x%x", peerVersion, Version)
	}
	return nil
}

// putMAC writes a 48-bit (MAC-sized) field to b, matching the OXM
// wire width for eth_src/eth_dst.
func putMAC(b []byte, mac [6]byte) {
	copy(b, mac[:])
}
