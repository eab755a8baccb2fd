package openflow

import "encoding/binary"

// Action types this controller emits (ofp_action_type). Output is the
// only action FLOW_MOD/PACKET_OUT ever needs here: the router computes
// a single egress port per hop and the installer never rewrites
// headers.
const (
	actionTypeOutput uint16 = 0
)

// ControllerPort is the pseudo-port number meaning "send to the
// controller", used by the table-miss rule and PACKET_OUT's in_port.
const ControllerPort uint32 = 0xfffffffd

// FloodPort is the pseudo-port number meaning "flood to all ports
// except the ingress one".
const FloodPort uint32 = 0xfffffffb

// NoBuffer marks a PACKET_OUT/PACKET_IN as carrying the full packet
// rather than referencing a buffer held by the switch.
const NoBuffer uint32 = 0xffffffff

const actionOutputLen = 16

// ActionOutput encodes an OFPAT_OUTPUT action sending to port, with no
// max_len truncation (0xffff, "send entire packet").
func ActionOutput(port uint32) []byte {
	b := make([]byte, actionOutputLen)
	binary.BigEndian.PutUint16(b[0:2], actionTypeOutput)
	binary.BigEndian.PutUint16(b[2:4], actionOutputLen)
	binary.BigEndian.PutUint32(b[4:8], port)
	binary.BigEndian.PutUint16(b[8:10], 0xffff) // max_len
	// 6 bytes padding
	return b
}

const instructionApplyActions uint16 = 4

// InstructionApplyActions wraps actions in an OFPIT_APPLY_ACTIONS
// instruction, the only instruction type this controller uses.
func InstructionApplyActions(actions ...[]byte) []byte {
	var body []byte
	for _, a := range actions {
		body = append(body, a...)
	}
	header := make([]byte, 8)
	binary.BigEndian.PutUint16(header[0:2], instructionApplyActions)
	binary.BigEndian.PutUint16(header[2:4], uint16(8+len(body)))
	return append(header, body...)
}
