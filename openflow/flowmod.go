package openflow

import (
	"encoding/binary"
	"fmt"
)

// FlowModCommand selects the FLOW_MOD semantics (ofp_flow_mod_command).
type FlowModCommand uint8

// Commands this controller issues. §4.1/§4.7 only need add plus the
// two strict variants used by reroute/cleanup: modify and delete.
const (
	FlowAdd          FlowModCommand = 0
	FlowModifyStrict FlowModCommand = 2
	FlowDeleteStrict FlowModCommand = 4
)

// AllTables targets every flow table on DELETE_STRICT (§4.1 cleanup).
const AllTables uint8 = 0xff

// DefaultIdleTimeout and DefaultHardTimeout are the defaults named in
// spec.md §4.1: 30s idle, 300s hard, unless the caller pins the flow.
const (
	DefaultIdleTimeout uint16 = 30
	DefaultHardTimeout uint16 = 300
)

// TableMissPriority is the priority of the catch-all rule installed on
// every switch at handshake time.
const TableMissPriority uint16 = 0

// FlowMod is a FLOW_MOD message body.
type FlowMod struct {
	Cookie       uint64
	CookieMask   uint64
	TableID      uint8
	Command      FlowModCommand
	IdleTimeout  uint16
	HardTimeout  uint16
	Priority     uint16
	BufferID     uint32
	OutPort      uint32 // used only by DELETE* to restrict by egress port; 0=any (OFPP_ANY)
	Match        Match
	Instructions [][]byte
}

const flowModFixedLen = 40 // through out_group, excluding match and instructions

// MarshalBinary encodes the FLOW_MOD body (header is added by the
// session writer).
func (f FlowMod) MarshalBinary() ([]byte, error) {
	match, err := f.Match.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("openflow: encode flow_mod match: %w", err)
	}

	b := make([]byte, flowModFixedLen)
	binary.BigEndian.PutUint64(b[0:8], f.Cookie)
	binary.BigEndian.PutUint64(b[8:16], f.CookieMask)
	b[16] = f.TableID
	b[17] = uint8(f.Command)
	binary.BigEndian.PutUint16(b[18:20], f.IdleTimeout)
	binary.BigEndian.PutUint16(b[20:22], f.HardTimeout)
	binary.BigEndian.PutUint16(b[22:24], f.Priority)
	binary.BigEndian.PutUint32(b[24:28], f.BufferID)
	outPort := f.OutPort
	if outPort == 0 {
		outPort = 0xffffffff // OFPP_ANY
	}
	binary.BigEndian.PutUint32(b[28:32], outPort)
	binary.BigEndian.PutUint32(b[32:36], 0xffffffff) // out_group: OFPG_ANY
	binary.BigEndian.PutUint16(b[36:38], 0)           // flags
	binary.BigEndian.PutUint16(b[38:40], 0)           // pad

	out := append(b, match...)
	for _, inst := range f.Instructions {
		out = append(out, inst...)
	}
	return out, nil
}

// TableMissFlowMod builds the FLOW_MOD that sends every unmatched
// packet on tableID to the controller, full packet, no buffering
// (spec.md §4.1 on_switch_up).
func TableMissFlowMod(tableID uint8) FlowMod {
	return FlowMod{
		TableID:     tableID,
		Command:     FlowAdd,
		Priority:    TableMissPriority,
		BufferID:    NoBuffer,
		IdleTimeout: 0,
		HardTimeout: 0,
		Match:       Match{},
		Instructions: [][]byte{
			InstructionApplyActions(ActionOutput(ControllerPort)),
		},
	}
}
