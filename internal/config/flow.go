package config

import (
	"encoding/hex"
	"fmt"

	"github.com/gsauthof/tcploadgen/internal/template"
)

var opByName = map[string]template.Operator{
	"inc": template.OpIncrement,
}

// parseFlow converts a TOML flow array (`[flow.prelude]` /
// `[flow.main]`) into a Flow of Packet Templates.
func parseFlow(pkts []rawPacket, var2id map[string]int) (template.Flow, error) {
	flow := make(template.Flow, len(pkts))
	for i, rp := range pkts {
		p, err := parsePacket(rp, var2id)
		if err != nil {
			return nil, fmt.Errorf("config: flow packet %d: %w", i, err)
		}
		flow[i] = p
	}
	return flow, nil
}

func parsePacket(rp rawPacket, var2id map[string]int) (template.Packet, error) {
	var p template.Packet

	payload, err := hex.DecodeString(rp.Pkt)
	if err != nil {
		return p, fmt.Errorf("pkt is not valid hex: %w", err)
	}
	if len(payload) > template.MaxPayloadSize {
		return p, fmt.Errorf("packet payload too large: %d bytes", len(payload))
	}
	copy(p.Payload[:], payload)
	p.PayloadSize = uint32(len(payload))
	p.AnswerTag = rp.AnswerTag

	if len(rp.Vars) > template.MaxVarsPerPacket {
		return p, fmt.Errorf("too many variables specified in packet")
	}
	for i, name := range rp.Vars {
		idx, ok := var2id[name]
		if !ok {
			return p, fmt.Errorf("unknown variable: %s", name)
		}
		p.Vars[i] = template.SlotRef(idx + 1)
	}

	if len(rp.Actions) > template.MaxActionsPerPacket {
		return p, fmt.Errorf("too many actions specified in packet")
	}
	for i, a := range rp.Actions {
		op, ok := opByName[a.Op]
		if !ok {
			return p, fmt.Errorf("unknown operator: %s", a.Op)
		}
		idx, ok := var2id[a.Name]
		if !ok {
			return p, fmt.Errorf("unknown variable: %s", a.Name)
		}
		if template.IsGlobalIndex(idx) {
			return p, fmt.Errorf("can't modify global variable %q with action", a.Name)
		}
		p.Actions[i] = template.Action{Op: op, Slot: template.SlotRef(idx + 1)}
	}

	return p, nil
}
