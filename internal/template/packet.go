package template

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MaxPayloadSize bounds a Packet's payload buffer.
const MaxPayloadSize = 1024

// MaxVarsPerPacket and MaxActionsPerPacket bound the fixed-capacity
// vars/actions arrays. Kept as plain arrays rather than slices: a
// deliberate deterministic-allocation choice for the hot send path
// rather than reaching for a growable container.
const (
	MaxVarsPerPacket    = 8
	MaxActionsPerPacket = 8
)

// Operator identifies a post-substitution mutation applied to a local
// variable cell. The zero value is the sentinel "no more actions".
type Operator uint8

const (
	opSentinel Operator = iota
	// OpIncrement treats the cell as a little-endian unsigned integer
	// and adds 1, wrapping at the field's width.
	OpIncrement
)

// Action pairs an Operator with the slot it mutates.
type Action struct {
	Op   Operator
	Slot SlotRef
}

var errCannotModifyGlobal = errors.New("template: cannot modify globals")
var errUnknownOperator = errors.New("template: unknown operator")

// Packet is a single template in a Flow: a payload buffer with
// variable-substitution and mutation metadata. The payload is mutated in
// place by ApplyVariables before every send.
type Packet struct {
	Payload     [MaxPayloadSize]byte
	PayloadSize uint32
	AnswerTag   uint32

	Vars    [MaxVarsPerPacket]SlotRef
	Actions [MaxActionsPerPacket]Action
}

// ApplyVariables performs variable substitution followed by local-slot
// mutation:
//
//  1. For each non-sentinel slot-ref in p.Vars (stopping at the first
//     sentinel), copy decls.Sizes[k] bytes from the resolved scope's cell
//     into p.Payload at decls.Offs[k].
//  2. For each non-sentinel action in p.Actions, apply its Operator to
//     the named local slot's cell. Referencing a global slot, or any
//     operator other than OpIncrement, is an error.
func (p *Packet) ApplyVariables(decls *VarDecls, global *Store, local *Store) error {
	for _, ref := range p.Vars {
		if !ref.Valid() {
			break
		}
		k := ref.Index()
		size := int(decls.Sizes[k])
		off := decls.Offs[k]

		var src *Store
		if IsGlobalIndex(k) {
			src = global
		} else {
			src = local
		}
		cell := src.Cell(StoreIndex(k))

		if uint64(off)+uint64(size) > uint64(len(p.Payload)) {
			return fmt.Errorf("template: variable slot %d writes past payload bounds", ref)
		}
		copy(p.Payload[off:uint64(off)+uint64(size)], cell[:size])
	}

	for _, act := range p.Actions {
		if !act.Op.Valid() {
			break
		}
		k := act.Slot.Index()
		size := int(decls.Sizes[k])

		if IsGlobalIndex(k) {
			return errCannotModifyGlobal
		}
		cell := local.Cell(StoreIndex(k))

		switch act.Op {
		case OpIncrement:
			incrementUint(cell[:size])
		default:
			return errUnknownOperator
		}
	}

	return nil
}

// Valid reports whether op is a real operator rather than the sentinel
// "no more actions" marker.
func (op Operator) Valid() bool {
	return op != opSentinel
}

// incrementUint treats b (length 1, 2, 4 or 8) as a little-endian
// unsigned integer and adds 1, wrapping on overflow.
func incrementUint(b []byte) {
	switch len(b) {
	case 1:
		b[0]++
	case 2:
		v := binary.LittleEndian.Uint16(b)
		binary.LittleEndian.PutUint16(b, v+1)
	case 4:
		v := binary.LittleEndian.Uint32(b)
		binary.LittleEndian.PutUint32(b, v+1)
	case 8:
		v := binary.LittleEndian.Uint64(b)
		binary.LittleEndian.PutUint64(b, v+1)
	}
}
