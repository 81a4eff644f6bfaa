package template

import "fmt"

// CellSize is the maximum width, in bytes, of a single variable cell.
const CellSize = 32

// Store holds 8 fixed-width cells of up to CellSize bytes each. One Store
// instance exists per scope: a single shared Store for the global scope
// (read-only after configuration-time initialization), and one private
// Store per Session for the local scope.
type Store struct {
	cells [NumGlobalSlots][CellSize]byte
}

// Cell returns the raw bytes of cell i (0..7). The returned slice aliases
// the Store's backing array.
func (s *Store) Cell(i int) []byte {
	return s.cells[i][:]
}

// Set overwrites cell i with v, zero-padding or truncating to CellSize,
// the way internal/config's integer/string encoders populate a Store at
// configuration time.
func (s *Store) Set(i int, v []byte) error {
	if i < 0 || i >= NumGlobalSlots {
		return fmt.Errorf("template: cell index %d out of range", i)
	}
	n := copy(s.cells[i][:], v)
	for ; n < CellSize; n++ {
		s.cells[i][n] = 0
	}
	return nil
}

// VarDecls is the ordered Variable Declaration Table: up to 16 slots,
// 0..7 global and 8..15 local, each describing where inside a packet's
// payload the slot's value must be written. Built at configuration time
// and immutable thereafter.
type VarDecls struct {
	Sizes [NumSlots]uint8
	Offs  [NumSlots]uint32
}
