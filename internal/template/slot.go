package template

// SlotRef is a 1-based reference into a VarDecls table. The zero value is
// the sentinel "no more entries" used inside Packet.Vars and
// Packet.Actions fixed-size arrays.
type SlotRef uint8

// NumGlobalSlots and NumLocalSlots bound the Variable Declaration Table:
// slots 0..7 are global, 8..15 are local.
const (
	NumGlobalSlots = 8
	NumLocalSlots  = 8
	NumSlots       = NumGlobalSlots + NumLocalSlots
)

// Valid reports whether r is a real (non-sentinel) slot reference.
func (r SlotRef) Valid() bool {
	return r != 0
}

// Index converts a 1-based slot-ref into a 0-based index into the
// Variable Declaration Table (0..15).
func (r SlotRef) Index() int {
	return int(r) - 1
}

// IsGlobalIndex reports whether decl index k (0-based, 0..15) names a
// global slot. Centralizes the "k < 8 -> global" predicate so it isn't
// duplicated between parse time and runtime.
func IsGlobalIndex(k int) bool {
	return k < NumGlobalSlots
}

// StoreIndex converts a 0-based decl index into the 0..7 cell index
// within whichever Store (global or local) owns it.
func StoreIndex(k int) int {
	if IsGlobalIndex(k) {
		return k
	}
	return k - NumGlobalSlots
}
