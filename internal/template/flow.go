package template

// Flow is an ordered sequence of Packet Templates driven through a
// session: the prelude flow once at startup, the main flow cyclically
// under timer control.
type Flow []Packet

// Clone returns a deep copy of f. Every Sender needs its own copy of
// both flows because actions mutate a packet's local-variable cell (via
// the Session's Store) but the substitution step writes variable bytes
// straight into Packet.Payload, which is shared state if the slice were
// shared across senders.
func (f Flow) Clone() Flow {
	out := make(Flow, len(f))
	copy(out, f)
	return out
}
