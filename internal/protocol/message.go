package protocol

// Type tags one message kind. Tags are unique across the catalog.
type Type string

// Message is one typed unit carried by exactly one frame. Encode and Decode
// must write and read fields in the same fixed order.
type Message interface {
	Type() Type
	Encode(w *Writer) error
	Decode(r *Reader) error
}

// Skippable is implemented by messages whose serialization failures may be
// dropped by the transport instead of terminating the connection.
type Skippable interface {
	Skippable() bool
}

// Transition is implemented by messages that move the connection to another
// phase once they have been sent or handled.
type Transition interface {
	NextPhase() Phase
}

// Factory builds an empty message ready for Decode.
type Factory func() Message

// IsSkippable reports whether m opted into per-frame drop semantics.
func IsSkippable(m Message) bool {
	s, ok := m.(Skippable)
	return ok && s.Skippable()
}

// NextPhase returns the phase m transitions to, if any.
func NextPhase(m Message) (Phase, bool) {
	t, ok := m.(Transition)
	if !ok {
		return 0, false
	}
	return t.NextPhase(), true
}
