package packets

import (
	"fmt"

	"github.com/danmuck/mcwire/internal/protocol"
)

const (
	TypeIntention protocol.Type = "handshake/intention"

	MaxHostChars = 255
)

// Intent is the phase a client asks for after the handshake.
type Intent int32

const (
	IntentStatus Intent = 1
	IntentLogin  Intent = 2
)

func (i Intent) Valid() bool {
	return i == IntentStatus || i == IntentLogin
}

// Intention opens every connection.
type Intention struct {
	ProtocolVersion int32
	Host            string
	Port            uint16
	Intent          Intent
}

func (*Intention) Type() protocol.Type { return TypeIntention }

func (m *Intention) Encode(w *protocol.Writer) error {
	w.VarInt(m.ProtocolVersion)
	if err := w.String(m.Host, MaxHostChars); err != nil {
		return err
	}
	w.UnsignedShort(m.Port)
	if !m.Intent.Valid() {
		return fmt.Errorf("%w: intent %d", protocol.ErrInvalidEnum, m.Intent)
	}
	w.VarInt(int32(m.Intent))
	return nil
}

func (m *Intention) Decode(r *protocol.Reader) error {
	var err error
	if m.ProtocolVersion, err = r.VarInt(); err != nil {
		return err
	}
	if m.Host, err = r.String(MaxHostChars); err != nil {
		return err
	}
	if m.Port, err = r.UnsignedShort(); err != nil {
		return err
	}
	intent, err := r.VarInt()
	if err != nil {
		return err
	}
	m.Intent = Intent(intent)
	if !m.Intent.Valid() {
		return fmt.Errorf("%w: intent %d", protocol.ErrInvalidEnum, intent)
	}
	return nil
}

func (m *Intention) NextPhase() protocol.Phase {
	if m.Intent == IntentStatus {
		return protocol.PhaseStatus
	}
	return protocol.PhaseLogin
}
