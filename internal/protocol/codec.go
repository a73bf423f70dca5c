package protocol

import (
	"fmt"

	"github.com/danmuck/mcwire/internal/protocol/frame"
)

// Codec converts messages to and from frame payloads. It never touches
// connection state: the caller passes the phase in on every call.
type Codec struct {
	proto  *Protocol
	limits frame.Limits
}

func NewCodec(proto *Protocol, limits frame.Limits) *Codec {
	return &Codec{proto: proto, limits: limits.WithDefaults()}
}

func (c *Codec) Protocol() *Protocol { return c.proto }

func (c *Codec) Limits() frame.Limits { return c.limits }

// Encode writes msg's ID and fields for dir in phase.
func (c *Codec) Encode(msg Message, dir Direction, phase Phase) ([]byte, error) {
	typ := msg.Type()
	id, ok := c.proto.Table(phase, dir).ID(typ)
	if !ok {
		if phases := c.proto.PhasesOf(typ, dir); len(phases) > 0 {
			return nil, &UnexpectedPhaseError{Type: typ, Phase: phase, Expected: phases}
		}
		return nil, &UnregisteredMessageError{Type: typ, Phase: phase, Direction: dir}
	}

	w := NewWriter(64)
	w.VarInt(id)
	if err := msg.Encode(w); err != nil {
		return nil, &SerializationError{Type: typ, Skippable: IsSkippable(msg), Err: err}
	}
	if w.Len() > c.limits.MaxPayloadBytes {
		return nil, &FrameTooLargeError{Type: typ, Size: w.Len(), Max: c.limits.MaxPayloadBytes}
	}
	return w.Bytes(), nil
}

// Decode reads the ID from payload, resolves it against the table for dir in
// phase and decodes the fields. Every byte must be consumed.
func (c *Codec) Decode(payload []byte, dir Direction, phase Phase) (Message, error) {
	if len(payload) > c.limits.MaxPayloadBytes {
		return nil, &FrameTooLargeError{Size: len(payload), Max: c.limits.MaxPayloadBytes}
	}
	r := NewReader(payload)
	id, err := r.VarInt()
	if err != nil {
		return nil, &MalformedPayloadError{Phase: phase, Err: fmt.Errorf("message id: %w", err)}
	}
	msg, ok := c.proto.Table(phase, dir).New(id)
	if !ok {
		return nil, &UnknownMessageIDError{ID: id, Phase: phase, Direction: dir}
	}
	if err := msg.Decode(r); err != nil {
		return nil, &MalformedPayloadError{Type: msg.Type(), Phase: phase, Err: err}
	}
	if r.Remaining() != 0 {
		return nil, &MalformedPayloadError{
			Type:  msg.Type(),
			Phase: phase,
			Err:   fmt.Errorf("%w: %d bytes", ErrTrailingBytes, r.Remaining()),
		}
	}
	return msg, nil
}
