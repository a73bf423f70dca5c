package packets

import (
	"github.com/danmuck/mcwire/internal/protocol"
	"github.com/google/uuid"
)

const (
	TypeHello             protocol.Type = "login/hello"
	TypeLoginAcknowledged protocol.Type = "login/acknowledged"
	TypeLoginDisconnect   protocol.Type = "login/disconnect"
	TypeLoginFinished     protocol.Type = "login/finished"

	MaxPlayerNameChars = 16
)

type Hello struct {
	Name      string
	ProfileID uuid.UUID
}

func (*Hello) Type() protocol.Type { return TypeHello }

func (m *Hello) Encode(w *protocol.Writer) error {
	if err := w.String(m.Name, MaxPlayerNameChars); err != nil {
		return err
	}
	w.UUID(m.ProfileID)
	return nil
}

func (m *Hello) Decode(r *protocol.Reader) error {
	var err error
	if m.Name, err = r.String(MaxPlayerNameChars); err != nil {
		return err
	}
	m.ProfileID, err = r.UUID()
	return err
}

// LoginAcknowledged closes the login phase.
type LoginAcknowledged struct{}

func (*LoginAcknowledged) Type() protocol.Type { return TypeLoginAcknowledged }
func (*LoginAcknowledged) Encode(*protocol.Writer) error { return nil }
func (*LoginAcknowledged) Decode(*protocol.Reader) error { return nil }
func (*LoginAcknowledged) NextPhase() protocol.Phase { return protocol.PhaseConfiguration }

type LoginDisconnect struct {
	Reason string
}

func (*LoginDisconnect) Type() protocol.Type { return TypeLoginDisconnect }

func (m *LoginDisconnect) Encode(w *protocol.Writer) error {
	return w.String(m.Reason, protocol.DefaultStringChars)
}

func (m *LoginDisconnect) Decode(r *protocol.Reader) error {
	var err error
	m.Reason, err = r.String(protocol.DefaultStringChars)
	return err
}

type LoginFinished struct {
	ProfileID uuid.UUID
	Name      string
}

func (*LoginFinished) Type() protocol.Type { return TypeLoginFinished }

func (m *LoginFinished) Encode(w *protocol.Writer) error {
	w.UUID(m.ProfileID)
	return w.String(m.Name, MaxPlayerNameChars)
}

func (m *LoginFinished) Decode(r *protocol.Reader) error {
	var err error
	if m.ProfileID, err = r.UUID(); err != nil {
		return err
	}
	m.Name, err = r.String(MaxPlayerNameChars)
	return err
}
