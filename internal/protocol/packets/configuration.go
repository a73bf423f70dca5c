package packets

import (
	"fmt"

	"github.com/danmuck/mcwire/internal/protocol"
)

const (
	TypeClientInformation      protocol.Type = "configuration/client_information"
	TypeCustomPayload          protocol.Type = "common/custom_payload"
	TypeDisconnect             protocol.Type = "common/disconnect"
	TypeKeepAlive              protocol.Type = "common/keep_alive"
	TypeFinishConfiguration    protocol.Type = "configuration/finish"
	TypeFinishConfigurationAck protocol.Type = "configuration/finish_ack"

	MaxLocaleChars        = 16
	MaxCustomPayloadBytes = 32767
)

// ChatMode is the client's chat visibility preference.
type ChatMode int32

const (
	ChatEnabled ChatMode = iota
	ChatCommandsOnly
	ChatHidden

	chatModeCount = 3
)

type ClientInformation struct {
	Locale       string
	ViewDistance int8
	ChatMode     ChatMode
	ChatColors   bool
}

func (*ClientInformation) Type() protocol.Type { return TypeClientInformation }

func (m *ClientInformation) Encode(w *protocol.Writer) error {
	if err := w.String(m.Locale, MaxLocaleChars); err != nil {
		return err
	}
	w.Byte(m.ViewDistance)
	if err := w.Enum(int32(m.ChatMode), chatModeCount); err != nil {
		return err
	}
	w.Bool(m.ChatColors)
	return nil
}

func (m *ClientInformation) Decode(r *protocol.Reader) error {
	var err error
	if m.Locale, err = r.String(MaxLocaleChars); err != nil {
		return err
	}
	if m.ViewDistance, err = r.Byte(); err != nil {
		return err
	}
	mode, err := r.Enum(chatModeCount)
	if err != nil {
		return err
	}
	m.ChatMode = ChatMode(mode)
	m.ChatColors, err = r.Bool()
	return err
}

// CustomPayload is an opaque plugin-channel message. Losing one is not
// worth a disconnect.
type CustomPayload struct {
	Channel string
	Data    []byte
}

func (*CustomPayload) Type() protocol.Type { return TypeCustomPayload }

func (*CustomPayload) Skippable() bool { return true }

func (m *CustomPayload) Encode(w *protocol.Writer) error {
	if err := w.String(m.Channel, protocol.DefaultStringChars); err != nil {
		return err
	}
	if len(m.Data) > MaxCustomPayloadBytes {
		return fmt.Errorf("%w: custom payload of %d bytes", protocol.ErrInvalidLength, len(m.Data))
	}
	w.Raw(m.Data)
	return nil
}

func (m *CustomPayload) Decode(r *protocol.Reader) error {
	var err error
	if m.Channel, err = r.String(protocol.DefaultStringChars); err != nil {
		return err
	}
	m.Data, err = r.Rest(MaxCustomPayloadBytes)
	return err
}

// Disconnect carries the diagnostic reason for a server-side close in the
// configuration and play phases.
type Disconnect struct {
	Reason string
}

func (*Disconnect) Type() protocol.Type { return TypeDisconnect }

func (m *Disconnect) Encode(w *protocol.Writer) error {
	return w.String(m.Reason, protocol.DefaultStringChars)
}

func (m *Disconnect) Decode(r *protocol.Reader) error {
	var err error
	m.Reason, err = r.String(protocol.DefaultStringChars)
	return err
}

type KeepAlive struct {
	ID int64
}

func (*KeepAlive) Type() protocol.Type { return TypeKeepAlive }

func (m *KeepAlive) Encode(w *protocol.Writer) error {
	w.Long(m.ID)
	return nil
}

func (m *KeepAlive) Decode(r *protocol.Reader) error {
	var err error
	m.ID, err = r.Long()
	return err
}

// FinishConfiguration asks the client to leave configuration.
type FinishConfiguration struct{}

func (*FinishConfiguration) Type() protocol.Type { return TypeFinishConfiguration }
func (*FinishConfiguration) Encode(*protocol.Writer) error { return nil }
func (*FinishConfiguration) Decode(*protocol.Reader) error { return nil }

// FinishConfigurationAck moves both ends into play.
type FinishConfigurationAck struct{}

func (*FinishConfigurationAck) Type() protocol.Type { return TypeFinishConfigurationAck }
func (*FinishConfigurationAck) Encode(*protocol.Writer) error { return nil }
func (*FinishConfigurationAck) Decode(*protocol.Reader) error { return nil }
func (*FinishConfigurationAck) NextPhase() protocol.Phase { return protocol.PhasePlay }
