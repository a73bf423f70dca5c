package packets

import (
	"fmt"

	"github.com/danmuck/mcwire/internal/protocol"
	"github.com/danmuck/mcwire/internal/signature"
	"github.com/google/uuid"
)

const (
	TypeChatSessionUpdate protocol.Type = "play/chat_session_update"
	TypeChat              protocol.Type = "play/chat"
	TypePlayerChat        protocol.Type = "play/player_chat"
	TypeSystemChat        protocol.Type = "play/system_chat"

	MaxChatChars      = 256
	MaxPublicKeyBytes = 512
	resultCount       = 3
)

// ChatSessionUpdate announces the public key that signs the sender's chat.
// PublicKey is in the SSH wire format.
type ChatSessionUpdate struct {
	SessionID uuid.UUID
	ExpiresAt int64
	PublicKey []byte
}

func (*ChatSessionUpdate) Type() protocol.Type { return TypeChatSessionUpdate }

func (m *ChatSessionUpdate) Encode(w *protocol.Writer) error {
	w.UUID(m.SessionID)
	w.Long(m.ExpiresAt)
	return w.ByteArray(m.PublicKey, MaxPublicKeyBytes)
}

func (m *ChatSessionUpdate) Decode(r *protocol.Reader) error {
	var err error
	if m.SessionID, err = r.UUID(); err != nil {
		return err
	}
	if m.ExpiresAt, err = r.Long(); err != nil {
		return err
	}
	m.PublicKey, err = r.ByteArray(MaxPublicKeyBytes)
	return err
}

// Chat is a player-authored message, optionally signed and chained to the
// sender's previous signature.
type Chat struct {
	Message           string
	Timestamp         int64
	Salt              int64
	Signature         signature.MessageSignature
	PreviousSignature signature.MessageSignature
}

func (*Chat) Type() protocol.Type { return TypeChat }

func (m *Chat) Encode(w *protocol.Writer) error {
	if err := w.String(m.Message, MaxChatChars); err != nil {
		return err
	}
	w.Long(m.Timestamp)
	w.Long(m.Salt)
	if err := w.OptionalByteArray(m.Signature, signature.MaxBytes); err != nil {
		return err
	}
	return w.OptionalByteArray(m.PreviousSignature, signature.MaxBytes)
}

func (m *Chat) Decode(r *protocol.Reader) error {
	var err error
	if m.Message, err = r.String(MaxChatChars); err != nil {
		return err
	}
	if m.Timestamp, err = r.Long(); err != nil {
		return err
	}
	if m.Salt, err = r.Long(); err != nil {
		return err
	}
	if m.Signature, err = r.OptionalByteArray(signature.MaxBytes); err != nil {
		return err
	}
	m.PreviousSignature, err = r.OptionalByteArray(signature.MaxBytes)
	return err
}

// Body returns the signed body the chat signature covers.
func (m *Chat) Body() signature.SignedMessageBody {
	return signature.SignedMessageBody{
		Content:   m.Message,
		Timestamp: m.Timestamp,
		Salt:      m.Salt,
	}
}

// PlayerChat relays a chat message with the trust verdict reached for it.
type PlayerChat struct {
	Sender     uuid.UUID
	SenderName string
	Message    string
	Trust      signature.Result
}

func (*PlayerChat) Type() protocol.Type { return TypePlayerChat }

func (m *PlayerChat) Encode(w *protocol.Writer) error {
	w.UUID(m.Sender)
	if err := w.String(m.SenderName, MaxPlayerNameChars); err != nil {
		return err
	}
	if err := w.String(m.Message, MaxChatChars); err != nil {
		return err
	}
	return w.Enum(int32(m.Trust), resultCount)
}

func (m *PlayerChat) Decode(r *protocol.Reader) error {
	var err error
	if m.Sender, err = r.UUID(); err != nil {
		return err
	}
	if m.SenderName, err = r.String(MaxPlayerNameChars); err != nil {
		return err
	}
	if m.Message, err = r.String(MaxChatChars); err != nil {
		return err
	}
	trust, err := r.Enum(resultCount)
	if err != nil {
		return fmt.Errorf("trust: %w", err)
	}
	m.Trust = signature.Result(trust)
	return nil
}

// SystemChat is server-authored text. Dropping one is survivable.
type SystemChat struct {
	Content string
	Overlay bool
}

func (*SystemChat) Type() protocol.Type { return TypeSystemChat }

func (*SystemChat) Skippable() bool { return true }

func (m *SystemChat) Encode(w *protocol.Writer) error {
	if err := w.String(m.Content, protocol.DefaultStringChars); err != nil {
		return err
	}
	w.Bool(m.Overlay)
	return nil
}

func (m *SystemChat) Decode(r *protocol.Reader) error {
	var err error
	if m.Content, err = r.String(protocol.DefaultStringChars); err != nil {
		return err
	}
	m.Overlay, err = r.Bool()
	return err
}
