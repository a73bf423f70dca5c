package protocol

import (
	"errors"
	"fmt"

	"github.com/danmuck/mcwire/internal/protocol/frame"
)

var (
	ErrUnregisteredMessage = errors.New("protocol: unregistered message")
	ErrUnknownMessageID    = errors.New("protocol: unknown message id")
	ErrMalformedPayload    = errors.New("protocol: malformed payload")
	ErrFrameTooLarge       = errors.New("protocol: frame too large")
	ErrUnexpectedPhase     = errors.New("protocol: unexpected phase")
	ErrSerialization       = errors.New("protocol: serialization failed")

	ErrTruncated     = errors.New("protocol: truncated data")
	ErrInvalidLength = errors.New("protocol: invalid length")
	ErrBadVarInt     = errors.New("protocol: malformed varint")
	ErrStringTooLong = errors.New("protocol: string too long")
	ErrInvalidUTF8   = errors.New("protocol: invalid utf-8")
	ErrInvalidEnum   = errors.New("protocol: enum value out of range")
	ErrInvalidBool   = errors.New("protocol: invalid bool value")
	ErrTrailingBytes = errors.New("protocol: trailing bytes after message")
)

// UnregisteredMessageError reports a message type with no ID in any phase.
type UnregisteredMessageError struct {
	Type      Type
	Phase     Phase
	Direction Direction
}

func (e *UnregisteredMessageError) Error() string {
	return fmt.Sprintf("protocol: message %q is not registered (phase=%s direction=%s)", e.Type, e.Phase, e.Direction)
}

func (e *UnregisteredMessageError) Unwrap() error { return ErrUnregisteredMessage }

// UnknownMessageIDError reports a wire ID missing from the active table.
type UnknownMessageIDError struct {
	ID        int32
	Phase     Phase
	Direction Direction
}

func (e *UnknownMessageIDError) Error() string {
	return fmt.Sprintf("protocol: unknown message id 0x%02x (phase=%s direction=%s)", e.ID, e.Phase, e.Direction)
}

func (e *UnknownMessageIDError) Unwrap() error { return ErrUnknownMessageID }

// MalformedPayloadError reports a field that could not be parsed.
type MalformedPayloadError struct {
	Type  Type
	Phase Phase
	Err   error
}

func (e *MalformedPayloadError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("protocol: malformed payload (phase=%s): %v", e.Phase, e.Err)
	}
	return fmt.Sprintf("protocol: malformed %q payload (phase=%s): %v", e.Type, e.Phase, e.Err)
}

func (e *MalformedPayloadError) Unwrap() []error { return []error{ErrMalformedPayload, e.Err} }

// FrameTooLargeError reports a payload over the frame ceiling.
type FrameTooLargeError struct {
	Type Type
	Size int
	Max  int
}

func (e *FrameTooLargeError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("protocol: frame of %d bytes exceeds maximum of %d", e.Size, e.Max)
	}
	return fmt.Sprintf("protocol: %q frame of %d bytes exceeds maximum of %d", e.Type, e.Size, e.Max)
}

func (e *FrameTooLargeError) Unwrap() error { return ErrFrameTooLarge }

// UnexpectedPhaseError reports a message used outside the phases that define it.
type UnexpectedPhaseError struct {
	Type     Type
	Phase    Phase
	Expected []Phase
}

func (e *UnexpectedPhaseError) Error() string {
	return fmt.Sprintf("protocol: message %q not valid in phase %s (valid: %v)", e.Type, e.Phase, e.Expected)
}

func (e *UnexpectedPhaseError) Unwrap() error { return ErrUnexpectedPhase }

// SerializationError reports a message whose own Encode failed.
type SerializationError struct {
	Type      Type
	Skippable bool
	Err       error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("protocol: encode %q failed (skippable=%t): %v", e.Type, e.Skippable, e.Err)
}

func (e *SerializationError) Unwrap() []error { return []error{ErrSerialization, e.Err} }

// IsFatal reports whether err must terminate the connection. Only
// serialization failures of skippable messages are survivable.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var serr *SerializationError
	if errors.As(err, &serr) {
		return !serr.Skippable
	}
	return true
}

// Kind returns a stable metric label for err.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrUnregisteredMessage):
		return "unregistered_message"
	case errors.Is(err, ErrUnknownMessageID):
		return "unknown_message_id"
	case errors.Is(err, ErrMalformedPayload):
		return "malformed_payload"
	case errors.Is(err, ErrFrameTooLarge), errors.Is(err, frame.ErrFrameTooLarge):
		return "frame_too_large"
	case errors.Is(err, ErrUnexpectedPhase):
		return "unexpected_phase"
	case errors.Is(err, ErrSerialization):
		return "serialization"
	default:
		return "transport"
	}
}
