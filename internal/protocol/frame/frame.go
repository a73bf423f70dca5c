package frame

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	// MaxPayloadBytes is the largest payload a peer may announce.
	MaxPayloadBytes = 8 * 1024 * 1024
	// MaxLengthPrefixBytes bounds the varint length prefix (int32 range).
	MaxLengthPrefixBytes = 5
)

var (
	ErrFrameTooLarge = errors.New("frame: frame too large")
	ErrEmptyFrame    = errors.New("frame: empty frame")
	ErrTruncated     = errors.New("frame: truncated frame")
	ErrBadLength     = errors.New("frame: malformed length prefix")
)

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxPayloadBytes int
}

func DefaultLimits() Limits {
	return Limits{MaxPayloadBytes: MaxPayloadBytes}
}

// WithDefaults fills unset limits.
func (l Limits) WithDefaults() Limits {
	if l.MaxPayloadBytes <= 0 {
		l.MaxPayloadBytes = MaxPayloadBytes
	}
	return l
}

// SizeError carries the observed and permitted payload sizes.
type SizeError struct {
	Size int
	Max  int
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("frame: payload of %d bytes exceeds maximum of %d", e.Size, e.Max)
}

func (e *SizeError) Unwrap() error {
	return ErrFrameTooLarge
}

// ReadFrame reads one length-prefixed payload. The announced length is
// checked against limits before any payload allocation.
func ReadFrame(r *bufio.Reader, limits Limits) ([]byte, error) {
	limits = limits.WithDefaults()
	length, err := readLength(r)
	if err != nil {
		return nil, err
	}
	if length == 0 {
		return nil, ErrEmptyFrame
	}
	if length > uint64(limits.MaxPayloadBytes) {
		return nil, &SizeError{Size: int(min(length, uint64(^uint32(0)>>1))), Max: limits.MaxPayloadBytes}
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, ErrTruncated
		}
		return nil, err
	}
	return payload, nil
}

// WriteFrame writes payload prefixed by its varint length in one Write call.
func WriteFrame(w io.Writer, payload []byte, limits Limits) error {
	limits = limits.WithDefaults()
	if len(payload) == 0 {
		return ErrEmptyFrame
	}
	if len(payload) > limits.MaxPayloadBytes {
		return &SizeError{Size: len(payload), Max: limits.MaxPayloadBytes}
	}
	buf := make([]byte, 0, protowire.SizeVarint(uint64(len(payload)))+len(payload))
	buf = protowire.AppendVarint(buf, uint64(len(payload)))
	buf = append(buf, payload...)
	_, err := w.Write(buf)
	return err
}

// AppendFrame appends the framed payload to dst without size checks.
func AppendFrame(dst []byte, payload []byte) []byte {
	dst = protowire.AppendVarint(dst, uint64(len(payload)))
	return append(dst, payload...)
}

// readLength decodes the varint length prefix one byte at a time so that
// a hostile peer cannot make the reader buffer more than five bytes.
func readLength(r io.ByteReader) (uint64, error) {
	var value uint64
	for i := 0; i < MaxLengthPrefixBytes; i++ {
		b, err := r.ReadByte()
		if err != nil {
			if i > 0 && errors.Is(err, io.EOF) {
				return 0, ErrTruncated
			}
			return 0, err
		}
		value |= uint64(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			return value, nil
		}
	}
	return 0, fmt.Errorf("%w: more than %d bytes", ErrBadLength, MaxLengthPrefixBytes)
}
