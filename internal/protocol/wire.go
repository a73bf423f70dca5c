package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	// DefaultStringChars is the usual cap for string fields.
	DefaultStringChars = 32767
	// MaxVarIntBytes and MaxVarLongBytes bound varint width on the wire.
	MaxVarIntBytes  = 5
	MaxVarLongBytes = 10
)

// Writer appends wire fields to a growing payload buffer.
type Writer struct {
	buf []byte
}

func NewWriter(capHint int) *Writer {
	return &Writer{buf: make([]byte, 0, capHint)}
}

func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) Len() int { return len(w.buf) }

// VarInt writes v as an unsigned 7-bit group varint of its 32-bit pattern.
func (w *Writer) VarInt(v int32) {
	w.buf = protowire.AppendVarint(w.buf, uint64(uint32(v)))
}

func (w *Writer) VarLong(v int64) {
	w.buf = protowire.AppendVarint(w.buf, uint64(v))
}

func (w *Writer) Byte(v int8) {
	w.buf = append(w.buf, byte(v))
}

func (w *Writer) UnsignedByte(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *Writer) Bool(v bool) {
	b := byte(0)
	if v {
		b = 1
	}
	w.buf = append(w.buf, b)
}

func (w *Writer) Short(v int16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, uint16(v))
}

func (w *Writer) UnsignedShort(v uint16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
}

func (w *Writer) Int(v int32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(v))
}

func (w *Writer) Long(v int64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, uint64(v))
}

func (w *Writer) Double(v float64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, math.Float64bits(v))
}

func (w *Writer) UUID(id uuid.UUID) {
	w.buf = append(w.buf, id[:]...)
}

// String writes a varint byte length followed by UTF-8 bytes. maxChars
// bounds the rune count.
func (w *Writer) String(s string, maxChars int) error {
	if !utf8.ValidString(s) {
		return ErrInvalidUTF8
	}
	if n := utf8.RuneCountInString(s); n > maxChars {
		return fmt.Errorf("%w: %d chars, max %d", ErrStringTooLong, n, maxChars)
	}
	if len(s) > maxChars*3 {
		return fmt.Errorf("%w: %d bytes, max %d", ErrStringTooLong, len(s), maxChars*3)
	}
	w.VarInt(int32(len(s)))
	w.buf = append(w.buf, s...)
	return nil
}

// ByteArray writes a varint length followed by b.
func (w *Writer) ByteArray(b []byte, maxLen int) error {
	if len(b) > maxLen {
		return fmt.Errorf("%w: %d bytes, max %d", ErrInvalidLength, len(b), maxLen)
	}
	w.VarInt(int32(len(b)))
	w.buf = append(w.buf, b...)
	return nil
}

// OptionalByteArray writes a presence flag and, when b is non-nil, the array.
func (w *Writer) OptionalByteArray(b []byte, maxLen int) error {
	if b == nil {
		w.Bool(false)
		return nil
	}
	w.Bool(true)
	return w.ByteArray(b, maxLen)
}

// Enum writes v as a varint after checking it is within [0, count).
func (w *Writer) Enum(v, count int32) error {
	if v < 0 || v >= count {
		return fmt.Errorf("%w: %d not in [0,%d)", ErrInvalidEnum, v, count)
	}
	w.VarInt(v)
	return nil
}

// Raw appends b with no length prefix. Only valid as the last field.
func (w *Writer) Raw(b []byte) {
	w.buf = append(w.buf, b...)
}

// Reader consumes wire fields from a decoded frame payload.
type Reader struct {
	buf []byte
	off int
}

func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

func (r *Reader) Remaining() int { return len(r.buf) - r.off }

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, ErrTruncated
	}
	out := r.buf[r.off : r.off+n]
	r.off += n
	return out, nil
}

func (r *Reader) varint(maxBytes int) (uint64, error) {
	v, n := protowire.ConsumeVarint(r.buf[r.off:])
	if n < 0 {
		if r.Remaining() < maxBytes && allContinuation(r.buf[r.off:]) {
			return 0, ErrTruncated
		}
		return 0, fmt.Errorf("%w: %v", ErrBadVarInt, protowire.ParseError(n))
	}
	if n > maxBytes {
		return 0, fmt.Errorf("%w: %d bytes, max %d", ErrBadVarInt, n, maxBytes)
	}
	r.off += n
	return v, nil
}

func allContinuation(b []byte) bool {
	for _, c := range b {
		if c&0x80 == 0 {
			return false
		}
	}
	return true
}

func (r *Reader) VarInt() (int32, error) {
	v, err := r.varint(MaxVarIntBytes)
	if err != nil {
		return 0, err
	}
	if v > math.MaxUint32 {
		return 0, fmt.Errorf("%w: value overflows 32 bits", ErrBadVarInt)
	}
	return int32(uint32(v)), nil
}

func (r *Reader) VarLong() (int64, error) {
	v, err := r.varint(MaxVarLongBytes)
	if err != nil {
		return 0, err
	}
	return int64(v), nil
}

func (r *Reader) Byte() (int8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return int8(b[0]), nil
}

func (r *Reader) UnsignedByte() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) Bool() (bool, error) {
	b, err := r.take(1)
	if err != nil {
		return false, err
	}
	switch b[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("%w: 0x%02x", ErrInvalidBool, b[0])
	}
}

func (r *Reader) Short() (int16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return int16(binary.BigEndian.Uint16(b)), nil
}

func (r *Reader) UnsignedShort() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *Reader) Int() (int32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

func (r *Reader) Long() (int64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

func (r *Reader) Double() (float64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
}

func (r *Reader) UUID() (uuid.UUID, error) {
	b, err := r.take(16)
	if err != nil {
		return uuid.Nil, err
	}
	var id uuid.UUID
	copy(id[:], b)
	return id, nil
}

func (r *Reader) String(maxChars int) (string, error) {
	n, err := r.VarInt()
	if err != nil {
		return "", err
	}
	if n < 0 {
		return "", fmt.Errorf("%w: negative string length %d", ErrInvalidLength, n)
	}
	if int(n) > maxChars*3 {
		return "", fmt.Errorf("%w: %d bytes, max %d", ErrStringTooLong, n, maxChars*3)
	}
	b, err := r.take(int(n))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", ErrInvalidUTF8
	}
	s := string(b)
	if c := utf8.RuneCountInString(s); c > maxChars {
		return "", fmt.Errorf("%w: %d chars, max %d", ErrStringTooLong, c, maxChars)
	}
	return s, nil
}

func (r *Reader) ByteArray(maxLen int) ([]byte, error) {
	n, err := r.VarInt()
	if err != nil {
		return nil, err
	}
	if n < 0 || int(n) > maxLen {
		return nil, fmt.Errorf("%w: %d bytes, max %d", ErrInvalidLength, n, maxLen)
	}
	b, err := r.take(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (r *Reader) OptionalByteArray(maxLen int) ([]byte, error) {
	present, err := r.Bool()
	if err != nil || !present {
		return nil, err
	}
	return r.ByteArray(maxLen)
}

func (r *Reader) Enum(count int32) (int32, error) {
	v, err := r.VarInt()
	if err != nil {
		return 0, err
	}
	if v < 0 || v >= count {
		return 0, fmt.Errorf("%w: %d not in [0,%d)", ErrInvalidEnum, v, count)
	}
	return v, nil
}

// Rest consumes every remaining byte.
func (r *Reader) Rest(maxLen int) ([]byte, error) {
	if r.Remaining() > maxLen {
		return nil, fmt.Errorf("%w: %d trailing bytes, max %d", ErrInvalidLength, r.Remaining(), maxLen)
	}
	b, _ := r.take(r.Remaining())
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}
