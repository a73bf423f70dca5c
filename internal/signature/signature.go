// Package signature signs chat messages and validates the per-sender chain
// that links each message to the signature of the one before it.
package signature

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"
)

// MaxBytes caps an encoded signature.
const MaxBytes = 1024

var (
	ErrEmptySignature = errors.New("signature: empty signature")
	ErrTooLarge       = errors.New("signature: signature too large")
	ErrMalformed      = errors.New("signature: malformed signature")
	ErrVerify         = errors.New("signature: verification failed")
	ErrNoSigner       = errors.New("signature: nil signer")
)

// MessageSignature is an SSH wire-format signature blob.
type MessageSignature []byte

func (s MessageSignature) Empty() bool { return len(s) == 0 }

func (s MessageSignature) Equal(o MessageSignature) bool {
	return bytes.Equal(s, o)
}

// SignedMessageHeader links a message to its sender and predecessor.
type SignedMessageHeader struct {
	PreviousSignature MessageSignature
	Sender            uuid.UUID
}

// SignedMessageBody is the signed part of a chat message.
type SignedMessageBody struct {
	Content   string
	Timestamp int64
	Salt      int64
}

// Hash digests the body in a fixed field order.
func (b SignedMessageBody) Hash() [sha256.Size]byte {
	h := sha256.New()
	var scratch [8]byte
	binary.BigEndian.PutUint64(scratch[:], uint64(b.Salt))
	h.Write(scratch[:])
	binary.BigEndian.PutUint64(scratch[:], uint64(b.Timestamp))
	h.Write(scratch[:])
	binary.BigEndian.PutUint32(scratch[:4], uint32(len(b.Content)))
	h.Write(scratch[:4])
	io.WriteString(h, b.Content)

	var out [sha256.Size]byte
	copy(out[:], h.Sum(nil))
	return out
}

// signedData is the exact byte string covered by a signature.
func signedData(header SignedMessageHeader, bodyHash [sha256.Size]byte) []byte {
	out := make([]byte, 0, 16+4+len(header.PreviousSignature)+sha256.Size)
	out = append(out, header.Sender[:]...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(header.PreviousSignature)))
	out = append(out, header.PreviousSignature...)
	out = append(out, bodyHash[:]...)
	return out
}

// Sign signs header and bodyHash with signer.
func Sign(signer ssh.Signer, header SignedMessageHeader, bodyHash [sha256.Size]byte) (MessageSignature, error) {
	if signer == nil {
		return nil, ErrNoSigner
	}
	sig, err := signer.Sign(rand.Reader, signedData(header, bodyHash))
	if err != nil {
		return nil, fmt.Errorf("signature: sign: %w", err)
	}
	out := ssh.Marshal(sig)
	if len(out) > MaxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(out))
	}
	return out, nil
}

// Verify checks sig over header and bodyHash against key.
func Verify(key ssh.PublicKey, header SignedMessageHeader, sig MessageSignature, bodyHash [sha256.Size]byte) error {
	if sig.Empty() {
		return ErrEmptySignature
	}
	if len(sig) > MaxBytes {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, len(sig))
	}
	var parsed ssh.Signature
	if err := ssh.Unmarshal(sig, &parsed); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := key.Verify(signedData(header, bodyHash), &parsed); err != nil {
		return fmt.Errorf("%w: %v", ErrVerify, err)
	}
	return nil
}
