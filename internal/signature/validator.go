package signature

import (
	"crypto/sha256"

	"golang.org/x/crypto/ssh"
)

// Result is the trust verdict for one message.
type Result int32

const (
	Secure Result = iota
	NotSecure
	BrokenChain
)

func (r Result) String() string {
	switch r {
	case Secure:
		return "secure"
	case NotSecure:
		return "not_secure"
	case BrokenChain:
		return "broken_chain"
	default:
		return "unknown"
	}
}

// DefaultReplayWindow is how many accepted signatures are remembered for
// duplicate detection.
const DefaultReplayWindow = 32

// Validator judges the next message from one sender. Implementations are not
// safe for concurrent use; each belongs to the sender's owning mailbox.
type Validator interface {
	Validate(header SignedMessageHeader, sig MessageSignature, bodyHash [sha256.Size]byte) Result
}

// NewValidator returns a chain validator for key. With no key every message
// gets a constant verdict and no cryptography runs.
func NewValidator(key ssh.PublicKey, enforceChain bool) Validator {
	if key == nil {
		if enforceChain {
			return constant(BrokenChain)
		}
		return constant(NotSecure)
	}
	return &ChainValidator{key: key, window: DefaultReplayWindow}
}

type constant Result

func (c constant) Validate(SignedMessageHeader, MessageSignature, [sha256.Size]byte) Result {
	return Result(c)
}

// ChainValidator tracks the last accepted signature for one sender.
type ChainValidator struct {
	key      ssh.PublicKey
	last     MessageSignature
	seen     bool
	broken   bool
	window   int
	accepted []MessageSignature
}

// Broken reports whether the chain has been marked broken.
func (v *ChainValidator) Broken() bool { return v.broken }

// Last returns the last accepted signature, or nil.
func (v *ChainValidator) Last() MessageSignature { return v.last }

func (v *ChainValidator) Validate(header SignedMessageHeader, sig MessageSignature, bodyHash [sha256.Size]byte) Result {
	if v.broken {
		return BrokenChain
	}
	if sig.Empty() {
		v.broken = true
		return BrokenChain
	}

	duplicate := v.wasAccepted(sig) || header.PreviousSignature.Equal(sig)
	if !v.linked(header, duplicate) {
		v.broken = true
		return BrokenChain
	}
	v.seen = true

	if err := Verify(v.key, header, sig, bodyHash); err != nil {
		v.last = nil
		return NotSecure
	}
	if !duplicate {
		v.last = sig
		v.remember(sig)
	}
	return Secure
}

func (v *ChainValidator) linked(header SignedMessageHeader, duplicate bool) bool {
	switch {
	case !v.seen:
		return true
	case duplicate:
		return true
	case v.last != nil && header.PreviousSignature.Equal(v.last):
		return true
	default:
		return false
	}
}

func (v *ChainValidator) wasAccepted(sig MessageSignature) bool {
	for _, s := range v.accepted {
		if s.Equal(sig) {
			return true
		}
	}
	return false
}

func (v *ChainValidator) remember(sig MessageSignature) {
	if v.window <= 0 {
		return
	}
	if len(v.accepted) == v.window {
		copy(v.accepted, v.accepted[1:])
		v.accepted = v.accepted[:len(v.accepted)-1]
	}
	v.accepted = append(v.accepted, sig)
}
