package signature

import (
	"errors"
	"testing"

	"github.com/danmuck/mcwire/internal/testutil/testlog"
	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"
)

type signedMessage struct {
	header SignedMessageHeader
	sig    MessageSignature
	hash   [32]byte
}

func mustSigner(t *testing.T) ssh.Signer {
	t.Helper()
	signer, err := GenerateSigner()
	if err != nil {
		t.Fatalf("generate signer: %v", err)
	}
	return signer
}

func signMessage(t *testing.T, signer ssh.Signer, sender uuid.UUID, prev MessageSignature, content string, salt int64) signedMessage {
	t.Helper()
	header := SignedMessageHeader{PreviousSignature: prev, Sender: sender}
	hash := SignedMessageBody{Content: content, Timestamp: 1700000000000 + salt, Salt: salt}.Hash()
	sig, err := Sign(signer, header, hash)
	if err != nil {
		t.Fatalf("sign %q: %v", content, err)
	}
	return signedMessage{header: header, sig: sig, hash: hash}
}

func (m signedMessage) validate(v Validator) Result {
	return v.Validate(m.header, m.sig, m.hash)
}

func TestChainHappyPath(t *testing.T) {
	testlog.Start(t)
	signer := mustSigner(t)
	sender := uuid.New()
	v := NewValidator(signer.PublicKey(), false)

	m1 := signMessage(t, signer, sender, nil, "one", 1)
	m2 := signMessage(t, signer, sender, m1.sig, "two", 2)
	m3 := signMessage(t, signer, sender, m2.sig, "three", 3)

	for i, m := range []signedMessage{m1, m2, m3} {
		if got := m.validate(v); got != Secure {
			t.Fatalf("message %d: expected secure, got %s", i+1, got)
		}
	}
	if !v.(*ChainValidator).Last().Equal(m3.sig) {
		t.Fatalf("expected last accepted to be m3")
	}
}

func TestChainForgeryForgetsLastAccepted(t *testing.T) {
	testlog.Start(t)
	signer := mustSigner(t)
	forger := mustSigner(t)
	sender := uuid.New()
	v := NewValidator(signer.PublicKey(), false)

	m1 := signMessage(t, signer, sender, nil, "one", 1)
	m2 := signMessage(t, forger, sender, m1.sig, "two", 2)
	m3 := signMessage(t, signer, sender, m1.sig, "three", 3)

	if got := m1.validate(v); got != Secure {
		t.Fatalf("m1: expected secure, got %s", got)
	}
	if got := m2.validate(v); got != NotSecure {
		t.Fatalf("m2: expected not_secure, got %s", got)
	}
	if got := m3.validate(v); got != BrokenChain {
		t.Fatalf("m3: expected broken_chain, got %s", got)
	}
	// Broken is sticky even for an otherwise valid continuation.
	m4 := signMessage(t, signer, sender, m3.sig, "four", 4)
	if got := m4.validate(v); got != BrokenChain {
		t.Fatalf("m4: expected broken_chain, got %s", got)
	}
}

func TestChainReplayIsDuplicate(t *testing.T) {
	testlog.Start(t)
	signer := mustSigner(t)
	sender := uuid.New()
	v := NewValidator(signer.PublicKey(), false)

	m1 := signMessage(t, signer, sender, nil, "one", 1)
	m2 := signMessage(t, signer, sender, m1.sig, "two", 2)
	m3 := signMessage(t, signer, sender, m2.sig, "three", 3)

	if got := m1.validate(v); got != Secure {
		t.Fatalf("m1: %s", got)
	}
	if got := m2.validate(v); got != Secure {
		t.Fatalf("m2: %s", got)
	}
	if got := m1.validate(v); got != Secure {
		t.Fatalf("replayed m1: expected secure duplicate, got %s", got)
	}
	if v.(*ChainValidator).Broken() {
		t.Fatalf("replay must not break the chain")
	}
	if got := m3.validate(v); got != Secure {
		t.Fatalf("m3 after replay: expected secure, got %s", got)
	}
}

func TestChainGapBreaks(t *testing.T) {
	testlog.Start(t)
	signer := mustSigner(t)
	sender := uuid.New()
	v := NewValidator(signer.PublicKey(), false)

	m1 := signMessage(t, signer, sender, nil, "one", 1)
	m2 := signMessage(t, signer, sender, m1.sig, "two", 2)
	m3 := signMessage(t, signer, sender, m2.sig, "three", 3)

	if got := m1.validate(v); got != Secure {
		t.Fatalf("m1: %s", got)
	}
	if got := m3.validate(v); got != BrokenChain {
		t.Fatalf("m3 skipping m2: expected broken_chain, got %s", got)
	}
	if got := m2.validate(v); got != BrokenChain {
		t.Fatalf("late m2: expected sticky broken_chain, got %s", got)
	}
}

func TestChainEmptySignatureBreaks(t *testing.T) {
	testlog.Start(t)
	signer := mustSigner(t)
	v := NewValidator(signer.PublicKey(), false)

	header := SignedMessageHeader{Sender: uuid.New()}
	if got := v.Validate(header, nil, SignedMessageBody{Content: "x"}.Hash()); got != BrokenChain {
		t.Fatalf("expected broken_chain for unsigned message, got %s", got)
	}
}

func TestTamperedBodyIsNotSecure(t *testing.T) {
	testlog.Start(t)
	signer := mustSigner(t)
	sender := uuid.New()
	v := NewValidator(signer.PublicKey(), false)

	m1 := signMessage(t, signer, sender, nil, "one", 1)
	m1.hash = SignedMessageBody{Content: "changed", Timestamp: 1700000000001, Salt: 1}.Hash()
	if got := m1.validate(v); got != NotSecure {
		t.Fatalf("expected not_secure for tampered body, got %s", got)
	}
}

func TestNoKeyShortCircuits(t *testing.T) {
	testlog.Start(t)
	header := SignedMessageHeader{Sender: uuid.New()}
	hash := SignedMessageBody{Content: "x"}.Hash()

	if got := NewValidator(nil, false).Validate(header, MessageSignature{1}, hash); got != NotSecure {
		t.Fatalf("expected not_secure without key, got %s", got)
	}
	if got := NewValidator(nil, true).Validate(header, MessageSignature{1}, hash); got != BrokenChain {
		t.Fatalf("expected broken_chain without key when chain enforced, got %s", got)
	}
}

func TestVerifyErrors(t *testing.T) {
	testlog.Start(t)
	signer := mustSigner(t)
	header := SignedMessageHeader{Sender: uuid.New()}
	hash := SignedMessageBody{Content: "x"}.Hash()

	if err := Verify(signer.PublicKey(), header, nil, hash); !errors.Is(err, ErrEmptySignature) {
		t.Fatalf("expected ErrEmptySignature, got %v", err)
	}
	if err := Verify(signer.PublicKey(), header, make(MessageSignature, MaxBytes+1), hash); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
	if err := Verify(signer.PublicKey(), header, MessageSignature{0xff}, hash); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestParsePublicKeyRoundTrip(t *testing.T) {
	testlog.Start(t)
	signer := mustSigner(t)
	key, err := ParsePublicKey(signer.PublicKey().Marshal())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if string(key.Marshal()) != string(signer.PublicKey().Marshal()) {
		t.Fatalf("parsed key differs")
	}
}

func TestResultString(t *testing.T) {
	testlog.Start(t)
	if Secure.String() != "secure" || NotSecure.String() != "not_secure" || BrokenChain.String() != "broken_chain" {
		t.Fatalf("unexpected result names")
	}
}
