package signature

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/ssh"
)

// GenerateSigner creates a fresh ed25519 chat signing key.
func GenerateSigner() (ssh.Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("signature: generate key: %w", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return nil, fmt.Errorf("signature: wrap key: %w", err)
	}
	return signer, nil
}

// ParsePublicKey decodes an SSH wire-format public key as carried in a chat
// session update.
func ParsePublicKey(wire []byte) (ssh.PublicKey, error) {
	key, err := ssh.ParsePublicKey(wire)
	if err != nil {
		return nil, fmt.Errorf("signature: parse public key: %w", err)
	}
	return key, nil
}
