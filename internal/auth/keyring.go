package auth

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"
)

var (
	ErrKeyExpired   = errors.New("auth: key expired")
	ErrInvalidKey   = errors.New("auth: invalid key")
	ErrMissingOwner = errors.New("auth: key has no player id")
	ErrPinnedKey    = errors.New("auth: player key is pinned")
)

// PlayerKey is one player's chat signing key. Pinned keys come from the
// operator's keyring file and cannot be replaced by a client-announced key.
type PlayerKey struct {
	Player    uuid.UUID
	Key       ssh.PublicKey
	ExpiresAt time.Time
	Pinned    bool
}

// Expired reports whether k is past its expiry. A zero expiry never expires.
func (k PlayerKey) Expired(now time.Time) bool {
	return !k.ExpiresAt.IsZero() && !now.Before(k.ExpiresAt)
}

// Keyring maps player ids to chat public keys. It is safe for concurrent use.
type Keyring struct {
	mu   sync.RWMutex
	keys map[uuid.UUID]PlayerKey
	now  func() time.Time
}

func NewKeyring() *Keyring {
	return &Keyring{
		keys: make(map[uuid.UUID]PlayerKey),
		now:  time.Now,
	}
}

// Put stores or replaces a player's key. An unpinned key never replaces a
// pinned one: the same key is accepted and the pinned entry kept, any other
// key fails with ErrPinnedKey.
func (k *Keyring) Put(key PlayerKey) error {
	if key.Player == uuid.Nil {
		return ErrMissingOwner
	}
	if key.Key == nil {
		return fmt.Errorf("%w: nil public key", ErrInvalidKey)
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if cur, ok := k.keys[key.Player]; ok && cur.Pinned && !key.Pinned {
		if !bytes.Equal(cur.Key.Marshal(), key.Key.Marshal()) {
			return fmt.Errorf("%w: %s", ErrPinnedKey, key.Player)
		}
		return nil
	}
	k.keys[key.Player] = key
	return nil
}

// Lookup returns the player's key, or nil when none is known or it has
// expired.
func (k *Keyring) Lookup(player uuid.UUID) ssh.PublicKey {
	k.mu.RLock()
	entry, ok := k.keys[player]
	k.mu.RUnlock()
	if !ok || entry.Expired(k.now()) {
		return nil
	}
	return entry.Key
}

// Remove drops the player's key.
func (k *Keyring) Remove(player uuid.UUID) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.keys, player)
}

func (k *Keyring) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.keys)
}

// LoadAuthorizedKeysFile reads an authorized_keys style file whose comment
// field holds the player id.
func (k *Keyring) LoadAuthorizedKeysFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("auth: open keyring: %w", err)
	}
	defer f.Close()
	return k.LoadAuthorizedKeys(f)
}

// LoadAuthorizedKeys parses "<type> <base64> <player-uuid>" lines. Blank
// lines and # comments are skipped.
func (k *Keyring) LoadAuthorizedKeys(r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	loaded := 0
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 || raw[0] == '#' {
			continue
		}
		pub, comment, _, _, err := ssh.ParseAuthorizedKey(raw)
		if err != nil {
			return loaded, fmt.Errorf("%w: line %d: %v", ErrInvalidKey, line, err)
		}
		player, err := uuid.Parse(strings.TrimSpace(comment))
		if err != nil {
			return loaded, fmt.Errorf("%w: line %d: %v", ErrMissingOwner, line, err)
		}
		if err := k.Put(PlayerKey{Player: player, Key: pub, Pinned: true}); err != nil {
			return loaded, err
		}
		loaded++
	}
	if err := scanner.Err(); err != nil {
		return loaded, fmt.Errorf("auth: read keyring: %w", err)
	}
	return loaded, nil
}
