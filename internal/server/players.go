package server

import (
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/danmuck/mcwire/internal/mailbox"
	"github.com/danmuck/mcwire/internal/protocol"
	"github.com/danmuck/mcwire/internal/protocol/packets"
	"github.com/danmuck/mcwire/internal/protocol/session"
	"github.com/danmuck/mcwire/internal/signature"
	"github.com/google/uuid"
)

var (
	ErrServerFull     = errors.New("server: server is full")
	ErrDuplicateLogin = errors.New("server: player already online")
)

// Player is one connection that reached the play phase. Its mailbox owns
// the chat validator; nothing else touches it.
type Player struct {
	ID       uuid.UUID
	Name     string
	JoinedAt time.Time

	conn      *session.Conn
	mailbox   *mailbox.Mailbox
	validator signature.Validator
	info      packets.ClientInformation

	lastKeepAlive atomic.Int64
}

// PlayerSnapshot is the admin view of a player.
type PlayerSnapshot struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	JoinedAt      time.Time `json:"joined_at"`
	Locale        string    `json:"locale,omitempty"`
	Mailbox       int       `json:"mailbox_pending"`
	LastKeepAlive int64     `json:"last_keepalive,omitempty"`
}

// deliver queues msg on the player's mailbox so sends to one player keep
// their order without blocking the caller.
func (p *Player) deliver(msg protocol.Message) {
	p.mailbox.Tell("deliver "+string(msg.Type()), func() error {
		if err := p.conn.Send(msg); err != nil {
			if errors.Is(err, session.ErrClosed) {
				return nil
			}
			return fmt.Errorf("deliver to %s: %w", p.Name, err)
		}
		return nil
	})
}

func (p *Player) snapshot() PlayerSnapshot {
	return PlayerSnapshot{
		ID:            p.ID.String(),
		Name:          p.Name,
		JoinedAt:      p.JoinedAt,
		Locale:        p.info.Locale,
		Mailbox:       p.mailbox.Pending(),
		LastKeepAlive: p.lastKeepAlive.Load(),
	}
}

// The methods below run on the event loop goroutine only.

func (s *Service) reserve(id uuid.UUID, name string) error {
	if _, ok := s.players[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateLogin, id)
	}
	if _, ok := s.pending[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateLogin, id)
	}
	for _, p := range s.players {
		if p.Name == name {
			return fmt.Errorf("%w: %s", ErrDuplicateLogin, name)
		}
	}
	if len(s.players)+len(s.pending) >= s.cfg.MaxPlayers {
		return ErrServerFull
	}
	s.pending[id] = name
	return nil
}

func (s *Service) release(id uuid.UUID) {
	delete(s.pending, id)
}

func (s *Service) join(p *Player) {
	delete(s.pending, p.ID)
	s.players[p.ID] = p
	s.log.Info().Str("player", p.Name).Str("profile", p.ID.String()).Int("online", len(s.players)).Msg("player joined")
	s.broadcast(&packets.SystemChat{Content: p.Name + " joined the game"})
}

func (s *Service) leave(id uuid.UUID) {
	p, ok := s.players[id]
	if !ok {
		delete(s.pending, id)
		return
	}
	delete(s.players, id)
	p.mailbox.Close()
	s.log.Info().Str("player", p.Name).Int("online", len(s.players)).Msg("player left")
	s.broadcast(&packets.SystemChat{Content: p.Name + " left the game"})
}

func (s *Service) broadcast(msg protocol.Message) {
	for _, p := range s.players {
		p.deliver(msg)
	}
}

func (s *Service) playerSnapshots() []PlayerSnapshot {
	out := make([]PlayerSnapshot, 0, len(s.players))
	for _, p := range s.players {
		out = append(out, p.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
