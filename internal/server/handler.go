package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/mcwire/internal/auth"
	"github.com/danmuck/mcwire/internal/mailbox"
	"github.com/danmuck/mcwire/internal/observability"
	"github.com/danmuck/mcwire/internal/protocol"
	"github.com/danmuck/mcwire/internal/protocol/packets"
	"github.com/danmuck/mcwire/internal/protocol/session"
	"github.com/danmuck/mcwire/internal/signature"
	"github.com/google/uuid"
)

const BrandChannel = "minecraft:brand"

var (
	ErrOutdatedClient     = errors.New("server: unsupported protocol version")
	ErrInvalidProfile     = errors.New("server: invalid login profile")
	ErrInvalidChatSession = errors.New("server: invalid chat session")
)

// connHandler carries one connection through the phases. Its fields are
// touched only by the connection's reader goroutine, except finished which
// mu guards.
type connHandler struct {
	s *Service

	mu       sync.Mutex
	finished bool

	version  int32
	profile  uuid.UUID
	name     string
	reserved bool
	info     packets.ClientInformation
	player   *Player
}

var (
	_ session.Handler       = (*connHandler)(nil)
	_ session.PhaseListener = (*connHandler)(nil)
)

func newConnHandler(s *Service) *connHandler {
	return &connHandler{s: s}
}

func (h *connHandler) HandleMessage(ctx context.Context, c *session.Conn, msg protocol.Message) error {
	switch m := msg.(type) {
	case *packets.Intention:
		h.version = m.ProtocolVersion
		c.Logger().Debug().
			Int32("protocol", m.ProtocolVersion).
			Str("host", m.Host).
			Int32("intent", int32(m.Intent)).
			Msg("intention")
		return nil
	case *packets.StatusRequest:
		return h.status(ctx, c)
	case *packets.PingRequest:
		return c.Send(&packets.PongResponse{Time: m.Time})
	case *packets.Hello:
		return h.hello(ctx, c, m)
	case *packets.LoginAcknowledged, *packets.FinishConfigurationAck:
		return nil
	case *packets.ClientInformation:
		h.info = *m
		return nil
	case *packets.CustomPayload:
		c.Logger().Debug().Str("channel", m.Channel).Int("bytes", len(m.Data)).Msg("custom payload")
		return nil
	case *packets.KeepAlive:
		if h.player != nil {
			h.player.lastKeepAlive.Store(m.ID)
		}
		return nil
	case *packets.ChatSessionUpdate:
		return h.chatSession(m)
	case *packets.Chat:
		h.chat(m)
		return nil
	default:
		c.Logger().Debug().Str("type", string(msg.Type())).Msg("ignored message")
		return nil
	}
}

func (h *connHandler) PhaseChanged(ctx context.Context, c *session.Conn, from, to protocol.Phase) error {
	switch to {
	case protocol.PhaseConfiguration:
		return h.configure(c)
	case protocol.PhasePlay:
		return h.join(ctx, c)
	}
	return nil
}

func (h *connHandler) status(ctx context.Context, c *session.Conn) error {
	var online int
	if err := h.s.onLoop(ctx, "status", func() error {
		online = len(h.s.players)
		return nil
	}); err != nil {
		return err
	}
	resp, err := packets.NewStatusResponse(packets.StatusDocument{
		Version:     packets.StatusVersion{Name: "mcwire", Protocol: packets.ProtocolVersion},
		Players:     packets.StatusPlayers{Max: h.s.cfg.MaxPlayers, Online: online},
		Description: h.s.cfg.MOTD,
		SecureChat:  h.s.cfg.EnforceSecureChat,
	})
	if err != nil {
		return err
	}
	return c.Send(resp)
}

func (h *connHandler) hello(ctx context.Context, c *session.Conn, m *packets.Hello) error {
	if h.version != packets.ProtocolVersion {
		return fmt.Errorf("%w: %d", ErrOutdatedClient, h.version)
	}
	name := strings.TrimSpace(m.Name)
	if name == "" || m.ProfileID == uuid.Nil {
		return fmt.Errorf("%w: name=%q profile=%s", ErrInvalidProfile, m.Name, m.ProfileID)
	}
	if err := h.s.onLoop(ctx, "reserve", func() error {
		return h.s.reserve(m.ProfileID, name)
	}); err != nil {
		return err
	}
	h.profile, h.name, h.reserved = m.ProfileID, name, true
	c.Logger().Info().Str("player", name).Str("profile", m.ProfileID.String()).Msg("login")
	return c.Send(&packets.LoginFinished{ProfileID: m.ProfileID, Name: name})
}

func (h *connHandler) configure(c *session.Conn) error {
	brand := protocol.NewWriter(16)
	if err := brand.String("mcwire", protocol.DefaultStringChars); err != nil {
		return err
	}
	if err := c.Send(&packets.CustomPayload{Channel: BrandChannel, Data: brand.Bytes()}); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.finished = true
	return c.Send(&packets.FinishConfiguration{})
}

// ping sends a keepalive. No configuration keepalive follows
// FinishConfiguration.
func (h *connHandler) ping(c *session.Conn, id int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.Phase() == protocol.PhaseConfiguration && h.finished {
		return nil
	}
	return c.Send(&packets.KeepAlive{ID: id})
}

func (h *connHandler) join(ctx context.Context, c *session.Conn) error {
	s := h.s
	p := &Player{
		ID:        h.profile,
		Name:      h.name,
		JoinedAt:  time.Now(),
		conn:      c,
		validator: signature.NewValidator(s.keyring.Lookup(h.profile), s.cfg.EnforceSecureChat),
		info:      h.info,
	}
	p.mailbox = mailbox.New("player:"+h.name, s.pool,
		mailbox.WithLogger(*c.Logger()),
		mailbox.WithMaxBatch(s.cfg.MailboxBatch),
		mailbox.WithErrorHandler(func(err *mailbox.ItemError) {
			c.Logger().Warn().Err(err).Msg("player task failed")
		}),
	)
	if err := s.onLoop(ctx, "join", func() error {
		s.join(p)
		return nil
	}); err != nil {
		p.mailbox.Close()
		return err
	}
	h.player = p
	return nil
}

// chatSession installs a fresh key and restarts the player's chain.
func (h *connHandler) chatSession(m *packets.ChatSessionUpdate) error {
	p := h.player
	if p == nil {
		return nil
	}
	key, err := signature.ParsePublicKey(m.PublicKey)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidChatSession, err)
	}
	entry := auth.PlayerKey{Player: p.ID, Key: key, ExpiresAt: time.UnixMilli(m.ExpiresAt)}
	if entry.Expired(time.Now()) {
		return fmt.Errorf("%w: key expired", ErrInvalidChatSession)
	}
	if err := h.s.keyring.Put(entry); err != nil {
		if errors.Is(err, auth.ErrPinnedKey) {
			p.conn.Logger().Warn().Str("player", p.Name).Msg("ignored chat session key that differs from the pinned key")
			return nil
		}
		return fmt.Errorf("%w: %w", ErrInvalidChatSession, err)
	}
	enforce := h.s.cfg.EnforceSecureChat
	p.mailbox.Tell("chat session", func() error {
		p.validator = signature.NewValidator(key, enforce)
		return nil
	})
	return nil
}

// chat validates on the sender's mailbox, then fans out from the loop so
// every recipient sees chat in one global order.
func (h *connHandler) chat(m *packets.Chat) {
	p := h.player
	if p == nil {
		return
	}
	s := h.s
	header := signature.SignedMessageHeader{PreviousSignature: m.PreviousSignature, Sender: p.ID}
	sig := m.Signature
	bodyHash := m.Body().Hash()
	text := m.Message
	p.mailbox.Tell("chat", func() error {
		result := p.validator.Validate(header, sig, bodyHash)
		observability.RecordSignatureResult(result.String())
		if result != signature.Secure {
			p.conn.Logger().Debug().Str("trust", result.String()).Msg("unverified chat")
		}
		out := &packets.PlayerChat{Sender: p.ID, SenderName: p.Name, Message: text, Trust: result}
		return s.loop.Execute("broadcast chat", func() error {
			s.broadcast(out)
			return nil
		})
	})
}

func (h *connHandler) cleanup() {
	s := h.s
	switch {
	case h.player != nil:
		id := h.player.ID
		_ = s.loop.Execute("leave", func() error {
			s.leave(id)
			return nil
		})
	case h.reserved:
		id := h.profile
		_ = s.loop.Execute("release", func() error {
			s.release(id)
			return nil
		})
	}
}
