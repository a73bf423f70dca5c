// Package client is a small probe client for the wire server: status pings,
// login through to play and signed chat.
package client

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/danmuck/mcwire/internal/observability"
	"github.com/danmuck/mcwire/internal/protocol"
	"github.com/danmuck/mcwire/internal/protocol/packets"
	"github.com/danmuck/mcwire/internal/protocol/session"
	"github.com/danmuck/mcwire/internal/signature"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

var (
	ErrRejected        = errors.New("client: server rejected login")
	ErrDisconnected    = errors.New("client: server disconnected")
	ErrUnexpected      = errors.New("client: unexpected message")
	ErrDialAttempts    = errors.New("client: dial attempts exhausted")
	ErrInvalidAttempts = errors.New("client: invalid max attempts")
)

// DisconnectError carries the reason the server gave.
type DisconnectError struct {
	Phase  protocol.Phase
	Reason string
}

func (e *DisconnectError) Error() string {
	return fmt.Sprintf("client: disconnected in %s: %s", e.Phase, e.Reason)
}

func (e *DisconnectError) Unwrap() error {
	if e.Phase == protocol.PhaseLogin {
		return ErrRejected
	}
	return ErrDisconnected
}

type Option func(*Client)

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.log = logger }
}

// WithProtocolVersion overrides the version announced in the handshake.
func WithProtocolVersion(v int32) Option {
	return func(c *Client) { c.version = v }
}

// WithMaxAttempts bounds Dial retries. Zero keeps the default of one.
func WithMaxAttempts(n int) Option {
	return func(c *Client) { c.attempts = n }
}

// Client is one connection to a server. Methods are not safe for concurrent
// use except Close.
type Client struct {
	conn     *session.Conn
	cfg      session.Config
	log      zerolog.Logger
	host     string
	port     uint16
	version  int32
	attempts int

	profile uuid.UUID
	name    string
	signer  ssh.Signer
	last    signature.MessageSignature
}

// Dial connects to addr, retrying with backoff up to the configured
// attempts.
func Dial(ctx context.Context, addr string, cfg session.Config, opts ...Option) (*Client, error) {
	cfg = cfg.WithDefaults()
	c := &Client{
		cfg:      cfg,
		log:      observability.Component("client"),
		version:  packets.ProtocolVersion,
		attempts: 1,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.attempts < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidAttempts, c.attempts)
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("client: invalid port %q: %w", portStr, err)
	}
	c.host, c.port = host, uint16(port)

	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	var raw net.Conn
	err = session.Retry(ctx, cfg.Backoff, c.attempts, func(ctx context.Context, _ int) error {
		var dialErr error
		raw, dialErr = dialer.DialContext(ctx, "tcp", addr)
		return dialErr
	}, func(attempt int, delay time.Duration, err error) {
		c.log.Debug().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("dial failed, retrying")
	})
	if err == nil {
		codec := protocol.NewCodec(packets.Protocol(), cfg.Limits)
		c.conn = session.New(raw, codec, session.ClientSide, cfg,
			session.WithLogger(c.log),
			session.WithDisconnect(func(protocol.Phase, string) protocol.Message { return nil }),
		)
		return c, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %s after %d: %w", ErrDialAttempts, addr, c.attempts, err)
}

func (c *Client) Conn() *session.Conn { return c.conn }

func (c *Client) Phase() protocol.Phase { return c.conn.Phase() }

func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) handshake(intent packets.Intent) error {
	return c.conn.Send(&packets.Intention{
		ProtocolVersion: c.version,
		Host:            c.host,
		Port:            c.port,
		Intent:          intent,
	})
}

// Status runs the status exchange and a ping round trip.
func (c *Client) Status(ctx context.Context) (packets.StatusDocument, time.Duration, error) {
	if err := c.handshake(packets.IntentStatus); err != nil {
		return packets.StatusDocument{}, 0, err
	}
	if err := c.conn.Send(&packets.StatusRequest{}); err != nil {
		return packets.StatusDocument{}, 0, err
	}
	msg, err := c.Next(ctx)
	if err != nil {
		return packets.StatusDocument{}, 0, err
	}
	resp, ok := msg.(*packets.StatusResponse)
	if !ok {
		return packets.StatusDocument{}, 0, fmt.Errorf("%w: %s", ErrUnexpected, msg.Type())
	}
	doc, err := resp.Document()
	if err != nil {
		return packets.StatusDocument{}, 0, err
	}

	start := time.Now()
	if err := c.conn.Send(&packets.PingRequest{Time: start.UnixMilli()}); err != nil {
		return doc, 0, err
	}
	msg, err = c.Next(ctx)
	if err != nil {
		return doc, 0, err
	}
	pong, ok := msg.(*packets.PongResponse)
	if !ok {
		return doc, 0, fmt.Errorf("%w: %s", ErrUnexpected, msg.Type())
	}
	if pong.Time != start.UnixMilli() {
		return doc, 0, fmt.Errorf("%w: pong %d for ping %d", ErrUnexpected, pong.Time, start.UnixMilli())
	}
	return doc, time.Since(start), nil
}

// Login walks the connection through login and configuration. It returns
// once the client has entered play.
func (c *Client) Login(ctx context.Context, name string, profile uuid.UUID) error {
	if err := c.handshake(packets.IntentLogin); err != nil {
		return err
	}
	if err := c.conn.Send(&packets.Hello{Name: name, ProfileID: profile}); err != nil {
		return err
	}
	msg, err := c.Next(ctx)
	if err != nil {
		return err
	}
	finished, ok := msg.(*packets.LoginFinished)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnexpected, msg.Type())
	}
	c.profile, c.name = finished.ProfileID, finished.Name
	if err := c.conn.Send(&packets.LoginAcknowledged{}); err != nil {
		return err
	}

	if err := c.conn.Send(&packets.ClientInformation{
		Locale:       "en_us",
		ViewDistance: 8,
		ChatMode:     packets.ChatEnabled,
		ChatColors:   true,
	}); err != nil {
		return err
	}
	for {
		msg, err := c.Next(ctx)
		if err != nil {
			return err
		}
		switch m := msg.(type) {
		case *packets.CustomPayload:
			c.log.Debug().Str("channel", m.Channel).Msg("server payload")
		case *packets.FinishConfiguration:
			return c.conn.Send(&packets.FinishConfigurationAck{})
		default:
			c.log.Debug().Str("type", string(msg.Type())).Msg("ignored during configuration")
		}
	}
}

// Profile returns the id and name the server confirmed.
func (c *Client) Profile() (uuid.UUID, string) { return c.profile, c.name }

// StartChatSession announces signer's public key and resets the local chain.
func (c *Client) StartChatSession(signer ssh.Signer, expiresAt time.Time) error {
	if err := c.conn.Send(&packets.ChatSessionUpdate{
		SessionID: uuid.New(),
		ExpiresAt: expiresAt.UnixMilli(),
		PublicKey: signer.PublicKey().Marshal(),
	}); err != nil {
		return err
	}
	c.signer = signer
	c.last = nil
	return nil
}

// Chat sends text, signed and linked to the previous message when a chat
// session is active.
func (c *Client) Chat(text string) error {
	sig, err := c.ChatWithPrevious(text, c.last)
	if err != nil {
		return err
	}
	if !sig.Empty() {
		c.last = sig
	}
	return nil
}

// ChatWithPrevious sends text claiming prev as its predecessor and returns
// the signature it carried. The local chain is not advanced.
func (c *Client) ChatWithPrevious(text string, prev signature.MessageSignature) (signature.MessageSignature, error) {
	msg := &packets.Chat{
		Message:   text,
		Timestamp: time.Now().UnixMilli(),
		Salt:      randomSalt(),
	}
	if c.signer != nil {
		msg.PreviousSignature = prev
		header := signature.SignedMessageHeader{PreviousSignature: prev, Sender: c.profile}
		sig, err := signature.Sign(c.signer, header, msg.Body().Hash())
		if err != nil {
			return nil, err
		}
		msg.Signature = sig
	}
	if err := c.conn.Send(msg); err != nil {
		return nil, err
	}
	return msg.Signature, nil
}

// Next returns the next message worth surfacing. Keepalives are answered
// here; a disconnect message becomes a *DisconnectError.
func (c *Client) Next(ctx context.Context) (protocol.Message, error) {
	stop := context.AfterFunc(ctx, func() { _ = c.conn.Close() })
	defer stop()
	for {
		phase := c.conn.Phase()
		msg, err := c.conn.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		switch m := msg.(type) {
		case *packets.KeepAlive:
			if err := c.conn.Send(&packets.KeepAlive{ID: m.ID}); err != nil {
				return nil, err
			}
			continue
		case *packets.LoginDisconnect:
			_ = c.conn.Close()
			return nil, &DisconnectError{Phase: phase, Reason: m.Reason}
		case *packets.Disconnect:
			_ = c.conn.Close()
			return nil, &DisconnectError{Phase: phase, Reason: m.Reason}
		}
		if err := c.conn.Commit(msg); err != nil {
			return nil, err
		}
		return msg, nil
	}
}

func randomSalt() int64 {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return int64(binary.BigEndian.Uint64(b[:]))
}
