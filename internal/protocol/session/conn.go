package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/mcwire/internal/observability"
	"github.com/danmuck/mcwire/internal/protocol"
	"github.com/danmuck/mcwire/internal/protocol/frame"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrClosed            = errors.New("session: connection closed")
	ErrIllegalTransition = errors.New("session: illegal phase transition")
)

// Side selects which direction a Conn receives.
type Side uint8

const (
	// ServerSide receives serverbound messages and sends clientbound ones.
	ServerSide Side = iota
	// ClientSide receives clientbound messages and sends serverbound ones.
	ClientSide
)

func (s Side) String() string {
	if s == ClientSide {
		return "client"
	}
	return "server"
}

func (s Side) inbound() protocol.Direction {
	if s == ClientSide {
		return protocol.Clientbound
	}
	return protocol.Serverbound
}

// Handler processes one decoded inbound message. A non-nil error ends Serve.
type Handler interface {
	HandleMessage(ctx context.Context, c *Conn, msg protocol.Message) error
}

// PhaseListener is optionally implemented by a Handler that wants to act
// once a transition has been applied, for example to send the first message
// of the new phase.
type PhaseListener interface {
	PhaseChanged(ctx context.Context, c *Conn, from, to protocol.Phase) error
}

// HandlerFunc adapts a function into a Handler.
type HandlerFunc func(ctx context.Context, c *Conn, msg protocol.Message) error

func (f HandlerFunc) HandleMessage(ctx context.Context, c *Conn, msg protocol.Message) error {
	return f(ctx, c, msg)
}

// DisconnectFunc builds the message that carries reason in phase, or nil
// when the phase cannot carry one.
type DisconnectFunc func(phase protocol.Phase, reason string) protocol.Message

type Option func(*Conn)

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Conn) { c.log = logger }
}

func WithID(id uuid.UUID) Option {
	return func(c *Conn) { c.id = id }
}

func WithDisconnect(fn DisconnectFunc) Option {
	return func(c *Conn) { c.disconnect = fn }
}

// Conn is one framed protocol connection. Send is safe for concurrent use;
// Receive and Serve belong to a single reader goroutine.
type Conn struct {
	id         uuid.UUID
	raw        net.Conn
	reader     *bufio.Reader
	codec      *protocol.Codec
	cfg        Config
	side       Side
	disconnect DisconnectFunc
	log        zerolog.Logger

	phase atomic.Int32

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// New wraps raw. The connection starts in the handshake phase.
func New(raw net.Conn, codec *protocol.Codec, side Side, cfg Config, opts ...Option) *Conn {
	c := &Conn{
		id:     uuid.New(),
		raw:    raw,
		reader: bufio.NewReader(raw),
		codec:  codec,
		cfg:    cfg.WithDefaults(),
		side:   side,
		log:    log.Logger,
		closed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().
		Str("conn", c.id.String()).
		Str("side", side.String()).
		Logger()
	c.phase.Store(int32(protocol.PhaseHandshake))
	observability.ConnectionEntered(protocol.PhaseHandshake.String())
	return c
}

func (c *Conn) ID() uuid.UUID { return c.id }

func (c *Conn) Side() Side { return c.side }

func (c *Conn) Phase() protocol.Phase { return protocol.Phase(c.phase.Load()) }

func (c *Conn) RemoteAddr() net.Addr { return c.raw.RemoteAddr() }

func (c *Conn) Logger() *zerolog.Logger { return &c.log }

func (c *Conn) Config() Config { return c.cfg }

// Done is closed once the connection has been closed.
func (c *Conn) Done() <-chan struct{} { return c.closed }

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Send encodes and writes msg in the current phase. A skippable message that
// fails to serialize is logged and dropped, and Send returns nil. Any
// transition msg declares applies after the write succeeds.
func (c *Conn) Send(msg protocol.Message) error {
	if c.isClosed() {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	phase := c.Phase()
	dir := c.side.inbound().Opposite()
	payload, err := c.codec.Encode(msg, dir, phase)
	if err != nil {
		observability.RecordFrameError(protocol.Kind(err))
		if !protocol.IsFatal(err) {
			observability.RecordFrame(dir.String(), phase.String(), "skipped", 0)
			c.log.Warn().Err(err).
				Str("phase", phase.String()).
				Str("type", string(msg.Type())).
				Msg("dropped unserializable message")
			return nil
		}
		return err
	}

	if c.cfg.WriteTimeout > 0 {
		_ = c.raw.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	if err := frame.WriteFrame(c.raw, payload, c.codec.Limits()); err != nil {
		observability.RecordFrameError(protocol.Kind(err))
		return fmt.Errorf("session: write %s: %w", msg.Type(), err)
	}
	observability.RecordFrame(dir.String(), phase.String(), "ok", len(payload))
	return c.Commit(msg)
}

// Receive reads and decodes the next inbound message. It does not apply
// transitions; call Commit once the message has been handled.
func (c *Conn) Receive() (protocol.Message, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	phase := c.Phase()
	if timeout := c.readTimeout(phase); timeout > 0 {
		_ = c.raw.SetReadDeadline(time.Now().Add(timeout))
	}
	payload, err := frame.ReadFrame(c.reader, c.codec.Limits())
	if err != nil {
		if errors.Is(err, frame.ErrFrameTooLarge) {
			observability.RecordFrameError(protocol.Kind(err))
			return nil, &protocol.FrameTooLargeError{Size: frameSize(err), Max: c.codec.Limits().MaxPayloadBytes}
		}
		return nil, err
	}

	dir := c.side.inbound()
	msg, err := c.codec.Decode(payload, dir, phase)
	if err != nil {
		observability.RecordFrameError(protocol.Kind(err))
		observability.RecordFrame(dir.String(), phase.String(), "error", len(payload))
		return nil, err
	}
	observability.RecordFrame(dir.String(), phase.String(), "ok", len(payload))
	return msg, nil
}

func (c *Conn) readTimeout(phase protocol.Phase) time.Duration {
	if phase == protocol.PhasePlay || phase == protocol.PhaseConfiguration {
		return c.cfg.ReadTimeout
	}
	return c.cfg.HandshakeTimeout
}

func frameSize(err error) int {
	var sizeErr *frame.SizeError
	if errors.As(err, &sizeErr) {
		return sizeErr.Size
	}
	return 0
}

// Commit applies the phase transition msg declares, if any.
func (c *Conn) Commit(msg protocol.Message) error {
	next, ok := protocol.NextPhase(msg)
	if !ok {
		return nil
	}
	current := c.Phase()
	if !current.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s via %s", ErrIllegalTransition, current, next, msg.Type())
	}
	c.phase.Store(int32(next))
	observability.ConnectionLeft(current.String())
	observability.ConnectionEntered(next.String())
	c.log.Debug().
		Str("from", current.String()).
		Str("to", next.String()).
		Str("type", string(msg.Type())).
		Msg("phase transition")
	return nil
}

// Serve reads messages until ctx is done, the peer closes or an error occurs.
// Each message is handled before its transition is applied. A clean close by
// the peer returns nil.
func (c *Conn) Serve(ctx context.Context, h Handler) error {
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	for {
		msg, err := c.Receive()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || c.isClosed() {
				return nil
			}
			return err
		}
		if err := h.HandleMessage(ctx, c, msg); err != nil {
			return err
		}
		from := c.Phase()
		if err := c.Commit(msg); err != nil {
			return err
		}
		if to := c.Phase(); to != from {
			if l, ok := h.(PhaseListener); ok {
				if err := l.PhaseChanged(ctx, c, from, to); err != nil {
					return err
				}
			}
		}
	}
}

// Disconnect sends the phase's disconnect message, if it has one, then
// closes the connection.
func (c *Conn) Disconnect(reason string) error {
	phase := c.Phase()
	c.log.Info().Str("phase", phase.String()).Str("reason", reason).Msg("disconnecting")
	var sendErr error
	if c.disconnect != nil {
		if msg := c.disconnect(phase, reason); msg != nil {
			sendErr = c.Send(msg)
		}
	}
	closeErr := c.Close()
	if sendErr != nil && !errors.Is(sendErr, ErrClosed) {
		return sendErr
	}
	return closeErr
}

// Close tears the transport down. It is idempotent.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.raw.Close()
		observability.ConnectionLeft(c.Phase().String())
	})
	return err
}
