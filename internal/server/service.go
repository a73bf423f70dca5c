// Package server runs the wire server: it accepts connections, drives each
// one through the protocol phases and relays signed chat between players.
// Shared player state lives on a single event loop; per-player work runs on
// mailboxes backed by a worker pool.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/danmuck/mcwire/internal/auth"
	"github.com/danmuck/mcwire/internal/eventloop"
	"github.com/danmuck/mcwire/internal/mailbox"
	"github.com/danmuck/mcwire/internal/observability"
	"github.com/danmuck/mcwire/internal/protocol"
	"github.com/danmuck/mcwire/internal/protocol/packets"
	"github.com/danmuck/mcwire/internal/protocol/session"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const shutdownGrace = 5 * time.Second

// Service owns the listener, the event loop and the worker pool.
type Service struct {
	cfg     ServiceConfig
	log     zerolog.Logger
	codec   *protocol.Codec
	loop    *eventloop.Loop
	pool    *mailbox.WorkerPool
	keyring *auth.Keyring
	router  *gin.Engine
	started time.Time

	connsMu     sync.Mutex
	conns       map[*session.Conn]*connHandler
	clientCount atomic.Int64

	// Owned by the event loop.
	players map[uuid.UUID]*Player
	pending map[uuid.UUID]string
}

type Option func(*Service)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) { s.log = logger }
}

// WithKeyring shares an existing keyring instead of an empty one.
func WithKeyring(k *auth.Keyring) Option {
	return func(s *Service) {
		if k != nil {
			s.keyring = k
		}
	}
}

func NewService(opts ...Option) *Service {
	return NewServiceWithConfig(DefaultServiceConfig(), opts...)
}

func NewServiceWithConfig(cfg ServiceConfig, opts ...Option) *Service {
	cfg = cfg.WithDefaults()
	s := &Service{
		cfg:     cfg,
		log:     observability.Component("server"),
		keyring: auth.NewKeyring(),
		started: time.Now(),
		conns:   make(map[*session.Conn]*connHandler),
		players: make(map[uuid.UUID]*Player),
		pending: make(map[uuid.UUID]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("server", cfg.ServerID).Logger()
	s.codec = protocol.NewCodec(packets.Protocol(), cfg.Session.Limits)
	s.loop = eventloop.New("server", eventloop.WithLogger(s.log))
	s.pool = mailbox.NewWorkerPool("players", cfg.Workers, cfg.WorkerBacklog, mailbox.WithPoolLogger(s.log))
	s.router = s.newRouter()
	return s
}

func (s *Service) Config() ServiceConfig { return s.cfg }

func (s *Service) Keyring() *auth.Keyring { return s.keyring }

// Run blocks until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := s.bootstrap(); err != nil {
		return err
	}
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}

	adminErr := make(chan error, 1)
	if strings.TrimSpace(s.cfg.AdminListenAddr) != "" {
		go func() {
			adminErr <- s.serveAdmin(ctx, s.cfg.AdminListenAddr)
		}()
	}
	if err := s.Serve(ctx, ln); err != nil {
		return err
	}
	select {
	case err := <-adminErr:
		return err
	default:
		return nil
	}
}

func (s *Service) bootstrap() error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	if path := strings.TrimSpace(s.cfg.KeyringPath); path != "" {
		n, err := s.keyring.LoadAuthorizedKeysFile(path)
		if err != nil {
			return err
		}
		s.log.Info().Str("path", path).Int("keys", n).Msg("keyring loaded")
	}
	s.log.Info().
		Str("listen", s.cfg.ListenAddr).
		Str("admin", s.cfg.AdminListenAddr).
		Int32("protocol", packets.ProtocolVersion).
		Bool("enforce_secure_chat", s.cfg.EnforceSecureChat).
		Msg("server ready")
	return nil
}

// Serve accepts connections on ln until ctx is done. It runs the event loop
// and keepalive ticker for its lifetime and closes every connection on exit.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	loopDone := make(chan error, 1)
	go func() {
		loopDone <- s.loop.Run(ctx)
	}()
	go s.keepAlive(ctx)
	go func() {
		<-ctx.Done()
		_ = ln.Close()
		s.closeAllConns()
	}()

	var wg sync.WaitGroup
	var acceptErr error
	for {
		raw, err := ln.Accept()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				acceptErr = err
			}
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConn(ctx, raw)
		}()
	}
	cancel()
	wg.Wait()
	if err := <-loopDone; err != nil && acceptErr == nil {
		acceptErr = err
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownGrace)
	defer done()
	if err := s.pool.Shutdown(shutdownCtx); err != nil {
		s.log.Warn().Err(err).Msg("worker pool shutdown incomplete")
	}
	s.log.Info().Msg("server stopped")
	return acceptErr
}

func (s *Service) handleConn(ctx context.Context, raw net.Conn) {
	conn := session.New(raw, s.codec, session.ServerSide, s.cfg.Session,
		session.WithLogger(s.log),
		session.WithDisconnect(packets.DisconnectFor),
	)
	h := newConnHandler(s)
	s.trackConn(conn, h)
	defer s.untrackConn(conn)

	count := s.clientCount.Add(1)
	conn.Logger().Debug().Str("remote", raw.RemoteAddr().String()).Int64("clients", count).Msg("client connected")
	defer func() {
		count := s.clientCount.Add(-1)
		conn.Logger().Debug().Int64("clients", count).Msg("client disconnected")
	}()

	defer h.cleanup()
	if err := conn.Serve(ctx, h); err != nil {
		conn.Logger().Warn().Err(err).Str("phase", conn.Phase().String()).Msg("connection failed")
		_ = conn.Disconnect(disconnectReason(err))
		return
	}
	_ = conn.Close()
}

func (s *Service) trackConn(c *session.Conn, h *connHandler) {
	s.connsMu.Lock()
	s.conns[c] = h
	s.connsMu.Unlock()
}

func (s *Service) untrackConn(c *session.Conn) {
	s.connsMu.Lock()
	delete(s.conns, c)
	s.connsMu.Unlock()
}

func (s *Service) closeAllConns() {
	s.connsMu.Lock()
	conns := make([]*session.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.connsMu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

// connsByPhase counts tracked connections per phase name.
func (s *Service) connsByPhase() map[string]int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	out := make(map[string]int)
	for c := range s.conns {
		out[c.Phase().String()]++
	}
	return out
}

func (s *Service) keepAlive(ctx context.Context) {
	interval := s.cfg.Session.KeepAliveInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.pingConns(now.UnixMilli())
		}
	}
}

// pingConns sends a keepalive to every connection whose phase carries one.
func (s *Service) pingConns(id int64) {
	type target struct {
		conn *session.Conn
		h    *connHandler
	}
	s.connsMu.Lock()
	targets := make([]target, 0, len(s.conns))
	for c, h := range s.conns {
		if packets.KeepAliveSupported(c.Phase()) {
			targets = append(targets, target{conn: c, h: h})
		}
	}
	s.connsMu.Unlock()
	for _, t := range targets {
		if err := t.h.ping(t.conn, id); err != nil && !errors.Is(err, session.ErrClosed) {
			t.conn.Logger().Debug().Err(err).Msg("keepalive failed")
		}
	}
}

// onLoop runs fn on the event loop and waits for it.
func (s *Service) onLoop(ctx context.Context, name string, fn func() error) error {
	select {
	case err := <-s.loop.Submit(name, fn):
		var taskErr *eventloop.TaskError
		if errors.As(err, &taskErr) && !taskErr.Panic {
			return taskErr.Err
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) serveAdmin(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("admin listening")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func disconnectReason(err error) string {
	switch {
	case errors.Is(err, ErrOutdatedClient):
		return "Outdated client! Please use protocol " + strconv.Itoa(int(packets.ProtocolVersion))
	case errors.Is(err, ErrServerFull):
		return "The server is full"
	case errors.Is(err, ErrDuplicateLogin):
		return "You are already logged in"
	case protocol.IsFatal(err):
		return "Protocol error: " + protocol.Kind(err)
	default:
		return err.Error()
	}
}
