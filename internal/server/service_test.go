package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/mcwire/internal/auth"
	"github.com/danmuck/mcwire/internal/client"
	"github.com/danmuck/mcwire/internal/protocol"
	"github.com/danmuck/mcwire/internal/protocol/frame"
	"github.com/danmuck/mcwire/internal/protocol/packets"
	"github.com/danmuck/mcwire/internal/protocol/session"
	"github.com/danmuck/mcwire/internal/signature"
	"github.com/danmuck/mcwire/internal/testutil/testlog"
	"github.com/google/uuid"
)

const testTimeout = 10 * time.Second

func startService(t *testing.T, cfg ServiceConfig) (*Service, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := NewServiceWithConfig(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("serve: %v", err)
			}
		case <-time.After(testTimeout):
			t.Errorf("serve did not stop")
		}
	})
	return s, ln.Addr().String()
}

func dial(t *testing.T, ctx context.Context, addr string, opts ...client.Option) *client.Client {
	t.Helper()
	c, err := client.Dial(ctx, addr, DefaultServiceConfig().Session, opts...)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func login(t *testing.T, ctx context.Context, addr, name string) *client.Client {
	t.Helper()
	c := dial(t, ctx, addr)
	if err := c.Login(ctx, name, uuid.New()); err != nil {
		t.Fatalf("login %s: %v", name, err)
	}
	if c.Phase() != protocol.PhasePlay {
		t.Fatalf("expected play phase, got %s", c.Phase())
	}
	return c
}

// nextChat skips system messages until a player chat arrives.
func nextChat(t *testing.T, ctx context.Context, c *client.Client) *packets.PlayerChat {
	t.Helper()
	for {
		msg, err := c.Next(ctx)
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if chat, ok := msg.(*packets.PlayerChat); ok {
			return chat
		}
	}
}

// waitSystem reads until a system message containing text arrives.
func waitSystem(t *testing.T, ctx context.Context, c *client.Client, text string) {
	t.Helper()
	for {
		msg, err := c.Next(ctx)
		if err != nil {
			t.Fatalf("waiting for %q: %v", text, err)
		}
		if sys, ok := msg.(*packets.SystemChat); ok && strings.Contains(sys.Content, text) {
			return
		}
	}
}

func TestStatusPing(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultServiceConfig()
	cfg.MOTD = "status test"
	cfg.MaxPlayers = 7
	_, addr := startService(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	c := dial(t, ctx, addr)
	doc, latency, err := c.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if doc.Version.Protocol != packets.ProtocolVersion || doc.Description != "status test" {
		t.Fatalf("unexpected status document %+v", doc)
	}
	if doc.Players.Max != 7 || doc.Players.Online != 0 {
		t.Fatalf("unexpected player counts %+v", doc.Players)
	}
	if latency < 0 {
		t.Fatalf("expected non-negative latency, got %s", latency)
	}
}

func TestLoginToPlayChatTrust(t *testing.T) {
	testlog.Start(t)
	s, addr := startService(t, DefaultServiceConfig())

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	alice := login(t, ctx, addr, "alice")
	waitSystem(t, ctx, alice, "alice joined")
	bob := login(t, ctx, addr, "bob")
	waitSystem(t, ctx, alice, "bob joined")
	waitSystem(t, ctx, bob, "bob joined")

	signer, err := signature.GenerateSigner()
	if err != nil {
		t.Fatalf("generate signer: %v", err)
	}
	if err := alice.StartChatSession(signer, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("chat session: %v", err)
	}

	if err := alice.Chat("hello"); err != nil {
		t.Fatalf("chat: %v", err)
	}
	got := nextChat(t, ctx, bob)
	if got.Message != "hello" || got.SenderName != "alice" || got.Trust != signature.Secure {
		t.Fatalf("unexpected chat %+v", got)
	}
	if echo := nextChat(t, ctx, alice); echo.Trust != signature.Secure {
		t.Fatalf("expected sender echo to be secure, got %s", echo.Trust)
	}

	if err := alice.Chat("second"); err != nil {
		t.Fatalf("chat: %v", err)
	}
	if got := nextChat(t, ctx, bob); got.Message != "second" || got.Trust != signature.Secure {
		t.Fatalf("expected linked chat to be secure, got %+v", got)
	}
	nextChat(t, ctx, alice)

	if err := bob.Chat("unsigned"); err != nil {
		t.Fatalf("chat: %v", err)
	}
	if got := nextChat(t, ctx, alice); got.SenderName != "bob" || got.Trust != signature.NotSecure {
		t.Fatalf("expected unsigned chat to be not secure, got %+v", got)
	}
	nextChat(t, ctx, bob)

	if _, err := alice.ChatWithPrevious("forked", signature.MessageSignature("not-a-previous-signature")); err != nil {
		t.Fatalf("chat: %v", err)
	}
	if got := nextChat(t, ctx, bob); got.Message != "forked" || got.Trust != signature.BrokenChain {
		t.Fatalf("expected forked chat to break the chain, got %+v", got)
	}
	nextChat(t, ctx, alice)

	if err := alice.Chat("after break"); err != nil {
		t.Fatalf("chat: %v", err)
	}
	if got := nextChat(t, ctx, bob); got.Trust != signature.BrokenChain {
		t.Fatalf("expected broken chain to stay broken, got %s", got.Trust)
	}

	snap, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Players) != 2 || snap.Players[0].Name != "alice" || snap.Players[1].Name != "bob" {
		t.Fatalf("unexpected players %+v", snap.Players)
	}
	if snap.Connections[protocol.PhasePlay.String()] != 2 {
		t.Fatalf("expected two play connections, got %+v", snap.Connections)
	}
	if snap.KeyringSize != 1 {
		t.Fatalf("expected alice's key in the keyring, got %d", snap.KeyringSize)
	}

	_ = bob.Close()
	waitSystem(t, ctx, alice, "bob left")
}

func TestPinnedKeyOverridesAnnouncedKey(t *testing.T) {
	testlog.Start(t)
	s, addr := startService(t, DefaultServiceConfig())

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	owner, err := signature.GenerateSigner()
	if err != nil {
		t.Fatalf("generate signer: %v", err)
	}
	forged, err := signature.GenerateSigner()
	if err != nil {
		t.Fatalf("generate signer: %v", err)
	}
	profile := uuid.New()
	if err := s.Keyring().Put(auth.PlayerKey{Player: profile, Key: owner.PublicKey(), Pinned: true}); err != nil {
		t.Fatalf("pin key: %v", err)
	}

	observer := login(t, ctx, addr, "observer")
	waitSystem(t, ctx, observer, "observer joined")

	impostor := dial(t, ctx, addr)
	if err := impostor.Login(ctx, "carol", profile); err != nil {
		t.Fatalf("impostor login: %v", err)
	}
	waitSystem(t, ctx, observer, "carol joined")
	if err := impostor.StartChatSession(forged, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("chat session: %v", err)
	}
	if err := impostor.Chat("forged"); err != nil {
		t.Fatalf("chat: %v", err)
	}
	if got := nextChat(t, ctx, observer); got.Message != "forged" || got.Trust == signature.Secure {
		t.Fatalf("chat signed by a key other than the pinned one must not be secure, got %+v", got)
	}
	if got := s.Keyring().Lookup(profile); got == nil || string(got.Marshal()) != string(owner.PublicKey().Marshal()) {
		t.Fatalf("pinned key was replaced by the announced key")
	}
	_ = impostor.Close()
	waitSystem(t, ctx, observer, "carol left")

	carol := dial(t, ctx, addr)
	if err := carol.Login(ctx, "carol", profile); err != nil {
		t.Fatalf("login: %v", err)
	}
	waitSystem(t, ctx, observer, "carol joined")
	if err := carol.StartChatSession(owner, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("chat session: %v", err)
	}
	if err := carol.Chat("genuine"); err != nil {
		t.Fatalf("chat: %v", err)
	}
	if got := nextChat(t, ctx, observer); got.Message != "genuine" || got.Trust != signature.Secure {
		t.Fatalf("chat signed by the pinned key should be secure, got %+v", got)
	}
}

func TestKeepAliveIsEchoed(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultServiceConfig()
	cfg.Session.KeepAliveInterval = 20 * time.Millisecond
	s, addr := startService(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	alice := login(t, ctx, addr, "alice")
	time.Sleep(100 * time.Millisecond)
	if err := alice.Chat("still here"); err != nil {
		t.Fatalf("chat: %v", err)
	}
	// Reading answers every keepalive queued ahead of the chat.
	nextChat(t, ctx, alice)

	deadline := time.Now().Add(5 * time.Second)
	for {
		snap, err := s.Snapshot(ctx)
		if err != nil {
			t.Fatalf("snapshot: %v", err)
		}
		if len(snap.Players) == 1 && snap.Players[0].LastKeepAlive != 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("keepalive never echoed: %+v", snap.Players)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEnforcedSecureChatWithoutKey(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultServiceConfig()
	cfg.EnforceSecureChat = true
	_, addr := startService(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	alice := login(t, ctx, addr, "alice")
	if err := alice.Chat("no key"); err != nil {
		t.Fatalf("chat: %v", err)
	}
	if got := nextChat(t, ctx, alice); got.Trust != signature.BrokenChain {
		t.Fatalf("expected enforced chat without key to be broken, got %s", got.Trust)
	}
}

func TestOutdatedClientIsDisconnected(t *testing.T) {
	testlog.Start(t)
	_, addr := startService(t, DefaultServiceConfig())

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	c := dial(t, ctx, addr, client.WithProtocolVersion(packets.ProtocolVersion-1))
	err := c.Login(ctx, "oldtimer", uuid.New())
	var discErr *client.DisconnectError
	if !errors.As(err, &discErr) || !errors.Is(err, client.ErrRejected) {
		t.Fatalf("expected login rejection, got %v", err)
	}
	if !strings.Contains(discErr.Reason, "Outdated client") {
		t.Fatalf("unexpected reason %q", discErr.Reason)
	}
}

func TestFullServerAndDuplicateLogin(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultServiceConfig()
	cfg.MaxPlayers = 1
	_, addr := startService(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	first := dial(t, ctx, addr)
	profile := uuid.New()
	if err := first.Login(ctx, "first", profile); err != nil {
		t.Fatalf("login: %v", err)
	}

	dup := dial(t, ctx, addr)
	err := dup.Login(ctx, "again", profile)
	var discErr *client.DisconnectError
	if !errors.As(err, &discErr) || discErr.Reason != "You are already logged in" {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}

	full := dial(t, ctx, addr)
	err = full.Login(ctx, "second", uuid.New())
	if !errors.As(err, &discErr) || discErr.Reason != "The server is full" {
		t.Fatalf("expected full rejection, got %v", err)
	}
}

func TestUnknownMessageDisconnectsWithReason(t *testing.T) {
	testlog.Start(t)
	_, addr := startService(t, DefaultServiceConfig())

	raw, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	cfg := session.DefaultConfig()
	conn := session.New(raw, protocol.NewCodec(packets.Protocol(), cfg.Limits), session.ClientSide, cfg)
	defer conn.Close()

	if err := conn.Send(&packets.Intention{
		ProtocolVersion: packets.ProtocolVersion,
		Host:            "localhost",
		Port:            25565,
		Intent:          packets.IntentLogin,
	}); err != nil {
		t.Fatalf("intention: %v", err)
	}
	if err := frame.WriteFrame(raw, []byte{0x7f}, cfg.Limits); err != nil {
		t.Fatalf("write unknown frame: %v", err)
	}

	msg, err := conn.Receive()
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	disc, ok := msg.(*packets.LoginDisconnect)
	if !ok {
		t.Fatalf("expected login disconnect, got %s", msg.Type())
	}
	if !strings.HasPrefix(disc.Reason, "Protocol error: ") {
		t.Fatalf("unexpected reason %q", disc.Reason)
	}
	if _, err := conn.Receive(); err == nil {
		t.Fatalf("expected the server to close the connection")
	}
}

func TestAdminRoutes(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultServiceConfig()
	cfg.AdminToken = "secret"
	s, _ := startService(t, cfg)
	router := s.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health: expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status without token: expected 401, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status with token: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var snap StatusSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if snap.ServerID != cfg.ServerID || snap.Protocol != packets.ProtocolVersion {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "mcwire_") {
		t.Fatalf("metrics: expected mcwire series, got %d", rec.Code)
	}
}

func TestServiceConfigValidate(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultServiceConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	cfg.ListenAddr = "nowhere"
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidListenAddr) {
		t.Fatalf("expected ErrInvalidListenAddr, got %v", err)
	}
	cfg = DefaultServiceConfig()
	cfg.Workers = -1
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidWorkers) {
		t.Fatalf("expected ErrInvalidWorkers, got %v", err)
	}
	if got := (ServiceConfig{}).WithDefaults(); got.MaxPlayers != 20 || got.ListenAddr != ":25565" {
		t.Fatalf("unexpected defaults %+v", got)
	}
}

func TestAdminCORS(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultServiceConfig()
	cfg.AdminCORSOrigins = []string{" http://localhost:3000/ ", ""}
	s := NewServiceWithConfig(cfg)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("expected allowed origin header, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected foreign origin to be refused, got %d", rec.Code)
	}
}
