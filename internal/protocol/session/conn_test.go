package session

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/mcwire/internal/protocol"
	"github.com/danmuck/mcwire/internal/protocol/frame"
	"github.com/danmuck/mcwire/internal/protocol/packets"
	"github.com/danmuck/mcwire/internal/testutil/testlog"
	"github.com/google/uuid"
)

var testCodec = protocol.NewCodec(packets.Protocol(), frame.DefaultLimits())

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.HandshakeTimeout = 2 * time.Second
	cfg.ReadTimeout = 2 * time.Second
	cfg.WriteTimeout = 2 * time.Second
	return cfg
}

func pipePair(t *testing.T) (*Conn, *Conn) {
	t.Helper()
	a, b := net.Pipe()
	server := New(a, testCodec, ServerSide, testConfig(), WithDisconnect(packets.DisconnectFor))
	client := New(b, testCodec, ClientSide, testConfig(), WithDisconnect(packets.DisconnectFor))
	t.Cleanup(func() {
		_ = server.Close()
		_ = client.Close()
	})
	return server, client
}

func advance(t *testing.T, c *Conn, msgs ...protocol.Message) {
	t.Helper()
	for _, m := range msgs {
		if err := c.Commit(m); err != nil {
			t.Fatalf("commit %s: %v", m.Type(), err)
		}
	}
}

type loginHandler struct {
	mu      sync.Mutex
	seen    []protocol.Type
	entered []protocol.Phase
}

func (h *loginHandler) HandleMessage(_ context.Context, c *Conn, msg protocol.Message) error {
	h.mu.Lock()
	h.seen = append(h.seen, msg.Type())
	h.mu.Unlock()

	switch m := msg.(type) {
	case *packets.Hello:
		return c.Send(&packets.LoginFinished{ProfileID: m.ProfileID, Name: m.Name})
	case *packets.KeepAlive:
		return c.Send(&packets.KeepAlive{ID: m.ID})
	}
	return nil
}

func (h *loginHandler) PhaseChanged(_ context.Context, c *Conn, _, to protocol.Phase) error {
	h.mu.Lock()
	h.entered = append(h.entered, to)
	h.mu.Unlock()
	if to == protocol.PhaseConfiguration {
		return c.Send(&packets.FinishConfiguration{})
	}
	return nil
}

func TestHandshakeThroughPlayOverPipe(t *testing.T) {
	testlog.Start(t)
	server, client := pipePair(t)
	h := &loginHandler{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- server.Serve(ctx, h) }()

	profile := uuid.New()
	steps := []protocol.Message{
		&packets.Intention{ProtocolVersion: packets.ProtocolVersion, Host: "localhost", Port: 25565, Intent: packets.IntentLogin},
		&packets.Hello{Name: "alex", ProfileID: profile},
	}
	for _, m := range steps {
		if err := client.Send(m); err != nil {
			t.Fatalf("send %s: %v", m.Type(), err)
		}
	}
	if client.Phase() != protocol.PhaseLogin {
		t.Fatalf("client expected login after intention, got %s", client.Phase())
	}

	msg, err := client.Receive()
	if err != nil {
		t.Fatalf("receive login finished: %v", err)
	}
	finished, ok := msg.(*packets.LoginFinished)
	if !ok || finished.ProfileID != profile || finished.Name != "alex" {
		t.Fatalf("unexpected login reply: %#v", msg)
	}

	if err := client.Send(&packets.LoginAcknowledged{}); err != nil {
		t.Fatalf("send login ack: %v", err)
	}
	if client.Phase() != protocol.PhaseConfiguration {
		t.Fatalf("client expected configuration, got %s", client.Phase())
	}
	msg, err = client.Receive()
	if err != nil {
		t.Fatalf("receive finish configuration: %v", err)
	}
	if _, ok := msg.(*packets.FinishConfiguration); !ok {
		t.Fatalf("expected finish configuration, got %#v", msg)
	}
	if err := client.Send(&packets.FinishConfigurationAck{}); err != nil {
		t.Fatalf("send finish ack: %v", err)
	}
	if client.Phase() != protocol.PhasePlay {
		t.Fatalf("client expected play, got %s", client.Phase())
	}

	// A play-phase round trip proves the server moved too.
	if err := client.Send(&packets.KeepAlive{ID: 99}); err != nil {
		t.Fatalf("send keepalive: %v", err)
	}
	msg, err = client.Receive()
	if err != nil {
		t.Fatalf("receive keepalive: %v", err)
	}
	if ka, ok := msg.(*packets.KeepAlive); !ok || ka.ID != 99 {
		t.Fatalf("unexpected keepalive reply: %#v", msg)
	}
	if server.Phase() != protocol.PhasePlay {
		t.Fatalf("server expected play, got %s", server.Phase())
	}

	_ = client.Close()
	select {
	case err := <-served:
		if err != nil {
			t.Fatalf("serve returned %v on peer close", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("serve did not return after peer close")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	wantPhases := []protocol.Phase{protocol.PhaseLogin, protocol.PhaseConfiguration, protocol.PhasePlay}
	if len(h.entered) != len(wantPhases) {
		t.Fatalf("expected phases %v, got %v", wantPhases, h.entered)
	}
	for i := range wantPhases {
		if h.entered[i] != wantPhases[i] {
			t.Fatalf("expected phases %v, got %v", wantPhases, h.entered)
		}
	}
}

func TestSendWrongPhaseIsFatal(t *testing.T) {
	testlog.Start(t)
	server, _ := pipePair(t)

	err := server.Send(&packets.LoginFinished{Name: "x"})
	if !errors.Is(err, protocol.ErrUnexpectedPhase) {
		t.Fatalf("expected unexpected phase, got %v", err)
	}
	if !protocol.IsFatal(err) {
		t.Fatalf("unexpected phase must be fatal")
	}
	if server.Phase() != protocol.PhaseHandshake {
		t.Fatalf("failed send must not move the phase")
	}
}

func TestSendDropsSkippableSerializationFailure(t *testing.T) {
	testlog.Start(t)
	server, client := pipePair(t)
	advance(t, server, &packets.Intention{Intent: packets.IntentLogin}, &packets.LoginAcknowledged{}, &packets.FinishConfigurationAck{})
	advance(t, client, &packets.Intention{Intent: packets.IntentLogin}, &packets.LoginAcknowledged{}, &packets.FinishConfigurationAck{})

	// Nothing is written for the dropped message, so this cannot block on
	// the synchronous pipe.
	if err := server.Send(&packets.SystemChat{Content: "\xff\xfe"}); err != nil {
		t.Fatalf("expected skippable failure to be dropped, got %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- server.Send(&packets.SystemChat{Content: "after"}) }()
	msg, err := client.Receive()
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if sc, ok := msg.(*packets.SystemChat); !ok || sc.Content != "after" {
		t.Fatalf("expected the next message to arrive intact, got %#v", msg)
	}
	if err := <-done; err != nil {
		t.Fatalf("send: %v", err)
	}

	err = server.Send(&packets.PlayerChat{SenderName: "\xff"})
	if !errors.Is(err, protocol.ErrSerialization) {
		t.Fatalf("expected fatal serialization error for non-skippable message, got %v", err)
	}
}

func TestServeUnknownIDThenDisconnect(t *testing.T) {
	testlog.Start(t)
	a, b := net.Pipe()
	server := New(a, testCodec, ServerSide, testConfig(), WithDisconnect(packets.DisconnectFor))
	client := New(b, testCodec, ClientSide, testConfig())
	defer server.Close()
	defer client.Close()
	advance(t, server, &packets.Intention{Intent: packets.IntentLogin})
	advance(t, client, &packets.Intention{Intent: packets.IntentLogin})

	served := make(chan error, 1)
	go func() {
		err := server.Serve(context.Background(), HandlerFunc(func(context.Context, *Conn, protocol.Message) error { return nil }))
		if err != nil {
			_ = server.Disconnect(err.Error())
		}
		served <- err
	}()

	if err := frame.WriteFrame(b, []byte{0x7f}, frame.DefaultLimits()); err != nil {
		t.Fatalf("write bogus frame: %v", err)
	}
	msg, err := client.Receive()
	if err != nil {
		t.Fatalf("receive disconnect: %v", err)
	}
	dc, ok := msg.(*packets.LoginDisconnect)
	if !ok || dc.Reason == "" {
		t.Fatalf("expected login disconnect with reason, got %#v", msg)
	}

	err = <-served
	var idErr *protocol.UnknownMessageIDError
	if !errors.As(err, &idErr) || idErr.ID != 0x7f || idErr.Phase != protocol.PhaseLogin {
		t.Fatalf("expected unknown id 0x7f in login, got %v", err)
	}
	select {
	case <-server.Done():
	default:
		t.Fatalf("server connection should be closed after disconnect")
	}
}

func TestServeRejectsOversizedFrame(t *testing.T) {
	testlog.Start(t)
	a, b := net.Pipe()
	server := New(a, testCodec, ServerSide, testConfig())
	defer server.Close()
	defer b.Close()

	served := make(chan error, 1)
	go func() {
		served <- server.Serve(context.Background(), HandlerFunc(func(context.Context, *Conn, protocol.Message) error { return nil }))
	}()

	// Length prefix announcing MaxPayloadBytes+1 with no body behind it.
	go func() { _, _ = b.Write([]byte{0x81, 0x80, 0x80, 0x04}) }()

	select {
	case err := <-served:
		if !errors.Is(err, protocol.ErrFrameTooLarge) {
			t.Fatalf("expected frame too large, got %v", err)
		}
		if !protocol.IsFatal(err) {
			t.Fatalf("frame too large must be fatal")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("serve did not reject oversized frame")
	}
}

func TestCommitRejectsIllegalTransition(t *testing.T) {
	testlog.Start(t)
	server, _ := pipePair(t)
	if err := server.Commit(&packets.FinishConfigurationAck{}); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected illegal transition, got %v", err)
	}
	if err := server.Commit(&packets.Hello{}); err != nil {
		t.Fatalf("non-transition message must commit cleanly, got %v", err)
	}
	if server.Phase() != protocol.PhaseHandshake {
		t.Fatalf("phase moved unexpectedly to %s", server.Phase())
	}
}

func TestServeStopsOnContextCancel(t *testing.T) {
	testlog.Start(t)
	server, _ := pipePair(t)
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() {
		served <- server.Serve(ctx, HandlerFunc(func(context.Context, *Conn, protocol.Message) error { return nil }))
	}()
	cancel()
	select {
	case err := <-served:
		if err != nil {
			t.Fatalf("expected nil on cancel, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("serve did not stop on cancel")
	}
	if err := server.Send(&packets.StatusResponse{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after shutdown, got %v", err)
	}
}
